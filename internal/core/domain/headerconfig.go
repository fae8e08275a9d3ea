package domain

import "time"

// HeaderValueKind selects how a header value is produced.
type HeaderValueKind string

const (
	HeaderStatic     HeaderValueKind = "static"
	HeaderJavaScript HeaderValueKind = "javascript"
	HeaderPython     HeaderValueKind = "python"
)

// FallbackStrategy is what the assembler does when a scripted header fails.
type FallbackStrategy string

const (
	FallbackUseDefault FallbackStrategy = "use_default"
	FallbackUseValue   FallbackStrategy = "use_value"
	FallbackFail       FallbackStrategy = "fail"
)

// HeaderConfig produces one outbound header, either from a static value or by
// evaluating a script. Configs are applied in ascending priority order, so a
// higher priority config overwrites a lower one on the same header name.
type HeaderConfig struct {
	ID         int64 `db:"id" json:"id"`
	UpstreamID int64 `db:"upstream_id" json:"upstream_id"`

	HeaderName string          `db:"header_name" json:"header_name"`
	Kind       HeaderValueKind `db:"value_type" json:"value_type"`

	StaticValue   string `db:"static_value" json:"static_value,omitempty"`
	ScriptContent string `db:"script_content" json:"script_content,omitempty"`

	Priority  int `db:"priority" json:"priority"`
	TimeoutMs int `db:"timeout_ms" json:"timeout_ms"`

	Fallback      FallbackStrategy `db:"fallback_strategy" json:"fallback_strategy"`
	FallbackValue string           `db:"fallback_value" json:"fallback_value,omitempty"`

	Enabled   bool      `db:"is_enabled" json:"is_enabled"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Scripted reports whether the value comes from a script evaluation.
func (h *HeaderConfig) Scripted() bool {
	return h.Kind == HeaderJavaScript || h.Kind == HeaderPython
}

// Timeout returns the per-evaluation deadline, clamped to ceiling when the
// config asks for more than the operator allows.
func (h *HeaderConfig) Timeout(ceiling time.Duration) time.Duration {
	timeout := time.Duration(h.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Second
	}
	if ceiling > 0 && timeout > ceiling {
		return ceiling
	}
	return timeout
}
