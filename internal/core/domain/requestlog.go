package domain

import "time"

// RequestLog is the append-only audit record for one outbound attempt.
// Rows are immutable after commit.
type RequestLog struct {
	ID           int64  `db:"id" json:"id"`
	UpstreamID   int64  `db:"upstream_id" json:"upstream_id"`
	CredentialID *int64 `db:"api_key_id" json:"api_key_id,omitempty"`

	Method string `db:"method" json:"method"`
	Path   string `db:"path" json:"path"`

	// Header and body captures are gated by the upstream's log flags and
	// stored as JSON/text columns.
	RequestHeaders  map[string]string `db:"-" json:"request_headers,omitempty"`
	RequestBody     string            `db:"request_body" json:"request_body,omitempty"`
	ResponseHeaders map[string]string `db:"-" json:"response_headers,omitempty"`
	ResponseBody    string            `db:"response_body" json:"response_body,omitempty"`

	StatusCode *int  `db:"status_code" json:"status_code,omitempty"`
	LatencyMs  int64 `db:"latency_ms" json:"latency_ms"`

	ClientIP     string `db:"client_ip" json:"client_ip,omitempty"`
	ErrorMessage string `db:"error_message" json:"error_message,omitempty"`

	TriggeredRules []int64 `db:"-" json:"triggered_rules"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AdminUser is an operator account for the admin surface.
type AdminUser struct {
	ID             int64     `db:"id" json:"id"`
	Username       string    `db:"username" json:"username"`
	HashedPassword string    `db:"hashed_password" json:"-"`
	Active         bool      `db:"is_active" json:"is_active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
