package ports

import (
	"context"
	"net/http"
	"time"

	"github.com/quayside/keygate/internal/core/domain"
)

// RateLimitResult is the outcome of one sliding-window check.
type RateLimitResult struct {
	Allowed   bool
	Current   int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimiter is the in-memory sliding-window counter. A denied check must
// not record an admission.
type RateLimiter interface {
	Check(key string, limit int, window time.Duration) RateLimitResult
	Stop()
}

// ScriptContext is the read-only view a header script evaluates against.
type ScriptContext struct {
	Timestamp string            `json:"timestamp"`
	Method    string            `json:"method"`
	Path      string            `json:"path"`
	Headers   map[string]string `json:"headers"`
}

// ScriptHost evaluates a header-producing expression with a hard wall-clock
// timeout. Failures come back as *domain.ScriptError.
type ScriptHost interface {
	Execute(ctx context.Context, kind domain.HeaderValueKind, source string, sctx ScriptContext, timeout time.Duration) (string, error)
}

// HeaderAssembler builds the outbound header map and injects the credential.
type HeaderAssembler interface {
	Assemble(ctx context.Context, upstream *domain.Upstream, inbound http.Header, cred *domain.Credential, method, path string) (http.Header, error)
}

// CredentialSelector picks an eligible credential for an upstream.
type CredentialSelector interface {
	Select(ctx context.Context, upstreamID int64, strategy string) (*domain.Credential, error)
	// IncrementUsage charges the credential after a forwarded attempt and
	// applies quota-exhaustion auto-disable.
	IncrementUsage(ctx context.Context, credentialID int64) error
}

// RuleEngine evaluates the upstream's enabled rules against a response and
// executes the actions of every rule that fires. Returns fired rule IDs.
type RuleEngine interface {
	Evaluate(ctx context.Context, upstreamID, credentialID int64, resp *domain.UpstreamResponse) []int64
}

// AuditLogger appends request/response audit records, best effort.
type AuditLogger interface {
	Log(ctx context.Context, entry *domain.RequestLog)
}

// NotificationEvent identifies a notifier event type.
type NotificationEvent string

const (
	EventCredentialDisabled NotificationEvent = "credential_disabled"
	EventCredentialBanned   NotificationEvent = "credential_banned"
	EventQuotaExceeded      NotificationEvent = "quota_exceeded"
	EventRateLimitExceeded  NotificationEvent = "rate_limit_exceeded"
	EventRuleAlert          NotificationEvent = "rule_alert"
)

// Notifier delivers lifecycle events to the operator channel.
type Notifier interface {
	Send(ctx context.Context, event NotificationEvent, payload map[string]interface{})
}
