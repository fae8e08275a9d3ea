package ports

import (
	"context"
	"time"

	"github.com/quayside/keygate/internal/core/domain"
)

// Store is the typed persistence surface. Implementations must be safe for
// concurrent callers; multi-row mutations run inside transactions.
type Store interface {
	UpstreamStore
	CredentialStore
	HeaderConfigStore
	RuleStore
	RequestLogStore
	AdminStore

	// Ping verifies connectivity.
	Ping(ctx context.Context) error
	Close() error
}

type UpstreamStore interface {
	CreateUpstream(ctx context.Context, u *domain.Upstream) error
	GetUpstream(ctx context.Context, id int64) (*domain.Upstream, error)
	GetUpstreamByName(ctx context.Context, name string) (*domain.Upstream, error)
	ListUpstreams(ctx context.Context) ([]*domain.Upstream, error)
	UpdateUpstream(ctx context.Context, u *domain.Upstream) error
	// DeleteUpstream removes the upstream and, via FK cascade, its
	// credentials, header configs, rules and logs.
	DeleteUpstream(ctx context.Context, id int64) error
}

type CredentialStore interface {
	CreateCredential(ctx context.Context, c *domain.Credential) error
	GetCredential(ctx context.Context, id int64) (*domain.Credential, error)
	ListCredentials(ctx context.Context, upstreamID int64) ([]*domain.Credential, error)
	// ListActiveCredentials returns status=active credentials ordered by ID.
	ListActiveCredentials(ctx context.Context, upstreamID int64) ([]*domain.Credential, error)
	UpdateCredential(ctx context.Context, c *domain.Credential) error
	DeleteCredential(ctx context.Context, id int64) error

	// IncrementCredentialUsage applies the compare-and-set quota increment
	// and stamps last_used_at. Returns the updated row and whether the
	// increment was admitted (false means the quota was already spent).
	IncrementCredentialUsage(ctx context.Context, id int64, now time.Time) (*domain.Credential, bool, error)
	// SetCredentialStatus transitions status and auto_enable_at in one
	// statement.
	SetCredentialStatus(ctx context.Context, id int64, status domain.CredentialStatus, autoEnableAt *time.Time) error

	// Reconciler sweeps. Each runs in its own transaction and returns the
	// number of rows touched.
	ResetDueQuotas(ctx context.Context, now time.Time) (int64, error)
	EnableDueCredentials(ctx context.Context, now time.Time) (int64, error)
}

type HeaderConfigStore interface {
	CreateHeaderConfig(ctx context.Context, h *domain.HeaderConfig) error
	GetHeaderConfig(ctx context.Context, id int64) (*domain.HeaderConfig, error)
	ListHeaderConfigs(ctx context.Context, upstreamID int64) ([]*domain.HeaderConfig, error)
	// ListEnabledHeaderConfigs returns enabled configs in ascending priority
	// order, ready for the assembler.
	ListEnabledHeaderConfigs(ctx context.Context, upstreamID int64) ([]*domain.HeaderConfig, error)
	UpdateHeaderConfig(ctx context.Context, h *domain.HeaderConfig) error
	DeleteHeaderConfig(ctx context.Context, id int64) error
}

type RuleStore interface {
	CreateRule(ctx context.Context, r *domain.Rule) error
	GetRule(ctx context.Context, id int64) (*domain.Rule, error)
	ListRules(ctx context.Context, upstreamID int64) ([]*domain.Rule, error)
	// ListEnabledRules returns enabled rules ordered by descending priority.
	ListEnabledRules(ctx context.Context, upstreamID int64) ([]*domain.Rule, error)
	UpdateRule(ctx context.Context, r *domain.Rule) error
	DeleteRule(ctx context.Context, id int64) error
}

// RequestLogFilter narrows a log listing.
type RequestLogFilter struct {
	UpstreamID   int64
	CredentialID int64
	StatusCode   int
	ErrorsOnly   bool
	Limit        int
	Offset       int
}

type RequestLogStore interface {
	InsertRequestLog(ctx context.Context, l *domain.RequestLog) error
	ListRequestLogs(ctx context.Context, filter RequestLogFilter) ([]*domain.RequestLog, int64, error)
	// PruneRequestLogs deletes rows older than cutoff and returns the count.
	PruneRequestLogs(ctx context.Context, cutoff time.Time) (int64, error)
}

type AdminStore interface {
	GetAdminByUsername(ctx context.Context, username string) (*domain.AdminUser, error)
	CreateAdmin(ctx context.Context, a *domain.AdminUser) error
}
