package domain

import "time"

// CredentialStatus is the lifecycle state of a credential.
type CredentialStatus string

const (
	CredentialActive   CredentialStatus = "active"
	CredentialDisabled CredentialStatus = "disabled"
	CredentialBanned   CredentialStatus = "banned"
)

// CredentialPlacement says where the secret is injected on the outbound request.
type CredentialPlacement string

const (
	PlacementHeader CredentialPlacement = "header"
	PlacementQuery  CredentialPlacement = "query"
	PlacementBody   CredentialPlacement = "body"
)

// Credential is a secret used to authenticate outbound requests to an
// upstream. Quota accounting and lifecycle transitions are persisted; the
// authoritative quota check is the compare-and-set increment in the store.
type Credential struct {
	ID         int64  `db:"id" json:"id"`
	UpstreamID int64  `db:"upstream_id" json:"upstream_id"`
	Name       string `db:"name" json:"name,omitempty"`
	Secret     string `db:"key_value" json:"key_value,omitempty"`

	Placement   CredentialPlacement `db:"location" json:"location"`
	ParamName   string              `db:"param_name" json:"param_name"`
	ValuePrefix string              `db:"value_prefix" json:"value_prefix"`

	Status CredentialStatus `db:"status" json:"status"`

	QuotaEnabled bool       `db:"enable_quota" json:"enable_quota"`
	QuotaTotal   int64      `db:"quota_total" json:"quota_total"`
	QuotaUsed    int64      `db:"quota_used" json:"quota_used"`
	QuotaResetAt *time.Time `db:"quota_reset_at" json:"quota_reset_at,omitempty"`

	AutoDisableOnFailure bool       `db:"auto_disable_on_failure" json:"auto_disable_on_failure"`
	AutoEnableDelayHours int        `db:"auto_enable_delay_hours" json:"auto_enable_delay_hours,omitempty"`
	AutoEnableAt         *time.Time `db:"auto_enable_at" json:"auto_enable_at,omitempty"`

	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// InjectedValue is the full secret as placed on the wire, prefix included.
func (c *Credential) InjectedValue() string {
	return c.ValuePrefix + c.Secret
}

// Eligible reports whether the credential may be selected for a request:
// active, and either quota disabled, not yet exhausted, or due for reset.
func (c *Credential) Eligible(now time.Time) bool {
	if c.Status != CredentialActive {
		return false
	}
	if !c.QuotaEnabled || c.QuotaTotal <= 0 {
		return true
	}
	if c.QuotaUsed < c.QuotaTotal {
		return true
	}
	return c.QuotaResetAt != nil && !now.Before(*c.QuotaResetAt)
}

// QuotaRemaining is the headroom left before the quota exhausts. Returns 0
// when quota is disabled or already spent.
func (c *Credential) QuotaRemaining() int64 {
	if !c.QuotaEnabled || c.QuotaTotal <= 0 {
		return 0
	}
	if remaining := c.QuotaTotal - c.QuotaUsed; remaining > 0 {
		return remaining
	}
	return 0
}

// Masked returns a copy safe to return from the admin API: the secret is
// reduced to its first and last four characters.
func (c Credential) Masked() Credential {
	if len(c.Secret) > 8 {
		c.Secret = c.Secret[:4] + "..." + c.Secret[len(c.Secret)-4:]
	} else if c.Secret != "" {
		c.Secret = "..."
	}
	return c
}
