package domain

import (
	"strings"
	"time"
)

// Upstream is a logical destination the gateway forwards to: a base URL plus
// the policies that govern how requests to it are dispatched and audited.
type Upstream struct {
	ID          int64  `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	BaseURL     string `db:"base_url" json:"base_url"`
	Description string `db:"description" json:"description,omitempty"`

	Timeout            int `db:"timeout" json:"timeout"`
	RetryCount         int `db:"retry_count" json:"retry_count"`
	ConnectionPoolSize int `db:"connection_pool_size" json:"connection_pool_size"`

	LogRequestBody  bool `db:"log_request_body" json:"log_request_body"`
	LogResponseBody bool `db:"log_response_body" json:"log_response_body"`

	// RateLimit and Tags are stored as JSON columns.
	RateLimit RateLimitPolicy `db:"-" json:"rate_limit"`
	Tags      []string        `db:"-" json:"tags"`

	Enabled   bool      `db:"is_enabled" json:"is_enabled"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// RateLimitPolicy is the per-upstream sliding window configuration. All
// windows are consulted on every request; the first exhausted window denies.
type RateLimitPolicy struct {
	Enabled           bool `json:"enabled"`
	RequestsPerMinute int  `json:"requests_per_minute"`
	RequestsPerHour   int  `json:"requests_per_hour"`
	RequestsPerDay    int  `json:"requests_per_day"`
}

// RequestTimeout returns the dispatch deadline for a single outbound attempt.
func (u *Upstream) RequestTimeout() time.Duration {
	if u.Timeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(u.Timeout) * time.Second
}

// JoinPath composes the outbound URL path against the upstream base URL.
func (u *Upstream) JoinPath(remainder string) string {
	base := strings.TrimRight(u.BaseURL, "/")
	if remainder == "" {
		return base
	}
	return base + "/" + strings.TrimLeft(remainder, "/")
}
