package ratelimit

import (
	"fmt"
	"time"

	"github.com/quayside/keygate/internal/core/domain"
	"github.com/quayside/keygate/internal/core/ports"
)

// Gate composes the minute/hour/day windows for an upstream (and optionally
// a credential). First deny wins and carries the denying window's length as
// retry-after.
type Gate struct {
	limiter ports.RateLimiter
}

func NewGate(limiter ports.RateLimiter) *Gate {
	return &Gate{limiter: limiter}
}

type windowSpec struct {
	name   string
	limit  int
	window time.Duration
}

// Allow checks the upstream's configured windows. credentialID of 0 checks
// the per-upstream buckets only. Returns a *domain.RateLimitError on deny.
func (g *Gate) Allow(upstreamID, credentialID int64, policy domain.RateLimitPolicy) error {
	if !policy.Enabled {
		return nil
	}

	base := fmt.Sprintf("upstream:%d", upstreamID)
	if credentialID > 0 {
		base = fmt.Sprintf("%s:key:%d", base, credentialID)
	}

	specs := []windowSpec{
		{"minute", policy.RequestsPerMinute, time.Minute},
		{"hour", policy.RequestsPerHour, time.Hour},
		{"day", policy.RequestsPerDay, 24 * time.Hour},
	}

	for _, spec := range specs {
		if spec.limit <= 0 {
			continue
		}
		result := g.limiter.Check(fmt.Sprintf("%s:%s", base, spec.name), spec.limit, spec.window)
		if !result.Allowed {
			return &domain.RateLimitError{
				Window:        spec.name,
				Limit:         spec.limit,
				RetryAfterSec: int(spec.window / time.Second),
			}
		}
	}
	return nil
}
