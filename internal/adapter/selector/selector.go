// Package selector chooses a credential from an upstream's eligible pool.
// Strategies mirror load-balancer selection: round robin, random, weighted
// by remaining quota.
package selector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/quayside/keygate/internal/core/domain"
	"github.com/quayside/keygate/internal/core/ports"
	"github.com/quayside/keygate/internal/logger"
)

const (
	StrategyRoundRobin = "round_robin"
	StrategyRandom     = "random"
	StrategyWeighted   = "weighted"
)

type cursor struct {
	mu   sync.Mutex
	next uint64
}

type Selector struct {
	store    ports.CredentialStore
	notifier ports.Notifier
	logger   *logger.StyledLogger
	cursors  *xsync.Map[int64, *cursor]
	now      func() time.Time
}

func New(store ports.CredentialStore, notifier ports.Notifier, log *logger.StyledLogger) *Selector {
	return &Selector{
		store:    store,
		notifier: notifier,
		logger:   log,
		cursors:  xsync.NewMap[int64, *cursor](),
		now:      time.Now,
	}
}

// Select returns an eligible credential for the upstream, or
// domain.ErrNoCredential when the pool is empty. The eligible-set snapshot
// and cursor advance happen under the per-upstream lock so concurrent
// selects never skip or double-use a cursor position.
func (s *Selector) Select(ctx context.Context, upstreamID int64, strategy string) (*domain.Credential, error) {
	active, err := s.store.ListActiveCredentials(ctx, upstreamID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}

	now := s.now()
	eligible := make([]*domain.Credential, 0, len(active))
	for _, cred := range active {
		if cred.Eligible(now) {
			eligible = append(eligible, cred)
		}
	}

	if len(eligible) == 0 {
		return nil, domain.ErrNoCredential
	}

	switch strategy {
	case StrategyRandom:
		return pickRandom(eligible), nil
	case StrategyWeighted:
		return pickWeighted(eligible), nil
	case StrategyRoundRobin, "":
		fallthrough
	default:
		return s.pickRoundRobin(upstreamID, eligible), nil
	}
}

func (s *Selector) pickRoundRobin(upstreamID int64, eligible []*domain.Credential) *domain.Credential {
	c, _ := s.cursors.LoadOrStore(upstreamID, &cursor{})

	c.mu.Lock()
	index := c.next % uint64(len(eligible))
	c.next++
	c.mu.Unlock()

	// The pool is ID-ordered, so a stable pool visits each credential once
	// per N selects.
	return eligible[index]
}

// IncrementUsage charges the credential after a forwarded attempt. The store
// applies the compare-and-set increment; when that crosses the quota total
// the credential is auto-disabled if it opts in.
func (s *Selector) IncrementUsage(ctx context.Context, credentialID int64) error {
	now := s.now()
	cred, admitted, err := s.store.IncrementCredentialUsage(ctx, credentialID, now)
	if err != nil {
		return fmt.Errorf("increment usage for credential %d: %w", credentialID, err)
	}

	if !cred.QuotaEnabled || cred.QuotaTotal <= 0 {
		return nil
	}

	exhausted := cred.QuotaUsed >= cred.QuotaTotal
	if !exhausted {
		return nil
	}

	if !admitted {
		// Lost the CAS race after the quota was spent; the winner already
		// handled exhaustion.
		return nil
	}

	if cred.AutoDisableOnFailure && cred.Status == domain.CredentialActive {
		var autoEnableAt *time.Time
		if cred.AutoEnableDelayHours > 0 {
			at := now.Add(time.Duration(cred.AutoEnableDelayHours) * time.Hour)
			autoEnableAt = &at
		}
		if err := s.store.SetCredentialStatus(ctx, cred.ID, domain.CredentialDisabled, autoEnableAt); err != nil {
			return fmt.Errorf("auto-disable credential %d: %w", cred.ID, err)
		}

		s.logger.WarnWithUpstream("credential quota exhausted, auto-disabled",
			fmt.Sprintf("upstream:%d", cred.UpstreamID),
			"credential_id", cred.ID,
			"quota_total", cred.QuotaTotal)

		if s.notifier != nil {
			s.notifier.Send(ctx, ports.EventQuotaExceeded, map[string]interface{}{
				"upstream_id":   cred.UpstreamID,
				"credential_id": cred.ID,
				"quota_total":   cred.QuotaTotal,
				"message":       fmt.Sprintf("credential %d exhausted its quota of %d and was disabled", cred.ID, cred.QuotaTotal),
			})
		}
	}

	return nil
}
