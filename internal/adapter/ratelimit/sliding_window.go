// Package ratelimit implements the in-memory sliding-window limiter the
// proxy consults before selecting a credential. State is process-local;
// every hard invariant lives in the store, so losing counters on restart
// only briefly over-admits.
package ratelimit

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/quayside/keygate/internal/core/ports"
	"github.com/quayside/keygate/internal/logger"
)

const defaultSweepInterval = time.Hour

type bucket struct {
	mu         sync.Mutex
	admissions []time.Time
	lastAccess time.Time

	// dead marks a bucket the sweep removed from the map. A checker that
	// loaded the pointer before the removal must not record into it.
	dead bool
}

// SlidingWindow counts admission timestamps per bucket key and admits while
// the surviving count within the window stays under the limit.
type SlidingWindow struct {
	buckets     *xsync.Map[string, *bucket]
	logger      *logger.StyledLogger
	sweepTicker *time.Ticker
	stopSweep   chan struct{}
	stopOnce    sync.Once
	now         func() time.Time
}

func NewSlidingWindow(log *logger.StyledLogger) *SlidingWindow {
	sw := &SlidingWindow{
		buckets:     xsync.NewMap[string, *bucket](),
		logger:      log,
		sweepTicker: time.NewTicker(defaultSweepInterval),
		stopSweep:   make(chan struct{}),
		now:         time.Now,
	}
	go sw.sweepRoutine()
	return sw
}

// Check applies one sliding-window decision. A denied check records nothing,
// so bucket size is unchanged on deny.
func (sw *SlidingWindow) Check(key string, limit int, window time.Duration) ports.RateLimitResult {
	now := sw.now()

	var b *bucket
	for {
		b, _ = sw.buckets.LoadOrStore(key, &bucket{})
		b.mu.Lock()
		if !b.dead {
			break
		}
		b.mu.Unlock()
	}
	defer b.mu.Unlock()

	b.lastAccess = now
	cutoff := now.Add(-window)

	// Drop timestamps that fell out of the window.
	survivors := b.admissions[:0]
	for _, t := range b.admissions {
		if t.After(cutoff) {
			survivors = append(survivors, t)
		}
	}
	b.admissions = survivors

	current := len(b.admissions)
	allowed := current < limit
	if allowed {
		b.admissions = append(b.admissions, now)
		current++
	}

	remaining := limit - current
	if remaining < 0 {
		remaining = 0
	}

	return ports.RateLimitResult{
		Allowed:   allowed,
		Current:   current,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   now.Add(window),
	}
}

func (sw *SlidingWindow) sweepRoutine() {
	for {
		select {
		case <-sw.stopSweep:
			return
		case <-sw.sweepTicker.C:
			sw.sweep()
		}
	}
}

// sweep drops buckets whose newest admission is older than the largest
// window we compose (a day), bounding memory across idle upstreams.
func (sw *SlidingWindow) sweep() {
	cutoff := sw.now().Add(-24 * time.Hour)
	dropped := 0

	sw.buckets.Range(func(key string, _ *bucket) bool {
		sw.buckets.Compute(key, func(b *bucket, loaded bool) (*bucket, xsync.ComputeOp) {
			if !loaded {
				return nil, xsync.CancelOp
			}
			b.mu.Lock()
			defer b.mu.Unlock()
			if len(b.admissions) == 0 || b.lastAccess.Before(cutoff) {
				// Marked under the bucket lock before removal, so an
				// in-flight Check retries against a live bucket.
				b.dead = true
				dropped++
				return nil, xsync.DeleteOp
			}
			return b, xsync.CancelOp
		})
		return true
	})

	if dropped > 0 && sw.logger != nil {
		sw.logger.Debug("rate limiter sweep", "dropped_buckets", dropped, "active_buckets", sw.buckets.Size())
	}
}

func (sw *SlidingWindow) Stop() {
	sw.stopOnce.Do(func() {
		sw.sweepTicker.Stop()
		close(sw.stopSweep)
	})
}
