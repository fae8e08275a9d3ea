package ratelimit

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/quayside/keygate/internal/core/domain"
	"github.com/quayside/keygate/internal/logger"
)

func TestGate_DisabledPolicyAlwaysAllows(t *testing.T) {
	sw := NewSlidingWindow(logger.NewPlain(slog.Default()))
	defer sw.Stop()
	gate := NewGate(sw)

	policy := domain.RateLimitPolicy{Enabled: false, RequestsPerMinute: 1}
	for i := 0; i < 10; i++ {
		if err := gate.Allow(1, 0, policy); err != nil {
			t.Fatalf("disabled policy should never deny: %v", err)
		}
	}
}

func TestGate_MinuteWindowDenies(t *testing.T) {
	sw := NewSlidingWindow(logger.NewPlain(slog.Default()))
	defer sw.Stop()
	gate := NewGate(sw)

	policy := domain.RateLimitPolicy{Enabled: true, RequestsPerMinute: 2}

	if err := gate.Allow(1, 0, policy); err != nil {
		t.Fatalf("unexpected deny: %v", err)
	}
	if err := gate.Allow(1, 0, policy); err != nil {
		t.Fatalf("unexpected deny: %v", err)
	}

	err := gate.Allow(1, 0, policy)
	if err == nil {
		t.Fatal("expected deny on third request")
	}
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}

	var rle *domain.RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("expected *domain.RateLimitError, got %T", err)
	}
	if rle.Window != "minute" {
		t.Errorf("expected minute window, got %q", rle.Window)
	}
	if rle.RetryAfterSec != 60 {
		t.Errorf("expected retry-after 60, got %d", rle.RetryAfterSec)
	}
}

func TestGate_CredentialBucketsAreSeparate(t *testing.T) {
	sw := NewSlidingWindow(logger.NewPlain(slog.Default()))
	defer sw.Stop()
	gate := NewGate(sw)

	policy := domain.RateLimitPolicy{Enabled: true, RequestsPerMinute: 1}

	if err := gate.Allow(1, 10, policy); err != nil {
		t.Fatalf("unexpected deny: %v", err)
	}
	// Same upstream, different credential: own bucket.
	if err := gate.Allow(1, 11, policy); err != nil {
		t.Fatalf("unexpected deny for second credential: %v", err)
	}
	if err := gate.Allow(1, 10, policy); err == nil {
		t.Error("expected deny for exhausted credential bucket")
	}
}

func TestGate_ZeroLimitWindowIsSkipped(t *testing.T) {
	sw := NewSlidingWindow(logger.NewPlain(slog.Default()))
	defer sw.Stop()
	gate := NewGate(sw)

	// Only the hour window is configured; minute/day limits of zero are
	// unlimited, not instant denial.
	policy := domain.RateLimitPolicy{Enabled: true, RequestsPerHour: 1}

	if err := gate.Allow(1, 0, policy); err != nil {
		t.Fatalf("unexpected deny: %v", err)
	}
	err := gate.Allow(1, 0, policy)
	var rle *domain.RateLimitError
	if !errors.As(err, &rle) || rle.Window != "hour" {
		t.Errorf("expected hour window denial, got %v", err)
	}
}
