package ratelimit

import (
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/quayside/keygate/internal/logger"
)

func newTestLimiter(t *testing.T) *SlidingWindow {
	t.Helper()
	sw := NewSlidingWindow(logger.NewPlain(slog.Default()))
	t.Cleanup(sw.Stop)
	return sw
}

func TestSlidingWindow_AdmitsUpToLimit(t *testing.T) {
	sw := newTestLimiter(t)

	for i := 0; i < 5; i++ {
		result := sw.Check("upstream:1:minute", 5, time.Minute)
		if !result.Allowed {
			t.Fatalf("request %d should have been admitted", i+1)
		}
	}

	result := sw.Check("upstream:1:minute", 5, time.Minute)
	if result.Allowed {
		t.Error("sixth request should have been denied")
	}
	if result.Current != 5 {
		t.Errorf("expected current 5, got %d", result.Current)
	}
	if result.Remaining != 0 {
		t.Errorf("expected remaining 0, got %d", result.Remaining)
	}
}

func TestSlidingWindow_DenyDoesNotGrowBucket(t *testing.T) {
	sw := newTestLimiter(t)

	base := time.Now()
	sw.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		sw.Check("k", 3, time.Minute)
	}
	// Hammer denied checks; none may record an admission.
	for i := 0; i < 50; i++ {
		if result := sw.Check("k", 3, time.Minute); result.Allowed {
			t.Fatal("check should have been denied")
		}
	}

	// Step past the window: the original 3 admissions expire and the bucket
	// must admit again. Denied checks recording timestamps would keep it full.
	sw.now = func() time.Time { return base.Add(61 * time.Second) }
	if result := sw.Check("k", 3, time.Minute); !result.Allowed {
		t.Error("expected admission after window expiry")
	}
}

func TestSlidingWindow_WindowSlides(t *testing.T) {
	sw := newTestLimiter(t)

	base := time.Now()
	current := base
	sw.now = func() time.Time { return current }

	sw.Check("k", 2, time.Minute)
	current = base.Add(30 * time.Second)
	sw.Check("k", 2, time.Minute)

	if result := sw.Check("k", 2, time.Minute); result.Allowed {
		t.Fatal("expected denial at limit")
	}

	// 31s later the first admission has aged out but the second has not.
	current = base.Add(61 * time.Second)
	if result := sw.Check("k", 2, time.Minute); !result.Allowed {
		t.Error("expected admission after first timestamp aged out")
	}
	if result := sw.Check("k", 2, time.Minute); result.Allowed {
		t.Error("expected denial, window still holds two admissions")
	}
}

func TestSlidingWindow_KeysAreIndependent(t *testing.T) {
	sw := newTestLimiter(t)

	sw.Check("upstream:1:minute", 1, time.Minute)
	if result := sw.Check("upstream:1:minute", 1, time.Minute); result.Allowed {
		t.Fatal("expected denial on exhausted key")
	}
	if result := sw.Check("upstream:2:minute", 1, time.Minute); !result.Allowed {
		t.Error("separate key should have its own budget")
	}
}

func TestSlidingWindow_ConcurrentChecksNeverOverAdmit(t *testing.T) {
	sw := newTestLimiter(t)

	const limit = 50
	const attempts = 200

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sw.Check("shared", limit, time.Minute).Allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != limit {
		t.Errorf("expected exactly %d admissions, got %d", limit, admitted)
	}
}

func TestSlidingWindow_SweepDropsIdleBuckets(t *testing.T) {
	sw := newTestLimiter(t)

	base := time.Now()
	sw.now = func() time.Time { return base }

	for i := 0; i < 10; i++ {
		sw.Check(fmt.Sprintf("key-%d", i), 5, time.Minute)
	}
	if sw.buckets.Size() != 10 {
		t.Fatalf("expected 10 buckets, got %d", sw.buckets.Size())
	}

	sw.now = func() time.Time { return base.Add(25 * time.Hour) }
	sw.sweep()

	if sw.buckets.Size() != 0 {
		t.Errorf("expected all buckets swept, %d remain", sw.buckets.Size())
	}
}

func TestSlidingWindow_SweptBucketIsNeverRecordedInto(t *testing.T) {
	sw := newTestLimiter(t)

	base := time.Now()
	sw.now = func() time.Time { return base }
	sw.Check("k", 5, time.Minute)

	// Hold the pointer a concurrent Check would have loaded, then sweep the
	// bucket out from under it.
	stale, ok := sw.buckets.Load("k")
	if !ok {
		t.Fatal("expected bucket for k")
	}
	sw.now = func() time.Time { return base.Add(25 * time.Hour) }
	sw.sweep()

	stale.mu.Lock()
	dead := stale.dead
	stale.mu.Unlock()
	if !dead {
		t.Fatal("swept bucket must be marked dead so a holder retries")
	}

	// A fresh check lands in a live replacement bucket, not the orphan.
	if result := sw.Check("k", 5, time.Minute); !result.Allowed {
		t.Fatal("expected admission into fresh bucket")
	}
	live, ok := sw.buckets.Load("k")
	if !ok {
		t.Fatal("expected replacement bucket for k")
	}
	if live == stale {
		t.Error("check must not resurrect the swept bucket")
	}
	live.mu.Lock()
	count := len(live.admissions)
	live.mu.Unlock()
	if count != 1 {
		t.Errorf("expected 1 admission in live bucket, got %d", count)
	}
}
