// Package reconcile runs the background maintenance loop: daily quota
// resets at midnight, periodic auto-enable sweeps, and nightly audit log
// pruning.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/quayside/keygate/internal/logger"
)

// Store is the slice of persistence the maintenance loop touches.
type Store interface {
	ResetDueQuotas(ctx context.Context, now time.Time) (int64, error)
	EnableDueCredentials(ctx context.Context, now time.Time) (int64, error)
	PruneRequestLogs(ctx context.Context, cutoff time.Time) (int64, error)
}

const (
	tickInterval              = time.Minute
	defaultAutoEnableInterval = 10 * time.Minute
	pruneHour                 = 2
	taskTimeout               = time.Minute
)

type Reconciler struct {
	store              Store
	logger             *logger.StyledLogger
	autoEnableInterval time.Duration
	retentionDays      int
	now                func() time.Time

	lastQuotaResetDay string
	lastPruneDay      string
	lastAutoEnable    time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func New(store Store, log *logger.StyledLogger, autoEnableInterval time.Duration, retentionDays int) *Reconciler {
	if autoEnableInterval <= 0 {
		autoEnableInterval = defaultAutoEnableInterval
	}
	return &Reconciler{
		store:              store,
		logger:             log,
		autoEnableInterval: autoEnableInterval,
		retentionDays:      retentionDays,
		now:                time.Now,
		stopCh:             make(chan struct{}),
		doneCh:             make(chan struct{}),
	}
}

// Start launches the maintenance loop. An auto-enable sweep runs immediately
// so credentials due while the process was down recover on boot.
func (r *Reconciler) Start(ctx context.Context) {
	go r.run(ctx)
}

func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.doneCh
}

func (r *Reconciler) run(ctx context.Context) {
	defer close(r.doneCh)

	r.runAutoEnable(ctx)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// tick dispatches whichever tasks are due at this minute.
func (r *Reconciler) tick(ctx context.Context) {
	now := r.now()
	day := now.Format("2006-01-02")

	if now.Hour() == 0 && r.lastQuotaResetDay != day {
		r.lastQuotaResetDay = day
		r.runQuotaReset(ctx)
	}

	if now.Sub(r.lastAutoEnable) >= r.autoEnableInterval {
		r.runAutoEnable(ctx)
	}

	if r.retentionDays > 0 && now.Hour() == pruneHour && r.lastPruneDay != day {
		r.lastPruneDay = day
		r.runPrune(ctx)
	}
}

func (r *Reconciler) runQuotaReset(ctx context.Context) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), taskTimeout)
	defer cancel()

	count, err := r.store.ResetDueQuotas(tctx, r.now())
	if err != nil {
		r.logger.Error("quota reset sweep failed", "error", err)
		return
	}
	if count > 0 {
		r.logger.InfoWithCount("quota reset sweep complete", count)
	}
}

func (r *Reconciler) runAutoEnable(ctx context.Context) {
	r.lastAutoEnable = r.now()

	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), taskTimeout)
	defer cancel()

	count, err := r.store.EnableDueCredentials(tctx, r.now())
	if err != nil {
		r.logger.Error("auto-enable sweep failed", "error", err)
		return
	}
	if count > 0 {
		r.logger.InfoWithCount("auto-enable sweep complete", count)
	}
}

func (r *Reconciler) runPrune(ctx context.Context) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), taskTimeout)
	defer cancel()

	cutoff := r.now().AddDate(0, 0, -r.retentionDays)
	count, err := r.store.PruneRequestLogs(tctx, cutoff)
	if err != nil {
		r.logger.Error("request log prune failed", "error", err)
		return
	}
	if count > 0 {
		r.logger.InfoWithCount("request log prune complete", count)
	}
}
