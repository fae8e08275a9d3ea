// Package rules evaluates response-driven rules and applies their actions
// to the credential that produced the matching response.
package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/quayside/keygate/internal/core/domain"
	"github.com/quayside/keygate/internal/core/ports"
	"github.com/quayside/keygate/internal/logger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store is the slice of persistence the engine needs: rule lookup and
// credential status transitions.
type Store interface {
	ListEnabledRules(ctx context.Context, upstreamID int64) ([]*domain.Rule, error)
	SetCredentialStatus(ctx context.Context, id int64, status domain.CredentialStatus, autoEnableAt *time.Time) error
}

// tracker holds the per-(rule, credential) firing state: recent match
// timestamps for threshold counting and the last time actions ran.
type tracker struct {
	mu        sync.Mutex
	matches   []time.Time
	lastFired time.Time
}

type Engine struct {
	store    Store
	notifier ports.Notifier
	logger   *logger.StyledLogger
	trackers *xsync.Map[string, *tracker]
	now      func() time.Time
}

func NewEngine(store Store, notifier ports.Notifier, log *logger.StyledLogger) *Engine {
	return &Engine{
		store:    store,
		notifier: notifier,
		logger:   log,
		trackers: xsync.NewMap[string, *tracker](),
		now:      time.Now,
	}
}

// Evaluate runs the upstream's enabled rules against the response in
// descending priority order and executes the actions of every rule that
// fires. Rule failures never propagate to the caller; the response has
// already been returned to the client by the time this runs.
func (e *Engine) Evaluate(ctx context.Context, upstreamID, credentialID int64, resp *domain.UpstreamResponse) []int64 {
	enabled, err := e.store.ListEnabledRules(ctx, upstreamID)
	if err != nil {
		e.logger.Error("rule evaluation skipped, cannot load rules",
			"upstream_id", upstreamID, "error", err)
		return nil
	}

	var fired []int64
	for _, rule := range enabled {
		if !e.matches(rule, resp) {
			continue
		}
		if !e.shouldFire(rule, credentialID) {
			continue
		}

		e.logger.InfoWithUpstream("rule fired",
			fmt.Sprintf("upstream:%d", upstreamID),
			"rule_id", rule.ID,
			"rule", rule.Name,
			"credential_id", credentialID,
			"status_code", resp.StatusCode)

		e.applyActions(ctx, rule, upstreamID, credentialID, resp)
		fired = append(fired, rule.ID)
	}
	return fired
}

// matches evaluates the predicate tree, containing any panic from a
// malformed condition so one bad rule cannot take down evaluation.
func (e *Engine) matches(rule *domain.Rule, resp *domain.UpstreamResponse) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("rule condition evaluation panicked",
				"rule_id", rule.ID, "panic", r)
			matched = false
		}
	}()
	return evaluate(rule.Conditions, resp)
}

// shouldFire applies the threshold window and the cooldown. A rule with
// threshold N fires on the Nth match inside the window, then its counter
// resets; during cooldown matches are not even counted.
func (e *Engine) shouldFire(rule *domain.Rule, credentialID int64) bool {
	key := fmt.Sprintf("%d:%d", rule.ID, credentialID)
	t, _ := e.trackers.LoadOrStore(key, &tracker{})

	now := e.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if rule.CooldownSeconds > 0 && !t.lastFired.IsZero() && now.Sub(t.lastFired) < rule.Cooldown() {
		return false
	}

	threshold := rule.TriggerThreshold
	if threshold <= 1 {
		t.lastFired = now
		return true
	}

	cutoff := now.Add(-rule.ThresholdWindow())
	kept := t.matches[:0]
	for _, ts := range t.matches {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	t.matches = append(kept, now)

	if len(t.matches) < threshold {
		return false
	}

	t.matches = t.matches[:0]
	t.lastFired = now
	return true
}

func (e *Engine) applyActions(ctx context.Context, rule *domain.Rule, upstreamID, credentialID int64, resp *domain.UpstreamResponse) {
	for _, action := range rule.Actions {
		switch action {
		case domain.ActionDisableCredential:
			var autoEnableAt *time.Time
			if rule.AutoEnableDelayHours > 0 {
				at := e.now().Add(time.Duration(rule.AutoEnableDelayHours) * time.Hour)
				autoEnableAt = &at
			}
			if err := e.store.SetCredentialStatus(ctx, credentialID, domain.CredentialDisabled, autoEnableAt); err != nil {
				e.logger.Error("rule action disable_credential failed",
					"rule_id", rule.ID, "credential_id", credentialID, "error", err)
				continue
			}
			e.notify(ctx, ports.EventCredentialDisabled, rule, upstreamID, credentialID, resp)

		case domain.ActionBanCredential:
			if err := e.store.SetCredentialStatus(ctx, credentialID, domain.CredentialBanned, nil); err != nil {
				e.logger.Error("rule action ban_credential failed",
					"rule_id", rule.ID, "credential_id", credentialID, "error", err)
				continue
			}
			e.notify(ctx, ports.EventCredentialBanned, rule, upstreamID, credentialID, resp)

		case domain.ActionAlert:
			e.logger.Warn("rule alert",
				"rule_id", rule.ID,
				"rule", rule.Name,
				"upstream_id", upstreamID,
				"credential_id", credentialID,
				"status_code", resp.StatusCode)
			e.notify(ctx, ports.EventRuleAlert, rule, upstreamID, credentialID, resp)

		case domain.ActionLog:
			e.logger.Info("rule matched",
				"rule_id", rule.ID,
				"rule", rule.Name,
				"upstream_id", upstreamID,
				"credential_id", credentialID,
				"status_code", resp.StatusCode)
		}
	}
}

func (e *Engine) notify(ctx context.Context, event ports.NotificationEvent, rule *domain.Rule, upstreamID, credentialID int64, resp *domain.UpstreamResponse) {
	if e.notifier == nil {
		return
	}
	e.notifier.Send(ctx, event, map[string]interface{}{
		"rule_id":       rule.ID,
		"rule":          rule.Name,
		"upstream_id":   upstreamID,
		"credential_id": credentialID,
		"status_code":   resp.StatusCode,
	})
}
