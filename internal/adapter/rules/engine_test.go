package rules

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quayside/keygate/internal/core/domain"
	"github.com/quayside/keygate/internal/core/ports"
	"github.com/quayside/keygate/internal/logger"
)

type statusChange struct {
	credentialID int64
	status       domain.CredentialStatus
	autoEnableAt *time.Time
}

type fakeRuleStore struct {
	mu      sync.Mutex
	rules   []*domain.Rule
	changes []statusChange
}

func (f *fakeRuleStore) ListEnabledRules(_ context.Context, _ int64) ([]*domain.Rule, error) {
	return f.rules, nil
}

func (f *fakeRuleStore) SetCredentialStatus(_ context.Context, id int64, status domain.CredentialStatus, autoEnableAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, statusChange{id, status, autoEnableAt})
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []ports.NotificationEvent
}

func (n *recordingNotifier) Send(_ context.Context, event ports.NotificationEvent, _ map[string]interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func newTestEngine(store *fakeRuleStore, notifier ports.Notifier) *Engine {
	return NewEngine(store, notifier, logger.NewPlain(slog.Default()))
}

func statusRule(id int64, status int, actions ...domain.RuleAction) *domain.Rule {
	return &domain.Rule{
		ID:         id,
		UpstreamID: 1,
		Name:       "test-rule",
		Conditions: domain.Condition{Type: "status_code", Operator: "equals", Value: float64(status)},
		Actions:    actions,
		Enabled:    true,
	}
}

func TestEngine_FiresAndDisables(t *testing.T) {
	store := &fakeRuleStore{rules: []*domain.Rule{statusRule(1, 401, domain.ActionDisableCredential)}}
	notifier := &recordingNotifier{}
	engine := newTestEngine(store, notifier)

	fired := engine.Evaluate(context.Background(), 1, 7, &domain.UpstreamResponse{StatusCode: 401})

	require.Equal(t, []int64{1}, fired)
	require.Len(t, store.changes, 1)
	assert.Equal(t, int64(7), store.changes[0].credentialID)
	assert.Equal(t, domain.CredentialDisabled, store.changes[0].status)
	assert.Nil(t, store.changes[0].autoEnableAt)
	assert.Equal(t, []ports.NotificationEvent{ports.EventCredentialDisabled}, notifier.events)
}

func TestEngine_DisableSchedulesAutoEnable(t *testing.T) {
	rule := statusRule(1, 401, domain.ActionDisableCredential)
	rule.AutoEnableDelayHours = 2
	store := &fakeRuleStore{rules: []*domain.Rule{rule}}
	engine := newTestEngine(store, nil)

	base := time.Now()
	engine.now = func() time.Time { return base }

	engine.Evaluate(context.Background(), 1, 7, &domain.UpstreamResponse{StatusCode: 401})

	require.Len(t, store.changes, 1)
	require.NotNil(t, store.changes[0].autoEnableAt)
	assert.Equal(t, base.Add(2*time.Hour), *store.changes[0].autoEnableAt)
}

func TestEngine_BanAction(t *testing.T) {
	store := &fakeRuleStore{rules: []*domain.Rule{statusRule(1, 403, domain.ActionBanCredential)}}
	notifier := &recordingNotifier{}
	engine := newTestEngine(store, notifier)

	engine.Evaluate(context.Background(), 1, 7, &domain.UpstreamResponse{StatusCode: 403})

	require.Len(t, store.changes, 1)
	assert.Equal(t, domain.CredentialBanned, store.changes[0].status)
	assert.Equal(t, []ports.NotificationEvent{ports.EventCredentialBanned}, notifier.events)
}

func TestEngine_NonMatchingRuleDoesNothing(t *testing.T) {
	store := &fakeRuleStore{rules: []*domain.Rule{statusRule(1, 401, domain.ActionDisableCredential)}}
	engine := newTestEngine(store, nil)

	fired := engine.Evaluate(context.Background(), 1, 7, &domain.UpstreamResponse{StatusCode: 200})

	assert.Empty(t, fired)
	assert.Empty(t, store.changes)
}

func TestEngine_ThresholdFiresOnNthMatch(t *testing.T) {
	rule := statusRule(1, 429, domain.ActionDisableCredential)
	rule.TriggerThreshold = 3
	rule.TimeWindowSeconds = 60
	store := &fakeRuleStore{rules: []*domain.Rule{rule}}
	engine := newTestEngine(store, nil)

	resp := &domain.UpstreamResponse{StatusCode: 429}
	ctx := context.Background()

	assert.Empty(t, engine.Evaluate(ctx, 1, 7, resp))
	assert.Empty(t, engine.Evaluate(ctx, 1, 7, resp))
	assert.Equal(t, []int64{1}, engine.Evaluate(ctx, 1, 7, resp))

	// Counter reset after firing: the next two matches do not fire.
	assert.Empty(t, engine.Evaluate(ctx, 1, 7, resp))
	assert.Empty(t, engine.Evaluate(ctx, 1, 7, resp))
}

func TestEngine_ThresholdWindowExpiresMatches(t *testing.T) {
	rule := statusRule(1, 429, domain.ActionLog)
	rule.TriggerThreshold = 2
	rule.TimeWindowSeconds = 10
	store := &fakeRuleStore{rules: []*domain.Rule{rule}}
	engine := newTestEngine(store, nil)

	base := time.Now()
	current := base
	engine.now = func() time.Time { return current }

	resp := &domain.UpstreamResponse{StatusCode: 429}
	ctx := context.Background()

	assert.Empty(t, engine.Evaluate(ctx, 1, 7, resp))

	// The first match ages out before the second arrives.
	current = base.Add(11 * time.Second)
	assert.Empty(t, engine.Evaluate(ctx, 1, 7, resp))

	current = base.Add(12 * time.Second)
	assert.Equal(t, []int64{1}, engine.Evaluate(ctx, 1, 7, resp))
}

func TestEngine_CooldownSuppressesRefiring(t *testing.T) {
	rule := statusRule(1, 401, domain.ActionDisableCredential)
	rule.CooldownSeconds = 300
	store := &fakeRuleStore{rules: []*domain.Rule{rule}}
	engine := newTestEngine(store, nil)

	base := time.Now()
	current := base
	engine.now = func() time.Time { return current }

	resp := &domain.UpstreamResponse{StatusCode: 401}
	ctx := context.Background()

	assert.Equal(t, []int64{1}, engine.Evaluate(ctx, 1, 7, resp))
	assert.Empty(t, engine.Evaluate(ctx, 1, 7, resp))

	current = base.Add(301 * time.Second)
	assert.Equal(t, []int64{1}, engine.Evaluate(ctx, 1, 7, resp))
}

func TestEngine_CooldownIsPerCredential(t *testing.T) {
	rule := statusRule(1, 401, domain.ActionLog)
	rule.CooldownSeconds = 300
	store := &fakeRuleStore{rules: []*domain.Rule{rule}}
	engine := newTestEngine(store, nil)

	resp := &domain.UpstreamResponse{StatusCode: 401}
	ctx := context.Background()

	assert.Equal(t, []int64{1}, engine.Evaluate(ctx, 1, 7, resp))
	// Different credential has its own cooldown clock.
	assert.Equal(t, []int64{1}, engine.Evaluate(ctx, 1, 8, resp))
	assert.Empty(t, engine.Evaluate(ctx, 1, 7, resp))
}

func TestEngine_MultipleRulesFireIndependently(t *testing.T) {
	store := &fakeRuleStore{rules: []*domain.Rule{
		statusRule(1, 429, domain.ActionLog),
		statusRule(2, 429, domain.ActionAlert),
		statusRule(3, 500, domain.ActionLog),
	}}
	notifier := &recordingNotifier{}
	engine := newTestEngine(store, notifier)

	fired := engine.Evaluate(context.Background(), 1, 7, &domain.UpstreamResponse{StatusCode: 429})

	assert.Equal(t, []int64{1, 2}, fired)
	assert.Equal(t, []ports.NotificationEvent{ports.EventRuleAlert}, notifier.events)
}
