package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/quayside/keygate/internal/core/domain"
)

type ruleRow struct {
	domain.Rule
	ConditionsJSON string `db:"conditions"`
	ActionsJSON    string `db:"actions"`
}

func (r *ruleRow) toDomain() (*domain.Rule, error) {
	rule := r.Rule
	if err := json.UnmarshalFromString(r.ConditionsJSON, &rule.Conditions); err != nil {
		return nil, fmt.Errorf("rule %d: bad conditions column: %w", rule.ID, err)
	}
	rule.Actions = []domain.RuleAction{}
	if r.ActionsJSON != "" {
		if err := json.UnmarshalFromString(r.ActionsJSON, &rule.Actions); err != nil {
			return nil, fmt.Errorf("rule %d: bad actions column: %w", rule.ID, err)
		}
	}
	return &rule, nil
}

const ruleColumns = `id, upstream_id, name, description, conditions, actions,
	auto_enable_delay_hours, trigger_threshold, time_window_seconds,
	cooldown_seconds, priority, is_enabled, created_at, updated_at`

func (s *Store) CreateRule(ctx context.Context, r *domain.Rule) error {
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.TriggerThreshold <= 0 {
		r.TriggerThreshold = 1
	}

	conditionsJSON, err := json.MarshalToString(r.Conditions)
	if err != nil {
		return fmt.Errorf("marshal rule conditions: %w", err)
	}
	actionsJSON, _ := json.MarshalToString(r.Actions)

	id, err := s.insertRow(ctx, `INSERT INTO rules
		(upstream_id, name, description, conditions, actions, auto_enable_delay_hours,
		 trigger_threshold, time_window_seconds, cooldown_seconds, priority, is_enabled,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.UpstreamID, r.Name, r.Description, conditionsJSON, actionsJSON,
		r.AutoEnableDelayHours, r.TriggerThreshold, r.TimeWindowSeconds,
		r.CooldownSeconds, r.Priority, r.Enabled, now, now)
	if err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	r.ID = id
	return nil
}

func (s *Store) GetRule(ctx context.Context, id int64) (*domain.Rule, error) {
	var row ruleRow
	query := s.rebind(`SELECT ` + ruleColumns + ` FROM rules WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return row.toDomain()
}

func (s *Store) ListRules(ctx context.Context, upstreamID int64) ([]*domain.Rule, error) {
	return s.listRules(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE upstream_id = ? ORDER BY priority DESC, id`,
		upstreamID)
}

// ListEnabledRules returns enabled rules in descending priority order, the
// order the engine evaluates them in.
func (s *Store) ListEnabledRules(ctx context.Context, upstreamID int64) ([]*domain.Rule, error) {
	return s.listRules(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE upstream_id = ? AND is_enabled ORDER BY priority DESC, id`,
		upstreamID)
}

func (s *Store) listRules(ctx context.Context, query string, args ...interface{}) ([]*domain.Rule, error) {
	var rows []ruleRow
	if err := s.db.SelectContext(ctx, &rows, s.rebind(query), args...); err != nil {
		return nil, err
	}

	rules := make([]*domain.Rule, 0, len(rows))
	for i := range rows {
		rule, err := rows[i].toDomain()
		if err != nil {
			// A single malformed rule must not take the upstream down.
			s.logger.Error("skipping malformed rule", "error", err)
			continue
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (s *Store) UpdateRule(ctx context.Context, r *domain.Rule) error {
	r.UpdatedAt = time.Now().UTC()
	conditionsJSON, err := json.MarshalToString(r.Conditions)
	if err != nil {
		return fmt.Errorf("marshal rule conditions: %w", err)
	}
	actionsJSON, _ := json.MarshalToString(r.Actions)

	query := s.rebind(`UPDATE rules SET
		name = ?, description = ?, conditions = ?, actions = ?,
		auto_enable_delay_hours = ?, trigger_threshold = ?, time_window_seconds = ?,
		cooldown_seconds = ?, priority = ?, is_enabled = ?, updated_at = ?
		WHERE id = ?`)

	res, err := s.db.ExecContext(ctx, query,
		r.Name, r.Description, conditionsJSON, actionsJSON,
		r.AutoEnableDelayHours, r.TriggerThreshold, r.TimeWindowSeconds,
		r.CooldownSeconds, r.Priority, r.Enabled, r.UpdatedAt, r.ID)
	if err != nil {
		return fmt.Errorf("update rule %d: %w", r.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteRule(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM rules WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
