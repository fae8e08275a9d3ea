package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/quayside/keygate/internal/core/domain"
)

const headerConfigColumns = `id, upstream_id, header_name, value_type, static_value,
	script_content, priority, timeout_ms, fallback_strategy, fallback_value,
	is_enabled, created_at, updated_at`

func (s *Store) CreateHeaderConfig(ctx context.Context, h *domain.HeaderConfig) error {
	now := time.Now().UTC()
	h.CreatedAt = now
	h.UpdatedAt = now
	if h.Kind == "" {
		h.Kind = domain.HeaderStatic
	}
	if h.Fallback == "" {
		h.Fallback = domain.FallbackUseDefault
	}
	if h.TimeoutMs <= 0 {
		h.TimeoutMs = 1000
	}

	id, err := s.insertRow(ctx, `INSERT INTO header_configs
		(upstream_id, header_name, value_type, static_value, script_content,
		 priority, timeout_ms, fallback_strategy, fallback_value, is_enabled,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.UpstreamID, h.HeaderName, h.Kind, h.StaticValue, h.ScriptContent,
		h.Priority, h.TimeoutMs, h.Fallback, h.FallbackValue, h.Enabled, now, now)
	if err != nil {
		return fmt.Errorf("create header config: %w", err)
	}
	h.ID = id
	return nil
}

func (s *Store) GetHeaderConfig(ctx context.Context, id int64) (*domain.HeaderConfig, error) {
	var h domain.HeaderConfig
	query := s.rebind(`SELECT ` + headerConfigColumns + ` FROM header_configs WHERE id = ?`)
	if err := s.db.GetContext(ctx, &h, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &h, nil
}

func (s *Store) ListHeaderConfigs(ctx context.Context, upstreamID int64) ([]*domain.HeaderConfig, error) {
	var configs []*domain.HeaderConfig
	query := s.rebind(`SELECT ` + headerConfigColumns + `
		FROM header_configs WHERE upstream_id = ? ORDER BY priority, id`)
	if err := s.db.SelectContext(ctx, &configs, query, upstreamID); err != nil {
		return nil, err
	}
	return configs, nil
}

// ListEnabledHeaderConfigs returns enabled configs in ascending priority
// order: the assembler applies them in sequence so higher priority wins.
func (s *Store) ListEnabledHeaderConfigs(ctx context.Context, upstreamID int64) ([]*domain.HeaderConfig, error) {
	var configs []*domain.HeaderConfig
	query := s.rebind(`SELECT ` + headerConfigColumns + `
		FROM header_configs WHERE upstream_id = ? AND is_enabled ORDER BY priority, id`)
	if err := s.db.SelectContext(ctx, &configs, query, upstreamID); err != nil {
		return nil, err
	}
	return configs, nil
}

func (s *Store) UpdateHeaderConfig(ctx context.Context, h *domain.HeaderConfig) error {
	h.UpdatedAt = time.Now().UTC()
	query := s.rebind(`UPDATE header_configs SET
		header_name = ?, value_type = ?, static_value = ?, script_content = ?,
		priority = ?, timeout_ms = ?, fallback_strategy = ?, fallback_value = ?,
		is_enabled = ?, updated_at = ?
		WHERE id = ?`)

	res, err := s.db.ExecContext(ctx, query,
		h.HeaderName, h.Kind, h.StaticValue, h.ScriptContent,
		h.Priority, h.TimeoutMs, h.Fallback, h.FallbackValue,
		h.Enabled, h.UpdatedAt, h.ID)
	if err != nil {
		return fmt.Errorf("update header config %d: %w", h.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteHeaderConfig(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM header_configs WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
