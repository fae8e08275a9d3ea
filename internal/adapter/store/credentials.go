package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/quayside/keygate/internal/core/domain"
)

const credentialColumns = `id, upstream_id, name, key_value, location, param_name,
	value_prefix, status, enable_quota, quota_total, quota_used, quota_reset_at,
	auto_disable_on_failure, auto_enable_delay_hours, auto_enable_at, last_used_at,
	created_at, updated_at`

func (s *Store) CreateCredential(ctx context.Context, c *domain.Credential) error {
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = domain.CredentialActive
	}
	if c.Placement == "" {
		c.Placement = domain.PlacementHeader
	}
	if c.ParamName == "" {
		c.ParamName = "Authorization"
	}

	id, err := s.insertRow(ctx, `INSERT INTO api_keys
		(upstream_id, name, key_value, location, param_name, value_prefix, status,
		 enable_quota, quota_total, quota_used, quota_reset_at, auto_disable_on_failure,
		 auto_enable_delay_hours, auto_enable_at, last_used_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.UpstreamID, c.Name, c.Secret, c.Placement, c.ParamName, c.ValuePrefix,
		c.Status, c.QuotaEnabled, c.QuotaTotal, c.QuotaUsed, c.QuotaResetAt,
		c.AutoDisableOnFailure, c.AutoEnableDelayHours, c.AutoEnableAt, c.LastUsedAt, now, now)
	if err != nil {
		return fmt.Errorf("create credential: %w", err)
	}
	c.ID = id
	return nil
}

func (s *Store) GetCredential(ctx context.Context, id int64) (*domain.Credential, error) {
	var c domain.Credential
	query := s.rebind(`SELECT ` + credentialColumns + ` FROM api_keys WHERE id = ?`)
	if err := s.db.GetContext(ctx, &c, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListCredentials(ctx context.Context, upstreamID int64) ([]*domain.Credential, error) {
	var creds []*domain.Credential
	query := s.rebind(`SELECT ` + credentialColumns + ` FROM api_keys WHERE upstream_id = ? ORDER BY id`)
	if err := s.db.SelectContext(ctx, &creds, query, upstreamID); err != nil {
		return nil, err
	}
	return creds, nil
}

// ListActiveCredentials returns status=active credentials ordered by ID so
// the round-robin cursor is deterministic over a stable pool.
func (s *Store) ListActiveCredentials(ctx context.Context, upstreamID int64) ([]*domain.Credential, error) {
	var creds []*domain.Credential
	query := s.rebind(`SELECT ` + credentialColumns + `
		FROM api_keys WHERE upstream_id = ? AND status = ? ORDER BY id`)
	if err := s.db.SelectContext(ctx, &creds, query, upstreamID, domain.CredentialActive); err != nil {
		return nil, err
	}
	return creds, nil
}

func (s *Store) UpdateCredential(ctx context.Context, c *domain.Credential) error {
	c.UpdatedAt = time.Now().UTC()
	query := s.rebind(`UPDATE api_keys SET
		name = ?, key_value = ?, location = ?, param_name = ?, value_prefix = ?,
		status = ?, enable_quota = ?, quota_total = ?, quota_used = ?, quota_reset_at = ?,
		auto_disable_on_failure = ?, auto_enable_delay_hours = ?, auto_enable_at = ?,
		updated_at = ?
		WHERE id = ?`)

	res, err := s.db.ExecContext(ctx, query,
		c.Name, c.Secret, c.Placement, c.ParamName, c.ValuePrefix,
		c.Status, c.QuotaEnabled, c.QuotaTotal, c.QuotaUsed, c.QuotaResetAt,
		c.AutoDisableOnFailure, c.AutoEnableDelayHours, c.AutoEnableAt,
		c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("update credential %d: %w", c.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteCredential(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM api_keys WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// IncrementCredentialUsage charges one use against the credential. The quota
// branch is a compare-and-set: two parallel callers can never both push
// quota_used past quota_total.
func (s *Store) IncrementCredentialUsage(ctx context.Context, id int64, now time.Time) (*domain.Credential, bool, error) {
	cred, err := s.GetCredential(ctx, id)
	if err != nil {
		return nil, false, err
	}

	if !cred.QuotaEnabled {
		query := s.rebind(`UPDATE api_keys SET last_used_at = ?, updated_at = ? WHERE id = ?`)
		if _, err := s.db.ExecContext(ctx, query, now, now, id); err != nil {
			return nil, false, err
		}
		cred.LastUsedAt = &now
		return cred, true, nil
	}

	query := s.rebind(`UPDATE api_keys
		SET quota_used = quota_used + 1, last_used_at = ?, updated_at = ?
		WHERE id = ? AND (quota_total <= 0 OR quota_used < quota_total)`)
	res, err := s.db.ExecContext(ctx, query, now, now, id)
	if err != nil {
		return nil, false, err
	}
	n, _ := res.RowsAffected()

	cred, err = s.GetCredential(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return cred, n > 0, nil
}

func (s *Store) SetCredentialStatus(ctx context.Context, id int64, status domain.CredentialStatus, autoEnableAt *time.Time) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		query := tx.Rebind(`UPDATE api_keys SET status = ?, auto_enable_at = ?, updated_at = ? WHERE id = ?`)
		res, err := tx.ExecContext(ctx, query, status, autoEnableAt, time.Now().UTC(), id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

// ResetDueQuotas zeroes quota_used for quota-enabled credentials whose reset
// time has passed and schedules the next one a day out.
func (s *Store) ResetDueQuotas(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		query := tx.Rebind(`UPDATE api_keys
			SET quota_used = 0, quota_reset_at = ?, updated_at = ?
			WHERE enable_quota AND quota_reset_at IS NOT NULL AND quota_reset_at <= ?`)
		res, err := tx.ExecContext(ctx, query, now.Add(24*time.Hour), now, now)
		if err != nil {
			return err
		}
		count, _ = res.RowsAffected()
		return nil
	})
	return count, err
}

// EnableDueCredentials re-activates disabled credentials whose auto-enable
// time has passed, clearing the schedule and resetting usage. Idempotent:
// a second run matches nothing.
func (s *Store) EnableDueCredentials(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		query := tx.Rebind(`UPDATE api_keys
			SET status = ?, auto_enable_at = NULL, quota_used = 0, updated_at = ?
			WHERE status = ? AND auto_enable_at IS NOT NULL AND auto_enable_at <= ?`)
		res, err := tx.ExecContext(ctx, query, domain.CredentialActive, now, domain.CredentialDisabled, now)
		if err != nil {
			return err
		}
		count, _ = res.RowsAffected()
		return nil
	})
	return count, err
}
