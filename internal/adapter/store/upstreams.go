package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/quayside/keygate/internal/core/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// upstreamRow carries the JSON columns alongside the domain fields.
type upstreamRow struct {
	domain.Upstream
	RateLimitJSON string `db:"rate_limit"`
	TagsJSON      string `db:"tags"`
}

func (r *upstreamRow) toDomain() (*domain.Upstream, error) {
	u := r.Upstream
	if r.RateLimitJSON != "" {
		if err := json.UnmarshalFromString(r.RateLimitJSON, &u.RateLimit); err != nil {
			return nil, fmt.Errorf("upstream %d: bad rate_limit column: %w", u.ID, err)
		}
	}
	u.Tags = []string{}
	if r.TagsJSON != "" {
		if err := json.UnmarshalFromString(r.TagsJSON, &u.Tags); err != nil {
			return nil, fmt.Errorf("upstream %d: bad tags column: %w", u.ID, err)
		}
	}
	return &u, nil
}

const upstreamColumns = `id, name, base_url, description, timeout, retry_count,
	connection_pool_size, log_request_body, log_response_body, rate_limit, tags,
	is_enabled, created_at, updated_at`

func (s *Store) CreateUpstream(ctx context.Context, u *domain.Upstream) error {
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	rateLimitJSON, _ := json.MarshalToString(u.RateLimit)
	tagsJSON, _ := json.MarshalToString(u.Tags)
	if u.Tags == nil {
		tagsJSON = "[]"
	}

	id, err := s.insertRow(ctx, `INSERT INTO upstreams
		(name, base_url, description, timeout, retry_count, connection_pool_size,
		 log_request_body, log_response_body, rate_limit, tags, is_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Name, u.BaseURL, u.Description, u.Timeout, u.RetryCount, u.ConnectionPoolSize,
		u.LogRequestBody, u.LogResponseBody, rateLimitJSON, tagsJSON, u.Enabled, now, now)
	if err != nil {
		return fmt.Errorf("create upstream: %w", err)
	}
	u.ID = id
	return nil
}

func (s *Store) GetUpstream(ctx context.Context, id int64) (*domain.Upstream, error) {
	var row upstreamRow
	query := s.rebind(`SELECT ` + upstreamColumns + ` FROM upstreams WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUpstreamNotFound
		}
		return nil, err
	}
	return row.toDomain()
}

func (s *Store) GetUpstreamByName(ctx context.Context, name string) (*domain.Upstream, error) {
	var row upstreamRow
	query := s.rebind(`SELECT ` + upstreamColumns + ` FROM upstreams WHERE name = ?`)
	if err := s.db.GetContext(ctx, &row, query, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUpstreamNotFound
		}
		return nil, err
	}
	return row.toDomain()
}

func (s *Store) ListUpstreams(ctx context.Context) ([]*domain.Upstream, error) {
	var rows []upstreamRow
	query := `SELECT ` + upstreamColumns + ` FROM upstreams ORDER BY id`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}

	upstreams := make([]*domain.Upstream, 0, len(rows))
	for i := range rows {
		u, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		upstreams = append(upstreams, u)
	}
	return upstreams, nil
}

func (s *Store) UpdateUpstream(ctx context.Context, u *domain.Upstream) error {
	u.UpdatedAt = time.Now().UTC()
	rateLimitJSON, _ := json.MarshalToString(u.RateLimit)
	tagsJSON, _ := json.MarshalToString(u.Tags)

	query := s.rebind(`UPDATE upstreams SET
		name = ?, base_url = ?, description = ?, timeout = ?, retry_count = ?,
		connection_pool_size = ?, log_request_body = ?, log_response_body = ?,
		rate_limit = ?, tags = ?, is_enabled = ?, updated_at = ?
		WHERE id = ?`)

	res, err := s.db.ExecContext(ctx, query,
		u.Name, u.BaseURL, u.Description, u.Timeout, u.RetryCount,
		u.ConnectionPoolSize, u.LogRequestBody, u.LogResponseBody,
		rateLimitJSON, tagsJSON, u.Enabled, u.UpdatedAt, u.ID)
	if err != nil {
		return fmt.Errorf("update upstream %d: %w", u.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrUpstreamNotFound
	}
	return nil
}

func (s *Store) DeleteUpstream(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM upstreams WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrUpstreamNotFound
	}
	return nil
}
