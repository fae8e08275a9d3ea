package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/quayside/keygate/internal/core/domain"
	"github.com/quayside/keygate/internal/core/ports"
)

type requestLogRow struct {
	domain.RequestLog
	RequestHeadersJSON  *string `db:"request_headers"`
	ResponseHeadersJSON *string `db:"response_headers"`
	TriggeredRulesJSON  string  `db:"triggered_rules"`
}

func (r *requestLogRow) toDomain() *domain.RequestLog {
	l := r.RequestLog
	if r.RequestHeadersJSON != nil {
		_ = json.UnmarshalFromString(*r.RequestHeadersJSON, &l.RequestHeaders)
	}
	if r.ResponseHeadersJSON != nil {
		_ = json.UnmarshalFromString(*r.ResponseHeadersJSON, &l.ResponseHeaders)
	}
	l.TriggeredRules = []int64{}
	if r.TriggeredRulesJSON != "" {
		_ = json.UnmarshalFromString(r.TriggeredRulesJSON, &l.TriggeredRules)
	}
	return &l
}

const requestLogColumns = `id, upstream_id, api_key_id, method, path,
	request_headers, request_body, status_code, response_headers, response_body,
	latency_ms, client_ip, error_message, triggered_rules, created_at`

func (s *Store) InsertRequestLog(ctx context.Context, l *domain.RequestLog) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}

	var reqHeaders, respHeaders *string
	if l.RequestHeaders != nil {
		v, _ := json.MarshalToString(l.RequestHeaders)
		reqHeaders = &v
	}
	if l.ResponseHeaders != nil {
		v, _ := json.MarshalToString(l.ResponseHeaders)
		respHeaders = &v
	}
	triggered := "[]"
	if len(l.TriggeredRules) > 0 {
		triggered, _ = json.MarshalToString(l.TriggeredRules)
	}

	id, err := s.insertRow(ctx, `INSERT INTO request_logs
		(upstream_id, api_key_id, method, path, request_headers, request_body,
		 status_code, response_headers, response_body, latency_ms, client_ip,
		 error_message, triggered_rules, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.UpstreamID, l.CredentialID, l.Method, l.Path, reqHeaders, l.RequestBody,
		l.StatusCode, respHeaders, l.ResponseBody, l.LatencyMs, l.ClientIP,
		l.ErrorMessage, triggered, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert request log: %w", err)
	}
	l.ID = id
	return nil
}

func (s *Store) ListRequestLogs(ctx context.Context, filter ports.RequestLogFilter) ([]*domain.RequestLog, int64, error) {
	where := []string{"1=1"}
	args := []interface{}{}

	if filter.UpstreamID > 0 {
		where = append(where, "upstream_id = ?")
		args = append(args, filter.UpstreamID)
	}
	if filter.CredentialID > 0 {
		where = append(where, "api_key_id = ?")
		args = append(args, filter.CredentialID)
	}
	if filter.StatusCode > 0 {
		where = append(where, "status_code = ?")
		args = append(args, filter.StatusCode)
	}
	if filter.ErrorsOnly {
		where = append(where, "error_message != ''")
	}
	clause := strings.Join(where, " AND ")

	var total int64
	countQuery := s.rebind(`SELECT COUNT(*) FROM request_logs WHERE ` + clause)
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	} else if limit > 500 {
		limit = 500
	}
	args = append(args, limit, filter.Offset)

	var rows []requestLogRow
	query := s.rebind(`SELECT ` + requestLogColumns + ` FROM request_logs
		WHERE ` + clause + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`)
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, err
	}

	logs := make([]*domain.RequestLog, 0, len(rows))
	for i := range rows {
		logs = append(logs, rows[i].toDomain())
	}
	return logs, total, nil
}

func (s *Store) PruneRequestLogs(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM request_logs WHERE created_at < ?`), cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}
