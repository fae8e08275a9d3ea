// Package audit appends request/response records to the request log store.
// Writes are best effort: a failed insert is logged and dropped, it never
// affects the proxied response.
package audit

import (
	"context"
	"time"

	"github.com/quayside/keygate/internal/core/domain"
	"github.com/quayside/keygate/internal/core/ports"
	"github.com/quayside/keygate/internal/logger"
)

const writeTimeout = 5 * time.Second

type Logger struct {
	store  ports.RequestLogStore
	logger *logger.StyledLogger
}

func New(store ports.RequestLogStore, log *logger.StyledLogger) *Logger {
	return &Logger{store: store, logger: log}
}

// Log persists one audit entry. The write runs under its own timeout so a
// slow database cannot hold the request goroutine.
func (a *Logger) Log(ctx context.Context, entry *domain.RequestLog) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := a.store.InsertRequestLog(wctx, entry); err != nil {
		a.logger.Error("audit log write failed",
			"upstream_id", entry.UpstreamID,
			"method", entry.Method,
			"path", entry.Path,
			"error", err)
	}
}

// CaptureHeaders flattens headers for storage when the upstream opts in.
func CaptureHeaders(enabled bool, headers map[string]string) map[string]string {
	if !enabled || len(headers) == 0 {
		return nil
	}
	return headers
}

// CaptureBody truncates a body capture to limit bytes; zero means no capture.
func CaptureBody(enabled bool, body string, limit int) string {
	if !enabled || body == "" {
		return ""
	}
	if limit > 0 && len(body) > limit {
		return body[:limit]
	}
	return body
}
