// Package proxy implements the forwarding pipeline: resolve upstream, admit
// through the rate gate, select a credential, assemble headers, dispatch with
// retries, then run rules and audit on the outcome.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/quayside/keygate/internal/adapter/audit"
	"github.com/quayside/keygate/internal/adapter/headers"
	"github.com/quayside/keygate/internal/adapter/metrics"
	"github.com/quayside/keygate/internal/adapter/ratelimit"
	"github.com/quayside/keygate/internal/config"
	"github.com/quayside/keygate/internal/core/domain"
	"github.com/quayside/keygate/internal/core/ports"
	"github.com/quayside/keygate/internal/logger"
	"github.com/quayside/keygate/internal/util"
)

const (
	maxRetryDelay = 10 * time.Second

	// bodyCaptureLimit caps the bytes of request/response body persisted to
	// the audit log when an upstream opts in.
	bodyCaptureLimit = 64 * 1024
)

type Service struct {
	store     ports.Store
	gate      *ratelimit.Gate
	selector  ports.CredentialSelector
	assembler ports.HeaderAssembler
	engine    ports.RuleEngine
	audit     ports.AuditLogger
	notifier  ports.Notifier
	metrics   *metrics.Metrics
	logger    *logger.StyledLogger
	cfg       config.ProxyConfig
	trust     bool

	clients *xsync.Map[int64, *http.Client]
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewService(
	store ports.Store,
	gate *ratelimit.Gate,
	selector ports.CredentialSelector,
	assembler ports.HeaderAssembler,
	engine ports.RuleEngine,
	auditLog ports.AuditLogger,
	notifier ports.Notifier,
	m *metrics.Metrics,
	log *logger.StyledLogger,
	cfg config.ProxyConfig,
	trustProxyHeaders bool,
) *Service {
	return &Service{
		store:     store,
		gate:      gate,
		selector:  selector,
		assembler: assembler,
		engine:    engine,
		audit:     auditLog,
		notifier:  notifier,
		metrics:   m,
		logger:    log,
		cfg:       cfg,
		trust:     trustProxyHeaders,
		clients:   xsync.NewMap[int64, *http.Client](),
		sleep:     sleepCtx,
	}
}

// Forward proxies one inbound request addressed to the named upstream.
// remainder is the path after /proxy/{upstream}, without a leading slash.
func (s *Service) Forward(w http.ResponseWriter, r *http.Request, upstreamName, remainder string) {
	ctx := r.Context()
	started := time.Now()

	upstream, err := s.store.GetUpstreamByName(ctx, upstreamName)
	if err != nil {
		if errors.Is(err, domain.ErrUpstreamNotFound) {
			s.reject(w, r, nil, started, http.StatusNotFound, fmt.Sprintf("upstream %q not found", upstreamName))
			return
		}
		s.reject(w, r, nil, started, http.StatusInternalServerError, "upstream lookup failed")
		return
	}
	if !upstream.Enabled {
		// A disabled upstream answers exactly like an absent one, and
		// neither leaves an audit row.
		writeError(w, http.StatusNotFound, fmt.Sprintf("upstream %q not found", upstreamName))
		return
	}

	s.applyDefaults(upstream)

	if err := s.gate.Allow(upstream.ID, 0, upstream.RateLimit); err != nil {
		s.denyRateLimited(w, r, upstream, started, err)
		return
	}

	cred, err := s.selector.Select(ctx, upstream.ID, s.cfg.SelectionStrategy)
	if err != nil {
		if errors.Is(err, domain.ErrNoCredential) {
			s.reject(w, r, upstream, started, http.StatusServiceUnavailable, "no eligible credential for upstream")
			return
		}
		s.reject(w, r, upstream, started, http.StatusInternalServerError, "credential selection failed")
		return
	}

	if err := s.gate.Allow(upstream.ID, cred.ID, upstream.RateLimit); err != nil {
		s.denyRateLimited(w, r, upstream, started, err)
		return
	}

	reqBody, err := io.ReadAll(r.Body)
	if err != nil {
		s.reject(w, r, upstream, started, http.StatusBadRequest, "failed to read request body")
		return
	}

	outHeaders, err := s.assembler.Assemble(ctx, upstream, r.Header, cred, r.Method, remainder)
	if err != nil {
		s.logger.Error("header assembly failed",
			"upstream", upstream.Name, "error", err)
		s.reject(w, r, upstream, started, http.StatusBadGateway, "header assembly failed")
		return
	}

	outURL, outBody, err := s.buildTarget(upstream, cred, remainder, r.URL.RawQuery, reqBody)
	if err != nil {
		s.reject(w, r, upstream, started, http.StatusBadRequest, err.Error())
		return
	}

	resp, attempts, err := s.dispatch(ctx, upstream, r.Method, outURL, outHeaders, outBody)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		s.logger.Error("upstream dispatch failed",
			"upstream", upstream.Name,
			"attempts", attempts,
			"error", err)

		// Attempts went out on the wire, so the credential is charged the
		// same as on success.
		if ierr := s.selector.IncrementUsage(ctx, cred.ID); ierr != nil {
			s.logger.Error("usage increment failed", "credential_id", cred.ID, "error", ierr)
		}

		entry := s.newEntry(r, upstream, remainder)
		entry.CredentialID = &cred.ID
		entry.ErrorMessage = err.Error()
		entry.LatencyMs = time.Since(started).Milliseconds()
		s.audit.Log(ctx, entry)
		s.metrics.ObserveProxyRequest(upstream.Name, status, time.Since(started))
		writeError(w, status, "upstream unreachable")
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		s.logger.Error("upstream response read failed", "upstream", upstream.Name, "error", err)
		respBody = nil
	}
	latency := time.Since(started)

	// Usage is charged per forwarded request, not per retry attempt.
	if err := s.selector.IncrementUsage(ctx, cred.ID); err != nil {
		s.logger.Error("usage increment failed", "credential_id", cred.ID, "error", err)
	}

	upstreamResp := &domain.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Headers:    flattenHeader(resp.Header),
		Body:       string(respBody),
		LatencyMs:  latency.Milliseconds(),
	}
	fired := s.engine.Evaluate(ctx, upstream.ID, cred.ID, upstreamResp)
	for _, ruleID := range fired {
		s.metrics.RuleTriggered(upstream.Name, ruleID)
	}

	entry := s.newEntry(r, upstream, remainder)
	entry.CredentialID = &cred.ID
	entry.StatusCode = &resp.StatusCode
	entry.LatencyMs = latency.Milliseconds()
	entry.TriggeredRules = fired
	// Inbound headers only: the assembled set carries the injected
	// credential, which must never reach the log.
	entry.RequestHeaders = audit.CaptureHeaders(upstream.LogRequestBody, flattenHeader(headers.CloneStripped(r.Header)))
	entry.RequestBody = audit.CaptureBody(upstream.LogRequestBody, string(reqBody), bodyCaptureLimit)
	entry.ResponseHeaders = audit.CaptureHeaders(upstream.LogResponseBody, upstreamResp.Headers)
	entry.ResponseBody = audit.CaptureBody(upstream.LogResponseBody, upstreamResp.Body, bodyCaptureLimit)
	s.audit.Log(ctx, entry)

	s.metrics.ObserveProxyRequest(upstream.Name, resp.StatusCode, latency)

	relayResponse(w, resp, respBody)
}

// applyDefaults fills unset upstream dispatch knobs from the proxy config.
func (s *Service) applyDefaults(u *domain.Upstream) {
	if u.Timeout <= 0 && s.cfg.DefaultRequestTimeout > 0 {
		u.Timeout = s.cfg.DefaultRequestTimeout
	}
	if u.RetryCount <= 0 && s.cfg.DefaultRetryCount > 0 {
		u.RetryCount = s.cfg.DefaultRetryCount
	}
	if u.ConnectionPoolSize <= 0 {
		u.ConnectionPoolSize = s.cfg.DefaultConnectionPoolSize
	}
}

// buildTarget composes the outbound URL and body, applying query/body
// credential placement.
func (s *Service) buildTarget(upstream *domain.Upstream, cred *domain.Credential, remainder, rawQuery string, body []byte) (string, []byte, error) {
	target, err := url.Parse(upstream.JoinPath(remainder))
	if err != nil {
		return "", nil, fmt.Errorf("invalid upstream base URL: %w", err)
	}
	target.RawQuery = rawQuery

	switch cred.Placement {
	case domain.PlacementQuery:
		headers.InjectQuery(target, cred)
	case domain.PlacementBody:
		merged, err := headers.InjectBody(body, cred)
		if err != nil {
			return "", nil, err
		}
		body = merged
	}

	return target.String(), body, nil
}

// dispatch sends the outbound request, retrying transport failures and 5xx
// responses up to the upstream's retry budget. 4xx responses return
// immediately. Backoff doubles per attempt, capped at 10s.
func (s *Service) dispatch(ctx context.Context, upstream *domain.Upstream, method, target string, header http.Header, body []byte) (*http.Response, int, error) {
	client := s.clientFor(upstream)
	maxAttempts := upstream.RetryCount + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			s.metrics.RetryAttempted(upstream.Name)
			if err := s.sleep(ctx, util.RetryBackoff(attempt-1, maxRetryDelay)); err != nil {
				return nil, attempt, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
		if err != nil {
			return nil, attempt + 1, err
		}
		req.Header = header.Clone()

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, attempt + 1, ctx.Err()
			}
			continue
		}

		if resp.StatusCode >= 500 && attempt < maxAttempts-1 {
			resp.Body.Close()
			lastErr = fmt.Errorf("upstream returned %d", resp.StatusCode)
			continue
		}

		return resp, attempt + 1, nil
	}

	return nil, maxAttempts, &domain.TransportError{Err: lastErr, Attempts: maxAttempts}
}

// clientFor returns the cached per-upstream HTTP client, its pool sized by
// the upstream's connection_pool_size.
func (s *Service) clientFor(upstream *domain.Upstream) *http.Client {
	client, _ := s.clients.LoadOrCompute(upstream.ID, func() (*http.Client, bool) {
		poolSize := upstream.ConnectionPoolSize
		if poolSize <= 0 {
			poolSize = 10
		}
		transport := &http.Transport{
			MaxIdleConns:        poolSize,
			MaxIdleConnsPerHost: poolSize,
			MaxConnsPerHost:     poolSize,
			IdleConnTimeout:     90 * time.Second,
		}
		return &http.Client{
			Transport: transport,
			Timeout:   upstream.RequestTimeout(),
		}, false
	})
	return client
}

func (s *Service) denyRateLimited(w http.ResponseWriter, r *http.Request, upstream *domain.Upstream, started time.Time, err error) {
	var rle *domain.RateLimitError
	retryAfter := 60
	window := "minute"
	if errors.As(err, &rle) {
		retryAfter = rle.RetryAfterSec
		window = rle.Window
	}

	s.metrics.RateLimitDenied(upstream.Name, window)
	if s.notifier != nil {
		s.notifier.Send(r.Context(), ports.EventRateLimitExceeded, map[string]interface{}{
			"upstream_id": upstream.ID,
			"upstream":    upstream.Name,
			"window":      window,
		})
	}

	entry := s.newEntry(r, upstream, r.URL.Path)
	entry.ErrorMessage = "rate_limited"
	entry.LatencyMs = time.Since(started).Milliseconds()
	s.audit.Log(r.Context(), entry)

	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeError(w, http.StatusTooManyRequests, err.Error())
}

// reject records a pipeline refusal (no upstream response involved) and
// answers the client.
func (s *Service) reject(w http.ResponseWriter, r *http.Request, upstream *domain.Upstream, started time.Time, status int, message string) {
	if upstream != nil {
		entry := s.newEntry(r, upstream, r.URL.Path)
		entry.ErrorMessage = message
		entry.LatencyMs = time.Since(started).Milliseconds()
		s.audit.Log(r.Context(), entry)
		s.metrics.ObserveProxyRequest(upstream.Name, status, time.Since(started))
	}
	writeError(w, status, message)
}

func (s *Service) newEntry(r *http.Request, upstream *domain.Upstream, path string) *domain.RequestLog {
	return &domain.RequestLog{
		UpstreamID: upstream.ID,
		Method:     r.Method,
		Path:       path,
		ClientIP:   util.GetClientIP(r, s.trust),
	}
}

// relayResponse writes the upstream response back to the client, hop-by-hop
// headers stripped.
func relayResponse(w http.ResponseWriter, resp *http.Response, body []byte) {
	out := resp.Header.Clone()
	headers.StripHopByHop(out)
	for name, values := range out {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if len(body) > 0 {
		w.Write(body)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q}`, message)
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name := range h {
		out[name] = h.Get(name)
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
