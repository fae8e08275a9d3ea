package proxy

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quayside/keygate/internal/adapter/audit"
	"github.com/quayside/keygate/internal/adapter/headers"
	"github.com/quayside/keygate/internal/adapter/metrics"
	"github.com/quayside/keygate/internal/adapter/ratelimit"
	"github.com/quayside/keygate/internal/adapter/rules"
	"github.com/quayside/keygate/internal/adapter/script"
	"github.com/quayside/keygate/internal/adapter/selector"
	"github.com/quayside/keygate/internal/adapter/store"
	"github.com/quayside/keygate/internal/config"
	"github.com/quayside/keygate/internal/core/domain"
	"github.com/quayside/keygate/internal/core/ports"
	"github.com/quayside/keygate/internal/logger"
)

type testEnv struct {
	store   *store.Store
	limiter *ratelimit.SlidingWindow
	service *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logger.NewPlain(slog.Default())

	db, err := store.Open(context.Background(), store.Options{
		URL: filepath.Join(t.TempDir(), "proxy_test.db"),
	}, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	limiter := ratelimit.NewSlidingWindow(log)
	t.Cleanup(limiter.Stop)

	scriptHost := script.NewHost(time.Second, false, log)
	svc := NewService(
		db,
		ratelimit.NewGate(limiter),
		selector.New(db, nil, log),
		headers.NewAssembler(db, scriptHost, nil, log),
		rules.NewEngine(db, nil, log),
		audit.New(db, log),
		nil,
		metrics.New(),
		log,
		config.ProxyConfig{SelectionStrategy: "round_robin"},
		false,
	)
	// No real sleeping between retry attempts in tests.
	svc.sleep = func(context.Context, time.Duration) error { return nil }

	return &testEnv{store: db, limiter: limiter, service: svc}
}

func (e *testEnv) seedUpstream(t *testing.T, baseURL string, mutate func(*domain.Upstream)) *domain.Upstream {
	t.Helper()
	u := &domain.Upstream{
		Name:       "acme",
		BaseURL:    baseURL,
		Enabled:    true,
		RetryCount: 0,
		Timeout:    5,
	}
	if mutate != nil {
		mutate(u)
	}
	require.NoError(t, e.store.CreateUpstream(context.Background(), u))
	return u
}

func (e *testEnv) seedCredential(t *testing.T, upstreamID int64, mutate func(*domain.Credential)) *domain.Credential {
	t.Helper()
	c := &domain.Credential{
		UpstreamID:  upstreamID,
		Secret:      "sk-test",
		Placement:   domain.PlacementHeader,
		ParamName:   "Authorization",
		ValuePrefix: "Bearer ",
	}
	if mutate != nil {
		mutate(c)
	}
	require.NoError(t, e.store.CreateCredential(context.Background(), c))
	return c
}

func doProxy(e *testEnv, method, path, remainder string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	e.service.Forward(rec, req, "acme", remainder)
	return rec
}

func TestForward_InjectsCredentialHeader(t *testing.T) {
	env := newTestEnv(t)

	var gotAuth atomic.Value
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		w.Header().Set("X-Upstream", "acme")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	u := env.seedUpstream(t, upstream.URL, nil)
	env.seedCredential(t, u.ID, nil)

	rec := doProxy(env, http.MethodGet, "/proxy/acme/v1/models", "v1/models")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"ok":true}`, rec.Body.String())
	assert.Equal(t, "acme", rec.Header().Get("X-Upstream"))
	assert.Equal(t, "Bearer sk-test", gotAuth.Load())
}

func TestForward_QueryPlacement(t *testing.T) {
	env := newTestEnv(t)

	var gotKey atomic.Value
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey.Store(r.URL.Query().Get("api_key"))
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	u := env.seedUpstream(t, upstream.URL, nil)
	env.seedCredential(t, u.ID, func(c *domain.Credential) {
		c.Placement = domain.PlacementQuery
		c.ParamName = "api_key"
	})

	rec := doProxy(env, http.MethodGet, "/proxy/acme/v1/search?q=x", "v1/search")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sk-test", gotKey.Load())
}

func TestForward_UnknownUpstreamIs404(t *testing.T) {
	env := newTestEnv(t)

	rec := doProxy(env, http.MethodGet, "/proxy/acme/v1", "v1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestForward_DisabledUpstreamIs404AndUnlogged(t *testing.T) {
	env := newTestEnv(t)
	u := env.seedUpstream(t, "http://127.0.0.1:1", func(u *domain.Upstream) { u.Enabled = false })

	rec := doProxy(env, http.MethodGet, "/proxy/acme/v1", "v1")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Indistinguishable from an unknown upstream: no audit row either.
	_, total, err := env.store.ListRequestLogs(context.Background(), ports.RequestLogFilter{UpstreamID: u.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestForward_NoCredentialIs503(t *testing.T) {
	env := newTestEnv(t)
	env.seedUpstream(t, "http://127.0.0.1:1", nil)

	rec := doProxy(env, http.MethodGet, "/proxy/acme/v1", "v1")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestForward_RateLimitedIs429WithRetryAfter(t *testing.T) {
	env := newTestEnv(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	u := env.seedUpstream(t, upstream.URL, func(u *domain.Upstream) {
		u.RateLimit = domain.RateLimitPolicy{Enabled: true, RequestsPerMinute: 1}
	})
	env.seedCredential(t, u.ID, nil)

	first := doProxy(env, http.MethodGet, "/proxy/acme/v1", "v1")
	require.Equal(t, http.StatusOK, first.Code)

	second := doProxy(env, http.MethodGet, "/proxy/acme/v1", "v1")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "60", second.Header().Get("Retry-After"))

	logs, _, err := env.store.ListRequestLogs(context.Background(), ports.RequestLogFilter{UpstreamID: u.ID, ErrorsOnly: true})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "rate_limited", logs[0].ErrorMessage)
}

func TestForward_Retries5xxThenSucceeds(t *testing.T) {
	env := newTestEnv(t)

	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	u := env.seedUpstream(t, upstream.URL, func(u *domain.Upstream) { u.RetryCount = 2 })
	env.seedCredential(t, u.ID, nil)

	rec := doProxy(env, http.MethodGet, "/proxy/acme/v1", "v1")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(3), calls.Load())
}

func TestForward_4xxIsNeverRetried(t *testing.T) {
	env := newTestEnv(t)

	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer upstream.Close()

	u := env.seedUpstream(t, upstream.URL, func(u *domain.Upstream) { u.RetryCount = 3 })
	env.seedCredential(t, u.ID, nil)

	rec := doProxy(env, http.MethodGet, "/proxy/acme/v1", "v1")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, int32(1), calls.Load(), "client errors pass straight through")
}

func TestForward_ExhaustedRetryBudgetReturnsFinal5xx(t *testing.T) {
	env := newTestEnv(t)

	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	u := env.seedUpstream(t, upstream.URL, func(u *domain.Upstream) { u.RetryCount = 2 })
	env.seedCredential(t, u.ID, nil)

	rec := doProxy(env, http.MethodGet, "/proxy/acme/v1", "v1")

	// The final attempt's response is relayed, not masked as a gateway error.
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, int32(3), calls.Load())
}

func TestForward_UnreachableUpstreamIs502(t *testing.T) {
	env := newTestEnv(t)

	u := env.seedUpstream(t, "http://127.0.0.1:1", nil)
	env.seedCredential(t, u.ID, nil)

	rec := doProxy(env, http.MethodGet, "/proxy/acme/v1", "v1")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestForward_DispatchFailureStillChargesUsage(t *testing.T) {
	env := newTestEnv(t)

	u := env.seedUpstream(t, "http://127.0.0.1:1", nil)
	cred := env.seedCredential(t, u.ID, func(c *domain.Credential) {
		c.QuotaEnabled = true
		c.QuotaTotal = 100
	})

	rec := doProxy(env, http.MethodGet, "/proxy/acme/v1", "v1")
	require.Equal(t, http.StatusBadGateway, rec.Code)

	// Attempts went out on the wire, so the failure costs a quota unit too.
	got, err := env.store.GetCredential(context.Background(), cred.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.QuotaUsed)
}

func TestForward_LoggedRequestHeadersOmitCredential(t *testing.T) {
	env := newTestEnv(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	u := env.seedUpstream(t, upstream.URL, func(u *domain.Upstream) { u.LogRequestBody = true })
	env.seedCredential(t, u.ID, nil)

	req := httptest.NewRequest(http.MethodGet, "/proxy/acme/v1", nil)
	req.Header.Set("X-Client-Version", "1.2.3")
	rec := httptest.NewRecorder()
	env.service.Forward(rec, req, "acme", "v1")
	require.Equal(t, http.StatusOK, rec.Code)

	logs, _, err := env.store.ListRequestLogs(context.Background(), ports.RequestLogFilter{UpstreamID: u.ID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].RequestHeaders)

	assert.Equal(t, "1.2.3", logs[0].RequestHeaders["X-Client-Version"])
	for name, value := range logs[0].RequestHeaders {
		assert.NotContains(t, value, "sk-test", "header %s must not carry the secret", name)
	}
}

func TestForward_ChargesUsageAndWritesAudit(t *testing.T) {
	env := newTestEnv(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	u := env.seedUpstream(t, upstream.URL, nil)
	cred := env.seedCredential(t, u.ID, func(c *domain.Credential) {
		c.QuotaEnabled = true
		c.QuotaTotal = 100
	})

	rec := doProxy(env, http.MethodGet, "/proxy/acme/v1/models", "v1/models")
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := env.store.GetCredential(context.Background(), cred.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.QuotaUsed)

	logs, total, err := env.store.ListRequestLogs(context.Background(), ports.RequestLogFilter{UpstreamID: u.ID})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.NotNil(t, logs[0].StatusCode)
	assert.Equal(t, http.StatusOK, *logs[0].StatusCode)
	assert.Equal(t, "v1/models", logs[0].Path)
	require.NotNil(t, logs[0].CredentialID)
	assert.Equal(t, cred.ID, *logs[0].CredentialID)
}

func TestForward_RuleDisablesCredentialOnResponse(t *testing.T) {
	env := newTestEnv(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer upstream.Close()

	u := env.seedUpstream(t, upstream.URL, nil)
	cred := env.seedCredential(t, u.ID, nil)

	require.NoError(t, env.store.CreateRule(context.Background(), &domain.Rule{
		UpstreamID: u.ID,
		Name:       "disable-on-401",
		Conditions: domain.Condition{Type: "status_code", Operator: "equals", Value: float64(401)},
		Actions:    []domain.RuleAction{domain.ActionDisableCredential},
		Enabled:    true,
	}))

	rec := doProxy(env, http.MethodGet, "/proxy/acme/v1", "v1")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	got, err := env.store.GetCredential(context.Background(), cred.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CredentialDisabled, got.Status)

	logs, _, err := env.store.ListRequestLogs(context.Background(), ports.RequestLogFilter{UpstreamID: u.ID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.NotEmpty(t, logs[0].TriggeredRules)
}
