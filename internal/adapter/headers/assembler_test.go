package headers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quayside/keygate/internal/adapter/script"
	"github.com/quayside/keygate/internal/core/domain"
	"github.com/quayside/keygate/internal/logger"
)

type fakeConfigStore struct {
	configs []*domain.HeaderConfig
}

func (f *fakeConfigStore) CreateHeaderConfig(context.Context, *domain.HeaderConfig) error {
	return nil
}
func (f *fakeConfigStore) GetHeaderConfig(context.Context, int64) (*domain.HeaderConfig, error) {
	return nil, domain.ErrNotFound
}
func (f *fakeConfigStore) ListHeaderConfigs(context.Context, int64) ([]*domain.HeaderConfig, error) {
	return f.configs, nil
}
func (f *fakeConfigStore) ListEnabledHeaderConfigs(context.Context, int64) ([]*domain.HeaderConfig, error) {
	return f.configs, nil
}
func (f *fakeConfigStore) UpdateHeaderConfig(context.Context, *domain.HeaderConfig) error {
	return nil
}
func (f *fakeConfigStore) DeleteHeaderConfig(context.Context, int64) error { return nil }

func newTestAssembler(configs ...*domain.HeaderConfig) *Assembler {
	log := logger.NewPlain(slog.Default())
	host := script.NewHost(time.Second, false, log)
	return NewAssembler(&fakeConfigStore{configs: configs}, host, nil, log)
}

func testUpstream() *domain.Upstream {
	return &domain.Upstream{ID: 1, Name: "openai"}
}

func headerCred() *domain.Credential {
	return &domain.Credential{
		ID:          7,
		Secret:      "sk-12345",
		Placement:   domain.PlacementHeader,
		ParamName:   "Authorization",
		ValuePrefix: "Bearer ",
	}
}

func TestAssemble_StaticHeader(t *testing.T) {
	asm := newTestAssembler(&domain.HeaderConfig{
		HeaderName:  "X-Org",
		Kind:        domain.HeaderStatic,
		StaticValue: "acme",
		Enabled:     true,
	})

	out, err := asm.Assemble(context.Background(), testUpstream(), http.Header{}, headerCred(), "GET", "v1/models")
	require.NoError(t, err)
	assert.Equal(t, "acme", out.Get("X-Org"))
	assert.Equal(t, "Bearer sk-12345", out.Get("Authorization"))
}

func TestAssemble_HigherPriorityOverwrites(t *testing.T) {
	// Configs arrive in ascending priority order from the store; the later
	// one wins on a shared header name.
	asm := newTestAssembler(
		&domain.HeaderConfig{HeaderName: "X-Env", Kind: domain.HeaderStatic, StaticValue: "staging", Priority: 1, Enabled: true},
		&domain.HeaderConfig{HeaderName: "X-Env", Kind: domain.HeaderStatic, StaticValue: "production", Priority: 5, Enabled: true},
	)

	out, err := asm.Assemble(context.Background(), testUpstream(), http.Header{}, headerCred(), "GET", "")
	require.NoError(t, err)
	assert.Equal(t, "production", out.Get("X-Env"))
}

func TestAssemble_ScriptedHeader(t *testing.T) {
	asm := newTestAssembler(&domain.HeaderConfig{
		HeaderName:    "X-Signature",
		Kind:          domain.HeaderJavaScript,
		ScriptContent: `"sig-" + request.method`,
		Enabled:       true,
	})

	out, err := asm.Assemble(context.Background(), testUpstream(), http.Header{}, headerCred(), "POST", "v1/chat")
	require.NoError(t, err)
	assert.Equal(t, "sig-POST", out.Get("X-Signature"))
}

func TestAssemble_FallbackUseValue(t *testing.T) {
	asm := newTestAssembler(&domain.HeaderConfig{
		HeaderName:    "X-Signature",
		Kind:          domain.HeaderJavaScript,
		ScriptContent: `broken(`,
		Fallback:      domain.FallbackUseValue,
		FallbackValue: "static-fallback",
		Enabled:       true,
	})

	out, err := asm.Assemble(context.Background(), testUpstream(), http.Header{}, headerCred(), "GET", "")
	require.NoError(t, err)
	assert.Equal(t, "static-fallback", out.Get("X-Signature"))
}

type recordingScriptMetrics struct {
	classes []string
}

func (r *recordingScriptMetrics) ScriptFailed(class string) {
	r.classes = append(r.classes, class)
}

func TestAssemble_ScriptFailureRecordsMetric(t *testing.T) {
	log := logger.NewPlain(slog.Default())
	rec := &recordingScriptMetrics{}
	asm := NewAssembler(&fakeConfigStore{configs: []*domain.HeaderConfig{{
		HeaderName:    "X-Signature",
		Kind:          domain.HeaderJavaScript,
		ScriptContent: `broken(`,
		Fallback:      domain.FallbackUseValue,
		FallbackValue: "fb",
		Enabled:       true,
	}}}, script.NewHost(time.Second, false, log), rec, log)

	out, err := asm.Assemble(context.Background(), testUpstream(), http.Header{}, headerCred(), "GET", "")
	require.NoError(t, err)
	assert.Equal(t, "fb", out.Get("X-Signature"))

	require.Len(t, rec.classes, 1)
	assert.Equal(t, string(domain.ScriptCompileError), rec.classes[0])
}

func TestAssemble_FallbackFailAborts(t *testing.T) {
	asm := newTestAssembler(&domain.HeaderConfig{
		HeaderName:    "X-Signature",
		Kind:          domain.HeaderJavaScript,
		ScriptContent: `broken(`,
		Fallback:      domain.FallbackFail,
		Enabled:       true,
	})

	_, err := asm.Assemble(context.Background(), testUpstream(), http.Header{}, headerCred(), "GET", "")
	require.Error(t, err)

	var scriptErr *domain.ScriptError
	assert.ErrorAs(t, err, &scriptErr)
}

func TestAssemble_FallbackUseDefaultKeepsInbound(t *testing.T) {
	asm := newTestAssembler(&domain.HeaderConfig{
		HeaderName:    "X-Trace",
		Kind:          domain.HeaderJavaScript,
		ScriptContent: `broken(`,
		Fallback:      domain.FallbackUseDefault,
		Enabled:       true,
	})

	inbound := http.Header{}
	inbound.Set("X-Trace", "client-supplied")

	out, err := asm.Assemble(context.Background(), testUpstream(), inbound, headerCred(), "GET", "")
	require.NoError(t, err)
	assert.Equal(t, "client-supplied", out.Get("X-Trace"))
}

func TestAssemble_StripsHopByHop(t *testing.T) {
	asm := newTestAssembler()

	inbound := http.Header{}
	inbound.Set("Connection", "keep-alive, X-Internal")
	inbound.Set("Keep-Alive", "timeout=5")
	inbound.Set("Transfer-Encoding", "chunked")
	inbound.Set("X-Internal", "secret")
	inbound.Set("Accept", "application/json")

	out, err := asm.Assemble(context.Background(), testUpstream(), inbound, headerCred(), "GET", "")
	require.NoError(t, err)
	assert.Empty(t, out.Get("Connection"))
	assert.Empty(t, out.Get("Keep-Alive"))
	assert.Empty(t, out.Get("Transfer-Encoding"))
	assert.Empty(t, out.Get("X-Internal"), "Connection-named headers must be dropped")
	assert.Equal(t, "application/json", out.Get("Accept"))
}

func TestAssemble_NonHeaderPlacementLeavesHeadersAlone(t *testing.T) {
	asm := newTestAssembler()
	cred := headerCred()
	cred.Placement = domain.PlacementQuery
	cred.ParamName = "api_key"

	out, err := asm.Assemble(context.Background(), testUpstream(), http.Header{}, cred, "GET", "")
	require.NoError(t, err)
	assert.Empty(t, out.Get("api_key"))
	assert.Empty(t, out.Get("Authorization"))
}

func TestInjectQuery(t *testing.T) {
	u, _ := url.Parse("https://api.example.com/v1/search?q=test")
	InjectQuery(u, &domain.Credential{ParamName: "api_key", Secret: "sk-9"})

	q := u.Query()
	assert.Equal(t, "sk-9", q.Get("api_key"))
	assert.Equal(t, "test", q.Get("q"))
}

func TestInjectBody(t *testing.T) {
	cred := &domain.Credential{ParamName: "api_key", Secret: "sk-9"}

	merged, err := InjectBody([]byte(`{"model":"gpt"}`), cred)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(merged, &doc))
	assert.Equal(t, "sk-9", doc["api_key"])
	assert.Equal(t, "gpt", doc["model"])
}

func TestInjectBody_EmptyBody(t *testing.T) {
	merged, err := InjectBody(nil, &domain.Credential{ParamName: "api_key", Secret: "sk-9"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"api_key":"sk-9"}`, string(merged))
}

func TestInjectBody_NonJSONErrors(t *testing.T) {
	_, err := InjectBody([]byte("plain text"), &domain.Credential{ParamName: "api_key", Secret: "sk-9"})
	assert.Error(t, err)
}
