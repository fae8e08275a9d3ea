// Package headers builds the outbound header map: inbound headers minus
// hop-by-hop, plus the upstream's static and scripted header configs, plus
// the credential at its configured placement.
package headers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	jsoniter "github.com/json-iterator/go"

	"github.com/quayside/keygate/internal/adapter/script"
	"github.com/quayside/keygate/internal/core/domain"
	"github.com/quayside/keygate/internal/core/ports"
	"github.com/quayside/keygate/internal/logger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ScriptMetrics counts script evaluation failures by error class.
type ScriptMetrics interface {
	ScriptFailed(class string)
}

type Assembler struct {
	store      ports.HeaderConfigStore
	scriptHost ports.ScriptHost
	metrics    ScriptMetrics
	logger     *logger.StyledLogger
}

// NewAssembler wires the assembler against the header config store and the
// script host. metrics may be nil.
func NewAssembler(store ports.HeaderConfigStore, scriptHost ports.ScriptHost, metrics ScriptMetrics, log *logger.StyledLogger) *Assembler {
	return &Assembler{
		store:      store,
		scriptHost: scriptHost,
		metrics:    metrics,
		logger:     log,
	}
}

// Assemble produces the outbound headers for one request. Configs apply in
// ascending priority order, so a later (higher priority) config overwrites
// an earlier one writing the same header. Script failures go through the
// config's fallback policy; only fallback=fail aborts the request.
func (a *Assembler) Assemble(ctx context.Context, upstream *domain.Upstream, inbound http.Header, cred *domain.Credential, method, path string) (http.Header, error) {
	out := CloneStripped(inbound)

	configs, err := a.store.ListEnabledHeaderConfigs(ctx, upstream.ID)
	if err != nil {
		return nil, fmt.Errorf("load header configs: %w", err)
	}

	sctx := script.BuildContext(method, path, flatten(inbound))

	for _, cfg := range configs {
		if !cfg.Scripted() {
			out.Set(cfg.HeaderName, cfg.StaticValue)
			continue
		}

		value, err := a.scriptHost.Execute(ctx, cfg.Kind, cfg.ScriptContent, sctx, cfg.Timeout(0))
		if err == nil {
			out.Set(cfg.HeaderName, value)
			continue
		}

		a.logger.Warn("header script failed",
			"upstream", upstream.Name,
			"header", cfg.HeaderName,
			"fallback", string(cfg.Fallback),
			"error", err)
		if a.metrics != nil {
			a.metrics.ScriptFailed(scriptErrorClass(err))
		}

		switch cfg.Fallback {
		case domain.FallbackUseValue:
			out.Set(cfg.HeaderName, cfg.FallbackValue)
		case domain.FallbackFail:
			return nil, err
		default:
			// use_default keeps whatever the inbound request carried, which
			// may be nothing at all.
		}
	}

	if cred != nil && cred.Placement == domain.PlacementHeader {
		out.Set(cred.ParamName, cred.InjectedValue())
	}

	return out, nil
}

// InjectQuery appends the credential as a query parameter.
func InjectQuery(u *url.URL, cred *domain.Credential) {
	q := u.Query()
	q.Set(cred.ParamName, cred.Secret)
	u.RawQuery = q.Encode()
}

// InjectBody merges the credential into a JSON request body. Non-JSON bodies
// pass through untouched; body placement is a JSON-only contract.
func InjectBody(body []byte, cred *domain.Credential) ([]byte, error) {
	if len(body) == 0 {
		return json.Marshal(map[string]string{cred.ParamName: cred.Secret})
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return body, fmt.Errorf("body placement requires a JSON object body: %w", err)
	}
	doc[cred.ParamName] = cred.Secret
	return json.Marshal(doc)
}

func scriptErrorClass(err error) string {
	var serr *domain.ScriptError
	if errors.As(err, &serr) {
		return string(serr.Class)
	}
	return string(domain.ScriptRuntimeError)
}

func flatten(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name := range h {
		out[name] = h.Get(name)
	}
	return out
}
