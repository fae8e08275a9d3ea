// Package script evaluates header-value expressions in sandboxed engines.
// Scripts see a read-only context and nothing else: no filesystem, network
// or process environment. The timeout is a hard wall enforced by engine
// interruption.
package script

import (
	"context"
	"fmt"
	"time"

	"github.com/quayside/keygate/internal/core/domain"
	"github.com/quayside/keygate/internal/core/ports"
	"github.com/quayside/keygate/internal/logger"
)

type Host struct {
	logger       *logger.StyledLogger
	maxTimeout   time.Duration
	enablePython bool
}

func NewHost(maxTimeout time.Duration, enablePython bool, log *logger.StyledLogger) *Host {
	if maxTimeout <= 0 {
		maxTimeout = time.Second
	}
	return &Host{
		logger:       log,
		maxTimeout:   maxTimeout,
		enablePython: enablePython,
	}
}

// Execute runs source under the requested dialect and returns its string
// result. Errors are always *domain.ScriptError.
func (h *Host) Execute(ctx context.Context, kind domain.HeaderValueKind, source string, sctx ports.ScriptContext, timeout time.Duration) (string, error) {
	if timeout <= 0 || timeout > h.maxTimeout {
		timeout = h.maxTimeout
	}

	switch kind {
	case domain.HeaderJavaScript:
		return h.runJavaScript(ctx, source, sctx, timeout)
	case domain.HeaderPython:
		if !h.enablePython {
			return "", domain.NewScriptError(domain.ScriptUnsupportedDialect,
				fmt.Errorf("python scripts are disabled"))
		}
		return h.runStarlark(ctx, source, sctx, timeout)
	default:
		return "", domain.NewScriptError(domain.ScriptUnsupportedDialect,
			fmt.Errorf("unsupported script dialect %q", kind))
	}
}

// BuildContext assembles the read-only view scripts evaluate against.
func BuildContext(method, path string, headers map[string]string) ports.ScriptContext {
	if headers == nil {
		headers = map[string]string{}
	}
	return ports.ScriptContext{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Method:    method,
		Path:      path,
		Headers:   headers,
	}
}
