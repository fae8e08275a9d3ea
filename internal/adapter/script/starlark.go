package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/quayside/keygate/internal/core/domain"
	"github.com/quayside/keygate/internal/core/ports"
)

// The "python" dialect runs as Starlark: a Python-shaped language that is
// sandboxed by construction. Scripts assign their output to `result`, the
// same convention the restricted evaluators in other gateways use.
func (h *Host) runStarlark(ctx context.Context, source string, sctx ports.ScriptContext, timeout time.Duration) (string, error) {
	thread := &starlark.Thread{Name: "header_script"}

	timer := time.AfterFunc(timeout, func() {
		thread.Cancel("timeout")
	})
	defer timer.Stop()

	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			thread.Cancel("request cancelled")
		})
		defer stop()
	}

	headers := starlark.NewDict(len(sctx.Headers))
	for k, v := range sctx.Headers {
		_ = headers.SetKey(starlark.String(k), starlark.String(v))
	}
	request := starlark.NewDict(3)
	_ = request.SetKey(starlark.String("method"), starlark.String(sctx.Method))
	_ = request.SetKey(starlark.String("path"), starlark.String(sctx.Path))
	_ = request.SetKey(starlark.String("headers"), headers)

	predeclared := starlark.StringDict{
		"timestamp": starlark.String(sctx.Timestamp),
		"request":   request,
	}

	opts := &syntax.FileOptions{
		// No while loops or recursion: evaluation stays bounded even before
		// the timeout fires.
		While:     false,
		Recursion: false,
		Set:       false,
	}

	globals, err := starlark.ExecFileOptions(opts, thread, "header_script.star", source, predeclared)
	if err != nil {
		return "", classifyStarlarkError(err, timeout)
	}

	result, ok := globals["result"]
	if !ok {
		return "", nil
	}
	if s, ok := starlark.AsString(result); ok {
		return s, nil
	}
	return result.String(), nil
}

func classifyStarlarkError(err error, timeout time.Duration) error {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		if strings.Contains(evalErr.Msg, "timeout") {
			return domain.NewScriptError(domain.ScriptTimeout,
				fmt.Errorf("evaluation exceeded %s", timeout))
		}
		return domain.NewScriptError(domain.ScriptRuntimeError, err)
	}
	// Resolver and syntax failures arrive before evaluation starts.
	return domain.NewScriptError(domain.ScriptCompileError, err)
}
