package script

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/quayside/keygate/internal/core/domain"
	"github.com/quayside/keygate/internal/core/ports"
)

var errInterrupted = errors.New("script interrupted")

// runJavaScript evaluates source in a fresh goja runtime. The runtime is
// never reused, so scripts cannot smuggle state between evaluations.
func (h *Host) runJavaScript(ctx context.Context, source string, sctx ports.ScriptContext, timeout time.Duration) (string, error) {
	vm := goja.New()

	// Expose the context as plain values. goja copies these in, the script
	// can mutate its copies freely without touching the host.
	if err := vm.Set("timestamp", sctx.Timestamp); err != nil {
		return "", domain.NewScriptError(domain.ScriptRuntimeError, err)
	}
	if err := vm.Set("request", map[string]interface{}{
		"method":  sctx.Method,
		"path":    sctx.Path,
		"headers": sctx.Headers,
	}); err != nil {
		return "", domain.NewScriptError(domain.ScriptRuntimeError, err)
	}

	program, err := goja.Compile("header_script", source, false)
	if err != nil {
		return "", domain.NewScriptError(domain.ScriptCompileError, err)
	}

	timer := time.AfterFunc(timeout, func() {
		vm.Interrupt(errInterrupted)
	})
	defer timer.Stop()

	done := ctx.Done()
	if done != nil {
		stop := context.AfterFunc(ctx, func() {
			vm.Interrupt(ctx.Err())
		})
		defer stop()
	}

	value, err := vm.RunProgram(program)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return "", domain.NewScriptError(domain.ScriptTimeout,
				fmt.Errorf("evaluation exceeded %s", timeout))
		}
		return "", domain.NewScriptError(domain.ScriptRuntimeError, err)
	}

	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return "", nil
	}
	return value.String(), nil
}
