package app

import (
	"errors"
	"net/http"
	"time"

	"github.com/quayside/keygate/internal/core/domain"
	"github.com/quayside/keygate/internal/core/ports"
)

// handleTestScript evaluates a script against a synthetic request context so
// operators can try header expressions before saving them.
func (api *adminAPI) handleTestScript(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ValueType     string            `json:"value_type"`
		ScriptContent string            `json:"script_content"`
		TimeoutMs     int               `json:"timeout_ms"`
		Method        string            `json:"method"`
		Path          string            `json:"path"`
		Headers       map[string]string `json:"headers"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeErr(w, http.StatusBadRequest, "%v", err)
		return
	}
	if body.ScriptContent == "" {
		writeErr(w, http.StatusBadRequest, "script_content is required")
		return
	}

	kind := domain.HeaderValueKind(body.ValueType)
	switch kind {
	case domain.HeaderJavaScript, domain.HeaderPython:
	default:
		writeErr(w, http.StatusBadRequest, "value_type must be javascript or python")
		return
	}

	method := body.Method
	if method == "" {
		method = http.MethodGet
	}
	path := body.Path
	if path == "" {
		path = "/"
	}

	sctx := ports.ScriptContext{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Method:    method,
		Path:      path,
		Headers:   body.Headers,
	}

	started := time.Now()
	result, err := api.scriptHost.Execute(r.Context(), kind, body.ScriptContent, sctx, time.Duration(body.TimeoutMs)*time.Millisecond)
	elapsed := time.Since(started).Milliseconds()

	if err != nil {
		response := map[string]interface{}{
			"success":    false,
			"error":      err.Error(),
			"elapsed_ms": elapsed,
		}
		var scriptErr *domain.ScriptError
		if errors.As(err, &scriptErr) {
			response["error_class"] = string(scriptErr.Class)
		}
		writeJSON(w, http.StatusOK, response)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"result":     result,
		"elapsed_ms": elapsed,
	})
}
