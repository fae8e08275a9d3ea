package app

import (
	"net/http"
	"strconv"

	"github.com/quayside/keygate/internal/core/ports"
)

func (api *adminAPI) handleListLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ports.RequestLogFilter{
		UpstreamID:   queryInt64(q.Get("upstream_id")),
		CredentialID: queryInt64(q.Get("api_key_id")),
		StatusCode:   int(queryInt64(q.Get("status_code"))),
		ErrorsOnly:   q.Get("errors_only") == "true",
		Limit:        int(queryInt64(q.Get("limit"))),
		Offset:       int(queryInt64(q.Get("offset"))),
	}

	logs, total, err := api.store.ListRequestLogs(r.Context(), filter)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "list logs: %v", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":  logs,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func queryInt64(raw string) int64 {
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
