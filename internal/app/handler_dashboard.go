package app

import (
	"net/http"

	"github.com/quayside/keygate/internal/core/domain"
	"github.com/quayside/keygate/internal/core/ports"
)

type dashboardSummary struct {
	Upstreams struct {
		Total   int `json:"total"`
		Enabled int `json:"enabled"`
	} `json:"upstreams"`
	Credentials struct {
		Total    int `json:"total"`
		Active   int `json:"active"`
		Disabled int `json:"disabled"`
		Banned   int `json:"banned"`
	} `json:"credentials"`
	Requests struct {
		Total  int64 `json:"total"`
		Errors int64 `json:"errors"`
	} `json:"requests"`
}

func (api *adminAPI) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var summary dashboardSummary

	upstreams, err := api.store.ListUpstreams(ctx)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "dashboard: %v", err)
		return
	}
	summary.Upstreams.Total = len(upstreams)
	for _, u := range upstreams {
		if u.Enabled {
			summary.Upstreams.Enabled++
		}

		creds, err := api.store.ListCredentials(ctx, u.ID)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, "dashboard: %v", err)
			return
		}
		summary.Credentials.Total += len(creds)
		for _, c := range creds {
			switch c.Status {
			case domain.CredentialActive:
				summary.Credentials.Active++
			case domain.CredentialDisabled:
				summary.Credentials.Disabled++
			case domain.CredentialBanned:
				summary.Credentials.Banned++
			}
		}
	}

	if _, total, err := api.store.ListRequestLogs(ctx, ports.RequestLogFilter{Limit: 1}); err == nil {
		summary.Requests.Total = total
	}
	if _, errTotal, err := api.store.ListRequestLogs(ctx, ports.RequestLogFilter{Limit: 1, ErrorsOnly: true}); err == nil {
		summary.Requests.Errors = errTotal
	}

	writeJSON(w, http.StatusOK, summary)
}
