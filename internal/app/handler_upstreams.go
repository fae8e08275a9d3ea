package app

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/quayside/keygate/internal/core/domain"
	"github.com/quayside/keygate/internal/core/ports"
	"github.com/quayside/keygate/internal/logger"
	"github.com/quayside/keygate/internal/util"
)

// adminAPI serves the management surface: upstreams, credentials, header
// configs, rules, logs and the dashboard.
type adminAPI struct {
	store      ports.Store
	scriptHost ports.ScriptHost
	logger     *logger.StyledLogger
}

func newAdminAPI(store ports.Store, scriptHost ports.ScriptHost, log *logger.StyledLogger) *adminAPI {
	return &adminAPI{store: store, scriptHost: scriptHost, logger: log}
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func (api *adminAPI) handleListUpstreams(w http.ResponseWriter, r *http.Request) {
	upstreams, err := api.store.ListUpstreams(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "list upstreams: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, upstreams)
}

func (api *adminAPI) handleCreateUpstream(w http.ResponseWriter, r *http.Request) {
	var upstream domain.Upstream
	if err := decodeBody(r, &upstream); err != nil {
		writeErr(w, http.StatusBadRequest, "%v", err)
		return
	}
	if upstream.Name == "" || upstream.BaseURL == "" {
		writeErr(w, http.StatusBadRequest, "name and base_url are required")
		return
	}
	upstream.BaseURL = util.NormaliseBaseURL(upstream.BaseURL)

	if err := api.store.CreateUpstream(r.Context(), &upstream); err != nil {
		writeErr(w, http.StatusInternalServerError, "create upstream: %v", err)
		return
	}

	api.logger.InfoWithUpstream("upstream created", upstream.Name, "id", upstream.ID)
	writeJSON(w, http.StatusCreated, upstream)
}

func (api *adminAPI) handleGetUpstream(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid upstream id")
		return
	}

	upstream, err := api.store.GetUpstream(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrUpstreamNotFound) {
			writeErr(w, http.StatusNotFound, "upstream %d not found", id)
			return
		}
		writeErr(w, http.StatusInternalServerError, "get upstream: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, upstream)
}

func (api *adminAPI) handleUpdateUpstream(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid upstream id")
		return
	}

	var upstream domain.Upstream
	if err := decodeBody(r, &upstream); err != nil {
		writeErr(w, http.StatusBadRequest, "%v", err)
		return
	}
	upstream.ID = id
	upstream.BaseURL = util.NormaliseBaseURL(upstream.BaseURL)

	if err := api.store.UpdateUpstream(r.Context(), &upstream); err != nil {
		if errors.Is(err, domain.ErrUpstreamNotFound) {
			writeErr(w, http.StatusNotFound, "upstream %d not found", id)
			return
		}
		writeErr(w, http.StatusInternalServerError, "update upstream: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, upstream)
}

func (api *adminAPI) handleDeleteUpstream(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid upstream id")
		return
	}

	if err := api.store.DeleteUpstream(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrUpstreamNotFound) {
			writeErr(w, http.StatusNotFound, "upstream %d not found", id)
			return
		}
		writeErr(w, http.StatusInternalServerError, "delete upstream: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
