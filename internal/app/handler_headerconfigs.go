package app

import (
	"errors"
	"net/http"

	"github.com/quayside/keygate/internal/core/domain"
)

func (api *adminAPI) handleListHeaderConfigs(w http.ResponseWriter, r *http.Request) {
	upstreamID, err := pathID(r, "id")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid upstream id")
		return
	}

	configs, err := api.store.ListHeaderConfigs(r.Context(), upstreamID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "list header configs: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, configs)
}

func (api *adminAPI) handleCreateHeaderConfig(w http.ResponseWriter, r *http.Request) {
	upstreamID, err := pathID(r, "id")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid upstream id")
		return
	}

	var cfg domain.HeaderConfig
	if err := decodeBody(r, &cfg); err != nil {
		writeErr(w, http.StatusBadRequest, "%v", err)
		return
	}
	cfg.UpstreamID = upstreamID

	if cfg.HeaderName == "" {
		writeErr(w, http.StatusBadRequest, "header_name is required")
		return
	}
	if cfg.Scripted() && cfg.ScriptContent == "" {
		writeErr(w, http.StatusBadRequest, "script content is required for %s headers", cfg.Kind)
		return
	}

	if err := api.store.CreateHeaderConfig(r.Context(), &cfg); err != nil {
		writeErr(w, http.StatusInternalServerError, "create header config: %v", err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (api *adminAPI) handleGetHeaderConfig(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid header config id")
		return
	}

	cfg, err := api.store.GetHeaderConfig(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "header config %d not found", id)
			return
		}
		writeErr(w, http.StatusInternalServerError, "get header config: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (api *adminAPI) handleUpdateHeaderConfig(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid header config id")
		return
	}

	existing, err := api.store.GetHeaderConfig(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "header config %d not found", id)
			return
		}
		writeErr(w, http.StatusInternalServerError, "get header config: %v", err)
		return
	}

	var cfg domain.HeaderConfig
	if err := decodeBody(r, &cfg); err != nil {
		writeErr(w, http.StatusBadRequest, "%v", err)
		return
	}
	cfg.ID = id
	cfg.UpstreamID = existing.UpstreamID

	if err := api.store.UpdateHeaderConfig(r.Context(), &cfg); err != nil {
		writeErr(w, http.StatusInternalServerError, "update header config: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (api *adminAPI) handleDeleteHeaderConfig(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid header config id")
		return
	}

	if err := api.store.DeleteHeaderConfig(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "header config %d not found", id)
			return
		}
		writeErr(w, http.StatusInternalServerError, "delete header config: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
