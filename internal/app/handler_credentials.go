package app

import (
	"errors"
	"net/http"

	"github.com/quayside/keygate/internal/core/domain"
)

func (api *adminAPI) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	upstreamID, err := pathID(r, "id")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid upstream id")
		return
	}

	creds, err := api.store.ListCredentials(r.Context(), upstreamID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "list credentials: %v", err)
		return
	}

	masked := make([]domain.Credential, 0, len(creds))
	for _, c := range creds {
		masked = append(masked, c.Masked())
	}
	writeJSON(w, http.StatusOK, masked)
}

func (api *adminAPI) handleCreateCredential(w http.ResponseWriter, r *http.Request) {
	upstreamID, err := pathID(r, "id")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid upstream id")
		return
	}

	var cred domain.Credential
	if err := decodeBody(r, &cred); err != nil {
		writeErr(w, http.StatusBadRequest, "%v", err)
		return
	}
	cred.UpstreamID = upstreamID
	applyCredentialDefaults(&cred)

	if cred.Secret == "" {
		writeErr(w, http.StatusBadRequest, "key_value is required")
		return
	}

	if err := api.store.CreateCredential(r.Context(), &cred); err != nil {
		writeErr(w, http.StatusInternalServerError, "create credential: %v", err)
		return
	}
	writeJSON(w, http.StatusCreated, cred.Masked())
}

func (api *adminAPI) handleGetCredential(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid credential id")
		return
	}

	cred, err := api.store.GetCredential(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "credential %d not found", id)
			return
		}
		writeErr(w, http.StatusInternalServerError, "get credential: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, cred.Masked())
}

func (api *adminAPI) handleUpdateCredential(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid credential id")
		return
	}

	existing, err := api.store.GetCredential(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "credential %d not found", id)
			return
		}
		writeErr(w, http.StatusInternalServerError, "get credential: %v", err)
		return
	}

	var cred domain.Credential
	if err := decodeBody(r, &cred); err != nil {
		writeErr(w, http.StatusBadRequest, "%v", err)
		return
	}
	cred.ID = id
	cred.UpstreamID = existing.UpstreamID
	if cred.Secret == "" {
		// Masked reads round-tripped through a client must not clobber the
		// stored secret.
		cred.Secret = existing.Secret
	}
	applyCredentialDefaults(&cred)

	if err := api.store.UpdateCredential(r.Context(), &cred); err != nil {
		writeErr(w, http.StatusInternalServerError, "update credential: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, cred.Masked())
}

func (api *adminAPI) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid credential id")
		return
	}

	if err := api.store.DeleteCredential(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "credential %d not found", id)
			return
		}
		writeErr(w, http.StatusInternalServerError, "delete credential: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleSetCredentialStatus flips a credential between active and disabled.
// Banned credentials stay banned until an operator re-activates explicitly.
func (api *adminAPI) handleSetCredentialStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid credential id")
		return
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeErr(w, http.StatusBadRequest, "%v", err)
		return
	}

	status := domain.CredentialStatus(body.Status)
	switch status {
	case domain.CredentialActive, domain.CredentialDisabled, domain.CredentialBanned:
	default:
		writeErr(w, http.StatusBadRequest, "unknown status %q", body.Status)
		return
	}

	if err := api.store.SetCredentialStatus(r.Context(), id, status, nil); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "credential %d not found", id)
			return
		}
		writeErr(w, http.StatusInternalServerError, "set status: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

func applyCredentialDefaults(cred *domain.Credential) {
	if cred.Status == "" {
		cred.Status = domain.CredentialActive
	}
	if cred.Placement == "" {
		cred.Placement = domain.PlacementHeader
	}
	if cred.ParamName == "" {
		cred.ParamName = "Authorization"
	}
}
