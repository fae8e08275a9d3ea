package app

import (
	"errors"
	"net/http"

	"github.com/quayside/keygate/internal/core/domain"
)

var validRuleActions = map[domain.RuleAction]bool{
	domain.ActionDisableCredential: true,
	domain.ActionBanCredential:     true,
	domain.ActionAlert:             true,
	domain.ActionLog:               true,
}

func (api *adminAPI) handleListRules(w http.ResponseWriter, r *http.Request) {
	upstreamID, err := pathID(r, "id")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid upstream id")
		return
	}

	rules, err := api.store.ListRules(r.Context(), upstreamID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "list rules: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (api *adminAPI) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	upstreamID, err := pathID(r, "id")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid upstream id")
		return
	}

	var rule domain.Rule
	if err := decodeBody(r, &rule); err != nil {
		writeErr(w, http.StatusBadRequest, "%v", err)
		return
	}
	rule.UpstreamID = upstreamID

	if err := validateRule(&rule); err != nil {
		writeErr(w, http.StatusBadRequest, "%v", err)
		return
	}

	if err := api.store.CreateRule(r.Context(), &rule); err != nil {
		writeErr(w, http.StatusInternalServerError, "create rule: %v", err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (api *adminAPI) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	rule, err := api.store.GetRule(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "rule %d not found", id)
			return
		}
		writeErr(w, http.StatusInternalServerError, "get rule: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (api *adminAPI) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	existing, err := api.store.GetRule(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "rule %d not found", id)
			return
		}
		writeErr(w, http.StatusInternalServerError, "get rule: %v", err)
		return
	}

	var rule domain.Rule
	if err := decodeBody(r, &rule); err != nil {
		writeErr(w, http.StatusBadRequest, "%v", err)
		return
	}
	rule.ID = id
	rule.UpstreamID = existing.UpstreamID

	if err := validateRule(&rule); err != nil {
		writeErr(w, http.StatusBadRequest, "%v", err)
		return
	}

	if err := api.store.UpdateRule(r.Context(), &rule); err != nil {
		writeErr(w, http.StatusInternalServerError, "update rule: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (api *adminAPI) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	if err := api.store.DeleteRule(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "rule %d not found", id)
			return
		}
		writeErr(w, http.StatusInternalServerError, "delete rule: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func validateRule(rule *domain.Rule) error {
	if rule.Name == "" {
		return errors.New("name is required")
	}
	if rule.Conditions.Type == "" {
		return errors.New("conditions are required")
	}
	if len(rule.Actions) == 0 {
		return errors.New("at least one action is required")
	}
	for _, action := range rule.Actions {
		if !validRuleActions[action] {
			return errors.New("unknown action " + string(action))
		}
	}
	return nil
}
