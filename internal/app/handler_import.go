package app

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/quayside/keygate/internal/core/domain"
)

type importResult struct {
	SuccessCount int           `json:"success_count"`
	FailedCount  int           `json:"failed_count"`
	Errors       []importError `json:"errors"`
}

type importError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// handleImportCredentials bulk-loads credentials for an upstream from a CSV
// or JSON body. Rows are inserted independently; one bad row never aborts
// the batch.
func (api *adminAPI) handleImportCredentials(w http.ResponseWriter, r *http.Request) {
	upstreamID, err := pathID(r, "id")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid upstream id")
		return
	}

	var creds []domain.Credential
	contentType := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "text/csv"):
		creds, err = parseCSVCredentials(r.Body)
	default:
		creds, err = parseJSONCredentials(r.Body)
	}
	if err != nil {
		writeErr(w, http.StatusBadRequest, "%v", err)
		return
	}
	if len(creds) == 0 {
		writeErr(w, http.StatusBadRequest, "no credentials in import payload")
		return
	}

	result := importResult{Errors: []importError{}}
	for i := range creds {
		cred := &creds[i]
		cred.UpstreamID = upstreamID
		applyCredentialDefaults(cred)

		if cred.Secret == "" {
			result.FailedCount++
			result.Errors = append(result.Errors, importError{Row: i + 1, Error: "key_value is required"})
			continue
		}

		if err := api.store.CreateCredential(r.Context(), cred); err != nil {
			result.FailedCount++
			result.Errors = append(result.Errors, importError{Row: i + 1, Error: err.Error()})
			continue
		}
		result.SuccessCount++
	}

	api.logger.InfoWithCount("credential import complete", int64(result.SuccessCount),
		"upstream_id", upstreamID, "failed", result.FailedCount)
	writeJSON(w, http.StatusOK, result)
}

func parseJSONCredentials(body io.Reader) ([]domain.Credential, error) {
	raw, err := io.ReadAll(io.LimitReader(body, maxAdminBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	// Accept both a bare array and a {"keys": [...]} envelope.
	var envelope struct {
		Keys []domain.Credential `json:"keys"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Keys) > 0 {
		return envelope.Keys, nil
	}

	var creds []domain.Credential
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, fmt.Errorf("invalid JSON import payload: %w", err)
	}
	return creds, nil
}

// parseCSVCredentials reads a header row plus data rows. Recognised columns:
// key_value, name, location, param_name, value_prefix, enable_quota,
// quota_total.
func parseCSVCredentials(body io.Reader) ([]domain.Credential, error) {
	reader := csv.NewReader(io.LimitReader(body, maxAdminBodyBytes))
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read CSV header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := columns["key_value"]; !ok {
		return nil, fmt.Errorf("CSV import requires a key_value column")
	}

	field := func(record []string, name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var creds []domain.Credential
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read CSV row: %w", err)
		}

		cred := domain.Credential{
			Secret:      field(record, "key_value"),
			Name:        field(record, "name"),
			Placement:   domain.CredentialPlacement(field(record, "location")),
			ParamName:   field(record, "param_name"),
			ValuePrefix: field(record, "value_prefix"),
		}
		if field(record, "enable_quota") == "true" {
			cred.QuotaEnabled = true
			if total, err := strconv.ParseInt(field(record, "quota_total"), 10, 64); err == nil {
				cred.QuotaTotal = total
			}
		}
		creds = append(creds, cred)
	}
	return creds, nil
}
