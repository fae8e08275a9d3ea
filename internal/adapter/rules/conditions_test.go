package rules

import (
	"testing"

	"github.com/quayside/keygate/internal/core/domain"
)

func resp(status int, body string) *domain.UpstreamResponse {
	return &domain.UpstreamResponse{StatusCode: status, Body: body}
}

func TestEvaluate_StatusCode(t *testing.T) {
	tests := []struct {
		name string
		cond domain.Condition
		resp *domain.UpstreamResponse
		want bool
	}{
		{"equals match", domain.Condition{Type: "status_code", Operator: "equals", Value: float64(429)}, resp(429, ""), true},
		{"equals miss", domain.Condition{Type: "status_code", Operator: "equals", Value: float64(429)}, resp(200, ""), false},
		{"default operator is equals", domain.Condition{Type: "status_code", Value: float64(500)}, resp(500, ""), true},
		{"not_equals", domain.Condition{Type: "status_code", Operator: "not_equals", Value: float64(200)}, resp(503, ""), true},
		{"greater_than", domain.Condition{Type: "status_code", Operator: "greater_than", Value: float64(499)}, resp(500, ""), true},
		{"less_than", domain.Condition{Type: "status_code", Operator: "less_than", Value: float64(300)}, resp(200, ""), true},
		{"in_range lower bound inclusive", domain.Condition{Type: "status_code", Operator: "in_range", Value: []interface{}{float64(500), float64(599)}}, resp(500, ""), true},
		{"in_range upper bound inclusive", domain.Condition{Type: "status_code", Operator: "in_range", Value: []interface{}{float64(500), float64(599)}}, resp(599, ""), true},
		{"in_range below", domain.Condition{Type: "status_code", Operator: "in_range", Value: []interface{}{float64(500), float64(599)}}, resp(499, ""), false},
		{"in_range malformed value", domain.Condition{Type: "status_code", Operator: "in_range", Value: "500-599"}, resp(550, ""), false},
		{"string value parses", domain.Condition{Type: "status_code", Operator: "equals", Value: "429"}, resp(429, ""), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := evaluate(tt.cond, tt.resp); got != tt.want {
				t.Errorf("evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_ResponseBody(t *testing.T) {
	tests := []struct {
		name string
		cond domain.Condition
		body string
		want bool
	}{
		{"contains", domain.Condition{Type: "response_body", Operator: "contains", Value: "quota exceeded"}, `{"error":"quota exceeded"}`, true},
		{"contains miss", domain.Condition{Type: "response_body", Operator: "contains", Value: "quota exceeded"}, `{"ok":true}`, false},
		{"not_contains", domain.Condition{Type: "response_body", Operator: "not_contains", Value: "error"}, `{"ok":true}`, true},
		{"regex", domain.Condition{Type: "response_body", Operator: "regex", Value: `rate.?limit`}, "rate limit hit", true},
		{"invalid regex is false", domain.Condition{Type: "response_body", Operator: "regex", Value: `rate(`}, "rate limit hit", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := evaluate(tt.cond, resp(200, tt.body)); got != tt.want {
				t.Errorf("evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_JSONPath(t *testing.T) {
	body := `{"error":{"code":"rate_limited","detail":null},"count":3}`

	tests := []struct {
		name string
		cond domain.Condition
		body string
		want bool
	}{
		{"equals string", domain.Condition{Type: "json_path", Path: "error.code", Operator: "equals", Value: "rate_limited"}, body, true},
		{"equals number", domain.Condition{Type: "json_path", Path: "count", Operator: "equals", Value: float64(3)}, body, true},
		{"not_equals", domain.Condition{Type: "json_path", Path: "error.code", Operator: "not_equals", Value: "ok"}, body, true},
		{"exists", domain.Condition{Type: "json_path", Path: "error.code", Operator: "exists"}, body, true},
		{"exists miss", domain.Condition{Type: "json_path", Path: "error.missing", Operator: "exists"}, body, false},
		{"is_null on null value", domain.Condition{Type: "json_path", Path: "error.detail", Operator: "is_null"}, body, true},
		{"is_null on present value", domain.Condition{Type: "json_path", Path: "error.code", Operator: "is_null"}, body, false},
		{"non-JSON body is false", domain.Condition{Type: "json_path", Path: "error.code", Operator: "exists"}, "<html>502</html>", false},
		{"empty body is false", domain.Condition{Type: "json_path", Path: "error.code", Operator: "exists"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := evaluate(tt.cond, resp(200, tt.body)); got != tt.want {
				t.Errorf("evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_ResponseHeader(t *testing.T) {
	r := &domain.UpstreamResponse{
		StatusCode: 429,
		Headers: map[string]string{
			"X-Ratelimit-Remaining": "0",
			"Content-Type":          "application/json; charset=utf-8",
		},
	}

	tests := []struct {
		name string
		cond domain.Condition
		want bool
	}{
		{"equals", domain.Condition{Type: "response_header", HeaderName: "X-Ratelimit-Remaining", Operator: "equals", Value: "0"}, true},
		{"case-insensitive name", domain.Condition{Type: "response_header", HeaderName: "x-ratelimit-remaining", Operator: "equals", Value: "0"}, true},
		{"contains", domain.Condition{Type: "response_header", HeaderName: "Content-Type", Operator: "contains", Value: "json"}, true},
		{"less_than numeric", domain.Condition{Type: "response_header", HeaderName: "X-Ratelimit-Remaining", Operator: "less_than", Value: float64(5)}, true},
		{"less_than non-numeric header", domain.Condition{Type: "response_header", HeaderName: "Content-Type", Operator: "less_than", Value: float64(5)}, false},
		{"not_exists on missing", domain.Condition{Type: "response_header", HeaderName: "Retry-After", Operator: "not_exists"}, true},
		{"not_exists on present", domain.Condition{Type: "response_header", HeaderName: "Content-Type", Operator: "not_exists"}, false},
		{"missing header with equals", domain.Condition{Type: "response_header", HeaderName: "Retry-After", Operator: "equals", Value: "1"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := evaluate(tt.cond, r); got != tt.want {
				t.Errorf("evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_Latency(t *testing.T) {
	r := &domain.UpstreamResponse{StatusCode: 200, LatencyMs: 1500}

	if !evaluate(domain.Condition{Type: "latency", Operator: "greater_than", Value: float64(1000)}, r) {
		t.Error("expected greater_than 1000 to match 1500ms")
	}
	if evaluate(domain.Condition{Type: "latency", Operator: "less_than", Value: float64(1000)}, r) {
		t.Error("expected less_than 1000 to miss 1500ms")
	}
}

func TestEvaluate_Composite(t *testing.T) {
	r := &domain.UpstreamResponse{StatusCode: 429, Body: `{"error":"rate limit"}`}

	and := domain.Condition{
		Type:  "composite",
		Logic: "AND",
		Conditions: []domain.Condition{
			{Type: "status_code", Operator: "equals", Value: float64(429)},
			{Type: "response_body", Operator: "contains", Value: "rate limit"},
		},
	}
	if !evaluate(and, r) {
		t.Error("AND composite should match when both branches match")
	}

	and.Conditions[1].Value = "no such text"
	if evaluate(and, r) {
		t.Error("AND composite should miss when one branch misses")
	}

	or := domain.Condition{
		Type:  "composite",
		Logic: "OR",
		Conditions: []domain.Condition{
			{Type: "status_code", Operator: "equals", Value: float64(500)},
			{Type: "response_body", Operator: "contains", Value: "rate limit"},
		},
	}
	if !evaluate(or, r) {
		t.Error("OR composite should match when one branch matches")
	}

	empty := domain.Condition{Type: "composite", Logic: "AND"}
	if evaluate(empty, r) {
		t.Error("empty composite must not match")
	}
}

func TestEvaluate_UnknownTypeIsFalse(t *testing.T) {
	if evaluate(domain.Condition{Type: "phase_of_moon"}, resp(200, "")) {
		t.Error("unknown condition type must evaluate false")
	}
}
