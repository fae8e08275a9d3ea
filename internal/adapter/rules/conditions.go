package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/tidwall/gjson"

	"github.com/quayside/keygate/internal/core/domain"
)

// evaluate walks a predicate tree against a response. Evaluation never
// panics out of the engine: malformed nodes and unparseable values are
// simply false.
func evaluate(cond domain.Condition, resp *domain.UpstreamResponse) bool {
	switch cond.Type {
	case "status_code":
		return evalStatusCode(cond, resp)
	case "response_body":
		return evalResponseBody(cond, resp)
	case "json_path":
		return evalJSONPath(cond, resp)
	case "response_header":
		return evalResponseHeader(cond, resp)
	case "latency":
		return evalLatency(cond, resp)
	case "composite":
		return evalComposite(cond, resp)
	}
	return false
}

func evalStatusCode(cond domain.Condition, resp *domain.UpstreamResponse) bool {
	switch cond.Operator {
	case "equals", "":
		v, ok := asInt(cond.Value)
		return ok && resp.StatusCode == v
	case "not_equals":
		v, ok := asInt(cond.Value)
		return ok && resp.StatusCode != v
	case "greater_than":
		v, ok := asInt(cond.Value)
		return ok && resp.StatusCode > v
	case "less_than":
		v, ok := asInt(cond.Value)
		return ok && resp.StatusCode < v
	case "in_range":
		// Value is [min, max], both inclusive.
		bounds, ok := cond.Value.([]interface{})
		if !ok || len(bounds) != 2 {
			return false
		}
		minVal, okMin := asInt(bounds[0])
		maxVal, okMax := asInt(bounds[1])
		return okMin && okMax && resp.StatusCode >= minVal && resp.StatusCode <= maxVal
	}
	return false
}

func evalResponseBody(cond domain.Condition, resp *domain.UpstreamResponse) bool {
	value, _ := cond.Value.(string)
	switch cond.Operator {
	case "contains", "":
		return strings.Contains(resp.Body, value)
	case "not_contains":
		return !strings.Contains(resp.Body, value)
	case "regex":
		re, err := regexp.Compile(value)
		if err != nil {
			return false
		}
		return re.MatchString(resp.Body)
	}
	return false
}

// evalJSONPath resolves a dot path into the JSON-parsed body. A non-JSON
// body yields false, never an error.
func evalJSONPath(cond domain.Condition, resp *domain.UpstreamResponse) bool {
	if !gjson.Valid(resp.Body) {
		return false
	}

	var doc interface{}
	if err := json.UnmarshalFromString(resp.Body, &doc); err != nil {
		return false
	}

	resolved, err := jsonpath.Get(toJSONPath(cond.Path), doc)
	exists := err == nil && resolved != nil

	switch cond.Operator {
	case "equals", "":
		return exists && looselyEqual(resolved, cond.Value)
	case "not_equals":
		return !exists || !looselyEqual(resolved, cond.Value)
	case "exists":
		return exists
	case "is_null":
		return !exists
	}
	return false
}

// toJSONPath converts the stored dot path ("error.code") into the jsonpath
// dialect ("$.error.code").
func toJSONPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return "$"
	}
	if strings.HasPrefix(path, "$") {
		return path
	}
	return "$." + path
}

func evalResponseHeader(cond domain.Condition, resp *domain.UpstreamResponse) bool {
	headerValue, found := lookupHeader(resp.Headers, cond.HeaderName)
	if !found {
		return cond.Operator == "not_exists"
	}

	value, _ := cond.Value.(string)
	switch cond.Operator {
	case "equals", "":
		return headerValue == value
	case "not_equals":
		return headerValue != value
	case "contains":
		return strings.Contains(headerValue, value)
	case "less_than":
		have, err1 := strconv.Atoi(strings.TrimSpace(headerValue))
		want, ok := asInt(cond.Value)
		return err1 == nil && ok && have < want
	case "not_exists":
		return false
	}
	return false
}

func evalLatency(cond domain.Condition, resp *domain.UpstreamResponse) bool {
	v, ok := asInt(cond.Value)
	if !ok {
		return false
	}
	switch cond.Operator {
	case "greater_than", "":
		return resp.LatencyMs > int64(v)
	case "less_than":
		return resp.LatencyMs < int64(v)
	}
	return false
}

func evalComposite(cond domain.Condition, resp *domain.UpstreamResponse) bool {
	if len(cond.Conditions) == 0 {
		return false
	}
	switch strings.ToUpper(cond.Logic) {
	case "OR":
		for _, sub := range cond.Conditions {
			if evaluate(sub, resp) {
				return true
			}
		}
		return false
	case "AND", "":
		for _, sub := range cond.Conditions {
			if !evaluate(sub, resp) {
				return false
			}
		}
		return true
	}
	return false
}

// Header names arrive canonicalised from the proxy but rules are typed by
// hand; compare case-insensitively.
func lookupHeader(headers map[string]string, name string) (string, bool) {
	if v, ok := headers[name]; ok {
		return v, true
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// asInt tolerates the numeric shapes JSON decoding produces.
func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		parsed, err := strconv.Atoi(n)
		return parsed, err == nil
	}
	return 0, false
}

// looselyEqual compares a resolved JSON value with a condition value using
// JSON equality semantics: numbers compare numerically, everything else by
// string form.
func looselyEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == b
	}
	if an, aok := asFloat(a); aok {
		if bn, bok := asFloat(b); bok {
			return an == bn
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
