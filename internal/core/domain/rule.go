package domain

import "time"

// RuleAction is one of the things a fired rule does to the credential that
// produced the matching response.
type RuleAction string

const (
	ActionDisableCredential RuleAction = "disable_credential"
	ActionBanCredential     RuleAction = "ban_credential"
	ActionAlert             RuleAction = "alert"
	ActionLog               RuleAction = "log"
)

// Condition is a node in a rule's predicate tree. Type selects the evaluator;
// composite nodes nest further conditions under an AND/OR logic.
type Condition struct {
	Type       string      `json:"type"`
	Operator   string      `json:"operator,omitempty"`
	Value      interface{} `json:"value,omitempty"`
	Path       string      `json:"path,omitempty"`
	HeaderName string      `json:"header_name,omitempty"`
	Logic      string      `json:"logic,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`
}

// Rule is a predicate-plus-actions clause evaluated against every upstream
// response. Trigger counters and cooldown stamps are process memory; the
// status mutations a rule performs are persisted.
type Rule struct {
	ID          int64  `db:"id" json:"id"`
	UpstreamID  int64  `db:"upstream_id" json:"upstream_id"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description,omitempty"`

	// Conditions and Actions are stored as JSON columns.
	Conditions Condition    `db:"-" json:"conditions"`
	Actions    []RuleAction `db:"-" json:"actions"`

	AutoEnableDelayHours int `db:"auto_enable_delay_hours" json:"auto_enable_delay_hours,omitempty"`

	TriggerThreshold  int `db:"trigger_threshold" json:"trigger_threshold"`
	TimeWindowSeconds int `db:"time_window_seconds" json:"time_window_seconds,omitempty"`
	CooldownSeconds   int `db:"cooldown_seconds" json:"cooldown_seconds"`

	Priority  int       `db:"priority" json:"priority"`
	Enabled   bool      `db:"is_enabled" json:"is_enabled"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// HasAction reports whether the rule's action set contains action.
func (r *Rule) HasAction(action RuleAction) bool {
	for _, a := range r.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// Cooldown returns the minimum gap between two firings against the same
// credential.
func (r *Rule) Cooldown() time.Duration {
	return time.Duration(r.CooldownSeconds) * time.Second
}

// ThresholdWindow returns the counting window for multi-hit rules. Defaults
// to a minute when the rule sets a threshold but no window.
func (r *Rule) ThresholdWindow() time.Duration {
	if r.TimeWindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(r.TimeWindowSeconds) * time.Second
}

// UpstreamResponse is the slice of an upstream reply the rule engine sees.
type UpstreamResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       string
	LatencyMs  int64
}
