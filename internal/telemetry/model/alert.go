package model

import "time"

type AlertState string

const (
	AlertInactive AlertState = "inactive"
	AlertPending  AlertState = "pending"
	AlertFiring   AlertState = "firing"
)

type AlertCondition string

const (
	ConditionGreaterThan AlertCondition = "gt"
	ConditionLessThan    AlertCondition = "lt"
	ConditionEqual       AlertCondition = "eq"
	ConditionAbsent      AlertCondition = "absent"
)

func (c AlertCondition) Valid() bool {
	switch c {
	case ConditionGreaterThan, ConditionLessThan, ConditionEqual, ConditionAbsent:
		return true
	default:
		return false
	}
}

type AlertQueryKind string

const (
	AlertQueryMetric AlertQueryKind = "metric"
	AlertQueryLogs   AlertQueryKind = "logs"
)

// AlertQuery is a strictly parameterized query specification. It is never
// interpolated into a storage-layer query language.
type AlertQuery struct {
	Kind AlertQueryKind `json:"kind"`

	// Metric rules: aggregate samples of the named series over the trailing
	// window and compare the scalar against the threshold.
	MetricName    string            `json:"metric_name,omitempty"`
	MetricLabels  map[string]string `json:"metric_labels,omitempty"`
	Aggregation   Aggregation       `json:"aggregation,omitempty"`
	WindowSeconds int               `json:"window_seconds,omitempty"`

	// Log rules: the scalar is the count of matching log records in the
	// trailing window.
	ProjectID string `json:"project_id,omitempty"`
	Level     Level  `json:"level,omitempty"`
	Service   string `json:"service,omitempty"`
	Contains  string `json:"contains,omitempty"`
}

type AlertRule struct {
	Id             string         `json:"id"`
	Name           string         `json:"name"`
	ProjectID      string         `json:"project_id,omitempty"`
	Enabled        bool           `json:"enabled"`
	Query          AlertQuery     `json:"query"`
	Threshold      float64        `json:"threshold"`
	Condition      AlertCondition `json:"condition"`
	ForSeconds     int            `json:"for_seconds"`
	State          AlertState     `json:"state"`
	StateEnteredAt time.Time      `json:"state_entered_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// AlertEvent is a materialized firing of a rule. ResolvedAt is nil while the
// rule is still firing.
type AlertEvent struct {
	Id         string     `json:"id"`
	RuleId     string     `json:"rule_id"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	Value      float64    `json:"value"`
}
