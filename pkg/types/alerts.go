// Package types - Alert records and matching configuration
//
// # Alerting Design
//
// Alerts come from four matching families, evaluated in order after every
// result is persisted:
// - Step-level (api tasks): allowed status codes, step response time,
//   assertion-driven alerts
// - Task-level built-ins: status list matching and timeout threshold,
//   carried inside the task config payload
// - alarm_config rules: typed per-metric rules attached to the task
// - Cross-point correlation: AlertConfig rows gate emission on consecutive
//   failures and fleet-wide occurrence counts
//
// Every emitted alert carries a snapshot of the triggering result so an
// operator can see exactly what the agent observed.
package types

import (
	"encoding/json"
	"time"
)

// =============================================================================
// ALERT
// =============================================================================

// AlertLevel indicates urgency.
type AlertLevel string

const (
	AlertLevelCritical AlertLevel = "critical"
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelInfo     AlertLevel = "info"
)

// Level returns a numeric rank for comparison (higher = more severe).
func (l AlertLevel) Level() int {
	switch l {
	case AlertLevelCritical:
		return 3
	case AlertLevelWarning:
		return 2
	case AlertLevelInfo:
		return 1
	default:
		return 0
	}
}

// Valid reports whether l is a known level.
func (l AlertLevel) Valid() bool { return l.Level() > 0 }

// AlertStatus tracks the alert lifecycle.
type AlertStatus string

const (
	AlertStatusPending  AlertStatus = "pending"
	AlertStatusResolved AlertStatus = "resolved"
	AlertStatusIgnored  AlertStatus = "ignored"
)

// Well-known alert types. Step and assertion alerts use these; alarm_config
// rules emit "alarm_<metric>" types built at match time.
const (
	AlertTypeStatusCode   = "status_code"
	AlertTypeResponseTime = "response_time"
	AlertTypeAssertion    = "assertion"
	AlertTypeTaskStatus   = "task_status"
	AlertTypeTaskTimeout  = "task_timeout"
)

// Alert is one emitted alert record.
type Alert struct {
	ID             string          `json:"id"` // uuid
	TaskID         int64           `json:"task_id"`
	TenantID       *int64          `json:"tenant_id,omitempty"`
	StepID         string          `json:"step_id,omitempty"` // api tasks only
	AlertType      string          `json:"alert_type"`
	AlertLevel     AlertLevel      `json:"alert_level"`
	Status         AlertStatus     `json:"status"`
	Title          string          `json:"title"`
	Content        string          `json:"content"`
	TriggerValue   string          `json:"trigger_value,omitempty"`
	ThresholdValue string          `json:"threshold_value,omitempty"`
	AgentID        string          `json:"agent_id"`
	AgentArea      string          `json:"agent_area,omitempty"`
	SnapshotData   json.RawMessage `json:"snapshot_data,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy     string          `json:"resolved_by,omitempty"`
}

// AlertFilter selects alerts for listing.
type AlertFilter struct {
	TaskID    *int64       `json:"task_id,omitempty"`
	TenantID  *int64       `json:"tenant_id,omitempty"`
	Status    *AlertStatus `json:"status,omitempty"`
	Level     *AlertLevel  `json:"level,omitempty"`
	AlertType *string      `json:"alert_type,omitempty"`
	AgentID   *string      `json:"agent_id,omitempty"`
	Since     *time.Time   `json:"since,omitempty"`
	Limit     int          `json:"limit,omitempty"`
	Offset    int          `json:"offset,omitempty"`
}

// =============================================================================
// CROSS-POINT ALERT CONFIG
// =============================================================================

// TriggerMode controls how the two cross-point conditions combine.
type TriggerMode string

const (
	TriggerModeOr  TriggerMode = "OR"
	TriggerModeAnd TriggerMode = "AND"
)

// AlertConfig gates alert emission per (task, step, alert type).
//
// MinOccurrences is the consecutive-failure requirement on a single agent;
// MinPoints is the fleet-wide abnormal point requirement across agents
// within the correlation window. TriggerMode combines them.
type AlertConfig struct {
	ID             int64           `json:"id"`
	TaskID         int64           `json:"task_id"`
	StepID         string          `json:"step_id,omitempty"`
	AlertType      string          `json:"alert_type"`
	Enabled        bool            `json:"enabled"`
	Config         json.RawMessage `json:"config,omitempty"`
	MinPoints      int             `json:"min_points"`
	MinOccurrences int             `json:"min_occurrences"`
	TriggerMode    TriggerMode     `json:"trigger_mode"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// =============================================================================
// ALARM CONFIG (per-task typed rules)
// =============================================================================

// AlarmCondition is the comparison operator of one alarm rule.
// The legacy spellings 正常/异常 normalize to normal/abnormal on decode.
type AlarmCondition string

const (
	AlarmCondEq       AlarmCondition = "eq"
	AlarmCondNe       AlarmCondition = "ne"
	AlarmCondGt       AlarmCondition = "gt"
	AlarmCondGte      AlarmCondition = "gte"
	AlarmCondLt       AlarmCondition = "lt"
	AlarmCondLte      AlarmCondition = "lte"
	AlarmCondNormal   AlarmCondition = "normal"
	AlarmCondAbnormal AlarmCondition = "abnormal"
)

// UnmarshalJSON accepts the legacy condition spellings.
func (c *AlarmCondition) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "正常":
		*c = AlarmCondNormal
	case "异常":
		*c = AlarmCondAbnormal
	default:
		*c = AlarmCondition(s)
	}
	return nil
}

// AlarmRule is one metric rule inside an AlarmConfig.
type AlarmRule struct {
	Enabled   bool           `json:"enabled"`
	Condition AlarmCondition `json:"condition,omitempty"`
	Threshold float64        `json:"threshold,omitempty"`
	Value     string         `json:"value,omitempty"` // for eq/ne string metrics
	Level     AlertLevel     `json:"level,omitempty"`
}

// AlarmRules maps metric name to rule. Known metrics depend on task type:
// http uses status/response_code/response_time/dns_ip, tcp uses
// status/execution_time, ping uses status/packet_loss/execution_time.
type AlarmRules map[string]AlarmRule

// AlarmConfig is the typed per-task alarm block.
type AlarmConfig struct {
	Enabled bool       `json:"enabled"`
	Rules   AlarmRules `json:"rules,omitempty"`
}

// Rule returns the named rule when the config and the rule are both enabled.
func (c *AlarmConfig) Rule(metric string) (AlarmRule, bool) {
	if c == nil || !c.Enabled {
		return AlarmRule{}, false
	}
	r, ok := c.Rules[metric]
	if !ok || !r.Enabled {
		return AlarmRule{}, false
	}
	return r, true
}
