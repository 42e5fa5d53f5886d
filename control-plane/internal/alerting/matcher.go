package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/probenet-io/probenet/pkg/types"
)

// crossPointStatusType is the synthesized alert type that tracks overall
// result status for correlation rules that are not tied to a specific
// built-in alert family.
const crossPointStatusType = "status"

// Store is the persistence surface the matcher needs.
type Store interface {
	CreateAlert(ctx context.Context, alert *types.Alert) error
	ListAlertConfigs(ctx context.Context, taskID int64) ([]types.AlertConfig, error)
}

// Matcher evaluates alert rules for each ingested result.
type Matcher struct {
	store  Store
	state  *StateCache
	logger *slog.Logger
}

// NewMatcher creates a matcher.
func NewMatcher(store Store, state *StateCache, logger *slog.Logger) *Matcher {
	return &Matcher{
		store:  store,
		state:  state,
		logger: logger.With("component", "alert_matcher"),
	}
}

// Match runs all rule families for one result and persists every emitted
// alert. Returns the number of alerts emitted.
//
// Three families produce candidates: step-level rules (api tasks),
// task-level built-ins, and alarm_config rules. Cross-point AlertConfig
// rows then gate candidates of their alert type on consecutive and
// fleet-wide failure counts; candidates without a matching row emit
// directly.
func (m *Matcher) Match(ctx context.Context, task *types.Task, result *types.Result) int {
	candidates := m.stepAlerts(task, result)
	candidates = append(candidates, m.taskAlerts(task, result)...)
	candidates = append(candidates, m.alarmAlerts(task, result)...)

	configs, err := m.store.ListAlertConfigs(ctx, task.ID)
	if err != nil {
		m.logger.Error("failed to load alert configs, emitting candidates ungated",
			"task_id", task.ID, "error", err)
		configs = nil
	}

	emitted := m.applyGates(task, result, candidates, configs)

	snapshot, _ := json.Marshal(result)
	for i := range emitted {
		a := &emitted[i]
		a.TaskID = task.ID
		a.TenantID = result.TenantID
		a.AgentID = result.AgentID
		a.AgentArea = result.AgentArea
		a.Status = types.AlertStatusPending
		a.SnapshotData = snapshot
		if a.AlertLevel == "" {
			a.AlertLevel = types.AlertLevelWarning
		}
		if err := m.store.CreateAlert(ctx, a); err != nil {
			m.logger.Error("failed to persist alert",
				"task_id", task.ID, "alert_type", a.AlertType, "error", err)
		}
	}

	if len(emitted) > 0 {
		m.logger.Info("alerts emitted",
			"task_id", task.ID, "agent_id", result.AgentID, "count", len(emitted))
	}
	return len(emitted)
}

// =============================================================================
// GATING (cross-point correlation)
// =============================================================================

func (m *Matcher) applyGates(task *types.Task, result *types.Result, candidates []types.Alert, configs []types.AlertConfig) []types.Alert {
	// Which alert types look abnormal in this result.
	abnormalTypes := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		abnormalTypes[c.AlertType] = true
	}
	abnormalTypes[crossPointStatusType] = result.Status != types.ResultStatusSuccess

	gated := make(map[string]bool, len(configs))
	var emitted []types.Alert

	for _, cfg := range configs {
		gated[cfg.AlertType] = true
		abnormal := abnormalTypes[cfg.AlertType]
		consecutive := m.state.Observe(task.ID, result.AgentID, cfg.AlertType, abnormal)
		if !abnormal {
			continue
		}

		consecutiveTriggered := consecutive >= cfg.MinOccurrences
		abnormalPoints := m.state.AbnormalPoints(task.ID, cfg.AlertType, cfg.MinOccurrences)
		pointsTriggered := abnormalPoints >= cfg.MinPoints

		var triggered bool
		if cfg.TriggerMode == types.TriggerModeAnd {
			triggered = consecutiveTriggered && pointsTriggered
		} else {
			triggered = consecutiveTriggered || pointsTriggered
		}
		if !triggered {
			m.logger.Debug("alert gated by correlation rule",
				"task_id", task.ID, "alert_type", cfg.AlertType,
				"consecutive", consecutive, "abnormal_points", abnormalPoints)
			continue
		}

		correlation := fmt.Sprintf("%d consecutive failures, %d monitoring points abnormal",
			consecutive, abnormalPoints)

		matched := false
		for _, c := range candidates {
			if c.AlertType != cfg.AlertType {
				continue
			}
			if cfg.StepID != "" && cfg.StepID != c.StepID {
				continue
			}
			c.Content += " (" + correlation + ")"
			emitted = append(emitted, c)
			matched = true
		}
		if !matched && cfg.AlertType == crossPointStatusType {
			emitted = append(emitted, types.Alert{
				AlertType:    crossPointStatusType,
				AlertLevel:   types.AlertLevelCritical,
				Title:        "task status abnormal",
				Content:      fmt.Sprintf("task %s reported status %s (%s)", task.Name, result.Status, correlation),
				TriggerValue: string(result.Status),
			})
		}
	}

	// Candidates whose type has no correlation rule emit directly.
	for _, c := range candidates {
		if !gated[c.AlertType] {
			emitted = append(emitted, c)
		}
	}
	return emitted
}

// =============================================================================
// FAMILY 1: STEP-LEVEL API ALERTS
// =============================================================================

func (m *Matcher) stepAlerts(task *types.Task, result *types.Result) []types.Alert {
	if task.Type != types.TaskTypeAPI || task.Config.API == nil || len(result.Details) == 0 {
		return nil
	}

	var details types.APIDetails
	if err := json.Unmarshal(result.Details, &details); err != nil {
		m.logger.Warn("undecodable api details, skipping step alerts",
			"task_id", task.ID, "error", err)
		return nil
	}

	stepDefs := make(map[string]*types.Step, len(task.Config.API.Steps))
	for i := range task.Config.API.Steps {
		s := &task.Config.API.Steps[i]
		if s.StepID != "" {
			stepDefs[s.StepID] = s
		}
	}

	var alerts []types.Alert
	for i := range details.Steps {
		sr := &details.Steps[i]
		rules := sr.Alerts
		if def, ok := stepDefs[sr.StepID]; ok && def.Alerts != nil {
			rules = def.Alerts
		}

		if rules != nil {
			alerts = append(alerts, m.stepRuleAlerts(sr, rules)...)
		}
		alerts = append(alerts, assertionAlerts(sr)...)
	}
	return alerts
}

func (m *Matcher) stepRuleAlerts(sr *types.StepResult, rules *types.StepAlerts) []types.Alert {
	var alerts []types.Alert

	if rules.AllowedStatusCodes != "" && sr.StatusCode != 0 {
		allowed := expandStatusCodes(rules.AllowedStatusCodes)
		if !allowed[sr.StatusCode] {
			alerts = append(alerts, types.Alert{
				StepID:         sr.StepID,
				AlertType:      types.AlertTypeStatusCode,
				AlertLevel:     levelOrWarning(rules.StatusCodeAlertLevel),
				Title:          "unexpected status code",
				Content:        fmt.Sprintf("step %s returned status %d, allowed: %s", sr.StepID, sr.StatusCode, rules.AllowedStatusCodes),
				TriggerValue:   strconv.Itoa(sr.StatusCode),
				ThresholdValue: rules.AllowedStatusCodes,
			})
		}
	}

	if rules.ResponseTimeThresholdSecs > 0 {
		thresholdMs := rules.ResponseTimeThresholdSecs * 1000
		if sr.ResponseTimeMs > thresholdMs {
			alerts = append(alerts, types.Alert{
				StepID:         sr.StepID,
				AlertType:      types.AlertTypeResponseTime,
				AlertLevel:     levelOrWarning(rules.ResponseTimeAlertLevel),
				Title:          "step response time exceeded",
				Content:        fmt.Sprintf("step %s took %.0f ms, threshold %.0f ms", sr.StepID, sr.ResponseTimeMs, thresholdMs),
				TriggerValue:   fmt.Sprintf("%.0f", sr.ResponseTimeMs),
				ThresholdValue: fmt.Sprintf("%.0f", thresholdMs),
			})
		}
	}
	return alerts
}

func assertionAlerts(sr *types.StepResult) []types.Alert {
	var alerts []types.Alert
	for _, ar := range sr.Assertions {
		if !ar.EnableAlert {
			continue
		}
		// "match" fires when the assertion passed, "not_match" (the
		// default) fires when it failed.
		fire := !ar.Passed
		if ar.AlertCondition == types.AlertWhenMatch {
			fire = ar.Passed
		}
		if !fire {
			continue
		}
		alerts = append(alerts, types.Alert{
			StepID:         sr.StepID,
			AlertType:      types.AlertTypeAssertion,
			AlertLevel:     levelOrWarning(ar.AlertLevel),
			Title:          "assertion alert",
			Content:        fmt.Sprintf("step %s assertion %s: %s", sr.StepID, assertionName(ar), ar.Message),
			TriggerValue:   fmt.Sprintf("%v", ar.Actual),
			ThresholdValue: fmt.Sprintf("%v", ar.Target),
		})
	}
	return alerts
}

func assertionName(ar types.AssertionResult) string {
	if ar.Name != "" {
		return ar.Name
	}
	return ar.Source
}

// =============================================================================
// FAMILY 2: TASK-LEVEL BUILT-INS
// =============================================================================

func (m *Matcher) taskAlerts(task *types.Task, result *types.Result) []types.Alert {
	var alerts []types.Alert
	settings := task.Config.AlertSettings()

	for _, status := range settings.StatusAlertConfig {
		if string(result.Status) != status {
			continue
		}
		level := types.AlertLevel(settings.StatusAlertLevel)
		if !level.Valid() {
			// Legacy behavior: an unconfigured level escalates hard
			// failures.
			if result.Status == types.ResultStatusFailed {
				level = types.AlertLevelCritical
			} else {
				level = types.AlertLevelWarning
			}
		}
		alerts = append(alerts, types.Alert{
			AlertType:    types.AlertTypeTaskStatus,
			AlertLevel:   level,
			Title:        "task status alert",
			Content:      fmt.Sprintf("task %s reported status %s: %s", task.Name, result.Status, result.Message),
			TriggerValue: string(result.Status),
		})
		break
	}

	if settings.TimeoutAlertEnabled && settings.TimeoutThresholdMs > 0 &&
		result.ResponseTimeMs > settings.TimeoutThresholdMs {
		alerts = append(alerts, types.Alert{
			AlertType:      types.AlertTypeTaskTimeout,
			AlertLevel:     levelOrWarning(types.AlertLevel(settings.TimeoutAlertLevel)),
			Title:          "task execution time exceeded",
			Content:        fmt.Sprintf("task %s took %.0f ms, threshold %.0f ms", task.Name, result.ResponseTimeMs, settings.TimeoutThresholdMs),
			TriggerValue:   fmt.Sprintf("%.0f", result.ResponseTimeMs),
			ThresholdValue: fmt.Sprintf("%.0f", settings.TimeoutThresholdMs),
		})
	}
	return alerts
}

// =============================================================================
// FAMILY 3: ALARM CONFIG RULES
// =============================================================================

func (m *Matcher) alarmAlerts(task *types.Task, result *types.Result) []types.Alert {
	cfg := task.AlarmConfig
	if cfg == nil || !cfg.Enabled {
		return nil
	}

	var alerts []types.Alert
	emit := func(metric string, rule types.AlarmRule, content, trigger, threshold string) {
		alerts = append(alerts, types.Alert{
			AlertType:      "alarm_" + metric,
			AlertLevel:     levelOrWarning(rule.Level),
			Title:          "alarm rule " + metric,
			Content:        fmt.Sprintf("task %s: %s", task.Name, content),
			TriggerValue:   trigger,
			ThresholdValue: threshold,
		})
	}

	if rule, ok := cfg.Rule("status"); ok {
		abnormal := result.Status != types.ResultStatusSuccess
		if (rule.Condition == types.AlarmCondAbnormal && abnormal) ||
			(rule.Condition == types.AlarmCondNormal && !abnormal) {
			emit("status", rule,
				fmt.Sprintf("status %s matched condition %s", result.Status, rule.Condition),
				string(result.Status), string(rule.Condition))
		}
	}

	switch task.Type {
	case types.TaskTypeHTTP:
		var d types.HTTPDetails
		if len(result.Details) > 0 {
			json.Unmarshal(result.Details, &d)
		}
		if rule, ok := cfg.Rule("response_code"); ok && d.StatusCode != 0 {
			if compareNumeric(rule.Condition, float64(d.StatusCode), rule.Threshold) {
				emit("response_code", rule,
					fmt.Sprintf("response code %d %s %.0f", d.StatusCode, rule.Condition, rule.Threshold),
					strconv.Itoa(d.StatusCode), fmt.Sprintf("%.0f", rule.Threshold))
			}
		}
		if rule, ok := cfg.Rule("response_time"); ok {
			if compareNumeric(rule.Condition, result.ResponseTimeMs, rule.Threshold) {
				emit("response_time", rule,
					fmt.Sprintf("response time %.0f ms %s %.0f ms", result.ResponseTimeMs, rule.Condition, rule.Threshold),
					fmt.Sprintf("%.0f", result.ResponseTimeMs), fmt.Sprintf("%.0f", rule.Threshold))
			}
		}
		if rule, ok := cfg.Rule("dns_ip"); ok && len(d.DNSIPs) > 0 && rule.Value != "" {
			expected := make(map[string]bool)
			for _, ip := range strings.Split(rule.Value, ",") {
				expected[strings.TrimSpace(ip)] = true
			}
			for _, ip := range d.DNSIPs {
				if !expected[ip] {
					emit("dns_ip", rule,
						fmt.Sprintf("resolved ip %s not in expected set %s", ip, rule.Value),
						ip, rule.Value)
					break
				}
			}
		}

	case types.TaskTypeTCP:
		if rule, ok := cfg.Rule("execution_time"); ok {
			if compareNumeric(rule.Condition, result.ResponseTimeMs, rule.Threshold) {
				emit("execution_time", rule,
					fmt.Sprintf("execution time %.0f ms %s %.0f ms", result.ResponseTimeMs, rule.Condition, rule.Threshold),
					fmt.Sprintf("%.0f", result.ResponseTimeMs), fmt.Sprintf("%.0f", rule.Threshold))
			}
		}

	case types.TaskTypePing:
		var d types.PingDetails
		if len(result.Details) > 0 {
			json.Unmarshal(result.Details, &d)
		}
		if rule, ok := cfg.Rule("packet_loss"); ok {
			if compareNumeric(rule.Condition, d.PacketLossPct, rule.Threshold) {
				emit("packet_loss", rule,
					fmt.Sprintf("packet loss %.1f%% %s %.1f%%", d.PacketLossPct, rule.Condition, rule.Threshold),
					fmt.Sprintf("%.1f", d.PacketLossPct), fmt.Sprintf("%.1f", rule.Threshold))
			}
		}
		if rule, ok := cfg.Rule("execution_time"); ok {
			if compareNumeric(rule.Condition, result.ResponseTimeMs, rule.Threshold) {
				emit("execution_time", rule,
					fmt.Sprintf("execution time %.0f ms %s %.0f ms", result.ResponseTimeMs, rule.Condition, rule.Threshold),
					fmt.Sprintf("%.0f", result.ResponseTimeMs), fmt.Sprintf("%.0f", rule.Threshold))
			}
		}
	}
	return alerts
}

// =============================================================================
// HELPERS
// =============================================================================

func compareNumeric(cond types.AlarmCondition, actual, threshold float64) bool {
	switch cond {
	case types.AlarmCondEq:
		return actual == threshold
	case types.AlarmCondNe:
		return actual != threshold
	case types.AlarmCondGt:
		return actual > threshold
	case types.AlarmCondGte:
		return actual >= threshold
	case types.AlarmCondLt:
		return actual < threshold
	case types.AlarmCondLte:
		return actual <= threshold
	default:
		return false
	}
}

func levelOrWarning(l types.AlertLevel) types.AlertLevel {
	if l.Valid() {
		return l
	}
	return types.AlertLevelWarning
}

// expandStatusCodes parses a comma-separated allow list. Band entries like
// "2xx" expand to their 100-code range.
func expandStatusCodes(spec string) map[int]bool {
	allowed := make(map[int]bool)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lower := strings.ToLower(part)
		if len(lower) == 3 && strings.HasSuffix(lower, "xx") {
			if hundreds := int(lower[0] - '0'); hundreds >= 1 && hundreds <= 5 {
				for code := hundreds * 100; code < (hundreds+1)*100; code++ {
					allowed[code] = true
				}
			}
			continue
		}
		if code, err := strconv.Atoi(part); err == nil {
			allowed[code] = true
		}
	}
	return allowed
}
