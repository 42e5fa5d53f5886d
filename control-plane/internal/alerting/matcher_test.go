package alerting

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/probenet-io/probenet/pkg/types"
)

type fakeStore struct {
	configs []types.AlertConfig
	alerts  []types.Alert
}

func (f *fakeStore) CreateAlert(_ context.Context, a *types.Alert) error {
	f.alerts = append(f.alerts, *a)
	return nil
}

func (f *fakeStore) ListAlertConfigs(_ context.Context, _ int64) ([]types.AlertConfig, error) {
	return f.configs, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMatcher(configs []types.AlertConfig) (*Matcher, *fakeStore) {
	store := &fakeStore{configs: configs}
	return NewMatcher(store, NewStateCache(discardLogger()), discardLogger()), store
}

func apiTask(t *testing.T, steps []types.Step) *types.Task {
	t.Helper()
	program := map[string]any{"steps": steps}
	raw, err := json.Marshal(program)
	if err != nil {
		t.Fatal(err)
	}
	return &types.Task{
		ID:     1,
		Name:   "api-check",
		Type:   types.TaskTypeAPI,
		Status: types.TaskStatusActive,
		Config: types.DecodeTaskConfig(types.TaskTypeAPI, raw),
	}
}

func apiResult(steps []types.StepResult, status types.ResultStatus) *types.Result {
	details := types.APIDetails{Steps: steps}
	return &types.Result{
		TaskID:    1,
		AgentID:   "agent-a",
		Status:    status,
		Details:   types.MarshalDetails(details),
		CreatedAt: time.Now(),
	}
}

func TestMatchPassingAPIStepEmitsNothing(t *testing.T) {
	m, store := newTestMatcher(nil)
	task := apiTask(t, []types.Step{{StepID: "s1", Request: types.StepRequest{URL: "http://x/ip"}}})
	result := apiResult([]types.StepResult{{
		StepID: "s1", Status: types.ResultStatusSuccess, StatusCode: 200,
		Assertions: []types.AssertionResult{{Source: "status_code", Passed: true}},
	}}, types.ResultStatusSuccess)

	if n := m.Match(context.Background(), task, result); n != 0 {
		t.Fatalf("expected 0 alerts, got %d: %+v", n, store.alerts)
	}
}

func TestMatchAllowedStatusCodesMiss(t *testing.T) {
	m, store := newTestMatcher(nil)
	task := apiTask(t, []types.Step{{
		StepID:  "s1",
		Request: types.StepRequest{URL: "http://x"},
		Alerts:  &types.StepAlerts{AllowedStatusCodes: "200"},
	}})
	result := apiResult([]types.StepResult{{
		StepID: "s1", Status: types.ResultStatusFailed, StatusCode: 404,
	}}, types.ResultStatusFailed)

	if n := m.Match(context.Background(), task, result); n != 1 {
		t.Fatalf("expected 1 alert, got %d", n)
	}
	a := store.alerts[0]
	if a.AlertType != types.AlertTypeStatusCode {
		t.Errorf("alert type = %s, want status_code", a.AlertType)
	}
	if a.AlertLevel != types.AlertLevelWarning {
		t.Errorf("alert level = %s, want warning", a.AlertLevel)
	}
	if a.TriggerValue != "404" {
		t.Errorf("trigger value = %s, want 404", a.TriggerValue)
	}
	if len(a.SnapshotData) == 0 {
		t.Error("alert should carry a result snapshot")
	}
}

func TestMatchStatusCodeBandExpansion(t *testing.T) {
	m, store := newTestMatcher(nil)
	task := apiTask(t, []types.Step{{
		StepID:  "s1",
		Request: types.StepRequest{URL: "http://x"},
		Alerts:  &types.StepAlerts{AllowedStatusCodes: "2xx,301"},
	}})

	for _, tt := range []struct {
		code int
		want int
	}{
		{200, 0},
		{299, 0},
		{301, 0},
		{302, 1},
		{500, 1},
	} {
		store.alerts = nil
		result := apiResult([]types.StepResult{{StepID: "s1", StatusCode: tt.code, Status: types.ResultStatusSuccess}}, types.ResultStatusSuccess)
		if n := m.Match(context.Background(), task, result); n != tt.want {
			t.Errorf("status %d: got %d alerts, want %d", tt.code, n, tt.want)
		}
	}
}

func TestMatchStepResponseTimeThresholdIsSeconds(t *testing.T) {
	m, _ := newTestMatcher(nil)
	task := apiTask(t, []types.Step{{
		StepID:  "s1",
		Request: types.StepRequest{URL: "http://x"},
		Alerts:  &types.StepAlerts{ResponseTimeThresholdSecs: 2},
	}})

	under := apiResult([]types.StepResult{{StepID: "s1", ResponseTimeMs: 1999, Status: types.ResultStatusSuccess}}, types.ResultStatusSuccess)
	if n := m.Match(context.Background(), task, under); n != 0 {
		t.Fatalf("1999 ms under a 2 s threshold emitted %d alerts", n)
	}

	over := apiResult([]types.StepResult{{StepID: "s1", ResponseTimeMs: 2001, Status: types.ResultStatusSuccess}}, types.ResultStatusSuccess)
	if n := m.Match(context.Background(), task, over); n != 1 {
		t.Fatalf("2001 ms over a 2 s threshold emitted %d alerts", n)
	}
}

func TestMatchAssertionAlertConditions(t *testing.T) {
	tests := []struct {
		name      string
		condition types.AlertCondition
		passed    bool
		want      int
	}{
		{"not_match fires on failure", types.AlertWhenNotMatch, false, 1},
		{"not_match silent on pass", types.AlertWhenNotMatch, true, 0},
		{"match fires on pass", types.AlertWhenMatch, true, 1},
		{"match silent on failure", types.AlertWhenMatch, false, 0},
		{"default is not_match", "", false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, store := newTestMatcher(nil)
			task := apiTask(t, []types.Step{{StepID: "s1", Request: types.StepRequest{URL: "http://x"}}})
			result := apiResult([]types.StepResult{{
				StepID: "s1", Status: types.ResultStatusSuccess, StatusCode: 200,
				Assertions: []types.AssertionResult{{
					Source: "status_code", Passed: tt.passed,
					EnableAlert: true, AlertCondition: tt.condition,
				}},
			}}, types.ResultStatusSuccess)

			if n := m.Match(context.Background(), task, result); n != tt.want {
				t.Errorf("got %d alerts, want %d: %+v", n, tt.want, store.alerts)
			}
			if tt.want == 1 && store.alerts[0].AlertType != types.AlertTypeAssertion {
				t.Errorf("alert type = %s, want assertion", store.alerts[0].AlertType)
			}
		})
	}
}

func pingTask(t *testing.T, configJSON string) *types.Task {
	t.Helper()
	return &types.Task{
		ID:     7,
		Name:   "ping-check",
		Type:   types.TaskTypePing,
		Status: types.TaskStatusActive,
		Config: types.DecodeTaskConfig(types.TaskTypePing, json.RawMessage(configJSON)),
	}
}

func TestMatchTaskStatusLegacyEscalation(t *testing.T) {
	m, store := newTestMatcher(nil)
	task := pingTask(t, `{"count": 4, "statusAlertConfig": ["failed", "timeout"]}`)

	result := &types.Result{TaskID: 7, AgentID: "agent-a", Status: types.ResultStatusFailed}
	if n := m.Match(context.Background(), task, result); n != 1 {
		t.Fatalf("expected 1 alert, got %d", n)
	}
	if store.alerts[0].AlertLevel != types.AlertLevelCritical {
		t.Errorf("unconfigured level on failed status = %s, want critical", store.alerts[0].AlertLevel)
	}

	store.alerts = nil
	result = &types.Result{TaskID: 7, AgentID: "agent-a", Status: types.ResultStatusTimeout}
	m.Match(context.Background(), task, result)
	if store.alerts[0].AlertLevel != types.AlertLevelWarning {
		t.Errorf("unconfigured level on timeout status = %s, want warning", store.alerts[0].AlertLevel)
	}
}

func TestMatchTaskStatusExplicitLevelWins(t *testing.T) {
	m, store := newTestMatcher(nil)
	task := pingTask(t, `{"count": 4, "statusAlertConfig": ["failed"], "statusAlertLevel": "info"}`)

	result := &types.Result{TaskID: 7, AgentID: "agent-a", Status: types.ResultStatusFailed}
	m.Match(context.Background(), task, result)
	if len(store.alerts) != 1 || store.alerts[0].AlertLevel != types.AlertLevelInfo {
		t.Fatalf("explicit level not honored: %+v", store.alerts)
	}
}

func TestMatchTimeoutThresholdMilliseconds(t *testing.T) {
	m, store := newTestMatcher(nil)
	task := pingTask(t, `{"count": 4, "timeoutAlertEnabled": true, "timeoutThreshold": 500}`)

	under := &types.Result{TaskID: 7, AgentID: "agent-a", Status: types.ResultStatusSuccess, ResponseTimeMs: 500}
	if n := m.Match(context.Background(), task, under); n != 0 {
		t.Fatalf("threshold is strict greater-than, got %d alerts at exactly 500 ms", n)
	}

	over := &types.Result{TaskID: 7, AgentID: "agent-a", Status: types.ResultStatusSuccess, ResponseTimeMs: 501}
	if n := m.Match(context.Background(), task, over); n != 1 {
		t.Fatalf("expected 1 alert over threshold, got %d", n)
	}
	if store.alerts[0].AlertType != types.AlertTypeTaskTimeout {
		t.Errorf("alert type = %s, want task_timeout", store.alerts[0].AlertType)
	}
}

func TestMatchAlarmConfigPacketLoss(t *testing.T) {
	m, store := newTestMatcher(nil)
	task := pingTask(t, `{"count": 4}`)
	task.AlarmConfig = &types.AlarmConfig{
		Enabled: true,
		Rules: types.AlarmRules{
			"packet_loss": {Enabled: true, Condition: types.AlarmCondGt, Threshold: 20, Level: types.AlertLevelCritical},
		},
	}

	details := types.PingDetails{Target: "10.0.0.1", PacketsSent: 4, PacketsRecvd: 2, PacketLossPct: 50}
	result := &types.Result{
		TaskID: 7, AgentID: "agent-a", Status: types.ResultStatusSuccess,
		Details: types.MarshalDetails(details),
	}

	if n := m.Match(context.Background(), task, result); n != 1 {
		t.Fatalf("expected 1 alert, got %d", n)
	}
	a := store.alerts[0]
	if a.AlertType != "alarm_packet_loss" {
		t.Errorf("alert type = %s, want alarm_packet_loss", a.AlertType)
	}
	if a.AlertLevel != types.AlertLevelCritical {
		t.Errorf("alert level = %s, want critical", a.AlertLevel)
	}
}

func TestMatchAlarmConfigDisabledRuleIgnored(t *testing.T) {
	m, _ := newTestMatcher(nil)
	task := pingTask(t, `{"count": 4}`)
	task.AlarmConfig = &types.AlarmConfig{
		Enabled: true,
		Rules: types.AlarmRules{
			"packet_loss": {Enabled: false, Condition: types.AlarmCondGt, Threshold: 20},
		},
	}

	details := types.PingDetails{PacketLossPct: 100}
	result := &types.Result{TaskID: 7, AgentID: "agent-a", Status: types.ResultStatusSuccess, Details: types.MarshalDetails(details)}
	if n := m.Match(context.Background(), task, result); n != 0 {
		t.Fatalf("disabled rule emitted %d alerts", n)
	}
}

func TestMatchConsecutiveFailureGate(t *testing.T) {
	configs := []types.AlertConfig{{
		TaskID: 7, AlertType: "status", Enabled: true,
		MinPoints: 1, MinOccurrences: 3, TriggerMode: types.TriggerModeAnd,
	}}
	m, store := newTestMatcher(configs)
	task := pingTask(t, `{"count": 4}`)

	for i := 1; i <= 2; i++ {
		result := &types.Result{TaskID: 7, AgentID: "agent-a", Status: types.ResultStatusFailed}
		if n := m.Match(context.Background(), task, result); n != 0 {
			t.Fatalf("failure %d emitted %d alerts before the gate", i, n)
		}
	}

	result := &types.Result{TaskID: 7, AgentID: "agent-a", Status: types.ResultStatusFailed}
	if n := m.Match(context.Background(), task, result); n != 1 {
		t.Fatalf("third consecutive failure emitted %d alerts, want 1", n)
	}
	if store.alerts[0].AlertType != "status" {
		t.Errorf("alert type = %s, want status", store.alerts[0].AlertType)
	}
}

func TestMatchFleetWideGate(t *testing.T) {
	configs := []types.AlertConfig{{
		TaskID: 7, AlertType: "status", Enabled: true,
		MinPoints: 2, MinOccurrences: 1, TriggerMode: types.TriggerModeAnd,
	}}
	m, store := newTestMatcher(configs)
	task := pingTask(t, `{"count": 4}`)

	a := &types.Result{TaskID: 7, AgentID: "agent-a", Status: types.ResultStatusFailed}
	if n := m.Match(context.Background(), task, a); n != 0 {
		t.Fatalf("single abnormal point emitted %d alerts, want 0", n)
	}

	b := &types.Result{TaskID: 7, AgentID: "agent-b", Status: types.ResultStatusFailed}
	if n := m.Match(context.Background(), task, b); n != 1 {
		t.Fatalf("second abnormal point emitted %d alerts, want 1", n)
	}
	if !strings.Contains(store.alerts[0].Content, "2 monitoring points abnormal") {
		t.Errorf("content should cite abnormal point count: %s", store.alerts[0].Content)
	}
}

func TestMatchRecoveryResetsGate(t *testing.T) {
	configs := []types.AlertConfig{{
		TaskID: 7, AlertType: "status", Enabled: true,
		MinPoints: 1, MinOccurrences: 2, TriggerMode: types.TriggerModeAnd,
	}}
	m, _ := newTestMatcher(configs)
	task := pingTask(t, `{"count": 4}`)

	fail := &types.Result{TaskID: 7, AgentID: "agent-a", Status: types.ResultStatusFailed}
	ok := &types.Result{TaskID: 7, AgentID: "agent-a", Status: types.ResultStatusSuccess}

	m.Match(context.Background(), task, fail)
	m.Match(context.Background(), task, ok)
	if n := m.Match(context.Background(), task, fail); n != 0 {
		t.Fatalf("recovery did not reset the consecutive counter, got %d alerts", n)
	}
	if n := m.Match(context.Background(), task, fail); n != 1 {
		t.Fatalf("second consecutive failure after reset emitted %d alerts, want 1", n)
	}
}

func TestStateCacheSweep(t *testing.T) {
	cache := NewStateCache(discardLogger())
	cache.Observe(1, "agent-a", "status", true)
	cache.Observe(1, "agent-b", "status", true)

	if n := cache.Sweep(); n != 0 {
		t.Fatalf("fresh entries swept: %d", n)
	}

	cache.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	if n := cache.Sweep(); n != 2 {
		t.Fatalf("expired entries not swept: %d", n)
	}
	if cache.Len() != 0 {
		t.Errorf("cache not empty after sweep: %d", cache.Len())
	}
}
