// Package testutil provides testing utilities and fixtures for the control
// plane.
//
// Fixtures use functional options for customization:
//
//	task := testutil.FixtureTask()
//	task := testutil.FixtureTask(func(t *types.Task) {
//		t.Type = types.TaskTypeTCP
//		t.Target = "db.internal:5432"
//	})
package testutil

import (
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/probenet-io/probenet/pkg/types"
)

// NewTestLogger returns a logger that discards all output.
func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// TASK FIXTURES
// =============================================================================

// FixtureTask creates an enabled ping task with sensible defaults.
func FixtureTask(overrides ...func(*types.Task)) *types.Task {
	task := &types.Task{
		ID:              1,
		Name:            "test-ping",
		Type:            types.TaskTypePing,
		Target:          "192.0.2.10",
		IntervalSeconds: 30,
		Enabled:         true,
		Status:          types.TaskStatusActive,
		Config:          types.DecodeTaskConfig(types.TaskTypePing, json.RawMessage(`{}`)),
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}

	for _, override := range overrides {
		override(task)
	}
	return task
}

// FixtureAPITask creates an api task running the given steps.
func FixtureAPITask(steps []types.Step, overrides ...func(*types.Task)) *types.Task {
	raw, _ := json.Marshal(map[string]any{"steps": steps})
	return FixtureTask(append([]func(*types.Task){
		func(t *types.Task) {
			t.Name = "test-api"
			t.Type = types.TaskTypeAPI
			t.Target = ""
			t.Config = types.DecodeTaskConfig(types.TaskTypeAPI, raw)
		},
	}, overrides...)...)
}

// =============================================================================
// RESULT FIXTURES
// =============================================================================

// FixtureResult creates a successful result for the given task and agent.
func FixtureResult(taskID int64, agentID string, overrides ...func(*types.Result)) *types.Result {
	result := &types.Result{
		TaskID:         taskID,
		AgentID:        agentID,
		AgentArea:      "us-east",
		Status:         types.ResultStatusSuccess,
		ResponseTimeMs: 12,
		CreatedAt:      time.Now(),
	}

	for _, override := range overrides {
		override(result)
	}
	return result
}

// FixtureResultFailed creates a failed result.
func FixtureResultFailed(taskID int64, agentID string, overrides ...func(*types.Result)) *types.Result {
	return FixtureResult(taskID, agentID, append([]func(*types.Result){
		func(r *types.Result) {
			r.Status = types.ResultStatusFailed
			r.ResponseTimeMs = 0
			r.Message = "request timeout"
		},
	}, overrides...)...)
}

// =============================================================================
// NODE FIXTURES
// =============================================================================

// FixtureNode creates an online node.
func FixtureNode(agentID string, overrides ...func(*types.Node)) *types.Node {
	node := &types.Node{
		ID:            1,
		AgentID:       agentID,
		AgentArea:     "us-east",
		IPAddress:     "10.0.0.1",
		Hostname:      "probe-1",
		Status:        types.NodeStatusOnline,
		Version:       "1.0.0",
		LastHeartbeat: time.Now(),
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	for _, override := range overrides {
		override(node)
	}
	return node
}

// =============================================================================
// ALERT FIXTURES
// =============================================================================

// FixtureAlertConfig creates an enabled cross-point gate.
func FixtureAlertConfig(taskID int64, alertType string, overrides ...func(*types.AlertConfig)) *types.AlertConfig {
	cfg := &types.AlertConfig{
		ID:             1,
		TaskID:         taskID,
		AlertType:      alertType,
		Enabled:        true,
		MinPoints:      1,
		MinOccurrences: 1,
		TriggerMode:    types.TriggerModeOr,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}

	for _, override := range overrides {
		override(cfg)
	}
	return cfg
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Ptr returns a pointer to the given value. Useful for optional fields.
func Ptr[T any](v T) *T {
	return &v
}

// TimeAgo returns a time in the past by the given duration.
func TimeAgo(d time.Duration) time.Time {
	return time.Now().Add(-d)
}
