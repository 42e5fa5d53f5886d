package testutil

import (
	"testing"

	"github.com/probenet-io/probenet/pkg/types"
)

func TestFixtureTaskDefaultsAreValid(t *testing.T) {
	task := FixtureTask()
	if err := task.Validate(); err != nil {
		t.Fatalf("default fixture should validate: %v", err)
	}
	if task.Config.Ping == nil {
		t.Error("ping task fixture missing decoded ping config")
	}
}

func TestFixtureTaskOverrides(t *testing.T) {
	task := FixtureTask(func(tk *types.Task) {
		tk.Type = types.TaskTypeTCP
		tk.Target = "db.internal:5432"
		tk.Config = types.DecodeTaskConfig(types.TaskTypeTCP, nil)
	})
	if task.Type != types.TaskTypeTCP {
		t.Errorf("type = %s, want tcp", task.Type)
	}
	if task.Config.TCP == nil {
		t.Error("tcp task fixture missing decoded tcp config")
	}
}

func TestFixtureResultFailed(t *testing.T) {
	r := FixtureResultFailed(7, "agent-a")
	if r.Status != types.ResultStatusFailed {
		t.Errorf("status = %s, want failed", r.Status)
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("failed fixture should still validate: %v", err)
	}
}
