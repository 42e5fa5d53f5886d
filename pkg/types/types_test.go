package types

import (
	"encoding/json"
	"testing"
)

func TestDecodeTaskConfigDefaults(t *testing.T) {
	tests := []struct {
		name     string
		taskType TaskType
		raw      string
		check    func(t *testing.T, cfg TaskConfig)
	}{
		{
			name:     "ping empty config gets default count",
			taskType: TaskTypePing,
			raw:      "",
			check: func(t *testing.T, cfg TaskConfig) {
				if cfg.Ping == nil || cfg.Ping.Count != 4 {
					t.Errorf("expected default count 4, got %+v", cfg.Ping)
				}
			},
		},
		{
			name:     "ping malformed config coerces to default",
			taskType: TaskTypePing,
			raw:      `{"count": "not a number"}`,
			check: func(t *testing.T, cfg TaskConfig) {
				if cfg.Ping == nil || cfg.Ping.Count != 4 {
					t.Errorf("expected default count 4, got %+v", cfg.Ping)
				}
			},
		},
		{
			name:     "tcp explicit timeout",
			taskType: TaskTypeTCP,
			raw:      `{"timeout": 5}`,
			check: func(t *testing.T, cfg TaskConfig) {
				if cfg.TCP == nil || cfg.TCP.TimeoutSeconds != 5 {
					t.Errorf("expected timeout 5, got %+v", cfg.TCP)
				}
			},
		},
		{
			name:     "http missing method defaults to GET",
			taskType: TaskTypeHTTP,
			raw:      `{"timeout": 15}`,
			check: func(t *testing.T, cfg TaskConfig) {
				if cfg.HTTP == nil || cfg.HTTP.Method != "GET" || cfg.HTTP.TimeoutSeconds != 15 {
					t.Errorf("unexpected http config %+v", cfg.HTTP)
				}
			},
		},
		{
			name:     "api malformed program coerces to empty program",
			taskType: TaskTypeAPI,
			raw:      `[1,2,3]`,
			check: func(t *testing.T, cfg TaskConfig) {
				if cfg.API == nil || len(cfg.API.Steps) != 0 {
					t.Errorf("expected empty program, got %+v", cfg.API)
				}
			},
		},
		{
			name:     "double-encoded config unwraps",
			taskType: TaskTypePing,
			raw:      `"{\"count\": 8}"`,
			check: func(t *testing.T, cfg TaskConfig) {
				if cfg.Ping == nil || cfg.Ping.Count != 8 {
					t.Errorf("expected count 8, got %+v", cfg.Ping)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DecodeTaskConfig(tt.taskType, json.RawMessage(tt.raw))
			tt.check(t, cfg)
		})
	}
}

func TestTaskVisibleTo(t *testing.T) {
	base := Task{Enabled: true, Status: TaskStatusActive}

	tests := []struct {
		name    string
		modify  func(*Task)
		agentID string
		want    bool
	}{
		{"empty agent list visible to all", func(*Task) {}, "agent-1", true},
		{"listed agent sees task", func(tk *Task) { tk.AgentIDs = []string{"agent-1", "agent-2"} }, "agent-2", true},
		{"unlisted agent does not", func(tk *Task) { tk.AgentIDs = []string{"agent-1"} }, "agent-9", false},
		{"disabled task hidden", func(tk *Task) { tk.Enabled = false }, "agent-1", false},
		{"deleted task hidden", func(tk *Task) { tk.Status = TaskStatusDeleted }, "agent-1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := base
			tt.modify(&task)
			if got := task.VisibleTo(tt.agentID); got != tt.want {
				t.Errorf("VisibleTo(%q) = %v, want %v", tt.agentID, got, tt.want)
			}
		})
	}
}

func TestAlarmConditionLegacySpellings(t *testing.T) {
	var rule AlarmRule
	if err := json.Unmarshal([]byte(`{"enabled":true,"condition":"正常"}`), &rule); err != nil {
		t.Fatal(err)
	}
	if rule.Condition != AlarmCondNormal {
		t.Errorf("expected normal, got %s", rule.Condition)
	}
	if err := json.Unmarshal([]byte(`{"enabled":true,"condition":"异常"}`), &rule); err != nil {
		t.Fatal(err)
	}
	if rule.Condition != AlarmCondAbnormal {
		t.Errorf("expected abnormal, got %s", rule.Condition)
	}
}

func TestProgramValidate(t *testing.T) {
	tests := []struct {
		name    string
		program APIProgram
		wantErr bool
	}{
		{"no steps rejected", APIProgram{}, true},
		{
			"bad variable name rejected",
			APIProgram{
				InitialVariables: map[string]any{"token": "x"},
				Steps:            []Step{{Request: StepRequest{URL: "https://x"}}},
			},
			true,
		},
		{
			"bad extraction variable rejected",
			APIProgram{Steps: []Step{{
				Request:     StepRequest{URL: "https://x"},
				Extractions: []Extraction{{Variable: "$1bad", Source: ExtractFromStatusCode}},
			}}},
			true,
		},
		{
			"valid program accepted",
			APIProgram{
				InitialVariables: map[string]any{"$base": "https://x"},
				Steps: []Step{{
					Request:   StepRequest{URL: "$base/health"},
					Variables: []Extraction{{Variable: "$code", Source: ExtractFromStatusCode}},
				}},
			},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.program.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStepTimeoutScalarOrObject(t *testing.T) {
	var req StepRequest
	if err := json.Unmarshal([]byte(`{"url":"https://x","timeout":10}`), &req); err != nil {
		t.Fatal(err)
	}
	if req.Timeout.ConnectSeconds != 10 || req.Timeout.ReadSeconds != 10 {
		t.Errorf("scalar timeout not applied to both phases: %+v", req.Timeout)
	}
	if err := json.Unmarshal([]byte(`{"url":"https://x","timeout":{"connect":3,"read":20}}`), &req); err != nil {
		t.Fatal(err)
	}
	if req.Timeout.ConnectSeconds != 3 || req.Timeout.ReadSeconds != 20 {
		t.Errorf("object timeout mis-parsed: %+v", req.Timeout)
	}
}
