// Package types defines the core domain types shared between agent and control plane.
//
// # Design Principles
//
// 1. Simplicity: Types represent the domain model directly, no ORM abstractions
// 2. Serialization: All types are JSON-serializable for API transport
// 3. Typed config: Task config is parsed once into a tagged variant; malformed
//    config degrades to a typed default instead of propagating raw JSON
// 4. Validation: Types include Validate() methods for business rule enforcement
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// TASK
// =============================================================================

// TaskType identifies which probe engine executes a task.
type TaskType string

const (
	TaskTypePing TaskType = "ping"
	TaskTypeTCP  TaskType = "tcp"
	TaskTypeHTTP TaskType = "http"
	TaskTypeAPI  TaskType = "api"
)

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypePing, TaskTypeTCP, TaskTypeHTTP, TaskTypeAPI:
		return true
	}
	return false
}

// TaskStatus is the lifecycle status of a task. Deleted tasks are
// tombstoned, not removed; they stay invisible to agents.
type TaskStatus string

const (
	TaskStatusActive  TaskStatus = "active"
	TaskStatusDeleted TaskStatus = "deleted"
)

// Task is a probe definition.
//
// Target form depends on type: host for ping, host:port for tcp, URL for
// http/api (may contain variable references resolved by the api engine).
type Task struct {
	ID              int64        `json:"task_id"`
	TenantID        *int64       `json:"tenant_id,omitempty"` // nil = global
	Name            string       `json:"name"`
	Type            TaskType     `json:"type"`
	Target          string       `json:"target"`
	IntervalSeconds int          `json:"interval"`
	Enabled         bool         `json:"enabled"`
	Status          TaskStatus   `json:"status"`
	AgentIDs        []string     `json:"agent_ids,omitempty"` // empty = all agents
	Config          TaskConfig   `json:"config"`
	AlarmConfig     *AlarmConfig `json:"alarm_config,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// VisibleTo reports whether the task should be served to the given agent.
func (t *Task) VisibleTo(agentID string) bool {
	if !t.Enabled || t.Status != TaskStatusActive {
		return false
	}
	if len(t.AgentIDs) == 0 {
		return true
	}
	for _, id := range t.AgentIDs {
		if id == agentID {
			return true
		}
	}
	return false
}

// Validate checks the business rules enforced at create/update time.
func (t *Task) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("task name is required")
	}
	if !t.Type.Valid() {
		return fmt.Errorf("unknown task type: %s", t.Type)
	}
	if t.Target == "" {
		return fmt.Errorf("task target is required")
	}
	if t.IntervalSeconds < 1 {
		return fmt.Errorf("interval must be >= 1 second, got %d", t.IntervalSeconds)
	}
	return t.Config.Validate(t.Type)
}

// =============================================================================
// TASK CONFIG (tagged variant)
// =============================================================================

// TaskConfig is the type-specific task payload. Exactly one branch is set,
// matching Task.Type. The zero value unmarshals to the typed default for
// whatever type it is decoded against.
type TaskConfig struct {
	Ping *PingConfig `json:"-"`
	TCP  *TCPConfig  `json:"-"`
	HTTP *HTTPConfig `json:"-"`
	API  *APIProgram `json:"-"`

	// raw keeps the original payload so the config survives a
	// decode/encode round trip through an agent unchanged.
	raw json.RawMessage
}

// PingConfig configures the ping engine.
type PingConfig struct {
	Count int `json:"count,omitempty"` // packets per run, default 4
}

// TCPConfig configures the tcp engine.
type TCPConfig struct {
	TimeoutSeconds int `json:"timeout,omitempty"` // connect timeout, default 10
}

// HTTPConfig configures the http engine.
type HTTPConfig struct {
	Method          string            `json:"method,omitempty"` // default GET
	TimeoutSeconds  int               `json:"timeout,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	FollowRedirects *bool             `json:"follow_redirects,omitempty"` // default true
}

// TaskAlertSettings are the built-in per-task alert knobs carried inside the
// config payload (task_status and task_timeout families).
type TaskAlertSettings struct {
	StatusAlertConfig   []string `json:"statusAlertConfig,omitempty"`
	StatusAlertLevel    string   `json:"statusAlertLevel,omitempty"`
	TimeoutAlertEnabled bool     `json:"timeoutAlertEnabled,omitempty"`
	TimeoutThresholdMs  float64  `json:"timeoutThreshold,omitempty"`
	TimeoutAlertLevel   string   `json:"timeoutAlertLevel,omitempty"`
}

// DecodeTaskConfig parses raw config for the given task type. Malformed
// payloads coerce to the typed default for the type rather than failing:
// the dispatcher must never serve an agent an undecodable config.
func DecodeTaskConfig(taskType TaskType, raw json.RawMessage) TaskConfig {
	cfg := TaskConfig{raw: normalizeRaw(raw)}
	switch taskType {
	case TaskTypePing:
		c := &PingConfig{Count: 4}
		if len(cfg.raw) > 0 {
			if err := json.Unmarshal(cfg.raw, c); err != nil || c.Count <= 0 {
				c.Count = 4
			}
		}
		cfg.Ping = c
	case TaskTypeTCP:
		c := &TCPConfig{TimeoutSeconds: 10}
		if len(cfg.raw) > 0 {
			if err := json.Unmarshal(cfg.raw, c); err != nil || c.TimeoutSeconds <= 0 {
				c.TimeoutSeconds = 10
			}
		}
		cfg.TCP = c
	case TaskTypeHTTP:
		c := &HTTPConfig{Method: "GET", TimeoutSeconds: 30}
		if len(cfg.raw) > 0 {
			if err := json.Unmarshal(cfg.raw, c); err != nil {
				c = &HTTPConfig{Method: "GET", TimeoutSeconds: 30}
			}
			if c.Method == "" {
				c.Method = "GET"
			}
			if c.TimeoutSeconds <= 0 {
				c.TimeoutSeconds = 30
			}
		}
		cfg.HTTP = c
	case TaskTypeAPI:
		p := &APIProgram{}
		if len(cfg.raw) > 0 {
			if err := json.Unmarshal(cfg.raw, p); err != nil {
				p = &APIProgram{}
			}
		}
		cfg.API = p
	}
	return cfg
}

// normalizeRaw treats a JSON string containing JSON (a legacy storage shape)
// as the inner document.
func normalizeRaw(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err == nil && inner != "" {
			return json.RawMessage(inner)
		}
	}
	return raw
}

// Raw returns the original config payload.
func (c TaskConfig) Raw() json.RawMessage { return c.raw }

// AlertSettings extracts the built-in alert knobs from the config payload.
// They apply to every task type and live alongside the type-specific fields.
func (c TaskConfig) AlertSettings() TaskAlertSettings {
	var s TaskAlertSettings
	if len(c.raw) > 0 {
		json.Unmarshal(c.raw, &s)
	}
	return s
}

// Validate checks the config branch required by the task type.
func (c TaskConfig) Validate(taskType TaskType) error {
	if taskType == TaskTypeAPI {
		if c.API == nil {
			return fmt.Errorf("api task requires an api program config")
		}
		return c.API.Validate()
	}
	return nil
}

// MarshalJSON emits the original payload so agents see the full config.
func (c TaskConfig) MarshalJSON() ([]byte, error) {
	if len(c.raw) == 0 {
		return []byte("{}"), nil
	}
	return c.raw, nil
}

// UnmarshalJSON captures the payload; the typed branch is filled in by
// DecodeTaskConfig once the task type is known.
func (c *TaskConfig) UnmarshalJSON(data []byte) error {
	c.raw = normalizeRaw(append(json.RawMessage(nil), data...))
	return nil
}

// Decode fills the typed branch for the given task type.
func (c *TaskConfig) Decode(taskType TaskType) {
	*c = DecodeTaskConfig(taskType, c.raw)
}

// =============================================================================
// NODE (agent registration)
// =============================================================================

// NodeStatus tracks agent liveness as seen by the control plane.
type NodeStatus string

const (
	NodeStatusOnline  NodeStatus = "online"
	NodeStatusOffline NodeStatus = "offline"
	NodeStatusTimeout NodeStatus = "timeout"
	NodeStatusDeleted NodeStatus = "deleted"
)

// Node is a registered agent. Nodes are global, not tenant-scoped.
type Node struct {
	ID            int64      `json:"id"`
	AgentID       string     `json:"agent_id"`
	AgentArea     string     `json:"agent_area"`
	IPAddress     string     `json:"ip_address"`
	Hostname      string     `json:"hostname"`
	Status        NodeStatus `json:"status"`
	Version       string     `json:"version,omitempty"`
	LastHeartbeat time.Time  `json:"last_heartbeat"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// RegisterRequest is sent by an agent to register itself.
type RegisterRequest struct {
	AgentID   string `json:"agent_id"`
	AgentArea string `json:"agent_area"`
	IPAddress string `json:"ip_address"`
	Hostname  string `json:"hostname"`
	Version   string `json:"version,omitempty"`
}

// SchedulerSnapshot is the worker-pool state carried in a heartbeat.
type SchedulerSnapshot struct {
	TotalTasks     int   `json:"total_tasks"`
	RunningTasks   int   `json:"running_tasks"`
	PendingTasks   int   `json:"pending_tasks"`
	CompletedTasks int64 `json:"completed_tasks"`
	FailedTasks    int64 `json:"failed_tasks"`
	MaxWorkers     int   `json:"max_workers"`
}

// Heartbeat is the periodic agent health report.
type Heartbeat struct {
	AgentID       string            `json:"agent_id"`
	Timestamp     time.Time         `json:"timestamp"`
	Version       string            `json:"version,omitempty"`
	UptimeSeconds int64             `json:"uptime_seconds,omitempty"`
	Scheduler     SchedulerSnapshot `json:"scheduler"`
	CPUPercent    float64           `json:"cpu_percent,omitempty"`
	MemoryMB      float64           `json:"memory_mb,omitempty"`
}

// =============================================================================
// RESULT
// =============================================================================

// ResultStatus is the outcome of one task execution.
type ResultStatus string

const (
	ResultStatusSuccess ResultStatus = "success"
	ResultStatusFailed  ResultStatus = "failed"
	ResultStatusTimeout ResultStatus = "timeout"
	ResultStatusError   ResultStatus = "error"
)

// Result is one recorded execution of a Task by an Agent.
//
// ResponseTimeMs is wall time of the whole execution in milliseconds.
// Milliseconds are the only accepted unit; ingest rejects negative values.
type Result struct {
	ID             int64           `json:"id,omitempty"`
	TaskID         int64           `json:"task_id"`
	Status         ResultStatus    `json:"status"`
	ResponseTimeMs float64         `json:"response_time"`
	Message        string          `json:"message,omitempty"`
	Details        json.RawMessage `json:"details,omitempty"`
	AgentID        string          `json:"agent_id"`
	AgentArea      string          `json:"agent_area,omitempty"`
	TenantID       *int64          `json:"tenant_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Validate checks the invariants enforced at ingest time.
func (r *Result) Validate() error {
	if r.TaskID == 0 {
		return fmt.Errorf("result task_id is required")
	}
	if r.AgentID == "" {
		return fmt.Errorf("result agent_id is required")
	}
	switch r.Status {
	case ResultStatusSuccess, ResultStatusFailed, ResultStatusTimeout, ResultStatusError:
	default:
		return fmt.Errorf("unknown result status: %s", r.Status)
	}
	if r.ResponseTimeMs < 0 {
		return fmt.Errorf("response_time must be >= 0 milliseconds, got %v", r.ResponseTimeMs)
	}
	return nil
}

// PingDetails is the typed details payload for ping results.
type PingDetails struct {
	Target          string  `json:"target"`
	PacketsSent     int     `json:"packet_sent"`
	PacketsRecvd    int     `json:"packet_received"`
	PacketLossPct   float64 `json:"packet_loss"`
	RTTMinMs        float64 `json:"rtt_min"`
	RTTAvgMs        float64 `json:"rtt_avg"`
	RTTMaxMs        float64 `json:"rtt_max"`
	ExecutionTimeMs float64 `json:"execution_time"`
}

// TCPDetails is the typed details payload for tcp results.
type TCPDetails struct {
	Target          string  `json:"target"`
	Host            string  `json:"host"`
	Port            int     `json:"port"`
	Connected       bool    `json:"connected"`
	ConnectTimeMs   float64 `json:"connect_time"`
	ExecutionTimeMs float64 `json:"execution_time"`
}

// HTTPDetails is the typed details payload for http results. Phase times are
// reported for every phase that ran, even when a later phase failed.
type HTTPDetails struct {
	DNSTimeMs       float64           `json:"dns_time"`
	TCPTimeMs       float64           `json:"tcp_time"`
	SSLTimeMs       float64           `json:"ssl_time,omitempty"`
	FirstByteTimeMs float64           `json:"first_byte_time,omitempty"`
	DownloadTimeMs  float64           `json:"download_time,omitempty"`
	HTTPTimeMs      float64           `json:"http_time,omitempty"`
	StatusCode      int               `json:"status_code,omitempty"`
	DNSIPs          []string          `json:"dns_ips,omitempty"`
	FinalURL        string            `json:"final_url,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	ContentLength   int64             `json:"content_length,omitempty"`
	FailedPhase     string            `json:"failed_phase,omitempty"`
	PhaseError      string            `json:"phase_error,omitempty"`
}

// APIDetails is the typed details payload for api results.
type APIDetails struct {
	Steps            []StepResult   `json:"steps"`
	Variables        map[string]any `json:"variables,omitempty"`
	TotalAssertions  int            `json:"total_assertions"`
	PassedAssertions int            `json:"passed_assertions"`
	StartTime        time.Time      `json:"start_time"`
	EndTime          time.Time      `json:"end_time"`
}

// MarshalDetails converts a typed details payload to json.RawMessage.
func MarshalDetails(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

// =============================================================================
// SYSTEM VARIABLES
// =============================================================================

// SystemVariable is a tenant-scoped value injected into every API program.
// Names start with "$" like all program variables.
type SystemVariable struct {
	ID        int64     `json:"id"`
	TenantID  *int64    `json:"tenant_id,omitempty"`
	Name      string    `json:"name"`
	Value     string    `json:"value"`
	Remark    string    `json:"remark,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// =============================================================================
// USERS
// =============================================================================

// RoleSuperAdmin bypasses tenant scoping on list queries.
const RoleSuperAdmin = "super_admin"

// User is an operator account. PasswordHash is bcrypt and never serialized.
type User struct {
	ID           int64     `json:"id"`
	TenantID     *int64    `json:"tenant_id,omitempty"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	TenantRole   string    `json:"tenant_role,omitempty"`
	Disabled     bool      `json:"disabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
