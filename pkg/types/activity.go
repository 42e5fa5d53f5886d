package types

import "time"

// Activity log categories.
const (
	ActivityCategoryTask   = "task"
	ActivityCategoryAlert  = "alert"
	ActivityCategoryAgent  = "agent"
	ActivityCategorySystem = "system"
)

// ActivityEntry is one audit record of a configuration or lifecycle event.
type ActivityEntry struct {
	ID          int64          `json:"id"`
	TaskID      *int64         `json:"task_id,omitempty"`
	AgentID     string         `json:"agent_id,omitempty"`
	Category    string         `json:"category"`
	EventType   string         `json:"event_type"`
	Details     map[string]any `json:"details,omitempty"`
	TriggeredBy string         `json:"triggered_by"`
	Severity    string         `json:"severity"` // info, warning, critical
	CreatedAt   time.Time      `json:"created_at"`
}
