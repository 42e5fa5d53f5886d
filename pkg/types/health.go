package types

import "time"

// SystemHealth is the aggregate health view served to the console.
type SystemHealth struct {
	Timestamp    time.Time          `json:"timestamp"`
	ControlPlane ControlPlaneHealth `json:"control_plane"`
	Database     DatabaseHealth     `json:"database"`
	Probing      ProbingHealth      `json:"probing"`
}

// ControlPlaneHealth contains control plane runtime metrics.
type ControlPlaneHealth struct {
	Status        string  `json:"status"` // healthy, degraded
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryMB      float64 `json:"memory_mb"`
	MemoryPercent float64 `json:"memory_percent"`
	Goroutines    int     `json:"goroutines"`
	UptimeSeconds int64   `json:"uptime_seconds"`
}

// DatabaseHealth contains database connection and size metrics.
type DatabaseHealth struct {
	Status        string    `json:"status"`
	Pool          PoolStats `json:"pool"`
	SizeBytes     int64     `json:"size_bytes"`
	SizeFormatted string    `json:"size_formatted"`
}

// PoolStats contains pgxpool connection pool statistics.
type PoolStats struct {
	TotalConnections    int32 `json:"total_connections"`
	IdleConnections     int32 `json:"idle_connections"`
	AcquiredConnections int32 `json:"acquired_connections"`
	MaxConnections      int32 `json:"max_connections"`
}

// ProbingHealth summarizes the monitoring fleet and workload.
type ProbingHealth struct {
	OnlineNodes   int64 `json:"online_nodes"`
	TotalNodes    int64 `json:"total_nodes"`
	ActiveTasks   int64 `json:"active_tasks"`
	PendingAlerts int64 `json:"pending_alerts"`
}
