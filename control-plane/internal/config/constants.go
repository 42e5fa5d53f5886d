// Package config - operational constants for the control plane.
//
// This file centralizes hardcoded values so they are easy to find,
// modify, and test.
package config

import "time"

// Node health thresholds determine node status based on heartbeat age.
const (
	// NodeTimeoutThreshold - a node is marked timeout when no heartbeat
	// has been received within this duration.
	NodeTimeoutThreshold = 5 * time.Minute

	// NodeSweepInterval is how often the background sweep checks for
	// stale heartbeats.
	NodeSweepInterval = 5 * time.Minute

	// SQLNodeTimeoutInterval must match NodeTimeoutThreshold.
	SQLNodeTimeoutInterval = "5 minutes"
)

// Pagination defaults for API list endpoints.
const (
	// DefaultPaginationLimit is the default number of items returned
	// when no limit is specified.
	DefaultPaginationLimit = 50

	// MaxPaginationLimit is the maximum number of items that can be
	// requested in a single API call.
	MaxPaginationLimit = 500
)

// Cache TTLs for API response caching.
const (
	// CacheTTLAgentTasks is the TTL for per-agent task lists.
	CacheTTLAgentTasks = 30 * time.Second

	// CacheTTLSystemVariables is the TTL for system variable lists.
	CacheTTLSystemVariables = 60 * time.Second
)

// Connection check timeouts.
const (
	// DatabasePingTimeout is the timeout for database connectivity checks.
	DatabasePingTimeout = 5 * time.Second

	// RedisConnectionTimeout is the timeout for Redis connectivity checks.
	RedisConnectionTimeout = 5 * time.Second
)

// Cross-point alert state retention.
const (
	// AlertStateExpiry is how long an idle (task, agent, alert type) state
	// entry survives before the cleanup sweep drops it.
	AlertStateExpiry = 24 * time.Hour

	// AlertStateSweepInterval is how often expired state is removed.
	AlertStateSweepInterval = 1 * time.Hour
)
