package config

import (
	"fmt"
	"testing"
	"time"
)

func TestNodeThresholds(t *testing.T) {
	// Verify SQL string matches the Go duration.
	n, err := parseInterval(SQLNodeTimeoutInterval)
	if err != nil {
		t.Fatalf("Failed to parse SQL interval %q: %v", SQLNodeTimeoutInterval, err)
	}
	if n != NodeTimeoutThreshold {
		t.Errorf("SQL interval %q (%v) does not match Go duration %v",
			SQLNodeTimeoutInterval, n, NodeTimeoutThreshold)
	}
}

// parseInterval parses a PostgreSQL interval string like "5 minutes"
func parseInterval(s string) (time.Duration, error) {
	var value int
	var unit string
	_, err := fmt.Sscanf(s, "%d %s", &value, &unit)
	if err != nil {
		return 0, err
	}

	switch unit {
	case "seconds", "second":
		return time.Duration(value) * time.Second, nil
	case "minutes", "minute":
		return time.Duration(value) * time.Minute, nil
	default:
		return 0, fmt.Errorf("unknown unit: %s", unit)
	}
}

func TestPaginationLimits(t *testing.T) {
	if DefaultPaginationLimit > MaxPaginationLimit {
		t.Errorf("DefaultPaginationLimit (%d) should not exceed MaxPaginationLimit (%d)",
			DefaultPaginationLimit, MaxPaginationLimit)
	}

	if DefaultPaginationLimit <= 0 {
		t.Error("DefaultPaginationLimit should be positive")
	}
}

func TestCacheTTLs(t *testing.T) {
	ttls := []struct {
		name string
		ttl  time.Duration
	}{
		{"AgentTasks", CacheTTLAgentTasks},
		{"SystemVariables", CacheTTLSystemVariables},
	}

	for _, tt := range ttls {
		t.Run(tt.name, func(t *testing.T) {
			if tt.ttl <= 0 {
				t.Errorf("Cache TTL for %s should be positive, got %v", tt.name, tt.ttl)
			}
			if tt.ttl > 5*time.Minute {
				t.Errorf("Cache TTL for %s (%v) seems too long", tt.name, tt.ttl)
			}
		})
	}
}
