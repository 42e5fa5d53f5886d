package metrics

import (
	"testing"
	"time"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
		{2 * 1024 * 1024 * 1024 * 1024, "2.0 TB"},
	}

	for _, tt := range tests {
		if got := formatBytes(tt.bytes); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}

func TestCollectControlPlaneReportsUptime(t *testing.T) {
	c := &Collector{startTime: time.Now().Add(-90 * time.Second)}

	health := c.collectControlPlane()
	if health.UptimeSeconds < 90 {
		t.Errorf("uptime = %d, want >= 90", health.UptimeSeconds)
	}
	if health.Goroutines <= 0 {
		t.Error("expected goroutine count to be positive")
	}
	if health.Status != "healthy" && health.Status != "degraded" {
		t.Errorf("unexpected status %q", health.Status)
	}
}
