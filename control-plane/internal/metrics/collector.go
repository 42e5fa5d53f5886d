// Package metrics provides runtime health collection for the control plane.
package metrics

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/probenet-io/probenet/control-plane/internal/store"
	"github.com/probenet-io/probenet/pkg/types"
)

// Collector gathers health metrics with caching.
type Collector struct {
	store     *store.Store
	startTime time.Time

	mu            sync.RWMutex
	cachedHealth  *types.SystemHealth
	cacheExpiry   time.Time
	cacheDuration time.Duration
}

// NewCollector creates a health collector.
func NewCollector(store *store.Store) *Collector {
	return &Collector{
		store:         store,
		startTime:     time.Now(),
		cacheDuration: 30 * time.Second,
	}
}

// Health returns the current system health. Results are cached for 30
// seconds to keep repeated console polls off the database.
func (c *Collector) Health(ctx context.Context) (*types.SystemHealth, error) {
	c.mu.RLock()
	if c.cachedHealth != nil && time.Now().Before(c.cacheExpiry) {
		health := *c.cachedHealth
		c.mu.RUnlock()
		return &health, nil
	}
	c.mu.RUnlock()

	health, err := c.collect(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cachedHealth = health
	c.cacheExpiry = time.Now().Add(c.cacheDuration)
	c.mu.Unlock()

	return health, nil
}

func (c *Collector) collect(ctx context.Context) (*types.SystemHealth, error) {
	health := &types.SystemHealth{
		Timestamp: time.Now(),
	}

	health.ControlPlane = c.collectControlPlane()
	health.Database = c.collectDatabase(ctx)

	probing, err := c.store.GetProbingHealth(ctx)
	if err != nil {
		return nil, err
	}
	health.Probing = *probing

	return health, nil
}

func (c *Collector) collectControlPlane() types.ControlPlaneHealth {
	health := types.ControlPlaneHealth{
		Status:        "healthy",
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err == nil {
		if cpu, err := proc.CPUPercent(); err == nil {
			health.CPUPercent = cpu
		}
		if mem, err := proc.MemoryInfo(); err == nil {
			health.MemoryMB = float64(mem.RSS) / (1024 * 1024)
		}
		if memPct, err := proc.MemoryPercent(); err == nil {
			health.MemoryPercent = float64(memPct)
		}
	}

	if health.MemoryPercent > 90 || health.CPUPercent > 90 {
		health.Status = "degraded"
	}
	return health
}

func (c *Collector) collectDatabase(ctx context.Context) types.DatabaseHealth {
	health := types.DatabaseHealth{
		Status: "healthy",
		Pool:   c.store.GetPoolStats(),
	}

	if health.Pool.AcquiredConnections >= health.Pool.MaxConnections-2 {
		health.Status = "degraded"
	}

	size, err := c.store.GetDatabaseSize(ctx)
	if err != nil {
		health.Status = "error"
		return health
	}
	health.SizeBytes = size
	health.SizeFormatted = formatBytes(size)
	return health
}

// formatBytes converts bytes to a human-readable string.
func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/TB)
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
