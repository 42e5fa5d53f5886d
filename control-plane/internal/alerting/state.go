// Package alerting evaluates alert rules against ingested results.
//
// # Design Principles
//
// 1. Synchronous Matching: the matcher runs inside the ingest path, after
//    the result is persisted. A result is either fully matched or the
//    failure is logged; ingest never fails because of the matcher.
//
// 2. In-Process Correlation State: cross-point counters live in a single
//    mutex-guarded map keyed (task, agent, alert type). The cache resets on
//    process start; a sustained outage repopulates the counters within a few
//    probe intervals, so persistence is not worth the coupling.
package alerting

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/probenet-io/probenet/control-plane/internal/config"
)

const historyDepth = 10

type stateKey struct {
	taskID    int64
	agentID   string
	alertType string
}

type pointState struct {
	consecutiveFailures int
	lastStatus          string // "normal" or "abnormal"
	lastUpdate          time.Time
	history             []bool // most recent last, capped at historyDepth
}

// StateCache holds per-(task, agent, alert type) failure counters for
// cross-point correlation.
type StateCache struct {
	mu      sync.Mutex
	entries map[stateKey]*pointState
	logger  *slog.Logger
	now     func() time.Time
}

// NewStateCache creates an empty cache. The cold-start warning matters
// operationally: correlation gates see zero consecutive failures until the
// counters repopulate.
func NewStateCache(logger *slog.Logger) *StateCache {
	logger.Warn("alert correlation state starts cold, counters repopulate from incoming results")
	return &StateCache{
		entries: make(map[stateKey]*pointState),
		logger:  logger,
		now:     time.Now,
	}
}

// Observe records one observation and returns the updated consecutive
// failure count for the point.
func (c *StateCache) Observe(taskID int64, agentID, alertType string, abnormal bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := stateKey{taskID: taskID, agentID: agentID, alertType: alertType}
	st, ok := c.entries[key]
	if !ok {
		st = &pointState{}
		c.entries[key] = st
	}

	if abnormal {
		st.consecutiveFailures++
		st.lastStatus = "abnormal"
	} else {
		st.consecutiveFailures = 0
		st.lastStatus = "normal"
	}
	st.lastUpdate = c.now()
	st.history = append(st.history, abnormal)
	if len(st.history) > historyDepth {
		st.history = st.history[len(st.history)-historyDepth:]
	}
	return st.consecutiveFailures
}

// AbnormalPoints counts agents whose consecutive failure count for
// (task, alert type) has reached minOccurrences.
func (c *StateCache) AbnormalPoints(taskID int64, alertType string, minOccurrences int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, st := range c.entries {
		if key.taskID == taskID && key.alertType == alertType && st.consecutiveFailures >= minOccurrences {
			n++
		}
	}
	return n
}

// Sweep drops entries idle longer than the expiry. Returns the number
// removed.
func (c *StateCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-config.AlertStateExpiry)
	removed := 0
	for key, st := range c.entries {
		if st.lastUpdate.Before(cutoff) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked points.
func (c *StateCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RunSweeper removes expired entries on an interval until ctx is done.
func (c *StateCache) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(config.AlertStateSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("swept expired alert state", "removed", n, "remaining", c.Len())
			}
		}
	}
}
