// Package worker provides background workers for the control plane.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/probenet-io/probenet/control-plane/internal/config"
)

// NodeStore defines the storage interface for the node sweeper.
type NodeStore interface {
	// MarkStaleNodesTimeout flips online nodes with stale heartbeats to
	// timeout and returns the number changed.
	MarkStaleNodesTimeout(ctx context.Context) (int64, error)
}

// NodeSweeper periodically marks nodes with stale heartbeats as timed out.
type NodeSweeper struct {
	store    NodeStore
	interval time.Duration
	logger   *slog.Logger
}

// NewNodeSweeper creates a sweeper with the default interval.
func NewNodeSweeper(store NodeStore, logger *slog.Logger) *NodeSweeper {
	return &NodeSweeper{
		store:    store,
		interval: config.NodeSweepInterval,
		logger:   logger.With("component", "node_sweeper"),
	}
}

// Run sweeps on the configured interval until ctx is done. One sweep runs
// immediately at start so a restart does not leave stale nodes online for a
// full interval.
func (w *NodeSweeper) Run(ctx context.Context) {
	w.logger.Info("node sweeper started", "interval", w.interval)
	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("node sweeper stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *NodeSweeper) sweep(ctx context.Context) {
	n, err := w.store.MarkStaleNodesTimeout(ctx)
	if err != nil {
		w.logger.Error("node sweep failed", "error", err)
		return
	}
	if n > 0 {
		w.logger.Warn("nodes marked timeout", "count", n)
	}
}
