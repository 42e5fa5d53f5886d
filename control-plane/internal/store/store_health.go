package store

import (
	"context"

	"github.com/probenet-io/probenet/pkg/types"
)

// =============================================================================
// HEALTH
// =============================================================================

// GetDatabaseSize returns the total size of the database in bytes.
func (s *Store) GetDatabaseSize(ctx context.Context) (int64, error) {
	var size int64
	err := s.pool.QueryRow(ctx, `
		SELECT pg_database_size(current_database())
	`).Scan(&size)
	return size, err
}

// GetPoolStats returns the current connection pool statistics.
func (s *Store) GetPoolStats() types.PoolStats {
	stat := s.pool.Stat()
	return types.PoolStats{
		TotalConnections:    stat.TotalConns(),
		IdleConnections:     stat.IdleConns(),
		AcquiredConnections: stat.AcquiredConns(),
		MaxConnections:      stat.MaxConns(),
	}
}

// GetProbingHealth returns fleet and workload counts for the health view.
func (s *Store) GetProbingHealth(ctx context.Context) (*types.ProbingHealth, error) {
	var h types.ProbingHealth
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM nodes WHERE status = 'online'),
			(SELECT COUNT(*) FROM nodes WHERE status <> 'deleted'),
			(SELECT COUNT(*) FROM tasks WHERE status = 'active' AND enabled = true),
			(SELECT COUNT(*) FROM alerts WHERE status = 'pending')
	`).Scan(&h.OnlineNodes, &h.TotalNodes, &h.ActiveTasks, &h.PendingAlerts)
	if err != nil {
		return nil, err
	}
	return &h, nil
}
