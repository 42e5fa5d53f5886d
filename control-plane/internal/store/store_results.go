package store

import (
	"context"
	"fmt"
	"time"

	"github.com/probenet-io/probenet/pkg/types"
)

// =============================================================================
// RESULTS
// =============================================================================

// InsertResult persists one execution result and returns the assigned id.
func (s *Store) InsertResult(ctx context.Context, r *types.Result) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO results (task_id, tenant_id, status, response_time_ms, message, details, agent_id, agent_area, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING id
	`, r.TaskID, r.TenantID, r.Status, r.ResponseTimeMs, r.Message, r.Details, r.AgentID, r.AgentArea).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert result: %w", err)
	}
	return id, nil
}

// ResultFilter selects results for listing.
type ResultFilter struct {
	TaskID   *int64
	AgentID  *string
	Status   *types.ResultStatus
	Since    *time.Time
	TenantID *int64
	Limit    int
	Offset   int
}

// ListResults returns results matching the filter, newest first.
func (s *Store) ListResults(ctx context.Context, filter ResultFilter) ([]types.Result, int, error) {
	where := "1=1"
	args := []any{}
	argNum := 1

	if filter.TaskID != nil {
		where += fmt.Sprintf(" AND task_id = $%d", argNum)
		args = append(args, *filter.TaskID)
		argNum++
	}
	if filter.AgentID != nil {
		where += fmt.Sprintf(" AND agent_id = $%d", argNum)
		args = append(args, *filter.AgentID)
		argNum++
	}
	if filter.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, *filter.Status)
		argNum++
	}
	if filter.Since != nil {
		where += fmt.Sprintf(" AND created_at >= $%d", argNum)
		args = append(args, *filter.Since)
		argNum++
	}
	if filter.TenantID != nil {
		where += fmt.Sprintf(" AND tenant_id = $%d", argNum)
		args = append(args, *filter.TenantID)
		argNum++
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM results WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT id, task_id, tenant_id, status, response_time_ms, COALESCE(message, ''), details, agent_id, COALESCE(agent_area, ''), created_at
		FROM results WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []types.Result
	for rows.Next() {
		var r types.Result
		if err := rows.Scan(
			&r.ID, &r.TaskID, &r.TenantID, &r.Status, &r.ResponseTimeMs,
			&r.Message, &r.Details, &r.AgentID, &r.AgentArea, &r.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// TaskResultStats is an aggregate view over recent results for one task.
type TaskResultStats struct {
	TaskID        int64   `json:"task_id"`
	Total         int64   `json:"total"`
	Succeeded     int64   `json:"succeeded"`
	Failed        int64   `json:"failed"`
	AvgResponseMs float64 `json:"avg_response_ms"`
	MaxResponseMs float64 `json:"max_response_ms"`
}

// GetTaskResultStats aggregates results for a task over the given window.
func (s *Store) GetTaskResultStats(ctx context.Context, taskID int64, window time.Duration) (*TaskResultStats, error) {
	stats := TaskResultStats{TaskID: taskID}
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'success'),
			COUNT(*) FILTER (WHERE status <> 'success'),
			COALESCE(AVG(response_time_ms), 0),
			COALESCE(MAX(response_time_ms), 0)
		FROM results
		WHERE task_id = $1 AND created_at > NOW() - $2::interval
	`, taskID, window.String()).Scan(
		&stats.Total, &stats.Succeeded, &stats.Failed,
		&stats.AvgResponseMs, &stats.MaxResponseMs,
	)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// DeleteResultsBefore drops results older than the cutoff. Returns the number
// of rows removed.
func (s *Store) DeleteResultsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM results WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
