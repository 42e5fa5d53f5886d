package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/probenet-io/probenet/pkg/types"
)

// =============================================================================
// ACTIVITY LOG
// =============================================================================

// LogActivity inserts an activity log entry.
func (s *Store) LogActivity(ctx context.Context, entry *types.ActivityEntry) error {
	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		detailsJSON = []byte("{}")
	}

	severity := entry.Severity
	if severity == "" {
		severity = "info"
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO activity_log (task_id, agent_id, category, event_type, details, triggered_by, severity)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)
	`,
		entry.TaskID, entry.AgentID, entry.Category, entry.EventType,
		detailsJSON, entry.TriggeredBy, severity,
	)
	return err
}

// ActivityFilter selects activity log entries for listing.
type ActivityFilter struct {
	TaskID   *int64
	AgentID  string
	Category string
	Severity string
	Since    time.Time
	Limit    int
}

// ListActivity returns recent activity log entries, newest first.
func (s *Store) ListActivity(ctx context.Context, filter ActivityFilter) ([]types.ActivityEntry, error) {
	where := "1=1"
	args := []any{}
	argNum := 1

	if filter.TaskID != nil {
		where += fmt.Sprintf(" AND task_id = $%d", argNum)
		args = append(args, *filter.TaskID)
		argNum++
	}
	if filter.AgentID != "" {
		where += fmt.Sprintf(" AND agent_id = $%d", argNum)
		args = append(args, filter.AgentID)
		argNum++
	}
	if filter.Category != "" {
		where += fmt.Sprintf(" AND category = $%d", argNum)
		args = append(args, filter.Category)
		argNum++
	}
	if filter.Severity != "" {
		where += fmt.Sprintf(" AND severity = $%d", argNum)
		args = append(args, filter.Severity)
		argNum++
	}
	if !filter.Since.IsZero() {
		where += fmt.Sprintf(" AND created_at >= $%d", argNum)
		args = append(args, filter.Since)
		argNum++
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT id, task_id, COALESCE(agent_id, ''), category, event_type,
			COALESCE(details, '{}'::jsonb), triggered_by, severity, created_at
		FROM activity_log
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d
	`, where, argNum)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []types.ActivityEntry
	for rows.Next() {
		var entry types.ActivityEntry
		var detailsJSON []byte

		if err := rows.Scan(
			&entry.ID, &entry.TaskID, &entry.AgentID, &entry.Category,
			&entry.EventType, &detailsJSON, &entry.TriggeredBy, &entry.Severity,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}

		if len(detailsJSON) > 0 {
			json.Unmarshal(detailsJSON, &entry.Details)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// GetActivityStats returns event counts per category:event_type since a
// cutoff.
func (s *Store) GetActivityStats(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT category || ':' || event_type, COUNT(*)
		FROM activity_log
		WHERE created_at >= $1
		GROUP BY category, event_type
		ORDER BY COUNT(*) DESC
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		stats[key] = count
	}
	return stats, rows.Err()
}
