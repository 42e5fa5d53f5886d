package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/probenet-io/probenet/pkg/types"
)

// =============================================================================
// TASKS
// =============================================================================

const taskColumns = `
	id, tenant_id, name, type, target, interval_seconds, enabled, status,
	COALESCE(agent_ids, '[]'::jsonb), COALESCE(config, '{}'::jsonb),
	alarm_config, created_at, updated_at`

// scanTask scans one task row. Config is decoded into its typed branch so
// callers never see an undecoded payload.
func scanTask(row pgx.Row) (*types.Task, error) {
	var t types.Task
	var agentIDs, config []byte
	var alarmConfig []byte

	err := row.Scan(
		&t.ID, &t.TenantID, &t.Name, &t.Type, &t.Target, &t.IntervalSeconds,
		&t.Enabled, &t.Status, &agentIDs, &config, &alarmConfig,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(agentIDs, &t.AgentIDs); err != nil {
		return nil, fmt.Errorf("task %d: decoding agent_ids: %w", t.ID, err)
	}
	t.Config = types.DecodeTaskConfig(t.Type, config)
	if len(alarmConfig) > 0 {
		var ac types.AlarmConfig
		if err := json.Unmarshal(alarmConfig, &ac); err == nil {
			t.AlarmConfig = &ac
		}
	}
	return &t, nil
}

// CreateTask inserts a task and returns it with the assigned id.
func (s *Store) CreateTask(ctx context.Context, t *types.Task) (*types.Task, error) {
	agentIDs, err := json.Marshal(t.AgentIDs)
	if err != nil {
		return nil, err
	}
	config, err := json.Marshal(t.Config)
	if err != nil {
		return nil, err
	}
	var alarmConfig any
	if t.AlarmConfig != nil {
		alarmConfig, err = json.Marshal(t.AlarmConfig)
		if err != nil {
			return nil, err
		}
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO tasks (tenant_id, name, type, target, interval_seconds, enabled, status, agent_ids, config, alarm_config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		RETURNING `+taskColumns,
		t.TenantID, t.Name, t.Type, t.Target, t.IntervalSeconds,
		t.Enabled, t.Status, agentIDs, config, alarmConfig,
	)
	return scanTask(row)
}

// GetTask retrieves a task by id. Tombstoned tasks are not returned.
func (s *Store) GetTask(ctx context.Context, id int64) (*types.Task, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+taskColumns+`
		FROM tasks WHERE id = $1 AND status <> 'deleted'
	`, id)
	t, err := scanTask(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// TaskFilter selects tasks for listing.
type TaskFilter struct {
	Type     *types.TaskType
	Status   *types.TaskStatus
	Enabled  *bool
	TenantID *int64
	Limit    int
	Offset   int
}

// ListTasks returns tasks matching the filter, newest first.
func (s *Store) ListTasks(ctx context.Context, filter TaskFilter) ([]types.Task, int, error) {
	where := "status <> 'deleted'"
	args := []any{}
	argNum := 1

	if filter.Type != nil {
		where += fmt.Sprintf(" AND type = $%d", argNum)
		args = append(args, *filter.Type)
		argNum++
	}
	if filter.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, *filter.Status)
		argNum++
	}
	if filter.Enabled != nil {
		where += fmt.Sprintf(" AND enabled = $%d", argNum)
		args = append(args, *filter.Enabled)
		argNum++
	}
	if filter.TenantID != nil {
		where += fmt.Sprintf(" AND tenant_id = $%d", argNum)
		args = append(args, *filter.TenantID)
		argNum++
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tasks WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM tasks WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, taskColumns, where, argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var tasks []types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, total, rows.Err()
}

// ListActiveTasks returns every enabled active task. The dispatcher applies
// the per-agent visibility filter in memory.
func (s *Store) ListActiveTasks(ctx context.Context) ([]types.Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE enabled = true AND status = 'active'
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// UpdateTask replaces the mutable fields of a task. Returns the updated row,
// or nil when the task does not exist.
func (s *Store) UpdateTask(ctx context.Context, t *types.Task) (*types.Task, error) {
	agentIDs, err := json.Marshal(t.AgentIDs)
	if err != nil {
		return nil, err
	}
	config, err := json.Marshal(t.Config)
	if err != nil {
		return nil, err
	}
	var alarmConfig any
	if t.AlarmConfig != nil {
		alarmConfig, err = json.Marshal(t.AlarmConfig)
		if err != nil {
			return nil, err
		}
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE tasks SET
			name = $2, type = $3, target = $4, interval_seconds = $5,
			enabled = $6, status = $7, agent_ids = $8, config = $9,
			alarm_config = $10, updated_at = NOW()
		WHERE id = $1 AND status <> 'deleted'
		RETURNING `+taskColumns,
		t.ID, t.Name, t.Type, t.Target, t.IntervalSeconds,
		t.Enabled, t.Status, agentIDs, config, alarmConfig,
	)
	updated, err := scanTask(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return updated, err
}

// SetTaskEnabled toggles the enabled flag.
func (s *Store) SetTaskEnabled(ctx context.Context, id int64, enabled bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET enabled = $2, updated_at = NOW()
		WHERE id = $1 AND status <> 'deleted'
	`, id, enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %d not found", id)
	}
	return nil
}

// DeleteTask tombstones a task. Results and alerts keep their rows.
func (s *Store) DeleteTask(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET status = 'deleted', enabled = false, updated_at = NOW()
		WHERE id = $1 AND status <> 'deleted'
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %d not found", id)
	}
	return nil
}
