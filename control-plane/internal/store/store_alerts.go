package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/probenet-io/probenet/pkg/types"
)

// =============================================================================
// ALERTS
// =============================================================================

// CreateAlert inserts an alert. A missing id gets a fresh uuid; a missing
// status defaults to pending.
func (s *Store) CreateAlert(ctx context.Context, alert *types.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Status == "" {
		alert.Status = types.AlertStatusPending
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO alerts (
			id, task_id, tenant_id, step_id,
			alert_type, alert_level, status,
			title, content,
			trigger_value, threshold_value,
			agent_id, agent_area,
			snapshot_data, created_at
		) VALUES (
			$1, $2, $3, NULLIF($4, ''),
			$5, $6, $7,
			$8, $9,
			NULLIF($10, ''), NULLIF($11, ''),
			$12, NULLIF($13, ''),
			$14, NOW()
		)
	`,
		alert.ID, alert.TaskID, alert.TenantID, alert.StepID,
		alert.AlertType, alert.AlertLevel, alert.Status,
		alert.Title, alert.Content,
		alert.TriggerValue, alert.ThresholdValue,
		alert.AgentID, alert.AgentArea,
		alert.SnapshotData,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

const alertColumns = `
	id, task_id, tenant_id, COALESCE(step_id, ''),
	alert_type, alert_level, status,
	title, content,
	COALESCE(trigger_value, ''), COALESCE(threshold_value, ''),
	agent_id, COALESCE(agent_area, ''),
	snapshot_data, created_at, resolved_at, COALESCE(resolved_by, '')`

func scanAlert(row pgx.Row) (*types.Alert, error) {
	var a types.Alert
	err := row.Scan(
		&a.ID, &a.TaskID, &a.TenantID, &a.StepID,
		&a.AlertType, &a.AlertLevel, &a.Status,
		&a.Title, &a.Content,
		&a.TriggerValue, &a.ThresholdValue,
		&a.AgentID, &a.AgentArea,
		&a.SnapshotData, &a.CreatedAt, &a.ResolvedAt, &a.ResolvedBy,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAlert retrieves an alert by id.
func (s *Store) GetAlert(ctx context.Context, id string) (*types.Alert, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id)
	a, err := scanAlert(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// ListAlerts returns alerts matching the filter, newest first, with the
// total match count for pagination.
func (s *Store) ListAlerts(ctx context.Context, filter types.AlertFilter) ([]types.Alert, int, error) {
	where := "1=1"
	args := []any{}
	argNum := 1

	if filter.TaskID != nil {
		where += fmt.Sprintf(" AND task_id = $%d", argNum)
		args = append(args, *filter.TaskID)
		argNum++
	}
	if filter.TenantID != nil {
		where += fmt.Sprintf(" AND tenant_id = $%d", argNum)
		args = append(args, *filter.TenantID)
		argNum++
	}
	if filter.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, *filter.Status)
		argNum++
	}
	if filter.Level != nil {
		where += fmt.Sprintf(" AND alert_level = $%d", argNum)
		args = append(args, *filter.Level)
		argNum++
	}
	if filter.AlertType != nil {
		where += fmt.Sprintf(" AND alert_type = $%d", argNum)
		args = append(args, *filter.AlertType)
		argNum++
	}
	if filter.AgentID != nil {
		where += fmt.Sprintf(" AND agent_id = $%d", argNum)
		args = append(args, *filter.AgentID)
		argNum++
	}
	if filter.Since != nil {
		where += fmt.Sprintf(" AND created_at >= $%d", argNum)
		args = append(args, *filter.Since)
		argNum++
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM alerts WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM alerts WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, alertColumns, where, argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var alerts []types.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		alerts = append(alerts, *a)
	}
	return alerts, total, rows.Err()
}

// UpdateAlertStatus transitions an alert to resolved or ignored. Only pending
// alerts can transition.
func (s *Store) UpdateAlertStatus(ctx context.Context, id string, status types.AlertStatus, by string) (*types.Alert, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE alerts SET
			status = $2,
			resolved_at = NOW(),
			resolved_by = NULLIF($3, '')
		WHERE id = $1 AND status = 'pending'
		RETURNING `+alertColumns,
		id, status, by,
	)
	a, err := scanAlert(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// AlertStats is an aggregate view over the alert table.
type AlertStats struct {
	PendingCount  int64 `json:"pending_count"`
	CriticalCount int64 `json:"critical_count"`
	WarningCount  int64 `json:"warning_count"`
	ResolvedToday int64 `json:"resolved_today"`
}

// GetAlertStats returns aggregate alert counts.
func (s *Store) GetAlertStats(ctx context.Context) (*AlertStats, error) {
	var stats AlertStats
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'pending' AND alert_level = 'critical'),
			COUNT(*) FILTER (WHERE status = 'pending' AND alert_level = 'warning'),
			COUNT(*) FILTER (WHERE status = 'resolved' AND resolved_at >= date_trunc('day', NOW()))
		FROM alerts
	`).Scan(&stats.PendingCount, &stats.CriticalCount, &stats.WarningCount, &stats.ResolvedToday)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// =============================================================================
// CROSS-POINT ALERT CONFIGURATION
// =============================================================================

// ListAlertConfigs returns the enabled cross-point gates for a task.
func (s *Store) ListAlertConfigs(ctx context.Context, taskID int64) ([]types.AlertConfig, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, task_id, COALESCE(step_id, ''), alert_type, enabled,
			COALESCE(config, '{}'::jsonb), min_points, min_occurrences, trigger_mode,
			created_at, updated_at
		FROM alert_configs
		WHERE task_id = $1 AND enabled = true
		ORDER BY id
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []types.AlertConfig
	for rows.Next() {
		var c types.AlertConfig
		if err := rows.Scan(
			&c.ID, &c.TaskID, &c.StepID, &c.AlertType, &c.Enabled,
			&c.Config, &c.MinPoints, &c.MinOccurrences, &c.TriggerMode,
			&c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// UpsertAlertConfig creates or replaces the gate for (task, step, alert type).
func (s *Store) UpsertAlertConfig(ctx context.Context, c *types.AlertConfig) error {
	cfg := c.Config
	if len(cfg) == 0 {
		cfg = json.RawMessage(`{}`)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO alert_configs (task_id, step_id, alert_type, enabled, config, min_points, min_occurrences, trigger_mode, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (task_id, COALESCE(step_id, ''), alert_type) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			config = EXCLUDED.config,
			min_points = EXCLUDED.min_points,
			min_occurrences = EXCLUDED.min_occurrences,
			trigger_mode = EXCLUDED.trigger_mode,
			updated_at = NOW()
	`, c.TaskID, c.StepID, c.AlertType, c.Enabled, cfg, c.MinPoints, c.MinOccurrences, c.TriggerMode)
	return err
}
