// Package service contains the business logic for the control plane.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/probenet-io/probenet/control-plane/internal/alerting"
	"github.com/probenet-io/probenet/control-plane/internal/cache"
	"github.com/probenet-io/probenet/control-plane/internal/config"
	"github.com/probenet-io/probenet/control-plane/internal/store"
	"github.com/probenet-io/probenet/pkg/types"
)

// ValidationError marks a request rejected by input validation. Handlers map
// it to a 400 response.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// Service provides business logic operations.
type Service struct {
	store   *store.Store
	matcher *alerting.Matcher
	cache   *cache.Cache // optional response cache
	logger  *slog.Logger
}

// NewService creates a new service.
func NewService(st *store.Store, matcher *alerting.Matcher, logger *slog.Logger) *Service {
	return &Service{
		store:   st,
		matcher: matcher,
		logger:  logger,
	}
}

// SetCache enables Redis response caching for the dispatch hot paths.
func (s *Service) SetCache(c *cache.Cache) {
	s.cache = c
}

// Store returns the underlying store for direct access.
func (s *Service) Store() *store.Store {
	return s.store
}

// =============================================================================
// NODE OPERATIONS
// =============================================================================

// RegisterNode registers a node or refreshes an existing registration.
func (s *Service) RegisterNode(ctx context.Context, req *types.RegisterRequest) (*types.Node, error) {
	if req.AgentID == "" {
		return nil, validationErrorf("agent_id is required")
	}
	if err := s.store.UpsertNode(ctx, req); err != nil {
		return nil, fmt.Errorf("registering node: %w", err)
	}
	s.logger.Info("node registered",
		"agent_id", req.AgentID, "area", req.AgentArea, "ip", req.IPAddress)
	s.recordActivity(ctx, &types.ActivityEntry{
		AgentID:     req.AgentID,
		Category:    types.ActivityCategoryAgent,
		EventType:   "registered",
		Details:     map[string]any{"area": req.AgentArea, "ip": req.IPAddress, "version": req.Version},
		TriggeredBy: req.AgentID,
	})
	return s.store.GetNode(ctx, req.AgentID)
}

// ProcessHeartbeat refreshes a node's heartbeat.
func (s *Service) ProcessHeartbeat(ctx context.Context, hb *types.Heartbeat) error {
	if hb.AgentID == "" {
		return validationErrorf("agent_id is required")
	}
	if err := s.store.UpdateNodeHeartbeat(ctx, hb.AgentID, hb.Version); err != nil {
		return err
	}
	s.logger.Debug("heartbeat processed",
		"agent_id", hb.AgentID,
		"running_tasks", hb.Scheduler.RunningTasks,
		"cpu_percent", hb.CPUPercent)
	return nil
}

// ListNodes returns nodes, optionally filtered by status.
func (s *Service) ListNodes(ctx context.Context, status *types.NodeStatus) ([]types.Node, error) {
	return s.store.ListNodes(ctx, status)
}

// =============================================================================
// TASK DISPATCH
// =============================================================================

// TasksForAgent returns the tasks visible to one agent. The full list is
// computed from active tasks and filtered per agent; per-agent results are
// cached briefly since every agent polls on its sync interval.
func (s *Service) TasksForAgent(ctx context.Context, agentID string) ([]types.Task, error) {
	if agentID == "" {
		return nil, validationErrorf("agent_id is required")
	}

	key := cache.AgentTasksKey(agentID)
	if s.cache != nil {
		var cached []types.Task
		if hit, err := s.cache.GetJSON(ctx, key, &cached); err == nil && hit {
			return cached, nil
		}
	}

	all, err := s.store.ListActiveTasks(ctx)
	if err != nil {
		return nil, err
	}

	visible := make([]types.Task, 0, len(all))
	for _, t := range all {
		if t.VisibleTo(agentID) {
			visible = append(visible, t)
		}
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, key, visible, config.CacheTTLAgentTasks); err != nil {
			s.logger.Warn("failed to cache agent task list", "agent_id", agentID, "error", err)
		}
	}
	return visible, nil
}

// =============================================================================
// TASK MANAGEMENT
// =============================================================================

func (s *Service) validateTask(t *types.Task) error {
	if t.Name == "" {
		return validationErrorf("task name is required")
	}
	switch t.Type {
	case types.TaskTypePing, types.TaskTypeTCP, types.TaskTypeHTTP, types.TaskTypeAPI:
	default:
		return validationErrorf("unknown task type: %s", t.Type)
	}
	if t.Type != types.TaskTypeAPI && t.Target == "" {
		return validationErrorf("task target is required")
	}
	if t.IntervalSeconds <= 0 {
		return validationErrorf("task interval must be positive")
	}
	if err := t.Config.Validate(t.Type); err != nil {
		return validationErrorf("invalid task config: %v", err)
	}
	return nil
}

// CreateTask validates and persists a task.
func (s *Service) CreateTask(ctx context.Context, t *types.Task) (*types.Task, error) {
	if t.Status == "" {
		t.Status = types.TaskStatusActive
	}
	if err := s.validateTask(t); err != nil {
		return nil, err
	}

	created, err := s.store.CreateTask(ctx, t)
	if err != nil {
		return nil, err
	}
	s.invalidateTaskCaches(ctx)
	s.logger.Info("task created", "task_id", created.ID, "type", created.Type, "name", created.Name)
	s.recordTaskActivity(ctx, created.ID, "created", map[string]any{"name": created.Name, "type": string(created.Type)})
	return created, nil
}

// GetTask retrieves a task by id.
func (s *Service) GetTask(ctx context.Context, id int64) (*types.Task, error) {
	return s.store.GetTask(ctx, id)
}

// ListTasks returns tasks matching the filter.
func (s *Service) ListTasks(ctx context.Context, filter store.TaskFilter) ([]types.Task, int, error) {
	filter.Limit = clampLimit(filter.Limit)
	return s.store.ListTasks(ctx, filter)
}

// UpdateTask validates and replaces a task. Returns nil when the task does
// not exist.
func (s *Service) UpdateTask(ctx context.Context, t *types.Task) (*types.Task, error) {
	if err := s.validateTask(t); err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateTask(ctx, t)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, nil
	}
	s.invalidateTaskCaches(ctx)
	s.logger.Info("task updated", "task_id", updated.ID, "name", updated.Name)
	s.recordTaskActivity(ctx, updated.ID, "updated", map[string]any{"name": updated.Name})
	return updated, nil
}

// SetTaskEnabled toggles a task.
func (s *Service) SetTaskEnabled(ctx context.Context, id int64, enabled bool) error {
	if err := s.store.SetTaskEnabled(ctx, id, enabled); err != nil {
		return err
	}
	s.invalidateTaskCaches(ctx)
	s.logger.Info("task toggled", "task_id", id, "enabled", enabled)
	event := "disabled"
	if enabled {
		event = "enabled"
	}
	s.recordTaskActivity(ctx, id, event, nil)
	return nil
}

// DeleteTask tombstones a task.
func (s *Service) DeleteTask(ctx context.Context, id int64) error {
	if err := s.store.DeleteTask(ctx, id); err != nil {
		return err
	}
	s.invalidateTaskCaches(ctx)
	s.logger.Info("task deleted", "task_id", id)
	s.recordTaskActivity(ctx, id, "deleted", nil)
	return nil
}

func (s *Service) invalidateTaskCaches(ctx context.Context) {
	if s.cache != nil {
		s.cache.InvalidateAgentTasks(ctx)
	}
}

// =============================================================================
// RESULT INGEST
// =============================================================================

// IngestResult validates and persists one result, then runs the alert
// matcher. Matcher failures are contained: a persisted result is always
// acknowledged even when rule evaluation panics.
func (s *Service) IngestResult(ctx context.Context, result *types.Result) error {
	if err := result.Validate(); err != nil {
		return validationErrorf("%v", err)
	}

	task, err := s.store.GetTask(ctx, result.TaskID)
	if err != nil {
		return err
	}
	if task == nil {
		return validationErrorf("unknown task: %d", result.TaskID)
	}
	result.TenantID = task.TenantID

	id, err := s.store.InsertResult(ctx, result)
	if err != nil {
		return err
	}
	result.ID = id

	s.matchAlerts(ctx, task, result)
	return nil
}

func (s *Service) matchAlerts(ctx context.Context, task *types.Task, result *types.Result) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("alert matcher panicked",
				"task_id", task.ID, "result_id", result.ID, "panic", r)
		}
	}()
	s.matcher.Match(ctx, task, result)
}

// ListResults returns results matching the filter.
func (s *Service) ListResults(ctx context.Context, filter store.ResultFilter) ([]types.Result, int, error) {
	filter.Limit = clampLimit(filter.Limit)
	return s.store.ListResults(ctx, filter)
}

// GetTaskResultStats aggregates recent results for one task.
func (s *Service) GetTaskResultStats(ctx context.Context, taskID int64, window time.Duration) (*store.TaskResultStats, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return s.store.GetTaskResultStats(ctx, taskID, window)
}

// =============================================================================
// ALERTS
// =============================================================================

// ListAlerts returns alerts matching the filter.
func (s *Service) ListAlerts(ctx context.Context, filter types.AlertFilter) ([]types.Alert, int, error) {
	filter.Limit = clampLimit(filter.Limit)
	return s.store.ListAlerts(ctx, filter)
}

// GetAlert retrieves one alert.
func (s *Service) GetAlert(ctx context.Context, id string) (*types.Alert, error) {
	return s.store.GetAlert(ctx, id)
}

// ResolveAlert marks a pending alert resolved. Returns nil when the alert is
// missing or not pending.
func (s *Service) ResolveAlert(ctx context.Context, id, by string) (*types.Alert, error) {
	a, err := s.store.UpdateAlertStatus(ctx, id, types.AlertStatusResolved, by)
	if err == nil && a != nil {
		s.logger.Info("alert resolved", "alert_id", id, "by", by)
		s.recordAlertActivity(ctx, a, "resolved", by)
	}
	return a, err
}

// IgnoreAlert marks a pending alert ignored.
func (s *Service) IgnoreAlert(ctx context.Context, id, by string) (*types.Alert, error) {
	a, err := s.store.UpdateAlertStatus(ctx, id, types.AlertStatusIgnored, by)
	if err == nil && a != nil {
		s.logger.Info("alert ignored", "alert_id", id, "by", by)
		s.recordAlertActivity(ctx, a, "ignored", by)
	}
	return a, err
}

// GetAlertStats returns aggregate alert counts.
func (s *Service) GetAlertStats(ctx context.Context) (*store.AlertStats, error) {
	return s.store.GetAlertStats(ctx)
}

// UpsertAlertConfig validates and stores a cross-point gate.
func (s *Service) UpsertAlertConfig(ctx context.Context, c *types.AlertConfig) error {
	if c.TaskID == 0 {
		return validationErrorf("task_id is required")
	}
	if c.AlertType == "" {
		return validationErrorf("alert_type is required")
	}
	if c.MinPoints <= 0 {
		c.MinPoints = 1
	}
	if c.MinOccurrences <= 0 {
		c.MinOccurrences = 1
	}
	if c.TriggerMode != types.TriggerModeAnd {
		c.TriggerMode = types.TriggerModeOr
	}
	return s.store.UpsertAlertConfig(ctx, c)
}

// ListAlertConfigs returns the enabled gates for a task.
func (s *Service) ListAlertConfigs(ctx context.Context, taskID int64) ([]types.AlertConfig, error) {
	return s.store.ListAlertConfigs(ctx, taskID)
}

// =============================================================================
// SYSTEM VARIABLES
// =============================================================================

// ListSystemVariables returns system variables visible to the caller. A
// non-nil tenantID narrows the list to global variables plus that tenant's
// own. Only the unscoped list is cached; the global cache entry must never
// answer a tenant-scoped call.
func (s *Service) ListSystemVariables(ctx context.Context, tenantID *int64) ([]types.SystemVariable, error) {
	if s.cache != nil && tenantID == nil {
		var cached []types.SystemVariable
		if hit, err := s.cache.GetJSON(ctx, cache.SystemVariablesKey, &cached); err == nil && hit {
			return cached, nil
		}
	}

	vars, err := s.store.ListSystemVariables(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && tenantID == nil {
		if err := s.cache.SetJSON(ctx, cache.SystemVariablesKey, vars, config.CacheTTLSystemVariables); err != nil {
			s.logger.Warn("failed to cache system variables", "error", err)
		}
	}
	return vars, nil
}

// UpsertSystemVariable validates and stores a variable.
func (s *Service) UpsertSystemVariable(ctx context.Context, v *types.SystemVariable) error {
	if !types.VariableNamePattern.MatchString(v.Name) {
		return validationErrorf("invalid variable name %q", v.Name)
	}
	if err := s.store.UpsertSystemVariable(ctx, v); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.InvalidateSystemVariables(ctx)
	}
	s.logger.Info("system variable stored", "name", v.Name)
	return nil
}

// DeleteSystemVariable removes a variable.
func (s *Service) DeleteSystemVariable(ctx context.Context, name string) error {
	if err := s.store.DeleteSystemVariable(ctx, name); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.InvalidateSystemVariables(ctx)
	}
	s.logger.Info("system variable deleted", "name", name)
	return nil
}

// =============================================================================
// ACTIVITY LOG
// =============================================================================

// ListActivity returns recent audit entries matching the filter.
func (s *Service) ListActivity(ctx context.Context, filter store.ActivityFilter) ([]types.ActivityEntry, error) {
	return s.store.ListActivity(ctx, filter)
}

// recordActivity writes an audit entry. Audit failures never fail the
// operation being audited.
func (s *Service) recordActivity(ctx context.Context, entry *types.ActivityEntry) {
	if err := s.store.LogActivity(ctx, entry); err != nil {
		s.logger.Warn("failed to record activity",
			"category", entry.Category, "event", entry.EventType, "error", err)
	}
}

func (s *Service) recordTaskActivity(ctx context.Context, taskID int64, event string, details map[string]any) {
	s.recordActivity(ctx, &types.ActivityEntry{
		TaskID:      &taskID,
		Category:    types.ActivityCategoryTask,
		EventType:   event,
		Details:     details,
		TriggeredBy: "api",
	})
}

func (s *Service) recordAlertActivity(ctx context.Context, a *types.Alert, event, by string) {
	s.recordActivity(ctx, &types.ActivityEntry{
		TaskID:      &a.TaskID,
		AgentID:     a.AgentID,
		Category:    types.ActivityCategoryAlert,
		EventType:   event,
		Details:     map[string]any{"alert_id": a.ID, "alert_type": a.AlertType},
		TriggeredBy: by,
	})
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

// Authenticate verifies a username and password against the user table.
// Returns nil without error when the credentials do not match.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*types.User, error) {
	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u == nil || u.Disabled {
		return nil, nil
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, nil
	}
	return u, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return config.DefaultPaginationLimit
	}
	if limit > config.MaxPaginationLimit {
		return config.MaxPaginationLimit
	}
	return limit
}
