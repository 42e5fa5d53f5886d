// Package api provides HTTP handlers for the control plane.
//
// # Endpoints
//
// Agent API (static bearer token):
//   - POST /api/v1/nodes/register - Register node
//   - POST /api/v1/nodes/heartbeat - Node heartbeat
//   - GET  /api/v1/tasks/agent?agent_id=... - Task list for one agent
//   - POST /api/v1/results - Ingest one result
//   - GET  /api/v1/system-variables - System variables for api programs
//
// Management API (user JWT):
//   - POST   /api/v1/auth/login - Issue tokens
//   - POST   /api/v1/auth/refresh - Rotate access token
//   - GET    /api/v1/tasks, POST /api/v1/tasks
//   - GET    /api/v1/tasks/{id}, PUT, DELETE
//   - POST   /api/v1/tasks/{id}/enable, /disable
//   - GET    /api/v1/tasks/{id}/stats
//   - GET    /api/v1/tasks/{id}/alert-configs, PUT
//   - GET    /api/v1/results - Query results
//   - GET    /api/v1/alerts, /api/v1/alerts/stats, /api/v1/alerts/{id}
//   - POST   /api/v1/alerts/{id}/resolve, /ignore
//   - GET    /api/v1/nodes - List nodes
//   - POST   /api/v1/system-variables, DELETE /api/v1/system-variables/{name}
//   - GET    /api/v1/activity - Audit log
//   - GET    /api/v1/system/health - Runtime health metrics
//
// Health:
//   - GET /api/v1/health
//
// Every response uses the envelope {code, data, message}; code 0 is success,
// errors carry the HTTP status as code.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/probenet-io/probenet/control-plane/internal/config"
	"github.com/probenet-io/probenet/control-plane/internal/metrics"
	"github.com/probenet-io/probenet/control-plane/internal/service"
	"github.com/probenet-io/probenet/control-plane/internal/store"
	"github.com/probenet-io/probenet/pkg/types"
)

const maxBodyBytes = 4 << 20

// Server is the HTTP API server.
type Server struct {
	svc    *service.Service
	auth   *Authenticator
	health *metrics.Collector
	logger *slog.Logger
	mux    *http.ServeMux
	limits *agentLimiters
}

// NewServer creates a new API server.
func NewServer(svc *service.Service, cfg *config.Config, logger *slog.Logger) *Server {
	s := &Server{
		svc:    svc,
		auth:   NewAuthenticator(cfg.Auth),
		health: metrics.NewCollector(svc.Store()),
		logger: logger,
		mux:    http.NewServeMux(),
		limits: newAgentLimiters(cfg.Ingest.RatePerAgent, cfg.Ingest.BurstPerAgent),
	}
	s.registerRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Agent-ID")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	start := time.Now()
	s.mux.ServeHTTP(w, r)
	s.logger.Debug("request",
		"method", r.Method,
		"path", r.URL.Path,
		"duration", time.Since(start))
}

func (s *Server) registerRoutes() {
	// Health
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	// Auth
	s.mux.HandleFunc("POST /api/v1/auth/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/v1/auth/refresh", s.handleRefresh)

	// Agent API
	s.mux.HandleFunc("POST /api/v1/nodes/register", s.agentAuth(s.handleNodeRegister))
	s.mux.HandleFunc("POST /api/v1/nodes/heartbeat", s.agentAuth(s.handleNodeHeartbeat))
	s.mux.HandleFunc("GET /api/v1/tasks/agent", s.agentAuth(s.handleTasksForAgent))
	s.mux.HandleFunc("POST /api/v1/results", s.agentAuth(s.rateLimited(s.handleIngestResult)))

	// System variables are read by agents and managed by users.
	s.mux.HandleFunc("GET /api/v1/system-variables", s.anyAuth(s.handleListSystemVariables))
	s.mux.HandleFunc("POST /api/v1/system-variables", s.userAuth(s.handleUpsertSystemVariable))
	s.mux.HandleFunc("DELETE /api/v1/system-variables/{name}", s.userAuth(s.handleDeleteSystemVariable))

	// Task management
	s.mux.HandleFunc("GET /api/v1/tasks", s.userAuth(s.handleListTasks))
	s.mux.HandleFunc("POST /api/v1/tasks", s.userAuth(s.handleCreateTask))
	s.mux.HandleFunc("GET /api/v1/tasks/{id}", s.userAuth(s.handleGetTask))
	s.mux.HandleFunc("PUT /api/v1/tasks/{id}", s.userAuth(s.handleUpdateTask))
	s.mux.HandleFunc("DELETE /api/v1/tasks/{id}", s.userAuth(s.handleDeleteTask))
	s.mux.HandleFunc("POST /api/v1/tasks/{id}/enable", s.userAuth(s.handleEnableTask(true)))
	s.mux.HandleFunc("POST /api/v1/tasks/{id}/disable", s.userAuth(s.handleEnableTask(false)))
	s.mux.HandleFunc("GET /api/v1/tasks/{id}/stats", s.userAuth(s.handleTaskStats))
	s.mux.HandleFunc("GET /api/v1/tasks/{id}/alert-configs", s.userAuth(s.handleListAlertConfigs))
	s.mux.HandleFunc("PUT /api/v1/tasks/{id}/alert-configs", s.userAuth(s.handleUpsertAlertConfig))

	// Results
	s.mux.HandleFunc("GET /api/v1/results", s.userAuth(s.handleListResults))

	// Alerts
	s.mux.HandleFunc("GET /api/v1/alerts", s.userAuth(s.handleListAlerts))
	s.mux.HandleFunc("GET /api/v1/alerts/stats", s.userAuth(s.handleAlertStats))
	s.mux.HandleFunc("GET /api/v1/alerts/{id}", s.userAuth(s.handleGetAlert))
	s.mux.HandleFunc("POST /api/v1/alerts/{id}/resolve", s.userAuth(s.handleAlertStatus(types.AlertStatusResolved)))
	s.mux.HandleFunc("POST /api/v1/alerts/{id}/ignore", s.userAuth(s.handleAlertStatus(types.AlertStatusIgnored)))

	// Nodes
	s.mux.HandleFunc("GET /api/v1/nodes", s.userAuth(s.handleListNodes))

	// Operations
	s.mux.HandleFunc("GET /api/v1/activity", s.userAuth(s.handleListActivity))
	s.mux.HandleFunc("GET /api/v1/system/health", s.userAuth(s.handleSystemHealth))
}

// =============================================================================
// ENVELOPE
// =============================================================================

type envelope struct {
	Code    int    `json:"code"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Code: 0, Data: data, Message: "success"})
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Code: status, Message: fmt.Sprintf(format, args...)})
}

// writeServiceError maps service errors: validation failures are 400,
// everything else is 500.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var ve *service.ValidationError
	if errors.As(err, &ve) {
		writeError(w, http.StatusBadRequest, "%s", ve.Error())
		return
	}
	s.logger.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("reading body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

// =============================================================================
// HEALTH
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if err := s.svc.Store().Ping(r.Context()); err != nil {
		s.logger.Error("health check failed", "error", err)
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status})
}

// =============================================================================
// AGENT HANDLERS
// =============================================================================

func (s *Server) handleNodeRegister(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "%s", err)
		return
	}

	node, err := s.svc.RegisterNode(r.Context(), &req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleNodeHeartbeat(w http.ResponseWriter, r *http.Request) {
	var hb types.Heartbeat
	if err := decodeBody(r, &hb); err != nil {
		writeError(w, http.StatusBadRequest, "%s", err)
		return
	}
	if hb.AgentID == "" {
		hb.AgentID = r.Header.Get("X-Agent-ID")
	}

	if err := s.svc.ProcessHeartbeat(r.Context(), &hb); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"server_time": time.Now().UTC()})
}

func (s *Server) handleTasksForAgent(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		agentID = r.Header.Get("X-Agent-ID")
	}

	tasks, err := s.svc.TasksForAgent(r.Context(), agentID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleIngestResult(w http.ResponseWriter, r *http.Request) {
	var result types.Result
	if err := decodeBody(r, &result); err != nil {
		writeError(w, http.StatusBadRequest, "%s", err)
		return
	}
	if result.AgentID == "" {
		result.AgentID = r.Header.Get("X-Agent-ID")
	}

	if err := s.svc.IngestResult(r.Context(), &result); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": result.ID})
}

// =============================================================================
// TASK HANDLERS
// =============================================================================

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.TaskFilter{
		TenantID: tenantScope(r.Context()),
		Limit:    queryInt(q.Get("limit"), 0),
		Offset:   queryInt(q.Get("offset"), 0),
	}
	if v := q.Get("type"); v != "" {
		tt := types.TaskType(v)
		filter.Type = &tt
	}
	if v := q.Get("status"); v != "" {
		ts := types.TaskStatus(v)
		filter.Status = &ts
	}
	if v := q.Get("enabled"); v != "" {
		enabled := v == "true"
		filter.Enabled = &enabled
	}

	tasks, total, err := s.svc.ListTasks(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": tasks, "total": total})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var task types.Task
	if err := decodeBody(r, &task); err != nil {
		writeError(w, http.StatusBadRequest, "%s", err)
		return
	}
	task.Config = types.DecodeTaskConfig(task.Type, task.Config.Raw())

	created, err := s.svc.CreateTask(r.Context(), &task)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	task, err := s.svc.GetTask(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if task == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	var task types.Task
	if err := decodeBody(r, &task); err != nil {
		writeError(w, http.StatusBadRequest, "%s", err)
		return
	}
	task.ID = id
	task.Config = types.DecodeTaskConfig(task.Type, task.Config.Raw())

	updated, err := s.svc.UpdateTask(r.Context(), &task)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if updated == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	if err := s.svc.DeleteTask(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleEnableTask(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid task id")
			return
		}
		if err := s.svc.SetTaskEnabled(r.Context(), id, enabled); err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, nil)
	}
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	window := time.Duration(queryInt(r.URL.Query().Get("window_hours"), 24)) * time.Hour
	stats, err := s.svc.GetTaskResultStats(r.Context(), id, window)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListAlertConfigs(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	configs, err := s.svc.ListAlertConfigs(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, configs)
}

func (s *Server) handleUpsertAlertConfig(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	var cfg types.AlertConfig
	if err := decodeBody(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, "%s", err)
		return
	}
	cfg.TaskID = id

	if err := s.svc.UpsertAlertConfig(r.Context(), &cfg); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// =============================================================================
// RESULT HANDLERS
// =============================================================================

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ResultFilter{
		TenantID: tenantScope(r.Context()),
		Limit:    queryInt(q.Get("limit"), 0),
		Offset:   queryInt(q.Get("offset"), 0),
	}
	if v := q.Get("task_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid task_id")
			return
		}
		filter.TaskID = &id
	}
	if v := q.Get("agent_id"); v != "" {
		filter.AgentID = &v
	}
	if v := q.Get("status"); v != "" {
		rs := types.ResultStatus(v)
		filter.Status = &rs
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		filter.Since = &ts
	}

	results, total, err := s.svc.ListResults(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": results, "total": total})
}

// =============================================================================
// ALERT HANDLERS
// =============================================================================

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := types.AlertFilter{
		TenantID: tenantScope(r.Context()),
		Limit:    queryInt(q.Get("limit"), 0),
		Offset:   queryInt(q.Get("offset"), 0),
	}
	if v := q.Get("task_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid task_id")
			return
		}
		filter.TaskID = &id
	}
	if v := q.Get("status"); v != "" {
		st := types.AlertStatus(v)
		filter.Status = &st
	}
	if v := q.Get("level"); v != "" {
		lv := types.AlertLevel(v)
		filter.Level = &lv
	}
	if v := q.Get("alert_type"); v != "" {
		filter.AlertType = &v
	}
	if v := q.Get("agent_id"); v != "" {
		filter.AgentID = &v
	}

	alerts, total, err := s.svc.ListAlerts(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": alerts, "total": total})
}

func (s *Server) handleAlertStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.GetAlertStats(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := s.svc.GetAlert(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if alert == nil {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleAlertStatus(status types.AlertStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		by := usernameFromContext(r.Context())

		var alert *types.Alert
		var err error
		if status == types.AlertStatusResolved {
			alert, err = s.svc.ResolveAlert(r.Context(), id, by)
		} else {
			alert, err = s.svc.IgnoreAlert(r.Context(), id, by)
		}
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		if alert == nil {
			writeError(w, http.StatusNotFound, "alert not found or not pending")
			return
		}
		writeJSON(w, http.StatusOK, alert)
	}
}

// =============================================================================
// NODE AND SYSTEM VARIABLE HANDLERS
// =============================================================================

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	var status *types.NodeStatus
	if v := r.URL.Query().Get("status"); v != "" {
		ns := types.NodeStatus(v)
		status = &ns
	}

	nodes, err := s.svc.ListNodes(r.Context(), status)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) handleListSystemVariables(w http.ResponseWriter, r *http.Request) {
	vars, err := s.svc.ListSystemVariables(r.Context(), tenantScope(r.Context()))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vars)
}

func (s *Server) handleUpsertSystemVariable(w http.ResponseWriter, r *http.Request) {
	var v types.SystemVariable
	if err := decodeBody(r, &v); err != nil {
		writeError(w, http.StatusBadRequest, "%s", err)
		return
	}
	if err := s.svc.UpsertSystemVariable(r.Context(), &v); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleDeleteSystemVariable(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteSystemVariable(r.Context(), r.PathValue("name")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// =============================================================================
// OPERATIONS HANDLERS
// =============================================================================

func (s *Server) handleListActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ActivityFilter{
		AgentID:  q.Get("agent_id"),
		Category: q.Get("category"),
		Severity: q.Get("severity"),
		Limit:    queryInt(q.Get("limit"), 0),
	}
	if v := q.Get("task_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid task_id")
			return
		}
		filter.TaskID = &id
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		filter.Since = ts
	}

	entries, err := s.svc.ListActivity(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.health.Health(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

func queryInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
