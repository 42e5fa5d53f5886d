// Package agent provides the main agent implementation.
//
// # Agent Lifecycle
//
//  1. Load configuration
//  2. Register with control plane
//  3. Fetch initial tasks and system variables
//  4. Start the scheduler fire loop
//  5. Start the result reporter
//  6. Start heartbeat and task sync loops
//  7. Run until shutdown signal
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/probenet-io/probenet/agent/internal/apiexec"
	"github.com/probenet-io/probenet/agent/internal/client"
	"github.com/probenet-io/probenet/agent/internal/config"
	"github.com/probenet-io/probenet/agent/internal/executor"
	"github.com/probenet-io/probenet/agent/internal/reporter"
	"github.com/probenet-io/probenet/agent/internal/scheduler"
	"github.com/probenet-io/probenet/pkg/types"
)

// Version is set at build time.
var Version = "dev"

// Agent is the probe agent.
type Agent struct {
	cfg       *config.Config
	client    *client.Client
	registry  *executor.Registry
	runner    *apiexec.Runner
	scheduler *scheduler.Scheduler
	reporter  *reporter.Reporter
	logger    *slog.Logger

	startTime time.Time
}

// New creates a new agent with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Agent, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	cpClient := client.NewClient(client.Config{
		BaseURL:   cfg.ServerURL,
		AgentID:   cfg.AgentID,
		AuthToken: cfg.APIToken,
	})

	runner := apiexec.NewRunner(logger)

	registry := executor.NewRegistry()
	if err := registry.Register(executor.NewPingExecutor()); err != nil {
		// Continue without ping if the binary is missing.
		logger.Warn("failed to register ping executor", "error", err)
	}
	for _, e := range []executor.Executor{
		executor.NewTCPExecutor(),
		executor.NewHTTPExecutor(),
		executor.NewAPIExecutor(runner),
	} {
		if err := registry.Register(e); err != nil {
			return nil, fmt.Errorf("registering %s executor: %w", e.Type(), err)
		}
	}
	logger.Info("executor registry ready", "executors", registry.List())

	return &Agent{
		cfg:       cfg,
		client:    cpClient,
		registry:  registry,
		runner:    runner,
		logger:    logger,
		startTime: time.Now(),
	}, nil
}

// Run starts the agent and blocks until context is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("starting agent",
		"agent_id", a.cfg.AgentID,
		"area", a.cfg.AgentArea,
		"version", Version,
		"server", a.cfg.ServerURL)

	if err := a.register(ctx); err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	a.reporter = reporter.New(reporter.Config{
		Client:    a.client,
		AgentID:   a.cfg.AgentID,
		AgentArea: a.cfg.AgentArea,
		Logger:    a.logger,
	})

	a.scheduler = scheduler.NewScheduler(
		a.registry,
		a.reporter.Submit,
		a.logger,
		scheduler.Options{
			FireInterval: a.cfg.FireEvery(),
			TaskTimeout:  a.cfg.TaskTimeout(),
			MaxWorkers:   a.cfg.ThreadPool.MaxWorkers,
		},
	)

	if err := a.syncTasks(ctx); err != nil {
		// Not fatal, the sync loop retries.
		a.logger.Warn("initial task sync failed", "error", err)
	}

	errCh := make(chan error, 4)

	go func() {
		errCh <- a.scheduler.Run(ctx)
	}()

	go func() {
		errCh <- a.reporter.Run(ctx)
	}()

	go func() {
		errCh <- a.runHeartbeat(ctx)
	}()

	go func() {
		errCh <- a.runTaskSync(ctx)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// register announces the agent to the control plane.
func (a *Agent) register(ctx context.Context) error {
	hostname, _ := os.Hostname()
	req := types.RegisterRequest{
		AgentID:   a.cfg.AgentID,
		AgentArea: a.cfg.AgentArea,
		IPAddress: localIP(),
		Hostname:  hostname,
		Version:   Version,
	}
	if err := a.client.Register(ctx, req); err != nil {
		return err
	}
	a.logger.Info("registered with control plane",
		"agent_id", a.cfg.AgentID,
		"ip", req.IPAddress)
	return nil
}

// runHeartbeat sends periodic heartbeats to the control plane.
func (a *Agent) runHeartbeat(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.HeartbeatEvery())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.sendHeartbeat(ctx); err != nil {
				a.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

// sendHeartbeat sends a single heartbeat with scheduler and host stats.
func (a *Agent) sendHeartbeat(ctx context.Context) error {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	var cpuPct float64
	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		cpuPct = pcts[0]
	}

	hb := types.Heartbeat{
		AgentID:       a.cfg.AgentID,
		Timestamp:     time.Now().UTC(),
		Version:       Version,
		UptimeSeconds: int64(time.Since(a.startTime).Seconds()),
		Scheduler:     a.scheduler.Snapshot(),
		CPUPercent:    cpuPct,
		MemoryMB:      float64(m.Alloc) / 1024 / 1024,
	}
	return a.client.Heartbeat(ctx, hb)
}

// runTaskSync periodically reconciles tasks from the control plane.
func (a *Agent) runTaskSync(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.SyncEvery())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.syncTasks(ctx); err != nil {
				a.logger.Warn("task sync failed", "error", err)
			}
		}
	}
}

// syncTasks fetches tasks and system variables and applies them.
func (a *Agent) syncTasks(ctx context.Context) error {
	tasks, err := a.client.GetTasks(ctx)
	if err != nil {
		return err
	}
	a.scheduler.Sync(tasks)

	// System variables feed api program contexts; a failure here only
	// affects variable resolution, not scheduling.
	if vars, err := a.client.GetSystemVariables(ctx); err != nil {
		a.logger.Debug("system variable fetch failed", "error", err)
	} else {
		a.runner.SetSystemVariables(vars)
	}
	return nil
}

// localIP detects the agent's outbound IP.
func localIP() string {
	if ip := os.Getenv("PROBENET_PUBLIC_IP"); ip != "" {
		return ip
	}
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
