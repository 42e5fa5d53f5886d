// Package scheduler manages per-task probe execution.
//
// # Design
//
// One fire loop wakes on a short interval, snapshots the tasks that are due
// (not running, next fire time reached), marks them running, and hands them
// to a bounded worker pool. The next fire time is rebased from completion, so
// a slow probe never stacks overlapping runs of the same task.
//
// # Task Sync
//
// Sync diffs a fresh task list from the control plane against the tracked
// map by task id: new tasks fire immediately, updated tasks are replaced
// (an interval change rebases the next fire), removed tasks are cancelled
// mid-flight and dropped.
//
// # Graceful Handling
//
// - Stop cancels in-flight executions and drains the pool with a 10 s bound
// - Context cancellation stops the fire loop
// - A warning is logged when tracked tasks exceed the worker count
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/probenet-io/probenet/agent/internal/executor"
	"github.com/probenet-io/probenet/pkg/types"
)

const drainTimeout = 10 * time.Second

// ResultHandler receives each completed execution result.
type ResultHandler func(result *types.Result)

// entry is the tracked state of one task.
type entry struct {
	task       types.Task
	running    bool
	nextFireAt time.Time
	cancel     context.CancelFunc
}

// Scheduler owns the task map and the worker pool.
type Scheduler struct {
	registry    *executor.Registry
	handler     ResultHandler
	logger      *slog.Logger
	fireEvery   time.Duration
	taskTimeout time.Duration
	maxWorkers  int

	mu    sync.Mutex
	tasks map[int64]*entry

	sem chan struct{}
	wg  sync.WaitGroup

	completed atomic.Int64
	failed    atomic.Int64
}

// Options configure the scheduler.
type Options struct {
	FireInterval time.Duration // default 5s
	TaskTimeout  time.Duration // default 300s
	MaxWorkers   int           // default 10
}

// NewScheduler creates a scheduler.
func NewScheduler(registry *executor.Registry, handler ResultHandler, logger *slog.Logger, opts Options) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.FireInterval <= 0 {
		opts.FireInterval = 5 * time.Second
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 300 * time.Second
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 10
	}
	return &Scheduler{
		registry:    registry,
		handler:     handler,
		logger:      logger.With("component", "scheduler"),
		fireEvery:   opts.FireInterval,
		taskTimeout: opts.TaskTimeout,
		maxWorkers:  opts.MaxWorkers,
		tasks:       make(map[int64]*entry),
		sem:         make(chan struct{}, opts.MaxWorkers),
	}
}

// Sync reconciles the tracked tasks with a fresh list from the control plane.
func (s *Scheduler) Sync(tasks []types.Task) {
	now := time.Now()
	fresh := make(map[int64]types.Task, len(tasks))
	for _, t := range tasks {
		fresh[t.ID] = t
	}

	var added, updated, removed int

	s.mu.Lock()
	for id, t := range fresh {
		e, ok := s.tasks[id]
		if !ok {
			// New tasks fire on the next loop pass.
			s.tasks[id] = &entry{task: t, nextFireAt: now}
			added++
			continue
		}
		if t.UpdatedAt.Equal(e.task.UpdatedAt) && t.IntervalSeconds == e.task.IntervalSeconds {
			continue
		}
		if t.IntervalSeconds != e.task.IntervalSeconds {
			e.nextFireAt = now.Add(time.Duration(t.IntervalSeconds) * time.Second)
		}
		e.task = t
		updated++
	}
	for id, e := range s.tasks {
		if _, ok := fresh[id]; ok {
			continue
		}
		if e.cancel != nil {
			e.cancel()
		}
		delete(s.tasks, id)
		removed++
	}
	tracked := len(s.tasks)
	s.mu.Unlock()

	if added > 0 || updated > 0 || removed > 0 {
		s.logger.Info("task sync applied",
			"added", added,
			"updated", updated,
			"removed", removed,
			"tracked", tracked)
	}
	if tracked > s.maxWorkers {
		s.logger.Warn("tracked tasks exceed worker pool",
			"tracked", tracked,
			"max_workers", s.maxWorkers)
	}
}

// Run starts the fire loop. Blocks until ctx is cancelled, then drains.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("starting fire loop",
		"interval", s.fireEvery,
		"max_workers", s.maxWorkers)

	ticker := time.NewTicker(s.fireEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.drain()
			return ctx.Err()
		case <-ticker.C:
			s.fireDue(ctx)
		}
	}
}

// fireDue launches every task whose fire time has arrived.
func (s *Scheduler) fireDue(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	var due []*entry
	for _, e := range s.tasks {
		if !e.running && !now.Before(e.nextFireAt) {
			e.running = true
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		task := e.task
		taskCtx, cancel := context.WithCancel(ctx)

		s.mu.Lock()
		e.cancel = cancel
		s.mu.Unlock()

		s.wg.Add(1)
		go func(e *entry, task types.Task, taskCtx context.Context, cancel context.CancelFunc) {
			defer s.wg.Done()
			defer cancel()

			select {
			case s.sem <- struct{}{}:
			case <-taskCtx.Done():
				s.finish(e, task, nil)
				return
			}
			defer func() { <-s.sem }()

			s.finish(e, task, s.execute(taskCtx, &task))
		}(e, task, taskCtx, cancel)
	}
}

// execute runs one task through its executor with the per-task timeout.
func (s *Scheduler) execute(ctx context.Context, task *types.Task) *types.Result {
	exec, ok := s.registry.Get(task.Type)
	if !ok {
		s.logger.Error("no executor for task type",
			"task_id", task.ID,
			"type", task.Type)
		return &types.Result{
			TaskID:    task.ID,
			TenantID:  task.TenantID,
			Status:    types.ResultStatusError,
			Message:   "no executor registered for type " + string(task.Type),
			CreatedAt: time.Now().UTC(),
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, s.taskTimeout)
	defer cancel()
	return exec.Execute(runCtx, task)
}

// finish rebases the task's next fire from completion time and hands off the
// result. A nil result means the run was cancelled before starting.
func (s *Scheduler) finish(e *entry, task types.Task, result *types.Result) {
	now := time.Now()

	s.mu.Lock()
	// The entry may have been removed by a sync while running.
	if cur, ok := s.tasks[task.ID]; ok && cur == e {
		e.running = false
		e.cancel = nil
		e.nextFireAt = now.Add(time.Duration(e.task.IntervalSeconds) * time.Second)
	}
	s.mu.Unlock()

	if result == nil {
		return
	}
	if result.Status == types.ResultStatusSuccess {
		s.completed.Add(1)
	} else {
		s.failed.Add(1)
	}
	if s.handler != nil {
		s.handler(result)
	}
}

// drain waits for in-flight executions, bounded by drainTimeout.
func (s *Scheduler) drain() {
	s.mu.Lock()
	for _, e := range s.tasks {
		if e.cancel != nil {
			e.cancel()
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("scheduler drained")
	case <-time.After(drainTimeout):
		s.logger.Warn("drain timed out, abandoning in-flight tasks",
			"timeout", drainTimeout)
	}
}

// Snapshot reports the pool state for heartbeats.
func (s *Scheduler) Snapshot() types.SchedulerSnapshot {
	now := time.Now()

	s.mu.Lock()
	total := len(s.tasks)
	running := 0
	pending := 0
	for _, e := range s.tasks {
		if e.running {
			running++
		} else if !now.Before(e.nextFireAt) {
			pending++
		}
	}
	s.mu.Unlock()

	return types.SchedulerSnapshot{
		TotalTasks:     total,
		RunningTasks:   running,
		PendingTasks:   pending,
		CompletedTasks: s.completed.Load(),
		FailedTasks:    s.failed.Load(),
		MaxWorkers:     s.maxWorkers,
	}
}
