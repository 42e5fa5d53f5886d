package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/probenet-io/probenet/agent/internal/executor"
	"github.com/probenet-io/probenet/pkg/types"
)

// fakeExecutor counts executions and can block until released.
type fakeExecutor struct {
	taskType types.TaskType
	calls    atomic.Int64
	inFlight atomic.Int64
	maxSeen  atomic.Int64
	block    chan struct{}
}

func (f *fakeExecutor) Type() types.TaskType                { return f.taskType }
func (f *fakeExecutor) Capabilities() executor.Capabilities { return executor.Capabilities{} }

func (f *fakeExecutor) Execute(ctx context.Context, task *types.Task) *types.Result {
	f.calls.Add(1)
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxSeen.Load()
		if cur <= max || f.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}
	return &types.Result{
		TaskID:    task.ID,
		Status:    types.ResultStatusSuccess,
		CreatedAt: time.Now().UTC(),
	}
}

func newTestScheduler(t *testing.T, fake *fakeExecutor, handler ResultHandler, opts Options) *Scheduler {
	t.Helper()
	reg := executor.NewRegistry()
	if err := reg.Register(fake); err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewScheduler(reg, handler, logger, opts)
}

func pingTask(id int64, interval int) types.Task {
	return types.Task{
		ID:              id,
		Type:            types.TaskTypePing,
		Target:          "10.0.0.1",
		IntervalSeconds: interval,
		Enabled:         true,
		Status:          types.TaskStatusActive,
	}
}

func TestFireDueRunsEligibleTasks(t *testing.T) {
	fake := &fakeExecutor{taskType: types.TaskTypePing}
	var mu sync.Mutex
	var got []int64
	s := newTestScheduler(t, fake, func(r *types.Result) {
		mu.Lock()
		got = append(got, r.TaskID)
		mu.Unlock()
	}, Options{})

	s.Sync([]types.Task{pingTask(1, 60), pingTask(2, 60)})
	s.fireDue(context.Background())
	s.wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
}

func TestRunningTaskNeverOverlaps(t *testing.T) {
	fake := &fakeExecutor{taskType: types.TaskTypePing, block: make(chan struct{})}
	s := newTestScheduler(t, fake, nil, Options{})

	s.Sync([]types.Task{pingTask(1, 60)})
	s.fireDue(context.Background())

	// Wait for the run to be in flight, then fire again.
	deadline := time.After(2 * time.Second)
	for fake.inFlight.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("task never started")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	s.fireDue(context.Background())
	s.fireDue(context.Background())

	close(fake.block)
	s.wg.Wait()

	if calls := fake.calls.Load(); calls != 1 {
		t.Errorf("running task must not refire, executions = %d", calls)
	}
	if max := fake.maxSeen.Load(); max != 1 {
		t.Errorf("max concurrent runs = %d, want 1", max)
	}
}

func TestNextFireRebasesFromCompletion(t *testing.T) {
	fake := &fakeExecutor{taskType: types.TaskTypePing}
	s := newTestScheduler(t, fake, nil, Options{})

	s.Sync([]types.Task{pingTask(1, 30)})
	before := time.Now()
	s.fireDue(context.Background())
	s.wg.Wait()

	s.mu.Lock()
	next := s.tasks[1].nextFireAt
	s.mu.Unlock()

	if next.Before(before.Add(29 * time.Second)) {
		t.Errorf("next fire %v should be ~30s after completion", next)
	}
}

func TestSyncDiff(t *testing.T) {
	fake := &fakeExecutor{taskType: types.TaskTypePing}
	s := newTestScheduler(t, fake, nil, Options{})

	t1 := pingTask(1, 60)
	t2 := pingTask(2, 60)
	s.Sync([]types.Task{t1, t2})
	if snap := s.Snapshot(); snap.TotalTasks != 2 {
		t.Fatalf("expected 2 tracked tasks, got %d", snap.TotalTasks)
	}

	// Repeating the same list changes nothing.
	s.Sync([]types.Task{t1, t2})
	if snap := s.Snapshot(); snap.TotalTasks != 2 {
		t.Fatalf("sync is not idempotent: %d tasks", snap.TotalTasks)
	}

	// Interval update rebases the next fire into the future.
	t1.IntervalSeconds = 120
	t1.UpdatedAt = t1.UpdatedAt.Add(time.Minute)
	s.Sync([]types.Task{t1, t2})
	s.mu.Lock()
	next := s.tasks[1].nextFireAt
	interval := s.tasks[1].task.IntervalSeconds
	s.mu.Unlock()
	if interval != 120 {
		t.Errorf("updated interval not applied: %d", interval)
	}
	if next.Before(time.Now().Add(100 * time.Second)) {
		t.Errorf("interval change should rebase next fire, got %v", next)
	}

	// Removal drops the task.
	s.Sync([]types.Task{t2})
	if snap := s.Snapshot(); snap.TotalTasks != 1 {
		t.Fatalf("expected 1 tracked task after removal, got %d", snap.TotalTasks)
	}
}

func TestSnapshotCounters(t *testing.T) {
	fake := &fakeExecutor{taskType: types.TaskTypePing}
	s := newTestScheduler(t, fake, nil, Options{MaxWorkers: 3})

	s.Sync([]types.Task{pingTask(1, 60)})
	s.fireDue(context.Background())
	s.wg.Wait()

	snap := s.Snapshot()
	if snap.CompletedTasks != 1 || snap.FailedTasks != 0 {
		t.Errorf("counters = %d/%d, want 1/0", snap.CompletedTasks, snap.FailedTasks)
	}
	if snap.MaxWorkers != 3 {
		t.Errorf("max workers = %d, want 3", snap.MaxWorkers)
	}
}
