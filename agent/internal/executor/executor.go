// Package executor defines the plugin interface for probe types.
//
// # Design Principles
//
// 1. Interface Segregation: Small, focused interface that all probes implement
// 2. Result Over Error: A failing probe is a result, not a Go error; every
//    execution produces a Result whose status encodes the outcome
// 3. Capability Declaration: Executors declare their requirements up front
// 4. Graceful Degradation: Missing dependencies detected at registration, not runtime
//
// # Adding New Executors
//
// To add a new probe type:
//
//  1. Create a new file (e.g., dns.go) implementing the Executor interface
//  2. Define a details struct for the probe's measurements
//  3. Register the executor in the registry
//
// Example:
//
//	type DNSExecutor struct { /* ... */ }
//	func (e *DNSExecutor) Type() types.TaskType { return "dns" }
//	func (e *DNSExecutor) Execute(ctx, task) *types.Result { /* ... */ }
//
//	// In agent startup:
//	registry.Register(&DNSExecutor{})
package executor

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/probenet-io/probenet/pkg/types"
)

// Executor is the interface all probe types implement.
//
// Execute always returns a non-nil Result; probe failures are encoded in
// Result.Status (failed, timeout, error) rather than returned as errors.
// Implementations honor ctx cancellation and deadline.
type Executor interface {
	// Type returns the task type this executor handles.
	Type() types.TaskType

	// Capabilities returns what this executor needs to run.
	Capabilities() Capabilities

	// Execute runs the task once and returns the measured result.
	Execute(ctx context.Context, task *types.Task) *types.Result
}

// Capabilities describes an executor's requirements.
type Capabilities struct {
	// RequiresRoot indicates the executor needs elevated privileges
	RequiresRoot bool

	// Dependencies lists external binaries required (e.g., ["ping"])
	Dependencies []string
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry manages available executors.
type Registry struct {
	executors map[types.TaskType]Executor
	mu        sync.RWMutex
}

// NewRegistry creates a new executor registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[types.TaskType]Executor),
	}
}

// Register adds an executor to the registry.
// Returns an error if dependencies are missing or executor already registered.
func (r *Registry) Register(e Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	typ := e.Type()
	if _, exists := r.executors[typ]; exists {
		return fmt.Errorf("executor already registered: %s", typ)
	}

	caps := e.Capabilities()
	for _, dep := range caps.Dependencies {
		if _, err := exec.LookPath(dep); err != nil {
			return fmt.Errorf("executor %s missing dependency: %s", typ, dep)
		}
	}

	r.executors[typ] = e
	return nil
}

// Get returns an executor by task type.
func (r *Registry) Get(typ types.TaskType) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[typ]
	return e, ok
}

// List returns all registered executor types.
func (r *Registry) List() []types.TaskType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.TaskType, 0, len(r.executors))
	for t := range r.executors {
		out = append(out, t)
	}
	return out
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// baseResult fills the fields common to every execution outcome.
func baseResult(task *types.Task, status types.ResultStatus, elapsed time.Duration, msg string) *types.Result {
	return &types.Result{
		TaskID:         task.ID,
		TenantID:       task.TenantID,
		Status:         status,
		ResponseTimeMs: float64(elapsed) / float64(time.Millisecond),
		Message:        msg,
		CreatedAt:      time.Now().UTC(),
	}
}
