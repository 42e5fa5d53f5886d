// Package executor - API transaction executor.
package executor

import (
	"context"

	"github.com/probenet-io/probenet/agent/internal/apiexec"
	"github.com/probenet-io/probenet/pkg/types"
)

// APIExecutor runs multi-step API programs through an apiexec.Runner.
type APIExecutor struct {
	runner *apiexec.Runner
}

// NewAPIExecutor creates an api executor around the given runner.
func NewAPIExecutor(runner *apiexec.Runner) *APIExecutor {
	return &APIExecutor{runner: runner}
}

// Type returns the task type this executor handles.
func (e *APIExecutor) Type() types.TaskType { return types.TaskTypeAPI }

// Capabilities returns what this executor needs.
func (e *APIExecutor) Capabilities() Capabilities { return Capabilities{} }

// Execute runs the task's program.
func (e *APIExecutor) Execute(ctx context.Context, task *types.Task) *types.Result {
	return e.runner.Run(ctx, task)
}
