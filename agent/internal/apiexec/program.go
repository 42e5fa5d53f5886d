package apiexec

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/probenet-io/probenet/pkg/types"
)

// maxBodyBytes caps how much of a step response body is retained for
// extraction and assertion evaluation.
const maxBodyBytes = 10 << 20

// Runner executes API programs.
type Runner struct {
	logger *slog.Logger

	// systemVariables are tenant-level values seeded into every program
	// context below the program's own initial variables. Updated by the
	// sync loop while programs run.
	mu              sync.RWMutex
	systemVariables map[string]string
}

// NewRunner creates a program runner.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{logger: logger.With("component", "apiexec")}
}

// SetSystemVariables replaces the system variable set.
func (r *Runner) SetSystemVariables(vars map[string]string) {
	r.mu.Lock()
	r.systemVariables = vars
	r.mu.Unlock()
}

func (r *Runner) snapshotSystemVariables() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.systemVariables
}

// Run executes the task's program and returns the aggregated result.
// Individual step failures are encoded in the result, never returned.
func (r *Runner) Run(ctx context.Context, task *types.Task) *types.Result {
	program := task.Config.API
	if program == nil || len(program.Steps) == 0 {
		return &types.Result{
			TaskID:    task.ID,
			TenantID:  task.TenantID,
			Status:    types.ResultStatusError,
			Message:   "api task has no steps",
			CreatedAt: time.Now().UTC(),
		}
	}

	vars := NewContext(program.InitialVariables, r.snapshotSystemVariables())
	defaultAuth := program.DefaultAuth()

	details := types.APIDetails{StartTime: time.Now().UTC()}
	start := time.Now()

	failedSteps := 0
	for i := range program.Steps {
		step := &program.Steps[i]
		sr := r.runStep(ctx, vars, step, defaultAuth)
		details.Steps = append(details.Steps, *sr)

		for _, a := range sr.Assertions {
			details.TotalAssertions++
			if a.Passed {
				details.PassedAssertions++
			}
		}
		if sr.Status != types.ResultStatusSuccess {
			failedSteps++
			if step.FailFast {
				r.logger.Debug("fail_fast stop", "task_id", task.ID, "step", stepLabel(step, i))
				break
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	elapsed := time.Since(start)
	details.EndTime = time.Now().UTC()
	details.Variables = vars

	status := types.ResultStatusSuccess
	msg := fmt.Sprintf("%d/%d steps passed, %d/%d assertions passed",
		len(details.Steps)-failedSteps, len(details.Steps),
		details.PassedAssertions, details.TotalAssertions)
	if failedSteps > 0 || details.PassedAssertions != details.TotalAssertions {
		status = types.ResultStatusFailed
	}

	return &types.Result{
		TaskID:         task.ID,
		TenantID:       task.TenantID,
		Status:         status,
		ResponseTimeMs: float64(elapsed) / float64(time.Millisecond),
		Message:        msg,
		Details:        types.MarshalDetails(details),
		CreatedAt:      time.Now().UTC(),
	}
}

// runStep sends one step request and evaluates extractions and assertions.
func (r *Runner) runStep(ctx context.Context, vars Context, step *types.Step, defaultAuth *types.Authentication) *types.StepResult {
	sr := &types.StepResult{
		StepID: step.StepID,
		Name:   step.Name,
		Alerts: step.Alerts,
	}

	built, err := buildRequest(vars, step, defaultAuth)
	if err != nil {
		sr.Status = types.ResultStatusFailed
		sr.Error = err.Error()
		return sr
	}
	sr.Request = built.sanitized

	start := time.Now()
	httpResp, err := built.client.Do(built.req.WithContext(ctx))
	if err != nil {
		sr.ResponseTimeMs = float64(time.Since(start)) / float64(time.Millisecond)
		sr.Status = types.ResultStatusFailed
		sr.Error = fmt.Sprintf("request failed: %v", err)
		return sr
	}
	body, readErr := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	httpResp.Body.Close()
	sr.ResponseTimeMs = float64(time.Since(start)) / float64(time.Millisecond)
	sr.StatusCode = httpResp.StatusCode
	sr.ResponseSize = int64(len(body))
	if readErr != nil {
		sr.Status = types.ResultStatusFailed
		sr.Error = fmt.Sprintf("reading response: %v", readErr)
		return sr
	}

	resp := &stepResponse{
		StatusCode:     httpResp.StatusCode,
		ResponseTimeMs: sr.ResponseTimeMs,
		Headers:        flattenHeaders(httpResp.Header),
		Body:           body,
	}

	sr.Extractions = runExtractions(vars, step.AllExtractions(), resp)
	sr.Assertions = runAssertions(step.Assertions, resp)

	sr.Status = types.ResultStatusSuccess
	for _, a := range sr.Assertions {
		if !a.Passed {
			sr.Status = types.ResultStatusFailed
			break
		}
	}
	return sr
}

func stepLabel(step *types.Step, idx int) string {
	if step.Name != "" {
		return step.Name
	}
	if step.StepID != "" {
		return step.StepID
	}
	return fmt.Sprintf("step-%d", idx+1)
}

func flattenHeaders(h map[string][]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}
