// Package reporter delivers execution results to the control plane.
//
// # Design
//
// Results are queued on a buffered channel and posted one at a time in
// submission order. Delivery runs off the scheduler's goroutines so a slow
// or unreachable control plane never stalls probe execution.
//
// # Resilience
//
// - A failed delivery is retried once after a short pause, then dropped
// - When the queue is full the oldest behavior is to drop the new result
//   with a warning; probing continues
// - Shutdown flushes whatever is queued, bounded by the run context
package reporter

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/probenet-io/probenet/agent/internal/client"
	"github.com/probenet-io/probenet/pkg/types"
)

const (
	defaultQueueSize = 256
	retryPause       = 2 * time.Second
)

// Reporter queues and delivers results.
type Reporter struct {
	client    *client.Client
	logger    *slog.Logger
	agentID   string
	agentArea string

	queue chan *types.Result

	delivered atomic.Int64
	dropped   atomic.Int64
}

// Config for the reporter.
type Config struct {
	Client    *client.Client
	AgentID   string
	AgentArea string
	QueueSize int
	Logger    *slog.Logger
}

// New creates a reporter.
func New(cfg Config) *Reporter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	return &Reporter{
		client:    cfg.Client,
		logger:    cfg.Logger.With("component", "reporter"),
		agentID:   cfg.AgentID,
		agentArea: cfg.AgentArea,
		queue:     make(chan *types.Result, cfg.QueueSize),
	}
}

// Submit enqueues one result. Never blocks; drops with a warning when the
// queue is full.
func (r *Reporter) Submit(result *types.Result) {
	result.AgentID = r.agentID
	result.AgentArea = r.agentArea
	select {
	case r.queue <- result:
	default:
		r.dropped.Add(1)
		r.logger.Warn("result queue full, dropping result",
			"task_id", result.TaskID,
			"dropped_total", r.dropped.Load())
	}
}

// Run delivers queued results until ctx is cancelled, then flushes what
// remains in the queue.
func (r *Reporter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.flushRemaining()
			return ctx.Err()
		case result := <-r.queue:
			r.deliver(ctx, result)
		}
	}
}

// deliver posts one result, retrying once.
func (r *Reporter) deliver(ctx context.Context, result *types.Result) {
	err := r.client.ReportResult(ctx, result)
	if err == nil {
		r.delivered.Add(1)
		return
	}
	r.logger.Warn("result delivery failed, retrying",
		"task_id", result.TaskID,
		"error", err)

	select {
	case <-ctx.Done():
	case <-time.After(retryPause):
	}

	if err := r.client.ReportResult(ctx, result); err != nil {
		r.dropped.Add(1)
		r.logger.Error("result dropped after retry",
			"task_id", result.TaskID,
			"error", err)
		return
	}
	r.delivered.Add(1)
}

// flushRemaining makes a best-effort pass over the queue at shutdown.
func (r *Reporter) flushRemaining() {
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case result := <-r.queue:
			if err := r.client.ReportResult(flushCtx, result); err != nil {
				r.dropped.Add(1)
				r.logger.Warn("dropping result at shutdown",
					"task_id", result.TaskID,
					"error", err)
			} else {
				r.delivered.Add(1)
			}
		default:
			return
		}
	}
}

// Stats reports delivery counters.
type Stats struct {
	Queued    int   `json:"queued"`
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
}

func (r *Reporter) Stats() Stats {
	return Stats{
		Queued:    len(r.queue),
		Delivered: r.delivered.Load(),
		Dropped:   r.dropped.Load(),
	}
}
