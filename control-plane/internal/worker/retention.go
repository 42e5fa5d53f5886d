package worker

import (
	"context"
	"log/slog"
	"time"
)

// ResultStore defines the storage interface for the retention worker.
type ResultStore interface {
	DeleteResultsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionConfig holds retention worker settings.
type RetentionConfig struct {
	// MaxAge is how long results are kept.
	MaxAge time.Duration

	// Interval between cleanup runs.
	Interval time.Duration
}

// DefaultRetentionConfig keeps 30 days of results, pruned hourly.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		MaxAge:   30 * 24 * time.Hour,
		Interval: time.Hour,
	}
}

// Retention prunes old results on an interval.
type Retention struct {
	store  ResultStore
	cfg    RetentionConfig
	logger *slog.Logger
}

// NewRetention creates a retention worker.
func NewRetention(store ResultStore, cfg RetentionConfig, logger *slog.Logger) *Retention {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultRetentionConfig().MaxAge
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRetentionConfig().Interval
	}
	return &Retention{
		store:  store,
		cfg:    cfg,
		logger: logger.With("component", "retention"),
	}
}

// Run prunes until ctx is done.
func (w *Retention) Run(ctx context.Context) {
	w.logger.Info("retention worker started", "max_age", w.cfg.MaxAge, "interval", w.cfg.Interval)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("retention worker stopped")
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-w.cfg.MaxAge)
			n, err := w.store.DeleteResultsBefore(ctx, cutoff)
			if err != nil {
				w.logger.Error("result pruning failed", "error", err)
				continue
			}
			if n > 0 {
				w.logger.Info("old results pruned", "count", n, "cutoff", cutoff)
			}
		}
	}
}
