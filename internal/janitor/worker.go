// Package janitor periodically sweeps idle pending state and prunes the
// message log.
package janitor

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper forgets idle conversations.
type Sweeper interface {
	Sweep(idle time.Duration) int
}

// Pruner deletes old message log entries.
type Pruner interface {
	PruneMessages(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Config controls the worker cadence and retention.
type Config struct {
	Interval            time.Duration
	ConversationIdleTTL time.Duration
	MessageLogRetention time.Duration
}

// Worker runs the periodic cleanup.
type Worker struct {
	sweeper Sweeper
	pruner  Pruner
	cfg     Config
	logger  *slog.Logger
}

// New creates a worker. Either dependency may be nil to skip that step.
func New(sweeper Sweeper, pruner Pruner, cfg Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{sweeper: sweeper, pruner: pruner, cfg: cfg, logger: logger}
}

// Run blocks until ctx is done, cleaning up on every tick.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	w.logger.Info("Janitor started",
		"interval", w.cfg.Interval,
		"idle_ttl", w.cfg.ConversationIdleTTL,
		"retention", w.cfg.MessageLogRetention)

	for {
		select {
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-ctx.Done():
			w.logger.Info("Janitor shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

// RunOnce performs a single cleanup pass.
func (w *Worker) RunOnce(ctx context.Context) {
	if w.sweeper != nil && w.cfg.ConversationIdleTTL > 0 {
		if n := w.sweeper.Sweep(w.cfg.ConversationIdleTTL); n > 0 {
			w.logger.Info("Janitor swept idle conversations", "count", n)
		}
	}

	if w.pruner != nil && w.cfg.MessageLogRetention > 0 {
		deleted, err := w.pruner.PruneMessages(ctx, w.cfg.MessageLogRetention)
		if err != nil {
			w.logger.Error("Janitor failed to prune message log", "error", err)
			return
		}
		if deleted > 0 {
			w.logger.Info("Janitor pruned message log", "count", deleted)
		}
	}
}
