package sweeper

import (
	"context"
	"log/slog"
	"time"
)

// SweepFunc processes up to limit overdue records and reports how many it handled.
type SweepFunc func(ctx context.Context, limit int) (int, error)

// Worker runs a sweep on every tick. A full batch is followed immediately by another sweep, so a
// SweepFunc must not return the same records twice in a row.
type Worker struct {
	name         string
	sweep        SweepFunc
	pollInterval time.Duration
	batchSize    int
	stopCh       chan struct{}
}

// NewWorker creates a sweeper. Non-positive interval or batch fall back to one minute and 100.
func NewWorker(name string, sweep SweepFunc, pollInterval time.Duration, batchSize int) *Worker {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	return &Worker{
		name:         name,
		sweep:        sweep,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		stopCh:       make(chan struct{}),
	}
}

// Start begins sweeping.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	slog.Info("Sweeper started", "sweeper", w.name, "poll_interval", w.pollInterval, "batch_size", w.batchSize)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Sweeper shutting down", "sweeper", w.name)

			return
		case <-w.stopCh:
			slog.Info("Sweeper stopped", "sweeper", w.name)

			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop stops the worker.
func (w *Worker) Stop() {
	close(w.stopCh)
}

func (w *Worker) runOnce(ctx context.Context) {
	for {
		n, err := w.sweep(ctx, w.batchSize)
		if err != nil {
			slog.Error("Sweep failed", "sweeper", w.name, "error", err)

			return
		}
		if n < w.batchSize || ctx.Err() != nil {
			return
		}

		select {
		case <-w.stopCh:
			return
		default:
		}
	}
}
