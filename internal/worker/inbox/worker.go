package inbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/corray333/backend-labs/fulfillment/internal/dal/interfaces/iinboxrepo"
	"github.com/spf13/viper"
)

// Worker deletes deduplication claims once redelivery of their message is no longer plausible.
type Worker struct {
	inboxRepo    iinboxrepo.IInboxRepository
	pollInterval time.Duration
	retention    time.Duration
	now          func() time.Time
	stopCh       chan struct{}
}

// NewWorker creates a new inbox purge worker.
func NewWorker(inboxRepo iinboxrepo.IInboxRepository) *Worker {
	pollInterval := viper.GetDuration("rabbitmq.inbox.purge_interval")
	if pollInterval == 0 {
		pollInterval = time.Hour
	}

	retention := viper.GetDuration("rabbitmq.inbox.retention")
	if retention == 0 {
		retention = 7 * 24 * time.Hour
	}

	return &Worker{
		inboxRepo:    inboxRepo,
		pollInterval: pollInterval,
		retention:    retention,
		now:          time.Now,
		stopCh:       make(chan struct{}),
	}
}

// Start begins purging the inbox.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	slog.Info("Inbox worker started", "poll_interval", w.pollInterval, "retention", w.retention)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Inbox worker shutting down")

			return
		case <-w.stopCh:
			slog.Info("Inbox worker stopped")

			return
		case <-ticker.C:
			w.purge(ctx)
		}
	}
}

// Stop stops the worker.
func (w *Worker) Stop() {
	close(w.stopCh)
}

func (w *Worker) purge(ctx context.Context) {
	purged, err := w.inboxRepo.PurgeOlderThan(ctx, w.now().Add(-w.retention))
	if err != nil {
		slog.Error("Failed to purge inbox", "error", err)

		return
	}

	if purged > 0 {
		slog.Info("Inbox purged", "count", purged)
	}
}
