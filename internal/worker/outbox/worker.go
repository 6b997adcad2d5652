package outbox

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/corray333/backend-labs/fulfillment/internal/dal/interfaces/ioutboxrepo"
	"github.com/corray333/backend-labs/fulfillment/internal/metrics"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/outbox"
	"github.com/spf13/viper"
	"github.com/streadway/amqp"
)

type broker interface {
	Publish(ctx context.Context, queue string, msg amqp.Publishing) error
}

// Worker republishes messages the broker did not accept at publish time.
type Worker struct {
	outboxRepo   ioutboxrepo.IOutboxRepository
	broker       broker
	metrics      *metrics.Saga
	pollInterval time.Duration
	lease        time.Duration
	batchSize    int
	now          func() time.Time
	stopCh       chan struct{}
}

// NewWorker creates a new outbox worker.
func NewWorker(outboxRepo ioutboxrepo.IOutboxRepository, broker broker, m *metrics.Saga) *Worker {
	pollInterval := viper.GetDuration("rabbitmq.outbox.poll_interval")
	if pollInterval == 0 {
		pollInterval = 10 * time.Second
	}

	lease := viper.GetDuration("rabbitmq.outbox.lease")
	if lease == 0 {
		lease = time.Minute
	}

	batchSize := viper.GetInt("rabbitmq.outbox.batch_size")
	if batchSize == 0 {
		batchSize = 100
	}

	return &Worker{
		outboxRepo:   outboxRepo,
		broker:       broker,
		metrics:      m,
		pollInterval: pollInterval,
		lease:        lease,
		batchSize:    batchSize,
		now:          time.Now,
		stopCh:       make(chan struct{}),
	}
}

// Start begins processing messages from the outbox.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	slog.Info("Outbox worker started", "poll_interval", w.pollInterval, "batch_size", w.batchSize)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Outbox worker shutting down")

			return
		case <-w.stopCh:
			slog.Info("Outbox worker stopped")

			return
		case <-ticker.C:
			w.processMessages(ctx)
		}
	}
}

// Stop stops the worker.
func (w *Worker) Stop() {
	close(w.stopCh)
}

// processMessages leases due messages from the outbox and republishes them.
// A message the worker dies on becomes due again once its lease ends.
func (w *Worker) processMessages(ctx context.Context) {
	messages, err := w.outboxRepo.ClaimDue(ctx, w.now(), w.lease, w.batchSize)
	if err != nil {
		slog.Error("Failed to claim due messages from outbox", "error", err)

		return
	}

	if len(messages) == 0 {
		return
	}

	slog.Info("Processing outbox messages", "count", len(messages))

	for _, msg := range messages {
		w.processMessage(ctx, msg)
	}
}

func (w *Worker) processMessage(ctx context.Context, msg outbox.OutboxMessage) {
	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}

	err := w.broker.Publish(ctx, msg.QueueName, amqp.Publishing{
		ContentType:  msg.ContentType,
		Headers:      headers,
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.MessageID,
		Timestamp:    w.now(),
		Body:         msg.Payload,
	})
	if err != nil {
		newRetryCount := msg.RetryCount + 1
		backoffSeconds := math.Pow(2, float64(newRetryCount)) * 30 // 60s, 120s, 240s, ...
		nextRetryAt := w.now().Add(time.Duration(backoffSeconds) * time.Second)

		if newRetryCount >= msg.MaxRetries {
			slog.Error("Outbox message exhausted its retries",
				"outbox_id", msg.ID,
				"queue", msg.QueueName,
				"message_id", msg.MessageID,
				"error", err,
			)
		} else {
			slog.Warn("Failed to publish message from outbox, will retry",
				"outbox_id", msg.ID,
				"retry_count", newRetryCount,
				"next_retry", nextRetryAt,
				"error", err,
			)
		}

		if err := w.outboxRepo.Reschedule(ctx, msg.ID, newRetryCount, err.Error(), nextRetryAt); err != nil {
			slog.Error("Failed to update retry information", "outbox_id", msg.ID, "error", err)
		}

		return
	}

	w.metrics.Published(msg.QueueName, metrics.OutcomeOK)

	if err := w.outboxRepo.Delete(ctx, msg.ID); err != nil {
		slog.Error("Failed to delete message from outbox after successful publish",
			"outbox_id", msg.ID,
			"error", err,
		)

		return
	}

	slog.Info("Message successfully published and removed from outbox", "outbox_id", msg.ID, "queue", msg.QueueName)
}
