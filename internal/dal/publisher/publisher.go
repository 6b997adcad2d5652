package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/corray333/backend-labs/fulfillment/internal/dal/interfaces/ioutboxrepo"
	"github.com/corray333/backend-labs/fulfillment/internal/dal/rabbitmq"
	"github.com/corray333/backend-labs/fulfillment/internal/metrics"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/events"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/outbox"
	"github.com/spf13/viper"
	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const contentType = "application/json"

type broker interface {
	Publish(ctx context.Context, queue string, msg amqp.Publishing) error
}

// Publisher sends saga events as persistent JSON messages.
// A message the broker does not accept is parked in the outbox for the outbox worker to retry.
type Publisher struct {
	broker     broker
	outboxRepo ioutboxrepo.IOutboxRepository
	metrics    *metrics.Saga
	maxRetries int
}

// option is a function that configures the Publisher.
type option func(*Publisher)

func New(broker broker, outboxRepo ioutboxrepo.IOutboxRepository, opts ...option) *Publisher {
	maxRetries := viper.GetInt("rabbitmq.outbox.max_retries")
	if maxRetries == 0 {
		maxRetries = 10
	}

	p := &Publisher{
		broker:     broker,
		outboxRepo: outboxRepo,
		maxRetries: maxRetries,
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithMetrics(m *metrics.Saga) option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// NewMessage builds the AMQP message for evt, carrying the current trace context in its headers.
func NewMessage(ctx context.Context, evt events.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal %s event: %w", evt.Queue(), err)
	}

	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, rabbitmq.HeaderCarrier(headers))

	return amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.Key(),
		Timestamp:    time.Now(),
		Headers:      headers,
		Body:         body,
	}, nil
}

// Publish sends evt to its queue. It only fails when neither the broker nor the outbox accepted it.
func (p *Publisher) Publish(ctx context.Context, evt events.Event) error {
	ctx, span := otel.Tracer("publisher").Start(ctx, "Publisher.Publish",
		trace.WithSpanKind(trace.SpanKindProducer),
	)
	defer span.End()

	msg, err := NewMessage(ctx, evt)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())

		return err
	}

	publishErr := p.broker.Publish(ctx, evt.Queue(), msg)
	if publishErr == nil {
		p.metrics.Published(evt.Queue(), metrics.OutcomeOK)
		slog.DebugContext(ctx, "Message published", "queue", evt.Queue(), "message_id", msg.MessageId)

		return nil
	}

	slog.WarnContext(ctx, "Failed to publish message, storing in outbox",
		"queue", evt.Queue(),
		"message_id", msg.MessageId,
		"error", publishErr,
	)

	headers := make(map[string]string, len(msg.Headers))
	carrier := rabbitmq.HeaderCarrier(msg.Headers)
	for _, k := range carrier.Keys() {
		headers[k] = carrier.Get(k)
	}

	now := time.Now()
	err = p.outboxRepo.Insert(ctx, outbox.OutboxMessage{
		MessageID:   msg.MessageId,
		QueueName:   evt.Queue(),
		Payload:     msg.Body,
		ContentType: contentType,
		Headers:     headers,
		MaxRetries:  p.maxRetries,
		LastError:   publishErr.Error(),
		CreatedAt:   now,
		UpdatedAt:   now,
		NextRetryAt: now,
	})
	if err != nil {
		p.metrics.Published(evt.Queue(), metrics.OutcomeError)
		span.SetStatus(codes.Error, err.Error())

		return fmt.Errorf("failed to publish %s: %w; failed to store in outbox: %w", evt.Queue(), publishErr, err)
	}

	p.metrics.Published(evt.Queue(), metrics.OutcomeOutboxed)

	return nil
}
