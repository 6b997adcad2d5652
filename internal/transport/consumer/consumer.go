package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/corray333/backend-labs/fulfillment/internal/dal/rabbitmq"
	"github.com/corray333/backend-labs/fulfillment/internal/metrics"
	"github.com/spf13/viper"
	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// ErrMalformed marks a message body that could not be decoded.
var ErrMalformed = errors.New("malformed message")

// Handler processes the body of one delivery.
type Handler func(ctx context.Context, body []byte) error

// JSON adapts a typed event handler to a Handler.
func JSON[T any](fn func(ctx context.Context, evt T) error) Handler {
	return func(ctx context.Context, body []byte) error {
		var evt T
		if err := json.Unmarshal(body, &evt); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformed, err)
		}

		return fn(ctx, evt)
	}
}

type broker interface {
	Subscribe(cfg rabbitmq.ConsumeConfig) (<-chan amqp.Delivery, error)
}

// inbox records which messages a consumer has already taken.
type inbox interface {
	Claim(ctx context.Context, consumer, messageID string) (bool, error)
	Release(ctx context.Context, consumer, messageID string) error
}

type route struct {
	queue   string
	handler Handler
}

// Consumer dispatches deliveries from saga queues to handlers.
// Every delivery is acknowledged once its handler returns, whatever the outcome.
type Consumer struct {
	broker   broker
	inbox    inbox
	metrics  *metrics.Saga
	name     string
	prefetch int
	routes   []route

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// option is a function that configures the Consumer.
type option func(*Consumer)

// NewConsumer creates a new Consumer.
func NewConsumer(broker broker, opts ...option) *Consumer {
	name := viper.GetString("rabbitmq.consumer_tag")
	if name == "" {
		name = "consumer"
	}
	prefetch := viper.GetInt("rabbitmq.prefetch")
	if prefetch <= 0 {
		prefetch = 50
	}

	c := &Consumer{
		broker:   broker,
		name:     name,
		prefetch: prefetch,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithInbox turns on deduplication: a message id is handled successfully at most once per consumer name.
// A message whose handler fails is released so a republished copy gets another chance.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithInbox(repo inbox) option {
	return func(c *Consumer) {
		c.inbox = repo
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithMetrics(m *metrics.Saga) option {
	return func(c *Consumer) {
		c.metrics = m
	}
}

// WithName sets the consumer name used for consumer tags and deduplication.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithName(name string) option {
	return func(c *Consumer) {
		c.name = name
	}
}

// Handle binds a queue to a handler. It must be called before Run.
func (c *Consumer) Handle(queue string, handler Handler) {
	c.routes = append(c.routes, route{queue: queue, handler: handler})
}

// Run consumes every bound queue until Shutdown is called or ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	defer close(c.done)

	streams := make([]<-chan amqp.Delivery, len(c.routes))
	for i, rt := range c.routes {
		msgs, err := c.broker.Subscribe(rabbitmq.ConsumeConfig{
			Queue:    rt.queue,
			Consumer: c.name + "." + rt.queue,
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", rt.queue, err)
		}
		streams[i] = msgs

		slog.Info("Consumer started", "queue", rt.queue, "consumer", c.name)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.prefetch)

	var readers sync.WaitGroup
	for i, rt := range c.routes {
		readers.Add(1)
		go func() {
			defer readers.Done()
			c.read(ctx, g, gctx, rt, streams[i])
		}()
	}

	readers.Wait()

	return g.Wait()
}

func (c *Consumer) read(ctx context.Context, g *errgroup.Group, gctx context.Context, rt route, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				slog.Info("Message channel closed", "queue", rt.queue)

				return
			}

			g.Go(func() error {
				c.processMessage(gctx, rt, msg)

				return nil
			})
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, rt route, msg amqp.Delivery) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, rabbitmq.HeaderCarrier(msg.Headers))
	ctx, span := otel.Tracer("consumer").Start(ctx, "Consumer.processMessage",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", rt.queue),
			attribute.String("messaging.message.id", msg.MessageId),
		),
	)
	defer span.End()

	start := time.Now()
	outcome, err := c.handle(ctx, rt, msg)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}

	if err := msg.Ack(false); err != nil {
		slog.ErrorContext(ctx, "Failed to ack message", "queue", rt.queue, "message_id", msg.MessageId, "error", err)
	}

	c.metrics.Consumed(rt.queue, outcome, time.Since(start))
}

func (c *Consumer) handle(ctx context.Context, rt route, msg amqp.Delivery) (string, error) {
	claimed := false
	if c.inbox != nil && msg.MessageId != "" {
		var err error
		claimed, err = c.inbox.Claim(ctx, c.name, msg.MessageId)
		switch {
		case err != nil:
			slog.WarnContext(ctx, "Failed to claim message, processing anyway",
				"queue", rt.queue,
				"message_id", msg.MessageId,
				"error", err,
			)
		case !claimed:
			slog.InfoContext(ctx, "Duplicate message skipped", "queue", rt.queue, "message_id", msg.MessageId)

			return metrics.OutcomeDuplicate, nil
		}
	}

	err := rt.handler(ctx, msg.Body)
	switch {
	case errors.Is(err, ErrMalformed):
		slog.ErrorContext(ctx, "Dropping malformed message", "queue", rt.queue, "message_id", msg.MessageId, "error", err)

		return metrics.OutcomeMalformed, err
	case err != nil:
		slog.ErrorContext(ctx, "Failed to handle message", "queue", rt.queue, "message_id", msg.MessageId, "error", err)
		if claimed {
			c.release(ctx, rt, msg)
		}

		return metrics.OutcomeError, err
	}

	slog.DebugContext(ctx, "Message processed", "queue", rt.queue, "message_id", msg.MessageId)

	return metrics.OutcomeOK, nil
}

func (c *Consumer) release(ctx context.Context, rt route, msg amqp.Delivery) {
	if err := c.inbox.Release(context.WithoutCancel(ctx), c.name, msg.MessageId); err != nil {
		slog.ErrorContext(ctx, "Failed to release message claim",
			"queue", rt.queue,
			"message_id", msg.MessageId,
			"error", err,
		)
	}
}

// Shutdown stops taking deliveries and waits for in-flight handlers.
func (c *Consumer) Shutdown() error {
	slog.Info("Shutting down consumer")
	c.stopOnce.Do(func() { close(c.stop) })

	select {
	case <-c.done:
		slog.Info("Consumer stopped successfully")
	case <-time.After(10 * time.Second):
		slog.Warn("Consumer shutdown timeout")
	}

	return nil
}
