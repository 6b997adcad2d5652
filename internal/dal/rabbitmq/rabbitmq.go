package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/spf13/viper"
	"github.com/streadway/amqp"
)

// ErrNotConnected is returned while the client is between connections.
var ErrNotConnected = errors.New("rabbitmq is not connected")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("rabbitmq client is closed")

// Client represents a RabbitMQ client.
// It owns a single connection and channel and replaces both whenever the broker drops them.
type Client struct {
	url            string
	reconnectDelay time.Duration
	prefetch       int

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	ready   chan struct{}
	queues  []DeclareQueueConfig

	closed    chan struct{}
	closeOnce sync.Once
}

// Channel returns the underlying AMQP channel.
func (r *Client) Channel() *amqp.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.channel
}

// Connection returns the underlying AMQP connection.
func (r *Client) Connection() *amqp.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.conn
}

// Close stops reconnecting and closes the channel and connection for graceful shutdown.
func (r *Client) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channel != nil {
		if err := r.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			return err
		}
		r.channel = nil
	}
	if r.conn != nil {
		err := r.conn.Close()
		r.conn = nil
		if err != nil && !errors.Is(err, amqp.ErrClosed) {
			return err
		}
	}

	return nil
}

// MustNewClient creates a new RabbitMQ client.
// The first connection attempt is fatal; later disconnects are retried forever.
func MustNewClient() *Client {
	r := &Client{
		url:            ConnectionURL(),
		reconnectDelay: viper.GetDuration("rabbitmq.reconnect_delay"),
		prefetch:       viper.GetInt("rabbitmq.prefetch"),
		ready:          make(chan struct{}),
		closed:         make(chan struct{}),
	}
	if r.reconnectDelay <= 0 {
		r.reconnectDelay = 5 * time.Second
	}

	if err := r.connect(); err != nil {
		panic(fmt.Sprintf("Failed to connect to RabbitMQ: %v", err))
	}

	slog.Info("RabbitMQ connected", "host", viper.GetString("rabbitmq.host"), "port", viper.GetInt("rabbitmq.port"))

	return r
}

// ConnectionURL builds the AMQP URL from the rabbitmq.* keys.
func ConnectionURL() string {
	host := viper.GetString("rabbitmq.host")
	port := viper.GetInt("rabbitmq.port")
	if host == "" {
		host = "rabbitmq"
	}
	if port == 0 {
		port = 5672
	}

	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(viper.GetString("rabbitmq.user"), viper.GetString("rabbitmq.password")),
		Host:   fmt.Sprintf("%s:%d", host, port),
		Path:   "/" + viper.GetString("rabbitmq.vhost"),
	}

	return u.String()
}

func (r *Client) connect() error {
	conn, err := amqp.Dial(r.url)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()

		return fmt.Errorf("failed to open a channel: %w", err)
	}

	if r.prefetch > 0 {
		if err := channel.Qos(r.prefetch, 0, false); err != nil {
			_ = conn.Close()

			return fmt.Errorf("failed to set qos: %w", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cfg := range r.queues {
		if _, err := declare(channel, cfg); err != nil {
			_ = conn.Close()

			return fmt.Errorf("failed to redeclare queue %s: %w", cfg.Name, err)
		}
	}

	r.conn = conn
	r.channel = channel
	close(r.ready)

	go r.watch(conn)

	return nil
}

// watch waits for the connection to drop and reconnects with a fixed delay until it succeeds or the client is closed.
func (r *Client) watch(conn *amqp.Connection) {
	errCh := conn.NotifyClose(make(chan *amqp.Error, 1))

	var reason *amqp.Error
	select {
	case <-r.closed:
		return
	case reason = <-errCh:
	}

	select {
	case <-r.closed:
		return
	default:
	}

	r.mu.Lock()
	r.conn = nil
	r.channel = nil
	r.ready = make(chan struct{})
	r.mu.Unlock()

	slog.Warn("RabbitMQ connection lost, reconnecting", "reason", reason, "delay", r.reconnectDelay)

	for attempt := 1; ; attempt++ {
		select {
		case <-r.closed:
			return
		case <-time.After(r.reconnectDelay):
		}

		if err := r.connect(); err != nil {
			slog.Error("Failed to reconnect to RabbitMQ", "attempt", attempt, "error", err)

			continue
		}

		slog.Info("RabbitMQ reconnected", "attempts", attempt)

		return
	}
}

// readyCh returns a channel that is closed once a live connection is available.
func (r *Client) readyCh() <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.ready
}

type DeclareQueueConfig struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	NoWait     bool
	Args       amqp.Table
}

// DeclareQueue declares a queue with the given configuration.
// The declaration is repeated on every reconnect.
func (r *Client) DeclareQueue(cfg DeclareQueueConfig) (amqp.Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channel == nil {
		return amqp.Queue{}, ErrNotConnected
	}

	q, err := declare(r.channel, cfg)
	if err != nil {
		return q, err
	}
	r.queues = append(r.queues, cfg)

	return q, nil
}

// MustDeclareDurableQueues declares every named queue as durable.
func (r *Client) MustDeclareDurableQueues(names ...string) {
	for _, name := range names {
		if _, err := r.DeclareQueue(DeclareQueueConfig{Name: name, Durable: true}); err != nil {
			panic(fmt.Sprintf("Failed to declare queue %s: %v", name, err))
		}
	}
}

func declare(channel *amqp.Channel, cfg DeclareQueueConfig) (amqp.Queue, error) {
	return channel.QueueDeclare(
		cfg.Name,
		cfg.Durable,
		cfg.AutoDelete,
		cfg.Exclusive,
		cfg.NoWait,
		cfg.Args,
	)
}

// Publish sends msg to queue through the default exchange.
func (r *Client) Publish(_ context.Context, queue string, msg amqp.Publishing) error {
	select {
	case <-r.closed:
		return ErrClosed
	default:
	}

	channel := r.Channel()
	if channel == nil {
		return ErrNotConnected
	}

	return channel.Publish("", queue, false, false, msg)
}

type ConsumeConfig struct {
	Queue     string
	Consumer  string
	AutoAck   bool
	Exclusive bool
	NoLocal   bool
	NoWait    bool
	Args      amqp.Table
}

// Consume starts consuming messages from the queue on the current channel.
// The returned channel is closed when the connection drops; use Subscribe to survive reconnects.
func (r *Client) Consume(cfg ConsumeConfig) (<-chan amqp.Delivery, error) {
	channel := r.Channel()
	if channel == nil {
		return nil, ErrNotConnected
	}

	return channel.Consume(
		cfg.Queue,
		cfg.Consumer,
		cfg.AutoAck,
		cfg.Exclusive,
		cfg.NoLocal,
		cfg.NoWait,
		cfg.Args,
	)
}

// Subscribe returns a delivery stream that outlives reconnects.
// The stream is closed only after Close.
func (r *Client) Subscribe(cfg ConsumeConfig) (<-chan amqp.Delivery, error) {
	deliveries, err := r.Consume(cfg)
	if err != nil {
		return nil, err
	}

	out := make(chan amqp.Delivery)
	go r.forward(cfg, deliveries, out)

	return out, nil
}

func (r *Client) forward(cfg ConsumeConfig, deliveries <-chan amqp.Delivery, out chan<- amqp.Delivery) {
	defer close(out)

	for {
		for d := range deliveries {
			select {
			case out <- d:
			case <-r.closed:
				return
			}
		}

		for {
			select {
			case <-r.closed:
				return
			case <-r.readyCh():
			}

			var err error
			deliveries, err = r.Consume(cfg)
			if err == nil {
				slog.Info("Consumer resubscribed", "queue", cfg.Queue, "consumer_tag", cfg.Consumer)

				break
			}

			slog.Warn("Failed to resubscribe, will retry", "queue", cfg.Queue, "error", err)
			select {
			case <-r.closed:
				return
			case <-time.After(r.reconnectDelay):
			}
		}
	}
}
