package orderapp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/corray333/backend-labs/fulfillment/internal/config"
	"github.com/corray333/backend-labs/fulfillment/internal/dal/interfaces/iinboxrepo"
	"github.com/corray333/backend-labs/fulfillment/internal/dal/productclient"
	"github.com/corray333/backend-labs/fulfillment/internal/dal/publisher"
	"github.com/corray333/backend-labs/fulfillment/internal/dal/rabbitmq"
	"github.com/corray333/backend-labs/fulfillment/internal/dal/storage"
	"github.com/corray333/backend-labs/fulfillment/internal/metrics"
	"github.com/corray333/backend-labs/fulfillment/internal/otel"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/events"
	"github.com/corray333/backend-labs/fulfillment/internal/service/services/ordersvc"
	"github.com/corray333/backend-labs/fulfillment/internal/transport/consumer"
	httptransport "github.com/corray333/backend-labs/fulfillment/internal/transport/http"
	"github.com/corray333/backend-labs/fulfillment/internal/worker/inbox"
	"github.com/corray333/backend-labs/fulfillment/internal/worker/outbox"
	"github.com/corray333/backend-labs/fulfillment/internal/worker/sweeper"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"
)

const serviceName = "order-svc"

type worker interface {
	Start(ctx context.Context)
	Stop()
}

// App is the order orchestrator: HTTP API for placing orders plus the saga consumers.
type App struct {
	transport *httptransport.HTTPTransport
	consumer  *consumer.Consumer
	workers   []worker
	broker    *rabbitmq.Client
	store     *storage.Storage
	otel      *otel.OtelController
}

// MustNewApp creates a new application.
func MustNewApp() *App {
	otelCtrl := otel.MustInitOtel(serviceName)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sagaMetrics := metrics.NewSaga(reg, serviceName)

	store := storage.MustNew()

	broker := rabbitmq.MustNewClient()
	broker.MustDeclareDurableQueues(events.Queues...)

	outboxRepo := store.OutboxRepository()
	pub := publisher.New(broker, outboxRepo, publisher.WithMetrics(sagaMetrics))

	orderSvc := ordersvc.MustNewOrderService(
		ordersvc.WithOrderRepository(store.OrderRepository()),
		ordersvc.WithStockLedger(productclient.New()),
		ordersvc.WithPublisher(pub),
		ordersvc.WithMetrics(sagaMetrics),
		ordersvc.WithStaleAfter(config.OrderStaleAfter()),
	)

	workers := []worker{
		outbox.NewWorker(outboxRepo, broker, sagaMetrics),
		sweeper.NewWorker("stale-orders", orderSvc.SweepStaleOrders,
			viper.GetDuration("order.sweep_interval"), viper.GetInt("order.sweep_batch")),
	}

	var inboxRepo iinboxrepo.IInboxRepository
	if viper.GetBool("rabbitmq.dedup.enabled") {
		inboxRepo = store.InboxRepository()
		workers = append(workers, inbox.NewWorker(inboxRepo))
	}

	c := consumer.NewConsumer(broker, consumer.WithMetrics(sagaMetrics), consumer.WithInbox(inboxRepo))
	c.Handle(events.QueuePaymentStatusUpdate, consumer.JSON(orderSvc.HandlePaymentStatusUpdate))
	c.Handle(events.QueueOrderExpired, consumer.JSON(orderSvc.HandleOrderExpired))

	transport := httptransport.NewHTTPTransport(serviceName, reg)
	transport.RegisterOrderRoutes(orderSvc)

	return &App{
		transport: transport,
		consumer:  c,
		workers:   workers,
		broker:    broker,
		store:     store,
		otel:      otelCtrl,
	}
}

// Run starts the application.
// Tracks interrupt signal to gracefully shut down the application.
func (a *App) Run() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := a.transport.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	go func() {
		if err := a.consumer.Run(ctx); err != nil {
			slog.Error("Consumer error", "error", err)
		}
	}()

	for _, w := range a.workers {
		go w.Start(ctx)
	}

	<-stop
	slog.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := a.transport.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped gracefully")
	}

	if err := a.consumer.Shutdown(); err != nil {
		slog.Error("Consumer shutdown error", "error", err)
	}

	for _, w := range a.workers {
		w.Stop()
	}

	if err := a.broker.Close(); err != nil {
		slog.Error("RabbitMQ connection close error", "error", err)
	}

	a.store.Close()

	if err := a.otel.Shutdown(); err != nil {
		slog.Error("Tracer provider shutdown error", "error", err)
	}

	slog.Info("Application shutdown complete")
}
