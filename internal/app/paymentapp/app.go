package paymentapp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/corray333/backend-labs/fulfillment/internal/dal/interfaces/iinboxrepo"
	"github.com/corray333/backend-labs/fulfillment/internal/dal/productclient"
	"github.com/corray333/backend-labs/fulfillment/internal/dal/publisher"
	"github.com/corray333/backend-labs/fulfillment/internal/dal/rabbitmq"
	"github.com/corray333/backend-labs/fulfillment/internal/dal/storage"
	"github.com/corray333/backend-labs/fulfillment/internal/metrics"
	"github.com/corray333/backend-labs/fulfillment/internal/otel"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/events"
	"github.com/corray333/backend-labs/fulfillment/internal/service/services/paymentsvc"
	"github.com/corray333/backend-labs/fulfillment/internal/transport/consumer"
	httptransport "github.com/corray333/backend-labs/fulfillment/internal/transport/http"
	"github.com/corray333/backend-labs/fulfillment/internal/worker/inbox"
	"github.com/corray333/backend-labs/fulfillment/internal/worker/outbox"
	"github.com/corray333/backend-labs/fulfillment/internal/worker/sweeper"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"
)

const serviceName = "payment-svc"

type worker interface {
	Start(ctx context.Context)
	Stop()
}

// App is the payment processor: the payment webhook and routes, the order_payment and order_canceled
// consumers and the payment expiry sweeper.
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

	paymentSvc := paymentsvc.MustNewPaymentService(
		paymentsvc.WithPaymentRepository(store.PaymentRepository()),
		paymentsvc.WithPriceSource(productclient.New()),
		paymentsvc.WithPublisher(pub),
		paymentsvc.WithMetrics(sagaMetrics),
		paymentsvc.WithTimeout(viper.GetDuration("payment.timeout")),
	)

	workers := []worker{
		outbox.NewWorker(outboxRepo, broker, sagaMetrics),
		sweeper.NewWorker("expired-payments", paymentSvc.SweepExpiredPayments,
			viper.GetDuration("payment.sweep_interval"), viper.GetInt("payment.sweep_batch")),
	}

	var inboxRepo iinboxrepo.IInboxRepository
	if viper.GetBool("rabbitmq.dedup.enabled") {
		inboxRepo = store.InboxRepository()
		workers = append(workers, inbox.NewWorker(inboxRepo))
	}

	c := consumer.NewConsumer(broker, consumer.WithMetrics(sagaMetrics), consumer.WithInbox(inboxRepo))
	c.Handle(events.QueueOrderPayment, consumer.JSON(paymentSvc.HandleOrderPaymentRequested))
	c.Handle(events.QueueOrderCanceled, consumer.JSON(paymentSvc.HandleOrderCanceled))

	transport := httptransport.NewHTTPTransport(serviceName, reg)
	transport.RegisterPaymentRoutes(paymentSvc)

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
