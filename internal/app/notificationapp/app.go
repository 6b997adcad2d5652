package notificationapp

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
	"github.com/corray333/backend-labs/fulfillment/internal/dal/rabbitmq"
	"github.com/corray333/backend-labs/fulfillment/internal/dal/storage"
	"github.com/corray333/backend-labs/fulfillment/internal/metrics"
	"github.com/corray333/backend-labs/fulfillment/internal/otel"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/events"
	"github.com/corray333/backend-labs/fulfillment/internal/service/services/notificationsvc"
	"github.com/corray333/backend-labs/fulfillment/internal/transport/consumer"
	httptransport "github.com/corray333/backend-labs/fulfillment/internal/transport/http"
	"github.com/corray333/backend-labs/fulfillment/internal/worker/inbox"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"
)

const serviceName = "notification-svc"

// App is the notification dispatcher. It only consumes payment_notification.
type App struct {
	transport   *httptransport.HTTPTransport
	consumer    *consumer.Consumer
	inboxWorker *inbox.Worker
	broker      *rabbitmq.Client
	store       *storage.Storage
	otel        *otel.OtelController
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

	notificationSvc := notificationsvc.MustNewNotificationService(
		notificationsvc.WithSender(notificationsvc.NewLogSender(slog.Default())),
	)

	var (
		inboxRepo   iinboxrepo.IInboxRepository
		inboxWorker *inbox.Worker
	)
	if viper.GetBool("rabbitmq.dedup.enabled") {
		inboxRepo = store.InboxRepository()
		inboxWorker = inbox.NewWorker(inboxRepo)
	}

	c := consumer.NewConsumer(broker, consumer.WithMetrics(sagaMetrics), consumer.WithInbox(inboxRepo))
	c.Handle(events.QueuePaymentNotification, consumer.JSON(notificationSvc.HandlePaymentNotification))

	return &App{
		transport:   httptransport.NewHTTPTransport(serviceName, reg),
		consumer:    c,
		inboxWorker: inboxWorker,
		broker:      broker,
		store:       store,
		otel:        otelCtrl,
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

	if a.inboxWorker != nil {
		go a.inboxWorker.Start(ctx)
	}

	<-stop
	slog.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := a.transport.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	if err := a.consumer.Shutdown(); err != nil {
		slog.Error("Consumer shutdown error", "error", err)
	}

	if a.inboxWorker != nil {
		a.inboxWorker.Stop()
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
