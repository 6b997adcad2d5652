package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/corray333/backend-labs/fulfillment/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// MustInit loads .env and the service's config.yaml into viper and installs the default logger.
// Missing files are tolerated; every key has a default and can be overridden from the environment
// (rabbitmq.host -> RABBITMQ_HOST).
func MustInit(service string) {
	if err := godotenv.Load("./.env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic("error while loading .env file: " + err.Error())
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/" + service)
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	SetDefaults(service)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			panic("error while reading config file: " + err.Error())
		}
	}

	SetupLogger(service)
}

// SetDefaults registers the default value of every configuration key.
func SetDefaults(service string) {
	viper.SetDefault("service.name", service)
	viper.SetDefault("log.level", "info")

	viper.SetDefault("server.http.port", "8080")
	viper.SetDefault("server.http.cors.allowed_origins", []string{"*"})
	viper.SetDefault("server.http.cors.allowed_methods", []string{"GET", "POST", "PUT", "PATCH", "DELETE"})
	viper.SetDefault("server.http.cors.allowed_headers", []string{"Content-Type", "X-User-Id", "X-User-Role"})

	viper.SetDefault("storage.driver", "postgres")
	viper.SetDefault("postgres.host", "postgres")
	viper.SetDefault("postgres.port", 5432)
	viper.SetDefault("postgres.sslmode", "disable")
	viper.SetDefault("postgres.migrations_dir", migrationsDir(service))

	viper.SetDefault("rabbitmq.host", "rabbitmq")
	viper.SetDefault("rabbitmq.port", 5672)
	viper.SetDefault("rabbitmq.user", "guest")
	viper.SetDefault("rabbitmq.password", "guest")
	viper.SetDefault("rabbitmq.reconnect_delay", "5s")
	viper.SetDefault("rabbitmq.prefetch", 50)
	viper.SetDefault("rabbitmq.consumer_tag", service)
	viper.SetDefault("rabbitmq.dedup.enabled", true)
	viper.SetDefault("rabbitmq.outbox.poll_interval", "10s")
	viper.SetDefault("rabbitmq.outbox.lease", "1m")
	viper.SetDefault("rabbitmq.outbox.batch_size", 100)
	viper.SetDefault("rabbitmq.outbox.max_retries", 10)
	viper.SetDefault("rabbitmq.inbox.retention", "168h")
	viper.SetDefault("rabbitmq.inbox.purge_interval", "1h")

	viper.SetDefault("product.base_url", "http://product-service:3000/api/products")
	viper.SetDefault("product.timeout", "5s")

	viper.SetDefault("payment.timeout", "10m")
	viper.SetDefault("payment.sweep_interval", "15s")
	viper.SetDefault("payment.sweep_batch", 100)

	viper.SetDefault("order.stale_after", "15m")
	viper.SetDefault("order.sweep_interval", "1m")
	viper.SetDefault("order.sweep_batch", 100)

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.jaeger_endpoint", "http://jaeger:14268/api/traces")
}

// OrderStaleAfter returns order.stale_after, raised above the time a payment can stay PENDING
// (payment.timeout plus one payment sweep and one outbox poll) so a payable order is never swept first.
func OrderStaleAfter() time.Duration {
	staleAfter := viper.GetDuration("order.stale_after")
	floor := viper.GetDuration("payment.timeout") +
		viper.GetDuration("payment.sweep_interval") +
		viper.GetDuration("rabbitmq.outbox.poll_interval")

	if staleAfter <= floor {
		raised := floor + time.Minute
		slog.Warn("order.stale_after does not outlast payment expiry, raising it",
			"configured", staleAfter,
			"payment_window", floor,
			"stale_after", raised,
		)

		return raised
	}

	return staleAfter
}

// SetupLogger installs the JSON logger tagged with the service name as the slog default.
func SetupLogger(service string) {
	handler := logger.NewHandler(nil)
	log := slog.New(handler).With("service", service)
	slog.SetDefault(log)
}

func migrationsDir(service string) string {
	switch service {
	case "order-svc":
		return "order"
	case "payment-svc":
		return "payment"
	default:
		return "notification"
	}
}
