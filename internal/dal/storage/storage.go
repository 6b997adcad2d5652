package storage

import (
	"fmt"

	"github.com/corray333/backend-labs/fulfillment/internal/dal/interfaces/iinboxrepo"
	"github.com/corray333/backend-labs/fulfillment/internal/dal/interfaces/iorderrepo"
	"github.com/corray333/backend-labs/fulfillment/internal/dal/interfaces/ioutboxrepo"
	"github.com/corray333/backend-labs/fulfillment/internal/dal/interfaces/ipaymentrepo"
	"github.com/corray333/backend-labs/fulfillment/internal/dal/postgres"
	inboxmemory "github.com/corray333/backend-labs/fulfillment/internal/dal/repositories/inbox/memory"
	inboxpostgres "github.com/corray333/backend-labs/fulfillment/internal/dal/repositories/inbox/postgres"
	ordermemory "github.com/corray333/backend-labs/fulfillment/internal/dal/repositories/order/memory"
	orderpostgres "github.com/corray333/backend-labs/fulfillment/internal/dal/repositories/order/postgres"
	outboxmemory "github.com/corray333/backend-labs/fulfillment/internal/dal/repositories/outbox/memory"
	outboxpostgres "github.com/corray333/backend-labs/fulfillment/internal/dal/repositories/outbox/postgres"
	paymentmemory "github.com/corray333/backend-labs/fulfillment/internal/dal/repositories/payment/memory"
	paymentpostgres "github.com/corray333/backend-labs/fulfillment/internal/dal/repositories/payment/postgres"
	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Storage builds repositories for the configured storage.driver.
type Storage struct {
	driver   string
	pgClient *postgres.Client
}

// MustNew opens the configured storage. The postgres driver connects and migrates immediately.
func MustNew() *Storage {
	driver := viper.GetString("storage.driver")
	switch driver {
	case DriverPostgres:
		return &Storage{driver: driver, pgClient: postgres.MustNewClient()}
	case DriverMemory:
		return &Storage{driver: driver}
	default:
		panic(fmt.Sprintf("unknown storage.driver %q", driver))
	}
}

// NewMemory returns a storage backed by process memory.
func NewMemory() *Storage {
	return &Storage{driver: DriverMemory}
}

func (s *Storage) Driver() string {
	return s.driver
}

func (s *Storage) OrderRepository() iorderrepo.IOrderRepository {
	if s.pgClient != nil {
		return orderpostgres.NewOrderRepository(s.pgClient.Pool())
	}

	return ordermemory.NewOrderRepository()
}

func (s *Storage) PaymentRepository() ipaymentrepo.IPaymentRepository {
	if s.pgClient != nil {
		return paymentpostgres.NewPaymentRepository(s.pgClient.Pool())
	}

	return paymentmemory.NewPaymentRepository()
}

func (s *Storage) OutboxRepository() ioutboxrepo.IOutboxRepository {
	if s.pgClient != nil {
		return outboxpostgres.NewOutboxRepository(s.pgClient.Pool())
	}

	return outboxmemory.NewOutboxRepository()
}

func (s *Storage) InboxRepository() iinboxrepo.IInboxRepository {
	if s.pgClient != nil {
		return inboxpostgres.NewInboxRepository(s.pgClient.Pool())
	}

	return inboxmemory.NewInboxRepository()
}

// Close releases the database pool, if any.
func (s *Storage) Close() {
	if s.pgClient != nil {
		s.pgClient.Close()
	}
}
