package ordersvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/corray333/backend-labs/fulfillment/internal/dal/interfaces/iorderrepo"
	"github.com/corray333/backend-labs/fulfillment/internal/metrics"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/apperr"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/events"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/identity"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/order"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/orderitem"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const (
	reasonPaymentCanceled = "payment_canceled"
	reasonExpired         = "expired"
	reasonAdminDelete     = "admin_delete"
	reasonRollback        = "rollback"
)

// stockLedger is the product service's stock API.
type stockLedger interface {
	GetStock(ctx context.Context, productID string) (int, error)
	SetStock(ctx context.Context, productID string, stock int) error
	PatchStock(ctx context.Context, productID string, stock int) error
}

type publisher interface {
	Publish(ctx context.Context, evt events.Event) error
}

// OrderService places orders and reacts to payment outcomes.
type OrderService struct {
	orderRepo    iorderrepo.IOrderRepository
	stock        stockLedger
	publisher    publisher
	metrics      *metrics.Saga
	staleAfter   time.Duration
	restoreLimit int
	now          func() time.Time
}

// option is a function that configures the OrderService.
type option func(*OrderService)

// MustNewOrderService creates a new OrderService.
func MustNewOrderService(opts ...option) *OrderService {
	s := &OrderService{
		staleAfter:   15 * time.Minute,
		restoreLimit: 8,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.orderRepo == nil || s.stock == nil || s.publisher == nil {
		panic("ordersvc: order repository, stock ledger and publisher are required")
	}

	return s
}

// WithOrderRepository sets the order repository for the OrderService.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithOrderRepository(repo iorderrepo.IOrderRepository) option {
	return func(s *OrderService) {
		s.orderRepo = repo
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithStockLedger(stock stockLedger) option {
	return func(s *OrderService) {
		s.stock = stock
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithPublisher(p publisher) option {
	return func(s *OrderService) {
		s.publisher = p
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithMetrics(m *metrics.Saga) option {
	return func(s *OrderService) {
		s.metrics = m
	}
}

// WithStaleAfter sets how long an order may stay PENDING before the sweeper expires it.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithStaleAfter(d time.Duration) option {
	return func(s *OrderService) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithClock(now func() time.Time) option {
	return func(s *OrderService) {
		s.now = now
	}
}

// CreateOrder reserves stock for every item, stores the order as PENDING and asks for payment.
// Validation and stock checks happen before anything is mutated. If a reservation or the insert
// fails, reservations already made are given back.
func (s *OrderService) CreateOrder(ctx context.Context, userID string, items []orderitem.OrderItem) (order.Order, error) {
	ctx, span := otel.Tracer("ordersvc").Start(ctx, "OrderService.CreateOrder")
	defer span.End()

	if userID == "" {
		return order.Order{}, apperr.Validation("userId is required")
	}
	if err := orderitem.Validate(items); err != nil {
		return order.Order{}, err
	}

	demand := orderitem.Demand(items)

	current := make([]int, len(demand))
	for i, d := range demand {
		stock, err := s.stock.GetStock(ctx, d.ProductID)
		if err != nil {
			return order.Order{}, fmt.Errorf("failed to get stock of product %s: %w", d.ProductID, err)
		}
		if d.Quantity > stock {
			return order.Order{}, fmt.Errorf("product %s has %d in stock, %d requested: %w",
				d.ProductID, stock, d.Quantity, apperr.ErrInsufficientStock)
		}
		current[i] = stock
	}

	for i, d := range demand {
		if err := s.stock.SetStock(ctx, d.ProductID, current[i]-d.Quantity); err != nil {
			s.rollback(ctx, demand[:i])

			return order.Order{}, fmt.Errorf("failed to reserve stock of product %s: %w", d.ProductID, err)
		}
	}

	now := s.now()
	ord := order.Order{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    order.StatusPending,
		Items:     items,
		CreatedAt: now,
		UpdatedAt: now,
	}
	span.SetAttributes(attribute.String("order.id", ord.ID))

	if err := s.orderRepo.Create(ctx, ord); err != nil {
		s.rollback(ctx, demand)

		return order.Order{}, fmt.Errorf("failed to create order: %w", err)
	}

	err := s.publisher.Publish(ctx, events.OrderPaymentRequested{
		OrderID:    ord.ID,
		UserID:     ord.UserID,
		OrderItems: ord.Items,
	})
	if err != nil {
		// The stale order sweeper expires the order if the request never reaches the payment processor.
		slog.ErrorContext(ctx, "Failed to request payment", "order_id", ord.ID, "error", err)
	}

	slog.InfoContext(ctx, "Order created", "order_id", ord.ID, "user_id", userID, "items", len(items))

	return ord, nil
}

func (s *OrderService) rollback(ctx context.Context, reserved []orderitem.OrderItem) {
	if len(reserved) == 0 {
		return
	}
	s.metrics.Compensated(reasonRollback)
	s.restoreStock(ctx, reserved)
}

// HandlePaymentStatusUpdate applies the order status implied by a payment outcome.
// Only PENDING orders are changed; anything else is ignored.
func (s *OrderService) HandlePaymentStatusUpdate(ctx context.Context, evt events.PaymentStatusUpdate) error {
	ctx, span := otel.Tracer("ordersvc").Start(ctx, "OrderService.HandlePaymentStatusUpdate")
	defer span.End()

	status, err := order.ParseStatus(evt.Status)
	if err != nil {
		return fmt.Errorf("failed to apply payment status to order %s: %w", evt.OrderID, err)
	}

	switch status {
	case order.StatusConfirmed:
		return s.confirm(ctx, evt.OrderID)
	case order.StatusCanceled:
		return s.cancel(ctx, evt.OrderID, reasonPaymentCanceled)
	case order.StatusPending:
		return nil
	default:
		return fmt.Errorf("payment cannot move order %s to %s: %w", evt.OrderID, status, apperr.ErrInvalidTransition)
	}
}

// HandleOrderExpired cancels a PENDING order whose payment did not complete in time.
func (s *OrderService) HandleOrderExpired(ctx context.Context, evt events.OrderExpired) error {
	ctx, span := otel.Tracer("ordersvc").Start(ctx, "OrderService.HandleOrderExpired")
	defer span.End()

	return s.cancel(ctx, evt.OrderID, reasonExpired)
}

func (s *OrderService) confirm(ctx context.Context, orderID string) error {
	ok, err := s.orderRepo.CompareAndSetStatus(ctx, orderID, order.StatusPending, order.StatusConfirmed)
	if err != nil {
		return fmt.Errorf("failed to confirm order %s: %w", orderID, err)
	}
	if !ok {
		slog.InfoContext(ctx, "Order is missing or no longer pending, confirmation ignored", "order_id", orderID)

		return nil
	}

	slog.InfoContext(ctx, "Order confirmed", "order_id", orderID)

	return nil
}

// cancel moves a PENDING order to CANCELED, gives its stock back, deletes it and tells the payment
// processor to void the order's open payment.
// Winning the status change is what makes the restoration happen at most once per order.
func (s *OrderService) cancel(ctx context.Context, orderID, reason string) error {
	ord, err := s.orderRepo.Get(ctx, orderID)
	if errors.Is(err, apperr.ErrNotFound) {
		slog.InfoContext(ctx, "Order not found, cancellation ignored", "order_id", orderID, "reason", reason)

		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get order %s: %w", orderID, err)
	}

	ok, err := s.orderRepo.CompareAndSetStatus(ctx, orderID, order.StatusPending, order.StatusCanceled)
	if err != nil {
		return fmt.Errorf("failed to cancel order %s: %w", orderID, err)
	}
	if !ok {
		slog.InfoContext(ctx, "Order is no longer pending, cancellation ignored",
			"order_id", orderID, "status", ord.Status, "reason", reason)

		return nil
	}

	s.restoreStock(ctx, orderitem.Demand(ord.Items))

	if err := s.orderRepo.Delete(ctx, orderID); err != nil {
		return fmt.Errorf("failed to delete canceled order %s: %w", orderID, err)
	}

	s.metrics.Compensated(reason)
	slog.InfoContext(ctx, "Order canceled and stock restored", "order_id", orderID, "reason", reason)

	if err := s.publisher.Publish(ctx, events.OrderCanceled{OrderID: orderID, Reason: reason}); err != nil {
		slog.ErrorContext(ctx, "Failed to announce canceled order", "order_id", orderID, "error", err)
	}

	return nil
}

// restoreStock adds the quantities back to the ledger. Failures are logged and not retried.
func (s *OrderService) restoreStock(ctx context.Context, demand []orderitem.OrderItem) {
	ctx = context.WithoutCancel(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.restoreLimit)

	for _, d := range demand {
		g.Go(func() error {
			if err := s.restoreItem(gctx, d); err != nil {
				s.metrics.RestoreFailed()
				slog.ErrorContext(gctx, "Failed to restore stock",
					"product_id", d.ProductID,
					"quantity", d.Quantity,
					"error", err,
				)
			}

			return nil
		})
	}

	_ = g.Wait()
}

// restoreItem writes back an absolute stock value. The ledger has no delta route, so a write
// landing between the read and the PATCH is overwritten.
func (s *OrderService) restoreItem(ctx context.Context, d orderitem.OrderItem) error {
	stock, err := s.stock.GetStock(ctx, d.ProductID)
	if err != nil {
		return fmt.Errorf("failed to get stock: %w", err)
	}

	if err := s.stock.PatchStock(ctx, d.ProductID, stock+d.Quantity); err != nil {
		return fmt.Errorf("failed to update stock: %w", err)
	}

	return nil
}

// SweepStaleOrders publishes OrderExpired for PENDING orders older than the stale threshold.
// Each order is claimed before publishing, so it is asked for again only after another stale period.
// It returns how many orders were claimed.
func (s *OrderService) SweepStaleOrders(ctx context.Context, limit int) (int, error) {
	ctx, span := otel.Tracer("ordersvc").Start(ctx, "OrderService.SweepStaleOrders")
	defer span.End()

	now := s.now()
	stale, err := s.orderRepo.ClaimStalePending(ctx, now.Add(-s.staleAfter), now, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to claim stale orders: %w", err)
	}

	expired := 0
	for _, o := range stale {
		if err := s.publisher.Publish(ctx, events.OrderExpired{OrderID: o.ID}); err != nil {
			slog.ErrorContext(ctx, "Failed to expire stale order", "order_id", o.ID, "error", err)

			continue
		}
		expired++
	}

	if expired > 0 {
		slog.InfoContext(ctx, "Stale orders expired", "count", expired)
	}

	return len(stale), nil
}

// GetOrder returns an order to its owner or an administrator.
func (s *OrderService) GetOrder(ctx context.Context, caller identity.Identity, orderID string) (order.Order, error) {
	ord, err := s.orderRepo.Get(ctx, orderID)
	if err != nil {
		return order.Order{}, err
	}

	if !caller.CanAccess(ord.UserID) {
		return order.Order{}, fmt.Errorf("order %s: %w", orderID, apperr.ErrForbidden)
	}

	return ord, nil
}

// UpdateOrderStatus lets an administrator move a confirmed order through fulfilment.
func (s *OrderService) UpdateOrderStatus(
	ctx context.Context,
	caller identity.Identity,
	orderID string,
	status order.Status,
) (order.Order, error) {
	if !caller.IsAdmin() {
		return order.Order{}, fmt.Errorf("update order status: %w", apperr.ErrForbidden)
	}

	ord, err := s.orderRepo.Get(ctx, orderID)
	if err != nil {
		return order.Order{}, err
	}

	if !ord.Status.CanAdvanceTo(status) {
		return order.Order{}, fmt.Errorf("order %s from %s to %s: %w", orderID, ord.Status, status, apperr.ErrInvalidTransition)
	}

	ok, err := s.orderRepo.CompareAndSetStatus(ctx, orderID, ord.Status, status)
	if err != nil {
		return order.Order{}, fmt.Errorf("failed to update order status: %w", err)
	}
	if !ok {
		return order.Order{}, fmt.Errorf("order %s changed concurrently: %w", orderID, apperr.ErrInvalidTransition)
	}

	ord.Status = status
	ord.UpdatedAt = s.now()

	slog.InfoContext(ctx, "Order status updated", "order_id", orderID, "status", status)

	return ord, nil
}

// DeleteOrder lets an administrator remove an order. A PENDING order is canceled first so that
// its stock is given back.
func (s *OrderService) DeleteOrder(ctx context.Context, caller identity.Identity, orderID string) error {
	if !caller.IsAdmin() {
		return fmt.Errorf("delete order: %w", apperr.ErrForbidden)
	}

	ord, err := s.orderRepo.Get(ctx, orderID)
	if err != nil {
		return err
	}

	if ord.Status == order.StatusPending {
		return s.cancel(ctx, orderID, reasonAdminDelete)
	}

	if err := s.orderRepo.Delete(ctx, orderID); err != nil {
		return fmt.Errorf("failed to delete order %s: %w", orderID, err)
	}

	return nil
}
