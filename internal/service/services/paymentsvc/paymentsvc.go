package paymentsvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/corray333/backend-labs/fulfillment/internal/dal/interfaces/ipaymentrepo"
	"github.com/corray333/backend-labs/fulfillment/internal/metrics"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/apperr"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/events"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/identity"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/payment"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	minMethodLength = 3
	maxMethodLength = 50
)

type priceSource interface {
	GetPrice(ctx context.Context, productID string) (decimal.Decimal, error)
}

type publisher interface {
	Publish(ctx context.Context, evt events.Event) error
}

// PaymentService opens payments for new orders and settles them.
type PaymentService struct {
	paymentRepo ipaymentrepo.IPaymentRepository
	prices      priceSource
	publisher   publisher
	metrics     *metrics.Saga
	timeout     time.Duration
	now         func() time.Time
}

// option is a function that configures the PaymentService.
type option func(*PaymentService)

// MustNewPaymentService creates a new PaymentService.
func MustNewPaymentService(opts ...option) *PaymentService {
	s := &PaymentService{
		timeout: 10 * time.Minute,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.paymentRepo == nil || s.prices == nil || s.publisher == nil {
		panic("paymentsvc: payment repository, price source and publisher are required")
	}

	return s
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithPaymentRepository(repo ipaymentrepo.IPaymentRepository) option {
	return func(s *PaymentService) {
		s.paymentRepo = repo
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithPriceSource(prices priceSource) option {
	return func(s *PaymentService) {
		s.prices = prices
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithPublisher(p publisher) option {
	return func(s *PaymentService) {
		s.publisher = p
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithMetrics(m *metrics.Saga) option {
	return func(s *PaymentService) {
		s.metrics = m
	}
}

// WithTimeout sets how long a payment may stay PENDING.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithTimeout(d time.Duration) option {
	return func(s *PaymentService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithClock(now func() time.Time) option {
	return func(s *PaymentService) {
		s.now = now
	}
}

// HandleOrderPaymentRequested opens a PENDING payment for the order at current prices.
// When the payment cannot be opened the order is expired instead.
func (s *PaymentService) HandleOrderPaymentRequested(ctx context.Context, evt events.OrderPaymentRequested) error {
	ctx, span := otel.Tracer("paymentsvc").Start(ctx, "PaymentService.HandleOrderPaymentRequested")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", evt.OrderID))

	p, err := s.openPayment(ctx, evt)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to open payment, expiring order", "order_id", evt.OrderID, "error", err)

		if pubErr := s.publisher.Publish(ctx, events.OrderExpired{OrderID: evt.OrderID}); pubErr != nil {
			return fmt.Errorf("failed to expire order %s: %w", evt.OrderID, errors.Join(err, pubErr))
		}

		return err
	}

	s.notify(ctx, p)

	slog.InfoContext(ctx, "Payment opened",
		"payment_id", p.ID,
		"order_id", p.OrderID,
		"amount", p.Amount.StringFixed(2),
		"expires_at", p.ExpiresAt,
	)

	return nil
}

func (s *PaymentService) openPayment(ctx context.Context, evt events.OrderPaymentRequested) (payment.Payment, error) {
	if len(evt.OrderItems) == 0 {
		return payment.Payment{}, apperr.Validation("order %s has no items", evt.OrderID)
	}

	amount := decimal.Zero
	for _, item := range evt.OrderItems {
		price, err := s.prices.GetPrice(ctx, item.ProductID)
		if err != nil {
			return payment.Payment{}, fmt.Errorf("failed to get price of product %s: %w", item.ProductID, err)
		}
		amount = amount.Add(price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	now := s.now()
	p := payment.Payment{
		ID:        uuid.NewString(),
		OrderID:   evt.OrderID,
		UserID:    evt.UserID,
		Amount:    amount,
		Status:    payment.StatusPending,
		Method:    payment.DefaultMethod,
		ExpiresAt: now.Add(s.timeout),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.paymentRepo.Create(ctx, p); err != nil {
		return payment.Payment{}, fmt.Errorf("failed to create payment: %w", err)
	}

	return p, nil
}

// Webhook settles a PENDING payment with the status reported by the payment gateway.
// Replaying the status a payment already has changes nothing, but a settled status is announced to
// the order orchestrator again in case the first announcement was lost.
func (s *PaymentService) Webhook(ctx context.Context, paymentID, status string) (payment.Payment, error) {
	ctx, span := otel.Tracer("paymentsvc").Start(ctx, "PaymentService.Webhook")
	defer span.End()

	if _, err := uuid.Parse(paymentID); err != nil {
		return payment.Payment{}, apperr.Validation("payment id %q is not a UUID", paymentID)
	}
	next, err := payment.ParseStatus(status)
	if err != nil {
		return payment.Payment{}, apperr.Validation("unknown payment status %q", status)
	}

	p, err := s.paymentRepo.Get(ctx, paymentID)
	if err != nil {
		return payment.Payment{}, err
	}

	if p.Status == next {
		if next == payment.StatusPending {
			return p, nil
		}
		if err := s.announce(ctx, p); err != nil {
			return payment.Payment{}, err
		}

		return p, nil
	}
	if p.Status != payment.StatusPending {
		return payment.Payment{}, fmt.Errorf("payment %s from %s to %s: %w", paymentID, p.Status, next, apperr.ErrInvalidTransition)
	}

	if _, err := payment.OrderStatus(next); err != nil {
		return payment.Payment{}, err
	}

	ok, err := s.paymentRepo.CompareAndSetStatus(ctx, paymentID, payment.StatusPending, next)
	if err != nil {
		return payment.Payment{}, fmt.Errorf("failed to update payment status: %w", err)
	}
	if !ok {
		return payment.Payment{}, fmt.Errorf("payment %s changed concurrently: %w", paymentID, apperr.ErrInvalidTransition)
	}

	p.Status = next
	p.UpdatedAt = s.now()

	s.notify(ctx, p)

	if err := s.announce(ctx, p); err != nil {
		return payment.Payment{}, err
	}

	slog.InfoContext(ctx, "Payment settled", "payment_id", p.ID, "order_id", p.OrderID, "status", p.Status)

	return p, nil
}

// announce publishes the order status implied by the payment's status.
func (s *PaymentService) announce(ctx context.Context, p payment.Payment) error {
	orderStatus, err := payment.OrderStatus(p.Status)
	if err != nil {
		return err
	}

	err = s.publisher.Publish(ctx, events.PaymentStatusUpdate{OrderID: p.OrderID, Status: orderStatus.String()})
	if err != nil {
		return fmt.Errorf("failed to publish status of order %s: %w", p.OrderID, err)
	}

	return nil
}

// HandleOrderCanceled cancels the PENDING payments of an order that no longer exists,
// so a late gateway confirmation cannot charge for it.
func (s *PaymentService) HandleOrderCanceled(ctx context.Context, evt events.OrderCanceled) error {
	ctx, span := otel.Tracer("paymentsvc").Start(ctx, "PaymentService.HandleOrderCanceled")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", evt.OrderID))

	payments, err := s.paymentRepo.ListByOrderID(ctx, evt.OrderID)
	if err != nil {
		return fmt.Errorf("failed to list payments of order %s: %w", evt.OrderID, err)
	}

	for _, p := range payments {
		if p.Status != payment.StatusPending {
			continue
		}

		ok, err := s.paymentRepo.CompareAndSetStatus(ctx, p.ID, payment.StatusPending, payment.StatusCanceled)
		if err != nil {
			return fmt.Errorf("failed to cancel payment %s: %w", p.ID, err)
		}
		if !ok {
			continue
		}

		p.Status = payment.StatusCanceled
		p.UpdatedAt = s.now()
		s.notify(ctx, p)

		slog.InfoContext(ctx, "Payment of canceled order voided",
			"payment_id", p.ID,
			"order_id", p.OrderID,
			"reason", evt.Reason,
		)
	}

	return nil
}

// SweepExpiredPayments cancels PENDING payments past their expiry and expires their orders.
// Each payment is claimed by exactly one sweeper, so concurrent instances never double-expire.
func (s *PaymentService) SweepExpiredPayments(ctx context.Context, limit int) (int, error) {
	ctx, span := otel.Tracer("paymentsvc").Start(ctx, "PaymentService.SweepExpiredPayments")
	defer span.End()

	expired, err := s.paymentRepo.ExpirePending(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to expire payments: %w", err)
	}

	for _, p := range expired {
		if err := s.publisher.Publish(ctx, events.OrderExpired{OrderID: p.OrderID}); err != nil {
			slog.ErrorContext(ctx, "Failed to expire order of expired payment",
				"payment_id", p.ID,
				"order_id", p.OrderID,
				"error", err,
			)
		}
		s.notify(ctx, p)
	}

	s.metrics.PaymentsExpired(len(expired))
	if len(expired) > 0 {
		slog.InfoContext(ctx, "Expired payments canceled", "count", len(expired))
	}

	return len(expired), nil
}

// GetPayment returns a payment to its owner or an administrator.
func (s *PaymentService) GetPayment(ctx context.Context, caller identity.Identity, paymentID string) (payment.Payment, error) {
	p, err := s.paymentRepo.Get(ctx, paymentID)
	if err != nil {
		return payment.Payment{}, err
	}

	if !caller.CanAccess(p.UserID) {
		return payment.Payment{}, fmt.Errorf("payment %s: %w", paymentID, apperr.ErrForbidden)
	}

	return p, nil
}

// UpdatePaymentMethod lets the owner change how a PENDING payment will be charged.
func (s *PaymentService) UpdatePaymentMethod(
	ctx context.Context,
	caller identity.Identity,
	paymentID string,
	method string,
) (payment.Payment, error) {
	if len(method) < minMethodLength || len(method) > maxMethodLength {
		return payment.Payment{}, apperr.Validation("payment method must be %d to %d characters", minMethodLength, maxMethodLength)
	}

	p, err := s.paymentRepo.Get(ctx, paymentID)
	if err != nil {
		return payment.Payment{}, err
	}

	if caller.UserID == "" || caller.UserID != p.UserID {
		return payment.Payment{}, fmt.Errorf("payment %s: %w", paymentID, apperr.ErrForbidden)
	}
	if p.Status != payment.StatusPending {
		return payment.Payment{}, fmt.Errorf("payment %s is %s: %w", paymentID, p.Status, apperr.ErrInvalidTransition)
	}

	if err := s.paymentRepo.UpdateMethod(ctx, paymentID, method); err != nil {
		return payment.Payment{}, fmt.Errorf("failed to update payment method: %w", err)
	}

	p.Method = method
	p.UpdatedAt = s.now()

	return p, nil
}

func (s *PaymentService) notify(ctx context.Context, p payment.Payment) {
	err := s.publisher.Publish(ctx, events.PaymentNotification{
		PaymentID: p.ID,
		UserID:    p.UserID,
		Status:    p.Status.String(),
		Amount:    p.Amount,
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to publish payment notification", "payment_id", p.ID, "error", err)
	}
}
