package ipaymentrepo

import (
	"context"
	"time"

	"github.com/corray333/backend-labs/fulfillment/internal/service/models/payment"
)

// IPaymentRepository defines the interface for payment persistence.
type IPaymentRepository interface {
	Create(ctx context.Context, p payment.Payment) error

	// Get returns the payment or apperr.ErrNotFound.
	Get(ctx context.Context, id string) (payment.Payment, error)

	ListByOrderID(ctx context.Context, orderID string) ([]payment.Payment, error)

	// CompareAndSetStatus reports false when the payment is missing or not in the expected status.
	CompareAndSetStatus(ctx context.Context, id string, from, to payment.Status) (bool, error)

	UpdateMethod(ctx context.Context, id string, method string) error

	// ExpirePending atomically cancels up to limit PENDING payments whose expiry is not after now
	// and returns them. A payment is returned by at most one caller.
	ExpirePending(ctx context.Context, now time.Time, limit int) ([]payment.Payment, error)
}
