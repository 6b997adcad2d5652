package iorderrepo

import (
	"context"
	"time"

	"github.com/corray333/backend-labs/fulfillment/internal/service/models/order"
)

// IOrderRepository defines the interface for order persistence.
type IOrderRepository interface {
	// Create stores the order together with its items.
	Create(ctx context.Context, o order.Order) error

	// Get returns the order with its items or apperr.ErrNotFound.
	Get(ctx context.Context, id string) (order.Order, error)

	// CompareAndSetStatus moves the order from one status to another.
	// It reports false when the order is missing or not in the expected status.
	CompareAndSetStatus(ctx context.Context, id string, from, to order.Status) (bool, error)

	// Delete removes the order and its items.
	Delete(ctx context.Context, id string) error

	// ClaimStalePending marks up to limit PENDING orders created before olderThan as having had their
	// expiry requested at now and returns them, oldest first, without items. An order is claimed again
	// only once its previous request is older than olderThan, and concurrent callers never get the same order.
	ClaimStalePending(ctx context.Context, olderThan, now time.Time, limit int) ([]order.Order, error)
}
