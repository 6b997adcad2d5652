package order

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/corray333/backend-labs/fulfillment/internal/service/models/apperr"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/orderitem"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCanceled  Status = "CANCELED"
	StatusShipped   Status = "SHIPPED"
	StatusDelivered Status = "DELIVERED"
)

func (s Status) String() string {
	return string(s)
}

func (s Status) Value() (driver.Value, error) {
	return s.String(), nil
}

// CanAdvanceTo reports whether an administrator may move an order from s to next.
// Only fulfilment steps after confirmation are allowed; the saga owns PENDING.
func (s Status) CanAdvanceTo(next Status) bool {
	switch s {
	case StatusConfirmed:
		return next == StatusShipped
	case StatusShipped:
		return next == StatusDelivered
	default:
		return false
	}
}

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusConfirmed, StatusCanceled, StatusShipped, StatusDelivered:
		return Status(s), nil
	default:
		return "", fmt.Errorf("order status %q: %w", s, apperr.ErrUnknownStatus)
	}
}

// Order represents a customer's order.
type Order struct {
	ID        string                `json:"id"`
	UserID    string                `json:"userId"`
	Status    Status                `json:"status"`
	Items     []orderitem.OrderItem `json:"orderItems"`
	CreatedAt time.Time             `json:"createdAt"`
	UpdatedAt time.Time             `json:"updatedAt"`

	// ExpiryRequestedAt is when the stale order sweeper last asked for the order to be expired.
	ExpiryRequestedAt time.Time `json:"-"`
}
