package payment

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/corray333/backend-labs/fulfillment/internal/service/models/apperr"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/order"
	"github.com/shopspring/decimal"
)

// DefaultMethod is assigned to every payment created by the saga.
const DefaultMethod = "CREDIT_CARD"

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusPaid     Status = "PAID"
	StatusFailed   Status = "FAILED"
	StatusCanceled Status = "CANCELED"
)

func (s Status) String() string {
	return string(s)
}

func (s Status) Value() (driver.Value, error) {
	return s.String(), nil
}

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusPaid, StatusFailed, StatusCanceled:
		return Status(s), nil
	default:
		return "", fmt.Errorf("payment status %q: %w", s, apperr.ErrUnknownStatus)
	}
}

// OrderStatus maps a payment status onto the order status it implies.
func OrderStatus(s Status) (order.Status, error) {
	switch s {
	case StatusPaid:
		return order.StatusConfirmed, nil
	case StatusFailed, StatusCanceled:
		return order.StatusCanceled, nil
	case StatusPending:
		return order.StatusPending, nil
	default:
		return "", fmt.Errorf("payment status %q: %w", s, apperr.ErrUnknownStatus)
	}
}

// Payment represents a charge attempt for an order.
type Payment struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"orderId"`
	UserID    string          `json:"userId"`
	Amount    decimal.Decimal `json:"amount"`
	Status    Status          `json:"status"`
	Method    string          `json:"paymentMethod"`
	ExpiresAt time.Time       `json:"expiresAt"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}
