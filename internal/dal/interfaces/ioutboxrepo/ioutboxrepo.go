package ioutboxrepo

import (
	"context"
	"time"

	"github.com/corray333/backend-labs/fulfillment/internal/service/models/outbox"
)

// IOutboxRepository stores events waiting to be published again.
type IOutboxRepository interface {
	// Insert parks a message that could not be published.
	Insert(ctx context.Context, msg outbox.OutboxMessage) error

	// ClaimDue returns up to limit due messages that still have retries left and pushes their next
	// retry to now+lease, so competing workers do not send the same message while it is in flight.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]outbox.OutboxMessage, error)

	// Delete removes a message once it has been published.
	Delete(ctx context.Context, id int64) error

	// Reschedule records a failed attempt and when to try again.
	Reschedule(ctx context.Context, id int64, retryCount int, lastError string, nextRetryAt time.Time) error
}
