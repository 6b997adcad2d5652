package outbox

import (
	"time"
)

// OutboxMessage is a saga event the broker did not accept when it was published.
// It keeps everything needed to publish it again, including the trace headers.
type OutboxMessage struct {
	ID          int64
	MessageID   string
	QueueName   string
	Payload     []byte
	ContentType string
	Headers     map[string]string
	RetryCount  int
	MaxRetries  int
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	NextRetryAt time.Time
}

