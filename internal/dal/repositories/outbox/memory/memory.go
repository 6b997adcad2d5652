package memoryrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/corray333/backend-labs/fulfillment/internal/service/models/outbox"
)

// OutboxRepository keeps undelivered messages in process memory.
type OutboxRepository struct {
	mu       sync.Mutex
	nextID   int64
	messages map[int64]outbox.OutboxMessage
}

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{
		messages: make(map[int64]outbox.OutboxMessage),
	}
}

func (r *OutboxRepository) Insert(_ context.Context, msg outbox.OutboxMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	msg.ID = r.nextID
	r.messages[msg.ID] = msg

	return nil
}

// ClaimDue leases due messages by pushing their next retry to now+lease.
func (r *OutboxRepository) ClaimDue(_ context.Context, now time.Time, lease time.Duration, limit int) ([]outbox.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []outbox.OutboxMessage
	for _, msg := range r.messages {
		if !msg.NextRetryAt.After(now) && msg.RetryCount < msg.MaxRetries {
			due = append(due, msg)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRetryAt.Before(due[j].NextRetryAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	for i := range due {
		due[i].NextRetryAt = now.Add(lease)
		due[i].UpdatedAt = now
		r.messages[due[i].ID] = due[i]
	}

	return due, nil
}

func (r *OutboxRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.messages, id)

	return nil
}

func (r *OutboxRepository) Reschedule(_ context.Context, id int64, retryCount int, lastError string, nextRetryAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, ok := r.messages[id]
	if !ok {
		return nil
	}
	msg.RetryCount = retryCount
	msg.LastError = lastError
	msg.NextRetryAt = nextRetryAt
	msg.UpdatedAt = time.Now()
	r.messages[id] = msg

	return nil
}

// Get returns a stored message.
func (r *OutboxRepository) Get(id int64) (outbox.OutboxMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, ok := r.messages[id]

	return msg, ok
}

// Len returns the number of stored messages.
func (r *OutboxRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.messages)
}
