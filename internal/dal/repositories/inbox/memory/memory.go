package memoryrepo

import (
	"context"
	"sync"
	"time"

	"github.com/corray333/backend-labs/fulfillment/internal/service/models/inbox"
)

type key struct {
	consumer  string
	messageID string
}

// InboxRepository keeps processed message claims in process memory.
type InboxRepository struct {
	mu        sync.Mutex
	processed map[key]inbox.ProcessedMessage
}

func NewInboxRepository() *InboxRepository {
	return &InboxRepository{
		processed: make(map[key]inbox.ProcessedMessage),
	}
}

func (r *InboxRepository) Claim(_ context.Context, consumer, messageID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{consumer: consumer, messageID: messageID}
	if _, ok := r.processed[k]; ok {
		return false, nil
	}
	r.processed[k] = inbox.ProcessedMessage{Consumer: consumer, MessageID: messageID, ProcessedAt: time.Now()}

	return true, nil
}

func (r *InboxRepository) Release(_ context.Context, consumer, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.processed, key{consumer: consumer, messageID: messageID})

	return nil
}

func (r *InboxRepository) PurgeOlderThan(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for k, msg := range r.processed {
		if msg.ProcessedAt.Before(before) {
			delete(r.processed, k)
			n++
		}
	}

	return n, nil
}
