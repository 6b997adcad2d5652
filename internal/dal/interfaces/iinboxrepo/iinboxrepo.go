package iinboxrepo

import (
	"context"
	"time"
)

// IInboxRepository records which messages each consumer has already processed.
type IInboxRepository interface {
	// Claim marks the message as processed by consumer.
	// It reports false when the message had already been claimed.
	Claim(ctx context.Context, consumer, messageID string) (bool, error)

	// Release forgets a claim so the message can be processed again.
	Release(ctx context.Context, consumer, messageID string) error

	// PurgeOlderThan deletes claims recorded before the given time.
	PurgeOlderThan(ctx context.Context, before time.Time) (int64, error)
}
