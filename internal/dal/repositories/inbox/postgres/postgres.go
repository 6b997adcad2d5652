package postgresrepo

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/corray333/backend-labs/fulfillment/internal/dal/postgres"
)

// InboxRepository implements the inbox repository for PostgreSQL.
type InboxRepository struct {
	db postgres.DB
}

// NewInboxRepository creates a new inbox repository.
func NewInboxRepository(db postgres.DB) *InboxRepository {
	return &InboxRepository{
		db: db,
	}
}

// Claim inserts the (consumer, message_id) pair; a conflict means the message was seen before.
func (r *InboxRepository) Claim(ctx context.Context, consumer, messageID string) (bool, error) {
	query, args, err := sq.Insert("inbox").
		Columns("consumer", "message_id", "processed_at").
		Values(consumer, messageID, time.Now()).
		Suffix("ON CONFLICT (consumer, message_id) DO NOTHING").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build insert query: %w", err)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to insert inbox message: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// Release deletes the claim of a message whose processing failed.
func (r *InboxRepository) Release(ctx context.Context, consumer, messageID string) error {
	query, args, err := sq.Delete("inbox").
		Where(sq.Eq{"consumer": consumer, "message_id": messageID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete query: %w", err)
	}

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to release inbox message: %w", err)
	}

	return nil
}

// PurgeOlderThan removes claims processed before the given time.
func (r *InboxRepository) PurgeOlderThan(ctx context.Context, before time.Time) (int64, error) {
	query, args, err := sq.Delete("inbox").
		Where(sq.Lt{"processed_at": before}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build delete query: %w", err)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to purge inbox messages: %w", err)
	}

	return tag.RowsAffected(), nil
}
