package postgresrepo

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/corray333/backend-labs/fulfillment/internal/dal/postgres"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/outbox"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// claimDueSQL leases due messages to one worker. SKIP LOCKED keeps competing instances from
// picking the same rows, and the moved next_retry_at keeps them hidden until the lease ends.
const claimDueSQL = `
UPDATE outbox
SET next_retry_at = $1, updated_at = $2
WHERE id IN (
    SELECT id FROM outbox
    WHERE next_retry_at <= $2 AND retry_count < max_retries
    ORDER BY next_retry_at
    LIMIT $3
    FOR UPDATE SKIP LOCKED
)
RETURNING id, message_id, queue_name, payload, content_type, headers,
          retry_count, max_retries, last_error, created_at, updated_at, next_retry_at`

// OutboxRepository implements ioutboxrepo.IOutboxRepository on PostgreSQL.
type OutboxRepository struct {
	db postgres.DB
}

// NewOutboxRepository creates a new outbox repository.
func NewOutboxRepository(db postgres.DB) *OutboxRepository {
	return &OutboxRepository{
		db: db,
	}
}

// Insert parks an event for the outbox worker.
func (r *OutboxRepository) Insert(ctx context.Context, msg outbox.OutboxMessage) error {
	headers := msg.Headers
	if headers == nil {
		headers = map[string]string{}
	}

	query, args, err := psql.Insert("outbox").
		Columns("message_id", "queue_name", "payload", "content_type", "headers",
			"max_retries", "last_error", "created_at", "updated_at", "next_retry_at").
		Values(msg.MessageID, msg.QueueName, msg.Payload, msg.ContentType, headers,
			msg.MaxRetries, msg.LastError, msg.CreatedAt, msg.UpdatedAt, msg.NextRetryAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert outbox query: %w", err)
	}

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert outbox message: %w", err)
	}

	return nil
}

// ClaimDue leases due messages to the caller.
func (r *OutboxRepository) ClaimDue(
	ctx context.Context,
	now time.Time,
	lease time.Duration,
	limit int,
) ([]outbox.OutboxMessage, error) {
	rows, err := r.db.Query(ctx, claimDueSQL, now.Add(lease), now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox messages: %w", err)
	}
	defer rows.Close()

	var messages []outbox.OutboxMessage
	for rows.Next() {
		var msg outbox.OutboxMessage
		err := rows.Scan(
			&msg.ID,
			&msg.MessageID,
			&msg.QueueName,
			&msg.Payload,
			&msg.ContentType,
			&msg.Headers,
			&msg.RetryCount,
			&msg.MaxRetries,
			&msg.LastError,
			&msg.CreatedAt,
			&msg.UpdatedAt,
			&msg.NextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox messages: %w", err)
	}

	return messages, nil
}

// Delete drops a published message.
func (r *OutboxRepository) Delete(ctx context.Context, id int64) error {
	query, args, err := psql.Delete("outbox").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete outbox query: %w", err)
	}

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete outbox message: %w", err)
	}

	return nil
}

// Reschedule stores the outcome of a failed attempt.
func (r *OutboxRepository) Reschedule(
	ctx context.Context,
	id int64,
	retryCount int,
	lastError string,
	nextRetryAt time.Time,
) error {
	query, args, err := psql.Update("outbox").
		Set("retry_count", retryCount).
		Set("last_error", lastError).
		Set("next_retry_at", nextRetryAt).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build reschedule outbox query: %w", err)
	}

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to reschedule outbox message: %w", err)
	}

	return nil
}
