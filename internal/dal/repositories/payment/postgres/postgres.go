package postgresrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/corray333/backend-labs/fulfillment/internal/dal/postgres"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/apperr"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/payment"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var columns = []string{
	"id", "order_id", "user_id", "amount::text", "status", "method", "expires_at", "created_at", "updated_at",
}

// expirePendingSQL cancels due payments. SKIP LOCKED lets competing sweepers split the work without
// returning the same row twice.
const expirePendingSQL = `
UPDATE payments
SET status = $1, updated_at = $2
WHERE id IN (
    SELECT id FROM payments
    WHERE status = $3 AND expires_at <= $2
    ORDER BY expires_at
    LIMIT $4
    FOR UPDATE SKIP LOCKED
)
RETURNING id, order_id, user_id, amount::text, status, method, expires_at, created_at, updated_at`

// PaymentRepository implements ipaymentrepo.IPaymentRepository on PostgreSQL.
type PaymentRepository struct {
	db postgres.DB
}

func NewPaymentRepository(db postgres.DB) *PaymentRepository {
	return &PaymentRepository{
		db: db,
	}
}

func (r *PaymentRepository) Create(ctx context.Context, p payment.Payment) error {
	query, args, err := psql.Insert("payments").
		Columns("id", "order_id", "user_id", "amount", "status", "method", "expires_at", "created_at", "updated_at").
		Values(p.ID, p.OrderID, p.UserID, p.Amount.String(), p.Status.String(), p.Method, p.ExpiresAt, p.CreatedAt, p.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert payment query: %w", err)
	}

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}

	return nil
}

func (r *PaymentRepository) Get(ctx context.Context, id string) (payment.Payment, error) {
	query, args, err := psql.Select(columns...).
		From("payments").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return payment.Payment{}, fmt.Errorf("failed to build select payment query: %w", err)
	}

	p, err := scanPayment(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return payment.Payment{}, fmt.Errorf("payment %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return payment.Payment{}, fmt.Errorf("failed to select payment: %w", err)
	}

	return p, nil
}

func (r *PaymentRepository) ListByOrderID(ctx context.Context, orderID string) ([]payment.Payment, error) {
	query, args, err := psql.Select(columns...).
		From("payments").
		Where(sq.Eq{"order_id": orderID}).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select payments query: %w", err)
	}

	return r.queryPayments(ctx, query, args...)
}

func (r *PaymentRepository) CompareAndSetStatus(ctx context.Context, id string, from, to payment.Status) (bool, error) {
	query, args, err := psql.Update("payments").
		Set("status", to.String()).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"id": id, "status": from.String()}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build update payment status query: %w", err)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update payment status: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *PaymentRepository) UpdateMethod(ctx context.Context, id string, method string) error {
	query, args, err := psql.Update("payments").
		Set("method", method).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update payment method query: %w", err)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update payment method: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment %s: %w", id, apperr.ErrNotFound)
	}

	return nil
}

func (r *PaymentRepository) ExpirePending(ctx context.Context, now time.Time, limit int) ([]payment.Payment, error) {
	return r.queryPayments(ctx, expirePendingSQL,
		payment.StatusCanceled.String(),
		now,
		payment.StatusPending.String(),
		limit,
	)
}

func (r *PaymentRepository) queryPayments(ctx context.Context, query string, args ...any) ([]payment.Payment, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []payment.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payments: %w", err)
	}

	return payments, nil
}

func scanPayment(row pgx.Row) (payment.Payment, error) {
	var (
		p      payment.Payment
		amount string
		status string
	)

	err := row.Scan(&p.ID, &p.OrderID, &p.UserID, &amount, &status, &p.Method, &p.ExpiresAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return payment.Payment{}, err
	}

	p.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return payment.Payment{}, fmt.Errorf("failed to parse amount %q: %w", amount, err)
	}

	p.Status, err = payment.ParseStatus(status)
	if err != nil {
		return payment.Payment{}, err
	}

	return p, nil
}
