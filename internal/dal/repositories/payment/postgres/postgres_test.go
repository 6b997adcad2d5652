package postgresrepo

import (
	"context"
	"testing"
	"time"

	"github.com/corray333/backend-labs/fulfillment/internal/service/models/apperr"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/payment"
	"github.com/jackc/pgx/v5"
	pgxmockv3 "github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rowColumns = []string{"id", "order_id", "user_id", "amount", "status", "method", "expires_at", "created_at", "updated_at"}

func newMockRepository(t *testing.T) (*PaymentRepository, pgxmockv3.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmockv3.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	return NewPaymentRepository(mock), mock
}

func TestCreate(t *testing.T) {
	repo, mock := newMockRepository(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	p := payment.Payment{
		ID:        "pay-1",
		OrderID:   "ord-1",
		UserID:    "user-1",
		Amount:    decimal.RequireFromString("59.98"),
		Status:    payment.StatusPending,
		Method:    payment.DefaultMethod,
		ExpiresAt: now.Add(10 * time.Minute),
		CreatedAt: now,
		UpdatedAt: now,
	}

	mock.ExpectExec("INSERT INTO payments").
		WithArgs("pay-1", "ord-1", "user-1", "59.98", "PENDING", "CREDIT_CARD", p.ExpiresAt, now, now).
		WillReturnResult(pgxmockv3.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), p))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGet(t *testing.T) {
	repo, mock := newMockRepository(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT id, order_id, user_id, amount::text, status, method, expires_at, created_at, updated_at FROM payments WHERE id = \\$1").
		WithArgs("pay-1").
		WillReturnRows(pgxmockv3.NewRows(rowColumns).
			AddRow("pay-1", "ord-1", "user-1", "12.50", "PAID", "CREDIT_CARD", now, now, now))

	p, err := repo.Get(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPaid, p.Status)
	assert.True(t, decimal.RequireFromString("12.5").Equal(p.Amount))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery("FROM payments").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCompareAndSetStatus(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec("UPDATE payments SET status = \\$1, updated_at = \\$2 WHERE id = \\$3 AND status = \\$4").
		WithArgs("PAID", pgxmockv3.AnyArg(), "pay-1", "PENDING").
		WillReturnResult(pgxmockv3.NewResult("UPDATE", 1))

	ok, err := repo.CompareAndSetStatus(context.Background(), "pay-1", payment.StatusPending, payment.StatusPaid)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMethodNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec("UPDATE payments SET method = \\$1").
		WithArgs("PAYPAL", pgxmockv3.AnyArg(), "missing").
		WillReturnResult(pgxmockv3.NewResult("UPDATE", 0))

	err := repo.UpdateMethod(context.Background(), "missing", "PAYPAL")
	require.ErrorIs(t, err, apperr.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExpirePending(t *testing.T) {
	repo, mock := newMockRepository(t)
	now := time.Now().UTC()

	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WithArgs("CANCELED", now, "PENDING", 50).
		WillReturnRows(pgxmockv3.NewRows(rowColumns).
			AddRow("pay-1", "ord-1", "user-1", "10.00", "CANCELED", "CREDIT_CARD", now.Add(-time.Second), now, now).
			AddRow("pay-2", "ord-2", "user-2", "3.00", "CANCELED", "CREDIT_CARD", now.Add(-time.Minute), now, now))

	expired, err := repo.ExpirePending(context.Background(), now, 50)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, payment.StatusCanceled, expired[0].Status)
	assert.Equal(t, "ord-2", expired[1].OrderID)
	require.NoError(t, mock.ExpectationsWereMet())
}
