package memoryrepo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/corray333/backend-labs/fulfillment/internal/service/models/apperr"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/payment"
)

// PaymentRepository keeps payments in process memory. Used by storage.driver=memory and tests.
type PaymentRepository struct {
	mu       sync.Mutex
	payments map[string]payment.Payment
}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{
		payments: make(map[string]payment.Payment),
	}
}

func (r *PaymentRepository) Create(_ context.Context, p payment.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.payments[p.ID]; ok {
		return fmt.Errorf("payment %s already exists", p.ID)
	}
	r.payments[p.ID] = p

	return nil
}

func (r *PaymentRepository) Get(_ context.Context, id string) (payment.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.payments[id]
	if !ok {
		return payment.Payment{}, fmt.Errorf("payment %s: %w", id, apperr.ErrNotFound)
	}

	return p, nil
}

func (r *PaymentRepository) ListByOrderID(_ context.Context, orderID string) ([]payment.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var payments []payment.Payment
	for _, p := range r.payments {
		if p.OrderID == orderID {
			payments = append(payments, p)
		}
	}
	sort.Slice(payments, func(i, j int) bool { return payments[i].CreatedAt.Before(payments[j].CreatedAt) })

	return payments, nil
}

func (r *PaymentRepository) CompareAndSetStatus(_ context.Context, id string, from, to payment.Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.payments[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	p.UpdatedAt = time.Now()
	r.payments[id] = p

	return true, nil
}

func (r *PaymentRepository) UpdateMethod(_ context.Context, id string, method string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.payments[id]
	if !ok {
		return fmt.Errorf("payment %s: %w", id, apperr.ErrNotFound)
	}
	p.Method = method
	p.UpdatedAt = time.Now()
	r.payments[id] = p

	return nil
}

func (r *PaymentRepository) ExpirePending(_ context.Context, now time.Time, limit int) ([]payment.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []payment.Payment
	for _, p := range r.payments {
		if p.Status == payment.StatusPending && !p.ExpiresAt.After(now) {
			due = append(due, p)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ExpiresAt.Before(due[j].ExpiresAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	for i := range due {
		due[i].Status = payment.StatusCanceled
		due[i].UpdatedAt = now
		r.payments[due[i].ID] = due[i]
	}

	return due, nil
}
