package memoryrepo

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/corray333/backend-labs/fulfillment/internal/service/models/apperr"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/order"
)

// OrderRepository keeps orders in process memory. Used by storage.driver=memory and tests.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]order.Order
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders: make(map[string]order.Order),
	}
}

func (r *OrderRepository) Create(_ context.Context, o order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	r.orders[o.ID] = clone(o)

	return nil
}

func (r *OrderRepository) Get(_ context.Context, id string) (order.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return order.Order{}, fmt.Errorf("order %s: %w", id, apperr.ErrNotFound)
	}

	return clone(o), nil
}

func (r *OrderRepository) CompareAndSetStatus(_ context.Context, id string, from, to order.Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = time.Now()
	r.orders[id] = o

	return true, nil
}

func (r *OrderRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.orders, id)

	return nil
}

func (r *OrderRepository) ClaimStalePending(_ context.Context, olderThan, now time.Time, limit int) ([]order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []order.Order
	for _, o := range r.orders {
		if o.Status != order.StatusPending || !o.CreatedAt.Before(olderThan) {
			continue
		}
		if !o.ExpiryRequestedAt.IsZero() && !o.ExpiryRequestedAt.Before(olderThan) {
			continue
		}
		stale = append(stale, o)
	}

	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}

	for i, o := range stale {
		o.ExpiryRequestedAt = now
		r.orders[o.ID] = o

		stale[i].ExpiryRequestedAt = now
		stale[i].Items = nil
	}

	return stale, nil
}

func clone(o order.Order) order.Order {
	o.Items = slices.Clone(o.Items)

	return o
}
