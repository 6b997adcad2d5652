package ordersvc

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/corray333/backend-labs/fulfillment/internal/dal/productclient"
	memoryrepo "github.com/corray333/backend-labs/fulfillment/internal/dal/repositories/order/memory"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/apperr"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/events"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/identity"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/order"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/orderitem"
	"github.com/corray333/backend-labs/fulfillment/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	admin = identity.Identity{UserID: "admin-1", Role: identity.RoleAdmin}
	alice = identity.Identity{UserID: "u1", Role: identity.RoleUser}
	bob   = identity.Identity{UserID: "u2", Role: identity.RoleUser}
)

type fixture struct {
	svc      *OrderService
	repo     *memoryrepo.OrderRepository
	products *testutil.ProductService
	bus      *testutil.Bus
}

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()

	f := &fixture{
		repo:     memoryrepo.NewOrderRepository(),
		products: testutil.NewProductService(t),
		bus:      testutil.NewBus(),
	}
	f.products.AddProduct("p1", 10, "5.00")
	f.products.AddProduct("p2", 3, "2.50")

	stock := productclient.New(
		productclient.WithBaseURL(f.products.URL()),
		productclient.WithAPIKey(testutil.TestAPIKey),
	)

	opts = append([]option{
		WithOrderRepository(f.repo),
		WithStockLedger(stock),
		WithPublisher(f.bus),
	}, opts...)
	f.svc = MustNewOrderService(opts...)

	return f
}

func items(pairs ...any) []orderitem.OrderItem {
	var out []orderitem.OrderItem
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, orderitem.OrderItem{ProductID: pairs[i].(string), Quantity: pairs[i+1].(int)})
	}

	return out
}

type failingCreateRepo struct {
	*memoryrepo.OrderRepository
}

func (failingCreateRepo) Create(context.Context, order.Order) error {
	return errors.New("db down")
}

func TestMustNewOrderServicePanicsWithoutDependencies(t *testing.T) {
	assert.Panics(t, func() { MustNewOrderService() })
}

func TestCreateOrderReservesStockAndRequestsPayment(t *testing.T) {
	f := newFixture(t)

	ord, err := f.svc.CreateOrder(context.Background(), "u1", items("p1", 2, "p2", 1))
	require.NoError(t, err)

	assert.NotEmpty(t, ord.ID)
	assert.Equal(t, order.StatusPending, ord.Status)
	assert.Equal(t, 8, f.products.Stock("p1"))
	assert.Equal(t, 2, f.products.Stock("p2"))

	stored, err := f.repo.Get(context.Background(), ord.ID)
	require.NoError(t, err)
	assert.Equal(t, ord.Items, stored.Items)

	requested := f.bus.Take(events.QueueOrderPayment)
	require.Len(t, requested, 1)
	assert.Equal(t, events.OrderPaymentRequested{
		OrderID:    ord.ID,
		UserID:     "u1",
		OrderItems: items("p1", 2, "p2", 1),
	}, requested[0])
}

func TestCreateOrderMergesDuplicateProducts(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateOrder(context.Background(), "u1", items("p2", 2, "p2", 2))
	require.ErrorIs(t, err, apperr.ErrInsufficientStock)
	assert.Equal(t, 3, f.products.Stock("p2"))

	_, err = f.svc.CreateOrder(context.Background(), "u1", items("p1", 2, "p1", 3))
	require.NoError(t, err)
	assert.Equal(t, 5, f.products.Stock("p1"))
	assert.Equal(t, []string{"GET p2", "GET p1", "PUT p1"}, f.products.Calls())
}

func TestCreateOrderRejectsBeforeMutating(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		items  []orderitem.OrderItem
		err    error
	}{
		{name: "no items", userID: "u1", err: apperr.ErrValidation},
		{name: "zero quantity", userID: "u1", items: items("p1", 0), err: apperr.ErrValidation},
		{name: "no user", items: items("p1", 1), err: apperr.ErrValidation},
		{name: "unknown product", userID: "u1", items: items("p1", 1, "nope", 1), err: apperr.ErrProductNotFound},
		{name: "insufficient stock", userID: "u1", items: items("p1", 1, "p2", 4), err: apperr.ErrInsufficientStock},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			_, err := f.svc.CreateOrder(context.Background(), tt.userID, tt.items)
			require.ErrorIs(t, err, tt.err)

			assert.Equal(t, 10, f.products.Stock("p1"))
			assert.Equal(t, 3, f.products.Stock("p2"))
			assert.Empty(t, f.bus.Events())
			for _, call := range f.products.Calls() {
				assert.NotContains(t, call, "PUT")
			}
		})
	}
}

func TestCreateOrderRollsBackPartialReservation(t *testing.T) {
	f := newFixture(t)
	f.products.Fail(http.MethodPut, "p2", http.StatusServiceUnavailable)

	_, err := f.svc.CreateOrder(context.Background(), "u1", items("p1", 4, "p2", 1))

	var upstream *apperr.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusServiceUnavailable, upstream.StatusCode)
	assert.Equal(t, 10, f.products.Stock("p1"))
	assert.Equal(t, 3, f.products.Stock("p2"))
	assert.Empty(t, f.bus.Events())
}

func TestCreateOrderRollsBackWhenOrderCannotBeStored(t *testing.T) {
	f := newFixture(t)
	f.svc.orderRepo = failingCreateRepo{f.repo}

	_, err := f.svc.CreateOrder(context.Background(), "u1", items("p1", 4, "p2", 3))
	require.Error(t, err)

	assert.Equal(t, 10, f.products.Stock("p1"))
	assert.Equal(t, 3, f.products.Stock("p2"))
	assert.Empty(t, f.bus.Events())
}

func TestCreateOrderSucceedsWhenPaymentRequestIsLost(t *testing.T) {
	f := newFixture(t)
	f.bus.FailWith(errors.New("broker down"))

	ord, err := f.svc.CreateOrder(context.Background(), "u1", items("p1", 1))
	require.NoError(t, err)

	stored, err := f.repo.Get(context.Background(), ord.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, stored.Status)
	assert.Equal(t, 9, f.products.Stock("p1"))
}

func TestHandlePaymentStatusUpdateConfirms(t *testing.T) {
	f := newFixture(t)
	ord, err := f.svc.CreateOrder(context.Background(), "u1", items("p1", 2))
	require.NoError(t, err)

	evt := events.PaymentStatusUpdate{OrderID: ord.ID, Status: "CONFIRMED"}
	require.NoError(t, f.svc.HandlePaymentStatusUpdate(context.Background(), evt))
	require.NoError(t, f.svc.HandlePaymentStatusUpdate(context.Background(), evt))

	stored, err := f.repo.Get(context.Background(), ord.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, stored.Status)

	// A late cancellation must not undo a confirmed order.
	canceled := events.PaymentStatusUpdate{OrderID: ord.ID, Status: "CANCELED"}
	require.NoError(t, f.svc.HandlePaymentStatusUpdate(context.Background(), canceled))
	require.NoError(t, f.svc.HandleOrderExpired(context.Background(), events.OrderExpired{OrderID: ord.ID}))

	stored, err = f.repo.Get(context.Background(), ord.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, stored.Status)
	assert.Equal(t, 8, f.products.Stock("p1"))
}

func TestHandlePaymentStatusUpdateCancelsOnce(t *testing.T) {
	f := newFixture(t)
	ord, err := f.svc.CreateOrder(context.Background(), "u1", items("p1", 2, "p2", 3))
	require.NoError(t, err)
	require.Equal(t, 0, f.products.Stock("p2"))

	evt := events.PaymentStatusUpdate{OrderID: ord.ID, Status: "CANCELED"}
	require.NoError(t, f.svc.HandlePaymentStatusUpdate(context.Background(), evt))
	require.NoError(t, f.svc.HandlePaymentStatusUpdate(context.Background(), evt))
	require.NoError(t, f.svc.HandleOrderExpired(context.Background(), events.OrderExpired{OrderID: ord.ID}))

	_, err = f.repo.Get(context.Background(), ord.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, 10, f.products.Stock("p1"))
	assert.Equal(t, 3, f.products.Stock("p2"))
	assert.Equal(t,
		[]events.Event{events.OrderCanceled{OrderID: ord.ID, Reason: "payment_canceled"}},
		f.bus.Take(events.QueueOrderCanceled),
	)
}

func TestHandlePaymentStatusUpdatePendingIsNoop(t *testing.T) {
	f := newFixture(t)
	ord, err := f.svc.CreateOrder(context.Background(), "u1", items("p1", 1))
	require.NoError(t, err)

	evt := events.PaymentStatusUpdate{OrderID: ord.ID, Status: "PENDING"}
	require.NoError(t, f.svc.HandlePaymentStatusUpdate(context.Background(), evt))

	stored, err := f.repo.Get(context.Background(), ord.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, stored.Status)
}

func TestHandlePaymentStatusUpdateRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)

	err := f.svc.HandlePaymentStatusUpdate(context.Background(), events.PaymentStatusUpdate{OrderID: "o", Status: "REFUNDED"})
	require.ErrorIs(t, err, apperr.ErrUnknownStatus)

	err = f.svc.HandlePaymentStatusUpdate(context.Background(), events.PaymentStatusUpdate{OrderID: "o", Status: "SHIPPED"})
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestHandleOrderExpiredIgnoresMissingOrder(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.HandleOrderExpired(context.Background(), events.OrderExpired{OrderID: "missing"}))
	assert.Empty(t, f.products.Calls())
}

func TestCancelKeepsGoingWhenRestoreFails(t *testing.T) {
	f := newFixture(t)
	ord, err := f.svc.CreateOrder(context.Background(), "u1", items("p1", 2, "p2", 1))
	require.NoError(t, err)

	f.products.Fail(http.MethodPatch, "p1", http.StatusInternalServerError)
	require.NoError(t, f.svc.HandleOrderExpired(context.Background(), events.OrderExpired{OrderID: ord.ID}))

	_, err = f.repo.Get(context.Background(), ord.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, 8, f.products.Stock("p1"))
	assert.Equal(t, 3, f.products.Stock("p2"))
}

func TestSweepStaleOrders(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, WithClock(func() time.Time { return now }), WithStaleAfter(10*time.Minute))

	old, err := f.svc.CreateOrder(context.Background(), "u1", items("p1", 1))
	require.NoError(t, err)

	now = now.Add(9 * time.Minute)
	fresh, err := f.svc.CreateOrder(context.Background(), "u1", items("p1", 1))
	require.NoError(t, err)
	f.bus.Take(events.QueueOrderPayment)

	now = now.Add(2 * time.Minute)
	n, err := f.svc.SweepStaleOrders(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	expired := f.bus.Take(events.QueueOrderExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, events.OrderExpired{OrderID: old.ID}, expired[0])
	assert.NotEqual(t, fresh.ID, old.ID)

	n, err = f.svc.SweepStaleOrders(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, n, "an order already asked to expire is not asked again right away")
	assert.Empty(t, f.bus.Take(events.QueueOrderExpired))

	now = now.Add(10 * time.Minute)
	n, err = f.svc.SweepStaleOrders(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "the request is repeated once it goes stale itself")
	assert.Len(t, f.bus.Take(events.QueueOrderExpired), 2)
}

func TestGetOrder(t *testing.T) {
	f := newFixture(t)
	ord, err := f.svc.CreateOrder(context.Background(), alice.UserID, items("p1", 1))
	require.NoError(t, err)

	got, err := f.svc.GetOrder(context.Background(), alice, ord.ID)
	require.NoError(t, err)
	assert.Equal(t, ord.ID, got.ID)

	_, err = f.svc.GetOrder(context.Background(), admin, ord.ID)
	require.NoError(t, err)

	_, err = f.svc.GetOrder(context.Background(), bob, ord.ID)
	require.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.svc.GetOrder(context.Background(), alice, "missing")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdateOrderStatus(t *testing.T) {
	f := newFixture(t)
	ord, err := f.svc.CreateOrder(context.Background(), alice.UserID, items("p1", 1))
	require.NoError(t, err)

	_, err = f.svc.UpdateOrderStatus(context.Background(), alice, ord.ID, order.StatusShipped)
	require.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.svc.UpdateOrderStatus(context.Background(), admin, ord.ID, order.StatusShipped)
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)

	require.NoError(t, f.svc.HandlePaymentStatusUpdate(context.Background(),
		events.PaymentStatusUpdate{OrderID: ord.ID, Status: "CONFIRMED"}))

	_, err = f.svc.UpdateOrderStatus(context.Background(), admin, ord.ID, order.StatusDelivered)
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)

	updated, err := f.svc.UpdateOrderStatus(context.Background(), admin, ord.ID, order.StatusShipped)
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipped, updated.Status)

	updated, err = f.svc.UpdateOrderStatus(context.Background(), admin, ord.ID, order.StatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, order.StatusDelivered, updated.Status)
}

func TestDeleteOrder(t *testing.T) {
	f := newFixture(t)
	pending, err := f.svc.CreateOrder(context.Background(), alice.UserID, items("p1", 4))
	require.NoError(t, err)
	confirmed, err := f.svc.CreateOrder(context.Background(), alice.UserID, items("p2", 1))
	require.NoError(t, err)
	require.NoError(t, f.svc.HandlePaymentStatusUpdate(context.Background(),
		events.PaymentStatusUpdate{OrderID: confirmed.ID, Status: "CONFIRMED"}))

	require.ErrorIs(t, f.svc.DeleteOrder(context.Background(), alice, pending.ID), apperr.ErrForbidden)

	require.NoError(t, f.svc.DeleteOrder(context.Background(), admin, pending.ID))
	assert.Equal(t, 10, f.products.Stock("p1"))
	assert.Equal(t,
		[]events.Event{events.OrderCanceled{OrderID: pending.ID, Reason: "admin_delete"}},
		f.bus.Take(events.QueueOrderCanceled),
	)

	require.NoError(t, f.svc.DeleteOrder(context.Background(), admin, confirmed.ID))
	assert.Equal(t, 2, f.products.Stock("p2"))

	require.ErrorIs(t, f.svc.DeleteOrder(context.Background(), admin, confirmed.ID), apperr.ErrNotFound)
}
