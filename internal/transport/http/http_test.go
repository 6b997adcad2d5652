package httptransport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/corray333/backend-labs/fulfillment/internal/dal/productclient"
	ordermemory "github.com/corray333/backend-labs/fulfillment/internal/dal/repositories/order/memory"
	paymentmemory "github.com/corray333/backend-labs/fulfillment/internal/dal/repositories/payment/memory"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/events"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/orderitem"
	"github.com/corray333/backend-labs/fulfillment/internal/service/services/ordersvc"
	"github.com/corray333/backend-labs/fulfillment/internal/service/services/paymentsvc"
	"github.com/corray333/backend-labs/fulfillment/internal/testutil"
	"github.com/corray333/backend-labs/fulfillment/internal/transport/http/auth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   any             `json:"error"`
}

type harness struct {
	handler  http.Handler
	products *testutil.ProductService
	bus      *testutil.Bus
	payments *paymentsvc.PaymentService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	products := testutil.NewProductService(t)
	products.AddProduct("p1", 5, "12.50")
	client := productclient.New(productclient.WithBaseURL(products.URL()), productclient.WithAPIKey(testutil.TestAPIKey))
	bus := testutil.NewBus()

	orders := ordersvc.MustNewOrderService(
		ordersvc.WithOrderRepository(ordermemory.NewOrderRepository()),
		ordersvc.WithStockLedger(client),
		ordersvc.WithPublisher(bus),
	)
	payments := paymentsvc.MustNewPaymentService(
		paymentsvc.WithPaymentRepository(paymentmemory.NewPaymentRepository()),
		paymentsvc.WithPriceSource(client),
		paymentsvc.WithPublisher(bus),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "test_total", Help: "test"}))

	h := NewHTTPTransport("test-svc", reg)
	h.RegisterOrderRoutes(orders)
	h.RegisterPaymentRoutes(payments)

	return &harness{handler: h.Handler(), products: products, bus: bus, payments: payments}
}

func (h *harness) do(t *testing.T, method, path, userID, role, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(auth.HeaderUserID, userID)
	}
	if role != "" {
		req.Header.Set(auth.HeaderRole, role)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}

	return rec, env
}

func TestCreateAndGetOrder(t *testing.T) {
	h := newHarness(t)

	rec, env := h.do(t, http.MethodPost, "/orders", "u1", "", `{"items":[{"productId":"p1","quantity":2}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, env.Success)
	assert.Equal(t, 3, h.products.Stock("p1"))

	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "PENDING", created.Status)

	rec, _ = h.do(t, http.MethodGet, "/orders/"+created.ID, "u1", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = h.do(t, http.MethodGet, "/orders/"+created.ID, "u2", "", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = h.do(t, http.MethodGet, "/orders/"+created.ID, "", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = h.do(t, http.MethodGet, "/orders/missing", "admin", "ADMIN", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateOrderErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "malformed", body: `{`, status: http.StatusBadRequest},
		{name: "empty items", body: `{"items":[]}`, status: http.StatusBadRequest},
		{name: "zero quantity", body: `{"items":[{"productId":"p1","quantity":0}]}`, status: http.StatusBadRequest},
		{name: "insufficient stock", body: `{"items":[{"productId":"p1","quantity":6}]}`, status: http.StatusBadRequest},
		{name: "unknown product", body: `{"items":[{"productId":"nope","quantity":1}]}`, status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)

			rec, env := h.do(t, http.MethodPost, "/orders", "u1", "", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.False(t, env.Success)
			assert.Equal(t, 5, h.products.Stock("p1"))
		})
	}
}

func TestCreateOrderPassesUpstreamStatus(t *testing.T) {
	h := newHarness(t)
	h.products.Fail(http.MethodPut, "p1", http.StatusTooManyRequests)

	rec, env := h.do(t, http.MethodPost, "/orders", "u1", "", `{"items":[{"productId":"p1","quantity":1}]}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "injected failure", env.Message)
}

func TestOrderAdminRoutes(t *testing.T) {
	h := newHarness(t)

	_, env := h.do(t, http.MethodPost, "/orders", "u1", "", `{"items":[{"productId":"p1","quantity":1}]}`)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))

	rec, _ := h.do(t, http.MethodPatch, "/orders/"+created.ID+"/status", "u1", "", `{"status":"SHIPPED"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = h.do(t, http.MethodPatch, "/orders/"+created.ID+"/status", "a1", "ADMIN", `{"status":"LOST"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(t, http.MethodPatch, "/orders/"+created.ID+"/status", "a1", "ADMIN", `{"status":"SHIPPED"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = h.do(t, http.MethodDelete, "/orders/"+created.ID, "u1", "", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = h.do(t, http.MethodDelete, "/orders/"+created.ID, "a1", "ADMIN", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, h.products.Stock("p1"))
}

func TestPaymentRoutes(t *testing.T) {
	h := newHarness(t)

	err := h.payments.HandleOrderPaymentRequested(context.Background(), events.OrderPaymentRequested{
		OrderID:    "ord-1",
		UserID:     "u1",
		OrderItems: []orderitem.OrderItem{{ProductID: "p1", Quantity: 2}},
	})
	require.NoError(t, err)
	notifications := h.bus.Take(events.QueuePaymentNotification)
	require.Len(t, notifications, 1)
	paymentID := notifications[0].(events.PaymentNotification).PaymentID

	rec, env := h.do(t, http.MethodGet, "/payments/"+paymentID, "u1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var p struct {
		Amount string `json:"amount"`
		Method string `json:"paymentMethod"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, "25", p.Amount)
	assert.Equal(t, "CREDIT_CARD", p.Method)

	rec, _ = h.do(t, http.MethodPatch, "/payments/"+paymentID, "u1", "", `{"paymentMethod":"PAYPAL"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = h.do(t, http.MethodPatch, "/payments/"+paymentID, "u1", "", `{"paymentMethod":"PP"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(t, http.MethodPost, "/payments/webhook", "", "", `{"id":"not-a-uuid","status":"PAID"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(t, http.MethodPost, "/payments/webhook", "", "", `{"id":"`+paymentID+`","status":"PAID"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t,
		[]events.Event{events.PaymentStatusUpdate{OrderID: "ord-1", Status: "CONFIRMED"}},
		h.bus.Take(events.QueuePaymentStatusUpdate),
	)

	rec, _ = h.do(t, http.MethodPost, "/payments/webhook", "", "", `{"id":"`+paymentID+`","status":"FAILED"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)

	rec, env := h.do(t, http.MethodGet, "/healthz", "", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	rec, _ = h.do(t, http.MethodGet, "/metrics", "", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_total")
}
