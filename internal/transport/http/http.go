package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/corray333/backend-labs/fulfillment/internal/service/models/identity"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/order"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/orderitem"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/payment"
	"github.com/corray333/backend-labs/fulfillment/internal/transport/http/auth"
	createorder "github.com/corray333/backend-labs/fulfillment/internal/transport/http/create_order"
	deleteorder "github.com/corray333/backend-labs/fulfillment/internal/transport/http/delete_order"
	getorder "github.com/corray333/backend-labs/fulfillment/internal/transport/http/get_order"
	getpayment "github.com/corray333/backend-labs/fulfillment/internal/transport/http/get_payment"
	"github.com/corray333/backend-labs/fulfillment/internal/transport/http/httpresp"
	paymentwebhook "github.com/corray333/backend-labs/fulfillment/internal/transport/http/payment_webhook"
	updateorderstatus "github.com/corray333/backend-labs/fulfillment/internal/transport/http/update_order_status"
	updatepaymentmethod "github.com/corray333/backend-labs/fulfillment/internal/transport/http/update_payment_method"
	"github.com/corray333/backend-labs/fulfillment/pkg/http/middleware/trace"
	"github.com/corray333/backend-labs/fulfillment/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
)

type orderService interface {
	CreateOrder(ctx context.Context, userID string, items []orderitem.OrderItem) (order.Order, error)
	GetOrder(ctx context.Context, caller identity.Identity, orderID string) (order.Order, error)
	UpdateOrderStatus(ctx context.Context, caller identity.Identity, orderID string, status order.Status) (order.Order, error)
	DeleteOrder(ctx context.Context, caller identity.Identity, orderID string) error
}

type paymentService interface {
	Webhook(ctx context.Context, paymentID, status string) (payment.Payment, error)
	GetPayment(ctx context.Context, caller identity.Identity, paymentID string) (payment.Payment, error)
	UpdatePaymentMethod(ctx context.Context, caller identity.Identity, paymentID string, method string) (payment.Payment, error)
}

type HTTPTransport struct {
	server *http.Server
	router *chi.Mux
}

// NewHTTPTransport creates the router with request logging, tracing, CORS, health and metrics routes.
func NewHTTPTransport(service string, gatherer prometheus.Gatherer) *HTTPTransport {
	router := newRouter(service)
	router.Get("/healthz", healthz)
	if gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return &HTTPTransport{
		server: newServer(router),
		router: router,
	}
}

func (h *HTTPTransport) Handler() http.Handler {
	return h.router
}

func (h *HTTPTransport) Run() error {
	slog.Info("HTTP server started", "addr", h.server.Addr)

	return h.server.ListenAndServe()
}

func (h *HTTPTransport) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

// RegisterOrderRoutes registers the order routes. All of them require an authenticated caller.
func (h *HTTPTransport) RegisterOrderRoutes(service orderService) {
	h.router.Route("/orders", func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			createorder.CreateOrder(w, r, service)
		})
		r.Get("/{orderId}", func(w http.ResponseWriter, r *http.Request) {
			getorder.GetOrder(w, r, service)
		})
		r.Patch("/{orderId}/status", func(w http.ResponseWriter, r *http.Request) {
			updateorderstatus.UpdateOrderStatus(w, r, service)
		})
		r.Delete("/{orderId}", func(w http.ResponseWriter, r *http.Request) {
			deleteorder.DeleteOrder(w, r, service)
		})
	})
}

// RegisterPaymentRoutes registers the payment routes. The webhook is called by the payment
// gateway and carries no caller identity.
func (h *HTTPTransport) RegisterPaymentRoutes(service paymentService) {
	h.router.Route("/payments", func(r chi.Router) {
		r.Post("/webhook", func(w http.ResponseWriter, r *http.Request) {
			paymentwebhook.Webhook(w, r, service)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)
			r.Get("/{paymentId}", func(w http.ResponseWriter, r *http.Request) {
				getpayment.GetPayment(w, r, service)
			})
			r.Patch("/{paymentId}", func(w http.ResponseWriter, r *http.Request) {
				updatepaymentmethod.UpdatePaymentMethod(w, r, service)
			})
		})
	})
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	httpresp.JSON(w, http.StatusOK, "OK", nil)
}

func newRouter(service string) *chi.Mux {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(logger.NewLoggerMiddleware(slog.Default()))
	router.Use(trace.NewTraceMiddleware(service))

	c := cors.New(cors.Options{
		AllowedOrigins:   viper.GetStringSlice("server.http.cors.allowed_origins"),
		AllowedMethods:   viper.GetStringSlice("server.http.cors.allowed_methods"),
		AllowedHeaders:   viper.GetStringSlice("server.http.cors.allowed_headers"),
		ExposedHeaders:   viper.GetStringSlice("server.http.cors.exposed_headers"),
		AllowCredentials: viper.GetBool("server.http.cors.allow_credentials"),
		MaxAge:           viper.GetInt("server.http.cors.max_age"),
	})

	router.Use(c.Handler)

	return router
}

func newServer(router http.Handler) *http.Server {
	return &http.Server{
		Addr:              "0.0.0.0:" + viper.GetString("server.http.port"),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
