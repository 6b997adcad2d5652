package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// TestAPIKey is the key the fake product service expects on mutating requests.
const TestAPIKey = "test-api-key"

type product struct {
	stock int
	price decimal.Decimal
}

// ProductService is an in-process fake of the product service stock and price routes.
type ProductService struct {
	server *httptest.Server

	mu       sync.Mutex
	products map[string]*product
	failures map[string]int
	calls    []string
}

// NewProductService starts the fake and stops it when the test ends.
func NewProductService(t testing.TB) *ProductService {
	t.Helper()

	p := &ProductService{
		products: make(map[string]*product),
		failures: make(map[string]int),
	}

	r := chi.NewRouter()
	r.Get("/{id}/stock", p.getStock)
	r.Put("/{id}/stock", p.setStock)
	r.Patch("/{id}/stock", p.setStock)
	r.Get("/{id}", p.getProduct)

	p.server = httptest.NewServer(r)
	t.Cleanup(p.server.Close)

	return p
}

func (p *ProductService) URL() string {
	return p.server.URL
}

// AddProduct registers a product with its stock and unit price.
func (p *ProductService) AddProduct(id string, stock int, price string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.products[id] = &product{stock: stock, price: decimal.RequireFromString(price)}
}

// Stock returns the current stock of a product, or -1 when it does not exist.
func (p *ProductService) Stock(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	pr, ok := p.products[id]
	if !ok {
		return -1
	}

	return pr.stock
}

// Fail makes every request with method for product id answer with status.
func (p *ProductService) Fail(method, id string, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failures[method+" "+id] = status
}

// Recover removes a failure installed by Fail.
func (p *ProductService) Recover(method, id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.failures, method+" "+id)
}

// Calls returns "METHOD id" for every request received, in order.
func (p *ProductService) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.calls...)
}

func (p *ProductService) begin(w http.ResponseWriter, r *http.Request) (*product, bool) {
	id := chi.URLParam(r, "id")

	p.calls = append(p.calls, r.Method+" "+id)

	if status, ok := p.failures[r.Method+" "+id]; ok {
		writeEnvelope(w, status, false, "injected failure", nil)

		return nil, false
	}

	pr, ok := p.products[id]
	if !ok {
		writeEnvelope(w, http.StatusNotFound, false, "Product not found", nil)

		return nil, false
	}

	return pr, true
}

func (p *ProductService) getStock(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pr, ok := p.begin(w, r)
	if !ok {
		return
	}

	writeEnvelope(w, http.StatusOK, true, "Stock fetched", map[string]any{
		"product_id": chi.URLParam(r, "id"),
		"stock":      pr.stock,
	})
}

func (p *ProductService) setStock(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pr, ok := p.begin(w, r)
	if !ok {
		return
	}

	if r.Header.Get("x-api-key") != TestAPIKey {
		writeEnvelope(w, http.StatusUnauthorized, false, "Invalid API key", nil)

		return
	}

	var body struct {
		Stock *int `json:"stock"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Stock == nil || *body.Stock < 0 {
		writeEnvelope(w, http.StatusBadRequest, false, "stock must be a non-negative integer", nil)

		return
	}

	pr.stock = *body.Stock
	writeEnvelope(w, http.StatusOK, true, "Stock updated", map[string]any{"stock": pr.stock})
}

func (p *ProductService) getProduct(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pr, ok := p.begin(w, r)
	if !ok {
		return
	}

	writeEnvelope(w, http.StatusOK, true, "Product fetched", map[string]any{
		"id":    chi.URLParam(r, "id"),
		"price": pr.price.InexactFloat64(),
	})
}

func writeEnvelope(w http.ResponseWriter, status int, success bool, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": success,
		"message": message,
		"data":    data,
	})
}
