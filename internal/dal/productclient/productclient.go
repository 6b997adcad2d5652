package productclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/corray333/backend-labs/fulfillment/internal/service/models/apperr"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const serviceName = "product-service"

// envelope is the response shape shared by the platform's HTTP services.
type envelope[T any] struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    T               `json:"data"`
	Error   json.RawMessage `json:"error,omitempty"`
}

type stockData struct {
	ProductID string `json:"product_id"`
	Stock     int    `json:"stock"`
}

type productData struct {
	ID    string          `json:"id"`
	Price decimal.Decimal `json:"price"`
}

type stockRequest struct {
	Stock int `json:"stock"`
}

// Client talks to the product service: it is the Stock Ledger and the source of prices.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// option is a function that configures the Client.
type option func(*Client)

// New creates a Client from product.* configuration, overridable by options.
func New(opts ...option) *Client {
	timeout := viper.GetDuration("product.timeout")
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	c := &Client{
		baseURL:    viper.GetString("product.base_url"),
		apiKey:     viper.GetString("product.api_key"),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.baseURL = strings.TrimRight(c.baseURL, "/")

	return c
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithBaseURL(baseURL string) option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithAPIKey(apiKey string) option {
	return func(c *Client) {
		c.apiKey = apiKey
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithHTTPClient(httpClient *http.Client) option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// GetStock returns the current stock of a product.
func (c *Client) GetStock(ctx context.Context, productID string) (int, error) {
	var resp envelope[stockData]
	if err := c.do(ctx, http.MethodGet, c.productURL(productID, "stock"), nil, &resp); err != nil {
		return 0, err
	}

	return resp.Data.Stock, nil
}

// SetStock overwrites the stock of a product. Used to reserve stock for a new order.
func (c *Client) SetStock(ctx context.Context, productID string, stock int) error {
	return c.do(ctx, http.MethodPut, c.productURL(productID, "stock"), stockRequest{Stock: stock}, nil)
}

// PatchStock overwrites the stock of a product through the partial update route. Used to give stock back.
func (c *Client) PatchStock(ctx context.Context, productID string, stock int) error {
	return c.do(ctx, http.MethodPatch, c.productURL(productID, "stock"), stockRequest{Stock: stock}, nil)
}

// GetPrice returns the current unit price of a product.
func (c *Client) GetPrice(ctx context.Context, productID string) (decimal.Decimal, error) {
	var resp envelope[productData]
	if err := c.do(ctx, http.MethodGet, c.productURL(productID), nil, &resp); err != nil {
		return decimal.Zero, err
	}

	return resp.Data.Price, nil
}

func (c *Client) productURL(productID string, segments ...string) string {
	parts := append([]string{c.baseURL, url.PathEscape(productID)}, segments...)

	return strings.Join(parts, "/")
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet && c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", serviceName, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", serviceName, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, endpoint, apperr.ErrProductNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &apperr.UpstreamError{Service: serviceName, StatusCode: resp.StatusCode, Body: respBody}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", serviceName, err)
	}

	return nil
}
