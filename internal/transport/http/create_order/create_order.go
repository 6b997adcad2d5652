package createorder

import (
	"context"
	"net/http"

	"github.com/corray333/backend-labs/fulfillment/internal/service/models/apperr"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/order"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/orderitem"
	"github.com/corray333/backend-labs/fulfillment/internal/transport/http/auth"
	"github.com/corray333/backend-labs/fulfillment/internal/transport/http/httpresp"
)

// service is an interface for the service layer.
type service interface {
	CreateOrder(ctx context.Context, userID string, items []orderitem.OrderItem) (order.Order, error)
}

// itemInCreateOrderRequest represents an item in a create order request.
type itemInCreateOrderRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity"  validate:"gte=1"`
}

// createOrderRequest represents a create order request.
type createOrderRequest struct {
	Items []itemInCreateOrderRequest `json:"items" validate:"required,min=1,dive"`
}

func (r *createOrderRequest) toModel() []orderitem.OrderItem {
	items := make([]orderitem.OrderItem, len(r.Items))
	for i, item := range r.Items {
		items[i] = orderitem.OrderItem{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	return items
}

// CreateOrder handles the create order request.
func CreateOrder(w http.ResponseWriter, r *http.Request, service service) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		httpresp.Error(w, r, apperr.ErrUnauthorized)

		return
	}

	req := createOrderRequest{}
	if err := httpresp.Decode(r, &req); err != nil {
		httpresp.Error(w, r, err)

		return
	}

	created, err := service.CreateOrder(r.Context(), caller.UserID, req.toModel())
	if err != nil {
		httpresp.Error(w, r, err)

		return
	}

	httpresp.JSON(w, http.StatusCreated, "Order created", created)
}
