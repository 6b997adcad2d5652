package updateorderstatus

import (
	"context"
	"net/http"

	"github.com/corray333/backend-labs/fulfillment/internal/service/models/apperr"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/identity"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/order"
	"github.com/corray333/backend-labs/fulfillment/internal/transport/http/auth"
	"github.com/corray333/backend-labs/fulfillment/internal/transport/http/httpresp"
	"github.com/go-chi/chi/v5"
)

type service interface {
	UpdateOrderStatus(ctx context.Context, caller identity.Identity, orderID string, status order.Status) (order.Order, error)
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=PENDING CONFIRMED SHIPPED DELIVERED CANCELED"`
}

// UpdateOrderStatus handles an administrator moving an order through fulfilment.
func UpdateOrderStatus(w http.ResponseWriter, r *http.Request, service service) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		httpresp.Error(w, r, apperr.ErrUnauthorized)

		return
	}

	req := updateStatusRequest{}
	if err := httpresp.Decode(r, &req); err != nil {
		httpresp.Error(w, r, err)

		return
	}

	status, err := order.ParseStatus(req.Status)
	if err != nil {
		httpresp.Error(w, r, apperr.Validation("%v", err))

		return
	}

	updated, err := service.UpdateOrderStatus(r.Context(), caller, chi.URLParam(r, "orderId"), status)
	if err != nil {
		httpresp.Error(w, r, err)

		return
	}

	httpresp.JSON(w, http.StatusOK, "Order status updated", updated)
}
