package deleteorder

import (
	"context"
	"net/http"

	"github.com/corray333/backend-labs/fulfillment/internal/service/models/apperr"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/identity"
	"github.com/corray333/backend-labs/fulfillment/internal/transport/http/auth"
	"github.com/corray333/backend-labs/fulfillment/internal/transport/http/httpresp"
	"github.com/go-chi/chi/v5"
)

type service interface {
	DeleteOrder(ctx context.Context, caller identity.Identity, orderID string) error
}

func DeleteOrder(w http.ResponseWriter, r *http.Request, service service) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		httpresp.Error(w, r, apperr.ErrUnauthorized)

		return
	}

	if err := service.DeleteOrder(r.Context(), caller, chi.URLParam(r, "orderId")); err != nil {
		httpresp.Error(w, r, err)

		return
	}

	httpresp.JSON(w, http.StatusOK, "Order deleted", nil)
}
