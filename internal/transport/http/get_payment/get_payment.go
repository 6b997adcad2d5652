package getpayment

import (
	"context"
	"net/http"

	"github.com/corray333/backend-labs/fulfillment/internal/service/models/apperr"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/identity"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/payment"
	"github.com/corray333/backend-labs/fulfillment/internal/transport/http/auth"
	"github.com/corray333/backend-labs/fulfillment/internal/transport/http/httpresp"
	"github.com/go-chi/chi/v5"
)

type service interface {
	GetPayment(ctx context.Context, caller identity.Identity, paymentID string) (payment.Payment, error)
}

func GetPayment(w http.ResponseWriter, r *http.Request, service service) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		httpresp.Error(w, r, apperr.ErrUnauthorized)

		return
	}

	p, err := service.GetPayment(r.Context(), caller, chi.URLParam(r, "paymentId"))
	if err != nil {
		httpresp.Error(w, r, err)

		return
	}

	httpresp.JSON(w, http.StatusOK, "Payment found", p)
}
