package updatepaymentmethod

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
	UpdatePaymentMethod(ctx context.Context, caller identity.Identity, paymentID string, method string) (payment.Payment, error)
}

type updateMethodRequest struct {
	PaymentMethod string `json:"paymentMethod" validate:"required,min=3,max=50"`
}

// UpdatePaymentMethod handles the owner changing the method of a pending payment.
func UpdatePaymentMethod(w http.ResponseWriter, r *http.Request, service service) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		httpresp.Error(w, r, apperr.ErrUnauthorized)

		return
	}

	req := updateMethodRequest{}
	if err := httpresp.Decode(r, &req); err != nil {
		httpresp.Error(w, r, err)

		return
	}

	p, err := service.UpdatePaymentMethod(r.Context(), caller, chi.URLParam(r, "paymentId"), req.PaymentMethod)
	if err != nil {
		httpresp.Error(w, r, err)

		return
	}

	httpresp.JSON(w, http.StatusOK, "Payment method updated", p)
}
