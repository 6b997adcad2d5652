package paymentwebhook

import (
	"context"
	"net/http"

	"github.com/corray333/backend-labs/fulfillment/internal/service/models/payment"
	"github.com/corray333/backend-labs/fulfillment/internal/transport/http/httpresp"
)

type service interface {
	Webhook(ctx context.Context, paymentID, status string) (payment.Payment, error)
}

// webhookRequest is what the payment gateway posts when a charge settles.
type webhookRequest struct {
	ID     string `json:"id"     validate:"required,uuid"`
	Status string `json:"status" validate:"required"`
}

// Webhook handles a payment status callback.
func Webhook(w http.ResponseWriter, r *http.Request, service service) {
	req := webhookRequest{}
	if err := httpresp.Decode(r, &req); err != nil {
		httpresp.Error(w, r, err)

		return
	}

	p, err := service.Webhook(r.Context(), req.ID, req.Status)
	if err != nil {
		httpresp.Error(w, r, err)

		return
	}

	httpresp.JSON(w, http.StatusOK, "Payment status updated", p)
}
