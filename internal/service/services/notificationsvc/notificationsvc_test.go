package notificationsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/corray333/backend-labs/fulfillment/internal/service/models/events"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	sent []Notification
	err  error
}

func (s *recordingSender) Send(_ context.Context, n Notification) error {
	s.sent = append(s.sent, n)

	return s.err
}

func TestHandlePaymentNotification(t *testing.T) {
	sender := &recordingSender{}
	svc := MustNewNotificationService(WithSender(sender))

	err := svc.HandlePaymentNotification(context.Background(), events.PaymentNotification{
		PaymentID: "pay-1",
		UserID:    "u1",
		Status:    "PAID",
		Amount:    decimal.RequireFromString("40.2"),
	})
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, Notification{
		UserID:  "u1",
		Subject: "Payment PAID",
		Body:    "Payment pay-1 for 40.20 is PAID",
	}, sender.sent[0])
}

func TestHandlePaymentNotificationSenderFailure(t *testing.T) {
	svc := MustNewNotificationService(WithSender(&recordingSender{err: errors.New("smtp down")}))

	err := svc.HandlePaymentNotification(context.Background(), events.PaymentNotification{PaymentID: "pay-1", UserID: "u1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	sender := NewLogSender(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, sender.Send(context.Background(), Notification{UserID: "u1", Subject: "Payment PAID", Body: "b"}))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "Sending notification", line["msg"])
	assert.Equal(t, "u1", line["user_id"])
	assert.Equal(t, "Payment PAID", line["subject"])
}
