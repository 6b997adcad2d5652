package notificationsvc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/corray333/backend-labs/fulfillment/internal/service/models/events"
	"go.opentelemetry.io/otel"
)

// Notification is a message addressed to a customer.
type Notification struct {
	UserID  string
	Subject string
	Body    string
}

// Sender delivers notifications over some channel such as email or SMS.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// LogSender writes notifications to the log instead of delivering them.
type LogSender struct {
	log *slog.Logger
}

func NewLogSender(log *slog.Logger) *LogSender {
	if log == nil {
		log = slog.Default()
	}

	return &LogSender{log: log}
}

func (s *LogSender) Send(ctx context.Context, n Notification) error {
	s.log.InfoContext(ctx, "Sending notification", "user_id", n.UserID, "subject", n.Subject, "body", n.Body)

	return nil
}

// NotificationService turns payment events into customer notifications.
type NotificationService struct {
	sender Sender
}

// option is a function that configures the NotificationService.
type option func(*NotificationService)

// MustNewNotificationService creates a new NotificationService.
func MustNewNotificationService(opts ...option) *NotificationService {
	s := &NotificationService{}
	for _, opt := range opts {
		opt(s)
	}

	if s.sender == nil {
		s.sender = NewLogSender(nil)
	}

	return s
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithSender(sender Sender) option {
	return func(s *NotificationService) {
		s.sender = sender
	}
}

// HandlePaymentNotification tells the customer about a payment state change.
func (s *NotificationService) HandlePaymentNotification(ctx context.Context, evt events.PaymentNotification) error {
	ctx, span := otel.Tracer("notificationsvc").Start(ctx, "NotificationService.HandlePaymentNotification")
	defer span.End()

	n := Notification{
		UserID:  evt.UserID,
		Subject: "Payment " + evt.Status,
		Body:    fmt.Sprintf("Payment %s for %s is %s", evt.PaymentID, evt.Amount.StringFixed(2), evt.Status),
	}

	if err := s.sender.Send(ctx, n); err != nil {
		return fmt.Errorf("failed to notify user %s about payment %s: %w", evt.UserID, evt.PaymentID, err)
	}

	return nil
}
