package events

import (
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/orderitem"
	"github.com/shopspring/decimal"
)

// Saga queues. All of them are durable and carry persistent messages.
const (
	QueueOrderPayment        = "order_payment"
	QueuePaymentNotification = "payment_notification"
	QueuePaymentStatusUpdate = "payment_status_update"
	QueueOrderExpired        = "order_expired"
	QueueOrderCanceled       = "order_canceled"
)

// Queues lists every queue the saga uses.
var Queues = []string{
	QueueOrderPayment,
	QueuePaymentNotification,
	QueuePaymentStatusUpdate,
	QueueOrderExpired,
	QueueOrderCanceled,
}

// Event is a message published to one of the saga queues.
type Event interface {
	// Queue is the queue the event is routed to.
	Queue() string
	// Key identifies the logical event; redeliveries and republishes share it.
	Key() string
}

// OrderPaymentRequested asks the payment processor to open a payment for a new order.
type OrderPaymentRequested struct {
	OrderID    string                `json:"orderId"`
	UserID     string                `json:"userId"`
	OrderItems []orderitem.OrderItem `json:"orderItems"`
}

func (e OrderPaymentRequested) Queue() string { return QueueOrderPayment }
func (e OrderPaymentRequested) Key() string   { return QueueOrderPayment + ":" + e.OrderID }

// PaymentStatusUpdate carries the order status implied by a payment outcome.
type PaymentStatusUpdate struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

func (e PaymentStatusUpdate) Queue() string { return QueuePaymentStatusUpdate }
func (e PaymentStatusUpdate) Key() string {
	return QueuePaymentStatusUpdate + ":" + e.OrderID + ":" + e.Status
}

// PaymentNotification is sent to the customer whenever a payment changes state.
type PaymentNotification struct {
	PaymentID string          `json:"paymentId"`
	UserID    string          `json:"userId"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
}

func (e PaymentNotification) Queue() string { return QueuePaymentNotification }
func (e PaymentNotification) Key() string {
	return QueuePaymentNotification + ":" + e.PaymentID + ":" + e.Status
}

// OrderExpired tells the order orchestrator to cancel an order and give its stock back.
type OrderExpired struct {
	OrderID string `json:"orderId"`
}

func (e OrderExpired) Queue() string { return QueueOrderExpired }
func (e OrderExpired) Key() string   { return QueueOrderExpired + ":" + e.OrderID }

// OrderCanceled tells the payment processor that an order is gone, so its open payment must not be charged.
type OrderCanceled struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

func (e OrderCanceled) Queue() string { return QueueOrderCanceled }
func (e OrderCanceled) Key() string   { return QueueOrderCanceled + ":" + e.OrderID }
