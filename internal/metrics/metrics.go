package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fulfillment"

// Outcomes recorded for consumed and published messages.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeDuplicate = "duplicate"
	OutcomeMalformed = "malformed"
	OutcomeOutboxed  = "outboxed"
)

// Saga groups the counters the three services report. A nil *Saga records nothing.
type Saga struct {
	consumed        *prometheus.CounterVec
	handleDuration  *prometheus.HistogramVec
	published       *prometheus.CounterVec
	compensations   *prometheus.CounterVec
	restoreFailures prometheus.Counter
	expiredPayments prometheus.Counter
}

// NewSaga creates the saga collectors and registers them with reg.
func NewSaga(reg prometheus.Registerer, service string) *Saga {
	constLabels := prometheus.Labels{"service": service}

	m := &Saga{
		consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_consumed_total",
			Help: "Messages taken from a queue, by outcome.", ConstLabels: constLabels,
		}, []string{"queue", "outcome"}),
		handleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "message_handle_seconds",
			Help: "Time spent in message handlers.", ConstLabels: constLabels,
			Buckets: prometheus.DefBuckets,
		}, []string{"queue"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_published_total",
			Help: "Messages published to a queue, by outcome.", ConstLabels: constLabels,
		}, []string{"queue", "outcome"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "compensations_total",
			Help: "Orders canceled with stock restoration, by reason.", ConstLabels: constLabels,
		}, []string{"reason"}),
		restoreFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "stock_restore_failures_total",
			Help: "Stock restorations that failed and were not retried.", ConstLabels: constLabels,
		}),
		expiredPayments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "payments_expired_total",
			Help: "Payments canceled by the expiry sweeper.", ConstLabels: constLabels,
		}),
	}

	reg.MustRegister(m.consumed, m.handleDuration, m.published, m.compensations, m.restoreFailures, m.expiredPayments)

	return m
}

func (m *Saga) Consumed(queue, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.consumed.WithLabelValues(queue, outcome).Inc()
	m.handleDuration.WithLabelValues(queue).Observe(took.Seconds())
}

func (m *Saga) Published(queue, outcome string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(queue, outcome).Inc()
}

func (m *Saga) Compensated(reason string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(reason).Inc()
}

func (m *Saga) RestoreFailed() {
	if m == nil {
		return
	}
	m.restoreFailures.Inc()
}

func (m *Saga) PaymentsExpired(n int) {
	if m == nil {
		return
	}
	m.expiredPayments.Add(float64(n))
}
