package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSagaCounters(t *testing.T) {
	m := NewSaga(prometheus.NewRegistry(), "order-svc")

	m.Consumed("order_expired", OutcomeOK, time.Millisecond)
	m.Consumed("order_expired", OutcomeOK, time.Millisecond)
	m.Published("order_payment", OutcomeOutboxed)
	m.Compensated("expired")
	m.RestoreFailed()
	m.PaymentsExpired(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.consumed.WithLabelValues("order_expired", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.published.WithLabelValues("order_payment", OutcomeOutboxed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.compensations.WithLabelValues("expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.restoreFailures))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.expiredPayments))
}

func TestNilSagaIsNoop(t *testing.T) {
	var m *Saga

	assert.NotPanics(t, func() {
		m.Consumed("q", OutcomeOK, time.Second)
		m.Published("q", OutcomeOK)
		m.Compensated("r")
		m.RestoreFailed()
		m.PaymentsExpired(1)
	})
}
