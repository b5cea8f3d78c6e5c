package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Inbound("order")
	m.Inbound("order")
	m.Send(false)
	m.Escalation("overdue")
	m.WakeQueue(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.inbound.WithLabelValues("order")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sends.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.escalations.WithLabelValues("overdue")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.wakeQueue))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Inbound("task")
		m.Transition("create")
		m.Digest("pm")
		m.ObserveHTTP("/webhook", "200", 0.1)
	})
}
