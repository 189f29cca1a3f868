package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/sells-group/dmrv/internal/events"
	"github.com/sells-group/dmrv/internal/model"
)

func TestObserveEvents(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveEvents([]model.Event{
		{Type: events.ClaimFulfilled},
		{Type: events.CreditsMinted, Payload: []byte(`{"amount":100}`)},
		{Type: events.CreditsBurned, Payload: []byte(`{"amount":60}`)},
		{Type: events.ClaimReversed, Payload: []byte(`{"deficit":40}`)},
		{Type: events.DisputeResolved, Payload: []byte(`{"kind":"challenge","outcome":"overturned"}`)},
		{Type: events.VerifierSlashed, Payload: []byte(`{"amount":25}`)},
	})

	assert.InDelta(t, 100, testutil.ToFloat64(m.CreditsMinted), 0.001)
	assert.InDelta(t, 60, testutil.ToFloat64(m.CreditsBurned), 0.001)
	assert.InDelta(t, 40, testutil.ToFloat64(m.ReversalDeficit), 0.001)
	assert.InDelta(t, 25, testutil.ToFloat64(m.StakeSlashed), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ClaimTransitions.WithLabelValues("fulfilled")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ClaimTransitions.WithLabelValues("reversed")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(m.DisputesResolved.WithLabelValues("challenge", "overturned")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Events.WithLabelValues(events.CreditsMinted)), 0.001)
}

func TestObserveOperation(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveOperation("submit_claim", time.Now(), "")
	m.ObserveOperation("submit_claim", time.Now(), "state")

	assert.InDelta(t, 1, testutil.ToFloat64(m.OperationFailures.WithLabelValues("submit_claim", "state")), 0.001)
	assert.Equal(t, 1, testutil.CollectAndCount(m.OperationDuration))
}

func TestNilMetrics_NoPanic(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOperation("x", time.Now(), "state")
		m.ObserveEvents([]model.Event{{Type: events.CreditsMinted}})
	})
}
