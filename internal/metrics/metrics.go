// Package metrics exposes Prometheus collectors for the issuance pipeline.
// Collectors are fed from committed event batches, so a rolled-back
// operation never moves a counter.
package metrics

import (
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sells-group/dmrv/internal/events"
	"github.com/sells-group/dmrv/internal/model"
)

// Metrics holds the service collectors. A nil *Metrics is a no-op.
type Metrics struct {
	Events            *prometheus.CounterVec
	ClaimTransitions  *prometheus.CounterVec
	CreditsMinted     prometheus.Counter
	CreditsBurned     prometheus.Counter
	ReversalDeficit   prometheus.Counter
	DisputesResolved  *prometheus.CounterVec
	StakeSlashed      prometheus.Counter
	OperationDuration *prometheus.HistogramVec
	OperationFailures *prometheus.CounterVec
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dmrv_events_total",
			Help: "Committed audit events by type",
		}, []string{"type"}),
		ClaimTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dmrv_claim_transitions_total",
			Help: "Claim status transitions by target status",
		}, []string{"status"}),
		CreditsMinted: f.NewCounter(prometheus.CounterOpts{
			Name: "dmrv_credits_minted_total",
			Help: "Credit units minted on fulfillment",
		}),
		CreditsBurned: f.NewCounter(prometheus.CounterOpts{
			Name: "dmrv_credits_burned_total",
			Help: "Credit units burned on reversal",
		}),
		ReversalDeficit: f.NewCounter(prometheus.CounterOpts{
			Name: "dmrv_reversal_deficit_total",
			Help: "Credit units that could not be burned on reversal",
		}),
		DisputesResolved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dmrv_disputes_resolved_total",
			Help: "Resolved disputes by kind and outcome",
		}, []string{"kind", "outcome"}),
		StakeSlashed: f.NewCounter(prometheus.CounterOpts{
			Name: "dmrv_stake_slashed_total",
			Help: "Stake removed from verifiers by slashing",
		}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dmrv_operation_duration_seconds",
			Help:    "Duration of top-level operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
		OperationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dmrv_operation_failures_total",
			Help: "Failed top-level operations by failure kind",
		}, []string{"operation", "kind"}),
	}
}

// ObserveOperation records the duration of a top-level operation and, when
// failed, its failure kind.
func (m *Metrics) ObserveOperation(op string, start time.Time, failureKind string) {
	if m == nil {
		return
	}
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if failureKind != "" {
		m.OperationFailures.WithLabelValues(op, failureKind).Inc()
	}
}

type eventFields struct {
	Amount  int64  `json:"amount"`
	Deficit int64  `json:"deficit"`
	Kind    string `json:"kind"`
	Outcome string `json:"outcome"`
}

// ObserveEvents updates collectors from a committed batch.
func (m *Metrics) ObserveEvents(evs []model.Event) {
	if m == nil {
		return
	}
	for _, ev := range evs {
		m.Events.WithLabelValues(ev.Type).Inc()

		var f eventFields
		if len(ev.Payload) > 0 {
			_ = json.Unmarshal(ev.Payload, &f)
		}
		switch ev.Type {
		case events.ClaimSubmitted:
			m.ClaimTransitions.WithLabelValues(string(model.ClaimSubmitted)).Inc()
		case events.ClaimDelegated:
			m.ClaimTransitions.WithLabelValues(string(model.ClaimDelegated)).Inc()
		case events.ClaimFulfilled, events.ClaimRestored:
			m.ClaimTransitions.WithLabelValues(string(model.ClaimFulfilled)).Inc()
		case events.ClaimDisputed:
			m.ClaimTransitions.WithLabelValues(string(model.ClaimDisputed)).Inc()
		case events.ClaimReversed:
			m.ClaimTransitions.WithLabelValues(string(model.ClaimReversed)).Inc()
			m.ReversalDeficit.Add(float64(f.Deficit))
		case events.CreditsMinted:
			m.CreditsMinted.Add(float64(f.Amount))
		case events.CreditsBurned:
			m.CreditsBurned.Add(float64(f.Amount))
		case events.DisputeResolved:
			m.DisputesResolved.WithLabelValues(f.Kind, f.Outcome).Inc()
		case events.VerifierSlashed:
			m.StakeSlashed.Add(float64(f.Amount))
		}
	}
}
