// Package metrics provides Prometheus collectors for authentication sessions
// and the credential store.
//
// All methods handle a nil receiver gracefully, so a nil *Metrics acts as a
// no-op and sessions built without metrics pay nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "trustkit"

// Metrics tracks Prometheus metrics for sessions and credentials.
//
// Metrics tracked:
//   - Session steps by mechanism and status
//   - Session outcomes by mechanism and result kind
//   - Handshake duration from first step to terminal state
//   - Credential borrows by result
//   - Credential evictions by mode and result
//   - Outstanding leases (gauge)
type Metrics struct {
	// SessionSteps counts Step calls.
	// Labels: mechanism, status=[continue, complete, error]
	SessionSteps *prometheus.CounterVec

	// SessionOutcomes counts sessions reaching a terminal state.
	// Labels: mechanism, result=[established, CredentialError, CodecError,
	//                              ValidationError, ProtocolError, MisuseError]
	SessionOutcomes *prometheus.CounterVec

	// HandshakeDuration tracks wall time from the first step to a terminal state.
	// Labels: mechanism
	HandshakeDuration *prometheus.HistogramVec

	// HandshakeRounds tracks the number of rounds a session took.
	// Labels: mechanism
	HandshakeRounds *prometheus.HistogramVec

	// CredentialBorrows counts Borrow attempts by result.
	// Labels: result=[ok, evicted, busy, unknown]
	CredentialBorrows *prometheus.CounterVec

	// CredentialEvictions counts evictions by mode and result.
	// Labels: mode=[blocking, try], result=[ok, busy, cancelled]
	CredentialEvictions *prometheus.CounterVec

	// ActiveLeases tracks leases that have been borrowed but not released.
	ActiveLeases prometheus.Gauge

	// LeakedLeases counts leases reclaimed by the garbage collector.
	LeakedLeases prometheus.Counter
}

// NewMetrics creates and registers the trustkit collectors on reg.
//
// If reg is nil, prometheus.DefaultRegisterer is used. Unlike a process-wide
// singleton, every call registers a fresh set, so callers that build more
// than one Metrics must pass distinct registries.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		SessionSteps: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_steps_total",
				Help:      "Total session steps by mechanism and status",
			},
			[]string{"mechanism", "status"},
		),
		SessionOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_outcomes_total",
				Help:      "Sessions reaching a terminal state by mechanism and result",
			},
			[]string{"mechanism", "result"},
		),
		HandshakeDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "handshake_duration_seconds",
				Help:      "Handshake duration from first step to terminal state",
				Buckets: []float64{
					0.001, // 1ms - in-process loopback
					0.005,
					0.01,
					0.05,
					0.1,
					0.5,
					1,
					5, // slow peers or KDC round trips
				},
			},
			[]string{"mechanism"},
		),
		HandshakeRounds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "handshake_rounds",
				Help:      "Number of rounds taken by a handshake",
				Buckets:   []float64{1, 2, 3, 4, 6, 8},
			},
			[]string{"mechanism"},
		),
		CredentialBorrows: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credential_borrows_total",
				Help:      "Credential borrow attempts by result",
			},
			[]string{"result"},
		),
		CredentialEvictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credential_evictions_total",
				Help:      "Credential evictions by mode and result",
			},
			[]string{"mode", "result"},
		),
		ActiveLeases: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "credential_active_leases",
				Help:      "Credential leases borrowed and not yet released",
			},
		),
		LeakedLeases: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credential_leaked_leases_total",
				Help:      "Leases released by the garbage collector instead of their holder",
			},
		),
	}
}

// RecordStep records one session step.
//
// Parameters:
//   - mechanism: mechanism name
//   - status: continue, complete or error
func (m *Metrics) RecordStep(mechanism, status string) {
	if m == nil {
		return
	}
	m.SessionSteps.WithLabelValues(mechanism, status).Inc()
}

// RecordOutcome records a session reaching a terminal state.
//
// Parameters:
//   - mechanism: mechanism name
//   - result: "established" or the error kind that failed the session
//   - rounds: number of steps taken
//   - duration: time since the first step
func (m *Metrics) RecordOutcome(mechanism, result string, rounds int, duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionOutcomes.WithLabelValues(mechanism, result).Inc()
	m.HandshakeDuration.WithLabelValues(mechanism).Observe(duration.Seconds())
	m.HandshakeRounds.WithLabelValues(mechanism).Observe(float64(rounds))
}

// RecordBorrow records a Borrow attempt. A successful borrow raises the
// active lease gauge.
func (m *Metrics) RecordBorrow(result string) {
	if m == nil {
		return
	}
	m.CredentialBorrows.WithLabelValues(result).Inc()
	if result == "ok" {
		m.ActiveLeases.Inc()
	}
}

// RecordRelease records a lease being returned. leaked is true when the
// garbage collector released it.
func (m *Metrics) RecordRelease(leaked bool) {
	if m == nil {
		return
	}
	m.ActiveLeases.Dec()
	if leaked {
		m.LeakedLeases.Inc()
	}
}

// RecordEvict records an eviction attempt.
//
// Parameters:
//   - mode: blocking or try
//   - result: ok, busy or cancelled
func (m *Metrics) RecordEvict(mode, result string) {
	if m == nil {
		return
	}
	m.CredentialEvictions.WithLabelValues(mode, result).Inc()
}
