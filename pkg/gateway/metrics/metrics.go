// Package metrics exposes the call-pipeline counters on a dedicated
// Prometheus registry, kept separate from the default one so tests can
// create instances freely.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	CallsStarted   *prometheus.CounterVec
	ProviderEvents *prometheus.CounterVec
	DialogTurnsVec *prometheus.CounterVec
	Finalizations  *prometheus.CounterVec
	LedgerWrites   *prometheus.CounterVec
	ActiveGauge    prometheus.Gauge
	CallDurations  prometheus.Histogram
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "outdial"
	}

	registry := prometheus.NewRegistry()

	callsStarted := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_started_total",
			Help:      "Total number of outbound calls initiated",
		},
		[]string{"provider"},
	)

	providerEvents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_events_total",
			Help:      "Total telephony provider events received",
		},
		[]string{"event"},
	)

	dialogTurns := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dialog_turns_total",
			Help:      "Total dialog turns recorded, by engine",
		},
		[]string{"engine"},
	)

	finalizations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finalizations_total",
			Help:      "Total calls finalized, by terminal status",
		},
		[]string{"status"},
	)

	ledgerWrites := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_writes_total",
			Help:      "Total ledger write attempts, by outcome",
		},
		[]string{"outcome"},
	)

	activeGauge := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Number of calls currently tracked",
		},
	)

	callDurations := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Answered call duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	registry.MustRegister(
		callsStarted,
		providerEvents,
		dialogTurns,
		finalizations,
		ledgerWrites,
		activeGauge,
		callDurations,
	)

	return &Metrics{
		registry:       registry,
		CallsStarted:   callsStarted,
		ProviderEvents: providerEvents,
		DialogTurnsVec: dialogTurns,
		Finalizations:  finalizations,
		LedgerWrites:   ledgerWrites,
		ActiveGauge:    activeGauge,
		CallDurations:  callDurations,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CallStarted(provider string) {
	m.CallsStarted.WithLabelValues(provider).Inc()
}

func (m *Metrics) ProviderEventReceived(event string) {
	m.ProviderEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) DialogTurns(engine string, turns int) {
	if turns > 0 {
		m.DialogTurnsVec.WithLabelValues(engine).Add(float64(turns))
	}
}

func (m *Metrics) CallFinalized(status string) {
	m.Finalizations.WithLabelValues(status).Inc()
}

func (m *Metrics) LedgerOutcome(outcome string) {
	m.LedgerWrites.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ActiveCalls(n int) {
	m.ActiveGauge.Set(float64(n))
}

func (m *Metrics) CallDuration(seconds float64) {
	m.CallDurations.Observe(seconds)
}
