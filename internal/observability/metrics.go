package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatrelay"

type moduleMetrics struct {
	activeSessions prometheus.Gauge
	sessionOps     *prometheus.CounterVec

	turnsTotal    *prometheus.CounterVec
	turnDuration  *prometheus.HistogramVec
	turnsInFlight prometheus.Gauge
	deltasTotal   prometheus.Counter

	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec

	streamClients *prometheus.GaugeVec
	catalogModels prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "sessions_active",
					Help:      "Current number of sessions held in the store.",
				},
			),
			sessionOps: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "session_operations_total",
					Help:      "Session store operations by operation and status.",
				},
				[]string{"op", "status"},
			),
			turnsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "turns_total",
					Help:      "Relayed chat turns by outcome and error kind.",
				},
				[]string{"outcome", "kind"},
			),
			turnDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "turn_duration_seconds",
					Help:      "Chat turn duration in seconds by outcome.",
					Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
				},
				[]string{"outcome"},
			),
			turnsInFlight: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "turns_in_flight",
					Help:      "Chat turns currently streaming.",
				},
			),
			deltasTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "deltas_forwarded_total",
					Help:      "Content deltas forwarded to callers.",
				},
			),
			upstreamRequests: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "upstream_requests_total",
					Help:      "Upstream chat completion requests by mode and result kind.",
				},
				[]string{"mode", "kind"},
			),
			upstreamDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "upstream_duration_seconds",
					Help:      "Upstream request duration in seconds by mode.",
					Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
				},
				[]string{"mode"},
			),
			streamClients: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "stream_clients",
					Help:      "Connected streaming clients by transport.",
				},
				[]string{"transport"},
			),
			catalogModels: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "catalog_models",
					Help:      "Number of models in the configured catalog.",
				},
			),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.sessionOps,
			m.turnsTotal,
			m.turnDuration,
			m.turnsInFlight,
			m.deltasTotal,
			m.upstreamRequests,
			m.upstreamDuration,
			m.streamClients,
			m.catalogModels,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordSessionOp(op string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	getMetrics().sessionOps.WithLabelValues(op, status).Inc()
}

// TurnStarted marks a turn as in flight and returns the func that records its outcome.
func TurnStarted() func(outcome, kind string) {
	m := getMetrics()
	m.turnsInFlight.Inc()
	start := time.Now()
	return func(outcome, kind string) {
		m.turnsInFlight.Dec()
		m.turnsTotal.WithLabelValues(outcome, kind).Inc()
		m.turnDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}
}

func RecordDelta() {
	getMetrics().deltasTotal.Inc()
}

func RecordUpstreamRequest(mode, kind string, duration time.Duration) {
	m := getMetrics()
	m.upstreamRequests.WithLabelValues(mode, kind).Inc()
	m.upstreamDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

func StreamClientConnected(transport string) {
	getMetrics().streamClients.WithLabelValues(transport).Inc()
}

func StreamClientDisconnected(transport string) {
	getMetrics().streamClients.WithLabelValues(transport).Dec()
}

func SetCatalogModels(count int) {
	getMetrics().catalogModels.Set(float64(count))
}
