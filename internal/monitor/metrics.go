package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"synth-core/internal/persistence"
)

// Metrics holds the engine's Prometheus collectors. Each engine owns its own
// registry so parallel instances do not collide.
type Metrics struct {
	registry *prometheus.Registry

	Ticks           *prometheus.CounterVec
	Candles         *prometheus.CounterVec
	Signals         *prometheus.CounterVec
	Rejections      *prometheus.CounterVec
	Trades          *prometheus.CounterVec
	ConnectionState prometheus.Gauge
	Balance         prometheus.Gauge
	ExecLatency     prometheus.Histogram
}

// NewMetrics creates and registers every collector.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "synth_ticks_total", Help: "Price ticks ingested"},
			[]string{"symbol"},
		),
		Candles: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "synth_candles_total", Help: "Closed candles by kind"},
			[]string{"synthetic"},
		),
		Signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "synth_signals_total", Help: "Strategy signals generated"},
			[]string{"side"},
		),
		Rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "synth_rejections_total", Help: "Signals rejected by stage and reason"},
			[]string{"stage", "reason"},
		),
		Trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "synth_trades_total", Help: "Executions by terminal status"},
			[]string{"status"},
		),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "synth_connection_state", Help: "Venue connection state (0=disconnected .. 4=streaming, 5=reconnecting)",
		}),
		Balance: prometheus.NewGauge(prometheus.GaugeOpts{Name: "synth_balance", Help: "Account balance"}),
		ExecLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "synth_execution_seconds",
			Help:    "Time from submission to terminal execution result",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 30, 60, 120, 300, 900},
		}),
	}
	m.registry.MustRegister(
		m.Ticks, m.Candles, m.Signals, m.Rejections, m.Trades,
		m.ConnectionState, m.Balance, m.ExecLatency,
		prometheus.NewGoCollector(),
	)
	return m
}

// Candle counts one closed candle.
func (m *Metrics) Candle(synthetic bool) {
	if synthetic {
		m.Candles.WithLabelValues("true").Inc()
		return
	}
	m.Candles.WithLabelValues("false").Inc()
}

// Rejection counts one vetoed signal.
func (m *Metrics) Rejection(stage, reason string) {
	m.Rejections.WithLabelValues(stage, reason).Inc()
}

// Execution records a terminal execution.
func (m *Metrics) Execution(status string, latency time.Duration) {
	m.Trades.WithLabelValues(status).Inc()
	m.ExecLatency.Observe(latency.Seconds())
}

// ObserveEventWriter exports the event batch writer's counters.
func (m *Metrics) ObserveEventWriter(w *persistence.BatchWriter) {
	m.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "synth_event_writes_total", Help: "Events handed to the store",
		}, func() float64 { return float64(w.GetMetrics().TotalWrites) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "synth_event_batches_total", Help: "Event batches flushed",
		}, func() float64 { return float64(w.GetMetrics().TotalBatches) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "synth_event_batch_errors_total", Help: "Event batches the store rejected",
		}, func() float64 { return float64(w.GetMetrics().TotalErrors) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "synth_event_buffer_pending", Help: "Events waiting for the next flush",
		}, func() float64 { return float64(w.Pending()) }),
	)
}

// Gatherer exposes the registry for tests and custom handlers.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
