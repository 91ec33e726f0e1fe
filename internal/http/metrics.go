package http

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the scheduler metrics on a dedicated registry. It implements core.Observer.
type Metrics struct {
	registry *prometheus.Registry

	TicksTotal     *prometheus.CounterVec
	TickDuration   prometheus.Histogram
	TransfersTotal *prometheus.CounterVec
	QueueLength    *prometheus.GaugeVec
	Revision       prometheus.Gauge
	RequestsTotal  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	metrics := &Metrics{
		registry: prometheus.NewRegistry(),
		TicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prefetchd_ticks_total",
				Help: "Total number of scheduler ticks",
			},
			[]string{"outcome"},
		),
		TickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "prefetchd_tick_duration_seconds",
				Help:    "Time spent in a scheduler tick",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
		),
		TransfersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prefetchd_transfers_started_total",
				Help: "Total number of transfers started",
			},
			[]string{"source"},
		),
		QueueLength: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "prefetchd_queue_length",
				Help: "Current number of entries per queue",
			},
			[]string{"queue"},
		),
		Revision: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "prefetchd_queue_revision",
				Help: "Current queue revision",
			},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prefetchd_api_requests_total",
				Help: "Total number of control API requests",
			},
			[]string{"endpoint", "status"},
		),
	}

	metrics.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.TicksTotal,
		metrics.TickDuration,
		metrics.TransfersTotal,
		metrics.QueueLength,
		metrics.Revision,
		metrics.RequestsTotal,
	)

	return metrics
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveTick(outcome string, duration time.Duration) {
	m.TicksTotal.WithLabelValues(outcome).Inc()
	m.TickDuration.Observe(duration.Seconds())
}

func (m *Metrics) ObserveTransferStart(source string) {
	m.TransfersTotal.WithLabelValues(source).Inc()
}

func (m *Metrics) SetQueueLengths(foreground, background int) {
	m.QueueLength.WithLabelValues("foreground").Set(float64(foreground))
	m.QueueLength.WithLabelValues("background").Set(float64(background))
}

func (m *Metrics) SetRevision(revision int64) {
	m.Revision.Set(float64(revision))
}

func (m *Metrics) recordRequest(endpoint string, status int) {
	m.RequestsTotal.WithLabelValues(endpoint, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}
