package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	BookingsTotal      *prometheus.CounterVec
	CancellationsTotal *prometheus.CounterVec
	CompletedTotal     prometheus.Counter

	registry *prometheus.Registry
}

// NewCollector registers every metric on a fresh registry so collectors can be created
// more than once per process (tests, the worker binary).
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route"}),

		InFlightGauge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		BookingsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome.",
		}, []string{"outcome"}),

		CancellationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "cancellations_total",
			Help:      "Cancellation attempts by outcome.",
		}, []string{"outcome"}),

		CompletedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "completed_total",
			Help:      "Appointments marked completed by the worker.",
		}),

		registry: reg,
	}
}

func (c *Collector) ObserveBooking(outcome string) {
	c.BookingsTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) ObserveCancellation(outcome string) {
	c.CancellationsTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
