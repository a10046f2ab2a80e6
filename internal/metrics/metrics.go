// Package metrics exposes booking and contention metrics for Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Shivanand-hulikatti/ticket-inventory/internal/contention"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels for BookingResults.
const (
	ResultBooked      = "booked"
	ResultReserved    = "reserved"
	ResultUnavailable = "unavailable"
	ResultError       = "error"
)

// Registry owns the collectors of one process. It implements
// contention.Observer.
type Registry struct {
	reg *prometheus.Registry

	attempts *prometheus.CounterVec
	backoff  *prometheus.HistogramVec
	results  *prometheus.CounterVec
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Registry{
		reg: reg,
		attempts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "ticketing_booking_attempts_total",
			Help: "Booking transaction attempts by operation, attempt number and outcome.",
		}, []string{"op", "attempt", "outcome"}),
		backoff: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ticketing_booking_backoff_seconds",
			Help:    "Backoff delays taken after a write conflict.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.4, 0.8, 1.6, 3.2},
		}, []string{"op"}),
		results: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "ticketing_booking_results_total",
			Help: "Final results of booking and reservation calls.",
		}, []string{"op", "result"}),
	}
}

func (r *Registry) ObserveAttempt(op string, attempt int, outcome contention.Outcome) {
	r.attempts.WithLabelValues(op, strconv.Itoa(attempt), outcome.String()).Inc()
}

func (r *Registry) ObserveBackoff(op string, delay time.Duration) {
	r.backoff.WithLabelValues(op).Observe(delay.Seconds())
}

// ObserveResult counts the final result of a call.
func (r *Registry) ObserveResult(op, result string) {
	r.results.WithLabelValues(op, result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer exposes the underlying registry, mainly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
