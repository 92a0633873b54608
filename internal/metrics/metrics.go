package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes counters/histograms for the booking engine and its HTTP surface.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	operations   *prometheus.CounterVec
	promotions   prometheus.Counter
	httpDuration *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Name:      "operations_total",
			Help:      "Engine operations by outcome code",
		}, []string{"operation", "outcome"}),
		promotions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "booking",
			Name:      "queue_promotions_total",
			Help:      "Waiting queue tickets promoted to notified",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "booking",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.operations, m.promotions, m.httpDuration)
	return m
}

func (m *Metrics) ObserveOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) ObservePromotion() {
	if m == nil {
		return
	}
	m.promotions.Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
