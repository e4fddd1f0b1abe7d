package stats

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports mock server traffic to Prometheus
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the mock server metrics with reg. routes and
// subscribers report the current number of registered routes and live
// event subscribers; either may be nil.
func NewMetrics(reg prometheus.Registerer, routes, subscribers func() int) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mockpit",
			Name:      "mock_requests_total",
			Help:      "Requests answered by the mock server",
		}, []string{"method", "status", "matched"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mockpit",
			Name:      "mock_request_duration_seconds",
			Help:      "Time to answer mock requests, including configured delays",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"method"}),
	}

	if routes != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "mockpit",
			Name:      "registered_routes",
			Help:      "Routes currently registered with the mock server",
		}, func() float64 { return float64(routes()) })
	}
	if subscribers != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "mockpit",
			Name:      "event_subscribers",
			Help:      "Connected live event subscribers",
		}, func() float64 { return float64(subscribers()) })
	}

	return m
}

// ObserveRequest implements Observer
func (m *Metrics) ObserveRequest(obs Observation) {
	matched := strconv.FormatBool(obs.EndpointID != "")
	m.requests.WithLabelValues(obs.Method, strconv.Itoa(obs.StatusCode), matched).Inc()
	m.duration.WithLabelValues(obs.Method).Observe(obs.Duration.Seconds())
}
