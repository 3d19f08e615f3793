// Package metrics exposes Prometheus collectors for lookups, dataset
// availability and HTTP traffic. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "geolookup"

// Metrics groups every collector the service records.
type Metrics struct {
	lookups         *prometheus.CounterVec
	datasetQueries  *prometheus.CounterVec
	proxyViolations prometheus.Counter
	datasetsLoaded  *prometheus.GaugeVec
	requestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Total number of address lookups by outcome.",
		}, []string{"outcome"}),
		datasetQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dataset_queries_total",
			Help:      "Total number of per-dataset queries by result state.",
		}, []string{"dataset", "state"}),
		proxyViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_trust_violations_total",
			Help:      "Forwarding headers ignored because the peer is not a trusted proxy.",
		}),
		datasetsLoaded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "datasets_loaded",
			Help:      "1 when the dataset loaded at startup, 0 otherwise.",
		}, []string{"dataset"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		m.lookups,
		m.datasetQueries,
		m.proxyViolations,
		m.datasetsLoaded,
		m.requestDuration,
	)

	return m
}

// ObserveOutcome counts one finished lookup.
func (m *Metrics) ObserveOutcome(outcome string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(outcome).Inc()
}

// ObserveDatasetQuery counts one dataset consultation.
func (m *Metrics) ObserveDatasetQuery(dataset, state string) {
	if m == nil {
		return
	}
	m.datasetQueries.WithLabelValues(dataset, state).Inc()
}

// ObserveProxyTrustViolation counts one ignored forwarding header.
func (m *Metrics) ObserveProxyTrustViolation() {
	if m == nil {
		return
	}
	m.proxyViolations.Inc()
}

// SetDatasetLoaded records the startup state of a dataset.
func (m *Metrics) SetDatasetLoaded(dataset string, loaded bool) {
	if m == nil {
		return
	}
	v := 0.0
	if loaded {
		v = 1
	}
	m.datasetsLoaded.WithLabelValues(dataset).Set(v)
}

// Middleware times every request by its route pattern.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// Handler serves the collectors gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
