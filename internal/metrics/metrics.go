// Package metrics exposes Prometheus counters for interception, upstream calls
// and exports. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rh_exporter"

type Metrics struct {
	registry *prometheus.Registry

	observedCalls   *prometheus.CounterVec
	discovered      prometheus.Counter
	tokensCaptured  *prometheus.CounterVec
	upstreamCalls   *prometheus.CounterVec
	exports         *prometheus.CounterVec
	exportDurations prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		observedCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observed_calls_total",
			Help:      "Brokerage API calls observed by the interceptor.",
		}, []string{"primitive", "kind"}),
		discovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instruments_discovered_total",
			Help:      "Instrument ids added to the registry.",
		}),
		tokensCaptured: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_captured_total",
			Help:      "Bearer tokens stored in the token cache.",
		}, []string{"primitive"}),
		upstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Requests issued by the upstream client.",
		}, []string{"transport", "outcome"}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Export pipeline runs by outcome.",
		}, []string{"outcome"}),
		exportDurations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "export_duration_seconds",
			Help:      "Wall time of export pipeline runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		m.observedCalls,
		m.discovered,
		m.tokensCaptured,
		m.upstreamCalls,
		m.exports,
		m.exportDurations,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObservedCall(primitive, kind string) {
	if m == nil {
		return
	}
	m.observedCalls.WithLabelValues(primitive, kind).Inc()
}

func (m *Metrics) Discovered(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.discovered.Add(float64(n))
}

func (m *Metrics) TokenCaptured(primitive string) {
	if m == nil {
		return
	}
	m.tokensCaptured.WithLabelValues(primitive).Inc()
}

func (m *Metrics) UpstreamRequest(transport string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.upstreamCalls.WithLabelValues(transport, outcome).Inc()
}

func (m *Metrics) ExportFinished(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.exports.WithLabelValues(outcome).Inc()
	m.exportDurations.Observe(elapsed.Seconds())
}
