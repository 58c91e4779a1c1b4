// Package metrics exposes prometheus collectors for signature verification,
// key resolution, delivery and HTTP traffic.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fedsig"

// Metrics holds the registered collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	verifications    *prometheus.CounterVec
	keyFetches       *prometheus.CounterVec
	keyFetchDuration prometheus.Histogram
	keyCacheLookups  *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	deliveryDuration prometheus.Histogram

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInflight prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg uses a
// fresh registry.
func New(reg *prometheus.Registry) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		gatherer: reg,

		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signature_verifications_total",
			Help:      "Inbound signature verifications by outcome.",
		}, []string{"result"}),

		keyFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_fetches_total",
			Help:      "Remote public key fetches by outcome.",
		}, []string{"result"}),

		keyFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "key_fetch_duration_seconds",
			Help:      "Latency of remote public key fetches, retries included.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		keyCacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_cache_lookups_total",
			Help:      "Public key cache lookups by result.",
		}, []string{"result"}),

		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Outbound signed deliveries by outcome.",
		}, []string{"result"}),

		deliveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Latency of outbound deliveries.",
			Buckets:   prometheus.DefBuckets,
		}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests processed.",
		}, []string{"method", "route", "status"}),

		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),

		httpInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "HTTP requests currently being served.",
		}),
	}

	all := []prometheus.Collector{
		m.verifications,
		m.keyFetches,
		m.keyFetchDuration,
		m.keyCacheLookups,
		m.deliveries,
		m.deliveryDuration,
		m.httpRequests,
		m.httpDuration,
		m.httpInflight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}

	for _, c := range all {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveVerification counts one inbound verification. result is
// "accepted" or the reject kind.
func (m *Metrics) ObserveVerification(result string) {
	if m == nil {
		return
	}

	m.verifications.WithLabelValues(result).Inc()
}

// ObserveKeyFetch records a remote key fetch. result is "ok" or an error
// class such as "not_found", "fetch" or "invalid_document".
func (m *Metrics) ObserveKeyFetch(result string, seconds float64) {
	if m == nil {
		return
	}

	m.keyFetches.WithLabelValues(result).Inc()
	m.keyFetchDuration.Observe(seconds)
}

// ObserveKeyCache counts a cache lookup as a hit or a miss.
func (m *Metrics) ObserveKeyCache(hit bool) {
	if m == nil {
		return
	}

	result := "miss"
	if hit {
		result = "hit"
	}

	m.keyCacheLookups.WithLabelValues(result).Inc()
}

// ObserveDelivery records an outbound delivery. result is "delivered",
// "rejected" or "error".
func (m *Metrics) ObserveDelivery(result string, seconds float64) {
	if m == nil {
		return
	}

	m.deliveries.WithLabelValues(result).Inc()
	m.deliveryDuration.Observe(seconds)
}
