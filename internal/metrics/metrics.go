// Package metrics provides Prometheus instrumentation for the LUIS proxy.
// All metric collectors are registered by Init and exposed through the
// Handler for scraping.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts inbound requests by route name, method, and HTTP status code.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "luisproxy_requests_total",
			Help: "Total inbound HTTP requests handled by a proxy route",
		},
		[]string{"route", "method", "status"},
	)

	// RequestDuration observes inbound request latency in seconds by route and method.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "luisproxy_request_duration_seconds",
			Help:    "Inbound request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// ActiveRequests tracks the number of in-flight forwarded requests.
	ActiveRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "luisproxy_active_requests",
			Help: "Number of forwarded requests currently waiting on a backend",
		},
	)

	// UpstreamRequestsTotal counts outbound backend calls by route and outcome
	// ("ok", "network_error", "bad_status", "parse_error").
	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "luisproxy_upstream_requests_total",
			Help: "Total outbound calls to NLU backends",
		},
		[]string{"route", "outcome"},
	)

	// UpstreamDuration observes outbound call latency in seconds by route.
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "luisproxy_upstream_duration_seconds",
			Help:    "Outbound backend call latency in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"route"},
	)

	// ConfigUpdatesTotal counts runtime settings updates via /config.
	ConfigUpdatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "luisproxy_config_updates_total",
			Help: "Total runtime backend settings updates",
		},
	)

	// RateLimitHits counts rate limit rejections by matched path prefix.
	RateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "luisproxy_rate_limit_hits_total",
			Help: "Total rate limit rejections",
		},
		[]string{"route"},
	)
)

var registerOnce sync.Once

// Init registers all metric collectors with the default Prometheus registry.
// Must be called before handling requests; later calls are no-ops.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(Collectors()...)
	})
}

// Collectors returns every collector owned by this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		RequestsTotal,
		RequestDuration,
		ActiveRequests,
		UpstreamRequestsTotal,
		UpstreamDuration,
		ConfigUpdatesTotal,
		RateLimitHits,
	}
}

// Handler returns an http.Handler that serves the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
