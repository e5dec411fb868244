package proxy

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"
)

// proxyMetrics tracks per-response-status request counts and upstream
// forwarding latency, exposed on GET /metrics.
type proxyMetrics struct {
	requestsTotal *prometheus.CounterVec
	upstreamMs    *prometheus.HistogramVec
	registry      *prometheus.Registry
	handler       http.Handler
}

func newProxyMetrics() *proxyMetrics {
	reg := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "janusd_proxy_requests_total",
		Help: "Total proxy requests by route class and response status.",
	}, []string{"route", "status"})

	upstreamMs := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "janusd_proxy_upstream_duration_milliseconds",
		Help:    "Upstream forwarding latency in milliseconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	reg.MustRegister(requestsTotal, upstreamMs, version.NewCollector("janusd"))

	return &proxyMetrics{
		requestsTotal: requestsTotal,
		upstreamMs:    upstreamMs,
		registry:      reg,
		handler:       promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
}

func (m *proxyMetrics) observeRequest(route string, status int) {
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func (m *proxyMetrics) observeUpstreamMillis(model string, ms float64) {
	m.upstreamMs.WithLabelValues(model).Observe(ms)
}
