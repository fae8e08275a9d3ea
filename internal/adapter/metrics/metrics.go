// Package metrics exposes the gateway's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	proxyRequests   *prometheus.CounterVec
	proxyDuration   *prometheus.HistogramVec
	rateLimitDenied *prometheus.CounterVec
	ruleTriggers    *prometheus.CounterVec
	scriptFailures  *prometheus.CounterVec
	retries         *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		proxyRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keygate",
			Name:      "proxy_requests_total",
			Help:      "Proxied requests by upstream and response status class.",
		}, []string{"upstream", "status"}),
		proxyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "keygate",
			Name:      "proxy_request_duration_seconds",
			Help:      "End-to-end proxy latency by upstream.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"upstream"}),
		rateLimitDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keygate",
			Name:      "rate_limit_denials_total",
			Help:      "Requests denied by the sliding-window limiter, by window.",
		}, []string{"upstream", "window"}),
		ruleTriggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keygate",
			Name:      "rule_triggers_total",
			Help:      "Rule firings by upstream and rule ID.",
		}, []string{"upstream", "rule_id"}),
		scriptFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keygate",
			Name:      "script_failures_total",
			Help:      "Header script failures by error class.",
		}, []string{"class"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keygate",
			Name:      "upstream_retries_total",
			Help:      "Retried outbound attempts by upstream.",
		}, []string{"upstream"}),
	}

	m.registry.MustRegister(
		m.proxyRequests,
		m.proxyDuration,
		m.rateLimitDenied,
		m.ruleTriggers,
		m.scriptFailures,
		m.retries,
	)
	return m
}

func (m *Metrics) ObserveProxyRequest(upstream string, status int, elapsed time.Duration) {
	m.proxyRequests.WithLabelValues(upstream, strconv.Itoa(status)).Inc()
	m.proxyDuration.WithLabelValues(upstream).Observe(elapsed.Seconds())
}

func (m *Metrics) RateLimitDenied(upstream, window string) {
	m.rateLimitDenied.WithLabelValues(upstream, window).Inc()
}

func (m *Metrics) RuleTriggered(upstream string, ruleID int64) {
	m.ruleTriggers.WithLabelValues(upstream, strconv.FormatInt(ruleID, 10)).Inc()
}

func (m *Metrics) ScriptFailed(class string) {
	m.scriptFailures.WithLabelValues(class).Inc()
}

func (m *Metrics) RetryAttempted(upstream string) {
	m.retries.WithLabelValues(upstream).Inc()
}

// Handler serves the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
