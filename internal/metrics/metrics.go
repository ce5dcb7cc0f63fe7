// Package metrics exports counters and gauges about fallback authentication to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fallbackauth"

type Metrics struct {
	reg prometheus.Registerer

	fallback    *prometheus.CounterVec
	rateLimited prometheus.Counter
	keySync     *prometheus.CounterVec
}

// New registers all metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reg: reg,
		fallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Fallback authentication attempts by outcome and disconnect reason.",
		}, []string{"outcome", "reason"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Fallback authentication attempts refused because of the per-address rate limit.",
		}),
		keySync: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_sync_total",
			Help:      "Key sync exchanges after regular logins by result.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.fallback, m.rateLimited, m.keySync)
	return m
}

// rate limited attempts are reported with this reason
const tooManyRequests = "Too many requests"

func (m *Metrics) FallbackResult(outcome, reason string) {
	m.fallback.WithLabelValues(outcome, reason).Inc()
	if reason == tooManyRequests {
		m.rateLimited.Inc()
	}
}

func (m *Metrics) KeySyncResult(status string) {
	m.keySync.WithLabelValues(status).Inc()
}

// WatchSize exports the value returned by size as a gauge named fallbackauth_<name>.
func (m *Metrics) WatchSize(name, help string, size func() int) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(size()) }))
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
