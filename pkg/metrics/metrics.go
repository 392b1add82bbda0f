// Package metrics defines the Prometheus metric collectors for the matching
// subsystem and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors the matching core updates.
type Metrics struct {
	MatchThreadsActive     prometheus.Gauge
	MatchDocsVisitedTotal  prometheus.Counter
	MatchSoftDoomTotal     prometheus.Counter
	MatchHardDoomTotal     prometheus.Counter
	MatchPhaseLimitedTotal prometheus.Counter
	MatchLatencySeconds    *prometheus.HistogramVec
	SessionCacheSize       *prometheus.GaugeVec
	SessionDroppedTotal    prometheus.Counter
}

// New creates and registers the matching-core metrics.
func New() *Metrics {
	m := &Metrics{
		MatchThreadsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "match_threads_active",
				Help: "Number of match threads currently executing a query.",
			},
		),
		MatchDocsVisitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "match_docs_visited_total",
				Help: "Total documents visited by the match loop across all queries.",
			},
		),
		MatchSoftDoomTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "match_soft_doom_total",
				Help: "Total match threads that stopped early due to the soft deadline.",
			},
		),
		MatchHardDoomTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "match_hard_doom_total",
				Help: "Total match threads that abandoned rerank work due to the hard deadline.",
			},
		),
		MatchPhaseLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "match_phase_limited_total",
				Help: "Total queries whose candidate set was capped by the match-phase limiter.",
			},
		),
		MatchLatencySeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "match_latency_seconds",
				Help:    "End-to-end match() latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"degraded"},
		),
		SessionCacheSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "session_cache_size",
				Help: "Number of entries currently held in a matching session cache.",
			},
			[]string{"cache"},
		),
		SessionDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "session_dropped_total",
				Help: "Total grouping sessions evicted from the bounded session cache.",
			},
		),
	}

	prometheus.MustRegister(
		m.MatchThreadsActive,
		m.MatchDocsVisitedTotal,
		m.MatchSoftDoomTotal,
		m.MatchHardDoomTotal,
		m.MatchPhaseLimitedTotal,
		m.MatchLatencySeconds,
		m.SessionCacheSize,
		m.SessionDroppedTotal,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
