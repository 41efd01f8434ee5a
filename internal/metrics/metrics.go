// Package metrics exposes Prometheus collectors for the fetch loop and
// the web layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchesTotal counts exchange snapshot fetches by outcome
	// ("success" or "error").
	FetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coindeck",
		Subsystem: "exchange",
		Name:      "fetches_total",
		Help:      "Snapshot fetch attempts by outcome.",
	}, []string{"outcome"})

	// SymbolFetchErrors counts per-symbol ticker failures inside an
	// otherwise successful fan-out.
	SymbolFetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coindeck",
		Subsystem: "exchange",
		Name:      "symbol_fetch_errors_total",
		Help:      "Ticker fetch failures by symbol.",
	}, []string{"symbol"})

	// FetchDuration observes wall time of full snapshot fan-outs.
	FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "coindeck",
		Subsystem: "exchange",
		Name:      "fetch_duration_seconds",
		Help:      "Duration of snapshot fan-out fetches.",
		Buckets:   prometheus.DefBuckets,
	})

	// ConsecutiveFailures mirrors the freshness tracker's failure
	// counter for alerting on sustained outages.
	ConsecutiveFailures = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "coindeck",
		Subsystem: "exchange",
		Name:      "consecutive_failures",
		Help:      "Consecutive failed refresh cycles.",
	})

	// AlertsTriggered counts price alert firings.
	AlertsTriggered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coindeck",
		Subsystem: "alerts",
		Name:      "triggered_total",
		Help:      "Price alerts fired, after cooldown filtering.",
	})

	// WebsocketClients tracks connected dashboard websocket clients.
	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "coindeck",
		Subsystem: "web",
		Name:      "websocket_clients",
		Help:      "Currently connected websocket clients.",
	})

	// HTTPRequests counts API requests by route and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coindeck",
		Subsystem: "web",
		Name:      "http_requests_total",
		Help:      "API requests by route and status class.",
	}, []string{"route", "status"})
)
