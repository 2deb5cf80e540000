// Package metrics exposes spin counters for Prometheus.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const subsystem = "wheel"

var (
	// Registry holds every metric of this process.
	Registry = prometheus.NewRegistry()

	spinStartedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "spin_started_total",
			Help:      "Count of spins started, by result (ok, already_spinning, denied, error).",
		},
		[]string{"result"},
	)
	spinResolvedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "spin_resolved_total",
			Help:      "Count of spins resolved with a winner.",
		},
		[]string{},
	)
	casConflictCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "document_conflicts_total",
			Help:      "Count of compare-and-swap writes rejected for a stale version.",
		},
		[]string{"operation"},
	)
	wsClientsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Subsystem: subsystem,
			Name:      "websocket_clients",
			Help:      "Number of connected websocket clients.",
		},
	)
	httpRequestsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "http_requests_total",
			Help:      "Count of HTTP requests by route pattern and status code.",
		},
		[]string{"route", "code"},
	)
)

var registerMetrics sync.Once

// Register all metrics.
func Register() {
	registerMetrics.Do(func() {
		Registry.MustRegister(spinStartedCounter)
		Registry.MustRegister(spinResolvedCounter)
		Registry.MustRegister(casConflictCounter)
		Registry.MustRegister(wsClientsGauge)
		Registry.MustRegister(httpRequestsCounter)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordSpinStarted(result string) {
	spinStartedCounter.WithLabelValues(result).Inc()
}

func RecordSpinResolved() {
	spinResolvedCounter.WithLabelValues().Inc()
}

func RecordConflict(operation string) {
	casConflictCounter.WithLabelValues(operation).Inc()
}

func SetWebSocketClients(n int) {
	wsClientsGauge.Set(float64(n))
}

func RecordHTTPRequest(route, code string) {
	httpRequestsCounter.WithLabelValues(route, code).Inc()
}
