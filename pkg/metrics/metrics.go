// Package metrics provides Prometheus metrics collection for the memory
// engine: operation counters, search statistics and reconciler activity,
// served from a standalone /metrics listener.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lewisedginton/memory_vault/pkg/logger"
)

const subsystem = "memory_vault"

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	reg *prometheus.Registry

	MemoriesCreated   prometheus.Counter
	MemoriesUpdated   prometheus.Counter
	MemoriesDeleted   prometheus.Counter
	SearchesTotal     prometheus.Counter
	SearchHitsDropped prometheus.Counter
	CategoryFallbacks prometheus.Counter
	ReconcilerRuns    prometheus.Counter
	ReconcilerRepairs prometheus.Counter
	VersionConflicts  prometheus.Counter

	OperationDuration *prometheus.HistogramVec

	stopChan chan os.Signal
	errChan  chan error
	log      logger.Logger
}

// NewMetrics creates a Metrics instance with all engine collectors registered.
func NewMetrics(l logger.Logger) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		log: l,
	}

	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		})
		m.reg.MustRegister(c)
		return c
	}

	m.MemoriesCreated = counter("memories_created_total", "Memories created")
	m.MemoriesUpdated = counter("memories_updated_total", "Memories updated")
	m.MemoriesDeleted = counter("memories_deleted_total", "Memories deleted")
	m.SearchesTotal = counter("searches_total", "Similarity searches executed")
	m.SearchHitsDropped = counter("search_hits_dropped_total", "Ranked ids dropped because the durable fetch failed")
	m.CategoryFallbacks = counter("category_fallbacks_total", "Categorizations replaced by the fallback label")
	m.ReconcilerRuns = counter("reconciler_runs_total", "Consistency checks executed")
	m.ReconcilerRepairs = counter("reconciler_repairs_total", "Repairs performed by the reconciler")
	m.VersionConflicts = counter("version_conflicts_total", "Durable writes rejected for a stale version token")

	m.OperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Subsystem: subsystem,
		Name:      "operation_duration_seconds",
		Help:      "Engine operation duration in seconds",
		Buckets:   []float64{0.1, 0.3, 0.5, 0.7, 1.0, 3.0, 5.0, 7.0, 10.0},
	}, []string{"operation"})
	m.reg.MustRegister(m.OperationDuration)

	return m
}

// ObserveOperation records one engine operation's duration.
func (m *Metrics) ObserveOperation(operation string, d time.Duration) {
	m.OperationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// Registry exposes the underlying registry for custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// AddCustomMetric registers a custom Prometheus collector.
func (m *Metrics) AddCustomMetric(c prometheus.Collector) {
	m.reg.MustRegister(c)
}

// Listen starts the metrics HTTP server on the specified port.
func (m *Metrics) Listen(port int) {
	m.log.Info("Starting metrics listener", logger.IntField("port", port))
	mux := http.NewServeMux()
	mux.Handle("/", http.NotFoundHandler())
	mux.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigChan := make(chan os.Signal)
	errChan := make(chan error)
	go func() {
		errChan <- server.ListenAndServe()
	}()
	go func() {
		for {
			sig := <-sigChan
			if sig == os.Interrupt {
				m.log.Info("Stopping metrics listener")
				_ = server.Shutdown(context.Background())
				return
			}
		}
	}()
	m.errChan = errChan
	m.stopChan = sigChan
}

// Stop shuts the metrics listener down.
func (m *Metrics) Stop() {
	if m.stopChan != nil {
		m.stopChan <- os.Interrupt
	}
}

// Errors returns the listener's error channel.
func (m *Metrics) Errors() <-chan error {
	return m.errChan
}
