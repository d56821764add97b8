// Package metrics exposes the coordinator's Prometheus instrumentation.
// Metrics are additive observability, not a correctness feature — nothing
// in the dispatch or session logic depends on a scrape succeeding.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the coordinator registers, grounded on
// the orchestration-service pattern of holding prometheus fields directly
// on a long-lived coordination type.
type Metrics struct {
	registry *prometheus.Registry

	DronesConnected      prometheus.Gauge
	SurvivorsWaiting     prometheus.Gauge
	SurvivorsAssigned    prometheus.Gauge
	SurvivorsHelpedTotal prometheus.Counter
	ObserverSessions     prometheus.Gauge

	DispatchCyclesTotal          prometheus.Counter
	DispatchAssignmentDuration   prometheus.Histogram
}

// New registers and returns a fresh Metrics bundle.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		DronesConnected: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "dronecoord_drones_connected",
			Help: "Number of drones currently connected.",
		}),
		SurvivorsWaiting: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "dronecoord_survivors_waiting",
			Help: "Number of survivors currently in state WAITING.",
		}),
		SurvivorsAssigned: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "dronecoord_survivors_assigned",
			Help: "Number of survivors currently in state ASSIGNED.",
		}),
		SurvivorsHelpedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dronecoord_survivors_helped_total",
			Help: "Total number of survivors moved to HELPED.",
		}),
		ObserverSessions: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "dronecoord_observer_sessions",
			Help: "Number of connected observer sessions.",
		}),
		DispatchCyclesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dronecoord_dispatch_cycles_total",
			Help: "Total number of dispatcher cycles executed.",
		}),
		DispatchAssignmentDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "dronecoord_dispatch_assignment_duration_seconds",
			Help:    "Wall-clock time spent in one dispatcher cycle, including cycles that assign no mission.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	return m
}

// Serve runs an HTTP server exposing /metrics until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shut down metrics server: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	}
}
