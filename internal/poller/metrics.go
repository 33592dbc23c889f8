package poller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the delta poll loop. Tick failures never reach
// callers, so these counters (plus the Warn log) are the observable side
// channel for sync health.
var (
	ticksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tidewater_poll_ticks_total",
		Help: "Total poll ticks by outcome",
	}, []string{"outcome"})

	entitiesMergedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tidewater_poll_entities_merged_total",
		Help: "Delta entities applied to local stores",
	})

	staleDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tidewater_poll_stale_drops_total",
		Help: "Delta entities dropped by the version check",
	})

	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tidewater_poll_tick_duration_seconds",
		Help:    "Time spent per poll tick including merge",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})
)

const (
	outcomeOK    = "ok"
	outcomeError = "error"
)
