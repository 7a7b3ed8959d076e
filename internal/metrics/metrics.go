// ============================================================================
// Ambush Metrics - Prometheus instrumentation
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
//
// Collector satisfies the observer hooks of the correlation registry, the
// duel coordinator and the hate engine, so wiring it is one SetObserver call
// per component.
//
// Metric families:
//
//   1. Counters
//      - ambush_markers_total{event}        issued / completed / missed / cancelled / panicked
//      - ambush_rolls_total{faction,result} success / failure
//      - ambush_triggered_total{faction}
//      - ambush_units_spawned_total{kind}   squad / follow_up
//      - ambush_duels_total{event}          started / ended
//      - ambush_saves_total{result}         ok / error
//
//   2. Histograms
//      - ambush_save_duration_seconds
//
//   3. Gauges
//      - ambush_markers_pending
//      - ambush_duels_active
//      - ambush_hate_records
//      - ambush_recovery_time_seconds
//
// Example queries:
//
//   # trigger rate per faction
//   rate(ambush_triggered_total[5m])
//
//   # spawns that never came back
//   rate(ambush_markers_total{event="missed"}[5m])
//
// ============================================================================

package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ChuLiYu/faction-ambush/pkg/types"
)

var log = slog.Default()

// Collector holds every ambushd metric
type Collector struct {
	markers      *prometheus.CounterVec
	rolls        *prometheus.CounterVec
	triggered    *prometheus.CounterVec
	unitsSpawned *prometheus.CounterVec
	duels        *prometheus.CounterVec
	saves        *prometheus.CounterVec

	saveDuration prometheus.Histogram

	markersPending prometheus.Gauge
	duelsActive    prometheus.Gauge
	hateRecords    prometheus.Gauge
	recoveryTime   prometheus.Gauge
}

// NewCollector creates the collector and registers it with reg. A nil reg
// uses prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		markers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ambush_markers_total",
			Help: "Spawn markers by lifecycle event",
		}, []string{"event"}),
		rolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ambush_rolls_total",
			Help: "Ambush chance rolls by faction and result",
		}, []string{"faction", "result"}),
		triggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ambush_triggered_total",
			Help: "Ambushes that spawned a squad",
		}, []string{"faction"}),
		unitsSpawned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ambush_units_spawned_total",
			Help: "Units requested from the host",
		}, []string{"kind"}),
		duels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ambush_duels_total",
			Help: "Duel lifecycle events",
		}, []string{"event"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ambush_saves_total",
			Help: "Hate table saves by result",
		}, []string{"result"}),
		saveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ambush_save_duration_seconds",
			Help:    "Time spent persisting the hate table",
			Buckets: prometheus.DefBuckets,
		}),
		markersPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ambush_markers_pending",
			Help: "Spawn markers awaiting their entity",
		}),
		duelsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ambush_duels_active",
			Help: "Duels currently tracked",
		}),
		hateRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ambush_hate_records",
			Help: "Player/faction hate records held in memory",
		}),
		recoveryTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ambush_recovery_time_seconds",
			Help: "Time taken to restore the hate table at startup",
		}),
	}

	reg.MustRegister(
		c.markers,
		c.rolls,
		c.triggered,
		c.unitsSpawned,
		c.duels,
		c.saves,
		c.saveDuration,
		c.markersPending,
		c.duelsActive,
		c.hateRecords,
		c.recoveryTime,
	)
	return c
}

// ============================================================================
// correlation.Observer
// ============================================================================

func (c *Collector) MarkerIssued() { c.markers.WithLabelValues("issued").Inc() }
func (c *Collector) MarkerCompleted() { c.markers.WithLabelValues("completed").Inc() }
func (c *Collector) MarkerMissed() { c.markers.WithLabelValues("missed").Inc() }
func (c *Collector) MarkerCancelled() { c.markers.WithLabelValues("cancelled").Inc() }
func (c *Collector) CallbackPanicked() { c.markers.WithLabelValues("panicked").Inc() }
func (c *Collector) PendingMarkers(n int) { c.markersPending.Set(float64(n)) }

// ============================================================================
// hate.Observer
// ============================================================================

// AmbushRolled counts one chance roll
func (c *Collector) AmbushRolled(faction types.FactionID, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.rolls.WithLabelValues(string(faction), result).Inc()
}

// AmbushTriggered counts a spawned squad and its units
func (c *Collector) AmbushTriggered(faction types.FactionID, units int) {
	c.triggered.WithLabelValues(string(faction)).Inc()
	c.unitsSpawned.WithLabelValues("squad").Add(float64(units))
}

func (c *Collector) FollowUpDispatched(units int) {
	c.unitsSpawned.WithLabelValues("follow_up").Add(float64(units))
}

func (c *Collector) HateRecords(n int) { c.hateRecords.Set(float64(n)) }

// ============================================================================
// duel.Observer
// ============================================================================

func (c *Collector) DuelStarted(int64) { c.duels.WithLabelValues("started").Inc() }
func (c *Collector) DuelEnded(int64) { c.duels.WithLabelValues("ended").Inc() }
func (c *Collector) ActiveDuels(n int) { c.duelsActive.Set(float64(n)) }

// ============================================================================
// Persistence
// ============================================================================

// RecordSave observes one save attempt
func (c *Collector) RecordSave(elapsed time.Duration, err error) {
	c.saveDuration.Observe(elapsed.Seconds())
	if err != nil {
		c.saves.WithLabelValues("error").Inc()
		return
	}
	c.saves.WithLabelValues("ok").Inc()
}

// SetRecoveryTime records how long startup restore took
func (c *Collector) SetRecoveryTime(elapsed time.Duration) {
	c.recoveryTime.Set(elapsed.Seconds())
}

// ============================================================================
// HTTP endpoint
// ============================================================================

// Server exposes /metrics for one gatherer
type Server struct {
	srv *http.Server
}

// NewServer builds a /metrics server on port. A nil gatherer uses
// prometheus.DefaultGatherer.
func NewServer(port int, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &Server{srv: &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Start serves in the background until Shutdown
func (s *Server) Start() {
	go func() {
		log.Info("metrics server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", "error", err)
		}
	}()
}

// Shutdown stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
