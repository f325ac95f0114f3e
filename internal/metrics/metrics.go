package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	botStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botfarm",
			Subsystem: "bot",
			Name:      "starts_total",
			Help:      "Number of successful bot starts.",
		}, []string{"bot"},
	)
	botStartFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botfarm",
			Subsystem: "bot",
			Name:      "start_failures_total",
			Help:      "Number of failed bot starts (install or launch).",
		}, []string{"bot"},
	)
	botStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botfarm",
			Subsystem: "bot",
			Name:      "stops_total",
			Help:      "Number of bot stops (graceful or kill).",
		}, []string{"bot"},
	)
	botCrashRecoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botfarm",
			Subsystem: "bot",
			Name:      "crash_recoveries_total",
			Help:      "Number of crash-monitor restart attempts.",
		}, []string{"bot"},
	)
	botCPUPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "botfarm",
			Subsystem: "bot",
			Name:      "cpu_percent",
			Help:      "Sampled CPU usage percentage per bot.",
		}, []string{"bot"},
	)
	botMemoryMB = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "botfarm",
			Subsystem: "bot",
			Name:      "memory_mb",
			Help:      "Sampled resident memory in MB per bot.",
		}, []string{"bot"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{botStarts, botStartFailures, botStops, botCrashRecoveries, botCPUPercent, botMemoryMB}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncStart(id int64) {
	if regOK.Load() {
		botStarts.WithLabelValues(label(id)).Inc()
	}
}

func IncStartFailure(id int64) {
	if regOK.Load() {
		botStartFailures.WithLabelValues(label(id)).Inc()
	}
}

func IncStop(id int64) {
	if regOK.Load() {
		botStops.WithLabelValues(label(id)).Inc()
	}
}

func IncCrashRecovery(id int64) {
	if regOK.Load() {
		botCrashRecoveries.WithLabelValues(label(id)).Inc()
	}
}

func SetUsage(id int64, cpuPercent, memoryMB float64) {
	if regOK.Load() {
		botCPUPercent.WithLabelValues(label(id)).Set(cpuPercent)
		botMemoryMB.WithLabelValues(label(id)).Set(memoryMB)
	}
}

func label(id int64) string { return strconv.FormatInt(id, 10) }
