// Package metrics provides Prometheus metrics for the profile supervisor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lokmanager"

var (
	runningProfiles = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "supervisor",
		Name:      "running_profiles",
		Help:      "Number of profiles with a live worker",
	})

	workerStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "supervisor",
		Name:      "worker_starts_total",
		Help:      "Workers spawned",
	}, []string{"profile"})

	workerStops = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "supervisor",
		Name:      "worker_stops_total",
		Help:      "Worker instances removed, by reason",
	}, []string{"profile", "reason"})

	spawnFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "supervisor",
		Name:      "spawn_failures_total",
		Help:      "Worker spawn attempts that failed",
	}, []string{"profile"})

	persistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "persist_failures_total",
		Help:      "Profile file writes that failed",
	})
)

// SetRunningProfiles sets the number of running profiles.
func SetRunningProfiles(n int) {
	runningProfiles.Set(float64(n))
}

// RecordWorkerStart counts a spawned worker.
func RecordWorkerStart(profile string) {
	workerStarts.WithLabelValues(profile).Inc()
}

// RecordWorkerStop counts a removed worker instance.
func RecordWorkerStop(profile, reason string) {
	workerStops.WithLabelValues(profile, reason).Inc()
}

// RecordSpawnFailure counts a failed spawn.
func RecordSpawnFailure(profile string) {
	spawnFailures.WithLabelValues(profile).Inc()
}

// RecordPersistFailure counts a failed profile file write.
func RecordPersistFailure() {
	persistFailures.Inc()
}

// DeleteProfileMetrics removes all labelled series for a profile.
func DeleteProfileMetrics(profile string) {
	workerStarts.DeleteLabelValues(profile)
	spawnFailures.DeleteLabelValues(profile)
	workerStops.DeletePartialMatch(prometheus.Labels{"profile": profile})
}
