package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/smazurov/lokmanager/internal/stats"
)

// StatsSource returns fresh statistics for every profile of interest.
type StatsSource func() []stats.Snapshot

// StatsCollector exports per-profile statistics, computed at scrape time.
type StatsCollector struct {
	source StatsSource

	resourceGathered *prometheus.Desc
	combatWins       *prometheus.Desc
	uptimeHours      *prometheus.Desc
	gatherRate       *prometheus.Desc
	combatRate       *prometheus.Desc
}

// NewStatsCollector creates a collector reading from source.
func NewStatsCollector(source StatsSource) *StatsCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "profile", name), help, []string{"profile"}, nil)
	}
	return &StatsCollector{
		source:           source,
		resourceGathered: desc("resource_gathered", "Last reported resource gather total"),
		combatWins:       desc("combat_wins", "Last reported combat win total"),
		uptimeHours:      desc("uptime_hours", "Hours since the worker started"),
		gatherRate:       desc("gather_rate", "Resource gathers per hour of uptime"),
		combatRate:       desc("combat_rate", "Combat wins per hour of uptime"),
	}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.resourceGathered
	ch <- c.combatWins
	ch <- c.uptimeHours
	ch <- c.gatherRate
	ch <- c.combatRate
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	for _, snap := range c.source() {
		ch <- prometheus.MustNewConstMetric(c.resourceGathered, prometheus.GaugeValue, float64(snap.ResourceGathered), snap.Profile)
		ch <- prometheus.MustNewConstMetric(c.combatWins, prometheus.GaugeValue, float64(snap.CombatWins), snap.Profile)
		ch <- prometheus.MustNewConstMetric(c.uptimeHours, prometheus.GaugeValue, snap.UptimeHours, snap.Profile)
		ch <- prometheus.MustNewConstMetric(c.gatherRate, prometheus.GaugeValue, snap.GatherRate, snap.Profile)
		ch <- prometheus.MustNewConstMetric(c.combatRate, prometheus.GaugeValue, snap.CombatRate, snap.Profile)
	}
}
