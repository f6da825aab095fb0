// Package stats derives counters and rates from a profile's worker output.
// Everything here is a pure function of its inputs.
package stats

import (
	"regexp"
	"strconv"
	"time"
)

// Counter identifies a cumulative total reported in worker output.
type Counter string

// Known counters.
const (
	ResourceGather Counter = "resource_gather"
	CombatWin      Counter = "combat_win"
)

// Snapshot is a point-in-time view of one profile's statistics.
type Snapshot struct {
	Profile          string    `json:"profile"`
	ResourceGathered int64     `json:"resource_gathered"`
	CombatWins       int64     `json:"combat_wins"`
	UptimeHours      float64   `json:"uptime_hours"`
	GatherRate       float64   `json:"gather_rate"`
	CombatRate       float64   `json:"combat_rate"`
	ComputedAt       time.Time `json:"computed_at"`
}

// markers match a counter name followed by its cumulative value, e.g.
// "resource-gather count=7", "combat_win total=3", "combat win count: 12".
var markers = map[Counter]*regexp.Regexp{
	ResourceGather: regexp.MustCompile(`(?i)resource[-_ ]gather\b.*?\b(?:count|total)\s*[=:]\s*(\d+)`),
	CombatWin:      regexp.MustCompile(`(?i)combat[-_ ]win\b.*?\b(?:count|total)\s*[=:]\s*(\d+)`),
}

// ParseCounters returns the last value observed for each counter in lines.
// Workers report running totals, so later values replace earlier ones even
// when smaller.
func ParseCounters(lines []string) map[Counter]int64 {
	counts := make(map[Counter]int64, len(markers))
	for _, line := range lines {
		for counter, re := range markers {
			m := re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			n, err := strconv.ParseInt(m[1], 10, 64)
			if err != nil {
				continue
			}
			counts[counter] = n
		}
	}
	return counts
}

// UptimeHours returns the hours between start and now, clamped at 0.
// A zero start yields 0.
func UptimeHours(start, now time.Time) float64 {
	if start.IsZero() || !now.After(start) {
		return 0
	}
	return now.Sub(start).Hours()
}

// Rate returns count per hour, exactly 0 when hours is 0.
func Rate(count int64, hours float64) float64 {
	if hours <= 0 {
		return 0
	}
	return float64(count) / hours
}

// Extract computes a snapshot for profile from its log lines.
func Extract(profile string, lines []string, start, now time.Time) Snapshot {
	counts := ParseCounters(lines)
	hours := UptimeHours(start, now)

	return Snapshot{
		Profile:          profile,
		ResourceGathered: counts[ResourceGather],
		CombatWins:       counts[CombatWin],
		UptimeHours:      hours,
		GatherRate:       Rate(counts[ResourceGather], hours),
		CombatRate:       Rate(counts[CombatWin], hours),
		ComputedAt:       now,
	}
}
