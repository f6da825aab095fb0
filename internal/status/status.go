// Package status periodically assembles the summary shown to operators:
// how many workers run, which profiles exist and the statistics of the
// selected profile.
package status

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/smazurov/lokmanager/internal/events"
	"github.com/smazurov/lokmanager/internal/logging"
	"github.com/smazurov/lokmanager/internal/profile"
	"github.com/smazurov/lokmanager/internal/stats"
)

// DefaultInterval is the refresh cadence used when none is configured.
const DefaultInterval = time.Second

// Source is the read side of the supervisor used on every tick.
type Source interface {
	RunningCount() int
	Names() []string
	Profile(name string) (profile.Profile, error)
	Stats(name string, now time.Time) (stats.Snapshot, error)
}

// Report is the result of one refresh.
type Report struct {
	RunningCount   int             `json:"running_count"`
	Summary        string          `json:"summary"`
	Profiles       []string        `json:"profiles"`
	Selected       string          `json:"selected,omitempty"`
	SelectedStatus profile.Status  `json:"selected_status,omitempty"`
	Stats          *stats.Snapshot `json:"stats,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Summary returns the status line for n running workers.
func Summary(n int) string {
	if n > 0 {
		return fmt.Sprintf("Running %d bot(s)", n)
	}
	return "Ready"
}

// Synchronizer refreshes a Report on a fixed interval.
type Synchronizer struct {
	source   Source
	bus      *events.Bus
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.RWMutex
	selected string
	latest   Report
}

// New creates a synchronizer. A nil bus disables snapshot events.
func New(source Source, bus *events.Bus, interval time.Duration) *Synchronizer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Synchronizer{
		source:   source,
		bus:      bus,
		interval: interval,
		now:      time.Now,
		logger:   logging.GetLogger("status"),
		latest:   Report{Summary: Summary(0), Profiles: []string{}},
	}
}

// Run refreshes immediately and then on every interval until ctx is done.
func (s *Synchronizer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Select sets the profile shown in detail. An empty name clears it.
func (s *Synchronizer) Select(name string) {
	s.mu.Lock()
	s.selected = name
	s.mu.Unlock()
}

// Selected returns the profile shown in detail.
func (s *Synchronizer) Selected() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// Snapshot returns the latest refresh result.
func (s *Synchronizer) Snapshot() Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.latest
	snap.Profiles = slices.Clone(s.latest.Profiles)
	if s.latest.Stats != nil {
		st := *s.latest.Stats
		snap.Stats = &st
	}
	return snap
}

// Tick performs one refresh. No lock is held while the source is queried.
func (s *Synchronizer) Tick() Report {
	now := s.now()
	selected := s.Selected()

	snap := Report{
		RunningCount: s.source.RunningCount(),
		Profiles:     s.source.Names(),
		UpdatedAt:    now,
	}
	snap.Summary = Summary(snap.RunningCount)

	if selected != "" {
		p, err := s.source.Profile(selected)
		if err != nil {
			s.logger.Debug("Selected profile is gone, clearing selection", "profile", selected)
			s.clearSelection(selected)
		} else if st, err := s.source.Stats(selected, now); err == nil {
			snap.Selected = selected
			snap.SelectedStatus = p.Status
			snap.Stats = &st
		}
	}

	s.mu.Lock()
	s.latest = snap
	s.mu.Unlock()

	s.bus.Publish(snap.Event())
	return snap
}

// Event converts the snapshot into its bus form.
func (snap Report) Event() events.StatusSnapshotEvent {
	return events.StatusSnapshotEvent{
		RunningCount: snap.RunningCount,
		Summary:      snap.Summary,
		Profiles:     snap.Profiles,
		Selected:     snap.Selected,
		Timestamp:    snap.UpdatedAt.Format(time.RFC3339),
	}
}

// clearSelection clears the selection unless it changed in the meantime.
func (s *Synchronizer) clearSelection(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == name {
		s.selected = ""
	}
}
