package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/lokmanager/internal/events"
	"github.com/smazurov/lokmanager/internal/logging"
	"github.com/smazurov/lokmanager/internal/metrics"
	"github.com/smazurov/lokmanager/internal/process"
	"github.com/smazurov/lokmanager/internal/profile"
	"github.com/smazurov/lokmanager/internal/stats"
	"github.com/smazurov/lokmanager/internal/worker"
)

// DefaultStopGrace is how long a worker has to exit after SIGTERM.
const DefaultStopGrace = 10 * time.Second

// Options configures a Supervisor.
type Options struct {
	Store         *profile.Store
	Logs          *logging.Buffer
	Bus           *events.Bus // optional
	WorkerCommand string
	ConfigDir     string
	StopGrace     time.Duration // 0 = SIGTERM only
	DrainWindow   time.Duration
	MaxLineBytes  int
	Logger        *slog.Logger
}

// Supervisor owns the worker lifecycle of every profile. Commands for one
// profile are serialized by a per-profile mutex; different profiles proceed
// in parallel.
type Supervisor struct {
	opts   Options
	store  *profile.Store
	logs   *logging.Buffer
	bus    *events.Bus
	logger *slog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	mu        sync.RWMutex
	instances map[string]*instance

	wg sync.WaitGroup
}

// New creates a supervisor. Store and Logs are required.
func New(opts Options) *Supervisor {
	if opts.WorkerCommand == "" {
		opts.WorkerCommand = worker.DefaultCommand
	}
	if opts.ConfigDir == "" {
		opts.ConfigDir = "."
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("supervisor")
	}
	return &Supervisor{
		opts:      opts,
		store:     opts.Store,
		logs:      opts.Logs,
		bus:       opts.Bus,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
		instances: make(map[string]*instance),
	}
}

// Store returns the profile store.
func (s *Supervisor) Store() *profile.Store {
	return s.store
}

func (s *Supervisor) lock(name string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	s.locksMu.Unlock()

	l.Lock()
	return l.Unlock
}

func (s *Supervisor) instance(name string) *instance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.instances[name]
}

// removeInstance deletes inst if it is still the registered instance.
func (s *Supervisor) removeInstance(inst *instance) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.instances[inst.profile] != inst {
		return false
	}
	delete(s.instances, inst.profile)
	return true
}

func (s *Supervisor) instanceNames() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.instances))
	for name := range s.instances {
		names = append(names, name)
	}
	s.mu.RUnlock()

	sort.Strings(names)
	return names
}

func (s *Supervisor) instanceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}

// Start spawns the worker for a profile. It returns once the OS spawn call
// has returned.
func (s *Supervisor) Start(name string) error {
	unlock := s.lock(name)
	defer unlock()

	s.reapLocked(name)
	if s.instance(name) != nil {
		s.logger.Warn("Profile already running", "profile", name)
		return newError(ErrCodeAlreadyRunning, name, fmt.Sprintf("profile %q is already running", name), nil)
	}

	p, err := s.store.Get(name)
	if err != nil {
		return err
	}
	if err := profile.ValidatePathName(name); err != nil {
		return err
	}
	if p.Token == "" {
		return newError(ErrCodeMissingToken, name, fmt.Sprintf("profile %q has no token", name), nil)
	}

	inv, err := worker.Prepare(s.opts.WorkerCommand, s.opts.ConfigDir, name, p.Token, p.EffectiveConfig())
	if err != nil {
		metrics.RecordSpawnFailure(name)
		s.logger.Error("Failed to prepare worker", "profile", name, "error", err)
		return newError(ErrCodeSpawnError, name, "failed to prepare worker", err)
	}

	runID := uuid.New()
	logger := s.logger.With("profile", name, "run_id", runID.String())
	proc, err := process.Start(process.Spec{
		ID:        name,
		Args:      inv.Args,
		Dir:       inv.Dir,
		Env:       inv.Env,
		StopGrace: s.opts.StopGrace,
		Logger:    logger,
		Output: process.CollectorOptions{
			Profile:      name,
			Sink:         s.logs,
			Parser:       worker.ParseLogLevel,
			MaxLineBytes: s.opts.MaxLineBytes,
			DrainWindow:  s.opts.DrainWindow,
		},
	})
	if err != nil {
		metrics.RecordSpawnFailure(name)
		logger.Error("Failed to start worker", "error", err)
		return newError(ErrCodeSpawnError, name, "failed to start worker", err)
	}

	inst := &instance{
		runID:      runID,
		profile:    name,
		proc:       proc,
		configPath: inv.ConfigPath,
		startedAt:  proc.StartedAt(),
	}
	if err := s.store.MarkRunning(name, inst.startedAt); err != nil {
		proc.Kill()
		return err
	}

	s.mu.Lock()
	s.instances[name] = inst
	s.mu.Unlock()

	s.wg.Add(1)
	go s.watch(inst)

	metrics.RecordWorkerStart(name)
	metrics.SetRunningProfiles(s.instanceCount())
	s.publishState(inst, profile.StatusRunning, events.ReasonStart, nil)
	logger.Info("Worker started", "pid", proc.PID())

	return s.store.Save()
}

// watch waits for the worker to finish and performs the exit cleanup.
func (s *Supervisor) watch(inst *instance) {
	defer s.wg.Done()
	<-inst.proc.Finished()

	unlock := s.lock(inst.profile)
	defer unlock()

	if s.cleanupExited(inst) {
		_ = s.store.Save()
	}
}

// cleanupExited removes an exited instance and marks its profile stopped.
// Callers must hold the profile lock. It reports whether anything changed.
func (s *Supervisor) cleanupExited(inst *instance) bool {
	if !s.removeInstance(inst) {
		return false
	}

	code := inst.proc.ExitCode()
	if code == 0 {
		s.logger.Info("Worker exited", "profile", inst.profile, "run_id", inst.runID.String(), "exit_code", code)
	} else {
		s.logger.Warn("Worker exited", "profile", inst.profile, "run_id", inst.runID.String(), "exit_code", code)
	}
	s.markStopped(inst, events.ReasonExit, &code)
	return true
}

// reapLocked cleans up the instance of name if its worker has already exited.
// Callers must hold the profile lock.
func (s *Supervisor) reapLocked(name string) {
	inst := s.instance(name)
	if inst == nil || !inst.exited() {
		return
	}
	if s.cleanupExited(inst) {
		_ = s.store.Save()
	}
}

// reap is reapLocked for callers without the profile lock.
func (s *Supervisor) reap(name string) {
	if inst := s.instance(name); inst == nil || !inst.exited() {
		return
	}
	unlock := s.lock(name)
	defer unlock()
	s.reapLocked(name)
}

func (s *Supervisor) reapAll() {
	for _, name := range s.instanceNames() {
		s.reap(name)
	}
}

func (s *Supervisor) markStopped(inst *instance, reason string, exitCode *int) {
	if err := s.store.MarkStopped(inst.profile); err != nil {
		s.logger.Debug("Stopped profile is no longer stored", "profile", inst.profile)
	}
	metrics.RecordWorkerStop(inst.profile, reason)
	metrics.SetRunningProfiles(s.instanceCount())
	s.publishState(inst, profile.StatusStopped, reason, exitCode)
}

// Stop requests termination of a profile's worker and marks it stopped.
// It does not wait for the worker to exit.
func (s *Supervisor) Stop(name string) error {
	unlock := s.lock(name)
	defer unlock()

	if !s.stopLocked(name) {
		s.logger.Warn("Profile not running", "profile", name)
		return newError(ErrCodeNotRunning, name, fmt.Sprintf("profile %q is not running", name), nil)
	}
	return s.store.Save()
}

// stopLocked terminates and removes the instance of name without persisting.
// Callers must hold the profile lock.
func (s *Supervisor) stopLocked(name string) bool {
	s.reapLocked(name)
	inst := s.instance(name)
	if inst == nil {
		return false
	}

	inst.proc.Terminate()
	if !s.removeInstance(inst) {
		return false
	}
	s.logger.Info("Worker stopped", "profile", name, "run_id", inst.runID.String(), "pid", inst.proc.PID())
	s.markStopped(inst, events.ReasonStop, nil)
	return true
}

// ShutdownAll stops every running profile, then persists once.
func (s *Supervisor) ShutdownAll() error {
	names := s.instanceNames()
	s.logger.Info("Stopping all workers", "count", len(names))

	for _, name := range names {
		unlock := s.lock(name)
		s.stopLocked(name)
		unlock()
	}
	return s.store.Save()
}

// Wait blocks until every worker has exited and its output is drained, or
// ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Delete stops a running profile, then removes it from the store.
func (s *Supervisor) Delete(name string) error {
	unlock := s.lock(name)
	defer unlock()

	if !s.store.Exists(name) {
		return profile.NewError(profile.ErrCodeNotFound, fmt.Sprintf("profile %q not found", name), nil)
	}
	s.stopLocked(name)

	if err := s.store.Delete(name); err != nil {
		return err
	}
	metrics.DeleteProfileMetrics(name)
	s.bus.Publish(events.ProfileDeletedEvent{
		Profile:   name,
		Timestamp: time.Now().Format(time.RFC3339),
	})
	return nil
}

// Create adds a new profile.
func (s *Supervisor) Create(name string) (profile.Profile, error) {
	p, err := s.store.Create(name)
	if err == nil || errors.Is(err, profile.ErrPersist) {
		s.bus.Publish(events.ProfileCreatedEvent{Profile: name, Timestamp: time.Now().Format(time.RFC3339)})
	}
	return p, err
}

// Clone copies source into a new stopped profile.
func (s *Supervisor) Clone(source, name string) (profile.Profile, error) {
	p, err := s.store.Clone(source, name)
	if err == nil || errors.Is(err, profile.ErrPersist) {
		s.bus.Publish(events.ProfileCreatedEvent{Profile: name, Source: source, Timestamp: time.Now().Format(time.RFC3339)})
	}
	return p, err
}

// Reconcile makes stored statuses agree with the live instance set and
// persists if anything changed.
func (s *Supervisor) Reconcile() error {
	if s.reconcile() {
		return s.store.Save()
	}
	return nil
}

func (s *Supervisor) reconcile() bool {
	changed := false
	for _, name := range s.store.Names() {
		if s.reconcileProfile(name) {
			changed = true
		}
	}
	return changed
}

func (s *Supervisor) reconcileProfile(name string) bool {
	unlock := s.lock(name)
	defer unlock()

	s.reapLocked(name)
	p, err := s.store.Get(name)
	if err != nil {
		return false
	}
	inst := s.instance(name)

	switch {
	case p.Status == profile.StatusRunning && inst == nil:
		s.logger.Warn("Profile marked running without a worker, marking stopped", "profile", name)
		if err := s.store.MarkStopped(name); err != nil {
			return false
		}
		s.publish(events.ProfileStateChangedEvent{
			Profile:   name,
			Status:    string(profile.StatusStopped),
			Reason:    events.ReasonReconcile,
			Timestamp: time.Now().Format(time.RFC3339),
		})
		return true
	case p.Status != profile.StatusRunning && inst != nil:
		s.logger.Warn("Profile marked stopped with a live worker, marking running", "profile", name)
		if err := s.store.MarkRunning(name, inst.startedAt); err != nil {
			return false
		}
		s.publishState(inst, profile.StatusRunning, events.ReasonReconcile, nil)
		return true
	}
	return false
}

// Reload re-reads the profiles file and reconciles. Profiles that were
// removed from the file while running are kept so no worker is orphaned.
// An unreadable file leaves the in-memory mapping untouched. Profile edits
// made while the file is read are not lost.
func (s *Supervisor) Reload() error {
	kept, changed, err := s.store.Reload(func(name string) bool {
		return s.instance(name) != nil
	})
	if err != nil {
		s.logger.Warn("Ignoring unreadable profiles file", "path", s.store.Path(), "error", err)
		return err
	}
	if !changed {
		return nil
	}
	for _, name := range kept {
		s.logger.Warn("Running profile removed from file, keeping it", "profile", name)
	}
	s.logger.Info("Profiles reloaded", "count", len(s.store.Names()))

	if s.reconcile() || len(kept) > 0 {
		return s.store.Save()
	}
	return nil
}

// IsRunning reports whether a profile has a live worker.
func (s *Supervisor) IsRunning(name string) bool {
	s.reap(name)
	return s.instance(name) != nil
}

// RunningCount returns the number of live workers.
func (s *Supervisor) RunningCount() int {
	s.reapAll()
	return s.instanceCount()
}

// RunningNames returns the names of running profiles, sorted.
func (s *Supervisor) RunningNames() []string {
	s.reapAll()
	return s.instanceNames()
}

// Instance returns details of a profile's live worker.
func (s *Supervisor) Instance(name string) (InstanceInfo, bool) {
	s.reap(name)
	inst := s.instance(name)
	if inst == nil {
		return InstanceInfo{}, false
	}
	return inst.info(), true
}

// Profile returns a stored profile with a status that reflects the live
// instance set.
func (s *Supervisor) Profile(name string) (profile.Profile, error) {
	s.reap(name)
	return s.store.Get(name)
}

// Names returns the stored profile names, sorted.
func (s *Supervisor) Names() []string {
	return s.store.Names()
}

// Profiles returns all stored profiles, sorted by name.
func (s *Supervisor) Profiles() []profile.Profile {
	s.reapAll()
	all := s.store.All()

	out := make([]profile.Profile, 0, len(all))
	for _, p := range all {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stats computes a statistics snapshot for a profile from its retained
// worker output. Uptime is counted only while the profile is running.
func (s *Supervisor) Stats(name string, now time.Time) (stats.Snapshot, error) {
	p, err := s.Profile(name)
	if err != nil {
		return stats.Snapshot{}, err
	}

	var start time.Time
	if p.Status == profile.StatusRunning {
		start, _ = p.Started()
	}
	return stats.Extract(name, s.logs.Texts(name), start, now), nil
}

// AllStats computes snapshots for every stored profile.
func (s *Supervisor) AllStats() []stats.Snapshot {
	now := time.Now()
	profiles := s.Profiles()

	out := make([]stats.Snapshot, 0, len(profiles))
	for _, p := range profiles {
		var start time.Time
		if p.Status == profile.StatusRunning {
			start, _ = p.Started()
		}
		out = append(out, stats.Extract(p.Name, s.logs.Texts(p.Name), start, now))
	}
	return out
}

func (s *Supervisor) publishState(inst *instance, status profile.Status, reason string, exitCode *int) {
	s.publish(events.ProfileStateChangedEvent{
		Profile:   inst.profile,
		Status:    string(status),
		Reason:    reason,
		RunID:     inst.runID.String(),
		PID:       inst.proc.PID(),
		ExitCode:  exitCode,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

func (s *Supervisor) publish(ev events.ProfileStateChangedEvent) {
	s.bus.Publish(ev)
}
