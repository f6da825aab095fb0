package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/lokmanager/internal/events"
	"github.com/smazurov/lokmanager/internal/logging"
	"github.com/smazurov/lokmanager/internal/profile"
)

const loopWorker = `sh -c 'echo started; while :; do sleep 0.1; done' worker`

type testEnv struct {
	sup   *Supervisor
	store *profile.Store
	logs  *logging.Buffer
	bus   *events.Bus
	dir   string
}

func newTestEnv(t *testing.T, command string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		store: profile.NewStore(filepath.Join(dir, "profiles.json")),
		logs:  logging.NewBuffer(1000),
		bus:   events.New(),
		dir:   dir,
	}
	env.sup = New(Options{
		Store:         env.store,
		Logs:          env.logs,
		Bus:           env.bus,
		WorkerCommand: command,
		ConfigDir:     filepath.Join(dir, "configs"),
		StopGrace:     time.Second,
		DrainWindow:   200 * time.Millisecond,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(func() {
		_ = env.sup.ShutdownAll()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := env.sup.Wait(ctx); err != nil {
			t.Errorf("workers did not finish: %v", err)
		}
	})
	return env
}

func (e *testEnv) addProfile(t *testing.T, name, token string) {
	t.Helper()
	if _, err := e.store.Create(name); err != nil {
		t.Fatal(err)
	}
	if err := e.store.SetToken(name, token); err != nil {
		t.Fatal(err)
	}
}

func (e *testEnv) savedStatus(t *testing.T) map[string]string {
	t.Helper()
	data, err := os.ReadFile(e.store.Path())
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	out := make(map[string]string, len(raw))
	for name, p := range raw {
		out[name] = p.Status
	}
	return out
}

func (e *testEnv) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.sup.Wait(ctx); err != nil {
		t.Fatalf("timeout waiting for workers: %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestStartTwiceSpawnsOnce(t *testing.T) {
	spawns := filepath.Join(t.TempDir(), "spawns")
	env := newTestEnv(t, fmt.Sprintf(`sh -c 'echo x >> "$0"; while :; do sleep 0.1; done' %s`, spawns))
	env.addProfile(t, "alice", "tkn")

	if err := env.sup.Start("alice"); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	err := env.sup.Start("alice")
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	if n := env.sup.RunningCount(); n != 1 {
		t.Errorf("expected 1 running instance, got %d", n)
	}
	waitFor(t, 2*time.Second, func() bool {
		data, _ := os.ReadFile(spawns)
		return len(data) > 0
	})
	time.Sleep(100 * time.Millisecond)
	data, _ := os.ReadFile(spawns)
	if lines := strings.Count(string(data), "\n"); lines != 1 {
		t.Errorf("expected exactly one spawn, got %d", lines)
	}
}

func TestConcurrentStartSameProfile(t *testing.T) {
	env := newTestEnv(t, loopWorker)
	env.addProfile(t, "alice", "tkn")

	var wg sync.WaitGroup
	var mu sync.Mutex
	started, already := 0, 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := env.sup.Start("alice")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				started++
			case errors.Is(err, ErrAlreadyRunning):
				already++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if started != 1 || already != 9 {
		t.Errorf("expected 1 start and 9 already-running, got %d and %d", started, already)
	}
	if n := env.sup.RunningCount(); n != 1 {
		t.Errorf("expected 1 running instance, got %d", n)
	}
}

func TestStopWhenNotRunning(t *testing.T) {
	env := newTestEnv(t, loopWorker)
	env.addProfile(t, "alice", "tkn")

	if err := env.sup.Stop("alice"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
	if p, _ := env.store.Get("alice"); p.Status != profile.StatusStopped {
		t.Errorf("expected stored status unchanged, got %s", p.Status)
	}

	// A stale Running entry is left alone by Stop; reconciliation fixes it
	env.store.Put(profile.Profile{Name: "stale", Status: profile.StatusRunning})
	if err := env.sup.Stop("stale"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
	if p, _ := env.store.Get("stale"); p.Status != profile.StatusRunning {
		t.Errorf("expected stored status unchanged, got %s", p.Status)
	}

	if err := env.sup.Stop("missing"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning for unknown profile, got %v", err)
	}
}

func TestStartStop(t *testing.T) {
	env := newTestEnv(t, loopWorker)
	env.addProfile(t, "alice", "tkn")

	if err := env.sup.Start("alice"); err != nil {
		t.Fatal(err)
	}
	p, _ := env.sup.Profile("alice")
	if p.Status != profile.StatusRunning || p.StartTime == nil {
		t.Errorf("expected running with start time, got %+v", p)
	}
	if env.savedStatus(t)["alice"] != "Running" {
		t.Error("expected Running to be persisted")
	}
	info, ok := env.sup.Instance("alice")
	if !ok || info.PID == 0 || info.RunID == "" {
		t.Errorf("unexpected instance info %+v", info)
	}

	start := time.Now()
	if err := env.sup.Stop("alice"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Stop should not wait for worker exit")
	}
	if env.sup.IsRunning("alice") {
		t.Error("expected alice to be stopped")
	}
	if env.savedStatus(t)["alice"] != "Stopped" {
		t.Error("expected Stopped to be persisted")
	}

	if err := env.sup.Stop("alice"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected second Stop to be a no-op, got %v", err)
	}
	env.wait(t)
}

func TestStartPreconditions(t *testing.T) {
	env := newTestEnv(t, loopWorker)

	if err := env.sup.Start("missing"); !errors.Is(err, profile.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if _, err := env.store.Create("notoken"); err != nil {
		t.Fatal(err)
	}
	if err := env.sup.Start("notoken"); !errors.Is(err, ErrMissingToken) {
		t.Errorf("expected ErrMissingToken, got %v", err)
	}
	if env.sup.IsRunning("notoken") {
		t.Error("expected no instance without token")
	}

	env.store.Put(profile.Profile{Name: "../escape", Token: "tkn", Status: profile.StatusStopped})
	if err := env.sup.Start("../escape"); !errors.Is(err, profile.ErrInvalidName) {
		t.Errorf("expected ErrInvalidName for a path-unsafe name, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(env.dir, "escape.json")); !os.IsNotExist(err) {
		t.Error("expected no config file outside the config dir")
	}
}

func TestStartSpawnError(t *testing.T) {
	env := newTestEnv(t, "/nonexistent/lokbot-worker")
	env.addProfile(t, "alice", "tkn")
	before, _ := os.ReadFile(env.store.Path())

	err := env.sup.Start("alice")
	if !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn, got %v", err)
	}
	if p, _ := env.store.Get("alice"); p.Status != profile.StatusStopped {
		t.Errorf("expected status to remain Stopped, got %s", p.Status)
	}
	if env.sup.IsRunning("alice") {
		t.Error("expected no running instance")
	}
	after, _ := os.ReadFile(env.store.Path())
	if string(before) != string(after) {
		t.Error("expected nothing to be persisted on spawn failure")
	}
}

func TestWorkerInvocation(t *testing.T) {
	env := newTestEnv(t, `sh -c 'echo "token=$1"; echo "profile=$LOKMANAGER_PROFILE"; test -f "$LOKMANAGER_CONFIG" && echo config-present; pwd' worker`)
	env.addProfile(t, "alice", "tkn123")

	if err := env.sup.Start("alice"); err != nil {
		t.Fatal(err)
	}
	env.wait(t)

	texts := env.logs.Texts("alice")
	want := []string{"token=tkn123", "profile=alice", "config-present"}
	if len(texts) != 4 {
		t.Fatalf("unexpected worker output: %q", texts)
	}
	for i, w := range want {
		if texts[i] != w {
			t.Errorf("line %d = %q, want %q", i, texts[i], w)
		}
	}
	if filepath.Base(texts[3]) != "configs" {
		t.Errorf("expected worker to run in the config dir, got %s", texts[3])
	}

	data, err := os.ReadFile(filepath.Join(env.dir, "configs", "config_alice.json"))
	if err != nil {
		t.Fatalf("expected config file: %v", err)
	}
	if string(data) != string(profile.DefaultConfig()) {
		t.Error("expected effective config written to the config file")
	}
}

func TestWorkerExitScenario(t *testing.T) {
	env := newTestEnv(t, `sh -c 'echo "resource-gather count=3"; echo "resource-gather count=7"'`)
	env.addProfile(t, "alice", "tkn123")

	if err := env.sup.Start("alice"); err != nil {
		t.Fatal(err)
	}
	env.wait(t)

	p, err := env.sup.Profile("alice")
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != profile.StatusStopped {
		t.Errorf("expected Stopped after worker exit, got %s", p.Status)
	}
	if env.savedStatus(t)["alice"] != "Stopped" {
		t.Error("expected Stopped to be persisted after worker exit")
	}

	snap, err := env.sup.Stats("alice", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if snap.ResourceGathered != 7 {
		t.Errorf("expected resource count 7, got %d", snap.ResourceGathered)
	}
	if snap.UptimeHours != 0 || snap.GatherRate != 0 {
		t.Errorf("expected zero uptime for stopped profile, got %+v", snap)
	}
}

func TestReadsNeverSeeStaleRunning(t *testing.T) {
	// The grandchild keeps the pipe open, so the collector lingers after exit
	env := newTestEnv(t, `sh -c 'sleep 3 & exit 0'`)
	env.addProfile(t, "alice", "tkn")

	if err := env.sup.Start("alice"); err != nil {
		t.Fatal(err)
	}
	inst := env.sup.instance("alice")
	if inst == nil {
		t.Fatal("expected a registered instance right after Start")
	}
	<-inst.proc.Exited()

	if env.sup.IsRunning("alice") {
		t.Error("expected exited worker to be reaped on read")
	}
	if p, _ := env.sup.Profile("alice"); p.Status != profile.StatusStopped {
		t.Errorf("expected Stopped, got %s", p.Status)
	}
}

func TestExitAndStopCleanupOnce(t *testing.T) {
	env := newTestEnv(t, `sh -c 'exit 0'`)
	env.addProfile(t, "alice", "tkn")

	stopped := make(chan events.ProfileStateChangedEvent, 100)
	unsub := env.bus.Subscribe(func(e events.ProfileStateChangedEvent) {
		if e.Status == string(profile.StatusStopped) {
			stopped <- e
		}
	})
	defer unsub()

	const runs = 5
	for i := 0; i < runs; i++ {
		if err := env.sup.Start("alice"); err != nil {
			t.Fatalf("Start %d failed: %v", i, err)
		}
		err := env.sup.Stop("alice")
		if err != nil && !errors.Is(err, ErrNotRunning) {
			t.Fatalf("unexpected Stop error: %v", err)
		}
		env.wait(t)
	}

	count := 0
	timeout := time.After(time.Second)
	for count < runs {
		select {
		case <-stopped:
			count++
		case <-timeout:
			t.Fatalf("expected %d stop transitions, got %d", runs, count)
		}
	}
	select {
	case e := <-stopped:
		t.Errorf("unexpected extra stop transition %+v", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReconcileAfterRestart(t *testing.T) {
	env := newTestEnv(t, loopWorker)
	doc := `{"bob": {"token": "t", "status": "Running", "start_time": 1712345678.5}}`
	if err := os.WriteFile(env.store.Path(), []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	env.store.Load()
	if err := env.sup.Reconcile(); err != nil {
		t.Fatal(err)
	}

	p, _ := env.sup.Profile("bob")
	if p.Status != profile.StatusStopped {
		t.Errorf("expected bob Stopped after reconcile, got %s", p.Status)
	}
	if env.savedStatus(t)["bob"] != "Stopped" {
		t.Error("expected reconciled status to be persisted")
	}
}

func TestDeleteRunningProfile(t *testing.T) {
	env := newTestEnv(t, loopWorker)
	env.addProfile(t, "carol", "tkn")

	if err := env.sup.Start("carol"); err != nil {
		t.Fatal(err)
	}
	inst := env.sup.instance("carol")

	if err := env.sup.Delete("carol"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if env.sup.IsRunning("carol") {
		t.Error("expected no running instance after delete")
	}
	if env.store.Exists("carol") {
		t.Error("expected carol removed from store")
	}
	if _, ok := env.savedStatus(t)["carol"]; ok {
		t.Error("expected carol removed from persisted file")
	}

	select {
	case <-inst.proc.Exited():
	case <-time.After(3 * time.Second):
		t.Fatal("expected carol's worker to be terminated")
	}

	if err := env.sup.Delete("carol"); !errors.Is(err, profile.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStartManyProfilesConcurrently(t *testing.T) {
	env := newTestEnv(t, loopWorker)
	const n = 50
	for i := 0; i < n; i++ {
		env.store.Put(profile.Profile{Name: fmt.Sprintf("p%02d", i), Token: "tkn", Status: profile.StatusStopped})
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := env.sup.Start(name); err != nil {
				t.Errorf("Start %s failed: %v", name, err)
			}
		}(fmt.Sprintf("p%02d", i))
	}
	wg.Wait()

	if got := env.sup.RunningCount(); got != n {
		t.Errorf("expected %d running instances, got %d", n, got)
	}
	if err := env.store.Save(); err != nil {
		t.Fatal(err)
	}
	saved := env.savedStatus(t)
	running := 0
	for _, status := range saved {
		if status == "Running" {
			running++
		}
	}
	if running != n {
		t.Errorf("expected %d Running in saved file, got %d", n, running)
	}

	if err := env.sup.ShutdownAll(); err != nil {
		t.Fatal(err)
	}
	for name, status := range env.savedStatus(t) {
		if status != "Stopped" {
			t.Errorf("expected %s Stopped after shutdown, got %s", name, status)
		}
	}
	env.wait(t)
}

func TestReloadKeepsRunningProfileDeletedOnDisk(t *testing.T) {
	env := newTestEnv(t, loopWorker)
	env.addProfile(t, "alice", "tkn")
	env.addProfile(t, "bob", "tkn")

	if err := env.sup.Start("alice"); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(env.store.Path(), []byte(`{"dave": {"token": "", "status": "Stopped"}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := env.sup.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	names := env.store.Names()
	if strings.Join(names, ",") != "alice,dave" {
		t.Errorf("expected alice kept and bob dropped, got %v", names)
	}
	if p, _ := env.sup.Profile("alice"); p.Status != profile.StatusRunning {
		t.Errorf("expected alice still Running, got %s", p.Status)
	}
	saved := env.savedStatus(t)
	if saved["alice"] != "Running" {
		t.Errorf("expected restored alice persisted, got %v", saved)
	}
}

func TestReloadReconcilesStatus(t *testing.T) {
	env := newTestEnv(t, loopWorker)
	env.addProfile(t, "alice", "tkn")
	if err := env.sup.Start("alice"); err != nil {
		t.Fatal(err)
	}

	doc := `{"alice": {"token": "tkn", "status": "Stopped"}, "ghost": {"token": "x", "status": "Running"}}`
	if err := os.WriteFile(env.store.Path(), []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := env.sup.Reload(); err != nil {
		t.Fatal(err)
	}

	saved := env.savedStatus(t)
	if saved["alice"] != "Running" || saved["ghost"] != "Stopped" {
		t.Errorf("unexpected reconciled statuses: %v", saved)
	}
}

func TestReloadIgnoresMalformedFile(t *testing.T) {
	env := newTestEnv(t, loopWorker)
	env.addProfile(t, "alice", "tkn")
	if err := os.WriteFile(env.store.Path(), []byte(`{"alice": `), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := env.sup.Reload(); !errors.Is(err, profile.ErrConfig) {
		t.Errorf("expected ErrConfig, got %v", err)
	}
	if !env.store.Exists("alice") {
		t.Error("expected in-memory profiles kept on malformed reload")
	}
}

func TestReloadIgnoresOwnWrites(t *testing.T) {
	env := newTestEnv(t, loopWorker)
	env.addProfile(t, "alice", "tkn")
	env.store.Put(profile.Profile{Name: "unsaved", Status: profile.StatusStopped})

	if err := env.sup.Reload(); err != nil {
		t.Fatal(err)
	}
	if !env.store.Exists("unsaved") {
		t.Error("reload of an unchanged file should not replace memory")
	}
}

func TestStatsWhileRunning(t *testing.T) {
	env := newTestEnv(t, `sh -c 'echo "combat-win count=4"; while :; do sleep 0.1; done'`)
	env.addProfile(t, "alice", "tkn")
	if err := env.sup.Start("alice"); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return len(env.logs.Texts("alice")) > 0
	})
	p, _ := env.sup.Profile("alice")
	started, _ := p.Started()

	snap, err := env.sup.Stats("alice", started.Add(2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if snap.CombatWins != 4 || snap.CombatRate < 1.99 || snap.CombatRate > 2.01 {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	all := env.sup.AllStats()
	if len(all) != 1 || all[0].Profile != "alice" {
		t.Errorf("unexpected AllStats %+v", all)
	}
}

func TestCreateAndClonePublishEvents(t *testing.T) {
	env := newTestEnv(t, loopWorker)
	created := make(chan events.ProfileCreatedEvent, 2)
	unsub := env.bus.Subscribe(func(e events.ProfileCreatedEvent) { created <- e })
	defer unsub()

	if _, err := env.sup.Create("alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.sup.Clone("alice", "alice2"); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-created:
		case <-time.After(time.Second):
			t.Fatal("expected created events")
		}
	}
	names := env.sup.Profiles()
	if len(names) != 2 || names[0].Name != "alice" || names[1].Name != "alice2" {
		t.Errorf("unexpected profiles %+v", names)
	}
}
