package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/lokmanager/internal/events"
	"github.com/smazurov/lokmanager/internal/logging"
	"github.com/smazurov/lokmanager/internal/profile"
	"github.com/smazurov/lokmanager/internal/status"
	"github.com/smazurov/lokmanager/internal/supervisor"
)

const loopWorker = `sh -c 'echo started; while :; do sleep 0.1; done' worker`

type testAPI struct {
	ts   *httptest.Server
	sup  *supervisor.Supervisor
	logs *logging.Buffer
	bus  *events.Bus
	auth bool
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	dir := t.TempDir()
	logs := logging.NewBuffer(1000)
	bus := events.New()
	sup := supervisor.New(supervisor.Options{
		Store:         profile.NewStore(filepath.Join(dir, "profiles.json")),
		Logs:          logs,
		Bus:           bus,
		WorkerCommand: loopWorker,
		ConfigDir:     filepath.Join(dir, "configs"),
		StopGrace:     time.Second,
		DrainWindow:   200 * time.Millisecond,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	synchronizer := status.New(sup, bus, time.Hour)

	server := NewServer(&Options{
		AuthUsername: "admin",
		AuthPassword: "secret",
		Supervisor:   sup,
		Status:       synchronizer,
		Logs:         logs,
		EventBus:     bus,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, "lokmanager_running_profiles 0\n")
		}),
	})
	ts := httptest.NewServer(server.Handler())

	t.Cleanup(func() {
		ts.Close()
		_ = sup.ShutdownAll()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sup.Wait(ctx); err != nil {
			t.Errorf("workers did not finish: %v", err)
		}
	})
	return &testAPI{ts: ts, sup: sup, logs: logs, bus: bus, auth: true}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, a.ts.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.auth {
		req.SetBasicAuth("admin", "secret")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func (a *testAPI) expect(t *testing.T, method, path string, body any, want int) map[string]any {
	t.Helper()
	resp, data := a.do(t, method, path, body)
	if resp.StatusCode != want {
		t.Fatalf("%s %s: status %d, want %d: %s", method, path, resp.StatusCode, want, data)
	}
	out := map[string]any{}
	if len(data) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/") {
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("%s %s: decode: %v: %s", method, path, err, data)
		}
	}
	return out
}

func TestHealthWithoutAuth(t *testing.T) {
	a := newTestAPI(t)
	a.auth = false

	body := a.expect(t, http.MethodGet, "/api/health", nil, http.StatusOK)
	if body["status"] != "ok" {
		t.Errorf("health = %v", body)
	}
	a.expect(t, http.MethodGet, "/api/version", nil, http.StatusOK)
}

func TestAuthRequired(t *testing.T) {
	a := newTestAPI(t)
	a.auth = false

	resp, _ := a.do(t, http.MethodGet, "/api/profiles", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Error("missing WWW-Authenticate header")
	}

	wrong := base64.StdEncoding.EncodeToString([]byte("admin:nope"))
	resp, _ = a.do(t, http.MethodGet, "/api/profiles?auth="+wrong, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong credentials: status %d, want 401", resp.StatusCode)
	}

	right := base64.StdEncoding.EncodeToString([]byte("admin:secret"))
	resp, _ = a.do(t, http.MethodGet, "/api/profiles?auth="+right, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("query credentials: status %d, want 200", resp.StatusCode)
	}
}

func TestProfileCRUD(t *testing.T) {
	a := newTestAPI(t)

	created := a.expect(t, http.MethodPost, "/api/profiles", map[string]any{
		"name":  "alice",
		"token": "tok-0123456789",
	}, http.StatusCreated)
	if created["status"] != "Stopped" || created["token"] != "****6789" || created["has_token"] != true {
		t.Errorf("created = %v", created)
	}
	if _, ok := created["config"].(map[string]any); !ok {
		t.Errorf("created profile has no default config: %v", created["config"])
	}

	a.expect(t, http.MethodPost, "/api/profiles", map[string]any{"name": "alice"}, http.StatusConflict)
	a.expect(t, http.MethodPost, "/api/profiles", map[string]any{"name": ".."}, http.StatusBadRequest)
	a.expect(t, http.MethodPost, "/api/profiles", map[string]any{"name": "bad", "config": []int{1}}, http.StatusUnprocessableEntity)

	a.expect(t, http.MethodPost, "/api/profiles/alice/clone", map[string]any{"name": "bob"}, http.StatusCreated)
	a.expect(t, http.MethodPost, "/api/profiles/ghost/clone", map[string]any{"name": "x"}, http.StatusNotFound)

	list := a.expect(t, http.MethodGet, "/api/profiles", nil, http.StatusOK)
	if list["count"] != float64(2) {
		t.Errorf("list = %v", list)
	}

	updated := a.expect(t, http.MethodPut, "/api/profiles/bob/token", map[string]any{"token": "short"}, http.StatusOK)
	if updated["token"] != "****" {
		t.Errorf("token = %v", updated["token"])
	}

	a.expect(t, http.MethodGet, "/api/profiles/ghost", nil, http.StatusNotFound)

	resp, data := a.do(t, http.MethodDelete, "/api/profiles/bob", nil)
	if resp.StatusCode >= 300 {
		t.Fatalf("delete: status %d: %s", resp.StatusCode, data)
	}
	a.expect(t, http.MethodGet, "/api/profiles/bob", nil, http.StatusNotFound)
	a.expect(t, http.MethodDelete, "/api/profiles/bob", nil, http.StatusNotFound)
}

func TestStartStopCommands(t *testing.T) {
	a := newTestAPI(t)
	a.expect(t, http.MethodPost, "/api/profiles", map[string]any{"name": "alice"}, http.StatusCreated)

	a.expect(t, http.MethodPost, "/api/profiles/alice/start", nil, http.StatusBadRequest)
	a.expect(t, http.MethodPost, "/api/profiles/ghost/start", nil, http.StatusNotFound)
	a.expect(t, http.MethodPut, "/api/profiles/alice/token", map[string]any{"token": "tok"}, http.StatusOK)

	started := a.expect(t, http.MethodPost, "/api/profiles/alice/start", nil, http.StatusOK)
	if started["changed"] != true || started["status"] != "Running" {
		t.Errorf("start = %v", started)
	}
	again := a.expect(t, http.MethodPost, "/api/profiles/alice/start", nil, http.StatusOK)
	if again["changed"] != false {
		t.Errorf("second start = %v", again)
	}

	detail := a.expect(t, http.MethodGet, "/api/profiles/alice", nil, http.StatusOK)
	if detail["running"] != true || detail["instance"] == nil {
		t.Errorf("detail = %v", detail)
	}

	stopped := a.expect(t, http.MethodPost, "/api/profiles/alice/stop", nil, http.StatusOK)
	if stopped["changed"] != true || stopped["status"] != "Stopped" {
		t.Errorf("stop = %v", stopped)
	}
	again = a.expect(t, http.MethodPost, "/api/profiles/alice/stop", nil, http.StatusOK)
	if again["changed"] != false {
		t.Errorf("second stop = %v", again)
	}
	a.expect(t, http.MethodPost, "/api/profiles/ghost/stop", nil, http.StatusNotFound)
}

func TestProfileStats(t *testing.T) {
	a := newTestAPI(t)
	a.expect(t, http.MethodPost, "/api/profiles", map[string]any{"name": "alice"}, http.StatusCreated)
	a.logs.Append(logging.LogEvent{
		Profile: "alice",
		Source:  logging.SourceWorker,
		Text:    "resource_gather count=7",
	})

	snap := a.expect(t, http.MethodGet, "/api/profiles/alice/stats", nil, http.StatusOK)
	if snap["resource_gathered"] != float64(7) {
		t.Errorf("stats = %v", snap)
	}
	a.expect(t, http.MethodGet, "/api/profiles/ghost/stats", nil, http.StatusNotFound)
}

func TestConfigRoutes(t *testing.T) {
	a := newTestAPI(t)
	a.expect(t, http.MethodPost, "/api/profiles", map[string]any{"name": "alice"}, http.StatusCreated)

	def := a.expect(t, http.MethodGet, "/api/default-config", nil, http.StatusOK)
	if len(def) == 0 {
		t.Fatal("default config is empty")
	}

	replaced := a.expect(t, http.MethodPut, "/api/profiles/alice/config", `{"main":{"speed":2}}`, http.StatusOK)
	if main, _ := replaced["main"].(map[string]any); main["speed"] != float64(2) {
		t.Errorf("config = %v", replaced)
	}
	a.expect(t, http.MethodPut, "/api/profiles/alice/config", `[1,2]`, http.StatusUnprocessableEntity)
	a.expect(t, http.MethodPut, "/api/profiles/alice/config", `{"main":`, http.StatusUnprocessableEntity)
	a.expect(t, http.MethodPut, "/api/profiles/ghost/config", `{}`, http.StatusNotFound)

	set := a.expect(t, http.MethodPut, "/api/profiles/alice/config/value", map[string]any{
		"path":  "main.jobs.enabled",
		"value": true,
	}, http.StatusOK)
	if set["value"] != true {
		t.Errorf("set value = %v", set)
	}
	got := a.expect(t, http.MethodGet, "/api/profiles/alice/config/value?path=main.speed", nil, http.StatusOK)
	if got["value"] != float64(2) {
		t.Errorf("get value = %v", got)
	}
	a.expect(t, http.MethodGet, "/api/profiles/alice/config/value?path=main.absent", nil, http.StatusUnprocessableEntity)

	reset := a.expect(t, http.MethodDelete, "/api/profiles/alice/config", nil, http.StatusOK)
	if len(reset) != len(def) {
		t.Errorf("reset config has %d keys, default has %d", len(reset), len(def))
	}
}

func TestStatusRoutes(t *testing.T) {
	a := newTestAPI(t)
	a.expect(t, http.MethodPost, "/api/profiles", map[string]any{"name": "alice"}, http.StatusCreated)

	a.expect(t, http.MethodPut, "/api/status/selected", map[string]any{"profile": "ghost"}, http.StatusNotFound)
	snap := a.expect(t, http.MethodPut, "/api/status/selected", map[string]any{"profile": "alice"}, http.StatusOK)
	if snap["selected"] != "alice" || snap["summary"] != "Ready" {
		t.Errorf("snapshot = %v", snap)
	}

	current := a.expect(t, http.MethodGet, "/api/status", nil, http.StatusOK)
	if current["selected"] != "alice" {
		t.Errorf("status = %v", current)
	}

	cleared := a.expect(t, http.MethodPut, "/api/status/selected", map[string]any{"profile": ""}, http.StatusOK)
	if _, ok := cleared["selected"]; ok {
		t.Errorf("selection not cleared: %v", cleared)
	}
}

func TestLogRoutes(t *testing.T) {
	a := newTestAPI(t)
	a.logs.Append(logging.LogEvent{Profile: "alice", Source: logging.SourceWorker, Text: "hello"})
	a.logs.Append(logging.LogEvent{Profile: "bob", Source: logging.SourceWorker, Text: "world"})

	body := a.expect(t, http.MethodGet, "/api/logs?profile=alice", nil, http.StatusOK)
	entries, _ := body["entries"].([]any)
	if len(entries) != 1 {
		t.Fatalf("entries = %v", body["entries"])
	}
	if entry, _ := entries[0].(map[string]any); entry["text"] != "hello" {
		t.Errorf("entry = %v", entry)
	}

	limited := a.expect(t, http.MethodGet, "/api/logs?limit=1", nil, http.StatusOK)
	if limited["count"] != float64(1) {
		t.Errorf("limited = %v", limited)
	}

	resp, data := a.do(t, http.MethodGet, "/api/logs/export", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export: status %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Content-Disposition"), "attachment") {
		t.Errorf("Content-Disposition = %q", resp.Header.Get("Content-Disposition"))
	}
	if !strings.Contains(string(data), "[alice] hello") || !strings.Contains(string(data), "[bob] world") {
		t.Errorf("export = %q", data)
	}

	cleared := a.expect(t, http.MethodDelete, "/api/logs", nil, http.StatusOK)
	if cleared["cleared"].(float64) < 2 {
		t.Errorf("cleared = %v", cleared)
	}
	empty := a.expect(t, http.MethodGet, "/api/logs?profile=alice", nil, http.StatusOK)
	if empty["count"] != float64(0) {
		t.Errorf("after clear = %v", empty)
	}
}

func TestMetricsMounted(t *testing.T) {
	a := newTestAPI(t)
	a.auth = false

	resp, data := a.do(t, http.MethodGet, "/metrics", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), "lokmanager_running_profiles") {
		t.Errorf("metrics: %d %q", resp.StatusCode, data)
	}
}

func TestOpenAPISchemaNames(t *testing.T) {
	a := newTestAPI(t)
	a.auth = false

	doc := a.expect(t, http.MethodGet, "/openapi.json", nil, http.StatusOK)
	components, _ := doc["components"].(map[string]any)
	schemas, _ := components["schemas"].(map[string]any)
	for _, name := range []string{"Info", "InstanceInfo", "Report", "Snapshot"} {
		if _, ok := schemas[name]; !ok {
			t.Errorf("schema %q missing from OpenAPI document", name)
		}
	}
}
