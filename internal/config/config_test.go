package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/spf13/cobra"
)

type testOptions struct {
	Config string `help:"Config file path"`

	Port       string   `toml:"server.port" env:"PORT"`
	Watch      bool     `toml:"profiles.watch" env:"PROFILES_WATCH"`
	BufferSize int      `toml:"logs.buffer_size" env:"LOGS_BUFFER_SIZE"`
	StopGrace  string   `toml:"worker.stop_grace" env:"WORKER_STOP_GRACE"`
	Ratio      float64  `toml:"worker.ratio" env:"WORKER_RATIO"`
	Extra      []string `toml:"worker.extra" env:"WORKER_EXTRA"`
	WorkerCmd  string   `toml:"worker.command" env:"WORKER_COMMAND"`
}

func writeTOML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFromTOML(t *testing.T) {
	path := writeTOML(t, `
[server]
port = ":9000"

[profiles]
watch = true

[logs]
buffer_size = 500

[worker]
stop_grace = 5
ratio = 2
extra = ["a", "b"]
command = "python3 -m lokbot --headless"
`)

	opts := &testOptions{Config: path}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if opts.Port != ":9000" {
		t.Errorf("Port = %q", opts.Port)
	}
	if !opts.Watch {
		t.Error("Watch = false")
	}
	if opts.BufferSize != 500 {
		t.Errorf("BufferSize = %d", opts.BufferSize)
	}
	if opts.StopGrace != "5" {
		t.Errorf("StopGrace = %q, want integer rendered as string", opts.StopGrace)
	}
	if opts.Ratio != 2 {
		t.Errorf("Ratio = %v", opts.Ratio)
	}
	if !reflect.DeepEqual(opts.Extra, []string{"a", "b"}) {
		t.Errorf("Extra = %v", opts.Extra)
	}
	if opts.WorkerCmd != "python3 -m lokbot --headless" {
		t.Errorf("WorkerCmd = %q", opts.WorkerCmd)
	}
}

func TestLoadConfigEnvOverridesTOML(t *testing.T) {
	path := writeTOML(t, `
[server]
port = ":9000"

[logs]
buffer_size = 500
`)
	t.Setenv("LOKMANAGER_PORT", ":7000")
	t.Setenv("LOKMANAGER_WORKER_EXTRA", "x, y ,z")
	t.Setenv("LOKMANAGER_WORKER_RATIO", "0.5")

	opts := &testOptions{Config: path}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if opts.Port != ":7000" {
		t.Errorf("Port = %q, want env override", opts.Port)
	}
	if opts.BufferSize != 500 {
		t.Errorf("BufferSize = %d, want TOML value", opts.BufferSize)
	}
	if !reflect.DeepEqual(opts.Extra, []string{"x", "y", "z"}) {
		t.Errorf("Extra = %v", opts.Extra)
	}
	if opts.Ratio != 0.5 {
		t.Errorf("Ratio = %v", opts.Ratio)
	}
}

func TestLoadConfigSkipsChangedFlags(t *testing.T) {
	path := writeTOML(t, "[server]\nport = \":9000\"\n[logs]\nbuffer_size = 10\n")
	t.Setenv("LOKMANAGER_LOGS_BUFFER_SIZE", "20")

	opts := &testOptions{Config: path}
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().StringVar(&opts.Port, "port", ":8095", "")
	cmd.Flags().IntVar(&opts.BufferSize, "buffer-size", 0, "")
	if err := cmd.Flags().Parse([]string{"--port", ":1234", "--buffer-size", "30"}); err != nil {
		t.Fatal(err)
	}

	if err := LoadConfig(opts, cmd); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if opts.Port != ":1234" {
		t.Errorf("Port = %q, want CLI value", opts.Port)
	}
	if opts.BufferSize != 30 {
		t.Errorf("BufferSize = %d, want CLI value", opts.BufferSize)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	opts := &testOptions{Config: filepath.Join(t.TempDir(), "absent.toml"), Port: ":8095"}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if opts.Port != ":8095" {
		t.Errorf("Port = %q, default should survive", opts.Port)
	}
}

func TestLoadConfigInvalidTOML(t *testing.T) {
	opts := &testOptions{Config: writeTOML(t, "[server\nport=")}
	if err := LoadConfig(opts, nil); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadConfigRejectsNonPointer(t *testing.T) {
	if err := LoadConfig(testOptions{}, nil); err == nil {
		t.Fatal("expected error for non-pointer options")
	}
}

func TestFieldNameToFlag(t *testing.T) {
	tests := map[string]string{
		"Port":            "port",
		"LoggingLevel":    "logging-level",
		"WorkerStopGrace": "worker-stop-grace",
	}
	for in, want := range tests {
		if got := fieldNameToFlag(in); got != want {
			t.Errorf("fieldNameToFlag(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGetNestedValue(t *testing.T) {
	data := map[string]any{
		"worker": map[string]any{
			"limits": map[string]any{"grace": "10s"},
			"name":   "lokbot",
		},
		"root": "value",
	}

	tests := []struct {
		path string
		want any
	}{
		{"root", "value"},
		{"worker.name", "lokbot"},
		{"worker.limits.grace", "10s"},
		{"missing", nil},
		{"worker.missing", nil},
		{"root.child", nil},
	}
	for _, tt := range tests {
		if got := getNestedValue(data, tt.path); got != tt.want {
			t.Errorf("getNestedValue(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestLoadLoggingConfig(t *testing.T) {
	path := writeTOML(t, `
[logging]
level = "debug"
format = "json"
buffer_size = 1000
api = "warn"

[logging.modules]
supervisor = "debug"
`)

	cfg := LoadLoggingConfig(path)
	if cfg.Level != "debug" || cfg.Format != "json" {
		t.Errorf("level/format = %q/%q", cfg.Level, cfg.Format)
	}
	if cfg.BufferSize != 1000 {
		t.Errorf("BufferSize = %d", cfg.BufferSize)
	}
	want := map[string]string{"api": "warn", "supervisor": "debug"}
	if !reflect.DeepEqual(cfg.Modules, want) {
		t.Errorf("Modules = %v, want %v", cfg.Modules, want)
	}
}

func TestLoadLoggingConfigDefaults(t *testing.T) {
	for _, path := range []string{"", filepath.Join(t.TempDir(), "absent.toml")} {
		cfg := LoadLoggingConfig(path)
		if cfg.Level != "info" || cfg.Format != "text" || len(cfg.Modules) != 0 {
			t.Errorf("LoadLoggingConfig(%q) = %+v", path, cfg)
		}
	}
}
