package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/lokmanager/cmd"
	"github.com/smazurov/lokmanager/internal/api"
	"github.com/smazurov/lokmanager/internal/config"
	"github.com/smazurov/lokmanager/internal/events"
	"github.com/smazurov/lokmanager/internal/logging"
	"github.com/smazurov/lokmanager/internal/metrics"
	"github.com/smazurov/lokmanager/internal/process"
	"github.com/smazurov/lokmanager/internal/profile"
	"github.com/smazurov/lokmanager/internal/status"
	"github.com/smazurov/lokmanager/internal/supervisor"
	"github.com/smazurov/lokmanager/internal/version"
	"github.com/smazurov/lokmanager/internal/worker"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8095" toml:"server.port" env:"SERVER_PORT"`

	// Profile store settings
	ProfilesFile  string `help:"Profiles file" default:"profiles.json" toml:"profiles.file" env:"PROFILES_FILE"`
	ProfilesWatch bool   `help:"Reload the profiles file when it changes on disk" default:"true" toml:"profiles.watch" env:"PROFILES_WATCH"`

	// Worker settings
	WorkerCommand      string `help:"Worker command line; the token is appended" default:"python3 -m lokbot" toml:"worker.command" env:"WORKER_COMMAND"`
	WorkerConfigDir    string `help:"Directory for per-profile worker config files" default:"." toml:"worker.config_dir" env:"WORKER_CONFIG_DIR"`
	WorkerStopGrace    string `help:"Time a worker has after SIGTERM before SIGKILL, 0 to never kill" default:"10s" toml:"worker.stop_grace" env:"WORKER_STOP_GRACE"`
	WorkerDrainWindow  string `help:"Time to keep reading output after a worker exits" default:"2s" toml:"worker.drain_window" env:"WORKER_DRAIN_WINDOW"`
	WorkerMaxLineBytes int    `help:"Longest worker output line kept, longer lines are truncated" default:"65536" toml:"worker.max_line_bytes" env:"WORKER_MAX_LINE_BYTES"`

	// Status settings
	StatusInterval string `help:"Status refresh interval" default:"1s" toml:"status.interval" env:"STATUS_INTERVAL"`

	// Log buffer settings
	LogsBufferSize int `help:"Log lines kept in memory" default:"20000" toml:"logs.buffer_size" env:"LOGS_BUFFER_SIZE"`

	// Auth settings
	AuthUsername string `help:"Basic auth username, empty disables auth" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Metrics settings
	MetricsEnabled bool `help:"Expose Prometheus metrics at /metrics" default:"true" toml:"metrics.enabled" env:"METRICS_ENABLED"`

	// Logging settings
	LoggingLevel      string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat     string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingSupervisor string `help:"Supervisor logging level" toml:"logging.supervisor" env:"LOGGING_SUPERVISOR"`
	LoggingProcess    string `help:"Process logging level" toml:"logging.process" env:"LOGGING_PROCESS"`
	LoggingAPI        string `help:"API logging level" toml:"logging.api" env:"LOGGING_API"`
	LoggingHTTP       string `help:"HTTP request logging level" toml:"logging.http" env:"LOGGING_HTTP"`
}

func (o *Options) loggingConfig() logging.Config {
	cfg := config.LoadLoggingConfig(o.Config)
	cfg.Level = o.LoggingLevel
	cfg.Format = o.LoggingFormat
	cfg.BufferSize = o.LogsBufferSize
	for module, level := range map[string]string{
		"supervisor": o.LoggingSupervisor,
		"process":    o.LoggingProcess,
		"api":        o.LoggingAPI,
		"http":       o.LoggingHTTP,
	} {
		if level != "" {
			cfg.Modules[module] = level
		}
	}
	return cfg
}

func parseDuration(name, value string, fallback time.Duration, logger *slog.Logger) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		logger.Warn("Invalid duration, using default", "option", name, "value", value, "default", fallback, "error", err)
		return fallback
	}
	return d
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(opts.loggingConfig())
		logger := logging.GetLogger("main")
		logger.Info("Starting lokmanager", "version", version.String())

		eventBus := events.New()
		logging.SetLogCallback(func(ev logging.LogEvent) {
			eventBus.Publish(events.NewLogEntryEvent(ev))
		})

		if dir := filepath.Dir(opts.ProfilesFile); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				logger.Error("Failed to create profiles directory", "dir", dir, "error", err)
			}
		}
		store := profile.NewStore(opts.ProfilesFile)
		store.Load()

		workerCommand := opts.WorkerCommand
		if workerCommand == "" {
			workerCommand = worker.DefaultCommand
		}
		sup := supervisor.New(supervisor.Options{
			Store:         store,
			Logs:          logging.GetBuffer(),
			Bus:           eventBus,
			WorkerCommand: workerCommand,
			ConfigDir:     opts.WorkerConfigDir,
			StopGrace:     parseDuration("worker.stop_grace", opts.WorkerStopGrace, supervisor.DefaultStopGrace, logger),
			DrainWindow:   parseDuration("worker.drain_window", opts.WorkerDrainWindow, process.DefaultDrainWindow, logger),
			MaxLineBytes:  opts.WorkerMaxLineBytes,
		})
		// Nothing is running yet, so every stored Running is stale.
		if err := sup.Reconcile(); err != nil {
			logger.Warn("Failed to persist reconciled profiles", "error", err)
		}

		synchronizer := status.New(sup, eventBus,
			parseDuration("status.interval", opts.StatusInterval, status.DefaultInterval, logger))

		apiOpts := &api.Options{
			AuthUsername: opts.AuthUsername,
			AuthPassword: opts.AuthPassword,
			Supervisor:   sup,
			Status:       synchronizer,
			Logs:         logging.GetBuffer(),
			EventBus:     eventBus,
		}
		if opts.MetricsEnabled {
			if err := metrics.RegisterStatsCollector(sup.AllStats); err != nil {
				logger.Warn("Failed to register stats collector", "error", err)
			}
			apiOpts.MetricsHandler = metrics.HTTPHandler()
		}
		server := api.NewServer(apiOpts)

		var watcher *config.Watcher
		if opts.ProfilesWatch {
			watcher = config.NewWatcher(store.Path(), logging.GetLogger("config"))
			watcher.OnChange(sup.Reload)
		}

		ctx, cancel := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			go synchronizer.Run(ctx)

			if watcher != nil {
				if err := watcher.Start(); err != nil {
					logger.Warn("Failed to watch profiles file", "path", store.Path(), "error", err)
				}
			}

			if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
				logger.Debug("sd_notify failed", "error", err)
			}

			if err := server.Start(opts.Port); err != nil {
				logger.Error("Failed to start HTTP server", "error", err)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
				logger.Debug("sd_notify failed", "error", err)
			}

			if watcher != nil {
				if err := watcher.Stop(); err != nil {
					logger.Warn("Error stopping profiles watcher", "error", err)
				}
			}
			cancel()

			if err := server.Stop(); err != nil {
				logger.Error("Error stopping HTTP server", "error", err)
			}

			// Workers are stopped before the final save so it records them Stopped.
			if err := sup.ShutdownAll(); err != nil {
				logger.Error("Failed to persist profiles on shutdown", "error", err)
			}

			grace := parseDuration("worker.stop_grace", opts.WorkerStopGrace, supervisor.DefaultStopGrace, logger)
			waitCtx, waitCancel := context.WithTimeout(context.Background(), grace+5*time.Second)
			defer waitCancel()
			if err := sup.Wait(waitCtx); err != nil {
				logger.Warn("Workers still running at exit", "error", err)
			}
		})
	})

	cli.Root().Use = "lokmanager"
	cli.Root().Short = "Supervise lokbot workers, one per profile"
	cli.Root().Version = version.String()

	cli.Root().AddCommand(cmd.CreateProfileCmd())

	cli.Run()
}
