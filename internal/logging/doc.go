// Package logging provides structured logging with per-module log levels
// and the shared log view that holds both application records and worker output.
//
// # Usage
//
// Initialize the logging system once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:      "info",
//		Format:     "text",
//		BufferSize: 20000,
//		Modules: map[string]string{
//			"supervisor": "debug",
//			"api":        "warn",
//		},
//	})
//
// Get a logger for your module:
//
//	logger := logging.GetLogger("supervisor").With("profile", name)
//	logger.Info("Worker started", "pid", pid)
//
// # Output Destinations
//
// Every record goes to the shared [Buffer]. It also goes to stdout when a
// terminal, pipe or file is attached, and to the systemd journal when
// [github.com/coreos/go-systemd/v22/journal.Enabled] reports it.
//
// The "module" attribute becomes the event source in the buffer and the
// "profile" attribute tags the event with a profile name. Worker output is
// appended directly with source [SourceWorker].
//
// # Viewing Logs
//
//	journalctl -t lokmanager -f
//	journalctl -t lokmanager MODULE=supervisor PROFILE=farm1
//
// # Configuration
//
//	[logging]
//	level = "info"
//	format = "text"
//	buffer_size = 20000
//
//	[logging.modules]
//	supervisor = "debug"
package logging
