package events

import (
	"time"

	"github.com/smazurov/lokmanager/internal/logging"
)

// NewLogEntryEvent converts a buffered log event into its bus form.
func NewLogEntryEvent(ev logging.LogEvent) LogEntryEvent {
	return LogEntryEvent{
		Seq:        ev.Seq,
		Timestamp:  ev.Timestamp.Format(time.RFC3339Nano),
		Level:      ev.Level,
		Profile:    ev.Profile,
		Source:     ev.Source,
		Message:    ev.Text,
		Attributes: ev.Attributes,
	}
}
