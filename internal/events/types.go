package events

// Event type constants for kelindar/event.
const (
	TypeProfileCreated uint32 = iota + 1
	TypeProfileDeleted
	TypeProfileStateChanged
	TypeLogEntry
	TypeStatusSnapshot
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// Reasons carried by ProfileStateChangedEvent.
const (
	ReasonStart     = "start"
	ReasonStop      = "stop"
	ReasonExit      = "exit"
	ReasonReconcile = "reconcile"
)

// ProfileCreatedEvent is published when a profile is created or cloned.
type ProfileCreatedEvent struct {
	Profile   string `json:"profile" example:"farm1" doc:"Profile name"`
	Source    string `json:"source,omitempty" example:"farm0" doc:"Profile it was cloned from"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ProfileCreatedEvent.
func (e ProfileCreatedEvent) Type() uint32 { return TypeProfileCreated }

// ProfileDeletedEvent is published when a profile is removed.
type ProfileDeletedEvent struct {
	Profile   string `json:"profile" example:"farm1" doc:"Profile name"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ProfileDeletedEvent.
func (e ProfileDeletedEvent) Type() uint32 { return TypeProfileDeleted }

// ProfileStateChangedEvent is published on every Running/Stopped transition.
type ProfileStateChangedEvent struct {
	Profile   string `json:"profile" example:"farm1" doc:"Profile name"`
	Status    string `json:"status" example:"Running" enum:"Running,Stopped" doc:"New status"`
	Reason    string `json:"reason" example:"start" enum:"start,stop,exit,reconcile" doc:"Why the status changed"`
	RunID     string `json:"run_id,omitempty" doc:"Worker run identifier"`
	PID       int    `json:"pid,omitempty" doc:"Worker process id"`
	ExitCode  *int   `json:"exit_code,omitempty" doc:"Worker exit code when it exited"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ProfileStateChangedEvent.
func (e ProfileStateChangedEvent) Type() uint32 { return TypeProfileStateChanged }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Profile    string         `json:"profile,omitempty" example:"farm1" doc:"Profile the line belongs to"`
	Source     string         `json:"source" example:"worker" doc:"worker for worker output, module name otherwise"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }

// StatusSnapshotEvent is published by the status synchronizer on every tick.
type StatusSnapshotEvent struct {
	RunningCount int      `json:"running_count" example:"2" doc:"Number of running profiles"`
	Summary      string   `json:"summary" example:"Running 2 bot(s)" doc:"Status line"`
	Profiles     []string `json:"profiles" doc:"Selectable profile names"`
	Selected     string   `json:"selected,omitempty" doc:"Profile shown in detail"`
	Timestamp    string   `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Snapshot time"`
}

// Type returns the event type identifier for StatusSnapshotEvent.
func (e StatusSnapshotEvent) Type() uint32 { return TypeStatusSnapshot }
