package supervisor

import (
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/lokmanager/internal/process"
)

// instance is the live handle for one running profile.
type instance struct {
	runID      uuid.UUID
	profile    string
	proc       *process.Process
	configPath string
	startedAt  time.Time
}

func (i *instance) exited() bool {
	select {
	case <-i.proc.Exited():
		return true
	default:
		return false
	}
}

// InstanceInfo describes a running worker.
type InstanceInfo struct {
	Profile    string    `json:"profile"`
	RunID      string    `json:"run_id"`
	PID        int       `json:"pid"`
	ConfigPath string    `json:"config_path"`
	StartedAt  time.Time `json:"started_at"`
	LogLines   int64     `json:"log_lines"`
}

func (i *instance) info() InstanceInfo {
	return InstanceInfo{
		Profile:    i.profile,
		RunID:      i.runID.String(),
		PID:        i.proc.PID(),
		ConfigPath: i.configPath,
		StartedAt:  i.startedAt,
		LogLines:   i.proc.Collector().Lines(),
	}
}
