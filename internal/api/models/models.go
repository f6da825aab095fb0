// Package models holds the request and response types of the HTTP API.
package models

import (
	"time"

	"github.com/smazurov/lokmanager/internal/logging"
	"github.com/smazurov/lokmanager/internal/stats"
	"github.com/smazurov/lokmanager/internal/status"
	"github.com/smazurov/lokmanager/internal/supervisor"
	"github.com/smazurov/lokmanager/internal/version"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
	Running int    `json:"running" example:"2" doc:"Number of running profiles"`
}

type HealthResponse struct {
	Body HealthData
}

type VersionResponse struct {
	Body version.Info
}

// ProfilePath identifies a profile in the URL.
type ProfilePath struct {
	Name string `path:"name" example:"farm1" doc:"Profile name"`
}

// Profile models
type ProfileData struct {
	Name      string                   `json:"name" example:"farm1" doc:"Profile name"`
	Status    string                   `json:"status" example:"Running" enum:"Running,Stopped" doc:"Stored status"`
	Running   bool                     `json:"running" doc:"Whether a worker process is live"`
	Token     string                   `json:"token" example:"****3f9a" doc:"Masked token"`
	HasToken  bool                     `json:"has_token" doc:"Whether a token is set"`
	StartTime *time.Time               `json:"start_time,omitempty" doc:"When the current run started"`
	Instance  *supervisor.InstanceInfo `json:"instance,omitempty" doc:"Live worker details"`
	Config    any                      `json:"config,omitempty" doc:"Worker configuration document"`
}

type ProfileListData struct {
	Profiles []ProfileData `json:"profiles" doc:"All profiles sorted by name"`
	Count    int           `json:"count" example:"2" doc:"Number of profiles"`
	Running  int           `json:"running" example:"1" doc:"Number of running profiles"`
}

type ProfileListResponse struct {
	Body ProfileListData
}

type ProfileResponse struct {
	Body ProfileData
}

type CreateProfileRequest struct {
	Body struct {
		Name   string `json:"name" minLength:"1" example:"farm1" doc:"Profile name"`
		Token  string `json:"token,omitempty" doc:"Game account token"`
		Config any    `json:"config,omitempty" doc:"Initial configuration, defaults to the built-in one"`
	}
}

type CloneProfileRequest struct {
	ProfilePath
	Body struct {
		Name string `json:"name" minLength:"1" example:"farm2" doc:"Name of the new profile"`
	}
}

type SetTokenRequest struct {
	ProfilePath
	Body struct {
		Token string `json:"token" doc:"Game account token, empty to clear"`
	}
}

// Config models
type ConfigResponse struct {
	Body any
}

type SetConfigRequest struct {
	ProfilePath
	RawBody []byte `contentType:"application/json"`
}

type ConfigValueQuery struct {
	ProfilePath
	Path string `query:"path" required:"true" example:"main.object_scanning.enabled" doc:"gjson path into the configuration"`
}

type ConfigValueData struct {
	Path  string `json:"path" doc:"gjson path"`
	Value any    `json:"value" doc:"Value at the path"`
}

type ConfigValueResponse struct {
	Body ConfigValueData
}

type SetConfigValueRequest struct {
	ProfilePath
	Body struct {
		Path  string `json:"path" minLength:"1" example:"main.object_scanning.enabled" doc:"sjson path into the configuration"`
		Value any    `json:"value" doc:"New value"`
	}
}

// Lifecycle models
type CommandData struct {
	Profile string `json:"profile" example:"farm1" doc:"Profile name"`
	Status  string `json:"status" example:"Running" enum:"Running,Stopped" doc:"Status after the command"`
	Changed bool   `json:"changed" doc:"False when the profile was already in the requested state"`
	Message string `json:"message" example:"Worker started" doc:"Result message"`
}

type CommandResponse struct {
	Body CommandData
}

type StatsResponse struct {
	Body stats.Snapshot
}

// Status models
type StatusResponse struct {
	Body status.Report
}

type SelectRequest struct {
	Body struct {
		Profile string `json:"profile" example:"farm1" doc:"Profile to show in detail, empty to clear"`
	}
}

// Log models
type LogsQuery struct {
	Profile string `query:"profile" doc:"Only entries for this profile"`
	Since   uint64 `query:"since" doc:"Only entries with a sequence number above this"`
	Limit   int    `query:"limit" minimum:"0" doc:"Return at most this many of the newest entries, 0 for all"`
}

type LogsData struct {
	Entries []logging.LogEvent `json:"entries" doc:"Log entries, oldest first"`
	Count   int                `json:"count" doc:"Number of entries returned"`
	LastSeq uint64             `json:"last_seq" doc:"Highest sequence number in the buffer"`
}

type LogsResponse struct {
	Body LogsData
}

type LogsExportResponse struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

type LogStreamQuery struct {
	Profile string `query:"profile" doc:"Only entries for this profile"`
	Since   uint64 `query:"since" doc:"Replay buffered entries above this sequence number"`
}

type CountResponse struct {
	Body struct {
		Cleared int `json:"cleared" doc:"Number of entries removed"`
	}
}
