package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/lokmanager/internal/api/models"
	"github.com/smazurov/lokmanager/internal/profile"
	"github.com/smazurov/lokmanager/internal/supervisor"
)

func (s *Server) registerLifecycleRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "start-profile",
		Method:      http.MethodPost,
		Path:        "/api/profiles/{name}/start",
		Summary:     "Start Profile",
		Description: "Spawn the profile's worker. Starting a running profile is not an error; changed is false.",
		Tags:        []string{"lifecycle"},
		Errors:      []int{400, 401, 404, 500},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.ProfilePath) (*models.CommandResponse, error) {
		err := s.sup.Start(input.Name)
		switch {
		case err == nil:
			return command(input.Name, profile.StatusRunning, true, "Worker started"), nil
		case errors.Is(err, supervisor.ErrAlreadyRunning):
			return command(input.Name, profile.StatusRunning, false, "Worker already running"), nil
		default:
			return nil, mapError(err)
		}
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "stop-profile",
		Method:      http.MethodPost,
		Path:        "/api/profiles/{name}/stop",
		Summary:     "Stop Profile",
		Description: "Terminate the profile's worker. Stopping a stopped profile is not an error; changed is false.",
		Tags:        []string{"lifecycle"},
		Errors:      []int{401, 404, 500},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.ProfilePath) (*models.CommandResponse, error) {
		err := s.sup.Stop(input.Name)
		switch {
		case err == nil:
			return command(input.Name, profile.StatusStopped, true, "Worker stopped"), nil
		case errors.Is(err, supervisor.ErrNotRunning):
			if _, getErr := s.sup.Profile(input.Name); getErr != nil {
				return nil, mapError(getErr)
			}
			return command(input.Name, profile.StatusStopped, false, "Worker not running"), nil
		default:
			return nil, mapError(err)
		}
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-profile-stats",
		Method:      http.MethodGet,
		Path:        "/api/profiles/{name}/stats",
		Summary:     "Profile Statistics",
		Description: "Compute counters and hourly rates from the profile's buffered worker output",
		Tags:        []string{"lifecycle"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.ProfilePath) (*models.StatsResponse, error) {
		snap, err := s.sup.Stats(input.Name, time.Now())
		if err != nil {
			return nil, mapError(err)
		}
		return &models.StatsResponse{Body: snap}, nil
	})
}

func command(name string, st profile.Status, changed bool, msg string) *models.CommandResponse {
	return &models.CommandResponse{
		Body: models.CommandData{
			Profile: name,
			Status:  string(st),
			Changed: changed,
			Message: msg,
		},
	}
}
