package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/lokmanager/internal/api/models"
)

func (s *Server) registerStatusRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/api/status",
		Summary:     "Status",
		Description: "Latest snapshot from the status synchronizer",
		Tags:        []string{"status"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.StatusResponse, error) {
		return &models.StatusResponse{Body: s.status.Snapshot()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "select-profile",
		Method:      http.MethodPut,
		Path:        "/api/status/selected",
		Summary:     "Select Profile",
		Description: "Choose the profile whose statistics the status view shows",
		Tags:        []string{"status"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.SelectRequest) (*models.StatusResponse, error) {
		name := input.Body.Profile
		if name != "" {
			if _, err := s.sup.Profile(name); err != nil {
				return nil, mapError(err)
			}
		}
		s.status.Select(name)
		return &models.StatusResponse{Body: s.status.Tick()}, nil
	})
}
