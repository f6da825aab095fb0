package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/lokmanager/internal/api/models"
	"github.com/smazurov/lokmanager/internal/profile"
)

func (s *Server) registerProfileRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-profiles",
		Method:      http.MethodGet,
		Path:        "/api/profiles",
		Summary:     "List Profiles",
		Description: "List all profiles with their status",
		Tags:        []string{"profiles"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.ProfileListResponse, error) {
		all := s.sup.Profiles()
		out := make([]models.ProfileData, 0, len(all))
		for _, p := range all {
			out = append(out, s.profileData(p, false))
		}
		return &models.ProfileListResponse{
			Body: models.ProfileListData{
				Profiles: out,
				Count:    len(out),
				Running:  s.sup.RunningCount(),
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "create-profile",
		Method:        http.MethodPost,
		Path:          "/api/profiles",
		Summary:       "Create Profile",
		Description:   "Create a stopped profile with an optional token and configuration",
		Tags:          []string{"profiles"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{400, 401, 409, 422, 500},
		Security:      withAuth(),
	}, func(_ context.Context, input *models.CreateProfileRequest) (*models.ProfileResponse, error) {
		var doc json.RawMessage
		if input.Body.Config != nil {
			raw, err := json.Marshal(input.Body.Config)
			if err != nil {
				return nil, huma.Error422UnprocessableEntity("config is not valid JSON", err)
			}
			if err := profile.ValidateConfig(raw); err != nil {
				return nil, mapError(err)
			}
			doc = raw
		}

		name := input.Body.Name
		if _, err := s.sup.Create(name); err != nil {
			return nil, mapError(err)
		}
		store := s.sup.Store()
		if input.Body.Token != "" {
			if err := store.SetToken(name, input.Body.Token); err != nil {
				return nil, mapError(err)
			}
		}
		if doc != nil {
			if err := store.SetConfig(name, doc); err != nil {
				return nil, mapError(err)
			}
		}
		return s.profileResponse(name, true)
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-profile",
		Method:      http.MethodGet,
		Path:        "/api/profiles/{name}",
		Summary:     "Get Profile",
		Description: "Get a profile with its configuration; the token is masked",
		Tags:        []string{"profiles"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.ProfilePath) (*models.ProfileResponse, error) {
		return s.profileResponse(input.Name, true)
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "delete-profile",
		Method:      http.MethodDelete,
		Path:        "/api/profiles/{name}",
		Summary:     "Delete Profile",
		Description: "Stop the profile's worker if running, then remove the profile",
		Tags:        []string{"profiles"},
		Errors:      []int{401, 404, 500},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.ProfilePath) (*struct{}, error) {
		if err := s.sup.Delete(input.Name); err != nil {
			return nil, mapError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "clone-profile",
		Method:        http.MethodPost,
		Path:          "/api/profiles/{name}/clone",
		Summary:       "Clone Profile",
		Description:   "Copy token and configuration into a new stopped profile",
		Tags:          []string{"profiles"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{400, 401, 404, 409, 500},
		Security:      withAuth(),
	}, func(_ context.Context, input *models.CloneProfileRequest) (*models.ProfileResponse, error) {
		if _, err := s.sup.Clone(input.Name, input.Body.Name); err != nil {
			return nil, mapError(err)
		}
		return s.profileResponse(input.Body.Name, true)
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-profile-token",
		Method:      http.MethodPut,
		Path:        "/api/profiles/{name}/token",
		Summary:     "Set Token",
		Description: "Replace the profile's token; a running worker keeps its old token until restarted",
		Tags:        []string{"profiles"},
		Errors:      []int{401, 404, 500},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.SetTokenRequest) (*models.ProfileResponse, error) {
		if err := s.sup.Store().SetToken(input.Name, input.Body.Token); err != nil {
			return nil, mapError(err)
		}
		return s.profileResponse(input.Name, false)
	})
}

func (s *Server) profileResponse(name string, withConfig bool) (*models.ProfileResponse, error) {
	p, err := s.sup.Profile(name)
	if err != nil {
		return nil, mapError(err)
	}
	return &models.ProfileResponse{Body: s.profileData(p, withConfig)}, nil
}

func (s *Server) profileData(p profile.Profile, withConfig bool) models.ProfileData {
	data := models.ProfileData{
		Name:     p.Name,
		Status:   string(p.Status),
		Token:    p.MaskedToken(),
		HasToken: p.Token != "",
	}
	if t, ok := p.Started(); ok {
		data.StartTime = &t
	}
	if info, ok := s.sup.Instance(p.Name); ok {
		data.Running = true
		data.Instance = &info
	}
	if withConfig {
		data.Config = p.EffectiveConfig()
	}
	return data
}
