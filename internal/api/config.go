package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/lokmanager/internal/api/models"
	"github.com/smazurov/lokmanager/internal/profile"
)

func (s *Server) registerConfigRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-default-config",
		Method:      http.MethodGet,
		Path:        "/api/default-config",
		Summary:     "Default Config",
		Description: "Get the built-in worker configuration used for new profiles",
		Tags:        []string{"config"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.ConfigResponse, error) {
		return &models.ConfigResponse{Body: profile.DefaultConfig()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-profile-config",
		Method:      http.MethodGet,
		Path:        "/api/profiles/{name}/config",
		Summary:     "Get Config",
		Description: "Get the profile's effective worker configuration",
		Tags:        []string{"config"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.ProfilePath) (*models.ConfigResponse, error) {
		p, err := s.sup.Profile(input.Name)
		if err != nil {
			return nil, mapError(err)
		}
		return &models.ConfigResponse{Body: p.EffectiveConfig()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-profile-config",
		Method:      http.MethodPut,
		Path:        "/api/profiles/{name}/config",
		Summary:     "Replace Config",
		Description: "Replace the profile's worker configuration with a JSON object",
		Tags:        []string{"config"},
		Errors:      []int{401, 404, 422, 500},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.SetConfigRequest) (*models.ConfigResponse, error) {
		if err := s.sup.Store().SetConfig(input.Name, json.RawMessage(input.RawBody)); err != nil {
			return nil, mapError(err)
		}
		return s.configResponse(input.Name)
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "reset-profile-config",
		Method:      http.MethodDelete,
		Path:        "/api/profiles/{name}/config",
		Summary:     "Reset Config",
		Description: "Restore the built-in default configuration",
		Tags:        []string{"config"},
		Errors:      []int{401, 404, 500},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.ProfilePath) (*models.ConfigResponse, error) {
		if err := s.sup.Store().ResetConfig(input.Name); err != nil {
			return nil, mapError(err)
		}
		return s.configResponse(input.Name)
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-profile-config-value",
		Method:      http.MethodGet,
		Path:        "/api/profiles/{name}/config/value",
		Summary:     "Get Config Value",
		Description: "Read one value from the configuration by gjson path",
		Tags:        []string{"config"},
		Errors:      []int{401, 404, 422},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.ConfigValueQuery) (*models.ConfigValueResponse, error) {
		value, err := s.sup.Store().ConfigValue(input.Name, input.Path)
		if err != nil {
			return nil, mapError(err)
		}
		return &models.ConfigValueResponse{
			Body: models.ConfigValueData{Path: input.Path, Value: value},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-profile-config-value",
		Method:      http.MethodPut,
		Path:        "/api/profiles/{name}/config/value",
		Summary:     "Set Config Value",
		Description: "Set one value in the configuration by sjson path; missing objects are created",
		Tags:        []string{"config"},
		Errors:      []int{401, 404, 422, 500},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.SetConfigValueRequest) (*models.ConfigValueResponse, error) {
		raw, err := json.Marshal(input.Body.Value)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("value is not valid JSON", err)
		}
		store := s.sup.Store()
		if err := store.SetConfigValue(input.Name, input.Body.Path, raw); err != nil {
			return nil, mapError(err)
		}
		value, err := store.ConfigValue(input.Name, input.Body.Path)
		if err != nil {
			return nil, mapError(err)
		}
		return &models.ConfigValueResponse{
			Body: models.ConfigValueData{Path: input.Body.Path, Value: value},
		}, nil
	})
}

func (s *Server) configResponse(name string) (*models.ConfigResponse, error) {
	p, err := s.sup.Profile(name)
	if err != nil {
		return nil, mapError(err)
	}
	return &models.ConfigResponse{Body: p.EffectiveConfig()}, nil
}
