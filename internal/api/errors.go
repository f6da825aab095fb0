package api

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/lokmanager/internal/profile"
	"github.com/smazurov/lokmanager/internal/supervisor"
)

// mapError maps domain errors to HTTP errors.
func mapError(err error) error {
	var supErr *supervisor.Error
	if errors.As(err, &supErr) {
		switch supErr.Code {
		case supervisor.ErrCodeMissingToken:
			return huma.Error400BadRequest(supErr.Message, err)
		case supervisor.ErrCodeAlreadyRunning, supervisor.ErrCodeNotRunning:
			return huma.Error409Conflict(supErr.Message, err)
		case supervisor.ErrCodeSpawnError:
			return huma.Error500InternalServerError(supErr.Message, err)
		}
	}

	var profErr *profile.Error
	if errors.As(err, &profErr) {
		switch profErr.Code {
		case profile.ErrCodeNotFound:
			return huma.Error404NotFound(profErr.Message, err)
		case profile.ErrCodeDuplicateProfile:
			return huma.Error409Conflict(profErr.Message, err)
		case profile.ErrCodeInvalidName:
			return huma.Error400BadRequest(profErr.Message, err)
		case profile.ErrCodeInvalidConfig:
			return huma.Error422UnprocessableEntity(profErr.Message, err)
		case profile.ErrCodePersistError, profile.ErrCodeConfigError:
			return huma.Error500InternalServerError(profErr.Message, err)
		}
	}

	return huma.Error500InternalServerError("internal server error", err)
}
