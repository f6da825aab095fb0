package profile

import "fmt"

// Error represents a profile store failure.
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code, so errors.Is works against the
// sentinel values below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Error codes
const (
	ErrCodeConfigError      = "CONFIG_ERROR"
	ErrCodeDuplicateProfile = "DUPLICATE_PROFILE"
	ErrCodeNotFound         = "PROFILE_NOT_FOUND"
	ErrCodeInvalidName      = "INVALID_NAME"
	ErrCodeInvalidConfig    = "INVALID_CONFIG"
	ErrCodePersistError     = "PERSIST_ERROR"
)

// Sentinels for errors.Is.
var (
	ErrConfig           = &Error{Code: ErrCodeConfigError}
	ErrDuplicateProfile = &Error{Code: ErrCodeDuplicateProfile}
	ErrNotFound         = &Error{Code: ErrCodeNotFound}
	ErrInvalidName      = &Error{Code: ErrCodeInvalidName}
	ErrInvalidConfig    = &Error{Code: ErrCodeInvalidConfig}
	ErrPersist          = &Error{Code: ErrCodePersistError}
)

// NewError creates a new profile error.
func NewError(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func notFound(name string) *Error {
	return NewError(ErrCodeNotFound, fmt.Sprintf("profile %q not found", name), nil)
}
