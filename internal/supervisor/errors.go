package supervisor

import "fmt"

// Error represents a lifecycle command failure.
type Error struct {
	Code    string
	Profile string
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

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Error codes
const (
	ErrCodeMissingToken   = "MISSING_TOKEN"
	ErrCodeSpawnError     = "SPAWN_ERROR"
	ErrCodeAlreadyRunning = "ALREADY_RUNNING"
	ErrCodeNotRunning     = "NOT_RUNNING"
)

// Sentinels for errors.Is.
var (
	ErrMissingToken   = &Error{Code: ErrCodeMissingToken}
	ErrSpawn          = &Error{Code: ErrCodeSpawnError}
	ErrAlreadyRunning = &Error{Code: ErrCodeAlreadyRunning}
	ErrNotRunning     = &Error{Code: ErrCodeNotRunning}
)

func newError(code, profile, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Profile: profile,
		Message: message,
		Cause:   cause,
	}
}
