package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrValidation      = errors.New("validation failed")
	ErrProviderFailure = errors.New("provider failure")
	ErrParse           = errors.New("parse error")
	ErrStepFailed      = errors.New("step failed")
	ErrRunFailed       = errors.New("run failed")
	ErrRunCancelled    = errors.New("run cancelled")
	ErrConflict        = errors.New("conflict")
)

// ValidationError names the offending field of a rejected JobRequest.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError builds a ValidationError that matches ErrValidation.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
