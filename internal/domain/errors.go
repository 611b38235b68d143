package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden: viewer is neither sender nor recipient")
	ErrDuplicateName       = errors.New("template name already exists")
	ErrTemplateUnavailable = errors.New("template not found or inactive")
	ErrMissingFields       = errors.New("title, message and at least one recipient are required")
	ErrNoChannels          = errors.New("at least one channel is required")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrNotEditable         = errors.New("notification can no longer be modified")
	ErrQueueFull           = errors.New("queue is at capacity, try again later")
)

// ValidationError is a field-level failure. Err is one of ErrMissingFields,
// ErrNoChannels or ErrInvalidInput so callers can match with errors.Is.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg, Err: ErrInvalidInput}
}

// IsValidation reports whether err is a caller-correctable input error.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, ErrMissingFields) ||
		errors.Is(err, ErrNoChannels) ||
		errors.Is(err, ErrInvalidInput)
}
