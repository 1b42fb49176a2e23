// Package errx defines the service error taxonomy and its HTTP mapping.
package errx

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrAgentNotFound        = errors.New("agent not found")
	ErrIncompletePersona    = errors.New("agent persona is incomplete")
	ErrUnsupportedProvider  = errors.New("unsupported provider")
	ErrStoreUnavailable     = errors.New("conversation store unavailable")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrConversationGone     = errors.New("conversation has been deleted")
	ErrProvider             = errors.New("provider failed")
)

// AppError wraps an underlying error with an HTTP status and safe message.
type AppError struct {
	Err     error
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the provided information.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// StoreUnavailable wraps a persistence failure.
func StoreUnavailable(err error) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Err:     fmt.Errorf("%w: %w", ErrStoreUnavailable, err),
		Status:  http.StatusInternalServerError,
		Message: "conversation store unavailable",
	}
}

// StatusOf maps an error to the HTTP status the API returns for it.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Status != 0 {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUnsupportedProvider):
		return http.StatusBadRequest
	case errors.Is(err, ErrAgentNotFound), errors.Is(err, ErrConversationNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConversationGone):
		return http.StatusGone
	case errors.Is(err, ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// MessageOf returns a message that is safe to show to API callers.
func MessageOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}

	switch StatusOf(err) {
	case http.StatusInternalServerError:
		if errors.Is(err, ErrIncompletePersona) {
			return err.Error()
		}
		return "internal server error"
	default:
		return err.Error()
	}
}
