package portal

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Callers dispatch with errors.Is; the concrete error carries
// the backend's detail text.
var (
	ErrValidation = errors.New("invalid input")
	ErrAuth       = errors.New("authentication required")
	ErrForbidden  = errors.New("access denied")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrNetwork    = errors.New("network failure")
)

// APIError is a non-2xx backend response.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("backend returned status %d", e.Status)
}

// Unwrap maps the HTTP status onto the error kind so that
// errors.Is(err, ErrConflict) and friends work on any backend failure.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrValidation
	case http.StatusUnauthorized:
		return ErrAuth
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	}
	return nil
}
