package definitions

import (
	"errors"
	"net/http"
	"strings"
)

var (
	ErrValidation = errors.New("invalid workflow definition")
	ErrNotFound   = errors.New("workflow definition not found")
	ErrInactive   = errors.New("workflow definition is not active")
)

// ValidationError lists every problem found in a definition.
type ValidationError struct {
	Name   string
	Issues []string
}

func (e *ValidationError) Error() string {
	return ErrValidation.Error() + " " + e.Name + ": " + strings.Join(e.Issues, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// MapHTTPStatus maps definition errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrInactive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
