package instances

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound             = errors.New("workflow instance not found")
	ErrInvalidState         = errors.New("workflow instance is not active")
	ErrNotSuspended         = errors.New("workflow instance is not suspended")
	ErrTransitionNotAllowed = errors.New("transition not allowed")
	ErrUnknownState         = errors.New("state is not defined by the workflow")
)

// MapHTTPStatus maps instance errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrNotSuspended):
		return http.StatusConflict
	case errors.Is(err, ErrTransitionNotAllowed), errors.Is(err, ErrUnknownState):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
