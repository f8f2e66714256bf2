package tasks

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound        = errors.New("task not found")
	ErrNotPending      = errors.New("task is not pending")
	ErrNotInProgress   = errors.New("task is not in progress")
	ErrNotCompletable  = errors.New("task cannot be completed")
	ErrAlreadyTerminal = errors.New("task is already completed or cancelled")
	ErrRoleMismatch    = errors.New("user does not hold the task's assigned role")
	ErrNotAssignee     = errors.New("user is not the task assignee")
)

// MapHTTPStatus maps task errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRoleMismatch), errors.Is(err, ErrNotAssignee):
		return http.StatusForbidden
	case errors.Is(err, ErrNotPending),
		errors.Is(err, ErrNotInProgress),
		errors.Is(err, ErrNotCompletable),
		errors.Is(err, ErrAlreadyTerminal):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
