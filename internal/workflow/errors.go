package workflow

import (
	"errors"
	"net/http"

	"github.com/JaimeStill/steward/internal/definitions"
	"github.com/JaimeStill/steward/internal/instances"
	"github.com/JaimeStill/steward/internal/store"
	"github.com/JaimeStill/steward/internal/tasks"
)

var (
	// ErrActionRequired is returned when a task is completed without an
	// action and its state has more than one outgoing transition.
	ErrActionRequired = errors.New("action required: state has several outgoing transitions")
	// ErrTaskNotCurrent is returned when completing a task that no longer
	// occupies its instance's current state.
	ErrTaskNotCurrent = errors.New("task is not the instance's current task")
	// ErrMissingUser is returned when an operation has no acting user.
	ErrMissingUser = errors.New("acting user required")
	// ErrInvalidInput is returned for malformed requests.
	ErrInvalidInput = errors.New("invalid input")
)

// Kind is the caller-facing error category.
type Kind string

const (
	KindValidation           Kind = "validation"
	KindState                Kind = "state"
	KindTransitionNotAllowed Kind = "transition_not_allowed"
	KindAuthorization        Kind = "authorization"
	KindNotFound             Kind = "not_found"
	KindConflict             Kind = "conflict"
	KindInternal             Kind = "internal"
)

// Classify sorts err into a Kind. Every kind except internal is recoverable
// by retrying with corrected input.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, definitions.ErrValidation),
		errors.Is(err, ErrActionRequired),
		errors.Is(err, ErrInvalidInput):
		return KindValidation
	case errors.Is(err, instances.ErrInvalidState),
		errors.Is(err, instances.ErrNotSuspended),
		errors.Is(err, tasks.ErrNotPending),
		errors.Is(err, tasks.ErrNotInProgress),
		errors.Is(err, tasks.ErrNotCompletable),
		errors.Is(err, tasks.ErrAlreadyTerminal),
		errors.Is(err, definitions.ErrInactive),
		errors.Is(err, ErrTaskNotCurrent):
		return KindState
	case errors.Is(err, instances.ErrTransitionNotAllowed),
		errors.Is(err, instances.ErrUnknownState):
		return KindTransitionNotAllowed
	case errors.Is(err, tasks.ErrRoleMismatch),
		errors.Is(err, tasks.ErrNotAssignee),
		errors.Is(err, ErrMissingUser):
		return KindAuthorization
	case errors.Is(err, definitions.ErrNotFound),
		errors.Is(err, instances.ErrNotFound),
		errors.Is(err, tasks.ErrNotFound),
		errors.Is(err, store.ErrNotFound):
		return KindNotFound
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrDuplicate):
		return KindConflict
	default:
		return KindInternal
	}
}

// MapHTTPStatus maps workflow errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch Classify(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindState:
		return http.StatusConflict
	case KindTransitionNotAllowed:
		return http.StatusUnprocessableEntity
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func notFound(err, domain error) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain
	}
	return err
}
