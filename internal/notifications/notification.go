// Package notifications delivers fire-and-forget workflow notifications.
// Delivery channels (email, push) live outside the service; the dispatcher
// hands each notification to a Sink off the request path.
package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the notification template.
type Kind string

const (
	KindTransition    Kind = "transition"
	KindTaskCreated   Kind = "task_created"
	KindTaskEscalated Kind = "task_escalated"
	KindCancelled     Kind = "cancelled"
	KindSLAWarning    Kind = "sla_warning"
	KindSLABreached   Kind = "sla_breached"
)

// Target addresses users directly and every holder of the listed roles.
type Target struct {
	Users []string `json:"users,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// Empty reports whether the target addresses nobody.
func (t Target) Empty() bool {
	return len(t.Users) == 0 && len(t.Roles) == 0
}

// Users targets the given user ids.
func Users(ids ...string) Target {
	return Target{Users: ids}
}

// Roles targets every holder of the given roles.
func Roles(roles ...string) Target {
	return Target{Roles: roles}
}

// Notification is one message to deliver.
type Notification struct {
	ID        uuid.UUID      `json:"id"`
	Kind      Kind           `json:"kind"`
	Target    Target         `json:"target"`
	Subject   string         `json:"subject"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// New builds a notification stamped with a fresh id.
func New(kind Kind, target Target, subject string, payload map[string]any, now time.Time) Notification {
	return Notification{
		ID:        uuid.New(),
		Kind:      kind,
		Target:    target,
		Subject:   subject,
		Payload:   payload,
		CreatedAt: now,
	}
}

// Dispatcher accepts notifications for delivery. Implementations must not
// block on delivery.
type Dispatcher interface {
	Notify(ctx context.Context, n Notification) error
}

// Sink performs delivery of a single notification.
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n Notification) error

func (f SinkFunc) Deliver(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

type discard struct{}

// Discard drops every notification.
var Discard Dispatcher = discard{}

func (discard) Notify(context.Context, Notification) error { return nil }
