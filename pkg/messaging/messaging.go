// Package messaging defines a generic queue abstraction used to decouple
// producers (the workflow engine) from slow consumers (notification sinks).
package messaging

import (
	"context"
	"errors"
)

var (
	// ErrAlreadyProcessed is returned when a message is acknowledged twice.
	ErrAlreadyProcessed = errors.New("message already processed")
	// ErrQueueFull is returned by a non-blocking publish when no buffer space is left.
	ErrQueueFull = errors.New("queue full")
)

// Queue is a typed message queue.
type Queue[T any] interface {
	// Publish enqueues a copy of t.
	Publish(ctx context.Context, t *T) error
	// Consume blocks until a message is available or ctx is done.
	Consume(ctx context.Context) (Message[T], error)
}

// Message is a delivered queue entry awaiting acknowledgement.
type Message[T any] interface {
	// ID returns the message id, stable across redeliveries.
	ID() string
	// T returns the payload.
	T() *T
	// Attempt returns the delivery attempt, starting at 1.
	Attempt() int
	// Ack marks the message processed.
	Ack() error
	// Nack reports a failure; the queue redelivers until its retry budget is spent.
	Nack(err error) error
}
