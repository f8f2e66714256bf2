// Package memory provides an in-process channel-backed messaging.Queue with
// bounded retries and a dead letter list.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/pkg/messaging"
)

// Config for the in-memory queue.
type Config struct {
	MaxRetries  int
	RetryDelay  time.Duration
	DeadLetter  bool
	QueueBuffer int
}

// DefaultConfig returns the standard queue configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:  3,
		RetryDelay:  100 * time.Millisecond,
		DeadLetter:  true,
		QueueBuffer: 256,
	}
}

// DeadLetter is a message that exhausted its retries.
type DeadLetter[T any] struct {
	ID       string
	Payload  T
	Attempts int
	Err      error
}

// Message implements messaging.Message for the in-memory queue.
type Message[T any] struct {
	id        string
	payload   T
	queue     *Queue[T]
	attempt   int
	mu        sync.Mutex
	processed bool
}

func (m *Message[T]) ID() string   { return m.id }
func (m *Message[T]) T() *T        { return &m.payload }
func (m *Message[T]) Attempt() int { return m.attempt }

// Ack acknowledges the message as processed.
func (m *Message[T]) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.processed {
		return messaging.ErrAlreadyProcessed
	}
	m.processed = true
	return nil
}

// Nack requeues the message after RetryDelay while attempts remain, otherwise
// moves it to the dead letter list when enabled.
func (m *Message[T]) Nack(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.processed {
		return messaging.ErrAlreadyProcessed
	}
	m.processed = true

	if m.attempt <= m.queue.config.MaxRetries {
		next := &Message[T]{
			id:      m.id,
			payload: m.payload,
			queue:   m.queue,
			attempt: m.attempt + 1,
		}
		m.queue.pending.Add(1)
		time.AfterFunc(m.queue.config.RetryDelay, func() {
			defer m.queue.pending.Done()
			m.queue.requeue(next)
		})
		return nil
	}

	if m.queue.config.DeadLetter {
		m.queue.dlqMu.Lock()
		m.queue.dlq = append(m.queue.dlq, DeadLetter[T]{
			ID:       m.id,
			Payload:  m.payload,
			Attempts: m.attempt,
			Err:      err,
		})
		m.queue.dlqMu.Unlock()
	}
	return nil
}

// Queue implements an in-memory messaging.Queue.
type Queue[T any] struct {
	messages chan *Message[T]
	config   Config
	done     chan struct{}
	once     sync.Once
	pending  sync.WaitGroup
	dlq      []DeadLetter[T]
	dlqMu    sync.Mutex
}

// NewQueue creates a new in-memory queue.
func NewQueue[T any](config Config) *Queue[T] {
	if config.QueueBuffer <= 0 {
		config.QueueBuffer = DefaultConfig().QueueBuffer
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	return &Queue[T]{
		messages: make(chan *Message[T], config.QueueBuffer),
		config:   config,
		done:     make(chan struct{}),
	}
}

// Publish adds a copy of t to the queue, blocking while the buffer is full.
func (q *Queue[T]) Publish(ctx context.Context, t *T) error {
	select {
	case <-q.done:
		return context.Canceled
	default:
	}

	msg := q.message(t)
	select {
	case <-q.done:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	case q.messages <- msg:
		return nil
	}
}

// TryPublish adds a copy of t to the queue without waiting. It returns
// messaging.ErrQueueFull when the buffer is full.
func (q *Queue[T]) TryPublish(t *T) error {
	select {
	case <-q.done:
		return context.Canceled
	default:
	}

	select {
	case q.messages <- q.message(t):
		return nil
	default:
		return messaging.ErrQueueFull
	}
}

func (q *Queue[T]) message(t *T) *Message[T] {
	return &Message[T]{
		id:      uuid.NewString(),
		payload: *t,
		queue:   q,
		attempt: 1,
	}
}

// Consume retrieves a single message from the queue.
func (q *Queue[T]) Consume(ctx context.Context) (messaging.Message[T], error) {
	select {
	case msg := <-q.messages:
		return msg, nil
	case <-q.done:
		return nil, context.Canceled
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting messages and waits for scheduled retries to settle.
func (q *Queue[T]) Close() {
	q.once.Do(func() { close(q.done) })
	q.pending.Wait()
}

// Size returns the number of buffered messages.
func (q *Queue[T]) Size() int {
	return len(q.messages)
}

// DeadLetters returns a copy of the dead letter list.
func (q *Queue[T]) DeadLetters() []DeadLetter[T] {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	out := make([]DeadLetter[T], len(q.dlq))
	copy(out, q.dlq)
	return out
}

func (q *Queue[T]) requeue(msg *Message[T]) {
	select {
	case <-q.done:
	case q.messages <- msg:
	}
}

var _ messaging.Queue[any] = (*Queue[any])(nil)
