package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/steward/pkg/messaging"
	"github.com/JaimeStill/steward/pkg/messaging/memory"
)

type event struct{ Name string }

func consume(t *testing.T, q *memory.Queue[event]) messaging.Message[event] {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := q.Consume(ctx)
	require.NoError(t, err)
	return msg
}

func TestPublishConsumeAck(t *testing.T) {
	q := memory.NewQueue[event](memory.DefaultConfig())
	defer q.Close()

	require.NoError(t, q.Publish(context.Background(), &event{Name: "transition"}))
	assert.Equal(t, 1, q.Size())

	msg := consume(t, q)
	assert.Equal(t, "transition", msg.T().Name)
	assert.Equal(t, 1, msg.Attempt())
	assert.NotEmpty(t, msg.ID())

	require.NoError(t, msg.Ack())
	assert.ErrorIs(t, msg.Ack(), messaging.ErrAlreadyProcessed)
	assert.ErrorIs(t, msg.Nack(nil), messaging.ErrAlreadyProcessed)
}

func TestNackRetriesThenDeadLetters(t *testing.T) {
	q := memory.NewQueue[event](memory.Config{MaxRetries: 1, RetryDelay: time.Millisecond, DeadLetter: true})
	defer q.Close()

	require.NoError(t, q.Publish(context.Background(), &event{Name: "sla_breached"}))
	boom := errors.New("sink down")

	first := consume(t, q)
	require.NoError(t, first.Nack(boom))

	second := consume(t, q)
	assert.Equal(t, first.ID(), second.ID())
	assert.Equal(t, 2, second.Attempt())
	require.NoError(t, second.Nack(boom))

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "sla_breached", dead[0].Payload.Name)
	assert.Equal(t, 2, dead[0].Attempts)
	assert.ErrorIs(t, dead[0].Err, boom)
}

func TestConsumeHonoursContext(t *testing.T) {
	q := memory.NewQueue[event](memory.DefaultConfig())
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := q.Consume(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClosedQueue(t *testing.T) {
	q := memory.NewQueue[event](memory.DefaultConfig())
	q.Close()

	assert.Error(t, q.Publish(context.Background(), &event{}))
	_, err := q.Consume(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTryPublishFullBuffer(t *testing.T) {
	q := memory.NewQueue[event](memory.Config{QueueBuffer: 1})
	defer q.Close()

	require.NoError(t, q.TryPublish(&event{Name: "first"}))
	assert.ErrorIs(t, q.TryPublish(&event{Name: "second"}), messaging.ErrQueueFull)
	assert.Equal(t, 1, q.Size())

	msg := consume(t, q)
	assert.Equal(t, "first", msg.T().Name)
	require.NoError(t, q.TryPublish(&event{Name: "third"}))
}

func TestTryPublishClosed(t *testing.T) {
	q := memory.NewQueue[event](memory.DefaultConfig())
	q.Close()
	assert.ErrorIs(t, q.TryPublish(&event{}), context.Canceled)
}
