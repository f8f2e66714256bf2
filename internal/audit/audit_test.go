package audit_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/JaimeStill/steward/internal/audit"
)

type recorder struct {
	events []audit.Event
	err    error
}

func (r *recorder) Record(_ context.Context, e audit.Event) error {
	r.events = append(r.events, e)
	return r.err
}

func event() audit.Event {
	return audit.Event{
		EventType:  audit.TypeTask,
		Action:     audit.ActionClaimed,
		TargetType: "task",
		TargetID:   "3f0c",
		Actor:      "bob",
		Metadata:   map[string]any{"state": "legal_review"},
		At:         time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
}

func TestMultiDeliversToEveryRecorder(t *testing.T) {
	first := &recorder{err: errors.New("first")}
	second := &recorder{err: errors.New("second")}
	third := &recorder{}

	err := audit.Multi{first, second, third}.Record(context.Background(), event())
	assert.EqualError(t, err, "first")
	assert.Len(t, first.events, 1)
	assert.Len(t, second.events, 1)
	assert.Len(t, third.events, 1)
}

func TestMultiEmpty(t *testing.T) {
	assert.NoError(t, audit.Multi{}.Record(context.Background(), event()))
	assert.NoError(t, audit.Discard.Record(context.Background(), event()))
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	assert.NoError(t, audit.NewLog(logger).Record(context.Background(), event()))

	out := buf.String()
	assert.Contains(t, out, `"system":"audit"`)
	assert.Contains(t, out, `"action":"task_claimed"`)
	assert.Contains(t, out, `"target_id":"3f0c"`)
	assert.Contains(t, out, `"actor":"bob"`)
	assert.Contains(t, out, `"state":"legal_review"`)
}
