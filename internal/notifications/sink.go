package notifications

import (
	"context"
	"log/slog"
)

// LogSink writes each notification to the logger. It stands in for external
// delivery channels.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("sink", "log")}
}

func (s *LogSink) Deliver(ctx context.Context, n Notification) error {
	s.logger.InfoContext(ctx, "notification",
		"id", n.ID,
		"kind", n.Kind,
		"users", n.Target.Users,
		"roles", n.Target.Roles,
		"subject", n.Subject,
	)
	return nil
}
