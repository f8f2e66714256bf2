package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JaimeStill/steward/pkg/lifecycle"
	"github.com/JaimeStill/steward/pkg/messaging/memory"
)

// Config sizes the asynchronous dispatcher.
type Config struct {
	Workers    int    `toml:"workers"`
	Buffer     int    `toml:"buffer"`
	MaxRetries int    `toml:"max_retries"`
	RetryDelay string `toml:"retry_delay"`
}

// RetryDelayDuration returns RetryDelay as a time.Duration.
func (c *Config) RetryDelayDuration() time.Duration {
	d, _ := time.ParseDuration(c.RetryDelay)
	return d
}

// Finalize applies defaults and validation.
func (c *Config) Finalize() error {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay == "" {
		c.RetryDelay = "500ms"
	}
	if _, err := time.ParseDuration(c.RetryDelay); err != nil {
		return fmt.Errorf("invalid retry_delay: %w", err)
	}
	return nil
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.Workers != 0 {
		c.Workers = overlay.Workers
	}
	if overlay.Buffer != 0 {
		c.Buffer = overlay.Buffer
	}
	if overlay.MaxRetries != 0 {
		c.MaxRetries = overlay.MaxRetries
	}
	if overlay.RetryDelay != "" {
		c.RetryDelay = overlay.RetryDelay
	}
}

// QueueDispatcher enqueues notifications and delivers them to a Sink from a
// pool of workers. Failed deliveries are retried by the queue and finally
// dead-lettered.
type QueueDispatcher struct {
	queue   *memory.Queue[Notification]
	sink    Sink
	workers int
	logger  *slog.Logger
}

// NewQueueDispatcher creates a dispatcher delivering to sink.
func NewQueueDispatcher(cfg Config, sink Sink, logger *slog.Logger) *QueueDispatcher {
	return &QueueDispatcher{
		queue: memory.NewQueue[Notification](memory.Config{
			MaxRetries:  cfg.MaxRetries,
			RetryDelay:  cfg.RetryDelayDuration(),
			DeadLetter:  true,
			QueueBuffer: cfg.Buffer,
		}),
		sink:    sink,
		workers: max(cfg.Workers, 1),
		logger:  logger.With("system", "notifications"),
	}
}

// Notify enqueues n without waiting for buffer space. A full buffer drops n
// and returns an error wrapping messaging.ErrQueueFull.
func (d *QueueDispatcher) Notify(_ context.Context, n Notification) error {
	if n.Target.Empty() {
		return nil
	}
	if err := d.queue.TryPublish(&n); err != nil {
		return fmt.Errorf("enqueue %s notification: %w", n.Kind, err)
	}
	return nil
}

// Run consumes until ctx is done.
func (d *QueueDispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for range d.workers {
		g.Go(func() error {
			return d.work(gctx)
		})
	}
	return g.Wait()
}

func (d *QueueDispatcher) work(ctx context.Context) error {
	for {
		msg, err := d.queue.Consume(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		n := msg.T()
		if err := d.sink.Deliver(ctx, *n); err != nil {
			d.logger.Warn("notification delivery failed",
				"id", n.ID, "kind", n.Kind, "attempt", msg.Attempt(), "error", err)
			_ = msg.Nack(err)
			continue
		}
		_ = msg.Ack()
	}
}

// DeadLetters returns the notifications that exhausted their retries.
func (d *QueueDispatcher) DeadLetters() []Notification {
	letters := d.queue.DeadLetters()
	out := make([]Notification, len(letters))
	for i, l := range letters {
		out[i] = l.Payload
	}
	return out
}

// Start runs the workers for the lifetime of the coordinator.
func (d *QueueDispatcher) Start(lc *lifecycle.Coordinator) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := d.Run(lc.Context()); err != nil {
			d.logger.Error("notification workers stopped", "error", err)
		}
	}()

	lc.OnShutdown(func() {
		<-lc.Context().Done()
		<-done
		d.queue.Close()
		if n := len(d.queue.DeadLetters()); n > 0 {
			d.logger.Warn("undelivered notifications", "count", n)
		}
		d.logger.Info("notification workers stopped")
	})
}
