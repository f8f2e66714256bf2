package api

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/JaimeStill/steward/internal/archive"
	"github.com/JaimeStill/steward/internal/audit"
	"github.com/JaimeStill/steward/internal/definitions"
	"github.com/JaimeStill/steward/internal/identity"
	"github.com/JaimeStill/steward/internal/notifications"
	"github.com/JaimeStill/steward/internal/sla"
	"github.com/JaimeStill/steward/internal/store"
	"github.com/JaimeStill/steward/internal/workflow"
	"github.com/JaimeStill/steward/pkg/clock"
)

// Domain holds the workflow engine and the systems it drives.
type Domain struct {
	Engine     *workflow.Engine
	Scheduler  *sla.Scheduler
	Timers     *sla.Timers
	Dispatcher *notifications.QueueDispatcher

	runtime *Runtime
	ready   atomic.Bool
}

// NewDomain wires the store, directory, SLA scheduler, notification
// dispatcher, audit trail and archiver into a workflow engine.
func NewDomain(runtime *Runtime) *Domain {
	logger := runtime.Logger
	cfg := runtime.Engine

	var (
		st       store.Store
		recorder audit.Recorder = audit.NewLog(logger)
	)
	if runtime.Database != nil {
		db := runtime.Database.Connection()
		st = store.NewPostgres(db, runtime.Database.TxOptions(), logger)
		recorder = audit.Multi{recorder, audit.NewPostgres(db)}
	} else {
		st = store.NewMemory()
	}

	dispatcher := notifications.NewQueueDispatcher(cfg.Notifications, notifications.NewLogSink(logger), logger)
	timers := sla.NewTimers(clock.Now, logger)
	scheduler := sla.New(st, timers, cfg.SLA,
		sla.WithNotifier(dispatcher),
		sla.WithAudit(recorder),
		sla.WithLogger(logger),
	)

	opts := []workflow.Option{
		workflow.WithScheduler(scheduler),
		workflow.WithNotifier(dispatcher),
		workflow.WithAudit(recorder),
		workflow.WithMaxRetries(cfg.MaxRetries),
		workflow.WithLogger(logger),
	}
	if cfg.Archive && runtime.Storage != nil {
		opts = append(opts, workflow.WithArchiver(archive.NewBlob(runtime.Storage)))
	}

	return &Domain{
		Engine:     workflow.New(st, identity.NewStatic(runtime.Identity), opts...),
		Scheduler:  scheduler,
		Timers:     timers,
		Dispatcher: dispatcher,
		runtime:    runtime,
	}
}

// Start registers the timers and notification workers with the lifecycle
// coordinator and marks the engine as a readiness requirement.
func (d *Domain) Start() {
	lc := d.runtime.Lifecycle
	d.Timers.Start(lc)
	d.Dispatcher.Start(lc)
	lc.Require("engine", d)
}

// Bootstrap seeds definitions from the configured directory and re-arms SLA
// timers for open tasks. It runs once the infrastructure is up.
func (d *Domain) Bootstrap(ctx context.Context) error {
	logger := d.runtime.Logger

	defs, err := definitions.LoadDir(d.runtime.Engine.DefinitionsDir)
	if err != nil {
		return fmt.Errorf("load definitions: %w", err)
	}
	seeded, err := d.Engine.SeedDefinitions(ctx, defs)
	if err != nil {
		return fmt.Errorf("seed definitions: %w", err)
	}
	logger.Info("definitions loaded", "dir", d.runtime.Engine.DefinitionsDir, "found", len(defs), "seeded", seeded)

	armed, err := d.Scheduler.Rearm(ctx)
	if err != nil {
		return fmt.Errorf("rearm sla timers: %w", err)
	}
	logger.Info("sla timers armed", "tasks", armed)

	d.ready.Store(true)
	return nil
}

// Ready reports whether Bootstrap has completed.
func (d *Domain) Ready() bool {
	return d.ready.Load()
}
