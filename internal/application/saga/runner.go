// Package saga contains the multi-step business processes of the engine.
// Each process runs inside one per-user unit of work and publishes the
// events it collected only after the unit committed.
package saga

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/learning-engine/internal/application/uow"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
	"github.com/alem-hub/learning-engine/pkg/timeutil"
)

// IDGenerator generates unique IDs.
type IDGenerator interface {
	// GenerateID generates a new unique ID.
	GenerateID() string
}

// UUIDGenerator issues random UUIDs.
type UUIDGenerator struct{}

// GenerateID implements IDGenerator.
func (UUIDGenerator) GenerateID() string {
	return uuid.NewString()
}

// Outbox collects events produced inside a unit of work.
type Outbox struct {
	events []shared.Event
}

// Add queues an event for publication after commit.
func (o *Outbox) Add(events ...shared.Event) {
	o.events = append(o.events, events...)
}

// Events returns the queued events in insertion order.
func (o *Outbox) Events() []shared.Event {
	return o.events
}

// Runner opens units of work and publishes their outboxes.
type Runner struct {
	uow       uow.UnitOfWork
	publisher shared.EventPublisher
	ids       IDGenerator
	clock     timeutil.Clock
	location  *time.Location
	logger    *slog.Logger
}

// RunnerConfig holds the Runner dependencies.
type RunnerConfig struct {
	UnitOfWork uow.UnitOfWork
	// Publisher may be nil, in which case derived events are dropped.
	Publisher shared.EventPublisher
	IDs       IDGenerator
	Clock     timeutil.Clock
	// Location decides which calendar day a timestamp belongs to.
	Location *time.Location
	Logger   *slog.Logger
}

// NewRunner creates a Runner, filling defaults for optional dependencies.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.IDs == nil {
		cfg.IDs = UUIDGenerator{}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.SystemClock{}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		uow:       cfg.UnitOfWork,
		publisher: cfg.Publisher,
		ids:       cfg.IDs,
		clock:     cfg.Clock,
		location:  cfg.Location,
		logger:    cfg.Logger,
	}
}

// Run executes fn in userID's unit of work, then publishes the events fn
// queued. A fresh outbox is used for every attempt of the unit.
func (r *Runner) Run(ctx context.Context, userID shared.UserID, fn func(ctx context.Context, repos uow.Repositories, out *Outbox) error) error {
	var out *Outbox
	err := r.uow.WithinUser(ctx, userID, func(ctx context.Context, repos uow.Repositories) error {
		out = &Outbox{}
		return fn(ctx, repos, out)
	})
	if err != nil {
		return err
	}
	r.publish(ctx, out.Events())
	return nil
}

// publish is best effort: the unit already committed, and every consumer of
// derived events can be rebuilt from storage.
func (r *Runner) publish(ctx context.Context, events []shared.Event) {
	if r.publisher == nil {
		return
	}
	for _, e := range events {
		if err := r.publisher.Publish(ctx, e); err != nil {
			r.logger.Error("failed to publish derived event",
				"event_type", e.EventType(),
				"user_id", e.AggregateID(),
				"error", err,
			)
		}
	}
}

// Now returns the current time from the runner clock.
func (r *Runner) Now() time.Time {
	return r.clock.Now()
}

// Day returns the calendar day of t in the configured location.
func (r *Runner) Day(t time.Time) shared.Date {
	return shared.DateOf(t, r.location)
}

// NewID returns a fresh unique ID.
func (r *Runner) NewID() string {
	return r.ids.GenerateID()
}

// Reader exposes read-only repositories.
func (r *Runner) Reader() uow.Repositories {
	return r.uow.Reader()
}
