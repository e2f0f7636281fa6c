// Package messaging implements the event bus that carries facts into the
// engine and derived events out of it.
package messaging

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// Mode selects how the in-memory bus delivers events.
type Mode string

const (
	// ModeSync runs handlers inside Publish and returns their errors.
	ModeSync Mode = "sync"

	// ModePartitioned routes each event to one of N workers by its aggregate
	// (user) ID. Events of one user are handled in publish order; users on
	// different partitions are handled in parallel.
	ModePartitioned Mode = "partitioned"
)

// InMemoryEventBus is the in-process implementation of shared.EventBus.
type InMemoryEventBus struct {
	// mu guards closed and the partition channels; hmu guards the handler
	// lists so workers can drain while Close waits for publishers.
	mu          sync.RWMutex
	hmu         sync.RWMutex
	handlers    map[shared.EventType][]shared.EventHandler
	allHandlers []shared.EventHandler
	mode        Mode
	partitions  []chan envelope
	logger      *slog.Logger
	metrics     *EventBusMetrics
	closed      bool
	wg          sync.WaitGroup
}

type envelope struct {
	ctx   context.Context
	event shared.Event
}

// InMemoryEventBusConfig contains configuration for InMemoryEventBus.
type InMemoryEventBusConfig struct {
	Mode Mode

	// Partitions is the number of workers in partitioned mode.
	Partitions int

	// QueueSize is the buffer of each partition. Publish blocks when the
	// partition is full.
	QueueSize int

	Logger *slog.Logger
}

// DefaultInMemoryEventBusConfig returns sensible defaults.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{
		Mode:       ModePartitioned,
		Partitions: 8,
		QueueSize:  256,
	}
}

// NewInMemoryEventBus creates a new in-memory event bus. In partitioned mode
// the workers start immediately; Close stops them after draining.
func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Mode == "" {
		config.Mode = ModeSync
	}
	if config.Partitions <= 0 {
		config.Partitions = 8
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}

	bus := &InMemoryEventBus{
		handlers: make(map[shared.EventType][]shared.EventHandler),
		mode:     config.Mode,
		logger:   config.Logger.With("component", "eventbus", "mode", string(config.Mode)),
		metrics:  NewEventBusMetrics(),
	}

	if bus.mode == ModePartitioned {
		bus.partitions = make([]chan envelope, config.Partitions)
		for i := range bus.partitions {
			bus.partitions[i] = make(chan envelope, config.QueueSize)
			bus.wg.Add(1)
			go bus.worker(i, bus.partitions[i])
		}
	}
	return bus
}

// Subscribe registers a handler for a specific event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	if b.isClosed() {
		return ErrEventBusClosed
	}

	b.hmu.Lock()
	defer b.hmu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.logger.Debug("subscribed handler", "event_type", eventType)
	return nil
}

// SubscribeAll registers a handler for all events.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	if b.isClosed() {
		return ErrEventBusClosed
	}

	b.hmu.Lock()
	defer b.hmu.Unlock()
	b.allHandlers = append(b.allHandlers, handler)
	b.logger.Debug("subscribed global handler")
	return nil
}

// Publish delivers an event. In sync mode it returns the joined handler
// errors; in partitioned mode it returns once the event is queued.
func (b *InMemoryEventBus) Publish(ctx context.Context, event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	if b.mode == ModeSync {
		if b.isClosed() {
			return ErrEventBusClosed
		}
		b.metrics.RecordPublish(event.EventType())
		return b.deliver(ctx, event)
	}

	// The read lock is held across the send so Close cannot close the
	// channel under it.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrEventBusClosed
	}
	b.metrics.RecordPublish(event.EventType())

	p := b.partitions[PartitionFor(event.AggregateID(), len(b.partitions))]
	select {
	case p <- envelope{ctx: context.WithoutCancel(ctx), event: event}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PartitionFor maps an aggregate ID onto [0, n).
func PartitionFor(aggregateID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(aggregateID))
	return int(h.Sum32() % uint32(n))
}

func (b *InMemoryEventBus) worker(id int, queue <-chan envelope) {
	defer b.wg.Done()
	log := b.logger.With("partition", id)
	for env := range queue {
		if err := b.deliver(env.ctx, env.event); err != nil {
			log.Error("handler error",
				"event_type", env.event.EventType(),
				"aggregate_id", env.event.AggregateID(),
				"error", err,
			)
		}
	}
}

func (b *InMemoryEventBus) deliver(ctx context.Context, event shared.Event) error {
	b.hmu.RLock()
	handlers := make([]shared.EventHandler, 0, len(b.handlers[event.EventType()])+len(b.allHandlers))
	handlers = append(handlers, b.handlers[event.EventType()]...)
	handlers = append(handlers, b.allHandlers...)
	b.hmu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Debug("no handlers for event", "event_type", event.EventType())
		return nil
	}

	var errs []error
	for _, handler := range handlers {
		start := time.Now()
		err := handler(ctx, event)
		b.metrics.RecordHandlerExecution(event.EventType(), time.Since(start), err == nil)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *InMemoryEventBus) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Close stops accepting events and waits for queued ones to be handled.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, p := range b.partitions {
		close(p)
	}
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("event bus closed")
	return nil
}

// Metrics returns the current metrics.
func (b *InMemoryEventBus) Metrics() *EventBusMetrics {
	return b.metrics
}

// ══════════════════════════════════════════════════════════════════════════════
// FAN-OUT
// ══════════════════════════════════════════════════════════════════════════════

// FanOut publishes every event to several publishers. Errors are joined;
// one failing publisher does not stop the others.
type FanOut []shared.EventPublisher

// Publish implements shared.EventPublisher.
func (f FanOut) Publish(ctx context.Context, event shared.Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// EventBusMetrics tracks event bus counters.
type EventBusMetrics struct {
	mu sync.RWMutex

	PublishedTotal       map[shared.EventType]int64
	HandlerExecutions    int64
	HandlerSuccesses     int64
	HandlerFailures      int64
	HandlerTotalDuration time.Duration
}

// NewEventBusMetrics creates new metrics tracker.
func NewEventBusMetrics() *EventBusMetrics {
	return &EventBusMetrics{
		PublishedTotal: make(map[shared.EventType]int64),
	}
}

// RecordPublish records a publish event.
func (m *EventBusMetrics) RecordPublish(eventType shared.EventType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PublishedTotal[eventType]++
}

// RecordHandlerExecution records a handler execution.
func (m *EventBusMetrics) RecordHandlerExecution(_ shared.EventType, duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.HandlerExecutions++
	m.HandlerTotalDuration += duration
	if success {
		m.HandlerSuccesses++
	} else {
		m.HandlerFailures++
	}
}

// Snapshot returns a copy of current metrics.
func (m *EventBusMetrics) Snapshot() EventBusMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := EventBusMetricsSnapshot{
		TotalHandlerExecs:  m.HandlerExecutions,
		HandlerFailures:    m.HandlerFailures,
		HandlerSuccessRate: 1.0,
	}
	for _, v := range m.PublishedTotal {
		snap.TotalPublished += v
	}
	if m.HandlerExecutions > 0 {
		snap.AverageHandlerDuration = m.HandlerTotalDuration / time.Duration(m.HandlerExecutions)
		snap.HandlerSuccessRate = float64(m.HandlerSuccesses) / float64(m.HandlerExecutions)
	}
	return snap
}

// EventBusMetricsSnapshot is a point-in-time snapshot of metrics.
type EventBusMetricsSnapshot struct {
	TotalPublished         int64         `json:"total_published"`
	TotalHandlerExecs      int64         `json:"total_handler_execs"`
	HandlerFailures        int64         `json:"handler_failures"`
	HandlerSuccessRate     float64       `json:"handler_success_rate"`
	AverageHandlerDuration time.Duration `json:"average_handler_duration"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrEventBusClosed is returned when operations are attempted on a closed bus.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrHandlerPanic is returned when a handler panics.
	ErrHandlerPanic = errors.New("handler panicked")
)
