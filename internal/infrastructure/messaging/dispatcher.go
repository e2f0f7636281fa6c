package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/alem-hub/learning-engine/internal/domain/shared"
	"github.com/alem-hub/learning-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

// Dispatcher routes events to named handlers with:
// - Middleware (recovery, logging, timeout)
// - Bounded retries of transient failures
// - Dead letter queue for events that still fail
//
// Handlers of one event run in registration order, one after another, so the
// ordering guarantees of the bus carry through.
type Dispatcher struct {
	handlers    map[shared.EventType][]HandlerRegistration
	middlewares []Middleware
	retryConfig RetryConfig
	timeout     time.Duration
	deadLetterQ *DeadLetterQueue
	logger      *slog.Logger
	mu          sync.RWMutex
	metrics     *DispatcherMetrics
}

// HandlerRegistration contains handler metadata.
type HandlerRegistration struct {
	Name    string
	Handler shared.EventHandler
	Timeout time.Duration
}

// DispatcherConfig contains configuration for the Dispatcher.
type DispatcherConfig struct {
	RetryConfig RetryConfig

	// DeadLetterQueueSize is the max size of the DLQ. Zero disables it.
	DeadLetterQueueSize int

	// HandlerTimeout bounds one handler call when its registration sets none.
	HandlerTimeout time.Duration

	Logger *slog.Logger
}

// RetryConfig contains retry configuration.
type RetryConfig struct {
	// MaxAttempts counts the first try.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

// DefaultDispatcherConfig returns sensible defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		RetryConfig:         DefaultRetryConfig(),
		DeadLetterQueueSize: 1000,
	}
}

// NewDispatcher creates a new event dispatcher.
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.RetryConfig.MaxAttempts <= 0 {
		config.RetryConfig = DefaultRetryConfig()
	}
	if config.HandlerTimeout <= 0 {
		config.HandlerTimeout = 30 * time.Second
	}

	d := &Dispatcher{
		handlers:    make(map[shared.EventType][]HandlerRegistration),
		retryConfig: config.RetryConfig,
		timeout:     config.HandlerTimeout,
		logger:      config.Logger.With("component", "dispatcher"),
		metrics:     NewDispatcherMetrics(),
	}
	if config.DeadLetterQueueSize > 0 {
		d.deadLetterQ = NewDeadLetterQueue(config.DeadLetterQueueSize)
	}
	return d
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER REGISTRATION
// ══════════════════════════════════════════════════════════════════════════════

// RegisterHandler registers a handler for an event type.
func (d *Dispatcher) RegisterHandler(eventType shared.EventType, reg HandlerRegistration) error {
	if reg.Handler == nil {
		return errors.New("handler cannot be nil")
	}
	if reg.Name == "" {
		return errors.New("handler name is required")
	}
	if reg.Timeout <= 0 {
		reg.Timeout = d.timeout
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[eventType] = append(d.handlers[eventType], reg)
	d.logger.Debug("registered handler",
		"event_type", eventType,
		"handler_name", reg.Name,
	)
	return nil
}

// Register is a convenience method for simple handler registration.
func (d *Dispatcher) Register(eventType shared.EventType, name string, handler shared.EventHandler) error {
	return d.RegisterHandler(eventType, HandlerRegistration{Name: name, Handler: handler})
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// Middleware wraps handler execution.
type Middleware func(shared.EventHandler) shared.EventHandler

// Use adds middleware to the dispatcher. The first added is the outermost.
func (d *Dispatcher) Use(middleware Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middlewares = append(d.middlewares, middleware)
}

// RecoveryMiddleware turns a handler panic into an error.
func RecoveryMiddleware(logger *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(ctx context.Context, event shared.Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler panic recovered",
						"event_type", event.EventType(),
						"aggregate_id", event.AggregateID(),
						"panic", r,
						"stack", string(debug.Stack()),
					)
					err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
				}
			}()
			return next(ctx, event)
		}
	}
}

// LoggingMiddleware logs handler execution.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(ctx context.Context, event shared.Event) error {
			start := time.Now()
			err := next(ctx, event)
			duration := time.Since(start)

			if err != nil {
				logger.Warn("handler failed",
					"event_type", event.EventType(),
					"aggregate_id", event.AggregateID(),
					"duration", duration,
					"error", err,
				)
			} else {
				logger.Debug("handler completed",
					"event_type", event.EventType(),
					"aggregate_id", event.AggregateID(),
					"duration", duration,
				)
			}
			return err
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT DISPATCHING
// ══════════════════════════════════════════════════════════════════════════════

// Attach subscribes the dispatcher to every event of a bus.
func (d *Dispatcher) Attach(bus shared.EventSubscriber) error {
	return bus.SubscribeAll(d.Dispatch)
}

// Dispatch runs every handler registered for the event. Failures are
// dead-lettered; the returned error joins them.
func (d *Dispatcher) Dispatch(ctx context.Context, event shared.Event) error {
	d.mu.RLock()
	handlers := d.handlers[event.EventType()]
	middlewares := d.middlewares
	d.mu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}
	d.metrics.RecordDispatch(event.EventType())

	var errs []error
	for _, reg := range handlers {
		if err := d.executeHandler(ctx, event, reg, middlewares); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) executeHandler(ctx context.Context, event shared.Event, reg HandlerRegistration, middlewares []Middleware) error {
	handler := reg.Handler
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}

	policy := retry.Policy{
		MaxAttempts:  d.retryConfig.MaxAttempts,
		InitialDelay: d.retryConfig.InitialBackoff,
		MaxDelay:     d.retryConfig.MaxBackoff,
		Jitter:       0.1,
		RetryIf:      shared.IsRetryable,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			d.metrics.RecordRetry()
			d.logger.Debug("retrying handler",
				"handler", reg.Name,
				"attempt", attempt,
				"backoff", delay,
				"error", err,
			)
		},
	}

	start := time.Now()
	err := policy.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, reg.Timeout)
		defer cancel()
		return handler(ctx, event)
	})
	d.metrics.RecordExecution(event.EventType(), time.Since(start), err == nil)
	if err == nil {
		return nil
	}

	if d.deadLetterQ != nil {
		d.deadLetterQ.Add(DeadLetterEntry{
			Event:       event,
			HandlerName: reg.Name,
			Error:       err,
			Attempts:    attemptsOf(err),
			FailedAt:    time.Now(),
		})
		d.logger.Error("event dead-lettered",
			"handler", reg.Name,
			"event_type", event.EventType(),
			"aggregate_id", event.AggregateID(),
			"error", err,
		)
	}
	return fmt.Errorf("handler %s: %w", reg.Name, err)
}

func attemptsOf(err error) int {
	var ex *retry.ExhaustedError
	if errors.As(err, &ex) {
		return ex.Attempts
	}
	return 1
}

// ══════════════════════════════════════════════════════════════════════════════
// REPLAY
// ══════════════════════════════════════════════════════════════════════════════

// ReplayDeadLetters re-runs up to limit dead-lettered entries against the
// handler that failed them. Entries failing again go back to the queue.
// It returns how many entries succeeded.
func (d *Dispatcher) ReplayDeadLetters(ctx context.Context, limit int) (int, error) {
	if d.deadLetterQ == nil {
		return 0, nil
	}

	d.mu.RLock()
	middlewares := d.middlewares
	d.mu.RUnlock()

	entries := d.deadLetterQ.Drain(limit)
	replayed := 0
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			for _, rest := range entries[i:] {
				d.deadLetterQ.Add(rest)
			}
			return replayed, err
		}
		reg, ok := d.registration(entry.Event.EventType(), entry.HandlerName)
		if !ok {
			d.logger.Warn("dropping dead letter for unknown handler", "handler", entry.HandlerName)
			continue
		}
		// A failure re-enters the queue inside executeHandler.
		if err := d.executeHandler(ctx, entry.Event, reg, middlewares); err == nil {
			replayed++
		}
	}
	if len(entries) > 0 {
		d.logger.Info("dead letters replayed", "total", len(entries), "succeeded", replayed)
	}
	return replayed, nil
}

func (d *Dispatcher) registration(eventType shared.EventType, name string) (HandlerRegistration, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, reg := range d.handlers[eventType] {
		if reg.Name == name {
			return reg, true
		}
	}
	return HandlerRegistration{}, false
}

// Metrics returns dispatcher metrics.
func (d *Dispatcher) Metrics() *DispatcherMetrics {
	return d.metrics
}

// DeadLetterQueue returns the dead letter queue, nil when disabled.
func (d *Dispatcher) DeadLetterQueue() *DeadLetterQueue {
	return d.deadLetterQ
}

// ══════════════════════════════════════════════════════════════════════════════
// DEAD LETTER QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// DeadLetterEntry represents a failed event.
type DeadLetterEntry struct {
	Event       shared.Event
	HandlerName string
	Error       error
	Attempts    int
	FailedAt    time.Time
}

// DeadLetterQueue stores events that failed processing.
type DeadLetterQueue struct {
	mu      sync.RWMutex
	entries []DeadLetterEntry
	maxSize int
	dropped int64
}

// NewDeadLetterQueue creates a new dead letter queue.
func NewDeadLetterQueue(maxSize int) *DeadLetterQueue {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &DeadLetterQueue{maxSize: maxSize}
}

// Add adds an entry, evicting the oldest one at capacity.
func (q *DeadLetterQueue) Add(entry DeadLetterEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.maxSize {
		q.entries = q.entries[1:]
		q.dropped++
	}
	q.entries = append(q.entries, entry)
}

// Entries returns all entries.
func (q *DeadLetterQueue) Entries() []DeadLetterEntry {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]DeadLetterEntry, len(q.entries))
	copy(result, q.entries)
	return result
}

// Size returns the current queue size.
func (q *DeadLetterQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}

// Dropped returns how many entries were evicted at capacity.
func (q *DeadLetterQueue) Dropped() int64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.dropped
}

// Drain removes and returns up to limit of the oldest entries (all when
// limit <= 0).
func (q *DeadLetterQueue) Drain(limit int) []DeadLetterEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]DeadLetterEntry, n)
	copy(out, q.entries[:n])
	q.entries = q.entries[n:]
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER METRICS
// ══════════════════════════════════════════════════════════════════════════════

// DispatcherMetrics tracks dispatcher performance.
type DispatcherMetrics struct {
	mu sync.RWMutex

	DispatchedTotal map[shared.EventType]int64
	ExecutionsTotal int64
	SuccessTotal    int64
	FailuresTotal   int64
	RetriesTotal    int64
	TotalDuration   time.Duration
}

// NewDispatcherMetrics creates new dispatcher metrics.
func NewDispatcherMetrics() *DispatcherMetrics {
	return &DispatcherMetrics{
		DispatchedTotal: make(map[shared.EventType]int64),
	}
}

// RecordDispatch records an event dispatch.
func (m *DispatcherMetrics) RecordDispatch(eventType shared.EventType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DispatchedTotal[eventType]++
}

// RecordExecution records a handler execution including its retries.
func (m *DispatcherMetrics) RecordExecution(_ shared.EventType, duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ExecutionsTotal++
	m.TotalDuration += duration
	if success {
		m.SuccessTotal++
	} else {
		m.FailuresTotal++
	}
}

// RecordRetry records one retry.
func (m *DispatcherMetrics) RecordRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RetriesTotal++
}

// Snapshot returns a point-in-time snapshot.
func (m *DispatcherMetrics) Snapshot() DispatcherMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := DispatcherMetricsSnapshot{
		TotalExecutions: m.ExecutionsTotal,
		TotalFailures:   m.FailuresTotal,
		TotalRetries:    m.RetriesTotal,
		SuccessRate:     1.0,
	}
	for _, v := range m.DispatchedTotal {
		snap.TotalDispatched += v
	}
	if m.ExecutionsTotal > 0 {
		snap.AverageDuration = m.TotalDuration / time.Duration(m.ExecutionsTotal)
		snap.SuccessRate = float64(m.SuccessTotal) / float64(m.ExecutionsTotal)
	}
	return snap
}

// DispatcherMetricsSnapshot is a point-in-time snapshot.
type DispatcherMetricsSnapshot struct {
	TotalDispatched int64         `json:"total_dispatched"`
	TotalExecutions int64         `json:"total_executions"`
	TotalFailures   int64         `json:"total_failures"`
	TotalRetries    int64         `json:"total_retries"`
	SuccessRate     float64       `json:"success_rate"`
	AverageDuration time.Duration `json:"average_duration"`
}
