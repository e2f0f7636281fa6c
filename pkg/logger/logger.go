// Package logger builds the process-wide slog logger and carries it through
// context. Field helpers keep attribute keys consistent across packages.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Format is the output encoding of log records.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Options configures the root logger.
type Options struct {
	Output  io.Writer
	Level   slog.Level
	Format  Format
	Service string
	Version string
	// AddSource adds file:line of the call site.
	AddSource bool
}

// DefaultOptions returns sensible defaults for the logger.
func DefaultOptions() Options {
	return Options{
		Output: os.Stdout,
		Level:  slog.LevelInfo,
		Format: FormatJSON,
	}
}

// ParseLevel parses a string into a slog level. Unknown values mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR", "FATAL":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseFormat parses a string into a Format. Unknown values mean JSON.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), string(FormatText)) {
		return FormatText
	}
	return FormatJSON
}

// New creates a logger with the given options.
func New(opts Options) *slog.Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	hopts := &slog.HandlerOptions{
		Level:     opts.Level,
		AddSource: opts.AddSource,
	}

	var handler slog.Handler
	if opts.Format == FormatText {
		handler = slog.NewTextHandler(opts.Output, hopts)
	} else {
		handler = slog.NewJSONHandler(opts.Output, hopts)
	}

	log := slog.New(handler)
	if opts.Service != "" {
		log = log.With(slog.String("service", opts.Service))
	}
	if opts.Version != "" {
		log = log.With(slog.String("version", opts.Version))
	}
	return log
}

// Default creates a logger with default options.
func Default() *slog.Logger {
	return New(DefaultOptions())
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// Context key for logger.
type ctxKey struct{}

// WithContext returns a new context with the logger attached.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext retrieves the logger from context, or returns slog's default.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// RequestIDKey is a common field key for request tracing.
const RequestIDKey = "request_id"

// Common attributes.
func Err(err error) slog.Attr            { return slog.Any("error", err) }
func Component(name string) slog.Attr    { return slog.String("component", name) }
func Operation(name string) slog.Attr    { return slog.String("operation", name) }
func Latency(d time.Duration) slog.Attr  { return slog.Duration("latency", d) }
func RequestID(id string) slog.Attr      { return slog.String(RequestIDKey, id) }
func EventID(id string) slog.Attr        { return slog.String("event_id", id) }
func FactType(t string) slog.Attr        { return slog.String("fact_type", t) }
func Attempt(n int) slog.Attr            { return slog.Int("attempt", n) }
func Partition(n int) slog.Attr          { return slog.Int("partition", n) }
func TransactionType(t string) slog.Attr { return slog.String("transaction_type", t) }
func Points(n int) slog.Attr             { return slog.Int("points", n) }

// Learning-domain attributes.
func UserID(id string) slog.Attr       { return slog.String("user_id", id) }
func CourseID(id string) slog.Attr     { return slog.String("course_id", id) }
func LessonID(id string) slog.Attr     { return slog.String("lesson_id", id) }
func QuizID(id string) slog.Attr       { return slog.String("quiz_id", id) }
func AttemptID(id string) slog.Attr    { return slog.String("attempt_id", id) }
func BadgeID(id string) slog.Attr      { return slog.String("badge_id", id) }
func EnrollmentID(id string) slog.Attr { return slog.String("enrollment_id", id) }
