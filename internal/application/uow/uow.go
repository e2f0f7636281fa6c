// Package uow defines the per-user unit of work every engine mutation runs in.
//
// A unit is atomic and serialized with every other unit of the same user:
// the ledger insert, the balance read and the badge scan that follows it see
// one consistent state. Units of different users run in parallel.
package uow

import (
	"context"
	"log/slog"
	"time"

	"github.com/alem-hub/learning-engine/internal/domain/achievement"
	"github.com/alem-hub/learning-engine/internal/domain/badge"
	"github.com/alem-hub/learning-engine/internal/domain/enrollment"
	"github.com/alem-hub/learning-engine/internal/domain/points"
	"github.com/alem-hub/learning-engine/internal/domain/quiz"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
	"github.com/alem-hub/learning-engine/internal/domain/streak"
	"github.com/alem-hub/learning-engine/pkg/retry"
)

// Repositories are bound to one unit (or to no unit, for reads).
type Repositories struct {
	Points       points.Repository
	Streaks      streak.Repository
	Badges       badge.Repository
	Achievements achievement.Repository
	Enrollments  enrollment.Repository
	Attempts     quiz.Repository

	// Savepoint runs fn so that its writes are undone on error without
	// aborting the enclosing unit.
	Savepoint func(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

// UnitOfWork opens per-user units.
type UnitOfWork interface {
	// WithinUser runs fn atomically. fn may be invoked more than once when
	// the caller retries; it must not keep side effects outside repos.
	WithinUser(ctx context.Context, userID shared.UserID, fn func(ctx context.Context, repos Repositories) error) error

	// Reader returns repositories for read-only queries outside any unit.
	Reader() Repositories
}

// ═══════════════════════════════════════════════════════════════════════════
// Retrying decorator
// ═══════════════════════════════════════════════════════════════════════════

// Retrying retries units that failed with a transient storage conflict.
// Every unit is idempotent, so replaying one is safe.
type Retrying struct {
	inner   UnitOfWork
	policy retry.Policy
	logger *slog.Logger
}

// NewRetrying wraps inner with bounded retries on shared.IsRetryable errors.
func NewRetrying(inner UnitOfWork, maxAttempts int, logger *slog.Logger) *Retrying {
	r := &Retrying{inner: inner, logger: logger.With("component", "uow")}
	r.policy = retry.Storage(shared.IsRetryable)
	if maxAttempts > 0 {
		r.policy.MaxAttempts = maxAttempts
	}
	r.policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		r.logger.Debug("retrying unit of work", "attempt", attempt, "delay", delay, "error", err)
	}
	return r
}

// WithinUser implements UnitOfWork.
func (r *Retrying) WithinUser(ctx context.Context, userID shared.UserID, fn func(ctx context.Context, repos Repositories) error) error {
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		return r.inner.WithinUser(ctx, userID, fn)
	})
	if err == nil {
		return nil
	}
	if retry.IsExhausted(err) {
		r.logger.Error("unit of work gave up after retries",
			"user_id", userID.String(),
			"error", err,
		)
		return shared.WrapError("uow", "WithinUser", shared.ErrConcurrentModification, "storage conflict persisted after retries", err)
	}
	return err
}

// Reader implements UnitOfWork.
func (r *Retrying) Reader() Repositories {
	return r.inner.Reader()
}
