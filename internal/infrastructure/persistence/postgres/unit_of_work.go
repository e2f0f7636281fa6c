package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/learning-engine/internal/application/uow"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNIT OF WORK
// ══════════════════════════════════════════════════════════════════════════════

// UnitOfWork runs each unit in a READ COMMITTED transaction that first takes
// a transaction-scoped advisory lock on the user. Units of one user are
// therefore serialized; units of different users do not block each other.
type UnitOfWork struct {
	conn   *Connection
	logger *slog.Logger
}

var _ uow.UnitOfWork = (*UnitOfWork)(nil)

// NewUnitOfWork creates a UnitOfWork.
func NewUnitOfWork(conn *Connection, logger *slog.Logger) *UnitOfWork {
	if logger == nil {
		logger = slog.Default()
	}
	return &UnitOfWork{conn: conn, logger: logger.With("component", "postgres_uow")}
}

// WithinUser implements uow.UnitOfWork.
func (u *UnitOfWork) WithinUser(ctx context.Context, userID shared.UserID, fn func(ctx context.Context, repos uow.Repositories) error) error {
	if userID.IsEmpty() {
		return shared.NewDomainError("storage", "WithinUser", shared.ErrInvalidID, "user ID is required")
	}
	return u.conn.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		if lt := u.conn.config.LockTimeout; lt > 0 {
			// SET LOCAL does not take bind parameters.
			if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", lt.Milliseconds())); err != nil {
				return mapError("WithinUser", err)
			}
		}
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, userID.String()); err != nil {
			return mapError("WithinUser", err)
		}
		return fn(ctx, repositories(tx))
	})
}

// Reader implements uow.UnitOfWork. Reads go straight to the pool.
func (u *UnitOfWork) Reader() uow.Repositories {
	return repositories(u.conn.Pool())
}

// repositories binds every repository to q. When q is a transaction,
// Savepoint opens a nested pgx transaction, which pgx implements with
// SAVEPOINT / ROLLBACK TO SAVEPOINT.
func repositories(q Querier) uow.Repositories {
	repos := uow.Repositories{
		Points:       &LedgerRepository{q: q},
		Streaks:      &StreakRepository{q: q},
		Badges:       &BadgeRepository{q: q},
		Achievements: &AchievementRepository{q: q},
		Enrollments:  &EnrollmentRepository{q: q},
		Attempts:     &AttemptRepository{q: q},
	}
	repos.Savepoint = func(ctx context.Context, fn func(ctx context.Context, repos uow.Repositories) error) error {
		tx, ok := q.(pgx.Tx)
		if !ok {
			return fn(ctx, repos)
		}
		sp, err := tx.Begin(ctx)
		if err != nil {
			return mapError("Savepoint", err)
		}
		if err := fn(ctx, repositories(sp)); err != nil {
			if rbErr := sp.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				return fmt.Errorf("%w (rollback to savepoint: %v)", err, rbErr)
			}
			return err
		}
		return mapError("Savepoint", sp.Commit(ctx))
	}
	return repos
}
