package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/learning-engine/internal/domain/points"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// POINTS LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// LedgerRepository implements points.Repository.
type LedgerRepository struct {
	q Querier
}

var _ points.Repository = (*LedgerRepository)(nil)

// Insert appends a row. A duplicate (user, idempotency key) is skipped by
// the partial unique index and reported as false.
func (r *LedgerRepository) Insert(ctx context.Context, tx *points.Transaction) (bool, error) {
	query := `
		INSERT INTO points_transactions (
			id, user_id, transaction_type, points, course_id, lesson_id, quiz_id,
			idempotency_key, description, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
	`

	tag, err := r.q.Exec(ctx, query,
		tx.ID,
		tx.UserID.String(),
		string(tx.Type),
		tx.Points,
		nullable(string(tx.CourseID)),
		nullable(string(tx.LessonID)),
		nullable(string(tx.QuizID)),
		nullable(tx.IdempotencyKey),
		tx.Description,
		tx.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert points transaction: %w", mapError("Insert", err))
	}
	return tag.RowsAffected() == 1, nil
}

// Balance sums the user's rows.
func (r *LedgerRepository) Balance(ctx context.Context, userID shared.UserID) (int, error) {
	var balance int
	err := r.q.QueryRow(ctx,
		`SELECT COALESCE(SUM(points), 0) FROM points_transactions WHERE user_id = $1`,
		userID.String(),
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("sum points: %w", mapError("Balance", err))
	}
	return balance, nil
}

// ListByUser returns the newest rows first.
func (r *LedgerRepository) ListByUser(ctx context.Context, userID shared.UserID, limit int) ([]*points.Transaction, error) {
	query := `
		SELECT id, user_id, transaction_type, points,
			   COALESCE(course_id, ''), COALESCE(lesson_id, ''), COALESCE(quiz_id, ''),
			   COALESCE(idempotency_key, ''), description, created_at
		FROM points_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.q.Query(ctx, query, userID.String(), shared.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list points transactions: %w", mapError("ListByUser", err))
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*points.Transaction, error) {
		var (
			t                                          points.Transaction
			userID, txType, courseID, lessonID, quizID string
		)
		if err := row.Scan(&t.ID, &userID, &txType, &t.Points, &courseID, &lessonID, &quizID,
			&t.IdempotencyKey, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.UserID = shared.UserID(userID)
		t.Type = points.TransactionType(txType)
		t.CourseID = shared.CourseID(courseID)
		t.LessonID = shared.LessonID(lessonID)
		t.QuizID = shared.QuizID(quizID)
		return &t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan points transactions: %w", err)
	}
	return out, nil
}

// Balances returns every user's balance, highest first.
func (r *LedgerRepository) Balances(ctx context.Context) ([]points.UserBalance, error) {
	query := `
		SELECT user_id, SUM(points)::INTEGER AS balance
		FROM points_transactions
		GROUP BY user_id
		ORDER BY balance DESC, user_id
	`

	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sum balances: %w", mapError("Balances", err))
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (points.UserBalance, error) {
		var (
			b      points.UserBalance
			userID string
		)
		if err := row.Scan(&userID, &b.Balance); err != nil {
			return b, err
		}
		b.UserID = shared.UserID(userID)
		return b, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan balances: %w", err)
	}
	return out, nil
}

// nullable maps "" to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
