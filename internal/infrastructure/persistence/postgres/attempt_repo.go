package postgres

import (
	"context"
	"fmt"

	"github.com/alem-hub/learning-engine/internal/domain/quiz"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// AttemptRepository implements quiz.Repository. Attempts are written once,
// already sealed, and never updated.
type AttemptRepository struct {
	q Querier
}

var _ quiz.Repository = (*AttemptRepository)(nil)

// Get returns an attempt by ID.
func (r *AttemptRepository) Get(ctx context.Context, id shared.AttemptID) (*quiz.Attempt, error) {
	query := `
		SELECT quiz_id, user_id, attempt_number, answers, total_points, earned_points,
			   score::FLOAT8, passed, started_at, submitted_at
		FROM attempts
		WHERE id = $1
	`
	var (
		a              = quiz.Attempt{ID: id}
		quizID, userID string
	)
	err := r.q.QueryRow(ctx, query, string(id)).Scan(&quizID, &userID, &a.AttemptNumber, &a.Answers,
		&a.TotalPoints, &a.EarnedPoints, &a.Score, &a.Passed, &a.StartedAt, &a.SubmittedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", mapError("Get", err))
	}
	a.QuizID = shared.QuizID(quizID)
	a.UserID = shared.UserID(userID)
	return &a, nil
}

// CountByUser returns how many attempts a user submitted for a quiz.
func (r *AttemptRepository) CountByUser(ctx context.Context, userID shared.UserID, quizID shared.QuizID) (int, error) {
	var n int
	err := r.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempts WHERE user_id = $1 AND quiz_id = $2`,
		userID.String(), string(quizID),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", mapError("CountByUser", err))
	}
	return n, nil
}

// Insert stores a sealed attempt; an existing ID reports false.
func (r *AttemptRepository) Insert(ctx context.Context, a *quiz.Attempt) (bool, error) {
	query := `
		INSERT INTO attempts (id, quiz_id, user_id, attempt_number, answers, total_points,
			earned_points, score, passed, started_at, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`
	answers := a.Answers
	if answers == nil {
		answers = map[shared.QuestionID]string{}
	}
	tag, err := r.q.Exec(ctx, query, string(a.ID), string(a.QuizID), a.UserID.String(), a.AttemptNumber,
		answers, a.TotalPoints, a.EarnedPoints, a.Score, a.Passed, a.StartedAt, a.SubmittedAt)
	if err != nil {
		return false, fmt.Errorf("insert attempt: %w", mapError("Insert", err))
	}
	return tag.RowsAffected() == 1, nil
}

// CountPassedQuizzes returns the number of distinct quizzes the user passed.
func (r *AttemptRepository) CountPassedQuizzes(ctx context.Context, userID shared.UserID) (int, error) {
	var n int
	err := r.q.QueryRow(ctx,
		`SELECT COUNT(DISTINCT quiz_id) FROM attempts WHERE user_id = $1 AND passed`,
		userID.String(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count passed quizzes: %w", mapError("CountPassedQuizzes", err))
	}
	return n, nil
}
