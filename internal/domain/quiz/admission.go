package quiz

import (
	"context"
	"time"

	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// Admit decides whether a new attempt may be created.
// priorAttempts is the number of attempts the student already submitted.
func Admit(q *Quiz, enrolled bool, priorAttempts int) error {
	if !enrolled {
		return shared.ErrNotEnrolled
	}
	if q.MaxAttempts > 0 && priorAttempts >= q.MaxAttempts {
		return shared.ErrAttemptsExhausted
	}
	return nil
}

// NewAttempt opens attempt number priorAttempts+1 for a student.
func NewAttempt(id shared.AttemptID, q *Quiz, userID shared.UserID, answers map[shared.QuestionID]string, priorAttempts int, startedAt time.Time) *Attempt {
	copied := make(map[shared.QuestionID]string, len(answers))
	for k, v := range answers {
		copied[k] = v
	}
	return &Attempt{
		ID:            id,
		QuizID:        q.ID,
		UserID:        userID,
		AttemptNumber: priorAttempts + 1,
		Answers:       copied,
		StartedAt:     startedAt.UTC(),
	}
}

// Repository stores submitted attempts.
type Repository interface {
	// Get returns an attempt by ID or shared.ErrAttemptNotFound.
	Get(ctx context.Context, id shared.AttemptID) (*Attempt, error)

	// CountByUser returns how many attempts a user submitted for a quiz.
	CountByUser(ctx context.Context, userID shared.UserID, quizID shared.QuizID) (int, error)

	// Insert stores a sealed attempt. It reports false without error when an
	// attempt with the same ID already exists.
	Insert(ctx context.Context, attempt *Attempt) (bool, error)

	// CountPassedQuizzes returns the number of distinct quizzes the user passed.
	CountPassedQuizzes(ctx context.Context, userID shared.UserID) (int, error)
}
