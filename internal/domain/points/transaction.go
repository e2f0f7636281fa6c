// Package points is the append-only points ledger.
//
// A balance is always the sum of a user's rows. Rows that represent one-time
// events carry an idempotency key; storage enforces at most one row per
// (user, key).
package points

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// TransactionType classifies a ledger row.
type TransactionType string

const (
	TypeAchievement      TransactionType = "achievement"
	TypeCourseCompletion TransactionType = "course_completion"
	TypeLessonCompletion TransactionType = "lesson_completion"
	TypeQuizCompletion   TransactionType = "quiz_completion"
	TypeReviewSubmission TransactionType = "review_submission"
	TypeStreakBonus      TransactionType = "streak_bonus"
	TypeEnrollment       TransactionType = "enrollment"
	TypeReferral         TransactionType = "referral"
	TypePenalty          TransactionType = "penalty"
)

// IsValid checks the type against the known set.
func (t TransactionType) IsValid() bool {
	switch t {
	case TypeAchievement, TypeCourseCompletion, TypeLessonCompletion, TypeQuizCompletion,
		TypeReviewSubmission, TypeStreakBonus, TypeEnrollment, TypeReferral, TypePenalty:
		return true
	}
	return false
}

// Award table.
const (
	LessonCompletionPoints = 10
	EnrollmentPoints       = 5
	QuizPassedPoints       = 5
	QuizFailedPoints       = 2
	ReviewPoints           = 15
	CourseCompletionPoints = 100

	// StreakBonusEvery is the milestone period of the streak bonus.
	StreakBonusEvery = 5
	// StreakBonusPerDay multiplies the streak length into the bonus.
	StreakBonusPerDay = 2
)

// QuizCompletionPoints returns the points for a first quiz submission.
func QuizCompletionPoints(passed bool) int {
	if passed {
		return QuizPassedPoints
	}
	return QuizFailedPoints
}

// IsStreakMilestone reports whether a streak length pays a bonus.
func IsStreakMilestone(streak int) bool {
	return streak > 1 && streak%StreakBonusEvery == 0
}

// StreakBonusPoints returns the bonus for a milestone streak length.
func StreakBonusPoints(streak int) int {
	return streak * StreakBonusPerDay
}

// Reference points a row at the thing it was earned for.
// At most one of the fields identifies the one-time event.
type Reference struct {
	CourseID     shared.CourseID
	LessonID     shared.LessonID
	QuizID       shared.QuizID
	StreakLength int
	// Key is a caller-supplied idempotency reference for otherwise
	// repeatable types (referral, penalty, achievement).
	Key string
}

// Award is a request to append one ledger row.
type Award struct {
	UserID      shared.UserID
	Type        TransactionType
	Points      int
	Reference   Reference
	Description string
}

// Validate checks the award shape. Negative points are allowed.
func (a Award) Validate() error {
	if a.UserID.IsEmpty() {
		return shared.NewDomainError("points", "Validate", shared.ErrInvalidID, "user ID is required")
	}
	if !a.Type.IsValid() {
		return shared.ErrInvalidTransactionType
	}
	if a.Points == 0 {
		return shared.ErrZeroPoints
	}
	return nil
}

// IdempotencyKey returns "<type>:<kind>:<id>" for one-time events and ""
// for repeatable rows.
func (a Award) IdempotencyKey() string {
	ref := a.Reference
	switch a.Type {
	case TypeLessonCompletion:
		return key(a.Type, "lesson", string(ref.LessonID))
	case TypeEnrollment, TypeReviewSubmission, TypeCourseCompletion:
		return key(a.Type, "course", string(ref.CourseID))
	case TypeQuizCompletion:
		return key(a.Type, "quiz", string(ref.QuizID))
	case TypeStreakBonus:
		if ref.StreakLength > 0 {
			return key(a.Type, "streak", strconv.Itoa(ref.StreakLength))
		}
	}
	return key(a.Type, "custom", ref.Key)
}

func key(t TransactionType, kind, id string) string {
	if strings.TrimSpace(id) == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s:%s", t, kind, id)
}

// Transaction is a committed ledger row. Rows are never updated or deleted.
type Transaction struct {
	ID             string
	UserID         shared.UserID
	Type           TransactionType
	Points         int
	CourseID       shared.CourseID
	LessonID       shared.LessonID
	QuizID         shared.QuizID
	IdempotencyKey string
	Description    string
	CreatedAt      time.Time
}

// NewTransaction materializes an award into a row.
func NewTransaction(id string, a Award, at time.Time) (*Transaction, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &Transaction{
		ID:             id,
		UserID:         a.UserID,
		Type:           a.Type,
		Points:         a.Points,
		CourseID:       a.Reference.CourseID,
		LessonID:       a.Reference.LessonID,
		QuizID:         a.Reference.QuizID,
		IdempotencyKey: a.IdempotencyKey(),
		Description:    a.Description,
		CreatedAt:      at.UTC(),
	}, nil
}

// UserBalance is one user's ledger sum.
type UserBalance struct {
	UserID  shared.UserID
	Balance int
}

// Repository is the ledger store.
type Repository interface {
	// Insert appends a row. When IdempotencyKey is non-empty and a row with the
	// same (user, key) exists, nothing is written and it reports false.
	Insert(ctx context.Context, tx *Transaction) (bool, error)

	// Balance sums all rows of a user, including uncommitted rows of the
	// current unit of work.
	Balance(ctx context.Context, userID shared.UserID) (int, error)

	// ListByUser returns the newest rows first.
	ListByUser(ctx context.Context, userID shared.UserID, limit int) ([]*Transaction, error)

	// Balances returns every user's balance; used to rebuild the leaderboard.
	Balances(ctx context.Context) ([]UserBalance, error)
}
