// Package quiz holds the quiz definition, attempts, and the pure scoring rules.
package quiz

import (
	"time"

	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// QuestionType is the kind of a question.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "mcq"
	QuestionTrueFalse      QuestionType = "true_false"
	QuestionShortAnswer    QuestionType = "short_answer"
)

// IsValid checks the question type against the known set.
func (t QuestionType) IsValid() bool {
	switch t {
	case QuestionMultipleChoice, QuestionTrueFalse, QuestionShortAnswer:
		return true
	}
	return false
}

// Defaults applied when the content layer leaves quiz settings unset.
const (
	DefaultPassingScore = 70.0
	DefaultMaxAttempts  = 3
)

// Quiz is static content owned by the CRUD layer.
type Quiz struct {
	ID           shared.QuizID
	CourseID     shared.CourseID
	Title        string
	PassingScore float64
	// MaxAttempts caps attempts per student. Zero means unlimited.
	MaxAttempts int
	// Questions are kept in display order.
	Questions []Question
}

// Question is one scored item of a quiz.
type Question struct {
	ID      shared.QuestionID
	Type    QuestionType
	Text    string
	Points  int
	Answers []Answer
}

// Answer is a selectable option or an accepted short-answer text.
type Answer struct {
	ID        shared.AnswerID
	Text      string
	IsCorrect bool
}

// Attempt is one student's submission of a quiz.
// It is immutable once SubmittedAt is set.
type Attempt struct {
	ID            shared.AttemptID
	QuizID        shared.QuizID
	UserID        shared.UserID
	AttemptNumber int
	Answers       map[shared.QuestionID]string
	TotalPoints   int
	EarnedPoints  int
	Score         float64
	Passed        bool
	StartedAt     time.Time
	SubmittedAt   *time.Time
}

// IsSubmitted reports whether the attempt has been scored and sealed.
func (a *Attempt) IsSubmitted() bool {
	return a.SubmittedAt != nil
}

// Seal copies a scoring result into the attempt and marks it submitted.
func (a *Attempt) Seal(r Result, at time.Time) error {
	if a.IsSubmitted() {
		return shared.ErrAttemptAlreadySubmitted
	}
	a.TotalPoints = r.TotalPoints
	a.EarnedPoints = r.EarnedPoints
	a.Score = r.Score
	a.Passed = r.Passed
	submitted := at.UTC()
	a.SubmittedAt = &submitted
	return nil
}
