package quiz

import (
	"strings"

	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// Result is the outcome of scoring an answer map against a quiz.
type Result struct {
	TotalPoints  int
	EarnedPoints int
	// Score is a percentage in [0, 100].
	Score  float64
	Passed bool
}

// Score grades answers against q. It is a pure function: the same quiz and
// answer map always produce the same Result.
//
// Every question contributes its points to TotalPoints whether or not it was
// answered. Answers for unknown questions, unknown answer IDs, or answer IDs
// belonging to another question earn nothing and are not errors.
func Score(q *Quiz, answers map[shared.QuestionID]string) Result {
	var r Result
	for i := range q.Questions {
		question := &q.Questions[i]
		r.TotalPoints += question.Points

		submitted, ok := answers[question.ID]
		if !ok {
			continue
		}
		if question.credits(submitted) {
			r.EarnedPoints += question.Points
		}
	}

	if r.TotalPoints > 0 {
		r.Score = float64(r.EarnedPoints) / float64(r.TotalPoints) * 100
	}
	r.Passed = r.Score >= q.PassingScore
	return r
}

func (q *Question) credits(submitted string) bool {
	switch q.Type {
	case QuestionMultipleChoice, QuestionTrueFalse:
		id := shared.AnswerID(strings.TrimSpace(submitted))
		for _, a := range q.Answers {
			if a.ID == id {
				return a.IsCorrect
			}
		}
	case QuestionShortAnswer:
		given := normalizeText(submitted)
		for _, a := range q.Answers {
			if a.IsCorrect && normalizeText(a.Text) == given {
				return true
			}
		}
	}
	return false
}

func normalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
