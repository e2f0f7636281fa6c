package quiz

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

func sampleQuiz() *Quiz {
	return &Quiz{
		ID:           "quiz-1",
		CourseID:     "course-1",
		PassingScore: DefaultPassingScore,
		MaxAttempts:  DefaultMaxAttempts,
		Questions: []Question{
			{
				ID:     "q1",
				Type:   QuestionMultipleChoice,
				Points: 10,
				Answers: []Answer{
					{ID: "a1", Text: "Go", IsCorrect: true},
					{ID: "a2", Text: "Rust"},
				},
			},
			{
				ID:     "q2",
				Type:   QuestionTrueFalse,
				Points: 10,
				Answers: []Answer{
					{ID: "t", Text: "True"},
					{ID: "f", Text: "False", IsCorrect: true},
				},
			},
		},
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name       string
		answers    map[shared.QuestionID]string
		wantEarned int
		wantScore  float64
		wantPassed bool
	}{
		{
			name:       "all correct",
			answers:    map[shared.QuestionID]string{"q1": "a1", "q2": "f"},
			wantEarned: 20,
			wantScore:  100,
			wantPassed: true,
		},
		{
			name:       "one of two correct",
			answers:    map[shared.QuestionID]string{"q1": "a1", "q2": "t"},
			wantEarned: 10,
			wantScore:  50,
			wantPassed: false,
		},
		{
			name:       "unknown answer id earns nothing",
			answers:    map[shared.QuestionID]string{"q1": "zzz", "q2": "f"},
			wantEarned: 10,
			wantScore:  50,
		},
		{
			name:       "answer id of another question earns nothing",
			answers:    map[shared.QuestionID]string{"q1": "f"},
			wantEarned: 0,
			wantScore:  0,
		},
		{
			name:       "unknown question ignored",
			answers:    map[shared.QuestionID]string{"nope": "a1"},
			wantEarned: 0,
			wantScore:  0,
		},
		{
			name:    "empty answers",
			answers: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Score(sampleQuiz(), tt.answers)
			assert.Equal(t, 20, r.TotalPoints)
			assert.Equal(t, tt.wantEarned, r.EarnedPoints)
			assert.Equal(t, tt.wantScore, r.Score)
			assert.Equal(t, tt.wantPassed, r.Passed)
		})
	}
}

func TestScore_Deterministic(t *testing.T) {
	q := sampleQuiz()
	answers := map[shared.QuestionID]string{"q1": "a1", "q2": "t"}

	first := Score(q, answers)
	second := Score(q, answers)

	assert.Equal(t, first, second)
	assert.Equal(t, 50.0, first.Score)
}

func TestScore_ShortAnswer(t *testing.T) {
	q := &Quiz{
		PassingScore: 70,
		Questions: []Question{{
			ID:     "s1",
			Type:   QuestionShortAnswer,
			Points: 5,
			Answers: []Answer{
				{ID: "x", Text: "  Goroutine ", IsCorrect: true},
				{ID: "y", Text: "thread", IsCorrect: false},
			},
		}},
	}

	assert.Equal(t, 5, Score(q, map[shared.QuestionID]string{"s1": "GOROUTINE"}).EarnedPoints)
	assert.Equal(t, 5, Score(q, map[shared.QuestionID]string{"s1": "goroutine\n"}).EarnedPoints)
	assert.Equal(t, 0, Score(q, map[shared.QuestionID]string{"s1": "goroutines"}).EarnedPoints, "no partial matching")
	assert.Equal(t, 0, Score(q, map[shared.QuestionID]string{"s1": "thread"}).EarnedPoints)
}

func TestScore_EdgeQuestions(t *testing.T) {
	q := &Quiz{
		PassingScore: 50,
		Questions: []Question{
			{ID: "zero", Type: QuestionMultipleChoice, Points: 0, Answers: []Answer{{ID: "a", IsCorrect: true}}},
			{ID: "nocorrect", Type: QuestionShortAnswer, Points: 10},
			{ID: "ok", Type: QuestionMultipleChoice, Points: 10, Answers: []Answer{{ID: "a", IsCorrect: true}}},
		},
	}

	r := Score(q, map[shared.QuestionID]string{"zero": "a", "nocorrect": "anything", "ok": "a"})
	assert.Equal(t, 20, r.TotalPoints)
	assert.Equal(t, 10, r.EarnedPoints)
	assert.Equal(t, 50.0, r.Score)
	assert.True(t, r.Passed)
}

func TestScore_NoQuestions(t *testing.T) {
	r := Score(&Quiz{PassingScore: 70}, map[shared.QuestionID]string{"q": "a"})
	assert.Zero(t, r.TotalPoints)
	assert.Zero(t, r.Score)
	assert.False(t, r.Passed)
}

func TestAdmit(t *testing.T) {
	q := sampleQuiz()

	assert.NoError(t, Admit(q, true, 0))
	assert.NoError(t, Admit(q, true, 2))
	assert.True(t, errors.Is(Admit(q, true, 3), shared.ErrLimitReached))
	assert.True(t, errors.Is(Admit(q, false, 0), shared.ErrForbidden))

	q.MaxAttempts = 0
	assert.NoError(t, Admit(q, true, 1000), "zero means unlimited")
}

func TestAttempt_Seal(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	a := NewAttempt("att-1", sampleQuiz(), "user-1", map[shared.QuestionID]string{"q1": "a1"}, 1, now)
	assert.Equal(t, 2, a.AttemptNumber)
	assert.False(t, a.IsSubmitted())

	r := Score(sampleQuiz(), a.Answers)
	require.NoError(t, a.Seal(r, now))
	assert.True(t, a.IsSubmitted())
	assert.Equal(t, 50.0, a.Score)

	err := a.Seal(Result{Score: 100}, now)
	assert.ErrorIs(t, err, shared.ErrAlreadyApplied)
	assert.Equal(t, 50.0, a.Score)
}
