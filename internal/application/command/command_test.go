package command_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learning-engine/internal/application/command"
	"github.com/alem-hub/learning-engine/internal/application/saga"
	"github.com/alem-hub/learning-engine/internal/application/uow"
	"github.com/alem-hub/learning-engine/internal/domain/content"
	"github.com/alem-hub/learning-engine/internal/domain/enrollment"
	"github.com/alem-hub/learning-engine/internal/domain/points"
	"github.com/alem-hub/learning-engine/internal/domain/quiz"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
	"github.com/alem-hub/learning-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/learning-engine/pkg/logger"
	"github.com/alem-hub/learning-engine/pkg/timeutil"
)

var now = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

type env struct {
	store  *memory.Store
	submit *command.SubmitAttemptHandler
	track  *command.TrackLessonHandler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := memory.New()
	store.AddCourse(content.Course{ID: "go", Title: "Go"})
	store.AddLesson(content.Lesson{ID: "l1", CourseID: "go", Title: "One", Order: 1})
	store.AddLesson(content.Lesson{ID: "l2", CourseID: "go", Title: "Two", Order: 2})
	store.AddQuiz(quiz.Quiz{
		ID:           "q1",
		CourseID:     "go",
		Title:        "Basics",
		PassingScore: 50,
		MaxAttempts:  2,
		Questions: []quiz.Question{
			{ID: "a", Type: quiz.QuestionMultipleChoice, Points: 10, Answers: []quiz.Answer{
				{ID: "a1", IsCorrect: true}, {ID: "a2"},
			}},
			{ID: "b", Type: quiz.QuestionShortAnswer, Points: 10, Answers: []quiz.Answer{
				{ID: "b1", Text: "Goroutine", IsCorrect: true},
			}},
		},
	})

	runner := saga.NewRunner(saga.RunnerConfig{
		UnitOfWork: store,
		Clock:      timeutil.NewFixedClock(now),
		Logger:     logger.Discard(),
	})
	awards := saga.NewAwardFlow(runner)
	lessons := saga.NewLessonFlow(runner, awards, store.Catalog())
	return &env{
		store:  store,
		submit: command.NewSubmitAttemptHandler(runner, awards, store.Catalog(), logger.Discard()),
		track:  command.NewTrackLessonHandler(runner, lessons, logger.Discard()),
	}
}

func (e *env) enroll(t *testing.T, user shared.UserID) {
	t.Helper()
	err := e.store.WithinUser(context.Background(), user, func(ctx context.Context, r uow.Repositories) error {
		_, _, err := r.Enrollments.Create(ctx, enrollment.New(shared.EnrollmentID("e-"+string(user)), user, "go", now))
		return err
	})
	require.NoError(t, err)
}

func TestSubmitAttempt_ScoresAndAwards(t *testing.T) {
	e := newEnv(t)
	e.enroll(t, "u1")

	res, err := e.submit.Handle(context.Background(), command.SubmitAttemptCommand{
		UserID:    "u1",
		QuizID:    "q1",
		AttemptID: "at1",
		Answers:   map[shared.QuestionID]string{"a": "a1", "b": "  channel "},
	})
	require.NoError(t, err)
	assert.Equal(t, 50.0, res.Attempt.Score)
	assert.True(t, res.Attempt.Passed)
	assert.NotNil(t, res.Attempt.SubmittedAt)
	assert.Equal(t, points.QuizPassedPoints, res.PointsAwarded)
	assert.Equal(t, 1, res.Attempt.AttemptNumber)
}

func TestSubmitAttempt_ReplayReturnsStoredAttempt(t *testing.T) {
	e := newEnv(t)
	e.enroll(t, "u1")
	ctx := context.Background()
	cmd := command.SubmitAttemptCommand{UserID: "u1", QuizID: "q1", AttemptID: "at1", Answers: map[shared.QuestionID]string{"b": "goroutine"}}

	first, err := e.submit.Handle(ctx, cmd)
	require.NoError(t, err)

	cmd.Answers = map[shared.QuestionID]string{"a": "a1", "b": "goroutine"}
	again, err := e.submit.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Attempt.Score, again.Attempt.Score, "a sealed attempt never changes")

	n, err := e.store.Reader().Attempts.CountByUser(ctx, "u1", "q1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = e.submit.Handle(ctx, command.SubmitAttemptCommand{UserID: "u2", QuizID: "q1", AttemptID: "at1"})
	assert.ErrorIs(t, err, shared.ErrAttemptOwnership)
}

func TestSubmitAttempt_AdmissionControl(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.submit.Handle(ctx, command.SubmitAttemptCommand{UserID: "u1", QuizID: "q1"})
	assert.ErrorIs(t, err, shared.ErrNotEnrolled)

	e.enroll(t, "u1")
	for i := 0; i < 2; i++ {
		_, err := e.submit.Handle(ctx, command.SubmitAttemptCommand{UserID: "u1", QuizID: "q1"})
		require.NoError(t, err)
	}
	_, err = e.submit.Handle(ctx, command.SubmitAttemptCommand{UserID: "u1", QuizID: "q1"})
	assert.ErrorIs(t, err, shared.ErrAttemptsExhausted)

	_, err = e.submit.Handle(ctx, command.SubmitAttemptCommand{UserID: "u1", QuizID: "missing"})
	assert.ErrorIs(t, err, shared.ErrQuizNotFound)
}

func TestSubmitAttempt_FirstAttemptDecidesQuizPoints(t *testing.T) {
	e := newEnv(t)
	e.enroll(t, "u1")
	ctx := context.Background()

	failed, err := e.submit.Handle(ctx, command.SubmitAttemptCommand{UserID: "u1", QuizID: "q1"})
	require.NoError(t, err)
	assert.False(t, failed.Attempt.Passed)
	assert.Equal(t, points.QuizFailedPoints, failed.PointsAwarded)

	passed, err := e.submit.Handle(ctx, command.SubmitAttemptCommand{
		UserID:  "u1",
		QuizID:  "q1",
		Answers: map[shared.QuestionID]string{"a": "a1", "b": "goroutine"},
	})
	require.NoError(t, err)
	assert.True(t, passed.Attempt.Passed)
	assert.Zero(t, passed.PointsAwarded)
	assert.Equal(t, points.QuizFailedPoints, passed.Balance)
}

func TestSubmitAttempt_Validate(t *testing.T) {
	tests := []struct {
		name string
		cmd  command.SubmitAttemptCommand
	}{
		{"missing user", command.SubmitAttemptCommand{QuizID: "q1"}},
		{"missing quiz", command.SubmitAttemptCommand{UserID: "u1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, shared.IsValidation(tt.cmd.Validate()))
		})
	}
}

func TestTrackLesson_AccumulatesWatchTimeThenCompletes(t *testing.T) {
	e := newEnv(t)
	e.enroll(t, "u1")
	ctx := context.Background()

	res, err := e.track.Handle(ctx, command.TrackLessonCommand{UserID: "u1", CourseID: "go", LessonID: "l1", WatchTimeSeconds: 30})
	require.NoError(t, err)
	assert.False(t, res.Progress.IsCompleted)
	assert.Nil(t, res.Completion)

	res, err = e.track.Handle(ctx, command.TrackLessonCommand{UserID: "u1", LessonID: "l1", WatchTimeSeconds: 45, MarkComplete: true})
	require.NoError(t, err)
	require.NotNil(t, res.Completion)
	assert.True(t, res.Progress.IsCompleted)
	assert.Equal(t, 75, res.Progress.WatchTimeSeconds)
	assert.Equal(t, 50.0, res.Enrollment.ProgressPercentage)
	assert.True(t, res.Completion.LessonAward.Inserted)

	res, err = e.track.Handle(ctx, command.TrackLessonCommand{UserID: "u1", LessonID: "l1", WatchTimeSeconds: 5, MarkComplete: true})
	require.NoError(t, err)
	assert.Nil(t, res.Completion, "completion happens once")
	assert.Equal(t, 80, res.Progress.WatchTimeSeconds)

	balance, err := e.store.Reader().Points.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, points.LessonCompletionPoints, balance)
}

func TestTrackLesson_RequiresEnrollment(t *testing.T) {
	e := newEnv(t)
	_, err := e.track.Handle(context.Background(), command.TrackLessonCommand{UserID: "u1", LessonID: "l1"})
	assert.ErrorIs(t, err, shared.ErrNotEnrolled)

	_, err = e.track.Handle(context.Background(), command.TrackLessonCommand{UserID: "u1", LessonID: "l1", WatchTimeSeconds: -1})
	assert.True(t, shared.IsValidation(err))
}
