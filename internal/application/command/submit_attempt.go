// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/learning-engine/internal/application/saga"
	"github.com/alem-hub/learning-engine/internal/application/uow"
	"github.com/alem-hub/learning-engine/internal/domain/content"
	"github.com/alem-hub/learning-engine/internal/domain/points"
	"github.com/alem-hub/learning-engine/internal/domain/quiz"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT ATTEMPT COMMAND
// Admission control → scoring → sealed attempt → quiz completion points.
// ══════════════════════════════════════════════════════════════════════════════

// SubmitAttemptCommand contains a student's answers to a quiz.
type SubmitAttemptCommand struct {
	// UserID is the submitting student.
	UserID shared.UserID

	// QuizID is the quiz being answered.
	QuizID shared.QuizID

	// AttemptID identifies the submission. Resubmitting the same ID returns
	// the stored result. A fresh ID is generated when empty.
	AttemptID shared.AttemptID

	// Answers maps question IDs to an answer ID (choice questions) or free
	// text (short answer).
	Answers map[shared.QuestionID]string

	// SubmittedAt defaults to now.
	SubmittedAt time.Time
}

// Validate validates the command.
func (c SubmitAttemptCommand) Validate() error {
	if c.UserID.IsEmpty() {
		return shared.NewDomainError("quiz", "SubmitAttempt", shared.ErrInvalidInput, "user_id is required")
	}
	if c.QuizID == "" {
		return shared.NewDomainError("quiz", "SubmitAttempt", shared.ErrInvalidInput, "quiz_id is required")
	}
	return nil
}

// SubmitAttemptResult contains the scored attempt.
type SubmitAttemptResult struct {
	Attempt *quiz.Attempt
	Quiz    *quiz.Quiz

	// Replayed is true when the attempt ID was already stored and nothing
	// was changed.
	Replayed bool

	// PointsAwarded is the quiz completion award, zero when this quiz was
	// already rewarded by an earlier attempt.
	PointsAwarded int
	Balance       int
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// SubmitAttemptHandler handles SubmitAttemptCommand.
type SubmitAttemptHandler struct {
	runner  *saga.Runner
	awards  *saga.AwardFlow
	catalog content.Catalog
	logger  *slog.Logger
}

// NewSubmitAttemptHandler creates a new SubmitAttemptHandler.
func NewSubmitAttemptHandler(runner *saga.Runner, awards *saga.AwardFlow, catalog content.Catalog, logger *slog.Logger) *SubmitAttemptHandler {
	return &SubmitAttemptHandler{
		runner:  runner,
		awards:  awards,
		catalog: catalog,
		logger:  logger.With("command", "submit_attempt"),
	}
}

// Handle executes the command.
func (h *SubmitAttemptHandler) Handle(ctx context.Context, cmd SubmitAttemptCommand) (*SubmitAttemptResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	at := cmd.SubmittedAt
	if at.IsZero() {
		at = h.runner.Now()
	}
	if cmd.AttemptID == "" {
		cmd.AttemptID = shared.AttemptID(h.runner.NewID())
	}

	q, err := h.catalog.GetQuiz(ctx, cmd.QuizID)
	if err != nil {
		return nil, fmt.Errorf("submit_attempt: %w", err)
	}

	var result *SubmitAttemptResult
	err = h.runner.Run(ctx, cmd.UserID, func(ctx context.Context, repos uow.Repositories, out *saga.Outbox) error {
		var err error
		result, err = h.submit(ctx, repos, out, q, cmd, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (h *SubmitAttemptHandler) submit(ctx context.Context, repos uow.Repositories, out *saga.Outbox, q *quiz.Quiz, cmd SubmitAttemptCommand, at time.Time) (*SubmitAttemptResult, error) {
	existing, err := repos.Attempts.Get(ctx, cmd.AttemptID)
	switch {
	case err == nil:
		if existing.UserID != cmd.UserID || existing.QuizID != cmd.QuizID {
			return nil, shared.ErrAttemptOwnership
		}
		h.logger.Debug("attempt already submitted, returning stored result",
			"user_id", cmd.UserID.String(),
			"attempt_id", cmd.AttemptID.String(),
		)
		return &SubmitAttemptResult{Attempt: existing, Quiz: q, Replayed: true}, nil
	case !errors.Is(err, shared.ErrAttemptNotFound):
		return nil, err
	}

	enrolled := true
	if _, err := repos.Enrollments.GetByUserCourse(ctx, cmd.UserID, q.CourseID); err != nil {
		if !shared.IsNotFound(err) {
			return nil, err
		}
		enrolled = false
	}
	prior, err := repos.Attempts.CountByUser(ctx, cmd.UserID, q.ID)
	if err != nil {
		return nil, err
	}
	if err := quiz.Admit(q, enrolled, prior); err != nil {
		h.logger.Info("attempt rejected",
			"user_id", cmd.UserID.String(),
			"quiz_id", q.ID.String(),
			"prior_attempts", prior,
			"reason", err.Error(),
		)
		return nil, err
	}

	attempt := quiz.NewAttempt(cmd.AttemptID, q, cmd.UserID, cmd.Answers, prior, at)
	scored := quiz.Score(q, attempt.Answers)
	if err := attempt.Seal(scored, at); err != nil {
		return nil, err
	}
	if _, err := repos.Attempts.Insert(ctx, attempt); err != nil {
		return nil, err
	}

	h.logger.Info("attempt scored",
		"user_id", cmd.UserID.String(),
		"quiz_id", q.ID.String(),
		"attempt", attempt.AttemptNumber,
		"score", attempt.Score,
		"passed", attempt.Passed,
	)
	out.Add(shared.NewQuizScoredEvent(cmd.UserID, q.ID, q.CourseID, attempt.ID,
		attempt.Passed, attempt.Score, attempt.EarnedPoints, attempt.TotalPoints, at))

	award, err := h.awards.Award(ctx, repos, out, saga.AwardInput{
		Award: points.QuizCompletionAward(cmd.UserID, q.CourseID, q.ID, q.Title, attempt.Passed),
		At:    at,
	})
	if err != nil {
		return nil, err
	}

	result := &SubmitAttemptResult{Attempt: attempt, Quiz: q}
	if award.Inserted {
		result.PointsAwarded = award.Transaction.Points
		result.Balance = award.Balance
	} else if result.Balance, err = repos.Points.Balance(ctx, cmd.UserID); err != nil {
		return nil, err
	}
	return result, nil
}
