package command

import (
	"context"
	"log/slog"
	"time"

	"github.com/alem-hub/learning-engine/internal/application/saga"
	"github.com/alem-hub/learning-engine/internal/application/uow"
	"github.com/alem-hub/learning-engine/internal/domain/enrollment"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRACK LESSON COMMAND
// Records lesson access and watch time. The first transition to completed runs
// the lesson completion flow in the same unit of work.
// ══════════════════════════════════════════════════════════════════════════════

// TrackLessonCommand reports progress on one lesson.
type TrackLessonCommand struct {
	UserID   shared.UserID
	CourseID shared.CourseID
	LessonID shared.LessonID

	// WatchTimeSeconds is added to the accumulated watch time.
	WatchTimeSeconds int

	// MarkComplete completes the lesson. Completion cannot be undone.
	MarkComplete bool

	// At defaults to now.
	At time.Time
}

// Validate validates the command.
func (c TrackLessonCommand) Validate() error {
	if c.UserID.IsEmpty() {
		return shared.NewDomainError("enrollment", "TrackLesson", shared.ErrInvalidInput, "user_id is required")
	}
	if c.LessonID == "" {
		return shared.NewDomainError("enrollment", "TrackLesson", shared.ErrInvalidInput, "lesson_id is required")
	}
	if c.WatchTimeSeconds < 0 {
		return shared.NewDomainError("enrollment", "TrackLesson", shared.ErrInvalidInput, "watch_time_seconds cannot be negative")
	}
	return nil
}

// TrackLessonResult contains the lesson progress after the command.
type TrackLessonResult struct {
	Progress   *enrollment.LessonProgress
	Enrollment *enrollment.Enrollment

	// Completion is set when this call completed the lesson for the first time.
	Completion *saga.LessonCompletionResult
}

// TrackLessonHandler handles TrackLessonCommand.
type TrackLessonHandler struct {
	runner  *saga.Runner
	lessons *saga.LessonFlow
	logger  *slog.Logger
}

// NewTrackLessonHandler creates a new TrackLessonHandler.
func NewTrackLessonHandler(runner *saga.Runner, lessons *saga.LessonFlow, logger *slog.Logger) *TrackLessonHandler {
	return &TrackLessonHandler{
		runner:  runner,
		lessons: lessons,
		logger:  logger.With("command", "track_lesson"),
	}
}

// Handle executes the command. The student must already be enrolled and
// gets shared.ErrNotEnrolled otherwise. LessonCompleted facts from the CRUD
// layer are trusted instead: the fact handler creates the missing enrollment.
func (h *TrackLessonHandler) Handle(ctx context.Context, cmd TrackLessonCommand) (*TrackLessonResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	if cmd.At.IsZero() {
		cmd.At = h.runner.Now()
	}

	in, err := h.lessons.Resolve(ctx, cmd.UserID, cmd.CourseID, cmd.LessonID, cmd.At)
	if err != nil {
		return nil, err
	}

	var result *TrackLessonResult
	err = h.runner.Run(ctx, cmd.UserID, func(ctx context.Context, repos uow.Repositories, out *saga.Outbox) error {
		enr, err := repos.Enrollments.GetByUserCourse(ctx, cmd.UserID, in.Course.ID)
		if err != nil {
			if shared.IsNotFound(err) {
				return shared.ErrNotEnrolled
			}
			return err
		}

		lp, err := repos.Enrollments.GetLessonProgress(ctx, enr.ID, cmd.LessonID)
		if err != nil {
			return err
		}
		if lp == nil {
			lp = enrollment.NewLessonProgress(enr.ID, cmd.LessonID, cmd.At)
		}
		lp.Touch(cmd.WatchTimeSeconds, cmd.At)
		alreadyCompleted := lp.IsCompleted
		if err := repos.Enrollments.SaveLessonProgress(ctx, lp); err != nil {
			return err
		}

		result = &TrackLessonResult{Progress: lp, Enrollment: enr}
		if !cmd.MarkComplete || alreadyCompleted {
			return nil
		}

		completion, err := h.lessons.Complete(ctx, repos, out, in)
		if err != nil {
			return err
		}
		result.Completion = completion
		result.Enrollment = completion.Enrollment
		if result.Progress, err = repos.Enrollments.GetLessonProgress(ctx, enr.ID, cmd.LessonID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Completion != nil {
		h.logger.Info("lesson completed",
			"user_id", cmd.UserID.String(),
			"lesson_id", cmd.LessonID.String(),
			"progress", result.Enrollment.ProgressPercentage,
		)
	}
	return result, nil
}
