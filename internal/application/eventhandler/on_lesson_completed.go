package eventhandler

import (
	"context"
	"log/slog"

	"github.com/alem-hub/learning-engine/internal/application/saga"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON LESSON COMPLETED
// Lesson points, streak, progress recompute and, at 100%, course completion.
// ═══════════════════════════════════════════════════════════════════════════

// OnLessonCompletedHandler handles shared.LessonCompletedFact. The CRUD
// layer only emits the fact for enrolled students, so an enrollment this
// engine has not seen yet is created rather than rejected. Direct calls go
// through command.TrackLessonHandler, which requires the enrollment.
type OnLessonCompletedHandler struct {
	lessons *saga.LessonFlow
	logger  *slog.Logger
}

// NewOnLessonCompletedHandler creates the handler.
func NewOnLessonCompletedHandler(lessons *saga.LessonFlow, logger *slog.Logger) *OnLessonCompletedHandler {
	return &OnLessonCompletedHandler{
		lessons: lessons,
		logger:  logger.With("handler", "on_lesson_completed"),
	}
}

// Handle implements shared.EventHandler.
func (h *OnLessonCompletedHandler) Handle(ctx context.Context, event shared.Event) error {
	fact, ok := factAs[shared.LessonCompletedFact](event)
	if !ok {
		return unexpected(h.logger, event)
	}

	in, err := h.lessons.Resolve(ctx, fact.UserID, fact.CourseID, fact.LessonID, fact.OccurredAt())
	if err != nil {
		return settle(ctx, h.logger, event, err)
	}

	result, err := h.lessons.Execute(ctx, in)
	if err != nil {
		return settle(ctx, h.logger, event, err)
	}

	h.logger.Debug("lesson completion applied",
		"user_id", fact.UserID.String(),
		"lesson_id", fact.LessonID.String(),
		"new_award", result.LessonAward.Inserted,
		"progress", result.Enrollment.ProgressPercentage,
		"course_completed", result.CourseCompleted,
	)
	return nil
}
