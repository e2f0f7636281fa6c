package eventhandler

import (
	"context"
	"log/slog"

	"github.com/alem-hub/learning-engine/internal/application/command"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// OnQuizSubmittedHandler routes shared.QuizSubmittedFact into the
// SubmitAttempt command, so a fact and a direct API call score identically.
type OnQuizSubmittedHandler struct {
	submit *command.SubmitAttemptHandler
	logger *slog.Logger
}

// NewOnQuizSubmittedHandler creates the handler.
func NewOnQuizSubmittedHandler(submit *command.SubmitAttemptHandler, logger *slog.Logger) *OnQuizSubmittedHandler {
	return &OnQuizSubmittedHandler{
		submit: submit,
		logger: logger.With("handler", "on_quiz_submitted"),
	}
}

// Handle implements shared.EventHandler.
func (h *OnQuizSubmittedHandler) Handle(ctx context.Context, event shared.Event) error {
	fact, ok := factAs[shared.QuizSubmittedFact](event)
	if !ok {
		return unexpected(h.logger, event)
	}

	res, err := h.submit.Handle(ctx, command.SubmitAttemptCommand{
		UserID:      fact.UserID,
		QuizID:      fact.QuizID,
		AttemptID:   fact.AttemptID,
		Answers:     fact.Answers,
		SubmittedAt: fact.OccurredAt(),
	})
	if err != nil {
		return settle(ctx, h.logger, event, err)
	}

	if res.Replayed {
		h.logger.Debug("attempt already scored",
			"user_id", fact.UserID.String(),
			"attempt_id", res.Attempt.ID.String(),
		)
	}
	return nil
}
