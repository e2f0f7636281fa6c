// Package eventhandler connects inbound facts and derived events to the
// engine. Each handler turns one event type into a saga or command call.
//
// Handlers follow one error policy: a fact that can never succeed (its
// content was deleted, it is malformed, or admission rejected it) is logged
// and dropped by returning nil. Storage errors are returned so the
// dispatcher can retry them.
package eventhandler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alem-hub/learning-engine/internal/application/command"
	"github.com/alem-hub/learning-engine/internal/application/saga"
	"github.com/alem-hub/learning-engine/internal/domain/content"
	"github.com/alem-hub/learning-engine/internal/domain/leaderboard"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// Registrar is the subscription side of the dispatcher.
type Registrar interface {
	Register(eventType shared.EventType, name string, handler shared.EventHandler) error
}

// Dependencies are the collaborators the handlers share.
type Dependencies struct {
	Runner  *saga.Runner
	Awards  *saga.AwardFlow
	Lessons *saga.LessonFlow
	Submit  *command.SubmitAttemptHandler
	Catalog content.Catalog
	// Board may be nil when no leaderboard is kept.
	Board  leaderboard.Board
	Logger *slog.Logger
}

// RegisterAll subscribes every handler of the engine.
func RegisterAll(r Registrar, deps Dependencies) error {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	courseFacts := NewOnCourseFactHandler(deps.Runner, deps.Awards, deps.Catalog, deps.Logger)

	regs := []struct {
		eventType shared.EventType
		name      string
		handler   shared.EventHandler
	}{
		{shared.FactLessonCompleted, "on_lesson_completed", NewOnLessonCompletedHandler(deps.Lessons, deps.Logger).Handle},
		{shared.FactQuizSubmitted, "on_quiz_submitted", NewOnQuizSubmittedHandler(deps.Submit, deps.Logger).Handle},
		{shared.FactEnrollmentCreated, "on_enrollment_created", courseFacts.HandleEnrollment},
		{shared.FactReviewCreated, "on_review_created", courseFacts.HandleReview},
		{shared.FactCertificateIssued, "on_certificate_issued", courseFacts.HandleCertificate},
	}
	if deps.Board != nil {
		regs = append(regs, struct {
			eventType shared.EventType
			name      string
			handler   shared.EventHandler
		}{shared.EventPointsAwarded, "on_points_awarded", NewOnPointsAwardedHandler(deps.Board, deps.Logger).Handle})
	}

	for _, reg := range regs {
		if err := r.Register(reg.eventType, reg.name, reg.handler); err != nil {
			return fmt.Errorf("register %s: %w", reg.name, err)
		}
	}
	return nil
}

// factAs narrows an event to its concrete type. Both value and pointer
// forms are accepted.
func factAs[T shared.Event](event shared.Event) (T, bool) {
	switch v := any(event).(type) {
	case T:
		return v, true
	case *T:
		if v != nil {
			return *v, true
		}
	}
	var zero T
	return zero, false
}

// dropReason classifies errors that retrying can never fix. It returns ""
// for errors the dispatcher should see.
func dropReason(err error) string {
	switch {
	case err == nil:
		return ""
	case shared.IsNotFound(err):
		return "referenced content no longer exists"
	case shared.IsValidation(err):
		return "malformed fact"
	case errors.Is(err, shared.ErrForbidden), errors.Is(err, shared.ErrLimitReached):
		return "rejected by admission control"
	}
	return ""
}

// settle logs droppable errors and returns nil for them.
func settle(ctx context.Context, log *slog.Logger, event shared.Event, err error) error {
	if err == nil {
		return nil
	}
	if reason := dropReason(err); reason != "" {
		log.WarnContext(ctx, "fact dropped",
			"reason", reason,
			"event_type", event.EventType(),
			"user_id", event.AggregateID(),
			"error", err,
		)
		return nil
	}
	return err
}

func unexpected(log *slog.Logger, event shared.Event) error {
	log.Warn("unexpected event payload", "event_type", event.EventType())
	return nil
}
