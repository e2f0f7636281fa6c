package eventhandler

import (
	"context"
	"log/slog"
	"time"

	"github.com/alem-hub/learning-engine/internal/application/saga"
	"github.com/alem-hub/learning-engine/internal/application/uow"
	"github.com/alem-hub/learning-engine/internal/domain/content"
	"github.com/alem-hub/learning-engine/internal/domain/enrollment"
	"github.com/alem-hub/learning-engine/internal/domain/points"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// COURSE FACTS
// Enrollment, review and certificate facts each pay one award per course.
// ═══════════════════════════════════════════════════════════════════════════

// OnCourseFactHandler handles the facts keyed by (user, course).
type OnCourseFactHandler struct {
	runner  *saga.Runner
	awards  *saga.AwardFlow
	catalog content.Catalog
	logger  *slog.Logger
}

// NewOnCourseFactHandler creates the handler.
func NewOnCourseFactHandler(runner *saga.Runner, awards *saga.AwardFlow, catalog content.Catalog, logger *slog.Logger) *OnCourseFactHandler {
	return &OnCourseFactHandler{
		runner:  runner,
		awards:  awards,
		catalog: catalog,
		logger:  logger.With("handler", "on_course_fact"),
	}
}

// HandleEnrollment stores the enrollment and pays the enrollment award.
func (h *OnCourseFactHandler) HandleEnrollment(ctx context.Context, event shared.Event) error {
	fact, ok := factAs[shared.EnrollmentCreatedFact](event)
	if !ok {
		return unexpected(h.logger, event)
	}
	return h.apply(ctx, event, fact.UserID, fact.CourseID, func(ctx context.Context, repos uow.Repositories, out *saga.Outbox, course *content.Course, at time.Time) error {
		enr := enrollment.New(shared.EnrollmentID(h.runner.NewID()), fact.UserID, course.ID, at)
		if _, created, err := repos.Enrollments.Create(ctx, enr); err != nil {
			return err
		} else if !created {
			h.logger.Debug("enrollment already known",
				"user_id", fact.UserID.String(),
				"course_id", course.ID.String(),
			)
		}
		_, err := h.awards.Award(ctx, repos, out, saga.AwardInput{
			Award: points.EnrollmentAward(fact.UserID, course.ID, course.Title),
			At:    at,
		})
		return err
	})
}

// HandleReview pays the review award.
func (h *OnCourseFactHandler) HandleReview(ctx context.Context, event shared.Event) error {
	fact, ok := factAs[shared.ReviewCreatedFact](event)
	if !ok {
		return unexpected(h.logger, event)
	}
	return h.apply(ctx, event, fact.UserID, fact.CourseID, func(ctx context.Context, repos uow.Repositories, out *saga.Outbox, course *content.Course, at time.Time) error {
		_, err := h.awards.Award(ctx, repos, out, saga.AwardInput{
			Award: points.ReviewAward(fact.UserID, course.ID, course.Title),
			At:    at,
		})
		return err
	})
}

// HandleCertificate pays the course completion award. It shares its
// idempotency key with the award paid when progress reaches 100%.
func (h *OnCourseFactHandler) HandleCertificate(ctx context.Context, event shared.Event) error {
	fact, ok := factAs[shared.CertificateIssuedFact](event)
	if !ok {
		return unexpected(h.logger, event)
	}
	return h.apply(ctx, event, fact.UserID, fact.CourseID, func(ctx context.Context, repos uow.Repositories, out *saga.Outbox, course *content.Course, at time.Time) error {
		_, err := h.awards.Award(ctx, repos, out, saga.AwardInput{
			Award:     points.CourseCompletionAward(fact.UserID, course.ID, course.Title),
			Milestone: saga.CourseCompletionMilestone(course.ID, course.Title),
			At:        at,
		})
		return err
	})
}

type courseStep func(ctx context.Context, repos uow.Repositories, out *saga.Outbox, course *content.Course, at time.Time) error

func (h *OnCourseFactHandler) apply(ctx context.Context, event shared.Event, userID shared.UserID, courseID shared.CourseID, step courseStep) error {
	if userID.IsEmpty() || courseID == "" {
		return settle(ctx, h.logger, event, shared.NewDomainError("eventhandler", "CourseFact", shared.ErrInvalidInput, "user_id and course_id are required"))
	}

	course, err := h.catalog.GetCourse(ctx, courseID)
	if err != nil {
		return settle(ctx, h.logger, event, err)
	}

	at := event.OccurredAt()
	err = h.runner.Run(ctx, userID, func(ctx context.Context, repos uow.Repositories, out *saga.Outbox) error {
		return step(ctx, repos, out, course, at)
	})
	return settle(ctx, h.logger, event, err)
}
