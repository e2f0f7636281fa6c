package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// FACT INGESTION
// Facts are validated and queued on the fact bus; processing is asynchronous.
// ══════════════════════════════════════════════════════════════════════════════

type courseFactRequest struct {
	UserID     string     `json:"user_id" validate:"required"`
	CourseID   string     `json:"course_id" validate:"required"`
	OccurredAt *time.Time `json:"occurred_at"`
}

type lessonCompletedRequest struct {
	UserID     string     `json:"user_id" validate:"required"`
	CourseID   string     `json:"course_id" validate:"required"`
	LessonID   string     `json:"lesson_id" validate:"required"`
	OccurredAt *time.Time `json:"occurred_at"`
}

type quizSubmittedRequest struct {
	UserID     string            `json:"user_id" validate:"required"`
	QuizID     string            `json:"quiz_id" validate:"required"`
	AttemptID  string            `json:"attempt_id" validate:"required"`
	Answers    map[string]string `json:"answers" validate:"required"`
	OccurredAt *time.Time        `json:"occurred_at"`
}

func (s *Server) occurredAt(t *time.Time) time.Time {
	if t == nil || t.IsZero() {
		return s.deps.Clock.Now()
	}
	return *t
}

func (s *Server) accept(c *fiber.Ctx, event shared.Event) error {
	if err := s.deps.Facts.Publish(c.UserContext(), event); err != nil {
		return err
	}
	return success(c, fiber.StatusAccepted, "fact accepted", fiber.Map{
		"type":    event.EventType(),
		"user_id": event.AggregateID(),
	})
}

func (s *Server) handleLessonCompletedFact(c *fiber.Ctx) error {
	var req lessonCompletedRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	return s.accept(c, shared.NewLessonCompletedFact(shared.UserID(req.UserID),
		shared.CourseID(req.CourseID), shared.LessonID(req.LessonID), s.occurredAt(req.OccurredAt)))
}

func (s *Server) handleQuizSubmittedFact(c *fiber.Ctx) error {
	var req quizSubmittedRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	return s.accept(c, shared.NewQuizSubmittedFact(shared.UserID(req.UserID), shared.QuizID(req.QuizID),
		shared.AttemptID(req.AttemptID), answerMap(req.Answers), s.occurredAt(req.OccurredAt)))
}

func (s *Server) handleEnrollmentCreatedFact(c *fiber.Ctx) error {
	var req courseFactRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	return s.accept(c, shared.NewEnrollmentCreatedFact(shared.UserID(req.UserID),
		shared.CourseID(req.CourseID), s.occurredAt(req.OccurredAt)))
}

func (s *Server) handleReviewCreatedFact(c *fiber.Ctx) error {
	var req courseFactRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	return s.accept(c, shared.NewReviewCreatedFact(shared.UserID(req.UserID),
		shared.CourseID(req.CourseID), s.occurredAt(req.OccurredAt)))
}

func (s *Server) handleCertificateIssuedFact(c *fiber.Ctx) error {
	var req courseFactRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	return s.accept(c, shared.NewCertificateIssuedFact(shared.UserID(req.UserID),
		shared.CourseID(req.CourseID), s.occurredAt(req.OccurredAt)))
}

func answerMap(in map[string]string) map[shared.QuestionID]string {
	out := make(map[shared.QuestionID]string, len(in))
	for q, a := range in {
		out[shared.QuestionID(q)] = a
	}
	return out
}
