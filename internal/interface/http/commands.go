package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/alem-hub/learning-engine/internal/application/command"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

type trackLessonRequest struct {
	UserID           string `json:"user_id" validate:"required"`
	CourseID         string `json:"course_id"`
	LessonID         string `json:"lesson_id" validate:"required"`
	WatchTimeSeconds int    `json:"watch_time_seconds" validate:"gte=0"`
	MarkComplete     bool   `json:"mark_complete"`
}

type lessonProgressResponse struct {
	EnrollmentID       string     `json:"enrollment_id"`
	LessonID           string     `json:"lesson_id"`
	IsCompleted        bool       `json:"is_completed"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	WatchTimeSeconds   int        `json:"watch_time_seconds"`
	ProgressPercentage float64    `json:"progress_percentage"`
	CourseCompleted    bool       `json:"course_completed"`
	JustCompleted      bool       `json:"just_completed"`
}

func (s *Server) handleTrackLesson(c *fiber.Ctx) error {
	var req trackLessonRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	res, err := s.deps.TrackLesson.Handle(c.UserContext(), command.TrackLessonCommand{
		UserID:           shared.UserID(req.UserID),
		CourseID:         shared.CourseID(req.CourseID),
		LessonID:         shared.LessonID(req.LessonID),
		WatchTimeSeconds: req.WatchTimeSeconds,
		MarkComplete:     req.MarkComplete,
	})
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "lesson progress saved", lessonProgressResponse{
		EnrollmentID:       string(res.Progress.EnrollmentID),
		LessonID:           string(res.Progress.LessonID),
		IsCompleted:        res.Progress.IsCompleted,
		CompletedAt:        res.Progress.CompletedAt,
		WatchTimeSeconds:   res.Progress.WatchTimeSeconds,
		ProgressPercentage: res.Enrollment.ProgressPercentage,
		CourseCompleted:    res.Enrollment.IsCompleted,
		JustCompleted:      res.Completion != nil,
	})
}

type submitAttemptRequest struct {
	UserID    string            `json:"user_id" validate:"required"`
	QuizID    string            `json:"quiz_id" validate:"required"`
	AttemptID string            `json:"attempt_id"`
	Answers   map[string]string `json:"answers"`
}

type attemptResponse struct {
	AttemptID     string    `json:"attempt_id"`
	QuizID        string    `json:"quiz_id"`
	AttemptNumber int       `json:"attempt_number"`
	EarnedPoints  int       `json:"earned_points"`
	TotalPoints   int       `json:"total_points"`
	Score         float64   `json:"score"`
	Passed        bool      `json:"passed"`
	PassingScore  float64   `json:"passing_score"`
	SubmittedAt   time.Time `json:"submitted_at"`
	Replayed      bool      `json:"replayed"`
	PointsAwarded int       `json:"points_awarded"`
	Balance       int       `json:"balance"`
}

func (s *Server) handleSubmitAttempt(c *fiber.Ctx) error {
	var req submitAttemptRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	res, err := s.deps.SubmitAttempt.Handle(c.UserContext(), command.SubmitAttemptCommand{
		UserID:    shared.UserID(req.UserID),
		QuizID:    shared.QuizID(req.QuizID),
		AttemptID: shared.AttemptID(req.AttemptID),
		Answers:   answerMap(req.Answers),
	})
	if err != nil {
		return err
	}

	a := res.Attempt
	out := attemptResponse{
		AttemptID:     string(a.ID),
		QuizID:        string(a.QuizID),
		AttemptNumber: a.AttemptNumber,
		EarnedPoints:  a.EarnedPoints,
		TotalPoints:   a.TotalPoints,
		Score:         a.Score,
		Passed:        a.Passed,
		Replayed:      res.Replayed,
		PointsAwarded: res.PointsAwarded,
		Balance:       res.Balance,
	}
	if res.Quiz != nil {
		out.PassingScore = res.Quiz.PassingScore
	}
	if a.SubmittedAt != nil {
		out.SubmittedAt = *a.SubmittedAt
	}

	status := fiber.StatusCreated
	if res.Replayed {
		status = fiber.StatusOK
	}
	return success(c, status, "attempt scored", out)
}
