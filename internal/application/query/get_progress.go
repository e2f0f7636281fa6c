package query

import (
	"context"
	"time"

	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// GetProgressQuery asks for the completion state of one enrollment.
type GetProgressQuery struct {
	EnrollmentID shared.EnrollmentID
}

// ProgressDTO is the derived enrollment state.
type ProgressDTO struct {
	EnrollmentID       string     `json:"enrollment_id"`
	UserID             string     `json:"user_id"`
	CourseID           string     `json:"course_id"`
	ProgressPercentage float64    `json:"progress_percentage"`
	CompletedLessons   int        `json:"completed_lessons"`
	IsCompleted        bool       `json:"is_completed"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	EnrolledAt         time.Time  `json:"enrolled_at"`
}

// GetProgressHandler handles GetProgressQuery.
type GetProgressHandler struct {
	source Source
}

// NewGetProgressHandler creates a new GetProgressHandler.
func NewGetProgressHandler(source Source) *GetProgressHandler {
	return &GetProgressHandler{source: source}
}

// Handle returns shared.ErrEnrollmentNotFound for an unknown enrollment.
func (h *GetProgressHandler) Handle(ctx context.Context, q GetProgressQuery) (*ProgressDTO, error) {
	if q.EnrollmentID == "" {
		return nil, shared.NewDomainError("query", "GetProgress", shared.ErrInvalidInput, "enrollment_id is required")
	}
	repos := h.source.Reader()
	enr, err := repos.Enrollments.Get(ctx, q.EnrollmentID)
	if err != nil {
		return nil, err
	}
	completed, err := repos.Enrollments.CountCompletedLessons(ctx, enr.ID)
	if err != nil {
		return nil, err
	}
	return &ProgressDTO{
		EnrollmentID:       enr.ID.String(),
		UserID:             enr.UserID.String(),
		CourseID:           enr.CourseID.String(),
		ProgressPercentage: enr.ProgressPercentage,
		CompletedLessons:   completed,
		IsCompleted:        enr.IsCompleted,
		CompletedAt:        enr.CompletedAt,
		EnrolledAt:         enr.EnrolledAt,
	}, nil
}
