// Package enrollment tracks a student's progress through a course.
package enrollment

import (
	"context"
	"math"
	"time"

	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// Enrollment is the unique (student, course) pair.
// ProgressPercentage is always derived from lesson progress, never edited.
type Enrollment struct {
	ID                 shared.EnrollmentID
	UserID             shared.UserID
	CourseID           shared.CourseID
	ProgressPercentage float64
	IsCompleted        bool
	// CompletedAt is set once, the first time progress reaches 100%.
	CompletedAt *time.Time
	EnrolledAt  time.Time
}

// New creates an empty enrollment.
func New(id shared.EnrollmentID, userID shared.UserID, courseID shared.CourseID, at time.Time) *Enrollment {
	return &Enrollment{
		ID:         id,
		UserID:     userID,
		CourseID:   courseID,
		EnrolledAt: at.UTC(),
	}
}

// Percentage derives completion from lesson counts, rounded to two decimals
// for display. Only a fully completed course shows 100; a course without
// lessons is 0% complete.
func Percentage(completedLessons, totalLessons int) float64 {
	if totalLessons <= 0 || completedLessons <= 0 {
		return 0
	}
	if AllLessonsCompleted(completedLessons, totalLessons) {
		return 100
	}
	p := float64(completedLessons) / float64(totalLessons) * 100
	return math.Min(math.Round(p*100)/100, 99.99)
}

// AllLessonsCompleted decides completion on the counts, never on the
// rounded percentage.
func AllLessonsCompleted(completedLessons, totalLessons int) bool {
	return totalLessons > 0 && completedLessons >= totalLessons
}

// Recompute refreshes the derived progress from the current lesson counts.
// It reports true only on the first transition to completed, which is when
// CourseCompleted must be emitted. Completion is never revoked.
func (e *Enrollment) Recompute(completedLessons, totalLessons int, now time.Time) bool {
	e.ProgressPercentage = Percentage(completedLessons, totalLessons)
	if !AllLessonsCompleted(completedLessons, totalLessons) || e.IsCompleted {
		return false
	}
	e.IsCompleted = true
	if e.CompletedAt == nil {
		at := now.UTC()
		e.CompletedAt = &at
	}
	return true
}

// LessonProgress is the unique (enrollment, lesson) pair.
// Completion is monotonic.
type LessonProgress struct {
	EnrollmentID     shared.EnrollmentID
	LessonID         shared.LessonID
	IsCompleted      bool
	CompletedAt      *time.Time
	WatchTimeSeconds int
	StartedAt        time.Time
	LastAccessedAt   time.Time
}

// NewLessonProgress creates the row on first access.
func NewLessonProgress(enrollmentID shared.EnrollmentID, lessonID shared.LessonID, at time.Time) *LessonProgress {
	at = at.UTC()
	return &LessonProgress{
		EnrollmentID:   enrollmentID,
		LessonID:       lessonID,
		StartedAt:      at,
		LastAccessedAt: at,
	}
}

// Touch records an access and accumulates watch time.
func (p *LessonProgress) Touch(watchSeconds int, at time.Time) {
	if watchSeconds > 0 {
		p.WatchTimeSeconds += watchSeconds
	}
	p.LastAccessedAt = at.UTC()
}

// MarkComplete completes the lesson. It reports false when it already was.
func (p *LessonProgress) MarkComplete(at time.Time) bool {
	if p.IsCompleted {
		return false
	}
	p.IsCompleted = true
	completed := at.UTC()
	p.CompletedAt = &completed
	return true
}

// Repository persists enrollments and lesson progress.
type Repository interface {
	// Get returns an enrollment by ID or shared.ErrEnrollmentNotFound.
	Get(ctx context.Context, id shared.EnrollmentID) (*Enrollment, error)

	// GetByUserCourse returns the enrollment or shared.ErrEnrollmentNotFound.
	GetByUserCourse(ctx context.Context, userID shared.UserID, courseID shared.CourseID) (*Enrollment, error)

	// Create stores a new enrollment. When the (user, course) pair exists it
	// returns the stored one and false.
	Create(ctx context.Context, e *Enrollment) (*Enrollment, bool, error)

	// Update saves derived progress fields.
	Update(ctx context.Context, e *Enrollment) error

	// GetLessonProgress returns nil and no error when the row does not exist.
	GetLessonProgress(ctx context.Context, enrollmentID shared.EnrollmentID, lessonID shared.LessonID) (*LessonProgress, error)

	// SaveLessonProgress upserts a lesson progress row.
	SaveLessonProgress(ctx context.Context, p *LessonProgress) error

	// CountCompletedLessons counts completed lesson rows of one enrollment.
	CountCompletedLessons(ctx context.Context, enrollmentID shared.EnrollmentID) (int, error)

	// CountCompletedLessonsByUser counts completed lessons across all enrollments.
	CountCompletedLessonsByUser(ctx context.Context, userID shared.UserID) (int, error)

	// CountCompletedCourses counts completed enrollments of a user.
	CountCompletedCourses(ctx context.Context, userID shared.UserID) (int, error)
}
