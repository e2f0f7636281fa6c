// Package achievement is the display-only milestone log. Nothing in the
// engine reads it back for decisions.
package achievement

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/learning-engine/internal/domain/badge"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// Type classifies an achievement entry.
type Type string

const (
	TypeCourseCompletion Type = "course_completion"
	TypeQuizMastery      Type = "quiz_mastery"
	TypeStreak           Type = "streak"
	TypeEnrollment       Type = "enrollment"
	TypeReview           Type = "review"
	TypeBadge            Type = "badge"
)

// Icons used by the UI.
const (
	IconCourseCompletion = "fas fa-graduation-cap"
	IconStreak           = "fas fa-fire"
)

// Achievement is an immutable log entry.
type Achievement struct {
	ID          string
	UserID      shared.UserID
	Type        Type
	Title       string
	Description string
	Icon        string
	Points      int
	CourseID    shared.CourseID
	BadgeID     shared.BadgeID
	CreatedAt   time.Time
}

// CourseCompleted records a completed course.
func CourseCompleted(id string, userID shared.UserID, courseID shared.CourseID, courseTitle string, pts int, at time.Time) *Achievement {
	return &Achievement{
		ID:          id,
		UserID:      userID,
		Type:        TypeCourseCompletion,
		Title:       fmt.Sprintf("Completed %s", courseTitle),
		Description: fmt.Sprintf("Successfully completed the course %s", courseTitle),
		Icon:        IconCourseCompletion,
		Points:      pts,
		CourseID:    courseID,
		CreatedAt:   at.UTC(),
	}
}

// StreakMilestone records a paid streak milestone.
func StreakMilestone(id string, userID shared.UserID, streak, bonus int, at time.Time) *Achievement {
	return &Achievement{
		ID:          id,
		UserID:      userID,
		Type:        TypeStreak,
		Title:       fmt.Sprintf("%d Day Streak!", streak),
		Description: fmt.Sprintf("Achieved a learning streak of %d days", streak),
		Icon:        IconStreak,
		Points:      bonus,
		CreatedAt:   at.UTC(),
	}
}

// BadgeEarned records a badge grant.
func BadgeEarned(id string, userID shared.UserID, b *badge.Badge, at time.Time) *Achievement {
	return &Achievement{
		ID:          id,
		UserID:      userID,
		Type:        TypeBadge,
		Title:       fmt.Sprintf("Earned %s", b.Name),
		Description: b.Description,
		Icon:        b.Icon,
		Points:      b.PointsRequired,
		BadgeID:     b.ID,
		CreatedAt:   at.UTC(),
	}
}

// Repository appends and lists entries.
type Repository interface {
	Append(ctx context.Context, a *Achievement) error

	// ListByUser returns the newest entries first.
	ListByUser(ctx context.Context, userID shared.UserID, limit int) ([]*Achievement, error)
}
