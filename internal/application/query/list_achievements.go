package query

import (
	"context"
	"time"

	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// ListAchievementsQuery asks for the newest achievements of a user.
type ListAchievementsQuery struct {
	UserID shared.UserID
	Limit  int
}

// AchievementDTO is one display log entry.
type AchievementDTO struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Icon        string    `json:"icon"`
	Points      int       `json:"points"`
	CourseID    string    `json:"course_id,omitempty"`
	BadgeID     string    `json:"badge_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ListAchievementsHandler handles ListAchievementsQuery.
type ListAchievementsHandler struct {
	source Source
}

// NewListAchievementsHandler creates a new ListAchievementsHandler.
func NewListAchievementsHandler(source Source) *ListAchievementsHandler {
	return &ListAchievementsHandler{source: source}
}

// Handle returns the newest entries first.
func (h *ListAchievementsHandler) Handle(ctx context.Context, q ListAchievementsQuery) ([]AchievementDTO, error) {
	if err := requireUser("ListAchievements", q.UserID); err != nil {
		return nil, err
	}
	rows, err := h.source.Reader().Achievements.ListByUser(ctx, q.UserID, shared.NormalizeLimit(q.Limit))
	if err != nil {
		return nil, err
	}
	out := make([]AchievementDTO, 0, len(rows))
	for _, a := range rows {
		out = append(out, AchievementDTO{
			ID:          a.ID,
			Type:        string(a.Type),
			Title:       a.Title,
			Description: a.Description,
			Icon:        a.Icon,
			Points:      a.Points,
			CourseID:    a.CourseID.String(),
			BadgeID:     a.BadgeID.String(),
			CreatedAt:   a.CreatedAt,
		})
	}
	return out, nil
}
