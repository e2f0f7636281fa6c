package query

import (
	"context"
	"time"

	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// ListBadgesQuery asks for the badges a user holds.
type ListBadgesQuery struct {
	UserID shared.UserID
}

// BadgeDTO is an earned badge with its catalog details.
type BadgeDTO struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Icon           string    `json:"icon"`
	Color          string    `json:"color"`
	PointsRequired int       `json:"points_required"`
	EarnedAt       time.Time `json:"earned_at"`
}

// ListBadgesHandler handles ListBadgesQuery.
type ListBadgesHandler struct {
	source Source
}

// NewListBadgesHandler creates a new ListBadgesHandler.
func NewListBadgesHandler(source Source) *ListBadgesHandler {
	return &ListBadgesHandler{source: source}
}

// Handle returns the newest badges first.
func (h *ListBadgesHandler) Handle(ctx context.Context, q ListBadgesQuery) ([]BadgeDTO, error) {
	if err := requireUser("ListBadges", q.UserID); err != nil {
		return nil, err
	}
	owned, err := h.source.Reader().Badges.ListByUser(ctx, q.UserID)
	if err != nil {
		return nil, err
	}
	out := make([]BadgeDTO, 0, len(owned))
	for _, o := range owned {
		out = append(out, BadgeDTO{
			ID:             o.Badge.ID.String(),
			Name:           o.Badge.Name,
			Description:    o.Badge.Description,
			Icon:           o.Badge.Icon,
			Color:          o.Badge.Color,
			PointsRequired: o.Badge.PointsRequired,
			EarnedAt:       o.EarnedAt,
		})
	}
	return out, nil
}
