package query

import (
	"context"
	"time"

	"github.com/alem-hub/learning-engine/internal/domain/shared"
	"github.com/alem-hub/learning-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET STREAK QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetStreakQuery asks for a user's learning streak.
type GetStreakQuery struct {
	UserID shared.UserID
}

// StreakDTO is the stored streak plus whether it can still be extended.
type StreakDTO struct {
	UserID           string `json:"user_id"`
	CurrentStreak    int    `json:"current_streak"`
	LongestStreak    int    `json:"longest_streak"`
	LastActivityDate string `json:"last_activity_date,omitempty"`
	// Broken is true when a day was missed; the next activity resets to 1.
	Broken bool `json:"broken"`
}

// GetStreakHandler handles GetStreakQuery.
type GetStreakHandler struct {
	source   Source
	clock    timeutil.Clock
	location *time.Location
}

// NewGetStreakHandler creates a new GetStreakHandler. Days are evaluated in
// loc, the same zone the engine records activity in.
func NewGetStreakHandler(source Source, clock timeutil.Clock, loc *time.Location) *GetStreakHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &GetStreakHandler{source: source, clock: clock, location: loc}
}

// Handle executes the query. A user with no activity has an empty streak.
func (h *GetStreakHandler) Handle(ctx context.Context, q GetStreakQuery) (*StreakDTO, error) {
	if err := requireUser("GetStreak", q.UserID); err != nil {
		return nil, err
	}
	dto := &StreakDTO{UserID: q.UserID.String()}

	s, err := h.source.Reader().Streaks.Get(ctx, q.UserID)
	if shared.IsNotFound(err) {
		return dto, nil
	}
	if err != nil {
		return nil, err
	}

	dto.CurrentStreak = s.Current
	dto.LongestStreak = s.Longest
	dto.LastActivityDate = s.LastActivityDate.String()
	dto.Broken = s.IsBroken(shared.DateOf(h.clock.Now(), h.location))
	return dto, nil
}
