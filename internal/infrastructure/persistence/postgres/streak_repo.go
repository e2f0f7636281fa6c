package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/learning-engine/internal/domain/shared"
	"github.com/alem-hub/learning-engine/internal/domain/streak"
)

// StreakRepository implements streak.Repository.
type StreakRepository struct {
	q Querier
}

var _ streak.Repository = (*StreakRepository)(nil)

// Get returns the user's streak or streak.ErrNotFound.
func (r *StreakRepository) Get(ctx context.Context, userID shared.UserID) (*streak.Streak, error) {
	query := `
		SELECT current_streak, longest_streak, last_activity_date, updated_at
		FROM learning_streaks
		WHERE user_id = $1
	`

	var (
		s    = streak.New(userID)
		last *time.Time
	)
	err := r.q.QueryRow(ctx, query, userID.String()).Scan(&s.Current, &s.Longest, &last, &s.UpdatedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, streak.ErrNotFound
		}
		return nil, fmt.Errorf("get streak: %w", mapError("Get", err))
	}
	if last != nil {
		s.LastActivityDate = shared.DateOf(*last, time.UTC)
	}
	return s, nil
}

// Save upserts the user's streak.
func (r *StreakRepository) Save(ctx context.Context, s *streak.Streak) error {
	query := `
		INSERT INTO learning_streaks (user_id, current_streak, longest_streak, last_activity_date, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			current_streak = EXCLUDED.current_streak,
			longest_streak = EXCLUDED.longest_streak,
			last_activity_date = EXCLUDED.last_activity_date,
			updated_at = EXCLUDED.updated_at
	`

	var last *time.Time
	if !s.LastActivityDate.IsZero() {
		t := s.LastActivityDate.Time()
		last = &t
	}
	updatedAt := s.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	if _, err := r.q.Exec(ctx, query, s.UserID.String(), s.Current, s.Longest, last, updatedAt); err != nil {
		return fmt.Errorf("save streak: %w", mapError("Save", err))
	}
	return nil
}
