package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/learning-engine/internal/domain/achievement"
	"github.com/alem-hub/learning-engine/internal/domain/badge"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// BADGES
// ══════════════════════════════════════════════════════════════════════════════

// BadgeRepository implements badge.Repository.
type BadgeRepository struct {
	q Querier
}

var _ badge.Repository = (*BadgeRepository)(nil)

const badgeColumns = `b.id, b.name, b.description, b.icon, b.color, b.points_required,
	b.courses_required, b.lessons_required, b.quizzes_required, b.created_at`

func scanBadge(row pgx.Row, extra ...any) (*badge.Badge, error) {
	var (
		b  badge.Badge
		id string
	)
	dest := append([]any{&id, &b.Name, &b.Description, &b.Icon, &b.Color, &b.PointsRequired,
		&b.CoursesRequired, &b.LessonsRequired, &b.QuizzesRequired, &b.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	b.ID = shared.BadgeID(id)
	return &b, nil
}

// Catalog returns every badge ordered by points threshold.
func (r *BadgeRepository) Catalog(ctx context.Context) ([]*badge.Badge, error) {
	rows, err := r.q.Query(ctx, `SELECT `+badgeColumns+` FROM badges b ORDER BY b.points_required, b.id`)
	if err != nil {
		return nil, fmt.Errorf("list badges: %w", mapError("Catalog", err))
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*badge.Badge, error) {
		return scanBadge(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan badges: %w", err)
	}
	return out, nil
}

// OwnedIDs returns the set of badges the user already holds.
func (r *BadgeRepository) OwnedIDs(ctx context.Context, userID shared.UserID) (map[shared.BadgeID]bool, error) {
	rows, err := r.q.Query(ctx, `SELECT badge_id FROM user_badges WHERE user_id = $1`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("list owned badges: %w", mapError("OwnedIDs", err))
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan owned badges: %w", err)
	}
	owned := make(map[shared.BadgeID]bool, len(ids))
	for _, id := range ids {
		owned[shared.BadgeID(id)] = true
	}
	return owned, nil
}

// Grant creates the user badge; an existing (user, badge) pair reports false.
func (r *BadgeRepository) Grant(ctx context.Context, ub *badge.UserBadge) (bool, error) {
	query := `
		INSERT INTO user_badges (id, user_id, badge_id, earned_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, badge_id) DO NOTHING
	`
	tag, err := r.q.Exec(ctx, query, ub.ID, ub.UserID.String(), string(ub.BadgeID), ub.EarnedAt)
	if err != nil {
		return false, fmt.Errorf("grant badge: %w", mapError("Grant", err))
	}
	return tag.RowsAffected() == 1, nil
}

// ListByUser returns the user's badges with catalog details, newest first.
func (r *BadgeRepository) ListByUser(ctx context.Context, userID shared.UserID) ([]badge.Owned, error) {
	query := `
		SELECT ` + badgeColumns + `, ub.earned_at
		FROM user_badges ub
		JOIN badges b ON b.id = ub.badge_id
		WHERE ub.user_id = $1
		ORDER BY ub.earned_at DESC, b.points_required DESC
	`
	rows, err := r.q.Query(ctx, query, userID.String())
	if err != nil {
		return nil, fmt.Errorf("list user badges: %w", mapError("ListByUser", err))
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (badge.Owned, error) {
		var earnedAt time.Time
		b, err := scanBadge(row, &earnedAt)
		if err != nil {
			return badge.Owned{}, err
		}
		return badge.Owned{Badge: b, EarnedAt: earnedAt}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan user badges: %w", err)
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

// AchievementRepository implements achievement.Repository.
type AchievementRepository struct {
	q Querier
}

var _ achievement.Repository = (*AchievementRepository)(nil)

// Append stores an entry.
func (r *AchievementRepository) Append(ctx context.Context, a *achievement.Achievement) error {
	query := `
		INSERT INTO achievements (id, user_id, achievement_type, title, description, icon,
			points, course_id, badge_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.q.Exec(ctx, query, a.ID, a.UserID.String(), string(a.Type), a.Title, a.Description,
		a.Icon, a.Points, nullable(string(a.CourseID)), nullable(string(a.BadgeID)), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("append achievement: %w", mapError("Append", err))
	}
	return nil
}

// ListByUser returns the newest entries first.
func (r *AchievementRepository) ListByUser(ctx context.Context, userID shared.UserID, limit int) ([]*achievement.Achievement, error) {
	query := `
		SELECT id, user_id, achievement_type, title, description, icon, points,
			   COALESCE(course_id, ''), COALESCE(badge_id, ''), created_at
		FROM achievements
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.q.Query(ctx, query, userID.String(), shared.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", mapError("ListByUser", err))
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*achievement.Achievement, error) {
		var (
			a                              achievement.Achievement
			userID, typ, courseID, badgeID string
		)
		if err := row.Scan(&a.ID, &userID, &typ, &a.Title, &a.Description, &a.Icon, &a.Points,
			&courseID, &badgeID, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.UserID = shared.UserID(userID)
		a.Type = achievement.Type(typ)
		a.CourseID = shared.CourseID(courseID)
		a.BadgeID = shared.BadgeID(badgeID)
		return &a, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan achievements: %w", err)
	}
	return out, nil
}
