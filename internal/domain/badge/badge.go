// Package badge holds the badge catalog and the threshold rules for granting
// badges. Badges are granted once and never revoked.
package badge

import (
	"context"
	"time"

	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// Badge is a static catalog entry. A zero threshold is not checked.
type Badge struct {
	ID              shared.BadgeID
	Name            string
	Description     string
	Icon            string
	Color           string
	PointsRequired  int
	CoursesRequired int
	LessonsRequired int
	QuizzesRequired int
	CreatedAt       time.Time
}

// Progress is the snapshot of a user's counters a badge is evaluated against.
type Progress struct {
	Points           int
	CoursesCompleted int
	LessonsCompleted int
	QuizzesPassed    int
}

// IsSatisfiedBy reports whether every configured threshold is met.
func (b *Badge) IsSatisfiedBy(p Progress) bool {
	if p.Points < b.PointsRequired {
		return false
	}
	if b.CoursesRequired > 0 && p.CoursesCompleted < b.CoursesRequired {
		return false
	}
	if b.LessonsRequired > 0 && p.LessonsCompleted < b.LessonsRequired {
		return false
	}
	if b.QuizzesRequired > 0 && p.QuizzesPassed < b.QuizzesRequired {
		return false
	}
	return true
}

// NeedsActivityCounters reports whether evaluation needs more than the balance.
func (b *Badge) NeedsActivityCounters() bool {
	return b.CoursesRequired > 0 || b.LessonsRequired > 0 || b.QuizzesRequired > 0
}

// Eligible returns the catalog badges not yet owned that p satisfies,
// in catalog order.
func Eligible(catalog []*Badge, owned map[shared.BadgeID]bool, p Progress) []*Badge {
	var out []*Badge
	for _, b := range catalog {
		if owned[b.ID] {
			continue
		}
		if b.IsSatisfiedBy(p) {
			out = append(out, b)
		}
	}
	return out
}

// UserBadge is the unique (user, badge) pair.
type UserBadge struct {
	ID       string
	UserID   shared.UserID
	BadgeID  shared.BadgeID
	EarnedAt time.Time
}

// Repository stores the catalog and grants.
type Repository interface {
	// Catalog returns every badge ordered by points threshold.
	Catalog(ctx context.Context) ([]*Badge, error)

	// OwnedIDs returns the set of badges the user already holds.
	OwnedIDs(ctx context.Context, userID shared.UserID) (map[shared.BadgeID]bool, error)

	// Grant creates the user badge. It reports false without error when the
	// pair already exists.
	Grant(ctx context.Context, ub *UserBadge) (bool, error)

	// ListByUser returns the user's badges with catalog details, newest first.
	ListByUser(ctx context.Context, userID shared.UserID) ([]Owned, error)
}

// Owned joins a grant with its catalog entry.
type Owned struct {
	Badge    *Badge
	EarnedAt time.Time
}
