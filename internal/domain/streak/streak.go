// Package streak maintains the consecutive-day learning counter of a user.
package streak

import (
	"context"
	"time"

	"github.com/alem-hub/learning-engine/internal/domain/points"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// ErrNotFound is returned when a user has no streak row yet.
var ErrNotFound = shared.NewDomainError("streak", "Find", shared.ErrNotFound, "streak not found")

// Transition names what a qualifying activity did to the streak.
type Transition string

const (
	// Opened is the first activity ever; the streak starts at 1.
	Opened Transition = "opened"
	// SameDay is a repeat activity on the last recorded day.
	SameDay Transition = "same_day"
	// Extended is an activity on the day after the last recorded day.
	Extended Transition = "extended"
	// Reset is an activity after one or more missed days.
	Reset Transition = "reset"
	// Stale is an activity dated before the last recorded day; ignored.
	Stale Transition = "stale"
)

// Changed reports whether the transition modified the counters.
func (t Transition) Changed() bool {
	return t == Opened || t == Extended || t == Reset
}

// Streak is one row per user.
type Streak struct {
	UserID           shared.UserID
	Current          int
	Longest          int
	LastActivityDate shared.Date
	UpdatedAt        time.Time
}

// New creates an empty streak.
func New(userID shared.UserID) *Streak {
	return &Streak{UserID: userID}
}

// RecordActivity applies a qualifying activity on the given calendar day.
func (s *Streak) RecordActivity(day shared.Date, at time.Time) Transition {
	if s.LastActivityDate.IsZero() {
		s.Current = 1
		if s.Longest < 1 {
			s.Longest = 1
		}
		s.LastActivityDate = day
		s.UpdatedAt = at.UTC()
		return Opened
	}

	gap := day.DaysSince(s.LastActivityDate)
	var tr Transition
	switch {
	case gap < 0:
		return Stale
	case gap == 0:
		tr = SameDay
	case gap == 1:
		s.Current++
		tr = Extended
	default:
		s.Current = 1
		tr = Reset
	}
	if s.Current > s.Longest {
		s.Longest = s.Current
	}
	s.LastActivityDate = day
	s.UpdatedAt = at.UTC()
	return tr
}

// BonusDue reports whether the current length is a paying milestone.
func (s *Streak) BonusDue() bool {
	return points.IsStreakMilestone(s.Current)
}

// IsBroken reports whether the streak can no longer be extended on today.
func (s *Streak) IsBroken(today shared.Date) bool {
	if s.LastActivityDate.IsZero() {
		return false
	}
	return today.DaysSince(s.LastActivityDate) > 1
}

// Repository stores streak rows.
type Repository interface {
	// Get returns the user's streak or ErrNotFound.
	Get(ctx context.Context, userID shared.UserID) (*Streak, error)

	// Save upserts the user's streak.
	Save(ctx context.Context, s *Streak) error
}
