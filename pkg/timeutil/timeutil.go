// Package timeutil provides the clock abstraction and timezone-aware calendar
// helpers used for day-based state such as learning streaks.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultTimezone is used when no timezone is configured.
const DefaultTimezone = "Asia/Almaty"

// AlmatyTZ is the Almaty timezone (UTC+5, no DST).
// It is the fallback when the tz database is unavailable in the container.
var AlmatyTZ = time.FixedZone("Asia/Almaty", 5*60*60)

// LoadLocation resolves a timezone name. "UTC" and "" resolve to UTC;
// Asia/Almaty falls back to a fixed zone when tzdata is missing.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "UTC") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc, nil
	}
	if name == DefaultTimezone {
		return AlmatyTZ, nil
	}
	return nil, fmt.Errorf("unknown timezone %q: %w", name, err)
}

// ═══════════════════════════════════════════════════════════════════════════
// Clock
// ═══════════════════════════════════════════════════════════════════════════

// Clock tells the current time. Production code uses SystemClock; tests
// use a FixedClock to make day boundaries deterministic.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock is a manually advanced clock. Safe for concurrent use.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixedClock creates a clock frozen at t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{now: t}
}

// Now implements Clock.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// ═══════════════════════════════════════════════════════════════════════════
// Calendar helpers
// ═══════════════════════════════════════════════════════════════════════════

// StartOfDay returns 00:00:00 of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// EndOfDay returns the last nanosecond of t's calendar day in loc.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	return StartOfDay(t, loc).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// IsSameDay checks whether both instants fall on the same calendar day in loc.
func IsSameDay(t1, t2 time.Time, loc *time.Location) bool {
	return DaysBetween(t1, t2, loc) == 0
}

// IsConsecutiveDay checks whether t2 falls on the calendar day after t1 in loc.
func IsConsecutiveDay(t1, t2 time.Time, loc *time.Location) bool {
	return DaysBetween(t1, t2, loc) == 1
}

// DaysBetween returns the number of calendar days from t1 to t2 in loc.
// It counts midnights, so DST shifts do not produce fractional days.
func DaysBetween(t1, t2 time.Time, loc *time.Location) int {
	y1, m1, d1 := t1.In(loc).Date()
	y2, m2, d2 := t2.In(loc).Date()
	a := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	b := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// FormatDateStr formats t as YYYY-MM-DD in loc.
func FormatDateStr(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}
