// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"strings"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════
//
// Identifiers are opaque strings issued by the CRUD layer that produces facts.
// The engine never parses them, it only compares and stores them.

// UserID identifies a student.
type UserID string

// CourseID identifies a course.
type CourseID string

// LessonID identifies a lesson inside a course.
type LessonID string

// QuizID identifies a quiz.
type QuizID string

// QuestionID identifies a question inside a quiz.
type QuestionID string

// AnswerID identifies an answer option of a question.
type AnswerID string

// AttemptID identifies a single quiz attempt.
type AttemptID string

// EnrollmentID identifies a (student, course) enrollment.
type EnrollmentID string

// BadgeID identifies a catalog badge.
type BadgeID string

// String returns the string representation.
func (id UserID) String() string { return string(id) }

// IsEmpty checks if the ID is empty.
func (id UserID) IsEmpty() bool { return strings.TrimSpace(string(id)) == "" }

func (id CourseID) String() string     { return string(id) }
func (id LessonID) String() string     { return string(id) }
func (id QuizID) String() string       { return string(id) }
func (id QuestionID) String() string   { return string(id) }
func (id AnswerID) String() string     { return string(id) }
func (id AttemptID) String() string    { return string(id) }
func (id EnrollmentID) String() string { return string(id) }
func (id BadgeID) String() string      { return string(id) }

// NewUserID creates a UserID with validation.
func NewUserID(id string) (UserID, error) {
	uid := UserID(strings.TrimSpace(id))
	if uid.IsEmpty() {
		return "", NewDomainError("shared", "NewUserID", ErrInvalidID, "user ID cannot be empty")
	}
	return uid, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Date Value Object (calendar day)
// ═══════════════════════════════════════════════════════════════════════════

// DateLayout is the wire and storage format of a Date.
const DateLayout = "2006-01-02"

// Date is a calendar day without a time of day or a zone.
// The zero value means "no date".
type Date struct {
	t time.Time
}

// DateOf returns the calendar day of t as observed in loc.
// A nil location means UTC.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return NewDate(y, m, d)
}

// NewDate builds a Date from its components.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, WrapError("shared", "ParseDate", ErrInvalidInput, "invalid calendar date", err)
	}
	return Date{t: t}, nil
}

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool {
	return d.t.IsZero()
}

// DaysSince returns the number of calendar days from other to d.
// Negative when d is before other.
func (d Date) DaysSince(other Date) int {
	return int(d.t.Sub(other.t).Hours() / 24)
}

// AddDays returns the date n days later (or earlier for negative n).
func (d Date) AddDays(n int) Date {
	return Date{t: d.t.AddDate(0, 0, n)}
}

// Before reports whether d is strictly before other.
func (d Date) Before(other Date) bool {
	return d.t.Before(other.t)
}

// Time returns midnight UTC of the date.
func (d Date) Time() time.Time {
	return d.t
}

// String returns the YYYY-MM-DD representation, or "" for the zero date.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DateLayout)
}

// ═══════════════════════════════════════════════════════════════════════════
// Limit Value Object
// ═══════════════════════════════════════════════════════════════════════════

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// NormalizeLimit clamps a requested list size into [1, MaxPageSize],
// substituting DefaultPageSize for non-positive values.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
