// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Inbound facts are produced by the CRUD layer; derived events are published
// by the engine after the unit of work that produced them has committed.
const (
	// Inbound facts
	FactLessonCompleted   EventType = "learning.lesson_completed"
	FactQuizSubmitted     EventType = "learning.quiz_submitted"
	FactEnrollmentCreated EventType = "learning.enrollment_created"
	FactReviewCreated     EventType = "learning.review_created"
	FactCertificateIssued EventType = "learning.certificate_issued"

	// Progress events
	EventCourseCompleted EventType = "progress.course_completed"
	EventQuizScored      EventType = "quiz.scored"

	// Gamification events
	EventPointsAwarded       EventType = "points.awarded"
	EventBadgeEarned         EventType = "badge.earned"
	EventStreakUpdated       EventType = "streak.updated"
	EventAchievementRecorded EventType = "achievement.recorded"
)

// InboundFacts lists the fact types accepted from outside the engine.
var InboundFacts = []EventType{
	FactLessonCompleted,
	FactQuizSubmitted,
	FactEnrollmentCreated,
	FactReviewCreated,
	FactCertificateIssued,
}

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	// For every event in this engine it is the user the event belongs to.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event stamped with the given time.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	if at.IsZero() {
		at = time.Now()
	}
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at.UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Inbound Facts
// ═══════════════════════════════════════════════════════════════════════════

// LessonCompletedFact is raised when a student finishes a lesson.
type LessonCompletedFact struct {
	BaseEvent
	UserID   UserID   `json:"user_id"`
	CourseID CourseID `json:"course_id"`
	LessonID LessonID `json:"lesson_id"`
}

// Payload implements Event interface.
func (e LessonCompletedFact) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID,
		"course_id": e.CourseID,
		"lesson_id": e.LessonID,
	}
}

// NewLessonCompletedFact creates a new LessonCompletedFact.
func NewLessonCompletedFact(userID UserID, courseID CourseID, lessonID LessonID, at time.Time) LessonCompletedFact {
	return LessonCompletedFact{
		BaseEvent: NewBaseEvent(FactLessonCompleted, userID.String(), at),
		UserID:    userID,
		CourseID:  courseID,
		LessonID:  lessonID,
	}
}

// QuizSubmittedFact carries a raw answer map to be scored.
// Answers maps a question ID to the submitted answer ID (choice questions)
// or the submitted text (short-answer questions).
type QuizSubmittedFact struct {
	BaseEvent
	UserID    UserID                `json:"user_id"`
	QuizID    QuizID                `json:"quiz_id"`
	AttemptID AttemptID             `json:"attempt_id"`
	Answers   map[QuestionID]string `json:"answers"`
}

// Payload implements Event interface.
func (e QuizSubmittedFact) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    e.UserID,
		"quiz_id":    e.QuizID,
		"attempt_id": e.AttemptID,
		"answers":    len(e.Answers),
	}
}

// NewQuizSubmittedFact creates a new QuizSubmittedFact.
func NewQuizSubmittedFact(userID UserID, quizID QuizID, attemptID AttemptID, answers map[QuestionID]string, at time.Time) QuizSubmittedFact {
	return QuizSubmittedFact{
		BaseEvent: NewBaseEvent(FactQuizSubmitted, userID.String(), at),
		UserID:    userID,
		QuizID:    quizID,
		AttemptID: attemptID,
		Answers:   answers,
	}
}

// EnrollmentCreatedFact is raised when a student enrolls in a course.
type EnrollmentCreatedFact struct {
	BaseEvent
	UserID   UserID   `json:"user_id"`
	CourseID CourseID `json:"course_id"`
}

// Payload implements Event interface.
func (e EnrollmentCreatedFact) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID,
		"course_id": e.CourseID,
	}
}

// NewEnrollmentCreatedFact creates a new EnrollmentCreatedFact.
func NewEnrollmentCreatedFact(userID UserID, courseID CourseID, at time.Time) EnrollmentCreatedFact {
	return EnrollmentCreatedFact{
		BaseEvent: NewBaseEvent(FactEnrollmentCreated, userID.String(), at),
		UserID:    userID,
		CourseID:  courseID,
	}
}

// ReviewCreatedFact is raised when a student reviews a course.
type ReviewCreatedFact struct {
	BaseEvent
	UserID   UserID   `json:"user_id"`
	CourseID CourseID `json:"course_id"`
}

// Payload implements Event interface.
func (e ReviewCreatedFact) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID,
		"course_id": e.CourseID,
	}
}

// NewReviewCreatedFact creates a new ReviewCreatedFact.
func NewReviewCreatedFact(userID UserID, courseID CourseID, at time.Time) ReviewCreatedFact {
	return ReviewCreatedFact{
		BaseEvent: NewBaseEvent(FactReviewCreated, userID.String(), at),
		UserID:    userID,
		CourseID:  courseID,
	}
}

// CertificateIssuedFact is raised when a course certificate is issued.
type CertificateIssuedFact struct {
	BaseEvent
	UserID   UserID   `json:"user_id"`
	CourseID CourseID `json:"course_id"`
}

// Payload implements Event interface.
func (e CertificateIssuedFact) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID,
		"course_id": e.CourseID,
	}
}

// NewCertificateIssuedFact creates a new CertificateIssuedFact.
func NewCertificateIssuedFact(userID UserID, courseID CourseID, at time.Time) CertificateIssuedFact {
	return CertificateIssuedFact{
		BaseEvent: NewBaseEvent(FactCertificateIssued, userID.String(), at),
		UserID:    userID,
		CourseID:  courseID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Derived Events
// ═══════════════════════════════════════════════════════════════════════════

// CourseCompletedEvent is emitted once, the first time an enrollment reaches 100%.
type CourseCompletedEvent struct {
	BaseEvent
	UserID       UserID       `json:"user_id"`
	CourseID     CourseID     `json:"course_id"`
	EnrollmentID EnrollmentID `json:"enrollment_id"`
}

// Payload implements Event interface.
func (e CourseCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":       e.UserID,
		"course_id":     e.CourseID,
		"enrollment_id": e.EnrollmentID,
	}
}

// NewCourseCompletedEvent creates a new CourseCompletedEvent.
func NewCourseCompletedEvent(userID UserID, courseID CourseID, enrollmentID EnrollmentID, at time.Time) CourseCompletedEvent {
	return CourseCompletedEvent{
		BaseEvent:    NewBaseEvent(EventCourseCompleted, userID.String(), at),
		UserID:       userID,
		CourseID:     courseID,
		EnrollmentID: enrollmentID,
	}
}

// QuizScoredEvent is emitted after an attempt has been scored and stored.
type QuizScoredEvent struct {
	BaseEvent
	UserID       UserID    `json:"user_id"`
	QuizID       QuizID    `json:"quiz_id"`
	CourseID     CourseID  `json:"course_id"`
	AttemptID    AttemptID `json:"attempt_id"`
	Passed       bool      `json:"passed"`
	Score        float64   `json:"score"`
	EarnedPoints int       `json:"earned_points"`
	TotalPoints  int       `json:"total_points"`
}

// Payload implements Event interface.
func (e QuizScoredEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":       e.UserID,
		"quiz_id":       e.QuizID,
		"course_id":     e.CourseID,
		"attempt_id":    e.AttemptID,
		"passed":        e.Passed,
		"score":         e.Score,
		"earned_points": e.EarnedPoints,
		"total_points":  e.TotalPoints,
	}
}

// NewQuizScoredEvent creates a new QuizScoredEvent.
func NewQuizScoredEvent(userID UserID, quizID QuizID, courseID CourseID, attemptID AttemptID, passed bool, score float64, earned, total int, at time.Time) QuizScoredEvent {
	return QuizScoredEvent{
		BaseEvent:    NewBaseEvent(EventQuizScored, userID.String(), at),
		UserID:       userID,
		QuizID:       quizID,
		CourseID:     courseID,
		AttemptID:    attemptID,
		Passed:       passed,
		Score:        score,
		EarnedPoints: earned,
		TotalPoints:  total,
	}
}

// PointsAwardedEvent is emitted for every new ledger row.
type PointsAwardedEvent struct {
	BaseEvent
	UserID          UserID `json:"user_id"`
	TransactionID   string `json:"transaction_id"`
	TransactionType string `json:"transaction_type"`
	Points          int    `json:"points"`
	NewBalance      int    `json:"new_balance"`
}

// Payload implements Event interface.
func (e PointsAwardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":          e.UserID,
		"transaction_id":   e.TransactionID,
		"transaction_type": e.TransactionType,
		"points":           e.Points,
		"new_balance":      e.NewBalance,
	}
}

// NewPointsAwardedEvent creates a new PointsAwardedEvent.
func NewPointsAwardedEvent(userID UserID, transactionID, transactionType string, points, newBalance int, at time.Time) PointsAwardedEvent {
	return PointsAwardedEvent{
		BaseEvent:       NewBaseEvent(EventPointsAwarded, userID.String(), at),
		UserID:          userID,
		TransactionID:   transactionID,
		TransactionType: transactionType,
		Points:          points,
		NewBalance:      newBalance,
	}
}

// BadgeEarnedEvent is emitted when a badge is granted.
type BadgeEarnedEvent struct {
	BaseEvent
	UserID    UserID  `json:"user_id"`
	BadgeID   BadgeID `json:"badge_id"`
	BadgeName string  `json:"badge_name"`
}

// Payload implements Event interface.
func (e BadgeEarnedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    e.UserID,
		"badge_id":   e.BadgeID,
		"badge_name": e.BadgeName,
	}
}

// NewBadgeEarnedEvent creates a new BadgeEarnedEvent.
func NewBadgeEarnedEvent(userID UserID, badgeID BadgeID, badgeName string, at time.Time) BadgeEarnedEvent {
	return BadgeEarnedEvent{
		BaseEvent: NewBaseEvent(EventBadgeEarned, userID.String(), at),
		UserID:    userID,
		BadgeID:   badgeID,
		BadgeName: badgeName,
	}
}

// StreakUpdatedEvent is emitted when a lesson completion moved the streak.
type StreakUpdatedEvent struct {
	BaseEvent
	UserID       UserID `json:"user_id"`
	Current      int    `json:"current"`
	Longest      int    `json:"longest"`
	ActivityDate string `json:"activity_date"`
}

// Payload implements Event interface.
func (e StreakUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":       e.UserID,
		"current":       e.Current,
		"longest":       e.Longest,
		"activity_date": e.ActivityDate,
	}
}

// NewStreakUpdatedEvent creates a new StreakUpdatedEvent.
func NewStreakUpdatedEvent(userID UserID, current, longest int, day Date, at time.Time) StreakUpdatedEvent {
	return StreakUpdatedEvent{
		BaseEvent:    NewBaseEvent(EventStreakUpdated, userID.String(), at),
		UserID:       userID,
		Current:      current,
		Longest:      longest,
		ActivityDate: day.String(),
	}
}

// AchievementRecordedEvent is emitted for every achievement log entry.
type AchievementRecordedEvent struct {
	BaseEvent
	UserID          UserID `json:"user_id"`
	AchievementID   string `json:"achievement_id"`
	AchievementType string `json:"achievement_type"`
	Title           string `json:"title"`
	Points          int    `json:"points"`
}

// Payload implements Event interface.
func (e AchievementRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":          e.UserID,
		"achievement_id":   e.AchievementID,
		"achievement_type": e.AchievementType,
		"title":            e.Title,
		"points":           e.Points,
	}
}

// NewAchievementRecordedEvent creates a new AchievementRecordedEvent.
func NewAchievementRecordedEvent(userID UserID, achievementID, achievementType, title string, points int, at time.Time) AchievementRecordedEvent {
	return AchievementRecordedEvent{
		BaseEvent:       NewBaseEvent(EventAchievementRecorded, userID.String(), at),
		UserID:          userID,
		AchievementID:   achievementID,
		AchievementType: achievementType,
		Title:           title,
		Points:          points,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Source        string          `json:"source,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EncodeEvent marshals a typed event into an envelope.
func EncodeEvent(id, source string, event Event) (EventEnvelope, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("marshal %s: %w", event.EventType(), err)
	}
	env := EventEnvelope{
		ID:          id,
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Version:     1,
		Source:      source,
		Payload:     body,
	}
	if b, ok := baseOf(event); ok {
		env.Version = b.Version
		env.CorrelationID = b.CorrelationID
	}
	return env, nil
}

// DecodeEvent restores the typed event carried by an envelope.
func DecodeEvent(env EventEnvelope) (Event, error) {
	var (
		event Event
		err   error
	)
	switch env.Type {
	case FactLessonCompleted:
		event, err = decodeInto[LessonCompletedFact](env.Payload)
	case FactQuizSubmitted:
		event, err = decodeInto[QuizSubmittedFact](env.Payload)
	case FactEnrollmentCreated:
		event, err = decodeInto[EnrollmentCreatedFact](env.Payload)
	case FactReviewCreated:
		event, err = decodeInto[ReviewCreatedFact](env.Payload)
	case FactCertificateIssued:
		event, err = decodeInto[CertificateIssuedFact](env.Payload)
	case EventCourseCompleted:
		event, err = decodeInto[CourseCompletedEvent](env.Payload)
	case EventQuizScored:
		event, err = decodeInto[QuizScoredEvent](env.Payload)
	case EventPointsAwarded:
		event, err = decodeInto[PointsAwardedEvent](env.Payload)
	case EventBadgeEarned:
		event, err = decodeInto[BadgeEarnedEvent](env.Payload)
	case EventStreakUpdated:
		event, err = decodeInto[StreakUpdatedEvent](env.Payload)
	case EventAchievementRecorded:
		event, err = decodeInto[AchievementRecordedEvent](env.Payload)
	default:
		return nil, NewDomainError("events", "Decode", ErrInvalidInput, fmt.Sprintf("unknown event type %q", env.Type))
	}
	if err != nil {
		return nil, WrapError("events", "Decode", ErrInvalidInput, "malformed event payload", err)
	}
	if event.EventType() != env.Type {
		return nil, NewDomainError("events", "Decode", ErrInvalidInput, "payload type does not match envelope")
	}
	return event, nil
}

func decodeInto[T Event](raw json.RawMessage) (Event, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func baseOf(event Event) (BaseEvent, bool) {
	type based interface{ base() BaseEvent }
	if b, ok := event.(based); ok {
		return b.base(), true
	}
	return BaseEvent{}, false
}

func (e BaseEvent) base() BaseEvent { return e }

// ═══════════════════════════════════════════════════════════════════════════
// Bus Contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(ctx context.Context, event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(ctx context.Context, event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
