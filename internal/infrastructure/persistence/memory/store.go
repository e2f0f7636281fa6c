// Package memory is an in-process storage adapter. It backs the engine in
// tests and when ENGINE_STORAGE=memory, which config rejects in production.
//
// Units of work are serialized per user with a mutex and made atomic with an
// undo journal: every write in a unit records how to revert itself, and a
// failing unit (or savepoint) replays the journal backwards.
//
// Writes land in the shared maps as they happen, so isolation is read
// uncommitted: Reader, and units for other users, can see the writes of an
// open unit, including ones it later rolls back. Units for the same user
// never overlap.
package memory

import (
	"context"
	"sync"

	"github.com/alem-hub/learning-engine/internal/application/uow"
	"github.com/alem-hub/learning-engine/internal/domain/achievement"
	"github.com/alem-hub/learning-engine/internal/domain/badge"
	"github.com/alem-hub/learning-engine/internal/domain/content"
	"github.com/alem-hub/learning-engine/internal/domain/enrollment"
	"github.com/alem-hub/learning-engine/internal/domain/points"
	"github.com/alem-hub/learning-engine/internal/domain/quiz"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
	"github.com/alem-hub/learning-engine/internal/domain/streak"
)

// Store holds all engine state in maps.
type Store struct {
	mu sync.RWMutex

	transactions []*points.Transaction
	txKeys       map[string]struct{}

	streaks map[shared.UserID]*streak.Streak

	badges     []*badge.Badge
	userBadges map[shared.UserID]map[shared.BadgeID]*badge.UserBadge

	achievements []*achievement.Achievement

	enrollments    map[shared.EnrollmentID]*enrollment.Enrollment
	enrollmentKeys map[string]shared.EnrollmentID
	lessonProgress map[string]*enrollment.LessonProgress

	attempts map[shared.AttemptID]*quiz.Attempt

	courses map[shared.CourseID]*content.Course
	lessons map[shared.LessonID]*content.Lesson
	quizzes map[shared.QuizID]*quiz.Quiz

	locksMu   sync.Mutex
	userLocks map[shared.UserID]*sync.Mutex

	faultsMu      sync.Mutex
	conflicts     int
	badgeGrantErr error
	badgeReadErr  error
}

// New creates an empty store.
func New() *Store {
	return &Store{
		txKeys:         make(map[string]struct{}),
		streaks:        make(map[shared.UserID]*streak.Streak),
		userBadges:     make(map[shared.UserID]map[shared.BadgeID]*badge.UserBadge),
		enrollments:    make(map[shared.EnrollmentID]*enrollment.Enrollment),
		enrollmentKeys: make(map[string]shared.EnrollmentID),
		lessonProgress: make(map[string]*enrollment.LessonProgress),
		attempts:       make(map[shared.AttemptID]*quiz.Attempt),
		courses:        make(map[shared.CourseID]*content.Course),
		lessons:        make(map[shared.LessonID]*content.Lesson),
		quizzes:        make(map[shared.QuizID]*quiz.Quiz),
		userLocks:      make(map[shared.UserID]*sync.Mutex),
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Unit of work
// ═══════════════════════════════════════════════════════════════════════════

// unit is the undo journal of one open unit of work.
type unit struct {
	undo []func()
}

func (u *unit) record(fn func()) {
	if u != nil {
		u.undo = append(u.undo, fn)
	}
}

func (u *unit) mark() int {
	if u == nil {
		return 0
	}
	return len(u.undo)
}

// rollbackTo reverts writes recorded after mark. Caller holds s.mu.
func (u *unit) rollbackTo(mark int) {
	if u == nil {
		return
	}
	for i := len(u.undo) - 1; i >= mark; i-- {
		u.undo[i]()
	}
	u.undo = u.undo[:mark]
}

func (s *Store) userLock(userID shared.UserID) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.userLocks[userID] = l
	}
	return l
}

// WithinUser implements uow.UnitOfWork.
func (s *Store) WithinUser(ctx context.Context, userID shared.UserID, fn func(ctx context.Context, repos uow.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.takeConflict() {
		return shared.ErrTransientStorage
	}

	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	u := &unit{}
	if err := fn(ctx, s.repositories(u)); err != nil {
		s.mu.Lock()
		u.rollbackTo(0)
		s.mu.Unlock()
		return err
	}
	return nil
}

// Reader implements uow.UnitOfWork. It does not wait for open units, so it
// can observe their uncommitted writes.
func (s *Store) Reader() uow.Repositories {
	return s.repositories(nil)
}

func (s *Store) repositories(u *unit) uow.Repositories {
	repos := uow.Repositories{
		Points:       &ledgerRepo{s: s, u: u},
		Streaks:      &streakRepo{s: s, u: u},
		Badges:       &badgeRepo{s: s, u: u},
		Achievements: &achievementRepo{s: s, u: u},
		Enrollments:  &enrollmentRepo{s: s, u: u},
		Attempts:     &attemptRepo{s: s, u: u},
	}
	repos.Savepoint = func(ctx context.Context, fn func(ctx context.Context, repos uow.Repositories) error) error {
		m := u.mark()
		if err := fn(ctx, repos); err != nil {
			s.mu.Lock()
			u.rollbackTo(m)
			s.mu.Unlock()
			return err
		}
		return nil
	}
	return repos
}

// ═══════════════════════════════════════════════════════════════════════════
// Fault injection (tests)
// ═══════════════════════════════════════════════════════════════════════════

// InjectConflicts makes the next n units fail with a transient conflict
// before running.
func (s *Store) InjectConflicts(n int) {
	s.faultsMu.Lock()
	s.conflicts = n
	s.faultsMu.Unlock()
}

// FailBadgeGrants makes every badge grant fail with err (nil clears it).
func (s *Store) FailBadgeGrants(err error) {
	s.faultsMu.Lock()
	s.badgeGrantErr = err
	s.faultsMu.Unlock()
}

// FailBadgeReads makes every badge catalog read fail with err (nil clears
// it).
func (s *Store) FailBadgeReads(err error) {
	s.faultsMu.Lock()
	s.badgeReadErr = err
	s.faultsMu.Unlock()
}

func (s *Store) takeConflict() bool {
	s.faultsMu.Lock()
	defer s.faultsMu.Unlock()
	if s.conflicts > 0 {
		s.conflicts--
		return true
	}
	return false
}

func (s *Store) grantFault() error {
	s.faultsMu.Lock()
	defer s.faultsMu.Unlock()
	return s.badgeGrantErr
}

func (s *Store) readFault() error {
	s.faultsMu.Lock()
	defer s.faultsMu.Unlock()
	return s.badgeReadErr
}

// Ping reports readiness; the memory store is always ready.
func (s *Store) Ping(context.Context) error {
	return nil
}
