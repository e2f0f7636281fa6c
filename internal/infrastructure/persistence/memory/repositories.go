package memory

import (
	"context"
	"sort"

	"github.com/alem-hub/learning-engine/internal/domain/achievement"
	"github.com/alem-hub/learning-engine/internal/domain/badge"
	"github.com/alem-hub/learning-engine/internal/domain/enrollment"
	"github.com/alem-hub/learning-engine/internal/domain/points"
	"github.com/alem-hub/learning-engine/internal/domain/quiz"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
	"github.com/alem-hub/learning-engine/internal/domain/streak"
)

func userKey(userID shared.UserID, key string) string {
	return string(userID) + "\x00" + key
}

func pairKey(a, b string) string {
	return a + "\x00" + b
}

// ═══════════════════════════════════════════════════════════════════════════
// Points ledger
// ═══════════════════════════════════════════════════════════════════════════

type ledgerRepo struct {
	s *Store
	u *unit
}

func (r *ledgerRepo) Insert(_ context.Context, tx *points.Transaction) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var k string
	if tx.IdempotencyKey != "" {
		k = userKey(tx.UserID, tx.IdempotencyKey)
		if _, dup := s.txKeys[k]; dup {
			return false, nil
		}
		s.txKeys[k] = struct{}{}
	}
	row := *tx
	s.transactions = append(s.transactions, &row)

	r.u.record(func() {
		if k != "" {
			delete(s.txKeys, k)
		}
		for i, t := range s.transactions {
			if t == &row {
				s.transactions = append(s.transactions[:i], s.transactions[i+1:]...)
				break
			}
		}
	})
	return true, nil
}

func (r *ledgerRepo) Balance(_ context.Context, userID shared.UserID) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	total := 0
	for _, t := range r.s.transactions {
		if t.UserID == userID {
			total += t.Points
		}
	}
	return total, nil
}

func (r *ledgerRepo) ListByUser(_ context.Context, userID shared.UserID, limit int) ([]*points.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	limit = shared.NormalizeLimit(limit)
	var out []*points.Transaction
	for i := len(r.s.transactions) - 1; i >= 0 && len(out) < limit; i-- {
		if t := r.s.transactions[i]; t.UserID == userID {
			row := *t
			out = append(out, &row)
		}
	}
	return out, nil
}

func (r *ledgerRepo) Balances(_ context.Context) ([]points.UserBalance, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	sums := make(map[shared.UserID]int)
	for _, t := range r.s.transactions {
		sums[t.UserID] += t.Points
	}
	out := make([]points.UserBalance, 0, len(sums))
	for u, b := range sums {
		out = append(out, points.UserBalance{UserID: u, Balance: b})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Balance != out[j].Balance {
			return out[i].Balance > out[j].Balance
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Streaks
// ═══════════════════════════════════════════════════════════════════════════

type streakRepo struct {
	s *Store
	u *unit
}

func (r *streakRepo) Get(_ context.Context, userID shared.UserID) (*streak.Streak, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	st, ok := r.s.streaks[userID]
	if !ok {
		return nil, streak.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (r *streakRepo) Save(_ context.Context, st *streak.Streak) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.streaks[st.UserID]
	cp := *st
	s.streaks[st.UserID] = &cp
	r.u.record(func() {
		if had {
			s.streaks[st.UserID] = prev
		} else {
			delete(s.streaks, st.UserID)
		}
	})
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Badges
// ═══════════════════════════════════════════════════════════════════════════

type badgeRepo struct {
	s *Store
	u *unit
}

func (r *badgeRepo) Catalog(_ context.Context) ([]*badge.Badge, error) {
	if err := r.s.readFault(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*badge.Badge, 0, len(r.s.badges))
	for _, b := range r.s.badges {
		cp := *b
		out = append(out, &cp)
	}
	return out, nil
}

func (r *badgeRepo) OwnedIDs(_ context.Context, userID shared.UserID) (map[shared.BadgeID]bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	owned := make(map[shared.BadgeID]bool, len(r.s.userBadges[userID]))
	for id := range r.s.userBadges[userID] {
		owned[id] = true
	}
	return owned, nil
}

func (r *badgeRepo) Grant(_ context.Context, ub *badge.UserBadge) (bool, error) {
	if err := r.s.grantFault(); err != nil {
		return false, err
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	byUser, ok := s.userBadges[ub.UserID]
	if !ok {
		byUser = make(map[shared.BadgeID]*badge.UserBadge)
		s.userBadges[ub.UserID] = byUser
	}
	if _, dup := byUser[ub.BadgeID]; dup {
		return false, nil
	}
	cp := *ub
	byUser[ub.BadgeID] = &cp
	r.u.record(func() { delete(byUser, ub.BadgeID) })
	return true, nil
}

func (r *badgeRepo) ListByUser(_ context.Context, userID shared.UserID) ([]badge.Owned, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []badge.Owned
	for _, b := range r.s.badges {
		if ub, ok := r.s.userBadges[userID][b.ID]; ok {
			cp := *b
			out = append(out, badge.Owned{Badge: &cp, EarnedAt: ub.EarnedAt})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EarnedAt.After(out[j].EarnedAt) })
	return out, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Achievements
// ═══════════════════════════════════════════════════════════════════════════

type achievementRepo struct {
	s *Store
	u *unit
}

func (r *achievementRepo) Append(_ context.Context, a *achievement.Achievement) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.achievements = append(s.achievements, &cp)
	r.u.record(func() {
		for i, x := range s.achievements {
			if x == &cp {
				s.achievements = append(s.achievements[:i], s.achievements[i+1:]...)
				break
			}
		}
	})
	return nil
}

func (r *achievementRepo) ListByUser(_ context.Context, userID shared.UserID, limit int) ([]*achievement.Achievement, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	limit = shared.NormalizeLimit(limit)
	var out []*achievement.Achievement
	for i := len(r.s.achievements) - 1; i >= 0 && len(out) < limit; i-- {
		if a := r.s.achievements[i]; a.UserID == userID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Enrollments
// ═══════════════════════════════════════════════════════════════════════════

type enrollmentRepo struct {
	s *Store
	u *unit
}

func copyEnrollment(e *enrollment.Enrollment) *enrollment.Enrollment {
	cp := *e
	if e.CompletedAt != nil {
		at := *e.CompletedAt
		cp.CompletedAt = &at
	}
	return &cp
}

func (r *enrollmentRepo) Get(_ context.Context, id shared.EnrollmentID) (*enrollment.Enrollment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	e, ok := r.s.enrollments[id]
	if !ok {
		return nil, shared.ErrEnrollmentNotFound
	}
	return copyEnrollment(e), nil
}

func (r *enrollmentRepo) GetByUserCourse(_ context.Context, userID shared.UserID, courseID shared.CourseID) (*enrollment.Enrollment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.enrollmentKeys[pairKey(string(userID), string(courseID))]
	if !ok {
		return nil, shared.ErrEnrollmentNotFound
	}
	return copyEnrollment(r.s.enrollments[id]), nil
}

func (r *enrollmentRepo) Create(_ context.Context, e *enrollment.Enrollment) (*enrollment.Enrollment, bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey(string(e.UserID), string(e.CourseID))
	if id, ok := s.enrollmentKeys[k]; ok {
		return copyEnrollment(s.enrollments[id]), false, nil
	}
	s.enrollments[e.ID] = copyEnrollment(e)
	s.enrollmentKeys[k] = e.ID
	r.u.record(func() {
		delete(s.enrollments, e.ID)
		delete(s.enrollmentKeys, k)
	})
	return copyEnrollment(e), true, nil
}

func (r *enrollmentRepo) Update(_ context.Context, e *enrollment.Enrollment) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.enrollments[e.ID]
	if !ok {
		return shared.ErrEnrollmentNotFound
	}
	s.enrollments[e.ID] = copyEnrollment(e)
	r.u.record(func() { s.enrollments[e.ID] = prev })
	return nil
}

func (r *enrollmentRepo) GetLessonProgress(_ context.Context, enrollmentID shared.EnrollmentID, lessonID shared.LessonID) (*enrollment.LessonProgress, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.lessonProgress[pairKey(string(enrollmentID), string(lessonID))]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *enrollmentRepo) SaveLessonProgress(_ context.Context, p *enrollment.LessonProgress) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey(string(p.EnrollmentID), string(p.LessonID))
	prev, had := s.lessonProgress[k]
	cp := *p
	s.lessonProgress[k] = &cp
	r.u.record(func() {
		if had {
			s.lessonProgress[k] = prev
		} else {
			delete(s.lessonProgress, k)
		}
	})
	return nil
}

func (r *enrollmentRepo) CountCompletedLessons(_ context.Context, enrollmentID shared.EnrollmentID) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for _, p := range r.s.lessonProgress {
		if p.EnrollmentID == enrollmentID && p.IsCompleted {
			n++
		}
	}
	return n, nil
}

func (r *enrollmentRepo) CountCompletedLessonsByUser(_ context.Context, userID shared.UserID) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for _, p := range r.s.lessonProgress {
		if e, ok := r.s.enrollments[p.EnrollmentID]; ok && e.UserID == userID && p.IsCompleted {
			n++
		}
	}
	return n, nil
}

func (r *enrollmentRepo) CountCompletedCourses(_ context.Context, userID shared.UserID) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for _, e := range r.s.enrollments {
		if e.UserID == userID && e.IsCompleted {
			n++
		}
	}
	return n, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Quiz attempts
// ═══════════════════════════════════════════════════════════════════════════

type attemptRepo struct {
	s *Store
	u *unit
}

func (r *attemptRepo) Get(_ context.Context, id shared.AttemptID) (*quiz.Attempt, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.attempts[id]
	if !ok {
		return nil, shared.ErrAttemptNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *attemptRepo) CountByUser(_ context.Context, userID shared.UserID, quizID shared.QuizID) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for _, a := range r.s.attempts {
		if a.UserID == userID && a.QuizID == quizID {
			n++
		}
	}
	return n, nil
}

func (r *attemptRepo) Insert(_ context.Context, a *quiz.Attempt) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.attempts[a.ID]; dup {
		return false, nil
	}
	cp := *a
	s.attempts[a.ID] = &cp
	r.u.record(func() { delete(s.attempts, a.ID) })
	return true, nil
}

func (r *attemptRepo) CountPassedQuizzes(_ context.Context, userID shared.UserID) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	passed := make(map[shared.QuizID]struct{})
	for _, a := range r.s.attempts {
		if a.UserID == userID && a.Passed {
			passed[a.QuizID] = struct{}{}
		}
	}
	return len(passed), nil
}
