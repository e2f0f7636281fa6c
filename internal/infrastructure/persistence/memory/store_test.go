package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learning-engine/internal/application/uow"
	"github.com/alem-hub/learning-engine/internal/domain/badge"
	"github.com/alem-hub/learning-engine/internal/domain/enrollment"
	"github.com/alem-hub/learning-engine/internal/domain/points"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
	"github.com/alem-hub/learning-engine/internal/domain/streak"
)

var testNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func lessonTx(id string, user shared.UserID, lesson shared.LessonID) *points.Transaction {
	tx, err := points.NewTransaction(id, points.LessonCompletionAward(user, "c1", lesson, "Intro"), testNow)
	if err != nil {
		panic(err)
	}
	return tx
}

func TestLedger_InsertIsIdempotentPerUserAndKey(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.WithinUser(ctx, "u1", func(ctx context.Context, r uow.Repositories) error {
		ok, err := r.Points.Insert(ctx, lessonTx("t1", "u1", "l1"))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = r.Points.Insert(ctx, lessonTx("t2", "u1", "l1"))
		require.NoError(t, err)
		assert.False(t, ok, "same key for the same user must be skipped")
		return nil
	})
	require.NoError(t, err)

	err = s.WithinUser(ctx, "u2", func(ctx context.Context, r uow.Repositories) error {
		ok, err := r.Points.Insert(ctx, lessonTx("t3", "u2", "l1"))
		require.NoError(t, err)
		assert.True(t, ok, "keys are scoped to the user")
		return nil
	})
	require.NoError(t, err)

	balance, err := s.Reader().Points.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, points.LessonCompletionPoints, balance)
}

func TestLedger_RepeatableRowsHaveNoKey(t *testing.T) {
	s := New()
	ctx := context.Background()

	penalty := points.Award{UserID: "u1", Type: points.TypePenalty, Points: -3, Description: "spam"}
	err := s.WithinUser(ctx, "u1", func(ctx context.Context, r uow.Repositories) error {
		for _, id := range []string{"p1", "p2"} {
			tx, err := points.NewTransaction(id, penalty, testNow)
			require.NoError(t, err)
			ok, err := r.Points.Insert(ctx, tx)
			require.NoError(t, err)
			assert.True(t, ok)
		}
		return nil
	})
	require.NoError(t, err)

	balance, err := s.Reader().Points.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, -6, balance)
}

func TestWithinUser_RollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinUser(ctx, "u1", func(ctx context.Context, r uow.Repositories) error {
		_, err := r.Points.Insert(ctx, lessonTx("t1", "u1", "l1"))
		require.NoError(t, err)

		st := streak.New("u1")
		st.RecordActivity(shared.NewDate(2024, 3, 1), testNow)
		require.NoError(t, r.Streaks.Save(ctx, st))

		_, _, err = r.Enrollments.Create(ctx, enrollment.New("e1", "u1", "c1", testNow))
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	reader := s.Reader()
	balance, err := reader.Points.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, balance)

	_, err = reader.Streaks.Get(ctx, "u1")
	assert.ErrorIs(t, err, streak.ErrNotFound)

	_, err = reader.Enrollments.GetByUserCourse(ctx, "u1", "c1")
	assert.True(t, shared.IsNotFound(err))

	// The key is free again after the rollback.
	err = s.WithinUser(ctx, "u1", func(ctx context.Context, r uow.Repositories) error {
		ok, err := r.Points.Insert(ctx, lessonTx("t2", "u1", "l1"))
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestReader_SeesOpenUnitWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinUser(ctx, "u1", func(ctx context.Context, r uow.Repositories) error {
		_, err := r.Points.Insert(ctx, lessonTx("t1", "u1", "l1"))
		require.NoError(t, err)

		balance, err := s.Reader().Points.Balance(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, points.LessonCompletionPoints, balance, "reads are not isolated from open units")
		return boom
	})
	require.ErrorIs(t, err, boom)

	balance, err := s.Reader().Points.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestSavepoint_UndoesOnlyItsOwnWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.AddBadge(badge.Badge{ID: "b1", Name: "Starter"})

	err := s.WithinUser(ctx, "u1", func(ctx context.Context, r uow.Repositories) error {
		_, err := r.Points.Insert(ctx, lessonTx("t1", "u1", "l1"))
		require.NoError(t, err)

		err = r.Savepoint(ctx, func(ctx context.Context, sp uow.Repositories) error {
			ok, err := sp.Badges.Grant(ctx, &badge.UserBadge{ID: "ub1", UserID: "u1", BadgeID: "b1", EarnedAt: testNow})
			require.NoError(t, err)
			assert.True(t, ok)
			return errors.New("achievement write failed")
		})
		assert.Error(t, err)
		return nil
	})
	require.NoError(t, err)

	owned, err := s.Reader().Badges.OwnedIDs(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, owned)

	balance, err := s.Reader().Points.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, points.LessonCompletionPoints, balance)
}

func TestBadgeGrant_UniquePerUser(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.AddBadge(badge.Badge{ID: "b1", Name: "Starter"})

	err := s.WithinUser(ctx, "u1", func(ctx context.Context, r uow.Repositories) error {
		ok, err := r.Badges.Grant(ctx, &badge.UserBadge{ID: "ub1", UserID: "u1", BadgeID: "b1", EarnedAt: testNow})
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = r.Badges.Grant(ctx, &badge.UserBadge{ID: "ub2", UserID: "u1", BadgeID: "b1", EarnedAt: testNow})
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)

	list, err := s.Reader().Badges.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Starter", list[0].Badge.Name)
}

func TestInjectConflicts(t *testing.T) {
	s := New()
	s.InjectConflicts(2)
	calls := 0
	fn := func(context.Context, uow.Repositories) error { calls++; return nil }

	for i := 0; i < 2; i++ {
		err := s.WithinUser(context.Background(), "u1", fn)
		assert.True(t, shared.IsRetryable(err))
	}
	require.NoError(t, s.WithinUser(context.Background(), "u1", fn))
	assert.Equal(t, 1, calls)
}

func TestLedger_ListAndBalances(t *testing.T) {
	s := New()
	ctx := context.Background()

	insert := func(user shared.UserID, id string, lesson shared.LessonID) {
		err := s.WithinUser(ctx, user, func(ctx context.Context, r uow.Repositories) error {
			_, err := r.Points.Insert(ctx, lessonTx(id, user, lesson))
			return err
		})
		require.NoError(t, err)
	}
	insert("u1", "t1", "l1")
	insert("u1", "t2", "l2")
	insert("u2", "t3", "l1")

	txs, err := s.Reader().Points.ListByUser(ctx, "u1", 1)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "t2", txs[0].ID, "newest first")

	balances, err := s.Reader().Points.Balances(ctx)
	require.NoError(t, err)
	assert.Equal(t, []points.UserBalance{
		{UserID: "u1", Balance: 20},
		{UserID: "u2", Balance: 10},
	}, balances)
}

func TestEnrollmentCounters(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.WithinUser(ctx, "u1", func(ctx context.Context, r uow.Repositories) error {
		e, created, err := r.Enrollments.Create(ctx, enrollment.New("e1", "u1", "c1", testNow))
		require.NoError(t, err)
		require.True(t, created)

		again, created, err := r.Enrollments.Create(ctx, enrollment.New("e2", "u1", "c1", testNow))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, e.ID, again.ID)

		for _, l := range []shared.LessonID{"l1", "l2"} {
			lp := enrollment.NewLessonProgress(e.ID, l, testNow)
			lp.MarkComplete(testNow)
			require.NoError(t, r.Enrollments.SaveLessonProgress(ctx, lp))
		}
		e.Recompute(2, 2, testNow)
		return r.Enrollments.Update(ctx, e)
	})
	require.NoError(t, err)

	reader := s.Reader()
	n, err := reader.Enrollments.CountCompletedLessons(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = reader.Enrollments.CountCompletedLessonsByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = reader.Enrollments.CountCompletedCourses(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	lp, err := reader.Enrollments.GetLessonProgress(ctx, "e1", "l3")
	require.NoError(t, err)
	assert.Nil(t, lp)
}

func TestLoadSeed(t *testing.T) {
	const doc = `{
	  "courses": [{
	    "id": "go-101", "title": "Go 101",
	    "lessons": [{"id": "l1", "title": "Hello"}, {"id": "l2", "title": "Types"}],
	    "quizzes": [{
	      "id": "q1", "title": "Basics",
	      "questions": [{"id": "qq1", "type": "mcq", "text": "?", "points": 10,
	        "answers": [{"id": "a1", "text": "yes", "is_correct": true}]}]
	    }]
	  }],
	  "badges": [{"id": "b2", "name": "Scholar", "points_required": 500},
	             {"id": "b1", "name": "Beginner", "points_required": 50}]
	}`

	s := New()
	require.NoError(t, s.LoadSeed(strings.NewReader(doc)))
	ctx := context.Background()
	cat := s.Catalog()

	n, err := cat.CountLessons(ctx, "go-101")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	l, err := cat.GetLesson(ctx, "l2")
	require.NoError(t, err)
	assert.Equal(t, 2, l.Order)

	q, err := cat.GetQuiz(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, 70.0, q.PassingScore)
	assert.Equal(t, 3, q.MaxAttempts)
	require.Len(t, q.Questions, 1)

	badges, err := s.Reader().Badges.Catalog(ctx)
	require.NoError(t, err)
	require.Len(t, badges, 2)
	assert.Equal(t, shared.BadgeID("b1"), badges[0].ID, "catalog is ordered by threshold")

	_, err = cat.GetCourse(ctx, "missing")
	assert.ErrorIs(t, err, shared.ErrCourseNotFound)
}

func TestLoadSeed_RejectsUnknownQuestionType(t *testing.T) {
	const doc = `{"courses":[{"id":"c","quizzes":[{"id":"q","questions":[{"id":"x","type":"essay"}]}]}]}`
	err := New().LoadSeed(strings.NewReader(doc))
	assert.Error(t, err)
}
