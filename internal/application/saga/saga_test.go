package saga_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/learning-engine/internal/application/saga"
	"github.com/alem-hub/learning-engine/internal/application/uow"
	"github.com/alem-hub/learning-engine/internal/domain/achievement"
	"github.com/alem-hub/learning-engine/internal/domain/badge"
	"github.com/alem-hub/learning-engine/internal/domain/content"
	"github.com/alem-hub/learning-engine/internal/domain/points"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
	"github.com/alem-hub/learning-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/learning-engine/pkg/logger"
	"github.com/alem-hub/learning-engine/pkg/timeutil"
)

type recorder struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *recorder) Publish(_ context.Context, e shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) count(t shared.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.EventType() == t {
			n++
		}
	}
	return n
}

type fixture struct {
	store   *memory.Store
	clock   *timeutil.FixedClock
	events  *recorder
	runner  *saga.Runner
	awards  *saga.AwardFlow
	lessons *saga.LessonFlow
}

var day1 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, unit func(*memory.Store) uow.UnitOfWork) *fixture {
	t.Helper()
	store := memory.New()
	f := &fixture{store: store, clock: timeutil.NewFixedClock(day1), events: &recorder{}}
	var u uow.UnitOfWork = store
	if unit != nil {
		u = unit(store)
	}
	f.runner = saga.NewRunner(saga.RunnerConfig{
		UnitOfWork: u,
		Publisher:  f.events,
		Clock:      f.clock,
		Logger:     logger.Discard(),
	})
	f.awards = saga.NewAwardFlow(f.runner)
	f.lessons = saga.NewLessonFlow(f.runner, f.awards, store.Catalog())
	return f
}

func (f *fixture) seedCourse(id shared.CourseID, lessons int) {
	f.store.AddCourse(content.Course{ID: id, Title: "Course " + string(id)})
	for i := 1; i <= lessons; i++ {
		f.store.AddLesson(content.Lesson{
			ID:       shared.LessonID(fmt.Sprintf("%s-l%d", id, i)),
			CourseID: id,
			Title:    fmt.Sprintf("Lesson %d", i),
			Order:    i,
		})
	}
}

func (f *fixture) award(t *testing.T, a points.Award) *saga.AwardResult {
	t.Helper()
	var res *saga.AwardResult
	err := f.runner.Run(context.Background(), a.UserID, func(ctx context.Context, repos uow.Repositories, out *saga.Outbox) error {
		var err error
		res, err = f.awards.Award(ctx, repos, out, saga.AwardInput{Award: a})
		return err
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) complete(t *testing.T, user shared.UserID, course shared.CourseID, lesson shared.LessonID, at time.Time) *saga.LessonCompletionResult {
	t.Helper()
	ctx := context.Background()
	in, err := f.lessons.Resolve(ctx, user, course, lesson, at)
	require.NoError(t, err)
	res, err := f.lessons.Execute(ctx, in)
	require.NoError(t, err)
	return res
}

func (f *fixture) balance(t *testing.T, user shared.UserID) int {
	t.Helper()
	b, err := f.store.Reader().Points.Balance(context.Background(), user)
	require.NoError(t, err)
	return b
}

// ═══════════════════════════════════════════════════════════════════════════
// Award flow
// ═══════════════════════════════════════════════════════════════════════════

func TestAward_DuplicateIsSilentNoOp(t *testing.T) {
	f := newFixture(t, nil)
	f.store.AddBadge(badge.Badge{ID: "b1", Name: "Critic", PointsRequired: 15})

	first := f.award(t, points.ReviewAward("u1", "c1", "Go"))
	assert.True(t, first.Inserted)
	assert.Equal(t, 15, first.Balance)
	require.Len(t, first.Badges, 1)

	second := f.award(t, points.ReviewAward("u1", "c1", "Go"))
	assert.False(t, second.Inserted)
	assert.Empty(t, second.Badges)

	assert.Equal(t, 15, f.balance(t, "u1"))
	assert.Equal(t, 1, f.events.count(shared.EventPointsAwarded))
	assert.Equal(t, 1, f.events.count(shared.EventBadgeEarned))
}

func TestAward_BadgeAtExactThreshold(t *testing.T) {
	f := newFixture(t, nil)
	f.store.AddBadge(badge.Badge{ID: "b1", Name: "Beginner", PointsRequired: 20})

	res := f.award(t, points.LessonCompletionAward("u1", "c1", "l1", "One"))
	assert.Empty(t, res.Badges, "10 < 20")

	res = f.award(t, points.LessonCompletionAward("u1", "c1", "l2", "Two"))
	require.Len(t, res.Badges, 1)
	assert.Equal(t, shared.BadgeID("b1"), res.Badges[0].ID)

	res = f.award(t, points.LessonCompletionAward("u1", "c1", "l3", "Three"))
	assert.Empty(t, res.Badges, "owned badges are not rescanned")

	list, err := f.store.Reader().Achievements.ListByUser(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, achievement.TypeBadge, list[0].Type)
}

func TestAward_BadgeFailuresKeepTheAward(t *testing.T) {
	tests := []struct {
		name  string
		fail  func(*memory.Store, error)
		cause error
	}{
		{name: "grant fails", fail: (*memory.Store).FailBadgeGrants, cause: errors.New("unique violation")},
		{name: "catalog read fails", fail: (*memory.Store).FailBadgeReads, cause: errors.New("relation badges does not exist")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.store.AddBadge(badge.Badge{ID: "b1", Name: "Beginner", PointsRequired: 5})
			tt.fail(f.store, tt.cause)

			res := f.award(t, points.EnrollmentAward("u1", "c1", "Go"))
			assert.True(t, res.Inserted)
			assert.Empty(t, res.Badges)
			assert.Equal(t, 5, f.balance(t, "u1"))
			assert.Equal(t, 1, f.events.count(shared.EventPointsAwarded))
			assert.Zero(t, f.events.count(shared.EventBadgeEarned))
			assert.Zero(t, f.events.count(shared.EventAchievementRecorded))

			tt.fail(f.store, nil)
			res = f.award(t, points.ReviewAward("u1", "c1", "Go"))
			assert.Len(t, res.Badges, 1, "the next award picks the badge up")
		})
	}
}

func TestAward_MultiCriteriaBadge(t *testing.T) {
	f := newFixture(t, nil)
	f.seedCourse("c1", 2)
	f.store.AddBadge(badge.Badge{ID: "grad", Name: "Graduate", CoursesRequired: 1})

	f.complete(t, "u1", "c1", "c1-l1", day1)
	owned, err := f.store.Reader().Badges.OwnedIDs(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, owned)

	f.complete(t, "u1", "c1", "c1-l2", day1)
	owned, err = f.store.Reader().Badges.OwnedIDs(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, owned["grad"])
}

func TestAward_ConcurrentDuplicatesGrantBadgeOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.store.AddBadge(badge.Badge{ID: "b1", Name: "Critic", PointsRequired: points.ReviewPoints})

	var g errgroup.Group
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			return f.runner.Run(context.Background(), "u1", func(ctx context.Context, repos uow.Repositories, out *saga.Outbox) error {
				_, err := f.awards.Award(ctx, repos, out, saga.AwardInput{Award: points.ReviewAward("u1", "c1", "Go")})
				return err
			})
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, points.ReviewPoints, f.balance(t, "u1"))
	txs, err := f.store.Reader().Points.ListByUser(context.Background(), "u1", 100)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
	assert.Equal(t, 1, f.events.count(shared.EventBadgeEarned))

	owned, err := f.store.Reader().Badges.ListByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, owned, 1)
}

func TestAward_ConcurrentDistinctAwardsCrossThresholdOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.store.AddBadge(badge.Badge{ID: "b1", Name: "Busy", PointsRequired: 250})

	var g errgroup.Group
	for i := 0; i < 50; i++ {
		lesson := shared.LessonID(fmt.Sprintf("l%d", i))
		g.Go(func() error {
			return f.runner.Run(context.Background(), "u1", func(ctx context.Context, repos uow.Repositories, out *saga.Outbox) error {
				_, err := f.awards.Award(ctx, repos, out, saga.AwardInput{
					Award: points.LessonCompletionAward("u1", "c1", lesson, "L"),
				})
				return err
			})
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 500, f.balance(t, "u1"))
	assert.Equal(t, 1, f.events.count(shared.EventBadgeEarned))
}

func TestAward_RetriesTransientConflicts(t *testing.T) {
	f := newFixture(t, func(s *memory.Store) uow.UnitOfWork {
		return uow.NewRetrying(s, 3, logger.Discard())
	})

	f.store.InjectConflicts(2)
	res := f.award(t, points.EnrollmentAward("u1", "c1", "Go"))
	assert.True(t, res.Inserted)

	f.store.InjectConflicts(5)
	err := f.runner.Run(context.Background(), "u1", func(ctx context.Context, repos uow.Repositories, out *saga.Outbox) error {
		_, err := f.awards.Award(ctx, repos, out, saga.AwardInput{Award: points.ReviewAward("u1", "c1", "Go")})
		return err
	})
	require.Error(t, err)
	assert.True(t, shared.IsRetryable(err), "exhaustion stays transient")
	assert.Equal(t, points.EnrollmentPoints, f.balance(t, "u1"))
}

func TestAward_RejectsZeroPoints(t *testing.T) {
	f := newFixture(t, nil)
	err := f.runner.Run(context.Background(), "u1", func(ctx context.Context, repos uow.Repositories, out *saga.Outbox) error {
		_, err := f.awards.Award(ctx, repos, out, saga.AwardInput{
			Award: points.Award{UserID: "u1", Type: points.TypeReferral},
		})
		return err
	})
	var flowErr *saga.AwardFlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, saga.StepInsertTransaction, flowErr.Step)
	assert.ErrorIs(t, err, shared.ErrZeroPoints)
}

// ═══════════════════════════════════════════════════════════════════════════
// Lesson flow
// ═══════════════════════════════════════════════════════════════════════════

func TestLessonFlow_FiveLessonsOverFiveDays(t *testing.T) {
	f := newFixture(t, nil)
	f.seedCourse("go", 5)
	ctx := context.Background()

	var completions int
	for i := 1; i <= 5; i++ {
		at := day1.AddDate(0, 0, i-1)
		f.clock.Set(at)
		res := f.complete(t, "u1", "go", shared.LessonID(fmt.Sprintf("go-l%d", i)), at)
		assert.Equal(t, i, res.Streak.Current)
		if res.CourseCompleted {
			completions++
		}
	}
	assert.Equal(t, 1, completions)

	// A replay after completion changes nothing.
	res := f.complete(t, "u1", "go", "go-l5", day1.AddDate(0, 0, 6))
	assert.False(t, res.CourseCompleted)
	assert.False(t, res.LessonAward.Inserted)

	reader := f.store.Reader()
	txs, err := reader.Points.ListByUser(ctx, "u1", 100)
	require.NoError(t, err)
	byType := map[points.TransactionType]int{}
	for _, tx := range txs {
		byType[tx.Type] += tx.Points
	}
	assert.Equal(t, map[points.TransactionType]int{
		points.TypeLessonCompletion: 50,
		points.TypeStreakBonus:      10,
		points.TypeCourseCompletion: 100,
	}, byType)
	assert.Len(t, txs, 7)
	assert.Equal(t, 160, f.balance(t, "u1"))

	enr, err := reader.Enrollments.GetByUserCourse(ctx, "u1", "go")
	require.NoError(t, err)
	assert.True(t, enr.IsCompleted)
	assert.Equal(t, 100.0, enr.ProgressPercentage)
	require.NotNil(t, enr.CompletedAt)
	assert.True(t, enr.CompletedAt.Equal(day1.AddDate(0, 0, 4)))

	st, err := reader.Streaks.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, st.Current)
	assert.Equal(t, 5, st.Longest)

	achievements, err := reader.Achievements.ListByUser(ctx, "u1", 10)
	require.NoError(t, err)
	var types []achievement.Type
	for _, a := range achievements {
		types = append(types, a.Type)
	}
	assert.ElementsMatch(t, []achievement.Type{achievement.TypeStreak, achievement.TypeCourseCompletion}, types)
	assert.Equal(t, 1, f.events.count(shared.EventCourseCompleted))
}

func TestLessonFlow_StreakGapResetsAndDuplicateDoesNotAdvance(t *testing.T) {
	f := newFixture(t, nil)
	f.seedCourse("go", 5)

	res := f.complete(t, "u1", "go", "go-l1", day1)
	assert.Equal(t, 1, res.Streak.Current)

	res = f.complete(t, "u1", "go", "go-l2", day1.AddDate(0, 0, 1))
	assert.Equal(t, 2, res.Streak.Current)

	// Re-completing a lesson the next day is a duplicate and leaves the streak.
	res = f.complete(t, "u1", "go", "go-l2", day1.AddDate(0, 0, 2))
	assert.Nil(t, res.Streak)

	res = f.complete(t, "u1", "go", "go-l3", day1.AddDate(0, 0, 4))
	assert.Equal(t, 1, res.Streak.Current)
	assert.Equal(t, 2, res.Streak.Longest)
}

func TestLessonFlow_StaleEventLeavesStreak(t *testing.T) {
	f := newFixture(t, nil)
	f.seedCourse("go", 3)

	f.complete(t, "u1", "go", "go-l1", day1.AddDate(0, 0, 3))
	res := f.complete(t, "u1", "go", "go-l2", day1)
	assert.True(t, res.LessonAward.Inserted)
	assert.Equal(t, 1, res.Streak.Current)
	assert.Equal(t, "2024-03-04", res.Streak.LastActivityDate.String())
}

func TestLessonFlow_CreatesMissingEnrollment(t *testing.T) {
	f := newFixture(t, nil)
	f.seedCourse("go", 4)

	res := f.complete(t, "u1", "go", "go-l1", day1)
	require.NotNil(t, res.Enrollment)
	assert.Equal(t, 25.0, res.Enrollment.ProgressPercentage)
}

func TestLessonFlow_Resolve(t *testing.T) {
	f := newFixture(t, nil)
	f.seedCourse("go", 1)
	f.seedCourse("py", 1)
	ctx := context.Background()

	in, err := f.lessons.Resolve(ctx, "u1", "", "go-l1", day1)
	require.NoError(t, err)
	assert.Equal(t, shared.CourseID("go"), in.Course.ID)
	assert.Equal(t, 1, in.TotalLessons)

	_, err = f.lessons.Resolve(ctx, "u1", "py", "go-l1", day1)
	assert.True(t, shared.IsNotFound(err))
	assert.ErrorIs(t, err, shared.ErrLessonNotInCourse)

	_, err = f.lessons.Resolve(ctx, "u1", "go", "gone", day1)
	assert.ErrorIs(t, err, shared.ErrLessonNotFound)
}

func TestLessonFlow_ConcurrentCompletionsKeepProgressConsistent(t *testing.T) {
	f := newFixture(t, nil)
	f.seedCourse("go", 50)
	f.store.AddBadge(badge.Badge{ID: "b1", Name: "Marathon", PointsRequired: 300})
	ctx := context.Background()

	var g errgroup.Group
	for i := 1; i <= 50; i++ {
		lesson := shared.LessonID(fmt.Sprintf("go-l%d", i))
		g.Go(func() error {
			in, err := f.lessons.Resolve(ctx, "u1", "go", lesson, day1)
			if err != nil {
				return err
			}
			_, err = f.lessons.Execute(ctx, in)
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 50*points.LessonCompletionPoints+points.CourseCompletionPoints, f.balance(t, "u1"))
	assert.Equal(t, 1, f.events.count(shared.EventCourseCompleted))
	assert.Equal(t, 1, f.events.count(shared.EventBadgeEarned))

	enr, err := f.store.Reader().Enrollments.GetByUserCourse(ctx, "u1", "go")
	require.NoError(t, err)
	assert.True(t, enr.IsCompleted)
}
