package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/learning-engine/internal/application/uow"
	"github.com/alem-hub/learning-engine/internal/domain/content"
	"github.com/alem-hub/learning-engine/internal/domain/enrollment"
	"github.com/alem-hub/learning-engine/internal/domain/points"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
	"github.com/alem-hub/learning-engine/internal/domain/streak"
)

// ══════════════════════════════════════════════════════════════════════════════
// LESSON COMPLETION FLOW
// Mark lesson complete → lesson award → (if new) streak update and bonus →
// progress recompute → (on first 100%) course completion award.
// ══════════════════════════════════════════════════════════════════════════════

// LessonCompletion is the input of the flow, with content already resolved.
type LessonCompletion struct {
	UserID       shared.UserID
	Course       *content.Course
	Lesson       *content.Lesson
	TotalLessons int
	// At is when the lesson was completed; it decides the streak day.
	At time.Time
}

// LessonCompletionResult describes what the flow changed.
type LessonCompletionResult struct {
	Enrollment      *enrollment.Enrollment
	LessonAward     *AwardResult
	Streak          *streak.Streak
	Transition      streak.Transition
	CourseCompleted bool
}

// LessonFlow applies lesson completions.
type LessonFlow struct {
	runner  *Runner
	awards  *AwardFlow
	catalog content.Catalog
	logger  *slog.Logger
}

// NewLessonFlow creates a LessonFlow.
func NewLessonFlow(runner *Runner, awards *AwardFlow, catalog content.Catalog) *LessonFlow {
	return &LessonFlow{
		runner:  runner,
		awards:  awards,
		catalog: catalog,
		logger:  runner.logger.With("saga", "lesson_flow"),
	}
}

// Resolve loads the content a completion refers to. The returned error wraps
// shared.ErrNotFound when the course or lesson no longer exists, or when the
// lesson belongs to another course.
func (f *LessonFlow) Resolve(ctx context.Context, userID shared.UserID, courseID shared.CourseID, lessonID shared.LessonID, at time.Time) (LessonCompletion, error) {
	lesson, err := f.catalog.GetLesson(ctx, lessonID)
	if err != nil {
		return LessonCompletion{}, err
	}
	if courseID == "" {
		courseID = lesson.CourseID
	}
	if lesson.CourseID != courseID {
		return LessonCompletion{}, shared.WrapError("lesson_flow", "Resolve", shared.ErrNotFound,
			fmt.Sprintf("lesson %s is not part of course %s", lessonID, courseID), shared.ErrLessonNotInCourse)
	}
	course, err := f.catalog.GetCourse(ctx, courseID)
	if err != nil {
		return LessonCompletion{}, err
	}
	total, err := f.catalog.CountLessons(ctx, courseID)
	if err != nil {
		return LessonCompletion{}, err
	}
	return LessonCompletion{
		UserID:       userID,
		Course:       course,
		Lesson:       lesson,
		TotalLessons: total,
		At:           at,
	}, nil
}

// Execute runs the whole flow in its own unit of work. A missing enrollment
// is created, so callers that require one must check before calling.
func (f *LessonFlow) Execute(ctx context.Context, in LessonCompletion) (*LessonCompletionResult, error) {
	var result *LessonCompletionResult
	err := f.runner.Run(ctx, in.UserID, func(ctx context.Context, repos uow.Repositories, out *Outbox) error {
		var err error
		result, err = f.Complete(ctx, repos, out, in)
		return err
	})
	return result, err
}

// Complete runs the flow inside an open unit of work.
func (f *LessonFlow) Complete(ctx context.Context, repos uow.Repositories, out *Outbox, in LessonCompletion) (*LessonCompletionResult, error) {
	if in.At.IsZero() {
		in.At = f.runner.Now()
	}
	log := f.logger.With("user_id", in.UserID.String(), "lesson_id", in.Lesson.ID.String())

	enr, err := f.ensureEnrollment(ctx, repos, in)
	if err != nil {
		return nil, err
	}

	if err := f.markLessonComplete(ctx, repos, enr, in); err != nil {
		return nil, err
	}

	result := &LessonCompletionResult{Enrollment: enr}

	result.LessonAward, err = f.awards.Award(ctx, repos, out, AwardInput{
		Award: points.LessonCompletionAward(in.UserID, in.Course.ID, in.Lesson.ID, in.Lesson.Title),
		At:    in.At,
	})
	if err != nil {
		return nil, err
	}

	// The streak only moves on the first completion of a lesson.
	if result.LessonAward.Inserted {
		result.Streak, result.Transition, err = f.advanceStreak(ctx, repos, out, in)
		if err != nil {
			return nil, err
		}
	} else {
		log.Debug("lesson already rewarded, streak untouched")
	}

	result.CourseCompleted, err = f.recomputeProgress(ctx, repos, out, enr, in)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (f *LessonFlow) ensureEnrollment(ctx context.Context, repos uow.Repositories, in LessonCompletion) (*enrollment.Enrollment, error) {
	enr, err := repos.Enrollments.GetByUserCourse(ctx, in.UserID, in.Course.ID)
	if err == nil {
		return enr, nil
	}
	if !shared.IsNotFound(err) {
		return nil, err
	}
	// The CRUD layer only lets enrolled students complete lessons; an unseen
	// enrollment means its EnrollmentCreated fact was never delivered here.
	enr, created, err := repos.Enrollments.Create(ctx, enrollment.New(shared.EnrollmentID(f.runner.NewID()), in.UserID, in.Course.ID, in.At))
	if err != nil {
		return nil, err
	}
	if created {
		f.logger.Info("enrollment created from lesson completion",
			"user_id", in.UserID.String(),
			"course_id", in.Course.ID.String(),
		)
	}
	return enr, nil
}

func (f *LessonFlow) markLessonComplete(ctx context.Context, repos uow.Repositories, enr *enrollment.Enrollment, in LessonCompletion) error {
	lp, err := repos.Enrollments.GetLessonProgress(ctx, enr.ID, in.Lesson.ID)
	if err != nil {
		return err
	}
	if lp == nil {
		lp = enrollment.NewLessonProgress(enr.ID, in.Lesson.ID, in.At)
	} else if lp.IsCompleted {
		return nil
	}
	lp.MarkComplete(in.At)
	lp.Touch(0, in.At)
	return repos.Enrollments.SaveLessonProgress(ctx, lp)
}

func (f *LessonFlow) advanceStreak(ctx context.Context, repos uow.Repositories, out *Outbox, in LessonCompletion) (*streak.Streak, streak.Transition, error) {
	s, err := repos.Streaks.Get(ctx, in.UserID)
	if errors.Is(err, shared.ErrNotFound) {
		s = streak.New(in.UserID)
	} else if err != nil {
		return nil, "", err
	}

	day := f.runner.Day(in.At)
	tr := s.RecordActivity(day, in.At)
	if tr == streak.Stale {
		f.logger.Debug("out-of-order activity ignored by streak",
			"user_id", in.UserID.String(),
			"activity_date", day.String(),
			"last_activity_date", s.LastActivityDate.String(),
		)
		return s, tr, nil
	}
	if err := repos.Streaks.Save(ctx, s); err != nil {
		return nil, "", err
	}
	if tr.Changed() {
		out.Add(shared.NewStreakUpdatedEvent(in.UserID, s.Current, s.Longest, day, in.At))
	}

	if s.BonusDue() {
		_, err := f.awards.Award(ctx, repos, out, AwardInput{
			Award:     points.StreakBonusAward(in.UserID, s.Current),
			Milestone: StreakMilestone(s.Current),
			At:        in.At,
		})
		if err != nil {
			return nil, "", err
		}
	}
	return s, tr, nil
}

func (f *LessonFlow) recomputeProgress(ctx context.Context, repos uow.Repositories, out *Outbox, enr *enrollment.Enrollment, in LessonCompletion) (bool, error) {
	completed, err := repos.Enrollments.CountCompletedLessons(ctx, enr.ID)
	if err != nil {
		return false, err
	}
	justCompleted := enr.Recompute(completed, in.TotalLessons, in.At)
	if err := repos.Enrollments.Update(ctx, enr); err != nil {
		return false, err
	}
	if !justCompleted {
		return false, nil
	}

	f.logger.Info("course completed",
		"user_id", in.UserID.String(),
		"course_id", in.Course.ID.String(),
		"enrollment_id", enr.ID.String(),
	)
	out.Add(shared.NewCourseCompletedEvent(in.UserID, in.Course.ID, enr.ID, in.At))

	_, err = f.awards.Award(ctx, repos, out, AwardInput{
		Award:     points.CourseCompletionAward(in.UserID, in.Course.ID, in.Course.Title),
		Milestone: CourseCompletionMilestone(in.Course.ID, in.Course.Title),
		At:        in.At,
	})
	return true, err
}
