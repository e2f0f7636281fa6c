package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/learning-engine/internal/application/uow"
	"github.com/alem-hub/learning-engine/internal/domain/achievement"
	"github.com/alem-hub/learning-engine/internal/domain/badge"
	"github.com/alem-hub/learning-engine/internal/domain/points"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD FLOW
// Ledger insert → (if new) milestone achievement → balance → badge scan →
// badge grants with achievements → derived events.
// Runs inside the caller's unit of work; nothing here opens its own.
// ══════════════════════════════════════════════════════════════════════════════

// AwardFlowStep names a step of the award flow.
type AwardFlowStep string

const (
	StepInsertTransaction AwardFlowStep = "insert_transaction"
	StepRecordMilestone   AwardFlowStep = "record_milestone"
	StepReadBalance       AwardFlowStep = "read_balance"
	StepEvaluateBadges    AwardFlowStep = "evaluate_badges"
)

// MilestoneFunc builds the achievement written alongside a new ledger row.
type MilestoneFunc func(id string, tx *points.Transaction) *achievement.Achievement

// AwardInput is one ledger write request.
type AwardInput struct {
	Award points.Award
	// Milestone, when set, is recorded only if the ledger row is new.
	Milestone MilestoneFunc
	// At stamps the row. Zero means the runner clock.
	At time.Time
}

// AwardResult describes what a single award did.
type AwardResult struct {
	Transaction *points.Transaction
	// Inserted is false when the award was a duplicate and nothing changed.
	Inserted bool
	Balance  int
	Badges   []*badge.Badge
}

// AwardFlowError represents an error during the award flow.
type AwardFlowError struct {
	Step   AwardFlowStep
	UserID shared.UserID
	Cause  error
}

func (e *AwardFlowError) Error() string {
	return fmt.Sprintf("award flow failed at step '%s' for user %s: %v", e.Step, e.UserID, e.Cause)
}

func (e *AwardFlowError) Unwrap() error { return e.Cause }

// errAlreadyGranted rolls back a badge savepoint that found the pair taken.
var errAlreadyGranted = errors.New("badge already granted")

// AwardFlow writes ledger rows and runs the badge cascade.
type AwardFlow struct {
	runner *Runner
	logger *slog.Logger
}

// NewAwardFlow creates an AwardFlow.
func NewAwardFlow(runner *Runner) *AwardFlow {
	return &AwardFlow{
		runner: runner,
		logger: runner.logger.With("saga", "award_flow"),
	}
}

// Award appends one ledger row inside an open unit. A duplicate award is a
// silent no-op: no row, no badge scan, no events.
func (f *AwardFlow) Award(ctx context.Context, repos uow.Repositories, out *Outbox, in AwardInput) (*AwardResult, error) {
	at := in.At
	if at.IsZero() {
		at = f.runner.Now()
	}
	userID := in.Award.UserID

	tx, err := points.NewTransaction(f.runner.NewID(), in.Award, at)
	if err != nil {
		return nil, &AwardFlowError{Step: StepInsertTransaction, UserID: userID, Cause: err}
	}

	inserted, err := repos.Points.Insert(ctx, tx)
	if err != nil {
		return nil, &AwardFlowError{Step: StepInsertTransaction, UserID: userID, Cause: err}
	}
	if !inserted {
		f.logger.Debug("duplicate award skipped",
			"user_id", userID.String(),
			"transaction_type", string(tx.Type),
			"idempotency_key", tx.IdempotencyKey,
		)
		return &AwardResult{Transaction: tx}, nil
	}

	result := &AwardResult{Transaction: tx, Inserted: true}

	if in.Milestone != nil {
		if a := in.Milestone(f.runner.NewID(), tx); a != nil {
			if err := repos.Achievements.Append(ctx, a); err != nil {
				return nil, &AwardFlowError{Step: StepRecordMilestone, UserID: userID, Cause: err}
			}
			out.Add(shared.NewAchievementRecordedEvent(userID, a.ID, string(a.Type), a.Title, a.Points, at))
		}
	}

	balance, err := repos.Points.Balance(ctx, userID)
	if err != nil {
		return nil, &AwardFlowError{Step: StepReadBalance, UserID: userID, Cause: err}
	}
	result.Balance = balance

	f.logger.Info("points awarded",
		"user_id", userID.String(),
		"transaction_type", string(tx.Type),
		"points", tx.Points,
		"balance", balance,
	)
	out.Add(shared.NewPointsAwardedEvent(userID, tx.ID, string(tx.Type), tx.Points, balance, at))

	result.Badges = f.evaluateBadges(ctx, repos, out, userID, balance, at)
	return result, nil
}

// evaluateBadges grants every satisfied, unowned badge. It never fails the
// triggering award: the whole scan runs under a savepoint, so a failed read
// or grant is undone and logged without aborting the unit.
func (f *AwardFlow) evaluateBadges(ctx context.Context, repos uow.Repositories, out *Outbox, userID shared.UserID, balance int, at time.Time) []*badge.Badge {
	log := f.logger.With("user_id", userID.String(), "step", string(StepEvaluateBadges))

	var (
		granted []*badge.Badge
		events  []shared.Event
	)
	err := repos.Savepoint(ctx, func(ctx context.Context, repos uow.Repositories) error {
		catalog, err := repos.Badges.Catalog(ctx)
		if err != nil {
			return fmt.Errorf("badge catalog: %w", err)
		}
		owned, err := repos.Badges.OwnedIDs(ctx, userID)
		if err != nil {
			return fmt.Errorf("owned badges: %w", err)
		}
		progress, err := f.progressFor(ctx, repos, userID, balance, catalog, owned)
		if err != nil {
			return fmt.Errorf("badge counters: %w", err)
		}

		for _, b := range badge.Eligible(catalog, owned, progress) {
			ub := &badge.UserBadge{ID: f.runner.NewID(), UserID: userID, BadgeID: b.ID, EarnedAt: at.UTC()}
			entry := achievement.BadgeEarned(f.runner.NewID(), userID, b, at)

			err := repos.Savepoint(ctx, func(ctx context.Context, r uow.Repositories) error {
				ok, err := r.Badges.Grant(ctx, ub)
				if err != nil {
					return err
				}
				if !ok {
					return errAlreadyGranted
				}
				return r.Achievements.Append(ctx, entry)
			})
			switch {
			case errors.Is(err, errAlreadyGranted):
				log.Debug("badge already granted", "badge_id", b.ID.String())
				continue
			case err != nil:
				log.Warn("badge grant failed, treating as granted", "badge_id", b.ID.String(), "error", err)
				continue
			}

			log.Info("badge earned", "badge_id", b.ID.String(), "badge", b.Name)
			granted = append(granted, b)
			events = append(events,
				shared.NewBadgeEarnedEvent(userID, b.ID, b.Name, at),
				shared.NewAchievementRecordedEvent(userID, entry.ID, string(entry.Type), entry.Title, entry.Points, at),
			)
		}
		return nil
	})
	if err != nil {
		log.Warn("badge evaluation skipped", "error", err)
		return nil
	}
	out.Add(events...)
	return granted
}

// progressFor loads activity counters only when an unowned badge needs them.
func (f *AwardFlow) progressFor(ctx context.Context, repos uow.Repositories, userID shared.UserID, balance int, catalog []*badge.Badge, owned map[shared.BadgeID]bool) (badge.Progress, error) {
	p := badge.Progress{Points: balance}

	needCounters := false
	for _, b := range catalog {
		if !owned[b.ID] && b.NeedsActivityCounters() {
			needCounters = true
			break
		}
	}
	if !needCounters {
		return p, nil
	}

	var err error
	if p.CoursesCompleted, err = repos.Enrollments.CountCompletedCourses(ctx, userID); err != nil {
		return p, err
	}
	if p.LessonsCompleted, err = repos.Enrollments.CountCompletedLessonsByUser(ctx, userID); err != nil {
		return p, err
	}
	if p.QuizzesPassed, err = repos.Attempts.CountPassedQuizzes(ctx, userID); err != nil {
		return p, err
	}
	return p, nil
}

// CourseCompletionMilestone records "Completed <course>" with the award points.
func CourseCompletionMilestone(courseID shared.CourseID, courseTitle string) MilestoneFunc {
	return func(id string, tx *points.Transaction) *achievement.Achievement {
		return achievement.CourseCompleted(id, tx.UserID, courseID, courseTitle, tx.Points, tx.CreatedAt)
	}
}

// StreakMilestone records "<n> Day Streak!" with the bonus points.
func StreakMilestone(streak int) MilestoneFunc {
	return func(id string, tx *points.Transaction) *achievement.Achievement {
		return achievement.StreakMilestone(id, tx.UserID, streak, tx.Points, tx.CreatedAt)
	}
}
