// Package jobs contains the engine's scheduled maintenance jobs.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alem-hub/learning-engine/internal/domain/leaderboard"
)

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD LEADERBOARD JOB
// ══════════════════════════════════════════════════════════════════════════════

// RebuildLeaderboardJob replaces the cached leaderboard with balances read
// from the ledger. It repairs any SetBalance write that failed or arrived
// out of order.
type RebuildLeaderboardJob struct {
	source  leaderboard.BalanceSource
	board   leaderboard.Board
	timeout time.Duration
	logger  *slog.Logger

	lastStats atomic.Pointer[RebuildStats]
}

// RebuildStats describes one rebuild.
type RebuildStats struct {
	Users      int
	StartedAt  time.Time
	FinishedAt time.Time
}

// NewRebuildLeaderboardJob creates the job. A zero timeout means no limit
// beyond the scheduler's context.
func NewRebuildLeaderboardJob(source leaderboard.BalanceSource, board leaderboard.Board, timeout time.Duration, logger *slog.Logger) *RebuildLeaderboardJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RebuildLeaderboardJob{
		source:  source,
		board:   board,
		timeout: timeout,
		logger:  logger.With("job", "rebuild_leaderboard"),
	}
}

// Name implements scheduler.Job.
func (j *RebuildLeaderboardJob) Name() string {
	return "rebuild_leaderboard"
}

// Description implements scheduler.Job.
func (j *RebuildLeaderboardJob) Description() string {
	return "Rebuilds the leaderboard from ledger balances"
}

// Run implements scheduler.Job.
func (j *RebuildLeaderboardJob) Run(ctx context.Context) error {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	stats := &RebuildStats{StartedAt: time.Now()}
	balances, err := j.source.Balances(ctx)
	if err != nil {
		return fmt.Errorf("load balances: %w", err)
	}
	if err := j.board.Replace(ctx, balances); err != nil {
		return fmt.Errorf("replace leaderboard: %w", err)
	}
	stats.Users = len(balances)
	stats.FinishedAt = time.Now()
	j.lastStats.Store(stats)

	j.logger.InfoContext(ctx, "leaderboard rebuilt",
		"users", stats.Users,
		"duration", stats.FinishedAt.Sub(stats.StartedAt).String(),
	)
	return nil
}

// LastStats returns the last successful rebuild, or nil.
func (j *RebuildLeaderboardJob) LastStats() *RebuildStats {
	return j.lastStats.Load()
}
