package jobs

import (
	"context"
	"fmt"
	"log/slog"
)

// DeadLetterReplayer re-dispatches parked events.
type DeadLetterReplayer interface {
	ReplayDeadLetters(ctx context.Context, limit int) (int, error)
}

// ReplayDeadLettersJob retries events whose handlers exhausted their
// retries, at most batch per run.
type ReplayDeadLettersJob struct {
	replayer DeadLetterReplayer
	batch    int
	logger   *slog.Logger
}

// NewReplayDeadLettersJob creates the job. A non-positive batch defaults to 100.
func NewReplayDeadLettersJob(replayer DeadLetterReplayer, batch int, logger *slog.Logger) *ReplayDeadLettersJob {
	if batch <= 0 {
		batch = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReplayDeadLettersJob{
		replayer: replayer,
		batch:    batch,
		logger:   logger.With("job", "replay_dead_letters"),
	}
}

// Name implements scheduler.Job.
func (j *ReplayDeadLettersJob) Name() string {
	return "replay_dead_letters"
}

// Description implements scheduler.Job.
func (j *ReplayDeadLettersJob) Description() string {
	return "Re-dispatches dead-lettered events"
}

// Run implements scheduler.Job.
func (j *ReplayDeadLettersJob) Run(ctx context.Context) error {
	n, err := j.replayer.ReplayDeadLetters(ctx, j.batch)
	if n > 0 {
		j.logger.InfoContext(ctx, "dead letters replayed", "count", n)
	}
	if err != nil {
		return fmt.Errorf("replay dead letters: %w", err)
	}
	return nil
}
