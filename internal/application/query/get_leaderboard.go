package query

import (
	"context"
	"log/slog"

	"github.com/alem-hub/learning-engine/internal/domain/leaderboard"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD QUERIES
// The board is a cache of the ledger. When it fails, the ranking is computed
// from the ledger instead.
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboardQuery asks for the top of the ranking.
type GetLeaderboardQuery struct {
	Limit int
}

// GetRankQuery asks for one user's position.
type GetRankQuery struct {
	UserID shared.UserID
}

// LeaderboardHandler handles GetLeaderboardQuery and GetRankQuery.
type LeaderboardHandler struct {
	board    leaderboard.Board
	fallback *leaderboard.LedgerBoard
	logger   *slog.Logger
}

// NewLeaderboardHandler creates a LeaderboardHandler. A nil board reads the
// ledger directly.
func NewLeaderboardHandler(board leaderboard.Board, source Source, logger *slog.Logger) *LeaderboardHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaderboardHandler{
		board:    board,
		fallback: leaderboard.NewLedgerBoard(source.Reader().Points),
		logger:   logger.With("query", "leaderboard"),
	}
}

// Top executes GetLeaderboardQuery.
func (h *LeaderboardHandler) Top(ctx context.Context, q GetLeaderboardQuery) ([]leaderboard.Entry, error) {
	limit := shared.NormalizeLimit(q.Limit)
	if h.board != nil {
		entries, err := h.board.Top(ctx, limit)
		if err == nil {
			return entries, nil
		}
		h.logger.Warn("leaderboard unavailable, reading ledger", "error", err)
	}
	return h.fallback.Top(ctx, limit)
}

// Rank executes GetRankQuery. It returns leaderboard.ErrNotRanked for a
// user without ledger rows.
func (h *LeaderboardHandler) Rank(ctx context.Context, q GetRankQuery) (*leaderboard.Entry, error) {
	if err := requireUser("GetRank", q.UserID); err != nil {
		return nil, err
	}
	if h.board != nil {
		entry, err := h.board.Rank(ctx, q.UserID)
		if err == nil || shared.IsNotFound(err) {
			return entry, err
		}
		h.logger.Warn("leaderboard unavailable, reading ledger", "error", err)
	}
	return h.fallback.Rank(ctx, q.UserID)
}
