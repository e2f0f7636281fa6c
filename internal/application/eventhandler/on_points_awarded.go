package eventhandler

import (
	"context"
	"log/slog"

	"github.com/alem-hub/learning-engine/internal/domain/leaderboard"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// OnPointsAwardedHandler pushes the new balance into the leaderboard.
// Leaderboard writes are last-writer-wins. A failed write is logged and
// left for the scheduled rebuild, so the award itself never fails on it.
type OnPointsAwardedHandler struct {
	board  leaderboard.Board
	logger *slog.Logger
}

// NewOnPointsAwardedHandler creates the handler.
func NewOnPointsAwardedHandler(board leaderboard.Board, logger *slog.Logger) *OnPointsAwardedHandler {
	return &OnPointsAwardedHandler{
		board:  board,
		logger: logger.With("handler", "on_points_awarded"),
	}
}

// Handle implements shared.EventHandler.
func (h *OnPointsAwardedHandler) Handle(ctx context.Context, event shared.Event) error {
	e, ok := factAs[shared.PointsAwardedEvent](event)
	if !ok {
		return unexpected(h.logger, event)
	}
	if err := h.board.SetBalance(ctx, e.UserID, e.NewBalance); err != nil {
		h.logger.WarnContext(ctx, "leaderboard update failed",
			"user_id", e.UserID,
			"balance", e.NewBalance,
			"error", err,
		)
	}
	return nil
}
