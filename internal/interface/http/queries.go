package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/alem-hub/learning-engine/internal/application/query"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// QUERIES
// ══════════════════════════════════════════════════════════════════════════════

func userParam(c *fiber.Ctx) shared.UserID {
	return shared.UserID(c.Params("id"))
}

func (s *Server) handleGetBalance(c *fiber.Ctx) error {
	dto, err := s.deps.GetBalance.Handle(c.UserContext(), query.GetBalanceQuery{UserID: userParam(c)})
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "", dto)
}

func (s *Server) handleListTransactions(c *fiber.Ctx) error {
	limit, err := queryLimit(c)
	if err != nil {
		return err
	}
	dtos, err := s.deps.ListTransactions.Handle(c.UserContext(), query.ListTransactionsQuery{UserID: userParam(c), Limit: limit})
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "", dtos)
}

func (s *Server) handleGetStreak(c *fiber.Ctx) error {
	dto, err := s.deps.GetStreak.Handle(c.UserContext(), query.GetStreakQuery{UserID: userParam(c)})
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "", dto)
}

func (s *Server) handleListBadges(c *fiber.Ctx) error {
	dtos, err := s.deps.ListBadges.Handle(c.UserContext(), query.ListBadgesQuery{UserID: userParam(c)})
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "", dtos)
}

func (s *Server) handleListAchievements(c *fiber.Ctx) error {
	limit, err := queryLimit(c)
	if err != nil {
		return err
	}
	dtos, err := s.deps.ListAchievements.Handle(c.UserContext(), query.ListAchievementsQuery{UserID: userParam(c), Limit: limit})
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "", dtos)
}

func (s *Server) handleGetRank(c *fiber.Ctx) error {
	entry, err := s.deps.Leaderboard.Rank(c.UserContext(), query.GetRankQuery{UserID: userParam(c)})
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "", entry)
}

func (s *Server) handleGetProgress(c *fiber.Ctx) error {
	dto, err := s.deps.GetProgress.Handle(c.UserContext(), query.GetProgressQuery{
		EnrollmentID: shared.EnrollmentID(c.Params("id")),
	})
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "", dto)
}

func (s *Server) handleGetLeaderboard(c *fiber.Ctx) error {
	limit, err := queryLimit(c)
	if err != nil {
		return err
	}
	entries, err := s.deps.Leaderboard.Top(c.UserContext(), query.GetLeaderboardQuery{Limit: limit})
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "", entries)
}
