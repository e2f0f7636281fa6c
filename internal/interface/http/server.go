// Package http exposes the engine over a Fiber REST API: fact ingestion for
// the content platform, the lesson and attempt commands, and read queries
// for the learner UI.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/alem-hub/learning-engine/internal/application/command"
	"github.com/alem-hub/learning-engine/internal/application/query"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
	"github.com/alem-hub/learning-engine/internal/interface/http/handlers"
	"github.com/alem-hub/learning-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Host - address to bind (default: "0.0.0.0").
	Host string

	// Port - port to listen on (default: 8080).
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// IngestAPIKey - when set, fact ingestion requires it in X-API-Key.
	IngestAPIKey string

	// Version is reported by the health endpoints.
	Version string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Dependencies contains all dependencies required by HTTP handlers.
type Dependencies struct {
	// Facts receives ingested facts.
	Facts shared.EventPublisher

	// Commands
	TrackLesson   *command.TrackLessonHandler
	SubmitAttempt *command.SubmitAttemptHandler

	// Queries
	GetBalance       *query.GetBalanceHandler
	ListTransactions *query.ListTransactionsHandler
	GetStreak        *query.GetStreakHandler
	ListBadges       *query.ListBadgesHandler
	ListAchievements *query.ListAchievementsHandler
	GetProgress      *query.GetProgressHandler
	Leaderboard      *query.LeaderboardHandler

	Health handlers.HealthChecker
	Clock  timeutil.Clock
	Logger *slog.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server is the HTTP API.
type Server struct {
	config   Config
	deps     Dependencies
	app      *fiber.App
	validate *validator.Validate
	logger   *slog.Logger
}

// NewServer creates a server with all routes registered.
func NewServer(config Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.SystemClock{}
	}
	if deps.Health == nil {
		deps.Health = handlers.NewCompositeHealthChecker(config.Version)
	}

	s := &Server{
		config:   config,
		deps:     deps,
		validate: validator.New(),
		logger:   deps.Logger.With("component", "http"),
	}
	s.app = fiber.New(fiber.Config{
		AppName:               "learning-engine",
		DisableStartupMessage: true,
		ReadTimeout:           config.ReadTimeout,
		WriteTimeout:          config.WriteTimeout,
		IdleTimeout:           config.IdleTimeout,
		ErrorHandler:          s.handleError,
	})

	s.app.Use(requestid.New())
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c *fiber.Ctx, e interface{}) {
			s.logger.Error("panic recovered",
				"path", c.Path(),
				"request_id", c.GetRespHeader(fiber.HeaderXRequestID),
				"panic", fmt.Sprint(e),
			)
		},
	}))
	s.app.Use(handlers.RequestLogger(s.logger))

	s.setupRoutes()
	return s
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	// ─────────────────────────────────────────────────────────────────────────
	// Health
	// ─────────────────────────────────────────────────────────────────────────
	s.app.Get("/health", s.handleHealth)
	s.app.Get("/ready", s.handleReady)

	api := s.app.Group("/api/v1")

	// ─────────────────────────────────────────────────────────────────────────
	// Fact ingestion
	// ─────────────────────────────────────────────────────────────────────────
	facts := api.Group("/facts")
	if s.config.IngestAPIKey != "" {
		facts.Use(handlers.NewAPIKeyAuth(handlers.APIKeyHeader, []string{s.config.IngestAPIKey}).Middleware())
	}
	facts.Post("/lesson-completed", s.handleLessonCompletedFact)
	facts.Post("/quiz-submitted", s.handleQuizSubmittedFact)
	facts.Post("/enrollment-created", s.handleEnrollmentCreatedFact)
	facts.Post("/review-created", s.handleReviewCreatedFact)
	facts.Post("/certificate-issued", s.handleCertificateIssuedFact)

	// ─────────────────────────────────────────────────────────────────────────
	// Commands
	// ─────────────────────────────────────────────────────────────────────────
	api.Post("/lessons/track", s.handleTrackLesson)
	api.Post("/attempts", s.handleSubmitAttempt)

	// ─────────────────────────────────────────────────────────────────────────
	// Queries
	// ─────────────────────────────────────────────────────────────────────────
	users := api.Group("/users/:id")
	users.Get("/balance", s.handleGetBalance)
	users.Get("/streak", s.handleGetStreak)
	users.Get("/badges", s.handleListBadges)
	users.Get("/achievements", s.handleListAchievements)
	users.Get("/transactions", s.handleListTransactions)
	users.Get("/rank", s.handleGetRank)

	api.Get("/enrollments/:id/progress", s.handleGetProgress)
	api.Get("/leaderboard", s.handleGetLeaderboard)
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on the configured address and blocks until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "address", s.config.Address())
	return s.app.Listen(s.config.Address())
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return success(c, fiber.StatusOK, "ok", fiber.Map{"version": s.config.Version})
}

func (s *Server) handleReady(c *fiber.Ctx) error {
	status := s.deps.Health.Check(c.UserContext())
	code := fiber.StatusOK
	if !status.Ready {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(Response{
		Success: status.Ready,
		Message: status.Message,
		Data:    status,
	})
}
