// Package main is the entry point of the learning engine.
//
// The engine consumes learning facts (lessons completed, quizzes submitted,
// enrollments, reviews, certificates) from HTTP and an optional Redis
// channel, turns them into points, streaks, badges and achievements, and
// serves the resulting state over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/learning-engine/config"
	"github.com/alem-hub/learning-engine/internal/application/command"
	"github.com/alem-hub/learning-engine/internal/application/eventhandler"
	"github.com/alem-hub/learning-engine/internal/application/query"
	"github.com/alem-hub/learning-engine/internal/application/saga"
	"github.com/alem-hub/learning-engine/internal/application/uow"
	"github.com/alem-hub/learning-engine/internal/domain/content"
	"github.com/alem-hub/learning-engine/internal/domain/leaderboard"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
	"github.com/alem-hub/learning-engine/internal/infrastructure/messaging"
	"github.com/alem-hub/learning-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/learning-engine/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/learning-engine/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/learning-engine/internal/infrastructure/scheduler"
	"github.com/alem-hub/learning-engine/internal/infrastructure/scheduler/jobs"
	httpserver "github.com/alem-hub/learning-engine/internal/interface/http"
	"github.com/alem-hub/learning-engine/internal/interface/http/handlers"
	"github.com/alem-hub/learning-engine/pkg/circuitbreaker"
	"github.com/alem-hub/learning-engine/pkg/logger"
	"github.com/alem-hub/learning-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := logger.New(logger.Options{
		Level:   logger.ParseLevel(cfg.Observability.LogLevel),
		Format:  logger.ParseFormat(cfg.Observability.LogFormat),
		Service: cfg.App.Name,
		Version: cfg.App.Version,
	})
	slog.SetDefault(log)
	log.Info("starting learning engine",
		"env", string(cfg.App.Environment),
		"storage", cfg.Engine.Storage,
		"bus_mode", cfg.Engine.BusMode,
		"timezone", cfg.App.Timezone,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. STORAGE
	// ─────────────────────────────────────────────────────────────────────────
	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.close()

	unit := uow.NewRetrying(store.unit, cfg.Engine.UnitRetryAttempts, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (optional: leaderboard and pub/sub)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		cache  *redis.Cache
		board  leaderboard.Board
		pubsub *redis.PubSub
	)
	if !cfg.Redis.Disabled {
		cache, err = redis.NewCache(redisConfig(cfg.Redis))
		if err != nil {
			log.Warn("redis unavailable, running without leaderboard cache and pub/sub", "error", err)
		} else {
			defer func() {
				if err := cache.Close(); err != nil {
					log.Warn("close redis", "error", err)
				}
			}()
			onBreaker := func(name string, from, to circuitbreaker.State) {
				level := slog.LevelInfo
				if to == circuitbreaker.StateOpen {
					level = slog.LevelWarn
				}
				log.Log(context.Background(), level, "circuit breaker state changed",
					"breaker", name, "from", from.String(), "to", to.String())
			}
			board = redis.NewLeaderboard(cache, circuitbreaker.Redis("leaderboard", onBreaker))
			pubsub = redis.NewPubSub(cache, circuitbreaker.Redis("pubsub", onBreaker))
			log.Info("connected to redis")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. EVENT BUSES AND DISPATCHER
	// ─────────────────────────────────────────────────────────────────────────
	busConfig := messaging.InMemoryEventBusConfig{
		Mode:       messaging.Mode(cfg.Engine.BusMode),
		Partitions: cfg.Engine.Partitions,
		QueueSize:  cfg.Engine.QueueSize,
		Logger:     log.With("bus", "facts"),
	}
	factBus := messaging.NewInMemoryEventBus(busConfig)
	busConfig.Logger = log.With("bus", "derived")
	derivedBus := messaging.NewInMemoryEventBus(busConfig)

	dispatcher := messaging.NewDispatcher(messaging.DispatcherConfig{
		RetryConfig: messaging.RetryConfig{
			MaxAttempts:    cfg.Engine.RetryAttempts,
			InitialBackoff: cfg.Engine.RetryInitialBackoff,
			MaxBackoff:     cfg.Engine.RetryMaxBackoff,
		},
		DeadLetterQueueSize: cfg.Engine.DeadLetterSize,
		HandlerTimeout:      cfg.Engine.HandlerTimeout,
		Logger:              log,
	})
	dispatcher.Use(messaging.RecoveryMiddleware(log))
	dispatcher.Use(messaging.LoggingMiddleware(log))

	derived := shared.EventPublisher(derivedBus)
	if pubsub != nil && cfg.Engine.EventChannel != "" {
		derived = messaging.FanOut{
			derivedBus,
			messaging.NewRedisPublisher(pubsub, pubsub.Channel(cfg.Engine.EventChannel), cfg.App.Name),
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	clock := timeutil.SystemClock{}
	runner := saga.NewRunner(saga.RunnerConfig{
		UnitOfWork: unit,
		Publisher:  derived,
		Clock:      clock,
		Location:   cfg.App.Location,
		Logger:     log,
	})
	awards := saga.NewAwardFlow(runner)
	lessons := saga.NewLessonFlow(runner, awards, store.catalog)
	submit := command.NewSubmitAttemptHandler(runner, awards, store.catalog, log)
	track := command.NewTrackLessonHandler(runner, lessons, log)

	if err := eventhandler.RegisterAll(dispatcher, eventhandler.Dependencies{
		Runner:  runner,
		Awards:  awards,
		Lessons: lessons,
		Submit:  submit,
		Catalog: store.catalog,
		Board:   board,
		Logger:  log,
	}); err != nil {
		return fmt.Errorf("register handlers: %w", err)
	}
	if err := dispatcher.Attach(factBus); err != nil {
		return fmt.Errorf("attach fact bus: %w", err)
	}
	if err := dispatcher.Attach(derivedBus); err != nil {
		return fmt.Errorf("attach derived bus: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.AddCheck("storage", handlers.NewPingCheck(store.pinger))
	if cache != nil {
		health.AddCheck("redis", handlers.NewPingCheck(cache))
	}

	server := httpserver.NewServer(httpserver.Config{
		Host:         cfg.HTTP.Host,
		Port:         cfg.HTTP.Port,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
		IngestAPIKey: cfg.HTTP.IngestAPIKey,
		Version:      cfg.App.Version,
	}, httpserver.Dependencies{
		Facts:            factBus,
		TrackLesson:      track,
		SubmitAttempt:    submit,
		GetBalance:       query.NewGetBalanceHandler(unit),
		ListTransactions: query.NewListTransactionsHandler(unit),
		GetStreak:        query.NewGetStreakHandler(unit, clock, cfg.App.Location),
		ListBadges:       query.NewListBadgesHandler(unit),
		ListAchievements: query.NewListAchievementsHandler(unit),
		GetProgress:      query.NewGetProgressHandler(unit),
		Leaderboard:      query.NewLeaderboardHandler(board, unit, log),
		Health:           health,
		Clock:            clock,
		Logger:           log,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 8. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.NewScheduler(scheduler.SchedulerConfig{Logger: log, Location: cfg.App.Location})
		if board != nil {
			rebuild := jobs.NewRebuildLeaderboardJob(unit.Reader().Points, board, cfg.Scheduler.JobTimeout, log)
			if err := sched.Register(rebuild, cfg.Scheduler.LeaderboardRebuildSpec); err != nil {
				return fmt.Errorf("register %s: %w", rebuild.Name(), err)
			}
		}
		replay := jobs.NewReplayDeadLettersJob(dispatcher, cfg.Scheduler.DeadLetterReplayBatch, log)
		if err := sched.Register(replay, cfg.Scheduler.DeadLetterReplaySpec); err != nil {
			return fmt.Errorf("register %s: %w", replay.Name(), err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. RUN
	// ─────────────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server listening", "addr", cfg.HTTP.Addr())
		if err := server.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if pubsub != nil && cfg.Engine.FactChannel != "" {
		bridge, err := messaging.NewFactBridge(messaging.FactBridgeConfig{
			Client:  pubsub,
			Channel: pubsub.Channel(cfg.Engine.FactChannel),
			Bus:     factBus,
			Logger:  log,
		})
		if err != nil {
			return fmt.Errorf("fact bridge: %w", err)
		}
		g.Go(func() error { return bridge.Run(gctx) })
	}

	if sched != nil {
		if err := sched.Start(gctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		if board != nil {
			g.Go(func() error {
				if _, err := sched.RunNow(gctx, "rebuild_leaderboard"); err != nil {
					log.Warn("initial leaderboard rebuild failed", "error", err)
				}
				return nil
			})
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", "timeout", cfg.App.ShutdownTimeout.String())
		return shutdown(cfg.App.ShutdownTimeout, log, server, sched, factBus, derivedBus)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("learning engine stopped")
	return nil
}

// shutdown stops intake first, then drains the buses so queued facts and
// the events they derive are handled before storage closes.
func shutdown(timeout time.Duration, log *slog.Logger, server *httpserver.Server, sched *scheduler.Scheduler, buses ...*messaging.InMemoryEventBus) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if sched != nil {
		if err := sched.Stop(ctx); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
			errs = append(errs, err)
		}
	}

	drained := make(chan error, 1)
	go func() {
		var err error
		for _, bus := range buses {
			err = errors.Join(err, bus.Close())
		}
		drained <- err
	}()
	select {
	case err := <-drained:
		if err != nil {
			errs = append(errs, fmt.Errorf("close buses: %w", err))
		}
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("drain buses: %w", ctx.Err()))
	}

	if len(errs) == 0 {
		log.Info("shutdown complete")
	}
	return errors.Join(errs...)
}

// ══════════════════════════════════════════════════════════════════════════════
// STORAGE
// ══════════════════════════════════════════════════════════════════════════════

type storage struct {
	unit    uow.UnitOfWork
	catalog content.Catalog
	pinger  handlers.Pinger
	close   func()
}

func openStorage(ctx context.Context, cfg *config.Config, log *slog.Logger) (*storage, error) {
	switch cfg.Engine.Storage {
	case config.StorageMemory:
		store := memory.New()
		if cfg.Engine.SeedFile != "" {
			f, err := os.Open(cfg.Engine.SeedFile)
			if err != nil {
				return nil, fmt.Errorf("open seed file: %w", err)
			}
			defer f.Close()
			if err := store.LoadSeed(f); err != nil {
				return nil, fmt.Errorf("load seed %s: %w", cfg.Engine.SeedFile, err)
			}
			log.Info("catalog seeded", "file", cfg.Engine.SeedFile)
		}
		log.Warn("using in-memory storage; state is lost on restart")
		return &storage{unit: store, catalog: store.Catalog(), pinger: store, close: func() {}}, nil

	default:
		pgCfg := postgres.DefaultConfig()
		pgCfg.URL = cfg.Database.URL
		pgCfg.MaxConns = int32(cfg.Database.MaxConns)
		pgCfg.MinConns = int32(cfg.Database.MinConns)
		pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
		pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
		pgCfg.LockTimeout = cfg.Database.LockTimeout

		conn, err := postgres.NewConnection(ctx, pgCfg)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if cfg.Database.AutoMigrate {
			if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
				conn.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		log.Info("connected to postgres")
		return &storage{
			unit:    postgres.NewUnitOfWork(conn, log),
			catalog: postgres.NewCatalog(conn),
			pinger:  conn,
			close:   conn.Close,
		}, nil
	}
}

func redisConfig(c config.RedisConfig) redis.Config {
	rc := redis.DefaultConfig()
	rc.URL = c.URL
	rc.Host = c.Host
	rc.Port = c.Port
	rc.Password = c.Password
	rc.DB = c.DB
	rc.PoolSize = c.PoolSize
	rc.MinIdleConns = c.MinIdleConns
	rc.DialTimeout = c.DialTimeout
	rc.ReadTimeout = c.ReadTimeout
	rc.WriteTimeout = c.WriteTimeout
	rc.KeyPrefix = c.KeyPrefix
	return rc
}
