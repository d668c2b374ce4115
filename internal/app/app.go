package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pdtechteam/quiz-generator/internal/config"
	"github.com/pdtechteam/quiz-generator/internal/db/repository"
	"github.com/pdtechteam/quiz-generator/internal/game"
	"github.com/pdtechteam/quiz-generator/internal/game/scoring"
	"github.com/pdtechteam/quiz-generator/internal/logging"
	"github.com/pdtechteam/quiz-generator/internal/question"
	"github.com/pdtechteam/quiz-generator/internal/question/ai"
	"github.com/pdtechteam/quiz-generator/internal/server"
)

// Application aggregates shared infrastructure (DB, cache, session hub,
// HTTP server).
type Application struct {
	cfg    *config.App
	logger zerolog.Logger

	pool  *pgxpool.Pool
	redis *redis.Client
	http  *http.Server
	hub   *game.Hub

	sweeper   *game.Sweeper
	bgCancels []context.CancelFunc
}

// New bootstraps config, logger, Postgres, Redis, the generation pipeline,
// the session hub and the HTTP server.
func New(ctx context.Context, cfg *config.App) (*Application, error) {
	logger := logging.New(cfg.Name, cfg.Env)
	logger.Info().Msg("starting application bootstrap")

	connString := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=10",
		cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.User, cfg.Postgres.Password, cfg.Postgres.Database, cfg.Postgres.SSLMode)

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	store := repository.NewStore(pool)

	// Question generation pipeline.
	cache := question.NewCache(redisClient)
	llm := ai.NewClient(ai.Config{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.APIBase,
		Model:   cfg.OpenAI.Model,
		Timeout: cfg.OpenAI.Timeout,
	}, logger)
	questionSvc := question.NewService(store, cache, llm, cfg.OpenAI.Timeout, logger)
	quizHandlers := question.NewHTTPHandlers(store, questionSvc, logger)

	// Live game runtime.
	hub := game.NewHub(store, scoring.NewEngine(scoring.DefaultConfig()), cfg.Game, logger)
	wsHandler := game.NewHandler(hub, logger)
	gameHandlers := game.NewHTTPHandlers(store, hub, logger)
	sweeper := game.NewSweeper(hub, cfg.Game.HeartbeatScan, cfg.Game.HeartbeatTimeout, logger)

	apiServer := server.NewHTTPServer(cfg, logger, pool, redisClient, quizHandlers, gameHandlers, wsHandler)

	return &Application{
		cfg:       cfg,
		logger:    logger,
		pool:      pool,
		redis:     redisClient,
		http:      apiServer,
		hub:       hub,
		sweeper:   sweeper,
		bgCancels: make([]context.CancelFunc, 0, 1),
	}, nil
}

// Run starts the HTTP server and waits for termination signals.
func (a *Application) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	a.startBackgroundWorkers(ctx)

	go func() {
		a.logger.Info().Str("addr", a.cfg.HTTPAddr).Msg("http server listening")
		if err := a.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		a.logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	case <-ctx.Done():
		a.logger.Warn().Msg("context canceled")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.GracefulShutdownTimeout)
	defer cancel()

	if err := a.http.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("http shutdown error")
	}

	for _, cancel := range a.bgCancels {
		cancel()
	}

	// Runtimes may still have store writes in flight; drain them before
	// the pool closes.
	if err := a.hub.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("hub shutdown error")
	}

	a.pool.Close()
	if err := a.redis.Close(); err != nil {
		a.logger.Error().Err(err).Msg("redis shutdown error")
	}

	a.logger.Info().Msg("shutdown complete")
	return nil
}

func (a *Application) startBackgroundWorkers(ctx context.Context) {
	bgCtx, cancel := context.WithCancel(ctx)
	a.bgCancels = append(a.bgCancels, cancel)
	go func() {
		if err := a.sweeper.Run(bgCtx); err != nil && err != context.Canceled {
			a.logger.Warn().Err(err).Msg("heartbeat sweeper stopped")
		}
	}()
}
