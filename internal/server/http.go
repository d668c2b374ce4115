package server

import (
	"context"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pdtechteam/quiz-generator/internal/config"
	"github.com/pdtechteam/quiz-generator/internal/game"
	"github.com/pdtechteam/quiz-generator/internal/question"
)

// NewHTTPServer wires every route of the API service: health and metrics,
// the quiz catalog, game sessions and the live websocket channel.
func NewHTTPServer(cfg *config.App, logger zerolog.Logger, pool *pgxpool.Pool, redis *redis.Client, quizzes *question.HTTPHandlers, games *game.HTTPHandlers, live *game.Handler) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := pingDependencies(r.Context(), pool, redis); err != nil {
			logger.Error().Err(err).Msg("dependency ping failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"degraded"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	// Quiz catalog and generation.
	mux.HandleFunc("GET /api/quizzes/{$}", quizzes.List)
	mux.HandleFunc("POST /api/quizzes/{$}", quizzes.Create)
	mux.HandleFunc("POST /api/quizzes/generate/{$}", quizzes.Generate)
	mux.HandleFunc("GET /api/quizzes/{id}/{$}", quizzes.Detail)
	mux.HandleFunc("DELETE /api/quizzes/{id}/{$}", quizzes.Delete)
	mux.HandleFunc("GET /api/quizzes/{id}/questions/{$}", quizzes.Questions)
	mux.HandleFunc("GET /api/quizzes/{id}/preview/{$}", quizzes.Preview)

	// Game sessions.
	mux.HandleFunc("POST /api/sessions/{$}", games.CreateSession)
	mux.HandleFunc("GET /api/sessions/{code}/{$}", games.Session)
	mux.HandleFunc("GET /api/sessions/{code}/state/{$}", games.Session)
	mux.HandleFunc("GET /api/sessions/{code}/current_question/{$}", games.CurrentQuestion)
	mux.HandleFunc("GET /api/sessions/{code}/leaderboard/{$}", games.Leaderboard)
	mux.HandleFunc("GET /api/sessions/{code}/disconnected_players/{$}", games.DisconnectedPlayers)
	mux.HandleFunc("GET /api/sessions/{code}/statistics/{$}", games.Statistics)

	// Players.
	mux.HandleFunc("POST /api/players/{$}", games.CreatePlayer)
	mux.HandleFunc("GET /api/players/{id}/{$}", games.Player)
	mux.HandleFunc("POST /api/players/{id}/become_host/{$}", games.BecomeHost)
	mux.HandleFunc("POST /api/players/{id}/heartbeat/{$}", games.Heartbeat)

	// Answers.
	mux.HandleFunc("GET /api/answers/by_session/{$}", games.AnswersBySession)
	mux.HandleFunc("GET /api/answers/by_player/{$}", games.AnswersByPlayer)

	// Live channel.
	mux.HandleFunc("GET /ws/game/{code}/{$}", live.HandleWebSocket)

	return &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}
}

func pingDependencies(ctx context.Context, pool *pgxpool.Pool, redis *redis.Client) error {
	if err := pool.Ping(ctx); err != nil {
		return err
	}
	if err := redis.Ping(ctx).Err(); err != nil {
		return err
	}
	return nil
}
