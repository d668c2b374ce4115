package config

import (
	"context"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// App holds core runtime configuration shared across services.
type App struct {
	Name                    string        `env:"APP_NAME" envDefault:"quiz-generator"`
	Env                     string        `env:"APP_ENV" envDefault:"development"`
	HTTPAddr                string        `env:"HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	GracefulShutdownTimeout time.Duration `env:"GRACEFUL_SHUTDOWN_SECONDS" envDefault:"20s"`

	Postgres Postgres
	Redis    Redis
	OpenAI   OpenAI
	Game     Game
}

// Postgres captures connection info for the SQL database.
type Postgres struct {
	Host     string `env:"PG_HOST,notEmpty"`
	Port     int    `env:"PG_PORT" envDefault:"5432"`
	User     string `env:"PG_USER,notEmpty"`
	Password string `env:"PG_PASSWORD,notEmpty"`
	Database string `env:"PG_DATABASE,notEmpty"`
	SSLMode  string `env:"PG_SSL_MODE" envDefault:"disable"`
}

// Redis holds cache configuration for the generation cache.
type Redis struct {
	Addr     string `env:"REDIS_ADDR,notEmpty"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	PoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"20"`
}

// OpenAI configures the question generation endpoint. Any
// OpenAI-compatible chat completion server works, including local ones.
type OpenAI struct {
	APIKey  string        `env:"OPENAI_API_KEY"`
	APIBase string        `env:"OPENAI_API_BASE" envDefault:"http://localhost:8000/v1"`
	Model   string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	Timeout time.Duration `env:"OPENAI_ATTEMPT_TIMEOUT" envDefault:"60s"`
}

// Game groups session runtime timing. Defaults are the gameplay contract;
// tests override them with much shorter values.
type Game struct {
	RevealDelay       time.Duration `env:"GAME_REVEAL_DELAY" envDefault:"2s"`
	ResultsDisplay    time.Duration `env:"GAME_RESULTS_DISPLAY" envDefault:"5s"`
	CountdownStep     time.Duration `env:"GAME_COUNTDOWN_STEP" envDefault:"1s"`
	HeartbeatScan     time.Duration `env:"GAME_HEARTBEAT_SCAN" envDefault:"5s"`
	HeartbeatTimeout  time.Duration `env:"GAME_HEARTBEAT_TIMEOUT" envDefault:"15s"`
	ReactionCooldown  time.Duration `env:"GAME_REACTION_COOLDOWN" envDefault:"500ms"`
	StoreTimeout      time.Duration `env:"GAME_STORE_TIMEOUT" envDefault:"5s"`
	CommandBufferSize int           `env:"GAME_COMMAND_BUFFER" envDefault:"64"`
}

// Load parses environment variables into App config.
func Load(ctx context.Context) (*App, error) {
	cfg := &App{}
	if err := env.ParseWithOptions(cfg, env.Options{RequiredIfNoDef: true}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
