// Package config reads server settings from the environment, after loading an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

type Config struct {
	Addr      string `env:"TRIVIA_ADDR" envDefault:":8080"`
	LogLevel  string `env:"TRIVIA_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"TRIVIA_LOG_FORMAT" envDefault:"json"`

	// DatabaseURL empty keeps the bank and leaderboard in memory.
	DatabaseURL        string `env:"DATABASE_URL"`
	RedisAddr          string `env:"REDIS_ADDR"`
	LeaderboardBackend string `env:"TRIVIA_LEADERBOARD_BACKEND"`

	OpenAIKey      string `env:"OPENAI_API_KEY"`
	GeneratorModel string `env:"TRIVIA_GENERATOR_MODEL" envDefault:"gpt-4o-mini"`
	GraderModel    string `env:"TRIVIA_GRADER_MODEL" envDefault:"gpt-4o"`

	CooldownMinutes    int     `env:"QUESTION_COOLDOWN_MINUTES" envDefault:"120"`
	ReserveSeconds     int     `env:"QUESTION_RESERVE_SECONDS" envDefault:"60"`
	GenerationAttempts int     `env:"TRIVIA_GENERATION_ATTEMPTS" envDefault:"20"`
	MinCreativity      float64 `env:"TRIVIA_MIN_CREATIVITY" envDefault:"5"`
	SeedFile           string  `env:"TRIVIA_SEED_FILE"`

	// AcquireTimeout bounds one question acquisition, retries included.
	AcquireTimeout time.Duration `env:"TRIVIA_ACQUIRE_TIMEOUT" envDefault:"10m"`

	RoundTimeLimit       time.Duration `env:"TRIVIA_ROUND_TIME_LIMIT" envDefault:"15s"`
	Intermission         time.Duration `env:"TRIVIA_INTERMISSION" envDefault:"5s"`
	CloseWhenAllAnswered bool          `env:"TRIVIA_CLOSE_WHEN_ALL_ANSWERED" envDefault:"false"`

	BotCount        int           `env:"TRIVIA_BOT_COUNT" envDefault:"19"`
	BotAccuracy     float64       `env:"TRIVIA_BOT_ACCURACY" envDefault:"0.6"`
	BotLobbyTimeout time.Duration `env:"TRIVIA_BOT_LOBBY_TIMEOUT" envDefault:"10m"`
}

// Load reads .env files (missing ones are ignored) and then the environment.
// Variables already set in the environment win over .env values.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.LeaderboardBackend == "" {
		cfg.LeaderboardBackend = cfg.defaultBackend()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) defaultBackend() string {
	switch {
	case c.RedisAddr != "":
		return BackendRedis
	case c.DatabaseURL != "":
		return BackendPostgres
	default:
		return BackendMemory
	}
}

func (c Config) Cooldown() time.Duration { return time.Duration(c.CooldownMinutes) * time.Minute }
func (c Config) Reserve() time.Duration  { return time.Duration(c.ReserveSeconds) * time.Second }

// Validate reports every nonsensical setting at once.
func (c Config) Validate() error {
	var err error
	if c.Addr == "" {
		err = multierr.Append(err, errors.New("TRIVIA_ADDR is empty"))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		err = multierr.Append(err, fmt.Errorf("TRIVIA_LOG_FORMAT %q: want json or console", c.LogFormat))
	}
	switch c.LeaderboardBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			err = multierr.Append(err, errors.New("postgres leaderboard needs DATABASE_URL"))
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			err = multierr.Append(err, errors.New("redis leaderboard needs REDIS_ADDR"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("TRIVIA_LEADERBOARD_BACKEND %q: want postgres, redis or memory", c.LeaderboardBackend))
	}
	if c.CooldownMinutes < 0 {
		err = multierr.Append(err, errors.New("QUESTION_COOLDOWN_MINUTES must not be negative"))
	}
	if c.ReserveSeconds < 0 {
		err = multierr.Append(err, errors.New("QUESTION_RESERVE_SECONDS must not be negative"))
	}
	if c.GenerationAttempts < 1 {
		err = multierr.Append(err, errors.New("TRIVIA_GENERATION_ATTEMPTS must be at least 1"))
	}
	if c.AcquireTimeout <= 0 {
		err = multierr.Append(err, errors.New("TRIVIA_ACQUIRE_TIMEOUT must be positive"))
	}
	if c.MinCreativity < 1 || c.MinCreativity > 10 {
		err = multierr.Append(err, errors.New("TRIVIA_MIN_CREATIVITY must be within 1..10"))
	}
	if c.RoundTimeLimit < time.Second {
		err = multierr.Append(err, errors.New("TRIVIA_ROUND_TIME_LIMIT must be at least 1s"))
	}
	if c.Intermission < 0 {
		err = multierr.Append(err, errors.New("TRIVIA_INTERMISSION must not be negative"))
	}
	if c.BotCount < 0 {
		err = multierr.Append(err, errors.New("TRIVIA_BOT_COUNT must not be negative"))
	}
	if c.BotAccuracy < 0 || c.BotAccuracy > 1 {
		err = multierr.Append(err, errors.New("TRIVIA_BOT_ACCURACY must be within 0..1"))
	}
	return err
}
