package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/DoyleJ11/trivia-royale/internal/bots"
	"github.com/DoyleJ11/trivia-royale/internal/config"
	"github.com/DoyleJ11/trivia-royale/internal/database"
	"github.com/DoyleJ11/trivia-royale/internal/engine"
	"github.com/DoyleJ11/trivia-royale/internal/httpapi"
	"github.com/DoyleJ11/trivia-royale/internal/hub"
	"github.com/DoyleJ11/trivia-royale/internal/leaderboard"
	"github.com/DoyleJ11/trivia-royale/internal/logging"
	"github.com/DoyleJ11/trivia-royale/internal/match"
	"github.com/DoyleJ11/trivia-royale/internal/questions"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *zap.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]httpapi.Pinger{}

	var db *gorm.DB
	if cfg.DatabaseURL != "" {
		db, err = database.Open(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, database.Close(db)) }()
		checks["database"] = func(ctx context.Context) error { return database.Ping(ctx, db) }
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { err = multierr.Append(err, rdb.Close()) }()
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	// Question bank
	var bank questions.Store = questions.NewMemoryStore()
	if db != nil {
		bank = questions.NewGormStore(db)
	}
	if cfg.SeedFile != "" {
		n, err := questions.LoadSeed(ctx, bank, cfg.SeedFile)
		if err != nil {
			return err
		}
		log.Info("seeded question bank", zap.Int("inserted", n), zap.String("file", cfg.SeedFile))
	}

	var (
		gen    questions.Generator
		grader questions.Grader
	)
	if cfg.OpenAIKey != "" {
		client := questions.NewOpenAIClient(cfg.OpenAIKey)
		gen = questions.NewOpenAIGenerator(client, cfg.GeneratorModel)
		grader = questions.NewOpenAIGrader(client, cfg.GraderModel)
	} else {
		log.Warn("OPENAI_API_KEY not set, serving banked questions only")
	}
	gateway := questions.NewGateway(bank, gen, grader, questions.Config{
		Cooldown:    cfg.Cooldown(),
		Reserve:     cfg.Reserve(),
		MaxAttempts: cfg.GenerationAttempts,
		MinScore:    cfg.MinCreativity,
	}, log)

	// Leaderboard
	var board leaderboard.Store
	switch cfg.LeaderboardBackend {
	case config.BackendRedis:
		board = leaderboard.NewRedisStore(rdb)
	case config.BackendPostgres:
		board = leaderboard.NewGormStore(db)
	default:
		board = leaderboard.NewMemoryStore()
	}
	log.Info("leaderboard backend", zap.String("backend", cfg.LeaderboardBackend))

	h := hub.NewHub(ctx, match.Deps{
		Questions:      gateway,
		Wins:           board,
		Logger:         log,
		AcquireTimeout: cfg.AcquireTimeout,
		Rules: engine.Rules{
			TimeLimit:            cfg.RoundTimeLimit,
			Intermission:         cfg.Intermission,
			CloseWhenAllAnswered: cfg.CloseWhenAllAnswered,
		},
	})
	harness := bots.NewHarness(ctx, h, bots.Config{
		Count:        cfg.BotCount,
		Policy:       bots.AccuracyPolicy{P: cfg.BotAccuracy},
		LobbyTimeout: cfg.BotLobbyTimeout,
	}, log)
	h.SetBots(harness)

	router := httpapi.SetupRoutes(httpapi.Server{
		Registry:    h,
		IDs:         h,
		Leaderboard: board,
		Checks:      checks,
		Logger:      log,
	})
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		h.Shutdown()
		harness.Wait()
		return err
	})
	return g.Wait()
}
