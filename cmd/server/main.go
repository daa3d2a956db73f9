package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/example/bank-ledger/internal/api"
	"github.com/example/bank-ledger/internal/auth"
	"github.com/example/bank-ledger/internal/config"
	"github.com/example/bank-ledger/internal/events"
	"github.com/example/bank-ledger/internal/ledger"
	"github.com/example/bank-ledger/internal/security"
	"github.com/example/bank-ledger/pkg/audit"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var (
		backend   ledger.Backend
		credStore auth.CredentialStore
	)

	switch {
	case cfg.DatabaseURL != "":
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to create postgres pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		backend = ledger.NewPostgresBackend(pool)
		credStore = &auth.PostgresCredentialStore{Pool: pool}
		logger.Info("using postgres backend")

	case cfg.SQLitePath != "":
		sq, err := ledger.NewSQLiteBackend(cfg.SQLitePath)
		if err != nil {
			logger.Error("failed to open sqlite database", "error", err, "path", cfg.SQLitePath)
			os.Exit(1)
		}
		defer sq.Close()

		cs, err := auth.NewSQLCredentialStore(sq.DB())
		if err != nil {
			logger.Error("failed to prepare credential store", "error", err)
			os.Exit(1)
		}

		backend = sq
		credStore = cs
		logger.Info("using sqlite backend", "path", cfg.SQLitePath)

	default:
		backend = ledger.NewMemoryBackend()
		credStore = auth.NewMemoryCredentialStore()
		logger.Warn("using in-memory backend, state is lost on restart")
	}

	engineOpts := []ledger.Option{ledger.WithLogger(logger)}

	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer publisher.Close()
		engineOpts = append(engineOpts, ledger.WithNotifier(&events.Notifier{
			Publisher: publisher,
			Logger:    logger,
		}))
		logger.Info("publishing transaction events", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	engine := ledger.NewEngine(backend, engineOpts...)

	keySet, err := auth.NewKeySet()
	if err != nil {
		logger.Error("failed to create keyset", "error", err)
		os.Exit(1)
	}

	authService := &auth.Service{
		Store:    credStore,
		Keys:     keySet,
		Issuer:   cfg.TokenIssuer,
		TokenTTL: cfg.TokenTTL,
	}
	validator := &auth.Validator{Keys: keySet, Issuer: cfg.TokenIssuer}

	allowlist, err := security.ParseCIDRAllowlist(cfg.IPAllowlist)
	if err != nil {
		logger.Error("invalid IP_ALLOWLIST", "error", err)
		os.Exit(1)
	}

	var rateLimiter *security.RedisTokenBucket
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()

		rateLimiter = &security.RedisTokenBucket{
			Redis:      redisClient,
			Prefix:     "bank_ledger",
			Capacity:   cfg.RateLimitCapacity,
			RefillRate: cfg.RateLimitRefillRate,
		}
		logger.Info("rate limiting enabled", "capacity", cfg.RateLimitCapacity)
	}

	router, err := api.NewRouter(api.Dependencies{
		Logger:       logger,
		Auth:         authService,
		Validator:    validator,
		Ledger:       engine,
		Auditor:      audit.NewChainLogger(),
		RateLimiter:  rateLimiter,
		IPAllowlist:  allowlist,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	if err != nil {
		logger.Error("failed to build router", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	logger.Info("bank ledger listening", "addr", cfg.HTTPAddr, "env", cfg.Environment)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
