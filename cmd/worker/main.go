package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lapak-dev/backend-lapak/internal/common"
	"github.com/lapak-dev/backend-lapak/internal/config"
	"github.com/lapak-dev/backend-lapak/internal/events"
	"github.com/lapak-dev/backend-lapak/internal/lock"
	"github.com/lapak-dev/backend-lapak/internal/notify"
	"github.com/lapak-dev/backend-lapak/internal/obs"
	"github.com/lapak-dev/backend-lapak/internal/order"
	"github.com/lapak-dev/backend-lapak/internal/queue"
	"github.com/lapak-dev/backend-lapak/internal/store/postgres"
)

// actionKinds are the triggered-action queues this worker drains.
var actionKinds = []string{
	order.ActionDeliveryProcess,
	order.ActionCompletionNotifications,
	order.ActionFailureNotifications,
	order.ActionRefundNotifications,
	order.ActionCancellationNotifications,
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()
	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "lapak"), nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()
	store := postgres.New(pool)

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	bus := &events.Bus{
		Recorder: store,
		Enqueuer: queue.Enqueuer{
			R:        redisClient,
			Prefix:   cfg.QueueRedisPrefix,
			DedupTTL: cfg.IdempotencyWindow,
		},
		MaxAttempts: cfg.QueueMaxAttempts,
		Logger:      logger,
	}

	var mailer common.EmailSender
	if cfg.NotifyEmailOn {
		mailer = common.LogEmailSender{
			Logger: logger.With().Str("component", "mailer").Logger(),
			From:   cfg.NotifyEmailFrom,
		}
	}
	deliveryWorker := notify.DeliveryWorker{
		Runner:   store,
		Machine:  order.Machine{Logger: logger},
		Locker:   lock.Locker{R: redisClient, Prefix: cfg.QueueRedisPrefix, RetryBackoff: cfg.LockRetryBackoff},
		LockTTL:  cfg.LockTTL,
		Email:    mailer,
		Dispatch: bus.Dispatch,
		Logger:   logger,
	}

	var wg sync.WaitGroup
	for _, kind := range actionKinds {
		worker := queue.Worker{
			R:                 redisClient,
			Prefix:            cfg.QueueRedisPrefix,
			Kind:              kind,
			Concurrency:       cfg.QueueConcurrency,
			VisibilityTimeout: cfg.QueueVisibilityTimeout,
			RetryBase:         cfg.QueueBackoffBase,
			RetryJitter:       cfg.QueueBackoffJitter,
			Handler:           deliveryWorker.Handle,
			Logger:            logger.With().Str("queue", kind).Logger(),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Str("queue", worker.Kind).Msg("worker stopped with error")
			}
		}()
	}

	logger.Info().Strs("queues", actionKinds).Msg("worker starting")
	wg.Wait()
	logger.Info().Msg("worker shutdown complete")
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
