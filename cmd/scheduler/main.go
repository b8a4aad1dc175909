package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"community-pulse/internal/adapters/mailer"
	"community-pulse/internal/adapters/repo"
	"community-pulse/internal/domain"
	"community-pulse/internal/infra/cache"
	"community-pulse/internal/infra/config"
	"community-pulse/internal/infra/db"
	applog "community-pulse/internal/infra/log"
	"community-pulse/internal/infra/metrics"
	"community-pulse/internal/usecase/activity"
	"community-pulse/internal/usecase/digest"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	var triggerCache domain.Cache
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		triggerCache = cache.NewRedis(redisClient)
	}

	collector := activity.NewService(repoAdapter, cfg.Activity.WorkItemsCap)
	digestService := digest.NewService(
		repoAdapter,
		repoAdapter,
		collector,
		mailer.NewLog(logger.With().Str("component", "mailer").Logger()),
		triggerCache,
		digest.Config{
			Window:     cfg.Digest.Window,
			Timeout:    cfg.Digest.Timeout,
			Subject:    cfg.Digest.Subject,
			TriggerTTL: cfg.Digest.TriggerTTL,
		},
		logger.With().Str("component", "digest").Logger(),
	)

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	logger.Info().Dur("interval", cfg.Scheduler.Interval).Msg("scheduler: старт")
	ticker := time.NewTicker(cfg.Scheduler.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("scheduler: остановка")
			return
		case <-ticker.C:
			result, err := digestService.RunCycleDeduped(ctx)
			switch {
			case errors.Is(err, domain.ErrNoRecipients):
				logger.Warn().Msg("scheduler: получателей нет, окно остаётся открытым")
			case errors.Is(err, domain.ErrCycleSuperseded):
				logger.Warn().Msg("scheduler: окно занял параллельный цикл")
			case err != nil:
				logger.Error().Err(err).Msg("scheduler: цикл не выполнен")
			case !result.Ran:
				logger.Debug().Str("reason", result.Reason).Msg("scheduler: цикл пропущен")
			default:
				logger.Info().
					Int("recipients", result.RecipientCount).
					Int("sent", result.EmailsSent).
					Int("failed", result.EmailsFailed).
					Msg("scheduler: дайджест отправлен")
			}
		}
	}
}
