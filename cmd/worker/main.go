package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/adapters/repo"
	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/adapters/telegram"
	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/domain"
	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/infra/cache"
	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/infra/config"
	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/infra/db"
	applog "github.com/NhuanTDBK/hn-recap-tool-sub000/internal/infra/log"
	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/infra/metrics"
	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/infra/queue"
	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/usecase/delivery"
	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/usecase/grouping"
	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/usecase/pipeline"
	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/usecase/selection"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "worker")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger, cfg.MetricsAddr)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: нет подключения к БД")
	}
	defer pool.Close()

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось создать бота")
	}

	repoAdapter := repo.NewPostgres(pool)
	gateway := telegram.NewGateway(botAPI, logger)

	var locker domain.RunLocker
	var jobs domain.RunQueue
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		locker = cache.NewRedisLock(redisClient)
		jobs = queue.NewRedisRunQueue(redisClient, cfg.Queues.Run)
	}
	if cfg.Rabbit.URL != "" {
		rabbit, err := queue.NewRabbitRunQueue(cfg.Rabbit.URL, cfg.Rabbit.Queue)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: нет подключения к RabbitMQ")
		}
		defer rabbit.Close()
		jobs = rabbit
	}
	if jobs == nil {
		logger.Fatal().Msg("worker: не задана ни одна очередь (REDIS_ADDR или RABBIT_URL)")
	}

	selector := selection.NewService(repoAdapter, repoAdapter)
	grouper := grouping.NewService(repoAdapter)
	handler := delivery.NewService(gateway, repoAdapter, logger, cfg.Pipeline.SendDelay)
	orchestrator := pipeline.NewService(repoAdapter, selector, grouper, handler, locker, logger)
	orchestrator.SetLockTTL(cfg.Pipeline.RunLockTTL)

	logger.Info().Str("queue", cfg.Queues.Run).Msg("worker запущен")
	for {
		job, err := jobs.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info().Msg("worker остановлен")
				return
			}
			logger.Error().Err(err).Msg("worker: не удалось прочитать задачу")
			continue
		}

		params := pipeline.RunParams{
			BatchID:         job.BatchID,
			MaxPostsPerUser: job.MaxPostsPerUser,
			SkipUserIDs:     job.SkipUserIDs,
			DryRun:          job.DryRun,
			EnableGrouping:  job.EnableGrouping,
		}
		if params.MaxPostsPerUser <= 0 {
			params.MaxPostsPerUser = cfg.Pipeline.MaxPostsPerUser
		}

		stats, err := orchestrator.Run(ctx, params)
		switch {
		case errors.Is(err, pipeline.ErrRunInProgress):
			logger.Warn().Str("batch", stats.BatchID).Msg("worker: прогон уже идёт, задача пропущена")
		case err != nil:
			logger.Error().Err(err).Str("batch", stats.BatchID).Msg("worker: прогон завершился фатально")
		default:
			logger.Info().
				Str("batch", stats.BatchID).
				Int("sent", stats.MessagesSent).
				Int("errors", len(stats.Errors)).
				Msg("worker: прогон завершён")
		}
	}
}
