package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/domain"
	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/infra/config"
	applog "github.com/NhuanTDBK/hn-recap-tool-sub000/internal/infra/log"
	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/infra/queue"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "scheduler")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var jobs domain.RunQueue
	if cfg.Rabbit.URL != "" {
		rabbit, err := queue.NewRabbitRunQueue(cfg.Rabbit.URL, cfg.Rabbit.Queue)
		if err != nil {
			logger.Fatal().Err(err).Msg("scheduler: нет подключения к RabbitMQ")
		}
		defer rabbit.Close()
		jobs = rabbit
	} else if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		jobs = queue.NewRedisRunQueue(redisClient, cfg.Queues.Run)
	} else {
		logger.Fatal().Msg("scheduler: не задана ни одна очередь (REDIS_ADDR или RABBIT_URL)")
	}

	c := cron.New()
	_, err := c.AddFunc(cfg.Schedule.Cron, func() {
		job := domain.RunJob{
			MaxPostsPerUser: cfg.Pipeline.MaxPostsPerUser,
			EnableGrouping:  cfg.Pipeline.EnableGrouping,
		}
		if err := jobs.Enqueue(ctx, job); err != nil {
			logger.Error().Err(err).Msg("scheduler: не удалось поставить задачу")
			return
		}
		logger.Info().Str("cron", cfg.Schedule.Cron).Msg("scheduler: задача на прогон поставлена")
	})
	if err != nil {
		logger.Fatal().Err(err).Str("cron", cfg.Schedule.Cron).Msg("scheduler: некорректное расписание")
	}

	c.Start()
	logger.Info().Str("cron", cfg.Schedule.Cron).Msg("scheduler запущен")

	<-ctx.Done()
	<-c.Stop().Done()
	logger.Info().Msg("scheduler остановлен")
}
