package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/adapters/repo"
	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/adapters/telegram"
	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/domain"
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

type runRequest struct {
	MaxPostsPerUser int     `json:"max_posts_per_user"`
	SkipUserIDs     []int64 `json:"skip_user_ids"`
	EnableGrouping  *bool   `json:"enable_grouping"`
}

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "api")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	var jobs domain.RunQueue
	if cfg.Rabbit.URL != "" {
		rabbit, err := queue.NewRabbitRunQueue(cfg.Rabbit.URL, cfg.Rabbit.Queue)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: нет подключения к RabbitMQ")
		}
		defer rabbit.Close()
		jobs = rabbit
	} else if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		jobs = queue.NewRedisRunQueue(redisClient, cfg.Queues.Run)
	} else {
		logger.Fatal().Msg("api: не задана ни одна очередь (REDIS_ADDR или RABBIT_URL)")
	}

	// Сухой прогон выполняется прямо в обработчике: он ничего не пишет
	// и не шлёт, поэтому не требует ни воркера, ни блокировки.
	selector := selection.NewService(repoAdapter, repoAdapter)
	grouper := grouping.NewService(repoAdapter)
	handler := delivery.NewService(noopGateway{}, repoAdapter, logger, cfg.Pipeline.SendDelay)
	dryRunner := pipeline.NewService(repoAdapter, selector, grouper, handler, nil, logger)

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось создать бота")
	}
	reactor := telegram.NewReactor(botAPI, repoAdapter, repoAdapter, logger)

	r := chi.NewRouter()

	r.Post("/api/v1/runs", func(w http.ResponseWriter, req *http.Request) {
		defer req.Body.Close()
		var body runRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.MaxPostsPerUser <= 0 {
			body.MaxPostsPerUser = cfg.Pipeline.MaxPostsPerUser
		}
		groupingEnabled := cfg.Pipeline.EnableGrouping
		if body.EnableGrouping != nil {
			groupingEnabled = *body.EnableGrouping
		}
		job := domain.RunJob{
			BatchID:         uuid.NewString(),
			MaxPostsPerUser: body.MaxPostsPerUser,
			SkipUserIDs:     body.SkipUserIDs,
			EnableGrouping:  groupingEnabled,
		}
		if err := jobs.Enqueue(req.Context(), job); err != nil {
			logger.Error().Err(err).Msg("api: не удалось поставить задачу")
			writeError(w, http.StatusInternalServerError, "enqueue failed")
			return
		}
		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, map[string]string{"batch_id": job.BatchID})
	})

	r.Post("/api/v1/runs/dry", func(w http.ResponseWriter, req *http.Request) {
		defer req.Body.Close()
		var body runRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.MaxPostsPerUser <= 0 {
			body.MaxPostsPerUser = cfg.Pipeline.MaxPostsPerUser
		}
		groupingEnabled := cfg.Pipeline.EnableGrouping
		if body.EnableGrouping != nil {
			groupingEnabled = *body.EnableGrouping
		}
		stats, err := dryRunner.Run(req.Context(), pipeline.RunParams{
			MaxPostsPerUser: body.MaxPostsPerUser,
			SkipUserIDs:     body.SkipUserIDs,
			DryRun:          true,
			EnableGrouping:  groupingEnabled,
		})
		if err != nil && !errors.Is(err, pipeline.ErrRunInProgress) {
			logger.Error().Err(err).Msg("api: сухой прогон завершился фатально")
			writeError(w, http.StatusInternalServerError, "dry run failed")
			return
		}
		writeJSON(w, statsResponse(stats))
	})

	r.Get("/api/v1/batches/{batchID}/records", func(w http.ResponseWriter, req *http.Request) {
		batchID := chi.URLParam(req, "batchID")
		records, err := repoAdapter.ListByBatch(req.Context(), batchID)
		if err != nil {
			logger.Error().Err(err).Str("batch", batchID).Msg("api: не удалось прочитать журнал")
			writeError(w, http.StatusInternalServerError, "ledger read failed")
			return
		}
		out := make([]map[string]any, 0, len(records))
		for _, rec := range records {
			item := map[string]any{
				"user_id":      rec.UserID,
				"post_id":      rec.PostID,
				"batch_id":     rec.BatchID,
				"delivered_at": rec.DeliveredAt.Format(time.RFC3339),
			}
			if rec.MessageID != nil {
				item["message_id"] = *rec.MessageID
			}
			if rec.Reaction != domain.ReactionNone {
				item["reaction"] = string(rec.Reaction)
			}
			out = append(out, item)
		}
		writeJSON(w, map[string]any{"records": out})
	})

	r.Post("/bot/webhook", func(w http.ResponseWriter, req *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(req.Body).Decode(&update); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if update.CallbackQuery != nil {
			if err := reactor.HandleCallback(req.Context(), update.CallbackQuery); err != nil {
				logger.Error().Err(err).Msg("api: не удалось обработать реакцию")
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: ":" + strconv.Itoa(cfg.Port), Handler: r}
	go func() {
		logger.Info().Int("port", cfg.Port).Msg("api запущен")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("HTTP сервер остановлен")
		}
	}()

	metrics.StartServer(ctx, logger, cfg.MetricsAddr)

	<-ctx.Done()
	logger.Info().Msg("остановка api")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// noopGateway нужен сухому прогону: хендлер в нём всё равно не
// вызывается.
type noopGateway struct{}

func (noopGateway) Send(context.Context, int64, domain.Message) (int, error) {
	return 0, errors.New("dry run gateway")
}

func statsResponse(stats domain.RunStats) map[string]any {
	errs := make([]map[string]any, 0, len(stats.Errors))
	for _, e := range stats.Errors {
		errs = append(errs, map[string]any{
			"user_id": e.UserID,
			"style":   string(e.StyleKey),
			"stage":   string(e.Stage),
			"message": e.Message,
		})
	}
	return map[string]any{
		"batch_id":        stats.BatchID,
		"users_processed": stats.UsersProcessed,
		"users_skipped":   stats.UsersSkipped,
		"messages_sent":   stats.MessagesSent,
		"messages_failed": stats.MessagesFailed,
		"errors":          errs,
		"started_at":      stats.StartedAt.Format(time.RFC3339),
		"duration_ms":     stats.Duration.Milliseconds(),
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
