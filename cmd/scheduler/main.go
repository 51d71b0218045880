package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"stardiscover/internal/adapters/repo"
	"stardiscover/internal/domain"
	"stardiscover/internal/infra/cache"
	"stardiscover/internal/infra/config"
	"stardiscover/internal/infra/db"
	applog "stardiscover/internal/infra/log"
	"stardiscover/internal/infra/metrics"
	"stardiscover/internal/infra/queue"
)

var weekdays = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

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

	if cfg.RedisAddr == "" {
		logger.Fatal().Msg("scheduler: не указан адрес Redis (REDIS_ADDR)")
	}
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	lock := cache.NewRedis(redisClient)

	jobQueue, err := queue.New(cfg.Queues.Driver, cfg.RabbitURL, cfg.Queues.Pipeline, redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось инициализировать очередь")
	}

	day, ok := weekdays[strings.ToLower(cfg.Refresh.Day)]
	if !ok {
		day = time.Sunday
	}
	logger.Info().Str("day", day.String()).Int("hour", cfg.Refresh.Hour).Msg("scheduler: еженедельное обновление запланировано")

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("scheduler: остановлен")
			return
		case <-ticker.C:
		}

		now := time.Now().UTC()
		if now.Weekday() != day || now.Hour() != cfg.Refresh.Hour || now.Minute() != 0 {
			continue
		}

		// Замок на дату защищает от двойного запуска при нескольких репликах.
		lockKey := fmt.Sprintf("weekly_refresh:%s", now.Format("2006-01-02"))
		err := lock.Once(lockKey, 24*time.Hour, func() error {
			enqueueRefreshAll(ctx, repoAdapter, jobQueue, cfg.Refresh.UserDelay, logger)
			return nil
		})
		if err != nil {
			logger.Error().Err(err).Msg("scheduler: ошибка еженедельного запуска")
		}
	}
}

// enqueueRefreshAll ставит обновление для всех пользователей со звёздами,
// выдерживая паузу между постановками, чтобы не упереться в квоту API.
func enqueueRefreshAll(ctx context.Context, users domain.UserRepo, jobQueue domain.JobQueue, delay time.Duration, logger zerolog.Logger) {
	list, err := users.ListUsersWithStars()
	if err != nil {
		logger.Error().Err(err).Msg("scheduler: ошибка выборки пользователей")
		return
	}
	logger.Info().Int("users", len(list)).Msg("scheduler: запуск еженедельного обновления")

	for i, user := range list {
		if i > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		job := domain.PipelineJob{ID: uuid.NewString(), UserID: user.ID, Kind: domain.JobKindScheduledRefresh, RequestedAt: time.Now()}
		if err := jobQueue.Enqueue(ctx, job); err != nil {
			logger.Error().Err(err).Int64("user_id", user.ID).Msg("scheduler: не удалось поставить обновление")
			continue
		}
	}
	logger.Info().Msg("scheduler: еженедельное обновление поставлено для всех пользователей")
}
