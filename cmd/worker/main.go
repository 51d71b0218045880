package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"stardiscover/internal/adapters/github"
	"stardiscover/internal/adapters/repo"
	"stardiscover/internal/domain"
	"stardiscover/internal/infra/cache"
	"stardiscover/internal/infra/config"
	"stardiscover/internal/infra/db"
	"stardiscover/internal/infra/llm"
	applog "stardiscover/internal/infra/log"
	"stardiscover/internal/infra/metrics"
	"stardiscover/internal/infra/queue"
	candidatesusecase "stardiscover/internal/usecase/candidates"
	pipelineusecase "stardiscover/internal/usecase/pipeline"
	profileusecase "stardiscover/internal/usecase/profile"
	recommendusecase "stardiscover/internal/usecase/recommend"
	similarityusecase "stardiscover/internal/usecase/similarity"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	var gwCache domain.Cache
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		gwCache = cache.NewRedis(redisClient)
	}

	jobQueue, err := queue.New(cfg.Queues.Driver, cfg.RabbitURL, cfg.Queues.Pipeline, redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось инициализировать очередь")
	}

	gateways := github.NewFactory(github.Config{
		BaseURL:        cfg.Github.BaseURL,
		Timeout:        cfg.Github.Timeout,
		UserStarsPages: cfg.Github.UserStarsPages,
		StargazersTTL:  cfg.Github.StargazerTTL,
		UserStarredTTL: cfg.Github.UserStarredTTL,
	}, gwCache)

	llmClient := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.Timeout, cfg.LLM.MaxTokens)
	if !llmClient.HealthCheck(ctx) {
		logger.Warn().Str("base_url", cfg.LLM.BaseURL).Msg("worker: сервис генерации недоступен на старте")
	}

	profileService := profileusecase.NewService(repoAdapter, repoAdapter, llmClient, logger.With().Str("component", "profile").Logger())
	similarityService := similarityusecase.NewService(repoAdapter, repoAdapter, similarityusecase.Config{
		TopStarredSample: cfg.Similarity.TopStarredSample,
		QueryRepos:       cfg.Similarity.QueryRepos,
		StargazerSample:  cfg.Github.StargazerSample,
		MinOverlap:       cfg.Similarity.MinOverlap,
		MaxSimilarUsers:  cfg.Similarity.MaxSimilarUsers,
	}, logger.With().Str("component", "similarity").Logger())
	candidatesService := candidatesusecase.NewService(repoAdapter, repoAdapter, repoAdapter, candidatesusecase.Config{
		SourceUsers: cfg.Candidates.SourceUsers,
		KeepTop:     cfg.Candidates.KeepTop,
		ReturnTop:   cfg.Candidates.ReturnTop,
	}, logger.With().Str("component", "candidates").Logger())
	recommendService := recommendusecase.NewService(repoAdapter, repoAdapter, repoAdapter, llmClient, recommendusecase.Config{
		MaxCandidates: cfg.Scoring.MaxCandidates,
		TopN:          cfg.Scoring.TopN,
		Threshold:     cfg.Scoring.Threshold,
	}, logger.With().Str("component", "recommend").Logger())

	pipelineService := pipelineusecase.NewService(
		repoAdapter,
		repoAdapter,
		repoAdapter,
		gateways,
		profileService,
		similarityService,
		candidatesService,
		recommendService,
		logger.With().Str("component", "pipeline").Logger(),
	)

	worker := &jobWorker{
		log:      logger,
		queue:    jobQueue,
		pipeline: pipelineService,
	}

	logger.Info().Msg("worker: запуск обработки очереди")
	worker.Run(ctx)
	logger.Info().Msg("worker: остановлен")
}

type jobWorker struct {
	log      zerolog.Logger
	queue    domain.JobQueue
	pipeline *pipelineusecase.Service
}

func (w *jobWorker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.log.Error().Err(err).Msg("worker: ошибка чтения очереди")
			time.Sleep(time.Second)
			continue
		}

		jobLog := w.log.With().
			Int64("user_id", job.UserID).
			Str("kind", string(job.Kind)).
			Logger()

		jobLog.Info().Msg("worker: задача получена")
		if err := w.pipeline.Run(ctx, job); err != nil {
			if errors.Is(err, domain.ErrJobAlreadyRunning) {
				// Дубликат отсекает атомарная защита журнала задач.
				jobLog.Warn().Msg("worker: задача уже выполняется, пропускаем")
				continue
			}
			jobLog.Error().Err(err).Msg("worker: задача завершилась ошибкой")
			continue
		}
		jobLog.Info().Msg("worker: задача выполнена")
	}
}
