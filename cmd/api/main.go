package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"stardiscover/internal/adapters/github"
	"stardiscover/internal/adapters/repo"
	"stardiscover/internal/domain"
	"stardiscover/internal/infra/cache"
	"stardiscover/internal/infra/config"
	"stardiscover/internal/infra/db"
	httpinfra "stardiscover/internal/infra/http"
	"stardiscover/internal/infra/log"
	"stardiscover/internal/infra/metrics"
	"stardiscover/internal/infra/queue"
	"stardiscover/internal/usecase/profile"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv).With().Str("component", "api").Logger()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	var apiCache domain.Cache
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		apiCache = cache.NewRedis(redisClient)
	}

	jobQueue, err := queue.New(cfg.Queues.Driver, cfg.RabbitURL, cfg.Queues.Pipeline, redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось инициализировать очередь")
	}

	gateways := github.NewFactory(github.Config{
		BaseURL:        cfg.Github.BaseURL,
		Timeout:        cfg.Github.Timeout,
		UserStarsPages: cfg.Github.UserStarsPages,
		StargazersTTL:  cfg.Github.StargazerTTL,
		UserStarredTTL: cfg.Github.UserStarredTTL,
	}, apiCache)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Group(func(protected chi.Router) {
		protected.Use(httpinfra.UserAuthMiddleware(repoAdapter))

		protected.Post("/api/v1/stars/sync", func(w http.ResponseWriter, r *http.Request) {
			user, _ := httpinfra.UserFrom(r.Context())
			if jobRunning(repoAdapter, user.ID, domain.JobKindSyncStars) {
				httpinfra.WriteError(w, http.StatusBadRequest, errors.New("Sync already in progress"))
				return
			}
			job := domain.PipelineJob{ID: uuid.NewString(), UserID: user.ID, Kind: domain.JobKindSyncStars, RequestedAt: time.Now()}
			if err := jobQueue.Enqueue(r.Context(), job); err != nil {
				logger.Error().Err(err).Msg("api: постановка синхронизации в очередь")
				httpinfra.WriteError(w, http.StatusInternalServerError, errors.New("failed to start sync"))
				return
			}
			httpinfra.WriteJSON(w, map[string]string{"message": "Sync started", "status": "running"})
		})

		protected.Get("/api/v1/stars/status", func(w http.ResponseWriter, r *http.Request) {
			user, _ := httpinfra.UserFrom(r.Context())
			job, err := repoAdapter.LatestJob(user.ID, domain.JobKindSyncStars)
			if err != nil {
				if errors.Is(err, domain.ErrJobNotFound) {
					httpinfra.WriteJSON(w, map[string]string{"status": "no_sync", "message": "No sync has been performed"})
					return
				}
				httpinfra.WriteError(w, http.StatusInternalServerError, errors.New("internal error"))
				return
			}
			httpinfra.WriteJSON(w, jobStatusResponse(job))
		})

		protected.Get("/api/v1/stars", func(w http.ResponseWriter, r *http.Request) {
			user, _ := httpinfra.UserFrom(r.Context())
			limit := queryInt(r, "limit", 100)
			offset := queryInt(r, "offset", 0)
			repos, err := repoAdapter.ListStarred(user.ID, limit, offset)
			if err != nil {
				httpinfra.WriteError(w, http.StatusInternalServerError, errors.New("internal error"))
				return
			}
			out := make([]map[string]any, 0, len(repos))
			for _, repo := range repos {
				out = append(out, map[string]any{
					"id":             repo.ID,
					"github_repo_id": repo.GithubRepoID,
					"full_name":      repo.FullName,
					"description":    repo.Description,
					"topics":         orEmpty(repo.Topics),
					"language":       repo.Language,
					"stars_count":    repo.StarsCount,
				})
			}
			httpinfra.WriteJSON(w, out)
		})

		protected.Get("/api/v1/rate-limit", func(w http.ResponseWriter, r *http.Request) {
			user, _ := httpinfra.UserFrom(r.Context())
			status, err := gateways.ForToken(user.AccessToken).RateLimit(r.Context())
			if err != nil {
				logger.Error().Err(err).Msg("api: запрос квоты")
				httpinfra.WriteError(w, http.StatusBadGateway, errors.New("rate limit check failed"))
				return
			}
			httpinfra.WriteJSON(w, status)
		})

		protected.Post("/api/v1/recommendations/generate", func(w http.ResponseWriter, r *http.Request) {
			user, _ := httpinfra.UserFrom(r.Context())
			count, err := repoAdapter.CountStarred(user.ID)
			if err != nil {
				httpinfra.WriteError(w, http.StatusInternalServerError, errors.New("internal error"))
				return
			}
			if count == 0 {
				httpinfra.WriteError(w, http.StatusBadRequest, errors.New("No starred repos found. Please sync your stars first."))
				return
			}
			if jobRunning(repoAdapter, user.ID, domain.JobKindGenerateRecs) {
				httpinfra.WriteError(w, http.StatusBadRequest, errors.New("Recommendation generation already in progress"))
				return
			}
			job := domain.PipelineJob{ID: uuid.NewString(), UserID: user.ID, Kind: domain.JobKindGenerateRecs, RequestedAt: time.Now()}
			if err := jobQueue.Enqueue(r.Context(), job); err != nil {
				logger.Error().Err(err).Msg("api: постановка генерации в очередь")
				httpinfra.WriteError(w, http.StatusInternalServerError, errors.New("failed to start generation"))
				return
			}
			httpinfra.WriteJSON(w, map[string]string{"message": "Recommendation generation started", "status": "running"})
		})

		protected.Get("/api/v1/recommendations/status", func(w http.ResponseWriter, r *http.Request) {
			user, _ := httpinfra.UserFrom(r.Context())
			job, err := repoAdapter.LatestJob(user.ID, domain.JobKindGenerateRecs)
			if err != nil {
				if errors.Is(err, domain.ErrJobNotFound) {
					httpinfra.WriteJSON(w, map[string]string{"status": "no_job", "message": "No recommendations generated yet"})
					return
				}
				httpinfra.WriteError(w, http.StatusInternalServerError, errors.New("internal error"))
				return
			}
			httpinfra.WriteJSON(w, jobStatusResponse(job))
		})

		protected.Get("/api/v1/recommendations", func(w http.ResponseWriter, r *http.Request) {
			user, _ := httpinfra.UserFrom(r.Context())
			limit := queryInt(r, "limit", 20)
			offset := queryInt(r, "offset", 0)
			batchID := r.URL.Query().Get("batch_id")
			if batchID == "" {
				latest, err := repoAdapter.LatestBatchID(user.ID)
				if err != nil {
					httpinfra.WriteError(w, http.StatusInternalServerError, errors.New("internal error"))
					return
				}
				batchID = latest
			}
			if batchID == "" {
				httpinfra.WriteJSON(w, []any{})
				return
			}

			recs, err := repoAdapter.ListRecommendations(user.ID, batchID, limit, offset)
			if err != nil {
				httpinfra.WriteError(w, http.StatusInternalServerError, errors.New("internal error"))
				return
			}
			ids := make([]int64, 0, len(recs))
			for _, rec := range recs {
				ids = append(ids, rec.ID)
			}
			feedbackMap, err := repoAdapter.FeedbackForRecommendations(user.ID, ids)
			if err != nil {
				httpinfra.WriteError(w, http.StatusInternalServerError, errors.New("internal error"))
				return
			}

			out := make([]map[string]any, 0, len(recs))
			for _, rec := range recs {
				item := map[string]any{
					"id":              rec.ID,
					"github_repo_id":  rec.GithubRepoID,
					"full_name":       rec.FullName,
					"description":     rec.Description,
					"topics":          orEmpty(rec.Topics),
					"language":        rec.Language,
					"stars_count":     rec.StarsCount,
					"relevance_score": rec.RelevanceScore,
					"explanation":     rec.Explanation,
					"batch_id":        rec.BatchID,
					"created_at":      rec.CreatedAt,
					"feedback":        nil,
				}
				if ft, ok := feedbackMap[rec.ID]; ok {
					item["feedback"] = ft
				}
				out = append(out, item)
			}
			httpinfra.WriteJSON(w, out)
		})

		protected.Post("/api/v1/recommendations/{id}/feedback", func(w http.ResponseWriter, r *http.Request) {
			user, _ := httpinfra.UserFrom(r.Context())
			recID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
			if err != nil {
				httpinfra.WriteError(w, http.StatusBadRequest, errors.New("invalid recommendation id"))
				return
			}
			defer r.Body.Close()
			var req feedbackRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpinfra.WriteError(w, http.StatusBadRequest, errors.New("invalid request body"))
				return
			}
			if !domain.ValidFeedbackType(req.FeedbackType) {
				httpinfra.WriteError(w, http.StatusBadRequest, errors.New("Invalid feedback type"))
				return
			}
			if _, err := repoAdapter.GetRecommendation(user.ID, recID); err != nil {
				httpinfra.WriteError(w, http.StatusNotFound, errors.New("Recommendation not found"))
				return
			}
			if err := repoAdapter.UpsertFeedback(user.ID, recID, req.FeedbackType); err != nil {
				httpinfra.WriteError(w, http.StatusInternalServerError, errors.New("internal error"))
				return
			}
			httpinfra.WriteJSON(w, map[string]any{"message": "Feedback submitted", "feedback_type": req.FeedbackType})
		})

		protected.Get("/api/v1/profile", func(w http.ResponseWriter, r *http.Request) {
			user, _ := httpinfra.UserFrom(r.Context())
			if user.TasteProfile == nil {
				httpinfra.WriteJSON(w, map[string]any{"profile": nil, "message": "No taste profile generated yet"})
				return
			}
			httpinfra.WriteJSON(w, map[string]any{
				"profile":    user.TasteProfile,
				"formatted":  profile.FormatProfile(user.TasteProfile),
				"updated_at": user.TasteProfileUpdatedAt,
			})
		})

		protected.Post("/api/v1/profile/analyze", func(w http.ResponseWriter, r *http.Request) {
			user, _ := httpinfra.UserFrom(r.Context())
			count, err := repoAdapter.CountStarred(user.ID)
			if err != nil {
				httpinfra.WriteError(w, http.StatusInternalServerError, errors.New("internal error"))
				return
			}
			if count == 0 {
				httpinfra.WriteError(w, http.StatusBadRequest, errors.New("No starred repos found. Please sync your stars first."))
				return
			}
			job := domain.PipelineJob{ID: uuid.NewString(), UserID: user.ID, Kind: domain.JobKindBuildProfile, RequestedAt: time.Now()}
			if err := jobQueue.Enqueue(r.Context(), job); err != nil {
				logger.Error().Err(err).Msg("api: постановка анализа профиля в очередь")
				httpinfra.WriteError(w, http.StatusInternalServerError, errors.New("failed to start analysis"))
				return
			}
			httpinfra.WriteJSON(w, map[string]string{"message": "Profile analysis started"})
		})
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: r}
	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")
	go func() {
		logger.Info().Int("port", cfg.Port).Msg("api: старт")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()
	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

type feedbackRequest struct {
	FeedbackType domain.FeedbackType `json:"feedback_type"`
}

// jobRunning — советующая проверка для раннего ответа API.
// Гонку двух одновременных запросов закрывает атомарный StartJob в воркере.
func jobRunning(jobs domain.JobRepo, userID int64, kind domain.JobKind) bool {
	job, err := jobs.LatestJob(userID, kind)
	if err != nil {
		return false
	}
	return job.State == domain.JobStateRunning
}

func jobStatusResponse(job domain.JobStatus) map[string]any {
	return map[string]any{
		"status":       job.State,
		"progress":     job.Progress,
		"message":      job.Message,
		"started_at":   job.StartedAt,
		"completed_at": job.CompletedAt,
	}
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func orEmpty(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
