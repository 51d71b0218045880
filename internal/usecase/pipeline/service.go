package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"stardiscover/internal/domain"
	"stardiscover/internal/infra/metrics"
)

// Интерфейсы этапов объявлены на стороне потребителя:
// оркестратору нужны только эти методы.
type profileBuilder interface {
	Build(ctx context.Context, userID int64) (*domain.TasteProfile, error)
}

type similarityFinder interface {
	Discover(ctx context.Context, userID int64, gw domain.RepoGateway) ([]domain.SimilarUser, error)
}

type candidateGatherer interface {
	Gather(ctx context.Context, userID int64, gw domain.RepoGateway) ([]domain.CandidateRepo, error)
}

type recommender interface {
	Generate(ctx context.Context, userID int64) ([]domain.Recommendation, error)
}

// Service оркеструет пайплайны: ведёт журнал задач, двигает прогресс
// и прокидывает ошибки этапов в статус. Записи завершившихся этапов
// при сбое остаются нетронутыми.
type Service struct {
	users      domain.UserRepo
	stars      domain.StarRepo
	jobs       domain.JobRepo
	gateways   domain.GatewayFactory
	profiles   profileBuilder
	similarity similarityFinder
	candidates candidateGatherer
	recommends recommender
	log        zerolog.Logger
}

// NewService создаёт оркестратор пайплайнов.
func NewService(
	users domain.UserRepo,
	stars domain.StarRepo,
	jobs domain.JobRepo,
	gateways domain.GatewayFactory,
	profiles profileBuilder,
	similarity similarityFinder,
	candidates candidateGatherer,
	recommends recommender,
	log zerolog.Logger,
) *Service {
	return &Service{
		users:      users,
		stars:      stars,
		jobs:       jobs,
		gateways:   gateways,
		profiles:   profiles,
		similarity: similarity,
		candidates: candidates,
		recommends: recommends,
		log:        log,
	}
}

// Run исполняет задачу очереди согласно её виду.
func (s *Service) Run(ctx context.Context, job domain.PipelineJob) error {
	switch job.Kind {
	case domain.JobKindSyncStars:
		return s.SyncStars(ctx, job.UserID)
	case domain.JobKindGenerateRecs:
		return s.GenerateRecommendations(ctx, job.UserID)
	case domain.JobKindBuildProfile:
		return s.BuildProfile(ctx, job.UserID)
	case domain.JobKindScheduledRefresh:
		return s.ScheduledRefresh(ctx, job.UserID)
	default:
		return fmt.Errorf("неизвестный вид задачи: %q", job.Kind)
	}
}

// SyncStars скачивает звёзды пользователя и полностью заменяет сохранённый набор.
func (s *Service) SyncStars(ctx context.Context, userID int64) (err error) {
	start := time.Now()
	defer func() { metrics.ObservePipelineRun(string(domain.JobKindSyncStars), start, err) }()

	user, err := s.users.GetByID(userID)
	if err != nil {
		return fmt.Errorf("выборка пользователя: %w", err)
	}

	job, err := s.jobs.StartJob(userID, domain.JobKindSyncStars, "")
	if err != nil {
		return err
	}

	gw := s.gateways.ForToken(user.AccessToken)
	remote, err := gw.ListStarred(ctx)
	if err != nil {
		return s.fail(job.ID, fmt.Errorf("загрузка звёзд: %w", err))
	}

	if err := s.jobs.UpdateJobProgress(job.ID, 50, fmt.Sprintf("Found %d starred repos", len(remote))); err != nil {
		return s.fail(job.ID, err)
	}

	if err := s.stars.ReplaceStarred(userID, toStarredRepos(userID, remote)); err != nil {
		return s.fail(job.ID, fmt.Errorf("сохранение звёзд: %w", err))
	}

	return s.jobs.CompleteJob(job.ID, fmt.Sprintf("Synced %d starred repos", len(remote)))
}

// BuildProfile перестраивает вкусовой профиль без генерации рекомендаций.
func (s *Service) BuildProfile(ctx context.Context, userID int64) (err error) {
	start := time.Now()
	defer func() { metrics.ObservePipelineRun(string(domain.JobKindBuildProfile), start, err) }()

	job, err := s.jobs.StartJob(userID, domain.JobKindBuildProfile, "Analyzing your starred repos...")
	if err != nil {
		return err
	}

	profile, err := s.profiles.Build(ctx, userID)
	if err != nil {
		return s.fail(job.ID, err)
	}
	if profile == nil {
		return s.jobs.CompleteJob(job.ID, "Profile unchanged")
	}
	return s.jobs.CompleteJob(job.ID, "Taste profile updated")
}

// GenerateRecommendations исполняет четырёхэтапный пайплайн:
// профиль, похожие пользователи, кандидаты, оценка.
func (s *Service) GenerateRecommendations(ctx context.Context, userID int64) (err error) {
	start := time.Now()
	defer func() { metrics.ObservePipelineRun(string(domain.JobKindGenerateRecs), start, err) }()
	metrics.IncGenerateForUser(userID)

	user, err := s.users.GetByID(userID)
	if err != nil {
		return fmt.Errorf("выборка пользователя: %w", err)
	}

	job, err := s.jobs.StartJob(userID, domain.JobKindGenerateRecs, "Starting recommendation pipeline...")
	if err != nil {
		return err
	}

	gw := s.gateways.ForToken(user.AccessToken)

	if err := s.jobs.UpdateJobProgress(job.ID, 10, "Analyzing your starred repos..."); err != nil {
		return s.fail(job.ID, err)
	}
	if _, err := s.profiles.Build(ctx, userID); err != nil {
		return s.fail(job.ID, err)
	}

	if err := s.jobs.UpdateJobProgress(job.ID, 30, "Finding users with similar taste..."); err != nil {
		return s.fail(job.ID, err)
	}
	if _, err := s.similarity.Discover(ctx, userID, gw); err != nil {
		return s.fail(job.ID, err)
	}

	if err := s.jobs.UpdateJobProgress(job.ID, 60, "Discovering candidate repositories..."); err != nil {
		return s.fail(job.ID, err)
	}
	if _, err := s.candidates.Gather(ctx, userID, gw); err != nil {
		return s.fail(job.ID, err)
	}

	if err := s.jobs.UpdateJobProgress(job.ID, 80, "Scoring recommendations with AI..."); err != nil {
		return s.fail(job.ID, err)
	}
	recs, err := s.recommends.Generate(ctx, userID)
	if err != nil {
		return s.fail(job.ID, err)
	}

	return s.jobs.CompleteJob(job.ID, fmt.Sprintf("Generated %d recommendations!", len(recs)))
}

// ScheduledRefresh исполняет еженедельный пятиэтапный пайплайн,
// начиная с пересинхронизации звёзд. Пользователь без звёзд пропускается.
func (s *Service) ScheduledRefresh(ctx context.Context, userID int64) (err error) {
	start := time.Now()
	defer func() { metrics.ObservePipelineRun(string(domain.JobKindScheduledRefresh), start, err) }()

	user, err := s.users.GetByID(userID)
	if err != nil {
		return fmt.Errorf("выборка пользователя: %w", err)
	}
	if user.AccessToken == "" {
		s.log.Warn().Int64("user_id", userID).Msg("pipeline: у пользователя нет токена, обновление пропущено")
		return nil
	}

	count, err := s.stars.CountStarred(userID)
	if err != nil {
		return fmt.Errorf("подсчёт звёзд: %w", err)
	}
	if count == 0 {
		s.log.Info().Int64("user_id", userID).Msg("pipeline: у пользователя нет звёзд, обновление пропущено")
		return nil
	}

	job, err := s.jobs.StartJob(userID, domain.JobKindScheduledRefresh, "Weekly refresh started")
	if err != nil {
		return err
	}

	gw := s.gateways.ForToken(user.AccessToken)

	remote, err := gw.ListStarred(ctx)
	if err != nil {
		return s.fail(job.ID, fmt.Errorf("загрузка звёзд: %w", err))
	}
	if err := s.stars.ReplaceStarred(userID, toStarredRepos(userID, remote)); err != nil {
		return s.fail(job.ID, fmt.Errorf("сохранение звёзд: %w", err))
	}
	if err := s.jobs.UpdateJobProgress(job.ID, 20, fmt.Sprintf("Synced %d starred repos", len(remote))); err != nil {
		return s.fail(job.ID, err)
	}

	if _, err := s.profiles.Build(ctx, userID); err != nil {
		return s.fail(job.ID, err)
	}
	if err := s.jobs.UpdateJobProgress(job.ID, 40, "Taste profile updated"); err != nil {
		return s.fail(job.ID, err)
	}

	if _, err := s.similarity.Discover(ctx, userID, gw); err != nil {
		return s.fail(job.ID, err)
	}
	if err := s.jobs.UpdateJobProgress(job.ID, 60, "Found similar users"); err != nil {
		return s.fail(job.ID, err)
	}

	if _, err := s.candidates.Gather(ctx, userID, gw); err != nil {
		return s.fail(job.ID, err)
	}
	if err := s.jobs.UpdateJobProgress(job.ID, 80, "Candidate repos discovered"); err != nil {
		return s.fail(job.ID, err)
	}

	recs, err := s.recommends.Generate(ctx, userID)
	if err != nil {
		return s.fail(job.ID, err)
	}

	return s.jobs.CompleteJob(job.ID, fmt.Sprintf("Generated %d new recommendations", len(recs)))
}

// fail переводит задачу в failed и возвращает исходную ошибку.
func (s *Service) fail(jobID int64, cause error) error {
	if err := s.jobs.FailJob(jobID, cause.Error()); err != nil {
		s.log.Error().Err(err).Int64("job_id", jobID).Msg("pipeline: не удалось зафиксировать сбой задачи")
	}
	return cause
}

func toStarredRepos(userID int64, remote []domain.RemoteRepo) []domain.StarredRepo {
	repos := make([]domain.StarredRepo, 0, len(remote))
	for _, r := range remote {
		repos = append(repos, domain.StarredRepo{
			UserID:       userID,
			GithubRepoID: r.ID,
			FullName:     r.FullName,
			Description:  r.Description,
			Topics:       r.Topics,
			Language:     r.Language,
			StarsCount:   r.StarsCount,
			ForksCount:   r.ForksCount,
		})
	}
	return repos
}
