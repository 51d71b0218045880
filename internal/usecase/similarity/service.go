package similarity

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"stardiscover/internal/domain"
)

// Config задаёт границы обнаружения похожих пользователей.
// Две разные квоты — ширина выборки и бюджет внешних вызовов —
// намеренно раздельные настройки.
type Config struct {
	TopStarredSample int
	QueryRepos       int
	StargazerSample  int
	MinOverlap       int
	MaxSimilarUsers  int
}

// Service находит пользователей с пересекающимся вкусом по выборкам stargazers.
type Service struct {
	stars   domain.StarRepo
	similar domain.SimilarUserRepo
	cfg     Config
	log     zerolog.Logger
}

// NewService создаёт сервис обнаружения похожих пользователей.
func NewService(stars domain.StarRepo, similar domain.SimilarUserRepo, cfg Config, log zerolog.Logger) *Service {
	if cfg.TopStarredSample <= 0 {
		cfg.TopStarredSample = 50
	}
	if cfg.QueryRepos <= 0 {
		cfg.QueryRepos = 30
	}
	if cfg.StargazerSample <= 0 {
		cfg.StargazerSample = 50
	}
	if cfg.MinOverlap <= 0 {
		cfg.MinOverlap = 3
	}
	if cfg.MaxSimilarUsers <= 0 {
		cfg.MaxSimilarUsers = 50
	}
	return &Service{stars: stars, similar: similar, cfg: cfg, log: log}
}

// Discover семплирует stargazers топовых звёзд пользователя, ранжирует
// аккаунты по пересечению и полностью заменяет сохранённый набор.
func (s *Service) Discover(ctx context.Context, userID int64, gw domain.RepoGateway) ([]domain.SimilarUser, error) {
	sampled, err := s.stars.ListStarred(userID, s.cfg.TopStarredSample, 0)
	if err != nil {
		return nil, fmt.Errorf("выборка звёзд: %w", err)
	}
	if len(sampled) == 0 {
		return nil, nil
	}

	queryLimit := s.cfg.QueryRepos
	if queryLimit > len(sampled) {
		queryLimit = len(sampled)
	}

	var observations []Observation
	for _, repo := range sampled[:queryLimit] {
		owner, name, ok := splitFullName(repo.FullName)
		if !ok {
			continue
		}
		gazers, err := gw.Stargazers(ctx, owner, name, s.cfg.StargazerSample)
		if err != nil {
			return nil, fmt.Errorf("stargazers %s: %w", repo.FullName, err)
		}
		for _, login := range gazers {
			observations = append(observations, Observation{Account: login, RepoID: repo.GithubRepoID})
		}
	}

	similar := RankOverlaps(observations, len(sampled), s.cfg.MinOverlap, s.cfg.MaxSimilarUsers)
	for i := range similar {
		similar[i].UserID = userID
	}

	if err := s.similar.ReplaceSimilar(userID, similar); err != nil {
		return nil, fmt.Errorf("сохранение похожих пользователей: %w", err)
	}
	s.log.Debug().Int64("user_id", userID).Int("similar", len(similar)).Msg("similarity: обнаружение завершено")
	return similar, nil
}

func splitFullName(fullName string) (owner, name string, ok bool) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
