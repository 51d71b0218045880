package candidates

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"stardiscover/internal/domain"
)

// Страницы звёзд чужого пользователя. Глубже двух страниц ходить нет смысла:
// пересечение вкуса концентрируется в верхней части списка.
const sourceUserPages = 2

// Config задаёт границы сбора кандидатов.
type Config struct {
	SourceUsers int
	KeepTop     int
	ReturnTop   int
}

// Service собирает кандидатов из звёзд похожих пользователей.
type Service struct {
	stars      domain.StarRepo
	similar    domain.SimilarUserRepo
	candidates domain.CandidateRepoStore
	cfg        Config
	log        zerolog.Logger
}

// NewService создаёт сервис сбора кандидатов.
func NewService(stars domain.StarRepo, similar domain.SimilarUserRepo, candidates domain.CandidateRepoStore, cfg Config, log zerolog.Logger) *Service {
	if cfg.SourceUsers <= 0 {
		cfg.SourceUsers = 20
	}
	if cfg.KeepTop <= 0 {
		cfg.KeepTop = 200
	}
	if cfg.ReturnTop <= 0 {
		cfg.ReturnTop = 100
	}
	return &Service{stars: stars, similar: similar, candidates: candidates, cfg: cfg, log: log}
}

// Gather обходит звёзды топовых похожих пользователей, исключает уже отмеченное,
// агрегирует по числу источников и полностью заменяет сохранённый набор.
// Сохраняется KeepTop кандидатов, вызывающему возвращается ReturnTop.
func (s *Service) Gather(ctx context.Context, userID int64, gw domain.RepoGateway) ([]domain.CandidateRepo, error) {
	similar, err := s.similar.ListSimilar(userID, s.cfg.SourceUsers)
	if err != nil {
		return nil, fmt.Errorf("выборка похожих пользователей: %w", err)
	}
	if len(similar) == 0 {
		return nil, nil
	}

	exclude, err := s.stars.ListStarredIDs(userID)
	if err != nil {
		return nil, fmt.Errorf("выборка собственных звёзд: %w", err)
	}

	var sightings []Sighting
	for _, su := range similar {
		repos, err := gw.UserStarred(ctx, su.GithubUsername, sourceUserPages)
		if err != nil {
			if errors.Is(err, domain.ErrRateLimited) || errors.Is(err, domain.ErrUpstreamAuth) {
				return nil, fmt.Errorf("звёзды пользователя %s: %w", su.GithubUsername, err)
			}
			// Недоступный аккаунт не срывает сбор по остальным.
			s.log.Warn().Err(err).Str("account", su.GithubUsername).Msg("candidates: источник пропущен")
			continue
		}
		for _, repo := range repos {
			sightings = append(sightings, Sighting{Account: su.GithubUsername, Repo: repo})
		}
	}

	aggregated := Aggregate(sightings, exclude, s.cfg.KeepTop)
	for i := range aggregated {
		aggregated[i].UserID = userID
	}

	if err := s.candidates.ReplaceCandidates(userID, aggregated); err != nil {
		return nil, fmt.Errorf("сохранение кандидатов: %w", err)
	}
	s.log.Debug().Int64("user_id", userID).Int("candidates", len(aggregated)).Msg("candidates: сбор завершён")

	if len(aggregated) > s.cfg.ReturnTop {
		aggregated = aggregated[:s.cfg.ReturnTop]
	}
	return aggregated, nil
}
