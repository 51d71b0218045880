package candidates

import (
	"sort"

	"stardiscover/internal/domain"
)

// Sighting — факт «похожий пользователь отметил звездой репозиторий».
type Sighting struct {
	Account string
	Repo    domain.RemoteRepo
}

// Aggregate сводит наблюдения в ранжированный список кандидатов.
// Репозитории из exclude (собственные звёзды пользователя) отбрасываются.
// source_count растёт на единицу за каждый уникальный аккаунт-источник,
// повторные наблюдения того же аккаунта не учитываются.
func Aggregate(sightings []Sighting, exclude map[int64]struct{}, keepTop int) []domain.CandidateRepo {
	if keepTop <= 0 {
		return nil
	}

	byRepo := make(map[int64]*domain.CandidateRepo)
	sources := make(map[int64]map[string]struct{})
	for _, s := range sightings {
		if _, own := exclude[s.Repo.ID]; own {
			continue
		}
		cand, ok := byRepo[s.Repo.ID]
		if !ok {
			cand = &domain.CandidateRepo{
				GithubRepoID: s.Repo.ID,
				FullName:     s.Repo.FullName,
				Description:  s.Repo.Description,
				Topics:       s.Repo.Topics,
				Language:     s.Repo.Language,
				StarsCount:   s.Repo.StarsCount,
			}
			byRepo[s.Repo.ID] = cand
			sources[s.Repo.ID] = make(map[string]struct{})
		}
		if _, seen := sources[s.Repo.ID][s.Account]; seen {
			continue
		}
		sources[s.Repo.ID][s.Account] = struct{}{}
		cand.SourceCount++
		cand.SourceUsers = append(cand.SourceUsers, s.Account)
	}

	out := make([]domain.CandidateRepo, 0, len(byRepo))
	for _, cand := range byRepo {
		sort.Strings(cand.SourceUsers)
		out = append(out, *cand)
	}
	// Тай-брейк по идентификатору репозитория даёт детерминированный порядок.
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceCount != out[j].SourceCount {
			return out[i].SourceCount > out[j].SourceCount
		}
		return out[i].GithubRepoID < out[j].GithubRepoID
	})
	if len(out) > keepTop {
		out = out[:keepTop]
	}
	return out
}
