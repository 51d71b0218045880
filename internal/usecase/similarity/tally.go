package similarity

import (
	"math"
	"sort"

	"stardiscover/internal/domain"
)

// Observation — факт «аккаунт отметил звездой один из семплированных репозиториев».
type Observation struct {
	Account string
	RepoID  int64
}

// RankOverlaps сводит наблюдения в ранжированный список похожих пользователей.
// Аккаунт получает одно очко за репозиторий, в выборке которого он встретился,
// сколько бы раз он там ни появлялся. Кандидаты сначала перебираются с запасом
// 2×maxUsers, затем отсекаются порогом minOverlap и обрезаются до maxUsers.
// Процент пересечения считается от числа семплированных репозиториев.
func RankOverlaps(observations []Observation, sampledRepoCount, minOverlap, maxUsers int) []domain.SimilarUser {
	if sampledRepoCount <= 0 || maxUsers <= 0 {
		return nil
	}

	seen := make(map[string]map[int64]struct{})
	for _, obs := range observations {
		if obs.Account == "" {
			continue
		}
		repos, ok := seen[obs.Account]
		if !ok {
			repos = make(map[int64]struct{})
			seen[obs.Account] = repos
		}
		repos[obs.RepoID] = struct{}{}
	}
	if len(seen) == 0 {
		return nil
	}

	type tally struct {
		account string
		count   int
	}
	tallies := make([]tally, 0, len(seen))
	for account, repos := range seen {
		tallies = append(tallies, tally{account: account, count: len(repos)})
	}
	// Тай-брейк по имени аккаунта даёт детерминированный результат
	// при одинаковых входных данных.
	sort.Slice(tallies, func(i, j int) bool {
		if tallies[i].count != tallies[j].count {
			return tallies[i].count > tallies[j].count
		}
		return tallies[i].account < tallies[j].account
	})

	if len(tallies) > maxUsers*2 {
		tallies = tallies[:maxUsers*2]
	}

	similar := make([]domain.SimilarUser, 0, maxUsers)
	for _, t := range tallies {
		if t.count < minOverlap {
			continue
		}
		percentage := float64(t.count) / float64(sampledRepoCount) * 100
		similar = append(similar, domain.SimilarUser{
			GithubUsername:    t.account,
			OverlapCount:      t.count,
			OverlapPercentage: math.Round(percentage*100) / 100,
		})
		if len(similar) == maxUsers {
			break
		}
	}
	return similar
}
