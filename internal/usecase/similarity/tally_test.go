package similarity

import (
	"reflect"
	"testing"
)

func obs(account string, repoID int64) Observation {
	return Observation{Account: account, RepoID: repoID}
}

func TestRankOverlapsCountsDistinctRepos(t *testing.T) {
	observations := []Observation{
		obs("alice", 1), obs("alice", 2), obs("alice", 3),
		obs("bob", 1), obs("bob", 2),
		obs("carol", 1),
	}

	got := RankOverlaps(observations, 10, 3, 50)
	if len(got) != 1 {
		t.Fatalf("ожидали 1 пользователя выше порога, получили %d", len(got))
	}
	if got[0].GithubUsername != "alice" {
		t.Fatalf("ожидали alice, получили %s", got[0].GithubUsername)
	}
	if got[0].OverlapCount != 3 {
		t.Fatalf("ожидали пересечение 3, получили %d", got[0].OverlapCount)
	}
	if got[0].OverlapPercentage != 30 {
		t.Fatalf("ожидали 30%%, получили %v", got[0].OverlapPercentage)
	}
}

func TestRankOverlapsIgnoresDuplicateObservations(t *testing.T) {
	observations := []Observation{
		obs("alice", 1), obs("alice", 1), obs("alice", 1),
	}

	got := RankOverlaps(observations, 5, 1, 50)
	if len(got) != 1 {
		t.Fatalf("ожидали 1 пользователя, получили %d", len(got))
	}
	if got[0].OverlapCount != 1 {
		t.Fatalf("повторные наблюдения одного репозитория не должны накапливаться, получили %d", got[0].OverlapCount)
	}
}

func TestRankOverlapsPercentageRounding(t *testing.T) {
	observations := []Observation{
		obs("alice", 1), obs("alice", 2), obs("alice", 3),
	}

	got := RankOverlaps(observations, 7, 3, 50)
	if len(got) != 1 {
		t.Fatalf("ожидали 1 пользователя, получили %d", len(got))
	}
	// 3/7*100 = 42.857..., округление до двух знаков.
	if got[0].OverlapPercentage != 42.86 {
		t.Fatalf("ожидали 42.86, получили %v", got[0].OverlapPercentage)
	}
}

func TestRankOverlapsCapAndTieBreak(t *testing.T) {
	observations := []Observation{
		obs("zeta", 1), obs("zeta", 2), obs("zeta", 3),
		obs("alpha", 1), obs("alpha", 2), obs("alpha", 3),
		obs("mid", 1), obs("mid", 2), obs("mid", 3), obs("mid", 4),
	}

	got := RankOverlaps(observations, 10, 3, 2)
	if len(got) != 2 {
		t.Fatalf("ожидали обрезку до 2, получили %d", len(got))
	}
	names := []string{got[0].GithubUsername, got[1].GithubUsername}
	// mid лидирует по счёту, при равенстве побеждает меньшее имя.
	if !reflect.DeepEqual(names, []string{"mid", "alpha"}) {
		t.Fatalf("неверный порядок: %v", names)
	}
}

func TestRankOverlapsDeterministic(t *testing.T) {
	observations := []Observation{
		obs("b", 1), obs("b", 2), obs("b", 3),
		obs("a", 1), obs("a", 2), obs("a", 3),
		obs("c", 1), obs("c", 2), obs("c", 3),
	}

	first := RankOverlaps(observations, 10, 3, 50)
	for i := 0; i < 10; i++ {
		again := RankOverlaps(observations, 10, 3, 50)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("результат должен быть детерминированным: %v != %v", first, again)
		}
	}
}

func TestRankOverlapsEmptyInput(t *testing.T) {
	if got := RankOverlaps(nil, 10, 3, 50); got != nil {
		t.Fatalf("ожидали nil для пустого входа, получили %v", got)
	}
	if got := RankOverlaps([]Observation{obs("a", 1)}, 0, 1, 50); got != nil {
		t.Fatalf("ожидали nil при нулевой выборке, получили %v", got)
	}
}
