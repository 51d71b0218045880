package candidates

import (
	"reflect"
	"testing"

	"stardiscover/internal/domain"
)

func repo(id int64, name string) domain.RemoteRepo {
	return domain.RemoteRepo{ID: id, FullName: name}
}

func TestAggregateExcludesOwnStars(t *testing.T) {
	sightings := []Sighting{
		{Account: "alice", Repo: repo(1, "octo/own")},
		{Account: "alice", Repo: repo(2, "octo/new")},
	}
	exclude := map[int64]struct{}{1: {}}

	got := Aggregate(sightings, exclude, 100)
	if len(got) != 1 {
		t.Fatalf("ожидали 1 кандидата, получили %d", len(got))
	}
	if got[0].GithubRepoID != 2 {
		t.Fatalf("собственная звезда не исключена: %+v", got[0])
	}
}

func TestAggregateSourceCountMatchesSourceUsers(t *testing.T) {
	sightings := []Sighting{
		{Account: "alice", Repo: repo(1, "octo/a")},
		{Account: "bob", Repo: repo(1, "octo/a")},
		{Account: "alice", Repo: repo(1, "octo/a")},
	}

	got := Aggregate(sightings, nil, 100)
	if len(got) != 1 {
		t.Fatalf("ожидали 1 кандидата, получили %d", len(got))
	}
	if got[0].SourceCount != 2 {
		t.Fatalf("ожидали source_count=2, получили %d", got[0].SourceCount)
	}
	if got[0].SourceCount != len(got[0].SourceUsers) {
		t.Fatalf("source_count должен совпадать с числом источников: %d != %d", got[0].SourceCount, len(got[0].SourceUsers))
	}
	if !reflect.DeepEqual(got[0].SourceUsers, []string{"alice", "bob"}) {
		t.Fatalf("неверные источники: %v", got[0].SourceUsers)
	}
}

func TestAggregateOrderAndTieBreak(t *testing.T) {
	sightings := []Sighting{
		{Account: "alice", Repo: repo(30, "octo/c")},
		{Account: "bob", Repo: repo(30, "octo/c")},
		{Account: "alice", Repo: repo(20, "octo/b")},
		{Account: "alice", Repo: repo(10, "octo/a")},
	}

	got := Aggregate(sightings, nil, 100)
	var ids []int64
	for _, c := range got {
		ids = append(ids, c.GithubRepoID)
	}
	// Сначала по числу источников, при равенстве по идентификатору.
	if !reflect.DeepEqual(ids, []int64{30, 10, 20}) {
		t.Fatalf("неверный порядок: %v", ids)
	}
}

func TestAggregateKeepTop(t *testing.T) {
	var sightings []Sighting
	for i := int64(1); i <= 10; i++ {
		sightings = append(sightings, Sighting{Account: "alice", Repo: repo(i, "octo/r")})
	}

	got := Aggregate(sightings, nil, 3)
	if len(got) != 3 {
		t.Fatalf("ожидали обрезку до 3, получили %d", len(got))
	}
}
