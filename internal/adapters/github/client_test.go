package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"stardiscover/internal/domain"
)

type memoryCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string][]byte)}
}

func (c *memoryCache) Once(string, time.Duration, func() error) error { return nil }
func (c *memoryCache) Set(key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}
func (c *memoryCache) Get(key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.data[key]
	if !ok {
		return nil, errors.New("cache miss")
	}
	return value, nil
}

func newTestClient(t *testing.T, handler http.Handler, cache domain.Cache) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient("token", Config{BaseURL: srv.URL, Timeout: time.Second}, cache)
	client.sleep = func(context.Context, time.Duration) error { return nil }
	return client, srv
}

func writeRepos(w http.ResponseWriter, repos []domain.RemoteRepo) {
	_ = json.NewEncoder(w).Encode(repos)
}

func TestListStarredPaginatesUntilEmptyPage(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page > 2 {
			writeRepos(w, nil)
			return
		}
		var repos []domain.RemoteRepo
		for i := 0; i < 100; i++ {
			repos = append(repos, domain.RemoteRepo{ID: int64(page*1000 + i), FullName: "octo/r"})
		}
		writeRepos(w, repos)
	}), nil)

	repos, err := client.ListStarred(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(repos) != 200 {
		t.Fatalf("ожидали 200 репозиториев с двух страниц, получили %d", len(repos))
	}
}

func TestGetWaitsForRateLimitReset(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	var calls int
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(now.Unix()+10, 10))
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if page, _ := strconv.Atoi(r.URL.Query().Get("page")); page > 1 {
			writeRepos(w, nil)
			return
		}
		writeRepos(w, []domain.RemoteRepo{{ID: 1, FullName: "octo/r"}})
	}), nil)
	client.now = func() time.Time { return now }

	var waited time.Duration
	client.sleep = func(_ context.Context, d time.Duration) error {
		waited += d
		return nil
	}

	repos, err := client.ListStarred(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(repos) != 1 {
		t.Fatalf("ожидали успешный повтор после ожидания, получили %d репозиториев", len(repos))
	}
	// Ожидание равно времени до сброса плюс секунда.
	if waited != 11*time.Second {
		t.Fatalf("ожидали паузу 11s, получили %v", waited)
	}
}

func TestGetRateLimitTooLongReturnsSentinel(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(2*time.Hour).Unix(), 10))
		w.WriteHeader(http.StatusForbidden)
	}), nil)
	client.now = func() time.Time { return now }

	_, err := client.ListStarred(context.Background())
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("ожидали ErrRateLimited, получили %v", err)
	}
}

func TestGetUnauthorizedReturnsSentinel(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}), nil)

	_, err := client.ListStarred(context.Background())
	if !errors.Is(err, domain.ErrUpstreamAuth) {
		t.Fatalf("ожидали ErrUpstreamAuth, получили %v", err)
	}
}

func TestUserStarredUsesCache(t *testing.T) {
	var calls int
	cache := newMemoryCache()
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page > 1 {
			writeRepos(w, nil)
			return
		}
		writeRepos(w, []domain.RemoteRepo{{ID: 1, FullName: "octo/r"}})
	}), cache)

	first, err := client.UserStarred(context.Background(), "alice", 5)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	second, err := client.UserStarred(context.Background(), "alice", 5)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("неверные результаты: %d и %d", len(first), len(second))
	}
	if calls != 2 {
		t.Fatalf("повторный вызов должен идти из кэша, запросов было %d", calls)
	}
}

func TestUserStarredKeepsPartialOnPageError(t *testing.T) {
	var calls int
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page == 1 {
			var repos []domain.RemoteRepo
			for i := 0; i < 100; i++ {
				repos = append(repos, domain.RemoteRepo{ID: int64(i), FullName: "octo/r"})
			}
			writeRepos(w, repos)
			return
		}
		http.Error(w, "not found", http.StatusNotFound)
	}), nil)

	repos, err := client.UserStarred(context.Background(), "alice", 5)
	if err != nil {
		t.Fatalf("ошибка страницы не должна терять собранное: %v", err)
	}
	if len(repos) != 100 {
		t.Fatalf("ожидали 100 репозиториев с первой страницы, получили %d", len(repos))
	}
}

func TestStargazersErrorYieldsEmptySample(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}), nil)

	logins, err := client.Stargazers(context.Background(), "octo", "gone", 50)
	if err != nil {
		t.Fatalf("недоступный репозиторий не должен давать ошибку: %v", err)
	}
	if len(logins) != 0 {
		t.Fatalf("ожидали пустую выборку, получили %v", logins)
	}
}

func TestStargazersRateLimitPropagates(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(2*time.Hour).Unix(), 10))
		w.WriteHeader(http.StatusForbidden)
	}), nil)
	client.now = func() time.Time { return now }

	_, err := client.Stargazers(context.Background(), "octo", "busy", 50)
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("ожидали ErrRateLimited, получили %v", err)
	}
}

func TestRateLimitParsesCoreResource(t *testing.T) {
	reset := time.Now().Add(30 * time.Minute).Unix()
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"resources":{"core":{"limit":5000,"remaining":4200,"reset":%d}}}`, reset)
	}), nil)

	status, err := client.RateLimit(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if status.Limit != 5000 || status.Remaining != 4200 {
		t.Fatalf("неверная квота: %+v", status)
	}
	if status.Reset.Unix() != reset {
		t.Fatalf("неверное время сброса: %v", status.Reset)
	}
}
