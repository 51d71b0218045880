package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"stardiscover/internal/domain"
	"stardiscover/internal/infra/metrics"
)

const (
	defaultBaseURL = "https://api.github.com"
	pageSize       = 100

	// Предохранитель на листинг собственных звёзд.
	ownStarsMaxPages = 50

	retryAttempts  = 3
	retryBaseDelay = time.Second
	retryMaxDelay  = 10 * time.Second

	// Дольше часа сброс квоты не ждём.
	rateLimitMaxWait = time.Hour

	stargazersCacheTTL  = 24 * time.Hour
	userStarredCacheTTL = 7 * 24 * time.Hour
)

// Config задаёт параметры шлюза.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	UserStarsPages int
	StargazersTTL  time.Duration
	UserStarredTTL time.Duration
}

// Factory создаёт клиентов под токен конкретного пользователя.
type Factory struct {
	cfg   Config
	cache domain.Cache
}

var _ domain.GatewayFactory = (*Factory)(nil)

// NewFactory создаёт фабрику шлюзов. Кэш может быть nil.
func NewFactory(cfg Config, cache domain.Cache) *Factory {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserStarsPages <= 0 {
		cfg.UserStarsPages = 5
	}
	if cfg.StargazersTTL <= 0 {
		cfg.StargazersTTL = stargazersCacheTTL
	}
	if cfg.UserStarredTTL <= 0 {
		cfg.UserStarredTTL = userStarredCacheTTL
	}
	return &Factory{cfg: cfg, cache: cache}
}

// ForToken возвращает шлюз, авторизованный указанным токеном.
func (f *Factory) ForToken(accessToken string) domain.RepoGateway {
	return NewClient(accessToken, f.cfg, f.cache)
}

// Client — кэширующий клиент REST API GitHub с повторами и учётом квоты.
type Client struct {
	http  *http.Client
	cfg   Config
	token string
	cache domain.Cache

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

var _ domain.RepoGateway = (*Client)(nil)

// NewClient создаёт клиента под один токен доступа.
func NewClient(accessToken string, cfg Config, cache domain.Cache) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserStarsPages <= 0 {
		cfg.UserStarsPages = 5
	}
	if cfg.StargazersTTL <= 0 {
		cfg.StargazersTTL = stargazersCacheTTL
	}
	if cfg.UserStarredTTL <= 0 {
		cfg.UserStarredTTL = userStarredCacheTTL
	}
	return &Client{
		http:  &http.Client{Timeout: cfg.Timeout},
		cfg:   cfg,
		token: accessToken,
		cache: cache,
		now:   time.Now,
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("github: unexpected status %d", e.status)
}

func (c *Client) getCached(key string, out any) bool {
	if c.cache == nil {
		return false
	}
	raw, err := c.cache.Get(key)
	if err != nil || len(raw) == 0 {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

func (c *Client) setCached(key string, value any, ttl time.Duration) {
	if c.cache == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = c.cache.Set(key, raw, ttl)
}

// get выполняет GET с повторами, экспоненциальной паузой и ожиданием сброса квоты.
func (c *Client) get(ctx context.Context, operation, path string, out any) error {
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			if delay > retryMaxDelay {
				delay = retryMaxDelay
			}
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
		}
		err := c.getOnce(ctx, operation, path, out, true)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrRateLimited) || errors.Is(err, domain.ErrUpstreamAuth) {
			return err
		}
		if statusErr, ok := err.(*httpStatusError); ok && statusErr.status >= 400 && statusErr.status < 500 {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("github: %s: %w", operation, lastErr)
}

func (c *Client) getOnce(ctx context.Context, operation, path string, out any, allowRateWait bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.ObserveNetworkRequest("github", operation, path, start, err)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return domain.ErrUpstreamAuth
	}
	if resp.StatusCode == http.StatusForbidden {
		remaining, _ := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining"))
		if remaining == 0 {
			reset, _ := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64)
			wait := time.Unix(reset, 0).Sub(c.now())
			if wait < 0 {
				wait = 0
			}
			wait += time.Second
			if !allowRateWait || wait >= rateLimitMaxWait {
				return domain.ErrRateLimited
			}
			io.Copy(io.Discard, resp.Body)
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
			// Квота восстановилась, одна повторная попытка.
			return c.getOnce(ctx, operation, path, out, false)
		}
		return &httpStatusError{status: resp.StatusCode}
	}
	if resp.StatusCode >= 400 {
		return &httpStatusError{status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ListStarred постранично выгружает все звёзды авторизованного пользователя.
func (c *Client) ListStarred(ctx context.Context) ([]domain.RemoteRepo, error) {
	var all []domain.RemoteRepo
	for page := 1; page <= ownStarsMaxPages; page++ {
		path := fmt.Sprintf("/user/starred?per_page=%d&page=%d", pageSize, page)
		var repos []domain.RemoteRepo
		if err := c.get(ctx, "list_starred", path, &repos); err != nil {
			return nil, err
		}
		if len(repos) == 0 {
			break
		}
		all = append(all, repos...)
	}
	return all, nil
}

// UserStarred выгружает звёзды произвольного пользователя, не больше maxPages страниц.
// Ошибка на очередной странице обрывает выгрузку без потери уже собранного.
func (c *Client) UserStarred(ctx context.Context, username string, maxPages int) ([]domain.RemoteRepo, error) {
	if maxPages <= 0 {
		maxPages = c.cfg.UserStarsPages
	}
	cacheKey := "user_starred:" + username
	var cached []domain.RemoteRepo
	if c.getCached(cacheKey, &cached) {
		return cached, nil
	}

	var all []domain.RemoteRepo
	for page := 1; page <= maxPages; page++ {
		path := fmt.Sprintf("/users/%s/starred?per_page=%d&page=%d", username, pageSize, page)
		var repos []domain.RemoteRepo
		if err := c.get(ctx, "user_starred", path, &repos); err != nil {
			if errors.Is(err, domain.ErrRateLimited) || errors.Is(err, domain.ErrUpstreamAuth) {
				return nil, err
			}
			break
		}
		if len(repos) == 0 {
			break
		}
		all = append(all, repos...)
	}

	c.setCached(cacheKey, all, c.cfg.UserStarredTTL)
	return all, nil
}

type stargazerPayload struct {
	Login string `json:"login"`
}

// Stargazers возвращает выборку аккаунтов, отметивших репозиторий звездой.
// Ошибка уровня HTTP-статуса даёт пустую выборку, а не отказ.
func (c *Client) Stargazers(ctx context.Context, owner, name string, sampleSize int) ([]string, error) {
	cacheKey := "stargazers:" + owner + "/" + name
	var cached []string
	if c.getCached(cacheKey, &cached) {
		return cached, nil
	}

	path := fmt.Sprintf("/repos/%s/%s/stargazers?per_page=%d", owner, name, sampleSize)
	var payload []stargazerPayload
	if err := c.get(ctx, "stargazers", path, &payload); err != nil {
		if errors.Is(err, domain.ErrRateLimited) || errors.Is(err, domain.ErrUpstreamAuth) {
			return nil, err
		}
		return nil, nil
	}

	logins := make([]string, 0, len(payload))
	for _, s := range payload {
		logins = append(logins, s.Login)
	}
	c.setCached(cacheKey, logins, c.cfg.StargazersTTL)
	return logins, nil
}

type rateLimitPayload struct {
	Resources struct {
		Core struct {
			Limit     int   `json:"limit"`
			Remaining int   `json:"remaining"`
			Reset     int64 `json:"reset"`
		} `json:"core"`
	} `json:"resources"`
}

// RateLimit возвращает текущее состояние квоты.
func (c *Client) RateLimit(ctx context.Context) (domain.RateLimitStatus, error) {
	var payload rateLimitPayload
	if err := c.get(ctx, "rate_limit", "/rate_limit", &payload); err != nil {
		return domain.RateLimitStatus{}, err
	}
	return domain.RateLimitStatus{
		Limit:     payload.Resources.Core.Limit,
		Remaining: payload.Resources.Core.Remaining,
		Reset:     time.Unix(payload.Resources.Core.Reset, 0),
	}, nil
}
