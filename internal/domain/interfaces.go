package domain

import (
	"context"
	"errors"
	"time"
)

// ErrUserNotFound возвращается, когда пользователь отсутствует в БД.
var ErrUserNotFound = errors.New("user not found")

// ErrRateLimited возвращается, когда квота внешнего API исчерпана и ждать сброса слишком долго.
var ErrRateLimited = errors.New("upstream rate limit exceeded")

// ErrUpstreamAuth возвращается при отказе внешнего API в авторизации.
var ErrUpstreamAuth = errors.New("upstream authorization failed")

// GithubProfile — данные аккаунта, пришедшие с OAuth-границы.
type GithubProfile struct {
	GithubID       int64
	GithubUsername string
	AvatarURL      string
	AccessToken    string
}

// UserRepo управляет пользователями.
type UserRepo interface {
	UpsertByGithubID(profile GithubProfile) (User, error)
	GetByID(userID int64) (User, error)
	SaveTasteProfile(userID int64, profile TasteProfile, updatedAt time.Time) error
	ListUsersWithStars() ([]User, error)
}

// StarRepo управляет звёздами пользователя.
type StarRepo interface {
	ReplaceStarred(userID int64, repos []StarredRepo) error
	ListStarred(userID int64, limit, offset int) ([]StarredRepo, error)
	ListStarredIDs(userID int64) (map[int64]struct{}, error)
	CountStarred(userID int64) (int, error)
}

// SimilarUserRepo управляет похожими пользователями.
type SimilarUserRepo interface {
	ReplaceSimilar(userID int64, similar []SimilarUser) error
	ListSimilar(userID int64, limit int) ([]SimilarUser, error)
}

// CandidateRepoStore управляет кандидатами.
type CandidateRepoStore interface {
	ReplaceCandidates(userID int64, candidates []CandidateRepo) error
	ListCandidates(userID int64, limit int) ([]CandidateRepo, error)
}

// RecommendationRepo сохраняет и возвращает батчи рекомендаций.
type RecommendationRepo interface {
	SaveRecommendations(userID int64, batchID string, recs []Recommendation) error
	LatestBatchID(userID int64) (string, error)
	ListRecommendations(userID int64, batchID string, limit, offset int) ([]Recommendation, error)
	GetRecommendation(userID, recommendationID int64) (Recommendation, error)
}

// FeedbackRepo управляет отзывами на рекомендации.
type FeedbackRepo interface {
	UpsertFeedback(userID, recommendationID int64, feedbackType FeedbackType) error
	FeedbackForRecommendations(userID int64, recommendationIDs []int64) (map[int64]FeedbackType, error)
}

// RepoGateway — клиент внешнего API репозиториев для одного токена доступа.
type RepoGateway interface {
	ListStarred(ctx context.Context) ([]RemoteRepo, error)
	UserStarred(ctx context.Context, username string, maxPages int) ([]RemoteRepo, error)
	Stargazers(ctx context.Context, owner, name string, sampleSize int) ([]string, error)
	RateLimit(ctx context.Context) (RateLimitStatus, error)
}

// GatewayFactory создаёт RepoGateway под токен конкретного пользователя.
type GatewayFactory interface {
	ForToken(accessToken string) RepoGateway
}

// TextGenerator — клиент генеративного текстового сервиса.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	// GenerateJSON декодирует JSON-ответ модели в out.
	// ok=false без ошибки означает неразбираемый ответ.
	GenerateJSON(ctx context.Context, prompt string, maxTokens int, out any) (bool, error)
}

// Cache используется для простых TTL-хранилищ. Отсутствие кэша не является ошибкой.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}
