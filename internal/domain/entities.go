package domain

import "time"

// User описывает пользователя GitHub в системе.
type User struct {
	ID                    int64
	GithubID              int64
	GithubUsername        string
	AvatarURL             string
	AccessToken           string
	TasteProfile          *TasteProfile
	TasteProfileUpdatedAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// TasteProfile — структурированный профиль интересов, построенный LLM.
type TasteProfile struct {
	PrimaryInterests []string `json:"primary_interests"`
	Languages        []string `json:"languages"`
	ProjectTypes     []string `json:"project_types"`
	Themes           []string `json:"themes"`
	Summary          string   `json:"summary"`
}

// StarredRepo — репозиторий со звездой пользователя.
// Набор полностью заменяется при каждой синхронизации.
type StarredRepo struct {
	ID           int64
	UserID       int64
	GithubRepoID int64
	FullName     string
	Description  string
	Topics       []string
	Language     string
	StarsCount   int
	ForksCount   int
	StarredAt    *time.Time
	FetchedAt    time.Time
}

// SimilarUser — аккаунт с пересечением звёзд с пользователем.
type SimilarUser struct {
	ID                int64
	UserID            int64
	GithubUsername    string
	OverlapCount      int
	OverlapPercentage float64
	DiscoveredAt      time.Time
}

// CandidateRepo — непросмотренный репозиторий из звёзд похожих пользователей.
type CandidateRepo struct {
	ID           int64
	UserID       int64
	GithubRepoID int64
	FullName     string
	Description  string
	Topics       []string
	Language     string
	StarsCount   int
	SourceCount  int
	SourceUsers  []string
	DiscoveredAt time.Time
}

// Recommendation — оценённый кандидат в составе батча.
type Recommendation struct {
	ID             int64
	UserID         int64
	GithubRepoID   int64
	FullName       string
	Description    string
	Topics         []string
	Language       string
	StarsCount     int
	RelevanceScore float64
	Explanation    string
	SourceUsers    []string
	BatchID        string
	CreatedAt      time.Time
}

// FeedbackType — тип отзыва на рекомендацию.
type FeedbackType string

const (
	// FeedbackThumbsUp — рекомендация понравилась.
	FeedbackThumbsUp FeedbackType = "thumbs_up"
	// FeedbackThumbsDown — рекомендация не понравилась.
	FeedbackThumbsDown FeedbackType = "thumbs_down"
	// FeedbackDismiss — рекомендация скрыта.
	FeedbackDismiss FeedbackType = "dismiss"
)

// ValidFeedbackType проверяет, что тип отзыва из допустимого набора.
func ValidFeedbackType(t FeedbackType) bool {
	switch t {
	case FeedbackThumbsUp, FeedbackThumbsDown, FeedbackDismiss:
		return true
	}
	return false
}

// Feedback — отзыв пользователя, один на пару (user, recommendation).
type Feedback struct {
	ID               int64
	UserID           int64
	RecommendationID int64
	Type             FeedbackType
	CreatedAt        time.Time
}

// RemoteRepo — репозиторий из ответа внешнего API.
type RemoteRepo struct {
	ID          int64    `json:"id"`
	FullName    string   `json:"full_name"`
	Description string   `json:"description"`
	Topics      []string `json:"topics"`
	Language    string   `json:"language"`
	StarsCount  int      `json:"stargazers_count"`
	ForksCount  int      `json:"forks_count"`
}

// RateLimitStatus — снимок квоты внешнего API.
type RateLimitStatus struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset"`
}
