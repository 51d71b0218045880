package profile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"stardiscover/internal/domain"
)

// Промпты остаются на английском: на нём обучены используемые модели.
const tasteProfilePrompt = `Analyze this GitHub user's starred repositories and create a developer interest profile.

Starred Repositories (showing name, language, and description):
%s

Based on these repositories, create a detailed profile of this developer's interests.

Return a JSON object with these exact fields:
- "primary_interests": array of top 5 main technology areas they're interested in
- "languages": array of their preferred programming languages, ranked by frequency
- "project_types": array of types of projects they like (e.g., "frameworks", "cli-tools", "libraries", "devops", "web-apps")
- "themes": array of recurring themes across repos (e.g., "machine-learning", "web-development", "infrastructure", "productivity")
- "summary": a 2-3 sentence description of this developer's interests and focus areas

Example response format:
{
  "primary_interests": ["Machine Learning", "Web Development", "DevOps"],
  "languages": ["Python", "TypeScript", "Go"],
  "project_types": ["libraries", "cli-tools", "frameworks"],
  "themes": ["automation", "data-science", "cloud-native"],
  "summary": "A developer focused on..."
}`

// Профиль строится по верхушке звёзд: хвост добавляет шум, а не сигнал.
const profileSampleSize = 100

const (
	maxDescriptionChars = 100
	maxTopicsPerRepo    = 5
)

// Service строит вкусовой профиль пользователя по его звёздам.
type Service struct {
	users domain.UserRepo
	stars domain.StarRepo
	llm   domain.TextGenerator
	now   func() time.Time
	log   zerolog.Logger
}

// NewService создаёт построитель профилей.
func NewService(users domain.UserRepo, stars domain.StarRepo, llm domain.TextGenerator, log zerolog.Logger) *Service {
	return &Service{users: users, stars: stars, llm: llm, now: time.Now, log: log}
}

// Build строит профиль по топ-100 звёзд и сохраняет его в записи пользователя.
// Неразбираемый ответ модели не является ошибкой: прежний профиль остаётся
// нетронутым, возвращается (nil, nil).
func (s *Service) Build(ctx context.Context, userID int64) (*domain.TasteProfile, error) {
	repos, err := s.stars.ListStarred(userID, profileSampleSize, 0)
	if err != nil {
		return nil, fmt.Errorf("выборка звёзд: %w", err)
	}
	if len(repos) == 0 {
		return nil, nil
	}

	prompt := fmt.Sprintf(tasteProfilePrompt, formatRepoList(repos))

	var tp domain.TasteProfile
	ok, err := s.llm.GenerateJSON(ctx, prompt, 0, &tp)
	if err != nil {
		return nil, fmt.Errorf("генерация профиля: %w", err)
	}
	if !ok {
		s.log.Warn().Int64("user_id", userID).Msg("profile: модель вернула неразбираемый ответ, профиль не обновлён")
		return nil, nil
	}

	if err := s.users.SaveTasteProfile(userID, tp, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("сохранение профиля: %w", err)
	}
	s.log.Debug().Int64("user_id", userID).Msg("profile: профиль обновлён")
	return &tp, nil
}

func formatRepoList(repos []domain.StarredRepo) string {
	lines := make([]string, 0, len(repos))
	for _, r := range repos {
		lang := r.Language
		if lang == "" {
			lang = "unknown"
		}
		desc := r.Description
		// Режем по рунам: байтовый срез ломает многобайтовые описания.
		if runes := []rune(desc); len(runes) > maxDescriptionChars {
			desc = string(runes[:maxDescriptionChars])
		}
		topics := r.Topics
		if len(topics) > maxTopicsPerRepo {
			topics = topics[:maxTopicsPerRepo]
		}
		topicsStr := "no topics"
		if len(topics) > 0 {
			topicsStr = strings.Join(topics, ", ")
		}
		lines = append(lines, fmt.Sprintf("- %s (%s): %s [Topics: %s]", r.FullName, lang, desc, topicsStr))
	}
	return strings.Join(lines, "\n")
}

// FormatProfile возвращает профиль в виде читаемого markdown-текста.
func FormatProfile(tp *domain.TasteProfile) string {
	if tp == nil {
		return "No profile available"
	}
	summary := tp.Summary
	if summary == "" {
		summary = "N/A"
	}
	lines := []string{
		fmt.Sprintf("**Summary:** %s", summary),
		"",
		fmt.Sprintf("**Primary Interests:** %s", strings.Join(tp.PrimaryInterests, ", ")),
		fmt.Sprintf("**Preferred Languages:** %s", strings.Join(tp.Languages, ", ")),
		fmt.Sprintf("**Project Types:** %s", strings.Join(tp.ProjectTypes, ", ")),
		fmt.Sprintf("**Themes:** %s", strings.Join(tp.Themes, ", ")),
	}
	return strings.Join(lines, "\n")
}
