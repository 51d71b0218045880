package recommend

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"stardiscover/internal/domain"
	"stardiscover/internal/infra/metrics"
)

// Промпты остаются на английском: на нём обучены используемые модели.
const scoringPrompt = `You are evaluating whether a GitHub repository would interest a specific developer.

Developer Profile:
%s

Repository to evaluate:
- Name: %s
- Description: %s
- Topics: %s
- Language: %s
- Stars: %d

Based on the developer's interests and this repository's focus, score the relevance from 0.0 to 1.0:
- 1.0 = Perfect match, exactly what they'd love
- 0.7-0.9 = Strong match, aligned with their interests
- 0.4-0.6 = Moderate match, somewhat related
- 0.1-0.3 = Weak match, tangentially related
- 0.0 = No match

Also provide a brief 1-2 sentence explanation of why this repo might (or might not) interest them.

Return ONLY a JSON object like this:
{"score": 0.85, "explanation": "This library aligns with their interest in..."}`

// Config задаёт границы оценки кандидатов.
type Config struct {
	MaxCandidates int
	TopN          int
	Threshold     float64
}

// Service оценивает кандидатов моделью и сохраняет батч рекомендаций.
type Service struct {
	users      domain.UserRepo
	candidates domain.CandidateRepoStore
	recs       domain.RecommendationRepo
	llm        domain.TextGenerator
	cfg        Config
	log        zerolog.Logger
}

// NewService создаёт генератор рекомендаций.
func NewService(users domain.UserRepo, candidates domain.CandidateRepoStore, recs domain.RecommendationRepo, llm domain.TextGenerator, cfg Config, log zerolog.Logger) *Service {
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 50
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 20
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.4
	}
	return &Service{users: users, candidates: candidates, recs: recs, llm: llm, cfg: cfg, log: log}
}

// scoreValue принимает и 0.85, и "0.85": модели путают типы.
type scoreValue float64

func (v *scoreValue) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("score: %w", err)
	}
	*v = scoreValue(parsed)
	return nil
}

// scoreResponse — JSON-ответ модели на запрос оценки.
type scoreResponse struct {
	Score       scoreValue `json:"score"`
	Explanation string     `json:"explanation"`
}

// Generate оценивает топ кандидатов против профиля пользователя последовательно,
// отбрасывает неразбираемые ответы и оценки ниже порога, сохраняет топ-N
// новым батчем. Без профиля генерация невозможна, возвращается nil.
func (s *Service) Generate(ctx context.Context, userID int64) ([]domain.Recommendation, error) {
	user, err := s.users.GetByID(userID)
	if err != nil {
		return nil, fmt.Errorf("выборка пользователя: %w", err)
	}
	if user.TasteProfile == nil {
		return nil, nil
	}

	cands, err := s.candidates.ListCandidates(userID, s.cfg.MaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("выборка кандидатов: %w", err)
	}
	if len(cands) == 0 {
		return nil, nil
	}

	profileText := formatProfile(user.TasteProfile)

	scored := make([]domain.Recommendation, 0, len(cands))
	for _, cand := range cands {
		score, explanation, ok, err := s.scoreCandidate(ctx, cand, profileText)
		if err != nil {
			return nil, fmt.Errorf("оценка %s: %w", cand.FullName, err)
		}
		if !ok {
			s.log.Warn().Str("repo", cand.FullName).Msg("recommend: ответ модели отброшен")
			continue
		}
		if score < s.cfg.Threshold {
			continue
		}
		scored = append(scored, domain.Recommendation{
			UserID:         userID,
			GithubRepoID:   cand.GithubRepoID,
			FullName:       cand.FullName,
			Description:    cand.Description,
			Topics:         cand.Topics,
			Language:       cand.Language,
			StarsCount:     cand.StarsCount,
			RelevanceScore: score,
			Explanation:    explanation,
			SourceUsers:    cand.SourceUsers,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].RelevanceScore > scored[j].RelevanceScore
	})
	if len(scored) > s.cfg.TopN {
		scored = scored[:s.cfg.TopN]
	}

	batchID := uuid.NewString()
	for i := range scored {
		scored[i].BatchID = batchID
	}

	if err := s.recs.SaveRecommendations(userID, batchID, scored); err != nil {
		return nil, fmt.Errorf("сохранение рекомендаций: %w", err)
	}
	metrics.RecommendationsGenerated.Add(float64(len(scored)))
	s.log.Info().Int64("user_id", userID).Str("batch_id", batchID).Int("recommendations", len(scored)).Msg("recommend: батч сохранён")
	return scored, nil
}

func (s *Service) scoreCandidate(ctx context.Context, cand domain.CandidateRepo, profileText string) (float64, string, bool, error) {
	desc := cand.Description
	if desc == "" {
		desc = "No description"
	}
	topics := "No topics"
	if len(cand.Topics) > 0 {
		topics = strings.Join(cand.Topics, ", ")
	}
	lang := cand.Language
	if lang == "" {
		lang = "Unknown"
	}
	prompt := fmt.Sprintf(scoringPrompt, profileText, cand.FullName, desc, topics, lang, cand.StarsCount)

	var resp scoreResponse
	ok, err := s.llm.GenerateJSON(ctx, prompt, 0, &resp)
	if err != nil {
		return 0, "", false, err
	}
	if !ok {
		return 0, "", false, nil
	}
	return float64(resp.Score), resp.Explanation, true, nil
}

func formatProfile(tp *domain.TasteProfile) string {
	summary := tp.Summary
	if summary == "" {
		summary = "N/A"
	}
	return fmt.Sprintf(`
Primary Interests: %s
Preferred Languages: %s
Project Types: %s
Themes: %s
Summary: %s
`,
		strings.Join(tp.PrimaryInterests, ", "),
		strings.Join(tp.Languages, ", "),
		strings.Join(tp.ProjectTypes, ", "),
		strings.Join(tp.Themes, ", "),
		summary,
	)
}
