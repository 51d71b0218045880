package profile

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"stardiscover/internal/domain"
)

type stubUserRepo struct {
	saved     *domain.TasteProfile
	savedAt   time.Time
	saveCalls int
}

func (s *stubUserRepo) UpsertByGithubID(domain.GithubProfile) (domain.User, error) {
	return domain.User{}, nil
}
func (s *stubUserRepo) GetByID(int64) (domain.User, error) { return domain.User{}, nil }
func (s *stubUserRepo) SaveTasteProfile(_ int64, profile domain.TasteProfile, updatedAt time.Time) error {
	s.saved = &profile
	s.savedAt = updatedAt
	s.saveCalls++
	return nil
}
func (s *stubUserRepo) ListUsersWithStars() ([]domain.User, error) { return nil, nil }

type stubStarRepo struct {
	starred []domain.StarredRepo
}

func (s *stubStarRepo) ReplaceStarred(int64, []domain.StarredRepo) error { return nil }
func (s *stubStarRepo) ListStarred(_ int64, limit, _ int) ([]domain.StarredRepo, error) {
	if limit > len(s.starred) {
		limit = len(s.starred)
	}
	return s.starred[:limit], nil
}
func (s *stubStarRepo) ListStarredIDs(int64) (map[int64]struct{}, error) { return nil, nil }
func (s *stubStarRepo) CountStarred(int64) (int, error)                  { return len(s.starred), nil }

type stubGenerator struct {
	payload string
	ok      bool
	prompt  string
}

func (g *stubGenerator) Generate(context.Context, string, int) (string, error) { return "", nil }
func (g *stubGenerator) GenerateJSON(_ context.Context, prompt string, _ int, out any) (bool, error) {
	g.prompt = prompt
	if !g.ok {
		return false, nil
	}
	return true, json.Unmarshal([]byte(g.payload), out)
}

func TestBuildSavesProfile(t *testing.T) {
	users := &stubUserRepo{}
	stars := &stubStarRepo{starred: []domain.StarredRepo{
		{FullName: "octo/ml", Language: "Python", Description: "machine learning toolkit", Topics: []string{"ml", "ai"}},
	}}
	gen := &stubGenerator{ok: true, payload: `{
		"primary_interests": ["Machine Learning"],
		"languages": ["Python"],
		"project_types": ["libraries"],
		"themes": ["data-science"],
		"summary": "ML developer"
	}`}
	svc := NewService(users, stars, gen, zerolog.Nop())
	fixed := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	got, err := svc.Build(context.Background(), 7)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got == nil || got.Summary != "ML developer" {
		t.Fatalf("неверный профиль: %+v", got)
	}
	if users.saved == nil || users.saved.Languages[0] != "Python" {
		t.Fatalf("профиль не сохранён: %+v", users.saved)
	}
	if !users.savedAt.Equal(fixed) {
		t.Fatalf("неверное время обновления: %v", users.savedAt)
	}
	if !strings.Contains(gen.prompt, "octo/ml (Python)") {
		t.Fatalf("промпт не содержит репозиторий: %s", gen.prompt)
	}
}

func TestBuildMalformedResponseKeepsPriorProfile(t *testing.T) {
	users := &stubUserRepo{}
	stars := &stubStarRepo{starred: []domain.StarredRepo{{FullName: "octo/one"}}}
	gen := &stubGenerator{ok: false}
	svc := NewService(users, stars, gen, zerolog.Nop())

	got, err := svc.Build(context.Background(), 7)
	if err != nil {
		t.Fatalf("неразбираемый ответ не должен давать ошибку: %v", err)
	}
	if got != nil {
		t.Fatalf("ожидали nil профиль, получили %+v", got)
	}
	if users.saveCalls != 0 {
		t.Fatalf("прежний профиль должен остаться нетронутым, сохранений: %d", users.saveCalls)
	}
}

func TestBuildNoStars(t *testing.T) {
	svc := NewService(&stubUserRepo{}, &stubStarRepo{}, &stubGenerator{}, zerolog.Nop())
	got, err := svc.Build(context.Background(), 7)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got != nil {
		t.Fatalf("ожидали nil без звёзд, получили %+v", got)
	}
}

func TestFormatRepoListTruncation(t *testing.T) {
	long := strings.Repeat("x", 200)
	repos := []domain.StarredRepo{{
		FullName:    "octo/big",
		Description: long,
		Topics:      []string{"a", "b", "c", "d", "e", "f", "g"},
	}}

	line := formatRepoList(repos)
	if strings.Contains(line, long) {
		t.Fatalf("описание должно обрезаться до 100 символов")
	}
	if !strings.Contains(line, "(unknown)") {
		t.Fatalf("пустой язык должен выводиться как unknown: %s", line)
	}
	if strings.Contains(line, "f") && strings.Contains(line, "Topics: a, b, c, d, e, f") {
		t.Fatalf("темы должны обрезаться до пяти: %s", line)
	}
}

func TestFormatRepoListTruncatesByRunes(t *testing.T) {
	desc := strings.Repeat("я", 99) + "日本語"
	repos := []domain.StarredRepo{{
		FullName:    "octo/utf8",
		Description: desc,
		Language:    "Go",
	}}

	line := formatRepoList(repos)
	want := strings.Repeat("я", 99) + "日"
	if !strings.Contains(line, want) {
		t.Fatalf("описание должно обрезаться по рунам, а не по байтам: %s", line)
	}
	if strings.Contains(line, "日本") {
		t.Fatalf("ожидали ровно 100 символов описания: %s", line)
	}
	if !utf8.ValidString(line) {
		t.Fatalf("обрезка не должна рвать многобайтовую руну")
	}
}

func TestFormatProfile(t *testing.T) {
	text := FormatProfile(&domain.TasteProfile{
		PrimaryInterests: []string{"ML", "DevOps"},
		Languages:        []string{"Go"},
		Summary:          "краткое описание",
	})
	if !strings.Contains(text, "**Summary:** краткое описание") {
		t.Fatalf("нет summary: %s", text)
	}
	if !strings.Contains(text, "ML, DevOps") {
		t.Fatalf("нет интересов: %s", text)
	}

	if FormatProfile(nil) != "No profile available" {
		t.Fatalf("неверный текст для отсутствующего профиля")
	}
}
