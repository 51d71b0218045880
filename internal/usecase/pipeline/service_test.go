package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"stardiscover/internal/domain"
)

type stubUserRepo struct {
	user domain.User
}

func (s *stubUserRepo) UpsertByGithubID(domain.GithubProfile) (domain.User, error) {
	return s.user, nil
}
func (s *stubUserRepo) GetByID(int64) (domain.User, error) { return s.user, nil }
func (s *stubUserRepo) SaveTasteProfile(int64, domain.TasteProfile, time.Time) error {
	return nil
}
func (s *stubUserRepo) ListUsersWithStars() ([]domain.User, error) { return nil, nil }

type stubStarRepo struct {
	count    int
	replaced []domain.StarredRepo
}

func (s *stubStarRepo) ReplaceStarred(_ int64, repos []domain.StarredRepo) error {
	s.replaced = repos
	return nil
}
func (s *stubStarRepo) ListStarred(int64, int, int) ([]domain.StarredRepo, error) {
	return nil, nil
}
func (s *stubStarRepo) ListStarredIDs(int64) (map[int64]struct{}, error) { return nil, nil }
func (s *stubStarRepo) CountStarred(int64) (int, error)                  { return s.count, nil }

type jobEvent struct {
	state    domain.JobState
	progress int
	message  string
}

type stubJobRepo struct {
	startErr error
	events   []jobEvent
}

func (s *stubJobRepo) StartJob(userID int64, kind domain.JobKind, message string) (domain.JobStatus, error) {
	if s.startErr != nil {
		return domain.JobStatus{}, s.startErr
	}
	s.events = append(s.events, jobEvent{state: domain.JobStateRunning, message: message})
	return domain.JobStatus{ID: 1, UserID: userID, Kind: kind, State: domain.JobStateRunning}, nil
}
func (s *stubJobRepo) UpdateJobProgress(_ int64, progress int, message string) error {
	s.events = append(s.events, jobEvent{state: domain.JobStateRunning, progress: progress, message: message})
	return nil
}
func (s *stubJobRepo) CompleteJob(_ int64, message string) error {
	s.events = append(s.events, jobEvent{state: domain.JobStateCompleted, progress: 100, message: message})
	return nil
}
func (s *stubJobRepo) FailJob(_ int64, message string) error {
	s.events = append(s.events, jobEvent{state: domain.JobStateFailed, message: message})
	return nil
}
func (s *stubJobRepo) LatestJob(int64, domain.JobKind) (domain.JobStatus, error) {
	return domain.JobStatus{}, domain.ErrJobNotFound
}

type stubGateway struct {
	starred []domain.RemoteRepo
	err     error
}

func (g *stubGateway) ListStarred(context.Context) ([]domain.RemoteRepo, error) {
	return g.starred, g.err
}
func (g *stubGateway) UserStarred(context.Context, string, int) ([]domain.RemoteRepo, error) {
	return nil, nil
}
func (g *stubGateway) Stargazers(context.Context, string, string, int) ([]string, error) {
	return nil, nil
}
func (g *stubGateway) RateLimit(context.Context) (domain.RateLimitStatus, error) {
	return domain.RateLimitStatus{}, nil
}

type stubFactory struct {
	gw domain.RepoGateway
}

func (f *stubFactory) ForToken(string) domain.RepoGateway { return f.gw }

type stubStages struct {
	profileErr    error
	similarityErr error
	candidatesErr error
	recommendErr  error
	calls         []string
	recs          []domain.Recommendation
}

func (s *stubStages) Build(context.Context, int64) (*domain.TasteProfile, error) {
	s.calls = append(s.calls, "profile")
	if s.profileErr != nil {
		return nil, s.profileErr
	}
	return &domain.TasteProfile{Summary: "ok"}, nil
}
func (s *stubStages) Discover(context.Context, int64, domain.RepoGateway) ([]domain.SimilarUser, error) {
	s.calls = append(s.calls, "similarity")
	return nil, s.similarityErr
}
func (s *stubStages) Gather(context.Context, int64, domain.RepoGateway) ([]domain.CandidateRepo, error) {
	s.calls = append(s.calls, "candidates")
	return nil, s.candidatesErr
}
func (s *stubStages) Generate(context.Context, int64) ([]domain.Recommendation, error) {
	s.calls = append(s.calls, "recommend")
	return s.recs, s.recommendErr
}

func newTestService(users *stubUserRepo, stars *stubStarRepo, jobs *stubJobRepo, gw domain.RepoGateway, stages *stubStages) *Service {
	return NewService(users, stars, jobs, &stubFactory{gw: gw}, stages, stages, stages, stages, zerolog.Nop())
}

func TestSyncStarsHappyPath(t *testing.T) {
	users := &stubUserRepo{user: domain.User{ID: 7, AccessToken: "t"}}
	stars := &stubStarRepo{}
	jobs := &stubJobRepo{}
	gw := &stubGateway{starred: []domain.RemoteRepo{{ID: 1, FullName: "octo/r", StarsCount: 5}}}
	svc := newTestService(users, stars, jobs, gw, &stubStages{})

	if err := svc.SyncStars(context.Background(), 7); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(stars.replaced) != 1 || stars.replaced[0].GithubRepoID != 1 {
		t.Fatalf("звёзды не сохранены: %+v", stars.replaced)
	}
	last := jobs.events[len(jobs.events)-1]
	if last.state != domain.JobStateCompleted || last.message != "Synced 1 starred repos" {
		t.Fatalf("неверное завершение: %+v", last)
	}
	mid := jobs.events[1]
	if mid.progress != 50 {
		t.Fatalf("ожидали прогресс 50, получили %d", mid.progress)
	}
}

func TestSyncStarsDuplicateRejected(t *testing.T) {
	users := &stubUserRepo{user: domain.User{ID: 7, AccessToken: "t"}}
	jobs := &stubJobRepo{startErr: domain.ErrJobAlreadyRunning}
	svc := newTestService(users, &stubStarRepo{}, jobs, &stubGateway{}, &stubStages{})

	err := svc.SyncStars(context.Background(), 7)
	if !errors.Is(err, domain.ErrJobAlreadyRunning) {
		t.Fatalf("ожидали ErrJobAlreadyRunning, получили %v", err)
	}
	if len(jobs.events) != 0 {
		t.Fatalf("при отказе в запуске журнал не должен меняться")
	}
}

func TestSyncStarsFailureRecorded(t *testing.T) {
	users := &stubUserRepo{user: domain.User{ID: 7, AccessToken: "t"}}
	jobs := &stubJobRepo{}
	gw := &stubGateway{err: errors.New("boom")}
	svc := newTestService(users, &stubStarRepo{}, jobs, gw, &stubStages{})

	if err := svc.SyncStars(context.Background(), 7); err == nil {
		t.Fatalf("ожидали ошибку")
	}
	last := jobs.events[len(jobs.events)-1]
	if last.state != domain.JobStateFailed {
		t.Fatalf("задача должна перейти в failed: %+v", last)
	}
	if last.message == "" {
		t.Fatalf("сообщение об ошибке должно сохраняться")
	}
}

func TestGenerateRecommendationsMilestones(t *testing.T) {
	users := &stubUserRepo{user: domain.User{ID: 7, AccessToken: "t"}}
	jobs := &stubJobRepo{}
	stages := &stubStages{recs: []domain.Recommendation{{ID: 1}, {ID: 2}}}
	svc := newTestService(users, &stubStarRepo{}, jobs, &stubGateway{}, stages)

	if err := svc.GenerateRecommendations(context.Background(), 7); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	var progress []int
	for _, e := range jobs.events {
		if e.state == domain.JobStateRunning && e.progress > 0 {
			progress = append(progress, e.progress)
		}
	}
	want := []int{10, 30, 60, 80}
	if len(progress) != len(want) {
		t.Fatalf("неверные вехи: %v", progress)
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Fatalf("неверные вехи: %v", progress)
		}
	}

	wantCalls := []string{"profile", "similarity", "candidates", "recommend"}
	for i := range wantCalls {
		if stages.calls[i] != wantCalls[i] {
			t.Fatalf("неверный порядок этапов: %v", stages.calls)
		}
	}

	last := jobs.events[len(jobs.events)-1]
	if last.state != domain.JobStateCompleted || last.message != "Generated 2 recommendations!" {
		t.Fatalf("неверное завершение: %+v", last)
	}
}

func TestGenerateRecommendationsStageFailureStopsPipeline(t *testing.T) {
	users := &stubUserRepo{user: domain.User{ID: 7, AccessToken: "t"}}
	jobs := &stubJobRepo{}
	stages := &stubStages{similarityErr: errors.New("upstream down")}
	svc := newTestService(users, &stubStarRepo{}, jobs, &stubGateway{}, stages)

	if err := svc.GenerateRecommendations(context.Background(), 7); err == nil {
		t.Fatalf("ожидали ошибку")
	}
	for _, call := range stages.calls {
		if call == "candidates" || call == "recommend" {
			t.Fatalf("этапы после сбоя не должны выполняться: %v", stages.calls)
		}
	}
	last := jobs.events[len(jobs.events)-1]
	if last.state != domain.JobStateFailed {
		t.Fatalf("задача должна перейти в failed: %+v", last)
	}
}

func TestScheduledRefreshMilestones(t *testing.T) {
	users := &stubUserRepo{user: domain.User{ID: 7, AccessToken: "t"}}
	stars := &stubStarRepo{count: 3}
	jobs := &stubJobRepo{}
	stages := &stubStages{recs: []domain.Recommendation{{ID: 1}}}
	gw := &stubGateway{starred: []domain.RemoteRepo{{ID: 1, FullName: "octo/r"}}}
	svc := newTestService(users, stars, jobs, gw, stages)

	if err := svc.ScheduledRefresh(context.Background(), 7); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	var progress []int
	for _, e := range jobs.events {
		if e.state == domain.JobStateRunning && e.progress > 0 {
			progress = append(progress, e.progress)
		}
	}
	want := []int{20, 40, 60, 80}
	if len(progress) != len(want) {
		t.Fatalf("неверные вехи: %v", progress)
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Fatalf("неверные вехи: %v", progress)
		}
	}
	last := jobs.events[len(jobs.events)-1]
	if last.state != domain.JobStateCompleted || last.message != "Generated 1 new recommendations" {
		t.Fatalf("неверное завершение: %+v", last)
	}
}

func TestScheduledRefreshSkipsUserWithoutStars(t *testing.T) {
	users := &stubUserRepo{user: domain.User{ID: 7, AccessToken: "t"}}
	jobs := &stubJobRepo{}
	svc := newTestService(users, &stubStarRepo{count: 0}, jobs, &stubGateway{}, &stubStages{})

	if err := svc.ScheduledRefresh(context.Background(), 7); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(jobs.events) != 0 {
		t.Fatalf("пользователь без звёзд пропускается без записи в журнале: %+v", jobs.events)
	}
}

func TestBuildProfileJob(t *testing.T) {
	users := &stubUserRepo{user: domain.User{ID: 7, AccessToken: "t"}}
	jobs := &stubJobRepo{}
	stages := &stubStages{}
	svc := newTestService(users, &stubStarRepo{}, jobs, &stubGateway{}, stages)

	if err := svc.BuildProfile(context.Background(), 7); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(stages.calls) != 1 || stages.calls[0] != "profile" {
		t.Fatalf("ожидали только этап профиля: %v", stages.calls)
	}
	last := jobs.events[len(jobs.events)-1]
	if last.state != domain.JobStateCompleted || last.message != "Taste profile updated" {
		t.Fatalf("неверное завершение: %+v", last)
	}
}

func TestRunDispatchesByKind(t *testing.T) {
	users := &stubUserRepo{user: domain.User{ID: 7, AccessToken: "t"}}
	jobs := &stubJobRepo{}
	stages := &stubStages{}
	svc := newTestService(users, &stubStarRepo{count: 1}, jobs, &stubGateway{}, stages)

	if err := svc.Run(context.Background(), domain.PipelineJob{UserID: 7, Kind: domain.JobKind("bogus")}); err == nil {
		t.Fatalf("неизвестный вид задачи должен давать ошибку")
	}
	if err := svc.Run(context.Background(), domain.PipelineJob{UserID: 7, Kind: domain.JobKindSyncStars}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
}
