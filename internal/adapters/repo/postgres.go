package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"stardiscover/internal/domain"
	"stardiscover/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.UserRepo           = (*Postgres)(nil)
	_ domain.StarRepo           = (*Postgres)(nil)
	_ domain.SimilarUserRepo    = (*Postgres)(nil)
	_ domain.CandidateRepoStore = (*Postgres)(nil)
	_ domain.RecommendationRepo = (*Postgres)(nil)
	_ domain.FeedbackRepo       = (*Postgres)(nil)
	_ domain.JobRepo            = (*Postgres)(nil)
)

const uniqueViolation = "23505"

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func marshalStrings(values []string) []byte {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return []byte("[]")
	}
	return raw
}

func unmarshalStrings(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	return values
}

// UpsertByGithubID реализует domain.UserRepo.
func (p *Postgres) UpsertByGithubID(profile domain.GithubProfile) (domain.User, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var user domain.User
	var profileRaw []byte
	var profileAt sql.NullTime

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO users (github_id, github_username, avatar_url, access_token)
VALUES ($1, $2, NULLIF($3,''), $4)
ON CONFLICT (github_id) DO UPDATE SET github_username = EXCLUDED.github_username, avatar_url = EXCLUDED.avatar_url, access_token = EXCLUDED.access_token, updated_at = now()
RETURNING id, github_id, github_username, COALESCE(avatar_url,''), access_token, taste_profile, taste_profile_updated_at, created_at, updated_at
`, profile.GithubID, profile.GithubUsername, profile.AvatarURL, profile.AccessToken).
		Scan(&user.ID, &user.GithubID, &user.GithubUsername, &user.AvatarURL, &user.AccessToken, &profileRaw, &profileAt, &user.CreatedAt, &user.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "users_upsert", "users", start, err)
	if err != nil {
		return domain.User{}, err
	}
	fillProfile(&user, profileRaw, profileAt)
	return user, nil
}

// GetByID возвращает пользователя по внутреннему идентификатору.
func (p *Postgres) GetByID(userID int64) (domain.User, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var user domain.User
	var profileRaw []byte
	var profileAt sql.NullTime

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, github_id, github_username, COALESCE(avatar_url,''), access_token, taste_profile, taste_profile_updated_at, created_at, updated_at
FROM users WHERE id=$1
`, userID).Scan(&user.ID, &user.GithubID, &user.GithubUsername, &user.AvatarURL, &user.AccessToken, &profileRaw, &profileAt, &user.CreatedAt, &user.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "users_get", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	fillProfile(&user, profileRaw, profileAt)
	return user, nil
}

func fillProfile(user *domain.User, raw []byte, at sql.NullTime) {
	if len(raw) > 0 {
		var profile domain.TasteProfile
		if err := json.Unmarshal(raw, &profile); err == nil {
			user.TasteProfile = &profile
		}
	}
	if at.Valid {
		ts := at.Time
		user.TasteProfileUpdatedAt = &ts
	}
}

// SaveTasteProfile перезаписывает профиль интересов одним запросом.
func (p *Postgres) SaveTasteProfile(userID int64, profile domain.TasteProfile, updatedAt time.Time) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	raw, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	start := time.Now()
	_, err = p.pool.Exec(ctx, `
UPDATE users SET taste_profile=$2, taste_profile_updated_at=$3, updated_at=now() WHERE id=$1
`, userID, raw, updatedAt)
	metrics.ObserveNetworkRequest("postgres", "users_save_profile", "users", start, err)
	return err
}

// ListUsersWithStars возвращает пользователей, у которых есть хотя бы одна звезда.
func (p *Postgres) ListUsersWithStars() ([]domain.User, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT DISTINCT u.id, u.github_id, u.github_username, COALESCE(u.avatar_url,''), u.access_token, u.taste_profile, u.taste_profile_updated_at, u.created_at, u.updated_at
FROM users u JOIN starred_repos sr ON sr.user_id = u.id
ORDER BY u.id
`)
	metrics.ObserveNetworkRequest("postgres", "users_list_with_stars", "users", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var user domain.User
		var profileRaw []byte
		var profileAt sql.NullTime
		if err := rows.Scan(&user.ID, &user.GithubID, &user.GithubUsername, &user.AvatarURL, &user.AccessToken, &profileRaw, &profileAt, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, err
		}
		fillProfile(&user, profileRaw, profileAt)
		users = append(users, user)
	}
	return users, rows.Err()
}

// ReplaceStarred полностью заменяет звёзды пользователя в одной транзакции.
func (p *Postgres) ReplaceStarred(userID int64, repos []domain.StarredRepo) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "starred_repos", start, err)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	_, err = tx.Exec(ctx, `DELETE FROM starred_repos WHERE user_id=$1`, userID)
	metrics.ObserveNetworkRequest("postgres", "starred_delete", "starred_repos", start, err)
	if err != nil {
		return err
	}

	start = time.Now()
	for _, repo := range repos {
		var starredAt sql.NullTime
		if repo.StarredAt != nil {
			starredAt = sql.NullTime{Time: *repo.StarredAt, Valid: true}
		}
		_, err = tx.Exec(ctx, `
INSERT INTO starred_repos (user_id, github_repo_id, full_name, description, topics, language, stars_count, forks_count, starred_at)
VALUES ($1, $2, $3, NULLIF($4,''), $5, NULLIF($6,''), $7, $8, $9)
ON CONFLICT (user_id, github_repo_id) DO NOTHING
`, userID, repo.GithubRepoID, repo.FullName, repo.Description, marshalStrings(repo.Topics), repo.Language, repo.StarsCount, repo.ForksCount, starredAt)
		if err != nil {
			metrics.ObserveNetworkRequest("postgres", "starred_insert", "starred_repos", start, err)
			return err
		}
	}
	metrics.ObserveNetworkRequest("postgres", "starred_insert", "starred_repos", start, nil)

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "starred_repos", start, err)
	return err
}

// ListStarred возвращает звёзды пользователя по убыванию числа звёзд репозитория.
func (p *Postgres) ListStarred(userID int64, limit, offset int) ([]domain.StarredRepo, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, user_id, github_repo_id, full_name, COALESCE(description,''), topics, COALESCE(language,''), stars_count, forks_count, starred_at, fetched_at
FROM starred_repos WHERE user_id=$1
ORDER BY stars_count DESC, github_repo_id ASC
LIMIT $2 OFFSET $3
`, userID, limit, offset)
	metrics.ObserveNetworkRequest("postgres", "starred_list", "starred_repos", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []domain.StarredRepo
	for rows.Next() {
		var repo domain.StarredRepo
		var topicsRaw []byte
		var starredAt sql.NullTime
		if err := rows.Scan(&repo.ID, &repo.UserID, &repo.GithubRepoID, &repo.FullName, &repo.Description, &topicsRaw, &repo.Language, &repo.StarsCount, &repo.ForksCount, &starredAt, &repo.FetchedAt); err != nil {
			return nil, err
		}
		repo.Topics = unmarshalStrings(topicsRaw)
		if starredAt.Valid {
			ts := starredAt.Time
			repo.StarredAt = &ts
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

// ListStarredIDs возвращает множество идентификаторов звёзд пользователя.
func (p *Postgres) ListStarredIDs(userID int64) (map[int64]struct{}, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT github_repo_id FROM starred_repos WHERE user_id=$1`, userID)
	metrics.ObserveNetworkRequest("postgres", "starred_list_ids", "starred_repos", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// CountStarred возвращает количество звёзд пользователя.
func (p *Postgres) CountStarred(userID int64) (int, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	var count int
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM starred_repos WHERE user_id=$1`, userID).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "starred_count", "starred_repos", start, err)
	return count, err
}

// ReplaceSimilar полностью заменяет похожих пользователей.
func (p *Postgres) ReplaceSimilar(userID int64, similar []domain.SimilarUser) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "similar_users", start, err)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	_, err = tx.Exec(ctx, `DELETE FROM similar_users WHERE user_id=$1`, userID)
	metrics.ObserveNetworkRequest("postgres", "similar_delete", "similar_users", start, err)
	if err != nil {
		return err
	}

	start = time.Now()
	for _, su := range similar {
		_, err = tx.Exec(ctx, `
INSERT INTO similar_users (user_id, github_username, overlap_count, overlap_percentage)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, github_username) DO NOTHING
`, userID, su.GithubUsername, su.OverlapCount, su.OverlapPercentage)
		if err != nil {
			metrics.ObserveNetworkRequest("postgres", "similar_insert", "similar_users", start, err)
			return err
		}
	}
	metrics.ObserveNetworkRequest("postgres", "similar_insert", "similar_users", start, nil)

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "similar_users", start, err)
	return err
}

// ListSimilar возвращает похожих пользователей по убыванию пересечения.
func (p *Postgres) ListSimilar(userID int64, limit int) ([]domain.SimilarUser, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, user_id, github_username, overlap_count, overlap_percentage, discovered_at
FROM similar_users WHERE user_id=$1
ORDER BY overlap_count DESC, github_username ASC
LIMIT $2
`, userID, limit)
	metrics.ObserveNetworkRequest("postgres", "similar_list", "similar_users", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var similar []domain.SimilarUser
	for rows.Next() {
		var su domain.SimilarUser
		if err := rows.Scan(&su.ID, &su.UserID, &su.GithubUsername, &su.OverlapCount, &su.OverlapPercentage, &su.DiscoveredAt); err != nil {
			return nil, err
		}
		similar = append(similar, su)
	}
	return similar, rows.Err()
}

// ReplaceCandidates полностью заменяет кандидатов пользователя.
func (p *Postgres) ReplaceCandidates(userID int64, candidates []domain.CandidateRepo) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "candidate_repos", start, err)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	_, err = tx.Exec(ctx, `DELETE FROM candidate_repos WHERE user_id=$1`, userID)
	metrics.ObserveNetworkRequest("postgres", "candidates_delete", "candidate_repos", start, err)
	if err != nil {
		return err
	}

	start = time.Now()
	for _, c := range candidates {
		_, err = tx.Exec(ctx, `
INSERT INTO candidate_repos (user_id, github_repo_id, full_name, description, topics, language, stars_count, source_count, source_users)
VALUES ($1, $2, $3, NULLIF($4,''), $5, NULLIF($6,''), $7, $8, $9)
ON CONFLICT (user_id, github_repo_id) DO NOTHING
`, userID, c.GithubRepoID, c.FullName, c.Description, marshalStrings(c.Topics), c.Language, c.StarsCount, c.SourceCount, marshalStrings(c.SourceUsers))
		if err != nil {
			metrics.ObserveNetworkRequest("postgres", "candidates_insert", "candidate_repos", start, err)
			return err
		}
	}
	metrics.ObserveNetworkRequest("postgres", "candidates_insert", "candidate_repos", start, nil)

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "candidate_repos", start, err)
	return err
}

// ListCandidates возвращает кандидатов по убыванию числа источников.
func (p *Postgres) ListCandidates(userID int64, limit int) ([]domain.CandidateRepo, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, user_id, github_repo_id, full_name, COALESCE(description,''), topics, COALESCE(language,''), stars_count, source_count, source_users, discovered_at
FROM candidate_repos WHERE user_id=$1
ORDER BY source_count DESC, github_repo_id ASC
LIMIT $2
`, userID, limit)
	metrics.ObserveNetworkRequest("postgres", "candidates_list", "candidate_repos", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []domain.CandidateRepo
	for rows.Next() {
		var c domain.CandidateRepo
		var topicsRaw, sourcesRaw []byte
		if err := rows.Scan(&c.ID, &c.UserID, &c.GithubRepoID, &c.FullName, &c.Description, &topicsRaw, &c.Language, &c.StarsCount, &c.SourceCount, &sourcesRaw, &c.DiscoveredAt); err != nil {
			return nil, err
		}
		c.Topics = unmarshalStrings(topicsRaw)
		c.SourceUsers = unmarshalStrings(sourcesRaw)
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// SaveRecommendations добавляет батч рекомендаций. Прошлые батчи не затрагиваются.
func (p *Postgres) SaveRecommendations(userID int64, batchID string, recs []domain.Recommendation) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "recommendations", start, err)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	for _, rec := range recs {
		_, err = tx.Exec(ctx, `
INSERT INTO recommendations (user_id, github_repo_id, full_name, description, topics, language, stars_count, relevance_score, explanation, source_users, batch_id)
VALUES ($1, $2, $3, NULLIF($4,''), $5, NULLIF($6,''), $7, $8, $9, $10, $11)
`, userID, rec.GithubRepoID, rec.FullName, rec.Description, marshalStrings(rec.Topics), rec.Language, rec.StarsCount, rec.RelevanceScore, rec.Explanation, marshalStrings(rec.SourceUsers), batchID)
		if err != nil {
			metrics.ObserveNetworkRequest("postgres", "recommendations_insert", "recommendations", start, err)
			return err
		}
	}
	metrics.ObserveNetworkRequest("postgres", "recommendations_insert", "recommendations", start, nil)

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "recommendations", start, err)
	return err
}

// LatestBatchID возвращает идентификатор последнего батча пользователя.
func (p *Postgres) LatestBatchID(userID int64) (string, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	var batchID string
	err := p.pool.QueryRow(ctx, `
SELECT batch_id FROM recommendations WHERE user_id=$1 ORDER BY created_at DESC LIMIT 1
`, userID).Scan(&batchID)
	metrics.ObserveNetworkRequest("postgres", "recommendations_latest_batch", "recommendations", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return batchID, err
}

// ListRecommendations возвращает рекомендации батча по убыванию релевантности.
func (p *Postgres) ListRecommendations(userID int64, batchID string, limit, offset int) ([]domain.Recommendation, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, user_id, github_repo_id, full_name, COALESCE(description,''), topics, COALESCE(language,''), stars_count, relevance_score, COALESCE(explanation,''), source_users, batch_id, created_at
FROM recommendations WHERE user_id=$1 AND batch_id=$2
ORDER BY relevance_score DESC
LIMIT $3 OFFSET $4
`, userID, batchID, limit, offset)
	metrics.ObserveNetworkRequest("postgres", "recommendations_list", "recommendations", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.Recommendation
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func scanRecommendation(row pgx.Row) (domain.Recommendation, error) {
	var rec domain.Recommendation
	var topicsRaw, sourcesRaw []byte
	err := row.Scan(&rec.ID, &rec.UserID, &rec.GithubRepoID, &rec.FullName, &rec.Description, &topicsRaw, &rec.Language, &rec.StarsCount, &rec.RelevanceScore, &rec.Explanation, &sourcesRaw, &rec.BatchID, &rec.CreatedAt)
	if err != nil {
		return domain.Recommendation{}, err
	}
	rec.Topics = unmarshalStrings(topicsRaw)
	rec.SourceUsers = unmarshalStrings(sourcesRaw)
	return rec, nil
}

// GetRecommendation возвращает рекомендацию пользователя по идентификатору.
func (p *Postgres) GetRecommendation(userID, recommendationID int64) (domain.Recommendation, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rec, err := scanRecommendation(p.pool.QueryRow(ctx, `
SELECT id, user_id, github_repo_id, full_name, COALESCE(description,''), topics, COALESCE(language,''), stars_count, relevance_score, COALESCE(explanation,''), source_users, batch_id, created_at
FROM recommendations WHERE id=$1 AND user_id=$2
`, recommendationID, userID))
	metrics.ObserveNetworkRequest("postgres", "recommendations_get", "recommendations", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Recommendation{}, fmt.Errorf("recommendation not found")
	}
	return rec, err
}

// UpsertFeedback сохраняет отзыв, перезаписывая прежний.
func (p *Postgres) UpsertFeedback(userID, recommendationID int64, feedbackType domain.FeedbackType) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO feedback (user_id, recommendation_id, feedback_type)
VALUES ($1, $2, $3)
ON CONFLICT (user_id, recommendation_id) DO UPDATE SET feedback_type = EXCLUDED.feedback_type
`, userID, recommendationID, string(feedbackType))
	metrics.ObserveNetworkRequest("postgres", "feedback_upsert", "feedback", start, err)
	return err
}

// FeedbackForRecommendations возвращает отзывы пользователя на указанные рекомендации.
func (p *Postgres) FeedbackForRecommendations(userID int64, recommendationIDs []int64) (map[int64]domain.FeedbackType, error) {
	result := make(map[int64]domain.FeedbackType)
	if len(recommendationIDs) == 0 {
		return result, nil
	}

	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT recommendation_id, feedback_type FROM feedback
WHERE user_id=$1 AND recommendation_id = ANY($2)
`, userID, recommendationIDs)
	metrics.ObserveNetworkRequest("postgres", "feedback_list", "feedback", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var recID int64
		var feedbackType string
		if err := rows.Scan(&recID, &feedbackType); err != nil {
			return nil, err
		}
		result[recID] = domain.FeedbackType(feedbackType)
	}
	return result, rows.Err()
}

// StartJob атомарно создаёт запись задачи в состоянии running.
// Частичный уникальный индекс по (user_id, kind) WHERE status='running'
// закрывает гонку «проверил — вставил» при конкурентных запусках.
func (p *Postgres) StartJob(userID int64, kind domain.JobKind, message string) (domain.JobStatus, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var job domain.JobStatus
	var startedAt, completedAt sql.NullTime

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO job_status (user_id, kind, status, progress, message, started_at)
VALUES ($1, $2, 'running', 0, $3, now())
RETURNING id, user_id, kind, status, progress, COALESCE(message,''), started_at, completed_at, created_at
`, userID, string(kind), message).
		Scan(&job.ID, &job.UserID, &job.Kind, &job.State, &job.Progress, &job.Message, &startedAt, &completedAt, &job.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "job_start", "job_status", start, err)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.JobStatus{}, domain.ErrJobAlreadyRunning
		}
		return domain.JobStatus{}, err
	}
	fillJobTimes(&job, startedAt, completedAt)
	return job, nil
}

func fillJobTimes(job *domain.JobStatus, startedAt, completedAt sql.NullTime) {
	if startedAt.Valid {
		ts := startedAt.Time
		job.StartedAt = &ts
	}
	if completedAt.Valid {
		ts := completedAt.Time
		job.CompletedAt = &ts
	}
}

// UpdateJobProgress обновляет прогресс идущей задачи.
func (p *Postgres) UpdateJobProgress(jobID int64, progress int, message string) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE job_status SET progress=$2, message=$3 WHERE id=$1 AND status='running'
`, jobID, progress, message)
	metrics.ObserveNetworkRequest("postgres", "job_progress", "job_status", start, err)
	return err
}

// CompleteJob переводит задачу в терминальное состояние completed.
func (p *Postgres) CompleteJob(jobID int64, message string) error {
	return p.finishJob(jobID, domain.JobStateCompleted, 100, message)
}

// FailJob переводит задачу в терминальное состояние failed.
func (p *Postgres) FailJob(jobID int64, message string) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE job_status SET status='failed', message=$2, completed_at=now() WHERE id=$1 AND status='running'
`, jobID, message)
	metrics.ObserveNetworkRequest("postgres", "job_fail", "job_status", start, err)
	return err
}

func (p *Postgres) finishJob(jobID int64, state domain.JobState, progress int, message string) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE job_status SET status=$2, progress=$3, message=$4, completed_at=now() WHERE id=$1 AND status='running'
`, jobID, string(state), progress, message)
	metrics.ObserveNetworkRequest("postgres", "job_finish", "job_status", start, err)
	return err
}

// LatestJob возвращает последнюю запись задачи указанного вида.
func (p *Postgres) LatestJob(userID int64, kind domain.JobKind) (domain.JobStatus, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var job domain.JobStatus
	var startedAt, completedAt sql.NullTime

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, user_id, kind, status, progress, COALESCE(message,''), started_at, completed_at, created_at
FROM job_status WHERE user_id=$1 AND kind=$2
ORDER BY created_at DESC LIMIT 1
`, userID, string(kind)).
		Scan(&job.ID, &job.UserID, &job.Kind, &job.State, &job.Progress, &job.Message, &startedAt, &completedAt, &job.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "job_latest", "job_status", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.JobStatus{}, domain.ErrJobNotFound
	}
	if err != nil {
		return domain.JobStatus{}, err
	}
	fillJobTimes(&job, startedAt, completedAt)
	return job, nil
}
