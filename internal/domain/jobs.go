package domain

import (
	"context"
	"errors"
	"time"
)

// JobKind описывает вариант пайплайна.
type JobKind string

const (
	// JobKindSyncStars — синхронизация звёзд пользователя.
	JobKindSyncStars JobKind = "sync_stars"
	// JobKindGenerateRecs — четырёхэтапный пайплайн рекомендаций.
	JobKindGenerateRecs JobKind = "generate_recs"
	// JobKindScheduledRefresh — полное еженедельное обновление из пяти фаз.
	JobKindScheduledRefresh JobKind = "scheduled_refresh"
	// JobKindBuildProfile — перестроение вкусового профиля без рекомендаций.
	JobKindBuildProfile JobKind = "build_profile"
)

// JobState — состояние задачи. Терминальные состояния финальны.
type JobState string

const (
	// JobStatePending зарезервировано в словаре статусов для совместимости
	// со схемой журнала; записи создаются сразу в running.
	JobStatePending   JobState = "pending"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// ErrJobAlreadyRunning возвращается при попытке запустить задачу,
// пока для пары (user, kind) уже есть запись в состоянии running.
var ErrJobAlreadyRunning = errors.New("job already in progress")

// ErrJobNotFound возвращается, когда для пары (user, kind) ещё не было запусков.
var ErrJobNotFound = errors.New("job not found")

// JobStatus — одна запись журнала выполнения. Каждый запуск создаёт новую строку.
type JobStatus struct {
	ID          int64
	UserID      int64
	Kind        JobKind
	State       JobState
	Progress    int
	Message     string
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
}

// JobRepo отвечает за журнал задач.
type JobRepo interface {
	// StartJob атомарно создаёт запись в состоянии running.
	// При конфликте с уже идущей задачей возвращает ErrJobAlreadyRunning.
	StartJob(userID int64, kind JobKind, message string) (JobStatus, error)
	UpdateJobProgress(jobID int64, progress int, message string) error
	CompleteJob(jobID int64, message string) error
	FailJob(jobID int64, message string) error
	LatestJob(userID int64, kind JobKind) (JobStatus, error)
}

// PipelineJob — задача на исполнение пайплайна для одного пользователя.
type PipelineJob struct {
	ID          string    `json:"job_id,omitempty"`
	UserID      int64     `json:"user_id"`
	Kind        JobKind   `json:"kind"`
	RequestedAt time.Time `json:"requested_at"`
}

// JobQueue описывает очередь задач пайплайна.
type JobQueue interface {
	Enqueue(ctx context.Context, job PipelineJob) error
	Pop(ctx context.Context) (PipelineJob, error)
}
