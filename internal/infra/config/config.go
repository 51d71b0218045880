package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8085"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Github struct {
		BaseURL          string        `envconfig:"GITHUB_API_BASE" default:"https://api.github.com"`
		Timeout          time.Duration `envconfig:"GITHUB_TIMEOUT" default:"30s"`
		UserStarsPages   int           `envconfig:"GITHUB_USER_STARS_MAX_PAGES" default:"5"`
		StargazerSample  int           `envconfig:"GITHUB_STARGAZER_SAMPLE" default:"50"`
		StargazerTTL     time.Duration `envconfig:"GITHUB_STARGAZER_CACHE_TTL" default:"24h"`
		UserStarredTTL   time.Duration `envconfig:"GITHUB_USER_STARRED_CACHE_TTL" default:"168h"`
	} `envconfig:""`

	LLM struct {
		BaseURL   string        `envconfig:"LLM_BASE_URL" default:"http://localhost:11434"`
		Model     string        `envconfig:"LLM_MODEL" default:"gemma3:4b"`
		Timeout   time.Duration `envconfig:"LLM_TIMEOUT" default:"120s"`
		MaxTokens int           `envconfig:"LLM_MAX_TOKENS" default:"2000"`
	} `envconfig:""`

	Similarity struct {
		TopStarredSample int `envconfig:"SIMILARITY_TOP_STARRED" default:"50"`
		QueryRepos       int `envconfig:"SIMILARITY_QUERY_REPOS" default:"30"`
		MinOverlap       int `envconfig:"SIMILARITY_MIN_OVERLAP" default:"3"`
		MaxSimilarUsers  int `envconfig:"MAX_SIMILAR_USERS" default:"50"`
	} `envconfig:""`

	Candidates struct {
		SourceUsers int `envconfig:"CANDIDATES_SOURCE_USERS" default:"20"`
		KeepTop     int `envconfig:"CANDIDATES_KEEP_TOP" default:"200"`
		ReturnTop   int `envconfig:"CANDIDATES_RETURN_TOP" default:"100"`
	} `envconfig:""`

	Scoring struct {
		MaxCandidates int     `envconfig:"SCORING_MAX_CANDIDATES" default:"50"`
		TopN          int     `envconfig:"SCORING_TOP_N" default:"20"`
		Threshold     float64 `envconfig:"SCORING_THRESHOLD" default:"0.4"`
	} `envconfig:""`

	Refresh struct {
		Day       string        `envconfig:"WEEKLY_REFRESH_DAY" default:"sunday"`
		Hour      int           `envconfig:"WEEKLY_REFRESH_HOUR" default:"3"`
		UserDelay time.Duration `envconfig:"REFRESH_USER_DELAY" default:"60s"`
	} `envconfig:""`

	Queues struct {
		Driver   string `envconfig:"QUEUE_DRIVER" default:"redis"`
		Pipeline string `envconfig:"PIPELINE_QUEUE_KEY" default:"pipeline_jobs"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
