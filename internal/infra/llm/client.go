package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"stardiscover/internal/infra/metrics"
)

const (
	defaultBaseURL   = "http://localhost:11434"
	defaultTimeout   = 120 * time.Second
	defaultMaxTokens = 2000

	retryAttempts  = 3
	retryBaseDelay = 2 * time.Second
	retryMaxDelay  = 30 * time.Second
)

// Client выполняет запросы к сервису генерации текста.
// Основной протокол — Chat Completions, запасной — prompt/response (Ollama).
type Client struct {
	http      *http.Client
	baseURL   string
	model     string
	maxTokens int

	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient создаёт клиента генерации текста. maxTokens — потолок ответа,
// применяемый к запросам без собственного лимита.
func NewClient(baseURL, model string, timeout time.Duration, maxTokens int) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Client{
		http:      &http.Client{Timeout: timeout + 5*time.Second},
		baseURL:   baseURL,
		model:     model,
		maxTokens: maxTokens,
		sleep:     sleepCtx,
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

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Generate отправляет промпт и возвращает сгенерированный текст.
func (c *Client) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			if delay > retryMaxDelay {
				delay = retryMaxDelay
			}
			if err := c.sleep(ctx, delay); err != nil {
				return "", err
			}
		}
		text, err := c.generateOnce(ctx, prompt, maxTokens)
		if err == nil {
			return text, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("llm: generate: %w", lastErr)
}

func (c *Client) generateOnce(ctx context.Context, prompt string, maxTokens int) (string, error) {
	start := time.Now()
	text, err := c.chatCompletion(ctx, prompt, maxTokens)
	if err == nil {
		metrics.LLMGenerationDuration.WithLabelValues(c.model).Observe(time.Since(start).Seconds())
		return text, nil
	}

	// Запасной протокол для серверов без chat completions.
	text, fallbackErr := c.promptGenerate(ctx, prompt)
	if fallbackErr != nil {
		return "", fmt.Errorf("chat completions: %v; prompt fallback: %w", err, fallbackErr)
	}
	metrics.LLMGenerationDuration.WithLabelValues(c.model).Observe(time.Since(start).Seconds())
	return text, nil
}

func (c *Client) chatCompletion(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	reqBody := chatCompletionRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: 0.7,
	}
	var resp chatCompletionResponse
	if err := c.post(ctx, "/v1/chat/completions", "chat_completions", reqBody, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("пустой ответ модели")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) promptGenerate(ctx context.Context, prompt string) (string, error) {
	reqBody := generateRequest{Model: c.model, Prompt: prompt, Stream: false}
	var resp generateResponse
	if err := c.post(ctx, "/api/generate", "generate", reqBody, &resp); err != nil {
		return "", err
	}
	return resp.Response, nil
}

func (c *Client) post(ctx context.Context, path, operation string, reqBody, out any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	metrics.ObserveNetworkRequest("llm", operation, c.model, start, err)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// GenerateJSON запрашивает у модели JSON-объект и декодирует его в out.
// ok=false без ошибки означает, что из ответа не удалось извлечь JSON.
func (c *Client) GenerateJSON(ctx context.Context, prompt string, maxTokens int, out any) (bool, error) {
	fullPrompt := prompt + "\n\nRespond ONLY with valid JSON, no other text."
	response, err := c.Generate(ctx, fullPrompt, maxTokens)
	if err != nil {
		return false, err
	}
	raw, ok := extractJSON(response)
	if !ok {
		metrics.LLMMalformedResponses.Inc()
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		metrics.LLMMalformedResponses.Inc()
		return false, nil
	}
	return true, nil
}

var bracePattern = regexp.MustCompile(`(?s)\{[^{}]*\}`)

// extractJSON вырезает JSON-объект из ответа модели: сначала содержимое
// markdown-ограждения, затем первый фрагмент в фигурных скобках.
func extractJSON(response string) ([]byte, bool) {
	text := strings.TrimSpace(response)
	if idx := strings.Index(text, "```json"); idx >= 0 {
		text = text[idx+len("```json"):]
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
	} else if idx := strings.Index(text, "```"); idx >= 0 {
		text = text[idx+len("```"):]
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
	}
	text = strings.TrimSpace(text)
	if json.Valid([]byte(text)) && strings.HasPrefix(text, "{") {
		return []byte(text), true
	}
	if match := bracePattern.FindString(response); match != "" && json.Valid([]byte(match)) {
		return []byte(match), true
	}
	return nil, false
}

// HealthCheck проверяет доступность сервиса генерации.
func (c *Client) HealthCheck(ctx context.Context) bool {
	for _, path := range []string{"/health", "/v1/models"} {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			continue
		}
		resp, err := c.http.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return true
		}
	}
	return false
}
