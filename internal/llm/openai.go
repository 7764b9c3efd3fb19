package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"chat2edit/internal/logging"
)

// OpenAIConfig configures an OpenAIClient. BaseURL may point at any
// OpenAI-compatible endpoint.
type OpenAIConfig struct {
	APIKey        string
	BaseURL       string
	Model         string
	SystemMessage string
	Temperature   float32
	MaxTokens     int
	Stop          []string
	MaxRetries    int
	Timeout       time.Duration
	HTTPClient    *http.Client
}

// DefaultOpenAIBaseURL is used when no base URL is configured.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient implements Client for the chat completions API.
type OpenAIClient struct {
	cfg         OpenAIConfig
	httpClient  *http.Client
	mu          sync.Mutex
	lastRequest time.Time
	backoff     func(attempt int) time.Duration
}

var _ Client = (*OpenAIClient)(nil)

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float32         `json:"temperature,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewOpenAIClient creates an OpenAI client.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: %w", ErrNoAPIKey)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &OpenAIClient{
		cfg:        cfg,
		httpClient: hc,
		backoff: func(attempt int) time.Duration {
			return time.Duration(1<<uint(attempt-1)) * time.Second
		},
	}, nil
}

// Generate sends the history as alternating user/assistant messages.
func (c *OpenAIClient) Generate(ctx context.Context, messages []string) (string, error) {
	if err := ValidateMessages(messages); err != nil {
		return "", err
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	startTime := time.Now()
	logging.APIDebug("[OpenAI] Generate: model=%s messages=%d", c.cfg.Model, len(messages))

	// Rate limiting
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	reqBody := openAIRequest{
		Model:       c.cfg.Model,
		Messages:    openAIMessages(c.cfg.SystemMessage, messages),
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		Stop:        c.cfg.Stop,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for i := 0; i <= c.cfg.MaxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.backoff(i)):
			}
		}

		text, retry, err := c.do(ctx, jsonData)
		if err == nil {
			logging.API("[OpenAI] Generate: completed in %v answer_len=%d", time.Since(startTime), len(text))
			return text, nil
		}
		if !retry {
			logging.APIError("[OpenAI] Generate failed: %v", err)
			return "", err
		}
		lastErr = err
		logging.APIWarn("[OpenAI] attempt %d failed: %v", i+1, err)
	}

	logging.APIError("[OpenAI] Generate: max retries exceeded after %v: %v", time.Since(startTime), lastErr)
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

// do sends one request. retry reports whether the failure is transient.
func (c *OpenAIClient) do(ctx context.Context, body []byte) (text string, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, fmt.Errorf("request failed: %w", err)
		}
		return "", true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", true, fmt.Errorf("rate limit exceeded (429)")
	case resp.StatusCode >= 500:
		return "", true, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(data))
	case resp.StatusCode != http.StatusOK:
		return "", false, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(data))
	}

	var out openAIResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", false, fmt.Errorf("failed to parse response: %w", err)
	}
	if out.Error != nil {
		return "", false, fmt.Errorf("API error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", false, fmt.Errorf("openai: %w", ErrEmptyAnswer)
	}
	text = strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", false, fmt.Errorf("openai: %w", ErrEmptyAnswer)
	}
	return text, false, nil
}

func openAIMessages(system string, messages []string) []openAIMessage {
	out := make([]openAIMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openAIMessage{Role: "system", Content: system})
	}
	for i, m := range messages {
		role := "user"
		if Role(i) == "model" {
			role = "assistant"
		}
		out = append(out, openAIMessage{Role: role, Content: m})
	}
	return out
}
