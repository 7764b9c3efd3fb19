package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"chat2edit/internal/logging"
)

// GeminiConfig configures a GeminiClient.
type GeminiConfig struct {
	APIKey          string
	Model           string
	SystemMessage   string
	Temperature     float32
	MaxOutputTokens int
	StopSequences   []string
	Timeout         time.Duration
	HTTPClient      *http.Client
}

// GeminiClient talks to the Gemini API. Safety filters are turned off:
// requests describe photo edits, and a blocked answer would only burn an
// attempt.
type GeminiClient struct {
	client  *genai.Client
	model   string
	config  *genai.GenerateContentConfig
	timeout time.Duration
}

var _ Client = (*GeminiClient)(nil)

var safetySettings = []*genai.SafetySetting{
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
}

// NewGeminiClient creates a client for cfg.Model.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: %w", ErrNoAPIKey)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	gc := &genai.GenerateContentConfig{
		SafetySettings: safetySettings,
		StopSequences:  cfg.StopSequences,
	}
	if cfg.SystemMessage != "" {
		gc.SystemInstruction = genai.NewContentFromText(cfg.SystemMessage, genai.RoleUser)
	}
	if cfg.Temperature > 0 {
		gc.Temperature = genai.Ptr(cfg.Temperature)
	}
	if cfg.MaxOutputTokens > 0 {
		gc.MaxOutputTokens = int32(cfg.MaxOutputTokens)
	}

	return &GeminiClient{client: client, model: cfg.Model, config: gc, timeout: cfg.Timeout}, nil
}

// Generate sends the history and returns the answer text.
func (c *GeminiClient) Generate(ctx context.Context, messages []string) (string, error) {
	if err := ValidateMessages(messages); err != nil {
		return "", err
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	logging.APIDebug("[Gemini] Generate: model=%s messages=%d", c.model, len(messages))

	resp, err := c.client.Models.GenerateContent(ctx, c.model, geminiContents(messages), c.config)
	if err != nil {
		logging.APIError("[Gemini] Generate failed after %v: %v", time.Since(start), err)
		return "", fmt.Errorf("gemini: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("gemini: %w", ErrEmptyAnswer)
	}
	logging.API("[Gemini] Generate: completed in %v answer_len=%d", time.Since(start), len(text))
	return text, nil
}

func geminiContents(messages []string) []*genai.Content {
	out := make([]*genai.Content, len(messages))
	for i, m := range messages {
		var role genai.Role = genai.RoleUser
		if Role(i) == "model" {
			role = genai.RoleModel
		}
		out[i] = genai.NewContentFromText(m, role)
	}
	return out
}
