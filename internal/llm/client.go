// Package llm holds the model clients. A client takes the alternating
// user/model message history, which starts and ends with a user message,
// and returns the model's next answer.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chat2edit/internal/config"
	"chat2edit/internal/logging"
)

// Client errors.
var (
	// ErrEvenMessages is returned for an empty or even-length history; the
	// caller's message must come last.
	ErrEvenMessages = errors.New("messages must have odd length")

	// ErrNoAPIKey is returned when a hosted provider has no credentials.
	ErrNoAPIKey = errors.New("API key not configured")

	// ErrEmptyAnswer is returned when the model produced no text.
	ErrEmptyAnswer = errors.New("model returned no text")

	// ErrUnknownProvider is returned by NewClient for unsupported providers.
	ErrUnknownProvider = errors.New("unknown LLM provider")
)

// Client generates the next model answer.
type Client interface {
	Generate(ctx context.Context, messages []string) (string, error)
}

// ValidateMessages checks the alternating-history invariant.
func ValidateMessages(messages []string) error {
	if len(messages)%2 == 0 {
		return fmt.Errorf("%w: got %d", ErrEvenMessages, len(messages))
	}
	return nil
}

// Role returns "user" or "model" for position i of a history.
func Role(i int) string {
	if i%2 == 0 {
		return "user"
	}
	return "model"
}

// NewClient builds the client configured in cfg.
func NewClient(ctx context.Context, cfg config.LLMConfig, timeout time.Duration) (Client, error) {
	var (
		c   Client
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case "gemini", "google", "":
		c, err = NewGeminiClient(ctx, GeminiConfig{
			APIKey:          cfg.APIKey,
			Model:           cfg.ResolvedModel(),
			SystemMessage:   cfg.SystemMessage,
			Temperature:     cfg.Temperature,
			MaxOutputTokens: cfg.MaxOutputTokens,
			StopSequences:   cfg.StopSequences,
			Timeout:         timeout,
		})
	case "openai":
		c, err = NewOpenAIClient(OpenAIConfig{
			APIKey:        cfg.APIKey,
			BaseURL:       cfg.BaseURL,
			Model:         cfg.ResolvedModel(),
			SystemMessage: cfg.SystemMessage,
			Temperature:   cfg.Temperature,
			MaxTokens:     cfg.MaxOutputTokens,
			Stop:          cfg.StopSequences,
			MaxRetries:    cfg.MaxRetries,
			Timeout:       timeout,
		})
	case "scripted":
		c, err = LoadScript(cfg.Script)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	logging.API("LLM client ready: provider=%s model=%s", cfg.Provider, cfg.ResolvedModel())
	return c, nil
}
