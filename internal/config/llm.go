package config

// LLMConfig configures the model that writes thinking and commands.
type LLMConfig struct {
	Provider string `yaml:"provider"` // gemini, openai, scripted
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`

	// Generation settings. Zero values leave the provider defaults in place.
	Temperature     float32  `yaml:"temperature"`
	MaxOutputTokens int      `yaml:"max_output_tokens"`
	StopSequences   []string `yaml:"stop_sequences"`
	SystemMessage   string   `yaml:"system_message"`

	// MaxRetries bounds transport retries on rate limiting (OpenAI only).
	MaxRetries int `yaml:"max_retries"`

	// Script is read by the scripted provider: a YAML/JSON file of canned answers.
	Script string `yaml:"script"`
}

// DefaultModel returns the model used when none is configured.
func (c *LLMConfig) DefaultModel() string {
	switch c.Provider {
	case "openai":
		return "gpt-3.5-turbo"
	default:
		return "gemini-1.5-flash"
	}
}

// ResolvedModel returns the configured model or the provider default.
func (c *LLMConfig) ResolvedModel() string {
	if c.Model != "" {
		return c.Model
	}
	return c.DefaultModel()
}
