package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all chat2edit configuration.
type Config struct {
	Name string `yaml:"name"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Fulfill loop settings
	Agent AgentConfig `yaml:"agent"`

	// Which provider supplies functions, exemplars and file conversion
	Provider ProviderConfig `yaml:"provider"`

	// Conversation storage
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Prometheus metrics
	Metrics MetricsConfig `yaml:"metrics"`
}

// AgentConfig configures the fulfill loop.
type AgentConfig struct {
	// MaxPromptAttempts bounds LLM calls per turn.
	MaxPromptAttempts int `yaml:"max_prompt_attempts"`

	// MaxHistoryCycles is how many responded cycles are replayed to the model.
	MaxHistoryCycles int `yaml:"max_history_cycles"`

	// OmitExemplarsAfter drops exemplars once the history window holds this
	// many cycles. Zero never drops them.
	OmitExemplarsAfter int `yaml:"omit_exemplars_after"`

	UseHelperPrompt bool   `yaml:"use_helper_prompt"`
	HelperPrompt    string `yaml:"helper_prompt"` // empty = built-in reminder
	Locale          string `yaml:"locale"`

	// StatementTimeout bounds each asynchronous provider call.
	StatementTimeout string `yaml:"statement_timeout"`
}

// ProviderConfig selects and configures the provider variant.
type ProviderConfig struct {
	Name           string   `yaml:"name"`
	Functions      []string `yaml:"functions"` // empty = all
	ExemplarsDir   string   `yaml:"exemplars_dir"`
	WatchExemplars bool     `yaml:"watch_exemplars"`

	Inference InferenceConfig `yaml:"inference"`
}

// InferenceConfig points at the external vision service used by the canvas provider.
type InferenceConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	Driver       string `yaml:"driver"` // sqlite3 (cgo) or sqlite (pure Go)
	DatabasePath string `yaml:"database_path"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "chat2edit",

		LLM: LLMConfig{
			Provider:   "gemini",
			Model:      "gemini-1.5-flash",
			Timeout:    "120s",
			MaxRetries: 3,
		},

		Agent: AgentConfig{
			MaxPromptAttempts:  4,
			MaxHistoryCycles:   6,
			OmitExemplarsAfter: 0,
			UseHelperPrompt:    false,
			Locale:             "en",
			StatementTimeout:   "60s",
		},

		Provider: ProviderConfig{
			Name: "canvas",
			Inference: InferenceConfig{
				BaseURL: "http://localhost:5000",
				Timeout: "60s",
			},
		},

		Store: StoreConfig{
			Driver:       "sqlite3",
			DatabasePath: "data/chat2edit.db",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},

		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9464",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.LLM.Provider == "openai" {
		c.LLM.APIKey = key
	}
	if c.LLM.Provider == "gemini" {
		if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
			c.LLM.APIKey = key
		}
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			c.LLM.APIKey = key
		}
	}

	if path := os.Getenv("CHAT2EDIT_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if url := os.Getenv("CHAT2EDIT_INFERENCE_URL"); url != "" {
		c.Provider.Inference.BaseURL = url
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 120*time.Second)
}

// GetStatementTimeout returns the per-statement timeout for async provider calls.
func (c *Config) GetStatementTimeout() time.Duration {
	return parseDuration(c.Agent.StatementTimeout, 60*time.Second)
}

// GetInferenceTimeout returns the inference service timeout.
func (c *Config) GetInferenceTimeout() time.Duration {
	return parseDuration(c.Provider.Inference.Timeout, 60*time.Second)
}

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"gemini", "openai", "scripted"}

// ValidDrivers lists the supported SQL drivers.
var ValidDrivers = []string{"sqlite3", "sqlite"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !contains(ValidProviders, c.LLM.Provider) {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}
	if c.LLM.Provider != "scripted" && c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set GEMINI_API_KEY, GOOGLE_API_KEY or OPENAI_API_KEY)")
	}
	if c.LLM.Provider == "scripted" && c.LLM.Script == "" {
		return fmt.Errorf("scripted LLM provider requires llm.script")
	}
	if c.Agent.MaxPromptAttempts < 1 {
		return fmt.Errorf("agent.max_prompt_attempts must be at least 1, got %d", c.Agent.MaxPromptAttempts)
	}
	if c.Agent.MaxHistoryCycles < 0 {
		return fmt.Errorf("agent.max_history_cycles must not be negative")
	}
	if c.Provider.Name == "" {
		return fmt.Errorf("provider.name is required")
	}
	if !contains(ValidDrivers, c.Store.Driver) {
		return fmt.Errorf("invalid store driver: %s (valid: %v)", c.Store.Driver, ValidDrivers)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
