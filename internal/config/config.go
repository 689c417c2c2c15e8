package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultMaxIterations  = 3
	defaultToolCallCap    = 6
	defaultFanOut         = 1
	defaultWorkerTemp     = 0.7
	defaultEvaluatorTemp  = 0.1
	defaultMaxTokens      = 4096
	defaultPacingInterval = 1000 // milliseconds
)

// apiKeyEnvVars maps provider names to the environment variable consulted
// when no key is set in the config file.
var apiKeyEnvVars = map[string]string{
	"anthropic":  "ANTHROPIC_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
	"xai":        "XAI_API_KEY",
}

// ProviderConfig holds connection settings for one model provider.
type ProviderConfig struct {
	Name    string `yaml:"name"`
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model"`
}

// WorkerConfig controls the generating model.
type WorkerConfig struct {
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`
	SystemPrompt string  `yaml:"system_prompt,omitempty"`
}

// EvaluatorConfig controls the judging model. The evaluator runs at a low
// fixed temperature so verdicts stay stable across iterations.
type EvaluatorConfig struct {
	Model       string   `yaml:"model,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	PassTokens  []string `yaml:"pass_tokens,omitempty"`
}

// Config represents application configuration loaded from YAML.
type Config struct {
	Provider  ProviderConfig  `yaml:"provider"`
	Worker    WorkerConfig    `yaml:"worker"`
	Evaluator EvaluatorConfig `yaml:"evaluator"`

	// MaxIterations bounds worker attempts per session.
	MaxIterations int `yaml:"max_iterations"`
	// ToolCallCap bounds tool executions within a single dispatch loop.
	ToolCallCap int `yaml:"tool_call_cap"`
	// FanOut is the number of parallel sessions per run.
	FanOut int `yaml:"fan_out"`
	// Aggregation selects how fan-out results are combined: "synthesize" or "concat".
	Aggregation string `yaml:"aggregation,omitempty"`
	// ContinueOnWorkerError treats a failed worker call as a failing attempt
	// instead of aborting the session.
	ContinueOnWorkerError bool `yaml:"continue_on_worker_error"`

	// PacingIntervalMS spaces consecutive gateway calls, in milliseconds.
	PacingIntervalMS int `yaml:"pacing_interval_ms"`
	// RequestTimeoutMS bounds each gateway call's wall-clock time, in
	// milliseconds. Zero disables the per-call deadline.
	RequestTimeoutMS int `yaml:"request_timeout_ms,omitempty"`
	// TokensPerMinute throttles by estimated token budget. Zero disables it.
	TokensPerMinute int `yaml:"tokens_per_minute,omitempty"`

	LogLevel string `yaml:"log_level,omitempty"`
	LogPath  string `yaml:"log_path,omitempty"`
}

// Default returns a Config populated with production defaults.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name: "anthropic",
		},
		MaxIterations:    defaultMaxIterations,
		ToolCallCap:      defaultToolCallCap,
		FanOut:           defaultFanOut,
		Aggregation:      "synthesize",
		PacingIntervalMS: defaultPacingInterval,
		LogLevel:         "info",
	}
}

// Load reads configuration from path, applying defaults for missing fields
// and environment overrides for API keys. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = defaultMaxIterations
	}
	if c.ToolCallCap <= 0 {
		c.ToolCallCap = defaultToolCallCap
	}
	if c.FanOut <= 0 {
		c.FanOut = defaultFanOut
	}
	if c.Aggregation == "" {
		c.Aggregation = "synthesize"
	}
	if c.PacingIntervalMS < 0 {
		c.PacingIntervalMS = 0
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Worker.MaxTokens <= 0 {
		c.Worker.MaxTokens = defaultMaxTokens
	}
}

func (c *Config) applyEnvOverrides() {
	if strings.TrimSpace(c.Provider.APIKey) == "" {
		if envVar, ok := apiKeyEnvVars[strings.ToLower(c.Provider.Name)]; ok {
			c.Provider.APIKey = os.Getenv(envVar)
		}
	}
	if model := os.Getenv("REVISE_MODEL"); model != "" {
		c.Provider.Model = model
	}
	if level := os.Getenv("REVISE_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
}

// Validate checks invariants the rest of the program relies on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Provider.Name) == "" {
		return fmt.Errorf("config: provider name is required")
	}
	switch c.Aggregation {
	case "synthesize", "concat":
	default:
		return fmt.Errorf("config: unknown aggregation %q", c.Aggregation)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("config: max_iterations must be at least 1")
	}
	if c.ToolCallCap < 1 {
		return fmt.Errorf("config: tool_call_cap must be at least 1")
	}
	if c.FanOut < 1 {
		return fmt.Errorf("config: fan_out must be at least 1")
	}
	return nil
}

// WorkerTemperature returns the configured worker temperature or the default.
func (c *Config) WorkerTemperature() float64 {
	if c.Worker.Temperature != nil {
		return *c.Worker.Temperature
	}
	return defaultWorkerTemp
}

// EvaluatorTemperature returns the configured evaluator temperature or the default.
func (c *Config) EvaluatorTemperature() float64 {
	if c.Evaluator.Temperature != nil {
		return *c.Evaluator.Temperature
	}
	return defaultEvaluatorTemp
}

// EvaluatorModel returns the evaluator model, defaulting to the worker model.
func (c *Config) EvaluatorModel() string {
	if strings.TrimSpace(c.Evaluator.Model) != "" {
		return c.Evaluator.Model
	}
	return c.Provider.Model
}

// PacingInterval converts the configured pacing interval to a duration.
func (c *Config) PacingInterval() time.Duration {
	return time.Duration(c.PacingIntervalMS) * time.Millisecond
}

// RequestTimeout converts the configured per-call deadline to a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// Save writes the configuration back to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
