// Package config loads and persists widgetforge configuration from
// .forge/config.yaml, with environment variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all widgetforge configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM provider configuration
	LLM LLMConfig `yaml:"llm"`

	// Generation pipeline settings
	Generation GenerationConfig `yaml:"generation"`

	// Connection suggestion settings
	Autowire AutowireConfig `yaml:"autowire"`

	// Draft/metrics persistence
	Storage StorageConfig `yaml:"storage"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the default LLM provider.
type LLMConfig struct {
	Provider string `yaml:"provider"` // anthropic, openai, gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// GenerationConfig configures the orchestrator.
type GenerationConfig struct {
	MaxTokens            int     `yaml:"max_tokens"`
	Temperature          float64 `yaml:"temperature"`
	VariationTemperature float64 `yaml:"variation_temperature"`
	ScoreDrafts          bool    `yaml:"score_drafts"`
	SessionRetention     string  `yaml:"session_retention"`
}

// AutowireConfig configures the connection suggester.
type AutowireConfig struct {
	MinCompatibility float64 `yaml:"min_compatibility"`
	MaxSuggestions   int     `yaml:"max_suggestions"`
}

// StorageConfig configures the SQLite store.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig configures categorized debug logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// Default returns a config with sensible defaults.
func Default() *Config {
	return &Config{
		Name:    "widgetforge",
		Version: "0.1.0",
		LLM: LLMConfig{
			Provider: "anthropic",
			Model:    "",
			Timeout:  "120s",
		},
		Generation: GenerationConfig{
			MaxTokens:            8192,
			Temperature:          0.7,
			VariationTemperature: 0.9,
			ScoreDrafts:          true,
			SessionRetention:     "1h",
		},
		Autowire: AutowireConfig{
			MinCompatibility: 0.5,
			MaxSuggestions:   10,
		},
		Storage: StorageConfig{
			Path: filepath.Join(".forge", "forge.db"),
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads config from the workspace's .forge/config.yaml, applying
// defaults for missing sections and env overrides for secrets. A missing
// file is not an error; defaults are returned.
func Load(workspace string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(workspace, ".forge", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the config to the workspace's .forge/config.yaml.
func (c *Config) Save(workspace string) error {
	dir := filepath.Join(workspace, ".forge")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0644)
}

// applyEnvOverrides lets environment variables take precedence over the
// file so API keys never need to be committed.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FORGE_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("FORGE_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("FORGE_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case "anthropic":
			c.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "openai":
			c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "gemini":
			c.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
}

// ProviderTimeout parses the LLM timeout, falling back to two minutes.
func (c *Config) ProviderTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}

// Retention parses the session retention window, falling back to one hour.
func (c *Config) Retention() time.Duration {
	d, err := time.ParseDuration(c.Generation.SessionRetention)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}
