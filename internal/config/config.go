package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Default model names per provider.
const (
	DefaultOpenAIModel    = "gpt-4o"
	DefaultAnthropicModel = "claude-3-5-sonnet-20241022"
)

// Config represents the toolbridge configuration
type Config struct {
	// Model provider and conversation settings
	Model ModelConfig `json:"model" mapstructure:"model"`

	// Tool host process settings
	ToolHost ToolHostConfig `json:"toolhost" mapstructure:"toolhost"`

	// Audit log
	Audit AuditConfig `json:"audit" mapstructure:"audit"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics endpoint
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// ModelConfig holds model provider configuration
type ModelConfig struct {
	Provider       string        `json:"provider" mapstructure:"provider"` // openai, anthropic
	Name           string        `json:"name" mapstructure:"name"`
	APIKey         string        `json:"api_key" mapstructure:"api_key"`
	BaseURL        string        `json:"base_url" mapstructure:"base_url"`
	MaxTokens      int           `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature    float64       `json:"temperature" mapstructure:"temperature"`
	SystemPrompt   string        `json:"system_prompt" mapstructure:"system_prompt"`
	MaxToolRounds  int           `json:"max_tool_rounds" mapstructure:"max_tool_rounds"`
	RequestTimeout time.Duration `json:"request_timeout" mapstructure:"request_timeout"` // 0 = none
}

// ToolHostConfig holds tool host launch settings
type ToolHostConfig struct {
	Python          string        `json:"python" mapstructure:"python"`
	Node            string        `json:"node" mapstructure:"node"`
	Env             []string      `json:"env" mapstructure:"env"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// AuditConfig holds audit log settings
type AuditConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// MetricsConfig holds the Prometheus endpoint address; empty disables it.
type MetricsConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"service_name" mapstructure:"service_name"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:      "openai",
			MaxTokens:     1000,
			MaxToolRounds: 1,
		},
		ToolHost: ToolHostConfig{
			Python:          "python",
			Node:            "node",
			ShutdownTimeout: 5 * time.Second,
		},
		Audit: AuditConfig{
			Path: "blackboard_log.txt",
		},
		Logging: LoggingConfig{
			Level:     "warn",
			Pretty:    true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			ServiceName: "toolbridge",
		},
	}
}

// ModelName returns the configured model, or the provider's default.
func (c *Config) ModelName() string {
	if c.Model.Name != "" {
		return c.Model.Name
	}
	if strings.EqualFold(c.Model.Provider, "anthropic") {
		return DefaultAnthropicModel
	}
	return DefaultOpenAIModel
}

// ResolveAPIKey fills Model.APIKey from the provider's conventional
// environment variable when it is not configured.
func (c *Config) ResolveAPIKey() {
	if c.Model.APIKey != "" {
		return
	}
	switch strings.ToLower(c.Model.Provider) {
	case "anthropic":
		c.Model.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	default:
		c.Model.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// String returns a JSON representation of the config with the API key masked
func (c *Config) String() string {
	masked := *c
	if masked.Model.APIKey != "" {
		masked.Model.APIKey = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch strings.ToLower(c.Model.Provider) {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("invalid provider %q (must be: openai, anthropic)", c.Model.Provider)
	}

	if c.Model.APIKey == "" {
		return fmt.Errorf("no API key configured for %s: set model.api_key or %s", c.Model.Provider, apiKeyEnv(c.Model.Provider))
	}
	if c.Model.MaxTokens <= 0 {
		return fmt.Errorf("model.max_tokens must be positive, got %d", c.Model.MaxTokens)
	}
	if c.Model.MaxToolRounds < 1 {
		return fmt.Errorf("model.max_tool_rounds must be at least 1, got %d", c.Model.MaxToolRounds)
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("model.temperature must be between 0 and 2, got %g", c.Model.Temperature)
	}
	if c.Model.RequestTimeout < 0 {
		return fmt.Errorf("model.request_timeout cannot be negative")
	}
	if c.ToolHost.ShutdownTimeout < 0 {
		return fmt.Errorf("toolhost.shutdown_timeout cannot be negative")
	}
	if strings.TrimSpace(c.Audit.Path) == "" {
		return fmt.Errorf("audit.path is required")
	}

	return nil
}

func apiKeyEnv(provider string) string {
	if strings.EqualFold(provider, "anthropic") {
		return "ANTHROPIC_API_KEY"
	}
	return "OPENAI_API_KEY"
}
