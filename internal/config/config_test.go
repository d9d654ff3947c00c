package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "openai", cfg.Model.Provider)
	assert.Equal(t, 1000, cfg.Model.MaxTokens)
	assert.Equal(t, 1, cfg.Model.MaxToolRounds)
	assert.Equal(t, time.Duration(0), cfg.Model.RequestTimeout)
	assert.Equal(t, "python", cfg.ToolHost.Python)
	assert.Equal(t, "node", cfg.ToolHost.Node)
	assert.Equal(t, 5*time.Second, cfg.ToolHost.ShutdownTimeout)
	assert.Equal(t, "blackboard_log.txt", cfg.Audit.Path)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Redaction)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestModelName(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DefaultOpenAIModel, cfg.ModelName())

	cfg.Model.Provider = "anthropic"
	assert.Equal(t, DefaultAnthropicModel, cfg.ModelName())

	cfg.Model.Name = "claude-3-opus"
	assert.Equal(t, "claude-3-opus", cfg.ModelName())
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-anthropic")

	cfg := DefaultConfig()
	cfg.ResolveAPIKey()
	assert.Equal(t, "sk-openai", cfg.Model.APIKey)

	cfg = DefaultConfig()
	cfg.Model.Provider = "anthropic"
	cfg.ResolveAPIKey()
	assert.Equal(t, "sk-ant-anthropic", cfg.Model.APIKey)

	cfg = DefaultConfig()
	cfg.Model.APIKey = "configured"
	cfg.ResolveAPIKey()
	assert.Equal(t, "configured", cfg.Model.APIKey)
}

func TestConfigString_MasksAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model.APIKey = "sk-secret"

	s := cfg.String()
	assert.NotContains(t, s, "sk-secret")
	assert.Contains(t, s, "***")
	assert.Equal(t, "sk-secret", cfg.Model.APIKey)
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Model.APIKey = "sk-test"
		return cfg
	}

	t.Run("valid config", func(t *testing.T) {
		require.NoError(t, valid().Validate())
	})

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "unknown provider", mutate: func(c *Config) { c.Model.Provider = "gemini" }, want: "invalid provider"},
		{name: "missing api key", mutate: func(c *Config) { c.Model.APIKey = "" }, want: "OPENAI_API_KEY"},
		{name: "missing anthropic key", mutate: func(c *Config) { c.Model.Provider = "anthropic"; c.Model.APIKey = "" }, want: "ANTHROPIC_API_KEY"},
		{name: "zero max tokens", mutate: func(c *Config) { c.Model.MaxTokens = 0 }, want: "max_tokens"},
		{name: "zero rounds", mutate: func(c *Config) { c.Model.MaxToolRounds = 0 }, want: "max_tool_rounds"},
		{name: "temperature too high", mutate: func(c *Config) { c.Model.Temperature = 3 }, want: "temperature"},
		{name: "negative request timeout", mutate: func(c *Config) { c.Model.RequestTimeout = -time.Second }, want: "request_timeout"},
		{name: "negative shutdown timeout", mutate: func(c *Config) { c.ToolHost.ShutdownTimeout = -time.Second }, want: "shutdown_timeout"},
		{name: "empty audit path", mutate: func(c *Config) { c.Audit.Path = " " }, want: "audit.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
