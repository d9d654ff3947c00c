package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. TOOLBRIDGE_MODEL_PROVIDER.
const EnvPrefix = "TOOLBRIDGE"

// Loader handles configuration loading
type Loader struct {
	configPath string
	flags      map[string]*pflag.Flag
}

// NewLoader creates a new config loader. An empty path means the default
// location, which may be absent.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		flags:      make(map[string]*pflag.Flag),
	}
}

// BindFlag lets a command-line flag override key when the flag is set.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) {
	if flag != nil {
		l.flags[key] = flag
	}
}

// Load merges defaults, the config file, environment variables and bound
// flags, in increasing order of precedence.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath, explicit, err := l.resolvePath()
	if err != nil {
		return nil, err
	}

	if _, statErr := os.Stat(configPath); statErr == nil {
		v.SetConfigFile(configPath)
		if filepath.Ext(configPath) == "" {
			v.SetConfigType("json")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if explicit || !errors.Is(statErr, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config file: %w", statErr)
	}

	for key, flag := range l.flags {
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", flag.Name, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.ResolveAPIKey()

	return cfg, nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	path, _, err := l.resolvePath()
	if err != nil {
		return ""
	}
	return path
}

func (l *Loader) resolvePath() (string, bool, error) {
	if l.configPath != "" {
		return l.configPath, true, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".toolbridge", "config.json"), false, nil
}

// setDefaults registers every key so environment overrides apply even when
// the file does not mention them.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("model.provider", cfg.Model.Provider)
	v.SetDefault("model.name", cfg.Model.Name)
	v.SetDefault("model.api_key", cfg.Model.APIKey)
	v.SetDefault("model.base_url", cfg.Model.BaseURL)
	v.SetDefault("model.max_tokens", cfg.Model.MaxTokens)
	v.SetDefault("model.temperature", cfg.Model.Temperature)
	v.SetDefault("model.system_prompt", cfg.Model.SystemPrompt)
	v.SetDefault("model.max_tool_rounds", cfg.Model.MaxToolRounds)
	v.SetDefault("model.request_timeout", cfg.Model.RequestTimeout)

	v.SetDefault("toolhost.python", cfg.ToolHost.Python)
	v.SetDefault("toolhost.node", cfg.ToolHost.Node)
	v.SetDefault("toolhost.env", cfg.ToolHost.Env)
	v.SetDefault("toolhost.shutdown_timeout", cfg.ToolHost.ShutdownTimeout)

	v.SetDefault("audit.path", cfg.Audit.Path)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.pretty", cfg.Logging.Pretty)
	v.SetDefault("logging.redaction", cfg.Logging.Redaction)

	v.SetDefault("metrics.addr", cfg.Metrics.Addr)

	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.service_name", cfg.Tracing.ServiceName)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
