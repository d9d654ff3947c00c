package config

import (
	"fmt"
	"strings"
)

// Validator performs advisory checks that do not block startup
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"trace", "debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if strings.EqualFold(level, valid) {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateInterpreter checks that an interpreter command is set
func (v *Validator) ValidateInterpreter(kind, command string) error {
	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("%s interpreter command cannot be empty", kind)
	}
	return nil
}

// ValidateConfig returns every advisory problem found in cfg. A custom base
// URL disables the API key format check, since proxies use their own keys.
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if cfg.Model.BaseURL == "" && cfg.Model.APIKey != "" {
		if err := v.ValidateAPIKey(cfg.Model.APIKey, strings.ToLower(cfg.Model.Provider)); err != nil {
			errs = append(errs, err)
		}
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	if err := v.ValidateInterpreter("python", cfg.ToolHost.Python); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidateInterpreter("node", cfg.ToolHost.Node); err != nil {
		errs = append(errs, err)
	}

	return errs
}
