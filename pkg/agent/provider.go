package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/toolbridge/pkg/catalog"
)

// Provider names accepted by ProviderFactory.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// LLMProvider is an interface for LLM API providers
type LLMProvider interface {
	// Call makes an LLM API call
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)

	// Provider returns the provider name
	Provider() string
}

// LLMRequest contains the request parameters for LLM call. Tools is empty
// when the model must answer without calling tools.
type LLMRequest struct {
	Model        string
	Messages     []Message
	Tools        []catalog.FunctionSchema
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// LLMResponse contains the response from LLM
type LLMResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// ProviderConfig selects and authenticates a provider.
type ProviderConfig struct {
	Name    string
	APIKey  string
	BaseURL string
}

// ProviderFactory creates LLM providers
type ProviderFactory struct{}

// NewProvider creates a new LLM provider. An empty name selects OpenAI.
func (f *ProviderFactory) NewProvider(cfg ProviderConfig) (LLMProvider, error) {
	switch strings.ToLower(cfg.Name) {
	case "", ProviderOpenAI:
		return NewOpenAIProvider(cfg.APIKey, cfg.BaseURL), nil
	case ProviderAnthropic:
		return NewAnthropicProvider(cfg.APIKey, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Name)
	}
}
