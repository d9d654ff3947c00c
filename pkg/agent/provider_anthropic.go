package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/harun/toolbridge/pkg/catalog"
)

// defaultAnthropicMaxTokens is used when the request does not set a limit;
// the messages API requires one.
const defaultAnthropicMaxTokens = 1000

// AnthropicProvider implements LLMProvider for Anthropic Claude
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a new Anthropic provider. baseURL is optional.
func NewAnthropicProvider(apiKey, baseURL string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
	}
}

// Provider returns the provider name
func (p *AnthropicProvider) Provider() string {
	return ProviderAnthropic
}

// Call makes an API call to Anthropic Claude
func (p *AnthropicProvider) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	reqParams := anthropic.MessageNewParams{
		Model:     anthropic.Model(request.Model),
		Messages:  anthropicMessages(request.Messages),
		MaxTokens: int64(request.MaxTokens),
	}
	if reqParams.MaxTokens <= 0 {
		reqParams.MaxTokens = defaultAnthropicMaxTokens
	}

	if request.SystemPrompt != "" {
		reqParams.System = []anthropic.TextBlockParam{
			{Text: request.SystemPrompt},
		}
	}

	if request.Temperature > 0 {
		reqParams.Temperature = anthropic.Float(request.Temperature)
	}

	if len(request.Tools) > 0 {
		tools, err := anthropicTools(request.Tools)
		if err != nil {
			return nil, err
		}
		reqParams.Tools = tools
	} else if used := toolsUsed(request.Messages); len(used) > 0 {
		// History with tool_use blocks must declare those tools; forbid
		// further calls instead of offering them.
		tools := make([]anthropic.ToolUnionParam, 0, len(used))
		for _, name := range used {
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
				Name:        name,
				InputSchema: anthropic.ToolInputSchemaParam{Properties: map[string]any{}},
			}})
		}
		reqParams.Tools = tools
		reqParams.ToolChoice = anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
	}

	response, err := p.client.Messages.New(ctx, reqParams)
	if err != nil {
		return nil, err
	}

	content := ""
	toolCalls := []ToolCall{}

	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			content += b.Text
		case anthropic.ToolUseBlock:
			args := b.JSON.Input.Raw()
			if args == "" {
				args = "{}"
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: args,
			})
		}
	}

	return &LLMResponse{
		Content:   content,
		ToolCalls: toolCalls,
		Usage: &TokenUsage{
			InputTokens:  int(response.Usage.InputTokens),
			OutputTokens: int(response.Usage.OutputTokens),
		},
	}, nil
}

// anthropicMessages converts the history. Consecutive tool results become
// one user message, as the API expects all results of a turn together.
func anthropicMessages(history []Message) []anthropic.MessageParam {
	messages := []anthropic.MessageParam{}
	var pendingResults []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(pendingResults) > 0 {
			messages = append(messages, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, msg := range history {
		if msg.Role == RoleTool {
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
			continue
		}
		flush()

		switch msg.Role {
		case RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case RoleAssistant:
			blocks := []anthropic.ContentBlockParamUnion{}
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, toolInput(tc.Arguments), tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		}
	}
	flush()

	return messages
}

// toolInput decodes raw arguments for replay; anything that is not a JSON
// object is replayed as an empty object.
func toolInput(arguments string) map[string]any {
	var input map[string]any
	if err := json.Unmarshal([]byte(arguments), &input); err != nil || input == nil {
		return map[string]any{}
	}
	return input
}

func anthropicTools(schemas []catalog.FunctionSchema) ([]anthropic.ToolUnionParam, error) {
	tools := make([]anthropic.ToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		schema, err := decodeSchema(s.Function.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", s.Function.Name, err)
		}

		properties := schema["properties"]
		if properties == nil {
			properties = map[string]any{}
		}
		toolParam := anthropic.ToolParam{
			Name:        s.Function.Name,
			InputSchema: anthropic.ToolInputSchemaParam{Properties: properties},
		}
		if s.Function.Description != "" {
			toolParam.Description = anthropic.String(s.Function.Description)
		}

		if required, ok := schema["required"].([]any); ok {
			names := make([]string, 0, len(required))
			for _, v := range required {
				if name, ok := v.(string); ok {
					names = append(names, name)
				}
			}
			toolParam.InputSchema.Required = names
		}

		tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return tools, nil
}

// toolsUsed returns the distinct tool names called in history, in order.
func toolsUsed(history []Message) []string {
	seen := map[string]bool{}
	var names []string
	for _, msg := range history {
		for _, tc := range msg.ToolCalls {
			if !seen[tc.Name] {
				seen[tc.Name] = true
				names = append(names, tc.Name)
			}
		}
	}
	return names
}
