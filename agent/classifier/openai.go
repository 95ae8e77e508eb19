package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"
	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
)

type OpenAIConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int64
}

// OpenAIBackend calls the chat completions API directly and forces the
// analyzePrompt tool choice.
type OpenAIBackend struct {
	client *openaisdk.Client
	cfg    OpenAIConfig
}

var _ Backend = (*OpenAIBackend)(nil)

func NewOpenAIBackend(client *openaisdk.Client, cfg OpenAIConfig) (*OpenAIBackend, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: openai client is required", contractx.ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("%w: classifier model is required", contractx.ErrInvalidConfig)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	return &OpenAIBackend{client: client, cfg: cfg}, nil
}

func (b *OpenAIBackend) Decide(ctx context.Context, systemPrompt string, input string) (Decision, error) {
	resp, err := b.client.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(strings.TrimSpace(b.cfg.Model)),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(systemPrompt),
			openaisdk.UserMessage(input),
		},
		Tools: []openaisdk.ChatCompletionToolParam{
			{
				Function: openaisdk.FunctionDefinitionParam{
					Name:        AnalyzePromptTool,
					Description: openaisdk.String(analyzePromptDesc),
					Parameters:  openaisdk.FunctionParameters(analyzePromptParameters()),
				},
			},
		},
		ToolChoice: openaisdk.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &openaisdk.ChatCompletionNamedToolChoiceParam{
				Function: openaisdk.ChatCompletionNamedToolChoiceFunctionParam{
					Name: AnalyzePromptTool,
				},
			},
		},
		Temperature: openaisdk.Float(b.cfg.Temperature),
		MaxTokens:   openaisdk.Int(b.cfg.MaxTokens),
	})
	if err != nil {
		return Decision{}, fmt.Errorf("%w: chat completion: %v", contractx.ErrModelInvoke, err)
	}
	if len(resp.Choices) == 0 {
		return Decision{}, fmt.Errorf("%w: no choices returned", contractx.ErrSchemaViolation)
	}

	for _, call := range resp.Choices[0].Message.ToolCalls {
		if call.Function.Name != AnalyzePromptTool {
			continue
		}
		var out Decision
		if err := json.Unmarshal([]byte(call.Function.Arguments), &out); err != nil {
			return Decision{}, fmt.Errorf("%w: parse %s arguments: %v", contractx.ErrSchemaViolation, AnalyzePromptTool, err)
		}
		out.Raw = call.Function.Arguments
		return out, nil
	}
	return Decision{}, fmt.Errorf("%w: model did not call %s", contractx.ErrSchemaViolation, AnalyzePromptTool)
}
