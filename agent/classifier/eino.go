package classifier

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
)

type decideInput struct {
	SystemPrompt string
	Input        string
}

// EinoBackend asks an eino chat model to call analyzePrompt and parses the
// tool-call arguments.
type EinoBackend struct {
	runner compose.Runnable[decideInput, Decision]
}

var _ Backend = (*EinoBackend)(nil)

func NewEinoBackend(ctx context.Context, chatModel einomodel.ToolCallingChatModel) (*EinoBackend, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("%w: classifier chat model is required", contractx.ErrInvalidConfig)
	}
	toolModel, err := chatModel.WithTools([]*schema.ToolInfo{analyzePromptInfo()})
	if err != nil {
		return nil, fmt.Errorf("%w: bind %s tool: %v", contractx.ErrModelInvoke, AnalyzePromptTool, err)
	}
	runner, err := compileDecideGraph(ctx, toolModel)
	if err != nil {
		return nil, fmt.Errorf("%w: compile classifier graph: %v", contractx.ErrModelInvoke, err)
	}
	return &EinoBackend{runner: runner}, nil
}

func (b *EinoBackend) Decide(ctx context.Context, systemPrompt string, input string) (Decision, error) {
	return b.runner.Invoke(ctx, decideInput{SystemPrompt: systemPrompt, Input: input})
}

func compileDecideGraph(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
) (compose.Runnable[decideInput, Decision], error) {
	parser := schema.NewMessageJSONParser[Decision](&schema.MessageJSONParseConfig{
		ParseFrom: schema.MessageParseFromToolCall,
	})

	graph := compose.NewGraph[decideInput, Decision]()

	// Prompts carry agent descriptions verbatim, so they are not run through
	// a chat template that would interpret braces.
	if err := graph.AddLambdaNode("messages",
		compose.InvokableLambda(func(ctx context.Context, in decideInput) ([]*schema.Message, error) {
			return []*schema.Message{
				schema.SystemMessage(in.SystemPrompt),
				schema.UserMessage(in.Input),
			}, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add classifier messages node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add classifier model node: %w", err)
	}
	if err := graph.AddLambdaNode("parse_tool_call",
		compose.InvokableLambda(func(ctx context.Context, msg *schema.Message) (Decision, error) {
			if msg == nil || len(msg.ToolCalls) == 0 {
				return Decision{}, fmt.Errorf("%w: model did not call %s", contractx.ErrSchemaViolation, AnalyzePromptTool)
			}
			call := msg.ToolCalls[0]
			if name := strings.TrimSpace(call.Function.Name); name != AnalyzePromptTool {
				return Decision{}, fmt.Errorf("%w: unexpected tool call %q", contractx.ErrSchemaViolation, name)
			}
			out, err := parser.Parse(ctx, msg)
			if err != nil {
				return Decision{}, fmt.Errorf("%w: parse %s arguments: %v", contractx.ErrSchemaViolation, AnalyzePromptTool, err)
			}
			out.Raw = call.Function.Arguments
			return out, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add classifier parser node: %w", err)
	}

	edges := [][2]string{
		{compose.START, "messages"},
		{"messages", "model"},
		{"model", "parse_tool_call"},
		{"parse_tool_call", compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("classifier.decide"))
	if err != nil {
		return nil, fmt.Errorf("compile classifier graph: %w", err)
	}
	return runner, nil
}
