// Package specialist is the direct LLM-backed agent.
package specialist

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
	promptx "github.com/tanpawarit/agent-squad-router/agent/prompt"
	streamx "github.com/tanpawarit/agent-squad-router/agent/stream"
	toolx "github.com/tanpawarit/agent-squad-router/agent/tool"
)

const (
	DefaultMaxRecursions = 20

	errorReplyFormat    = "I'm sorry, I ran into a problem while answering: %v"
	exhaustedToolsReply = "I could not finish this request within the allowed number of tool calls."
	defaultSystemPrompt = "You are {{NAME}}, a helpful assistant. {{DESCRIPTION}}"
)

type Options struct {
	contractx.AgentOptions

	Model einomodel.ToolCallingChatModel

	// SystemPrompt may reference {{KEY}} variables from PromptVars and from
	// the request's additional params.
	SystemPrompt string
	PromptVars   map[string]string

	// Streaming applies only when no tools are configured.
	Streaming bool

	Tools         *toolx.Catalog
	MaxRecursions int

	Logger *zerolog.Logger
}

// Agent answers with one chat model, running tool calls until the model
// produces a final answer or the recursion budget runs out. Backend errors
// are returned in-band as an assistant message.
type Agent struct {
	info          contractx.Info
	model         einomodel.ToolCallingChatModel
	systemPrompt  string
	vars          map[string]string
	streaming     bool
	tools         *toolx.Catalog
	maxRecursions int
	logger        zerolog.Logger

	runner compose.Runnable[[]*schema.Message, *schema.Message]
}

var _ contractx.Agent = (*Agent)(nil)

func New(ctx context.Context, opts Options) (*Agent, error) {
	info, err := contractx.NewInfo(opts.AgentOptions)
	if err != nil {
		return nil, err
	}
	if opts.Model == nil {
		return nil, fmt.Errorf("%w: agent %s requires a chat model", contractx.ErrInvalidConfig, info.ID)
	}

	a := &Agent{
		info:          info,
		model:         opts.Model,
		systemPrompt:  strings.TrimSpace(opts.SystemPrompt),
		vars:          map[string]string{},
		streaming:     opts.Streaming,
		tools:         opts.Tools,
		maxRecursions: opts.MaxRecursions,
		logger:        zerolog.Nop(),
	}
	if a.systemPrompt == "" {
		a.systemPrompt = defaultSystemPrompt
	}
	if a.maxRecursions <= 0 {
		a.maxRecursions = DefaultMaxRecursions
	}
	if opts.Logger != nil {
		a.logger = *opts.Logger
	}
	for k, v := range opts.PromptVars {
		a.vars[k] = v
	}

	chatModel := einomodel.BaseChatModel(opts.Model)
	if a.HasTools() {
		bound, err := opts.Model.WithTools(a.tools.Infos())
		if err != nil {
			return nil, fmt.Errorf("%w: bind tools for agent=%s: %v", contractx.ErrModelInvoke, info.ID, err)
		}
		chatModel = bound
	}
	a.runner, err = CompileModelGraph(ctx, chatModel, "specialist."+info.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}
	return a, nil
}

func (a *Agent) Info() contractx.Info { return a.info }

// Model is the unbound chat model, for composites that bind their own tools.
func (a *Agent) Model() einomodel.ToolCallingChatModel { return a.model }

func (a *Agent) HasTools() bool { return a.tools.Len() > 0 }

// RenderSystemPrompt resolves the prompt for one request; request params win
// over configured variables.
func (a *Agent) RenderSystemPrompt(params map[string]string) string {
	vars := map[string]any{
		"NAME":        a.info.Name,
		"DESCRIPTION": a.info.Description,
	}
	for k, v := range a.vars {
		vars[k] = v
	}
	for k, v := range params {
		vars[k] = v
	}
	return promptx.Render(a.systemPrompt, vars)
}

func (a *Agent) ProcessRequest(ctx context.Context, req contractx.Request) (contractx.Output, error) {
	messages := make([]*schema.Message, 0, len(req.History)+2)
	messages = append(messages, schema.SystemMessage(a.RenderSystemPrompt(req.Params)))
	messages = append(messages, ToSchemaMessages(req.History)...)
	messages = append(messages, schema.UserMessage(req.Input))

	if a.streaming && !a.HasTools() {
		sr, err := a.runner.Stream(ctx, messages)
		if err != nil {
			return a.errorReply(err), nil
		}
		return contractx.Streaming(streamx.FromMessages(sr)), nil
	}

	return contractx.Complete(a.generate(ctx, messages)), nil
}

func (a *Agent) generate(ctx context.Context, messages []*schema.Message) contractx.Message {
	var lastText string
	for round := 0; round < a.maxRecursions; round++ {
		resp, err := a.runner.Invoke(ctx, messages)
		if err != nil {
			return a.errorReply(err).Message
		}
		if resp == nil {
			return a.errorReply(fmt.Errorf("%w: empty model response", contractx.ErrSchemaViolation)).Message
		}
		if text := strings.TrimSpace(resp.Content); text != "" {
			lastText = text
		}
		if len(resp.ToolCalls) == 0 {
			if lastText == "" {
				return a.errorReply(fmt.Errorf("%w: model returned no content", contractx.ErrSchemaViolation)).Message
			}
			return contractx.AssistantMessage(lastText)
		}

		messages = append(messages, resp)
		for _, call := range resp.ToolCalls {
			out, ok := a.tools.Run(ctx, call.Function.Name, call.Function.Arguments)
			a.logger.Debug().
				Str("agent", a.info.ID).
				Str("tool", call.Function.Name).
				Bool("ok", ok).
				Int("round", round+1).
				Msg("tool call")
			messages = append(messages, schema.ToolMessage(out, call.ID))
		}
	}

	a.logger.Warn().Str("agent", a.info.ID).Int("max_recursions", a.maxRecursions).Msg("tool budget exhausted")
	if lastText != "" {
		return contractx.AssistantMessage(lastText)
	}
	return contractx.AssistantMessage(exhaustedToolsReply)
}

func (a *Agent) errorReply(err error) contractx.Output {
	a.logger.Error().Err(err).Str("agent", a.info.ID).Msg("agent request failed")
	return contractx.Complete(contractx.AssistantMessage(fmt.Sprintf(errorReplyFormat, err)))
}
