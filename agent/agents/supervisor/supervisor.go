// Package supervisor lets a lead agent delegate to a team through an
// injected tool.
package supervisor

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	specialistx "github.com/tanpawarit/agent-squad-router/agent/agents/specialist"
	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
	promptx "github.com/tanpawarit/agent-squad-router/agent/prompt"
	storagex "github.com/tanpawarit/agent-squad-router/agent/storage"
	streamx "github.com/tanpawarit/agent-squad-router/agent/stream"
	toolx "github.com/tanpawarit/agent-squad-router/agent/tool"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxRounds       = 40
	DefaultMaxMessagePairs = 100

	errorReplyFormat     = "The team could not complete this request: %v"
	exhaustedRoundsReply = "The team could not reach an answer within the allowed number of rounds."
)

type Options struct {
	contractx.AgentOptions

	// Lead must be a specialist agent without tools of its own.
	Lead *specialistx.Agent
	Team []contractx.Agent

	// Storage holds team members' histories. Defaults to in-memory.
	Storage         storagex.ChatStorage
	MaxMessagePairs int

	Trace      bool
	ExtraTools *toolx.Catalog
	MaxRounds  int

	Logger *zerolog.Logger
}

type Agent struct {
	info       contractx.Info
	lead       *specialistx.Agent
	team       []contractx.Agent
	byName     map[string]contractx.Agent
	storage    storagex.ChatStorage
	maxHistory int
	trace      bool
	extraTools *toolx.Catalog
	maxRounds  int
	logger     zerolog.Logger
	roster     string

	runner compose.Runnable[[]*schema.Message, *schema.Message]
}

var _ contractx.Agent = (*Agent)(nil)

func New(ctx context.Context, opts Options) (*Agent, error) {
	info, err := contractx.NewInfo(opts.AgentOptions)
	if err != nil {
		return nil, err
	}
	if opts.Lead == nil {
		return nil, fmt.Errorf("%w: supervisor %s requires a specialist lead agent", contractx.ErrInvalidConfig, info.ID)
	}
	if opts.Lead.HasTools() {
		return nil, fmt.Errorf("%w: supervisor %s owns tool configuration; lead %s must not have tools", contractx.ErrInvalidConfig, info.ID, opts.Lead.Info().ID)
	}
	if opts.ExtraTools.Has(SendMessagesTool) {
		return nil, fmt.Errorf("%w: extra tool %q is reserved", contractx.ErrInvalidConfig, SendMessagesTool)
	}

	s := &Agent{
		info:       info,
		lead:       opts.Lead,
		byName:     map[string]contractx.Agent{},
		storage:    opts.Storage,
		maxHistory: opts.MaxMessagePairs * 2,
		trace:      opts.Trace,
		extraTools: opts.ExtraTools,
		maxRounds:  opts.MaxRounds,
		logger:     zerolog.Nop(),
	}
	if s.storage == nil {
		s.storage = storagex.NewMemoryStorage()
	}
	if s.maxHistory <= 0 {
		s.maxHistory = DefaultMaxMessagePairs * 2
	}
	if s.maxRounds <= 0 {
		s.maxRounds = DefaultMaxRounds
	}
	if opts.Logger != nil {
		s.logger = *opts.Logger
	}

	roster := make([]string, 0, len(opts.Team))
	for _, member := range opts.Team {
		if member == nil {
			continue
		}
		mi := member.Info()
		if mi.ID == opts.Lead.Info().ID {
			return nil, fmt.Errorf("%w: lead %s cannot be a team member", contractx.ErrInvalidConfig, mi.ID)
		}
		if _, exists := s.byName[mi.ID]; exists {
			return nil, fmt.Errorf("%w: team member %s", contractx.ErrDuplicateAgent, mi.ID)
		}
		s.byName[mi.ID] = member
		s.byName[strings.ToLower(mi.Name)] = member
		s.team = append(s.team, member)
		roster = append(roster, mi.Name+": "+mi.Description)
	}
	if len(s.team) == 0 {
		return nil, fmt.Errorf("%w: supervisor %s requires a team", contractx.ErrInvalidConfig, info.ID)
	}
	s.roster = promptx.Render(promptx.LoadPromptSet().Supervisor, map[string]any{"AGENTS": roster})

	infos := append([]*schema.ToolInfo{sendMessagesInfo()}, opts.ExtraTools.Infos()...)
	bound, err := opts.Lead.Model().WithTools(infos)
	if err != nil {
		return nil, fmt.Errorf("%w: bind supervisor tools: %v", contractx.ErrModelInvoke, err)
	}
	s.runner, err = specialistx.CompileModelGraph(ctx, bound, "supervisor."+info.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}
	return s, nil
}

func (s *Agent) Info() contractx.Info { return s.info }

func (s *Agent) ProcessRequest(ctx context.Context, req contractx.Request) (contractx.Output, error) {
	traceID := uuid.NewString()
	systemPrompt := s.lead.RenderSystemPrompt(req.Params) + "\n\n" + s.roster

	messages := make([]*schema.Message, 0, len(req.History)+2)
	messages = append(messages, schema.SystemMessage(systemPrompt))
	messages = append(messages, specialistx.ToSchemaMessages(req.History)...)
	messages = append(messages, schema.UserMessage(req.Input))

	var lastText string
	for round := 1; round <= s.maxRounds; round++ {
		resp, err := s.runner.Invoke(ctx, messages)
		if err != nil {
			return s.errorReply(traceID, err), nil
		}
		if resp == nil {
			return s.errorReply(traceID, fmt.Errorf("%w: empty lead response", contractx.ErrSchemaViolation)), nil
		}
		if text := strings.TrimSpace(resp.Content); text != "" {
			lastText = text
		}
		if len(resp.ToolCalls) == 0 {
			if lastText == "" {
				return s.errorReply(traceID, fmt.Errorf("%w: lead returned no content", contractx.ErrSchemaViolation)), nil
			}
			return contractx.Complete(contractx.AssistantMessage(lastText)), nil
		}

		messages = append(messages, resp)
		for _, call := range resp.ToolCalls {
			if call.Function.Name != SendMessagesTool {
				out, _ := s.extraTools.Run(ctx, call.Function.Name, call.Function.Arguments)
				messages = append(messages, schema.ToolMessage(out, call.ID))
				continue
			}

			outgoing, err := parseSendMessages(call.Function.Arguments)
			if err != nil {
				// let the lead correct its call
				messages = append(messages, schema.ToolMessage(err.Error(), call.ID))
				continue
			}
			joined, err := s.delegate(ctx, req, traceID, round, outgoing)
			if err != nil {
				return s.errorReply(traceID, err), nil
			}
			messages = append(messages, schema.ToolMessage(joined, call.ID))
		}
	}

	s.logger.Warn().Str("supervisor", s.info.ID).Str("trace_id", traceID).Int("max_rounds", s.maxRounds).Msg("delegation budget exhausted")
	if lastText != "" {
		return contractx.Complete(contractx.AssistantMessage(lastText)), nil
	}
	return contractx.Complete(contractx.AssistantMessage(exhaustedRoundsReply)), nil
}

// delegate sends every message concurrently and joins the answers as
// "name: text" lines in request order. Any failure fails the round.
func (s *Agent) delegate(
	ctx context.Context,
	req contractx.Request,
	traceID string,
	round int,
	outgoing []outgoingMessage,
) (string, error) {
	replies := make([]string, len(outgoing))
	g, gctx := errgroup.WithContext(ctx)
	for i, msg := range outgoing {
		i, msg := i, msg
		member, ok := s.member(msg.Recipient)
		if !ok {
			replies[i] = msg.Recipient + ": no team member with this name"
			continue
		}
		g.Go(func() error {
			text, err := s.ask(gctx, req, member, msg.Content)
			if err != nil {
				return fmt.Errorf("team member %s: %w", member.Info().ID, err)
			}
			replies[i] = member.Info().Name + ": " + text
			if s.trace {
				s.logger.Info().
					Str("supervisor", s.info.ID).
					Str("trace_id", traceID).
					Int("round", round).
					Str("recipient", member.Info().ID).
					Str("message", msg.Content).
					Str("reply", text).
					Msg("delegation")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return strings.Join(replies, "\n"), nil
}

func (s *Agent) member(recipient string) (contractx.Agent, bool) {
	key := strings.ToLower(strings.TrimSpace(recipient))
	if m, ok := s.byName[key]; ok {
		return m, true
	}
	m, ok := s.byName[contractx.GenerateID(recipient)]
	return m, ok
}

// ask runs one team member on its own history.
func (s *Agent) ask(ctx context.Context, req contractx.Request, member contractx.Agent, content string) (string, error) {
	mi := member.Info()
	key := storagex.NewKey(req.UserID, req.SessionID, mi.ID)
	persist := mi.SaveChat && key.Validate() == nil

	var history []contractx.Message
	if persist {
		var err error
		history, err = s.storage.FetchChat(ctx, key, s.maxHistory)
		if err != nil {
			return "", err
		}
	}

	out, err := member.ProcessRequest(ctx, contractx.Request{
		Input:     content,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		History:   history,
		Params:    req.Params,
	})
	if err != nil {
		return "", err
	}

	var text string
	if out.IsStreaming() {
		text, err = streamx.New(out.Stream, nil).Drain()
		if err != nil {
			return "", err
		}
	} else {
		text = out.Message.Text()
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty reply", contractx.ErrSchemaViolation)
	}

	if persist {
		if _, err := s.storage.SaveChatMessage(ctx, key, contractx.UserMessage(content), s.maxHistory); err != nil {
			return "", err
		}
		if _, err := s.storage.SaveChatMessage(ctx, key, contractx.AssistantMessage(text), s.maxHistory); err != nil {
			return "", err
		}
	}
	return text, nil
}

func (s *Agent) errorReply(traceID string, err error) contractx.Output {
	s.logger.Error().Err(err).Str("supervisor", s.info.ID).Str("trace_id", traceID).Msg("supervisor request failed")
	return contractx.Complete(contractx.AssistantMessage(fmt.Sprintf(errorReplyFormat, err)))
}
