// Package chain runs agents in sequence, piping each answer into the next.
package chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
)

const (
	DefaultOutput = "No output generated from the chain."

	errorReplyFormat = "The chain stopped at agent %s: %v"
)

type Options struct {
	contractx.AgentOptions

	Agents []contractx.Agent

	// DefaultOutput replaces an empty final answer.
	DefaultOutput string

	Logger *zerolog.Logger
}

// Agent feeds the input through its agents in order. Only the last agent may
// stream; its stream is passed through untouched.
type Agent struct {
	info          contractx.Info
	agents        []contractx.Agent
	defaultOutput string
	logger        zerolog.Logger
}

var _ contractx.Agent = (*Agent)(nil)

func New(opts Options) (*Agent, error) {
	info, err := contractx.NewInfo(opts.AgentOptions)
	if err != nil {
		return nil, err
	}

	agents := make([]contractx.Agent, 0, len(opts.Agents))
	for _, a := range opts.Agents {
		if a != nil {
			agents = append(agents, a)
		}
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("%w: chain %s requires at least one agent", contractx.ErrInvalidConfig, info.ID)
	}

	c := &Agent{
		info:          info,
		agents:        agents,
		defaultOutput: strings.TrimSpace(opts.DefaultOutput),
		logger:        zerolog.Nop(),
	}
	if c.defaultOutput == "" {
		c.defaultOutput = DefaultOutput
	}
	if opts.Logger != nil {
		c.logger = *opts.Logger
	}
	return c, nil
}

func (c *Agent) Info() contractx.Info { return c.info }

func (c *Agent) ProcessRequest(ctx context.Context, req contractx.Request) (contractx.Output, error) {
	input := req.Input
	for i, a := range c.agents {
		id := a.Info().ID
		last := i == len(c.agents)-1

		out, err := a.ProcessRequest(ctx, contractx.Request{
			Input:     input,
			UserID:    req.UserID,
			SessionID: req.SessionID,
			History:   req.History,
			Params:    req.Params,
		})
		if err != nil {
			return c.errorReply(id, err), nil
		}

		if out.IsStreaming() {
			if last {
				return out, nil
			}
			out.Stream.Close()
			return c.errorReply(id, fmt.Errorf("%w: intermediate agent returned a stream", contractx.ErrSchemaViolation)), nil
		}

		text := strings.TrimSpace(out.Message.Text())
		if text == "" {
			if last {
				return contractx.Complete(contractx.AssistantMessage(c.defaultOutput)), nil
			}
			return c.errorReply(id, fmt.Errorf("%w: agent returned no text", contractx.ErrSchemaViolation)), nil
		}

		c.logger.Debug().Str("chain", c.info.ID).Str("agent", id).Int("step", i+1).Msg("chain step done")
		input = text
	}
	return contractx.Complete(contractx.AssistantMessage(input)), nil
}

func (c *Agent) errorReply(agentID string, err error) contractx.Output {
	c.logger.Error().Err(err).Str("chain", c.info.ID).Str("agent", agentID).Msg("chain aborted")
	return contractx.Complete(contractx.AssistantMessage(fmt.Sprintf(errorReplyFormat, agentID, err)))
}
