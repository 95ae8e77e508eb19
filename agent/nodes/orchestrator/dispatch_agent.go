package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
)

type DispatchOptions struct {
	// ErrorMessage replaces the answer when the agent itself fails.
	ErrorMessage string

	Logger       zerolog.Logger
	LogAgentChat bool
}

func DispatchAgent(ctx context.Context, in *GraphState, opts DispatchOptions) (*GraphState, error) {
	if !in.Dispatchable() {
		return nil, fmt.Errorf("%w: no agent resolved", contractx.ErrValidation)
	}

	info := in.Agent.Info()
	if opts.LogAgentChat {
		opts.Logger.Info().
			Str("request_id", in.RequestID).
			Str("agent", info.ID).
			Str("input", in.UserInput).
			Interface("history", in.AgentHistory).
			Msg("agent chat")
	}

	out, err := in.Agent.ProcessRequest(ctx, contractx.Request{
		Input:     in.UserInput,
		UserID:    in.UserID,
		SessionID: in.SessionID,
		History:   in.AgentHistory,
		Params:    in.AdditionalParams,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		opts.Logger.Error().Err(err).Str("request_id", in.RequestID).Str("agent", info.ID).Msg("agent dispatch failed")
		in.ErrorKind = ErrorKindAgent
		in.Reply = opts.ErrorMessage
		return in, nil
	}
	if out.Kind == contractx.OutputStreaming && out.Stream == nil {
		return nil, fmt.Errorf("%w: agent %s returned a streaming output without a stream", contractx.ErrSchemaViolation, info.ID)
	}

	in.Output = out
	return in, nil
}
