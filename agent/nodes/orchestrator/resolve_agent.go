package orchestratornode

import (
	"fmt"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
)

// DefaultAgentConfidence is reported when the default agent stands in for
// an unidentified one.
const DefaultAgentConfidence = 0.0

type ResolveOptions struct {
	DefaultAgent    contractx.Agent
	UseDefaultAgent bool
	NoAgentMessage  string
	Logger          zerolog.Logger
}

func ResolveAgent(in *GraphState, opts ResolveOptions) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if in.ErrorKind != "" {
		return in, nil
	}

	if selected := in.Classification.SelectedAgent; selected != nil {
		in.Agent = selected
		return in, nil
	}

	if opts.UseDefaultAgent && opts.DefaultAgent != nil {
		in.Agent = opts.DefaultAgent
		in.Classification.SelectedAgent = opts.DefaultAgent
		in.Classification.Confidence = DefaultAgentConfidence
		opts.Logger.Info().
			Str("request_id", in.RequestID).
			Str("agent", opts.DefaultAgent.Info().ID).
			Msg("no agent identified, using default agent")
		return in, nil
	}

	in.ErrorKind = ErrorKindNoAgent
	in.Reply = opts.NoAgentMessage
	return in, nil
}
