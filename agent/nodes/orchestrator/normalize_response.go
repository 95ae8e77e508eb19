package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
	storagex "github.com/tanpawarit/agent-squad-router/agent/storage"
	streamx "github.com/tanpawarit/agent-squad-router/agent/stream"
)

type PersistOptions struct {
	Store      storagex.ChatStorage
	MaxHistory int
	Logger     zerolog.Logger
}

// NormalizeResponse builds the envelope for a dispatched turn and persists the
// exchange when the agent keeps chat history. A streamed answer is persisted
// once the caller has drained the stream.
func NormalizeResponse(ctx context.Context, in *GraphState, opts PersistOptions) (*Response, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if !in.Dispatchable() {
		return Reject(in)
	}

	info := in.Agent.Info()
	key := storagex.NewKey(in.UserID, in.SessionID, info.ID)
	resp := &Response{Metadata: metadata(in)}

	if in.Output.IsStreaming() {
		resp.Streaming = true
		var onDone streamx.DoneFunc
		if info.SaveChat {
			// the stream outlives the request context
			persistCtx := context.WithoutCancel(ctx)
			onDone = func(text string) error {
				return persistExchange(persistCtx, opts, key, in.UserInput, contractx.AssistantMessage(text))
			}
		}
		resp.Stream = streamx.New(in.Output.Stream, onDone)
		return resp, nil
	}

	reply := in.Output.Message.Clone()
	resp.Output = reply.Text()
	if info.SaveChat {
		reply.Role = contractx.RoleAssistant
		if len(reply.Content) == 0 {
			reply = contractx.AssistantMessage(resp.Output)
		}
		if err := persistExchange(ctx, opts, key, in.UserInput, reply); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// Reject builds the envelope of a turn that ends without an agent answer.
// Nothing is persisted.
func Reject(in *GraphState) (*Response, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	return &Response{Metadata: metadata(in), Output: in.Reply}, nil
}

func persistExchange(
	ctx context.Context,
	opts PersistOptions,
	key storagex.Key,
	input string,
	reply contractx.Message,
) error {
	if _, err := opts.Store.SaveChatMessage(ctx, key, contractx.UserMessage(input), opts.MaxHistory); err != nil {
		return fmt.Errorf("save user turn: %w", err)
	}
	if _, err := opts.Store.SaveChatMessage(ctx, key, reply, opts.MaxHistory); err != nil {
		return fmt.Errorf("save assistant turn: %w", err)
	}
	opts.Logger.Debug().Str("key", key.String()).Msg("exchange persisted")
	return nil
}
