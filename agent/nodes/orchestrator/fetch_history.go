package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
	storagex "github.com/tanpawarit/agent-squad-router/agent/storage"
)

// FetchSessionHistory loads the merged cross-agent log used as classifier
// context.
func FetchSessionHistory(
	ctx context.Context,
	in *GraphState,
	store storagex.ChatStorage,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	history, err := store.FetchAllChats(ctx, in.UserID, in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("fetch session history: %w", err)
	}
	in.SessionHistory = history
	return in, nil
}

// FetchAgentHistory loads the resolved agent's own log, bounded to
// maxHistory messages.
func FetchAgentHistory(
	ctx context.Context,
	in *GraphState,
	store storagex.ChatStorage,
	maxHistory int,
) (*GraphState, error) {
	if !in.Dispatchable() {
		return nil, fmt.Errorf("%w: no agent resolved", contractx.ErrValidation)
	}

	key := storagex.NewKey(in.UserID, in.SessionID, in.Agent.Info().ID)
	history, err := store.FetchChat(ctx, key, maxHistory)
	if err != nil {
		return nil, fmt.Errorf("fetch agent history: %w", err)
	}
	in.AgentHistory = history
	return in, nil
}
