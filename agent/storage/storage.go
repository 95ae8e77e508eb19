// Package storage persists per-agent conversation logs keyed by
// (user, session, agent) and derives the merged per-session view.
package storage

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
)

// ChatStorage is the persistence contract used by the orchestrator. Every
// backend must produce the same ordering and the same consecutive-role
// suppression. A maxHistorySize <= 0 means unbounded.
type ChatStorage interface {
	SaveChatMessage(ctx context.Context, key Key, msg contractx.Message, maxHistorySize int) ([]contractx.Message, error)
	FetchChat(ctx context.Context, key Key, maxHistorySize int) ([]contractx.Message, error)
	FetchAllChats(ctx context.Context, userID, sessionID string) ([]contractx.Message, error)
}

// Key identifies one ordered message log.
type Key struct {
	UserID    string
	SessionID string
	AgentID   string
}

func NewKey(userID, sessionID, agentID string) Key {
	return Key{UserID: userID, SessionID: sessionID, AgentID: agentID}
}

func (k Key) Validate() error {
	if strings.TrimSpace(k.UserID) == "" || strings.TrimSpace(k.SessionID) == "" || strings.TrimSpace(k.AgentID) == "" {
		return fmt.Errorf("%w: user=%q session=%q agent=%q", contractx.ErrInvalidKey, k.UserID, k.SessionID, k.AgentID)
	}
	return nil
}

// SortKey is the per-user sort key of a log, sessionId#agentId.
func (k Key) SortKey() string {
	return k.SessionID + "#" + k.AgentID
}

func (k Key) String() string {
	return k.UserID + ":" + k.SortKey()
}

func validateSession(userID, sessionID string) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: user=%q session=%q", contractx.ErrInvalidKey, userID, sessionID)
	}
	return nil
}
