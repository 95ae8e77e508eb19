package storage

import (
	"context"
	"sync"
	"time"

	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
)

// MemoryStorage keeps conversations in process memory. It is not durable.
type MemoryStorage struct {
	mu       sync.Mutex
	logs     map[Key][]contractx.TimestampedMessage
	sessions map[sessionKey][]string // agent ids in first-write order
	seq      int64
	now      func() time.Time
}

type sessionKey struct {
	userID    string
	sessionID string
}

var _ ChatStorage = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		logs:     make(map[Key][]contractx.TimestampedMessage),
		sessions: make(map[sessionKey][]string),
		now:      time.Now,
	}
}

func (s *MemoryStorage) SaveChatMessage(
	ctx context.Context,
	key Key,
	msg contractx.Message,
	maxHistorySize int,
) ([]contractx.Message, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.logs[key]
	next, changed := appendMessage(current, msg, maxHistorySize, s.now(), s.seq+1)
	if !changed {
		return contractx.StripTimestamps(current), nil
	}
	s.seq++

	// Copy so trimmed heads are released and callers never alias the log.
	stored := make([]contractx.TimestampedMessage, len(next))
	copy(stored, next)
	s.logs[key] = stored

	sk := sessionKey{userID: key.UserID, sessionID: key.SessionID}
	if !containsString(s.sessions[sk], key.AgentID) {
		s.sessions[sk] = append(s.sessions[sk], key.AgentID)
	}

	return contractx.StripTimestamps(stored), nil
}

func (s *MemoryStorage) FetchChat(ctx context.Context, key Key, maxHistorySize int) ([]contractx.Message, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return contractx.StripTimestamps(TrimHistory(s.logs[key], maxHistorySize)), nil
}

func (s *MemoryStorage) FetchAllChats(ctx context.Context, userID, sessionID string) ([]contractx.Message, error) {
	if err := validateSession(userID, sessionID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	agentIDs := s.sessions[sessionKey{userID: userID, sessionID: sessionID}]
	logs := make([]agentLog, 0, len(agentIDs))
	for _, agentID := range agentIDs {
		logs = append(logs, agentLog{
			agentID:  agentID,
			messages: s.logs[NewKey(userID, sessionID, agentID)],
		})
	}
	return mergeChats(logs), nil
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
