package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
)

const (
	defaultUpstashTimeout = 10 * time.Second
	maxResponseSizeBytes  = 2 << 20
)

// UpstashOption customizes UpstashStorage.
type UpstashOption func(*UpstashStorage)

func WithKeyPrefix(prefix string) UpstashOption {
	return func(s *UpstashStorage) {
		trimmed := strings.TrimSpace(prefix)
		if trimmed != "" {
			s.keyPrefix = trimmed
		}
	}
}

func WithTTL(ttl time.Duration) UpstashOption {
	return func(s *UpstashStorage) {
		s.ttl = ttl
	}
}

func WithHTTPClient(client *http.Client) UpstashOption {
	return func(s *UpstashStorage) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// UpstashStorage keeps conversations in Upstash Redis via its REST API using
// the same key layout as RedisStorage. REST commands are not transactional,
// so a key must be driven by one in-flight request at a time.
type UpstashStorage struct {
	baseURL    string
	token      string
	httpClient *http.Client
	keyPrefix  string
	ttl        time.Duration
	now        func() time.Time
}

var _ ChatStorage = (*UpstashStorage)(nil)

type redisRESTResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

type UpstashConfig struct {
	URL     string        `envconfig:"URL" split_words:"true"`
	Token   string        `envconfig:"TOKEN" split_words:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
	TTL     time.Duration `envconfig:"TTL" split_words:"true" default:"0s"`
}

func NewUpstashStorage(cfg UpstashConfig, opts ...UpstashOption) (*UpstashStorage, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: upstash redis url is required", contractx.ErrInvalidConfig)
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("%w: invalid redis rest url: %v", contractx.ErrInvalidConfig, err)
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, fmt.Errorf("%w: upstash redis token is required", contractx.ErrInvalidConfig)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultUpstashTimeout
	}

	store := &UpstashStorage{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		keyPrefix: defaultRedisKeyPrefix,
		ttl:       cfg.TTL,
		now:       time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	if store.ttl < 0 {
		return nil, fmt.Errorf("%w: ttl must be >= 0", contractx.ErrInvalidConfig)
	}

	return store, nil
}

func (s *UpstashStorage) SaveChatMessage(
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

	current, err := s.load(ctx, s.logKey(key))
	if err != nil {
		return nil, err
	}
	next, changed := appendMessage(current, msg, maxHistorySize, s.now(), lastSeq(current)+1)
	if !changed {
		return contractx.StripTimestamps(current), nil
	}

	payload, err := encodeLog(next)
	if err != nil {
		return nil, err
	}

	cmd := []any{"SET", s.logKey(key), payload}
	if s.ttl > 0 {
		cmd = append(cmd, "EX", ttlSeconds(s.ttl))
	}
	if _, err := s.exec(ctx, cmd); err != nil {
		return nil, err
	}

	indexKey := s.indexKey(key.UserID, key.SessionID)
	if _, err := s.exec(ctx, []any{"SADD", indexKey, key.AgentID}); err != nil {
		return nil, err
	}
	if s.ttl > 0 {
		if _, err := s.exec(ctx, []any{"EXPIRE", indexKey, ttlSeconds(s.ttl)}); err != nil {
			return nil, err
		}
	}

	return contractx.StripTimestamps(next), nil
}

func (s *UpstashStorage) FetchChat(ctx context.Context, key Key, maxHistorySize int) ([]contractx.Message, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	log, err := s.load(ctx, s.logKey(key))
	if err != nil {
		return nil, err
	}
	return contractx.StripTimestamps(TrimHistory(log, maxHistorySize)), nil
}

func (s *UpstashStorage) FetchAllChats(ctx context.Context, userID, sessionID string) ([]contractx.Message, error) {
	if err := validateSession(userID, sessionID); err != nil {
		return nil, err
	}

	resp, err := s.exec(ctx, []any{"SMEMBERS", s.indexKey(userID, sessionID)})
	if err != nil {
		return nil, err
	}
	var agentIDs []string
	if result := bytes.TrimSpace(resp.Result); len(result) > 0 && !bytes.Equal(result, []byte("null")) {
		if err := json.Unmarshal(result, &agentIDs); err != nil {
			return nil, fmt.Errorf("%w: decode agent index: %v", contractx.ErrStorage, err)
		}
	}
	sort.Strings(agentIDs)

	logs := make([]agentLog, 0, len(agentIDs))
	for _, agentID := range agentIDs {
		log, err := s.load(ctx, s.logKey(NewKey(userID, sessionID, agentID)))
		if err != nil {
			return nil, err
		}
		logs = append(logs, agentLog{agentID: agentID, messages: log})
	}
	return mergeChats(logs), nil
}

func (s *UpstashStorage) load(ctx context.Context, redisKey string) ([]contractx.TimestampedMessage, error) {
	resp, err := s.exec(ctx, []any{"GET", redisKey})
	if err != nil {
		return nil, err
	}

	result := bytes.TrimSpace(resp.Result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return nil, nil
	}

	var encoded string
	if err := json.Unmarshal(result, &encoded); err != nil {
		return nil, fmt.Errorf("%w: decode conversation payload: %v", contractx.ErrStorage, err)
	}
	return decodeLog(encoded)
}

func (s *UpstashStorage) logKey(key Key) string {
	return s.keyPrefix + key.String()
}

func (s *UpstashStorage) indexKey(userID, sessionID string) string {
	return s.keyPrefix + userID + ":" + sessionID + ":agents"
}

func (s *UpstashStorage) exec(ctx context.Context, command []any) (*redisRESTResponse, error) {
	if s == nil {
		return nil, errors.New("nil store")
	}
	if len(command) == 0 {
		return nil, errors.New("empty redis command")
	}

	body, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal redis command: %v", contractx.ErrStorage, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build redis request: %v", contractx.ErrStorage, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: execute redis request: %v", contractx.ErrStorage, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read redis response: %v", contractx.ErrStorage, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: redis http status=%d body=%s", contractx.ErrStorage, resp.StatusCode, string(raw))
	}

	var parsed redisRESTResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode redis response: %v", contractx.ErrStorage, err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("%w: %s", contractx.ErrStorage, parsed.Error)
	}
	return &parsed, nil
}

func ttlSeconds(ttl time.Duration) int64 {
	seconds := ttl / time.Second
	if seconds <= 0 {
		return 1
	}
	if ttl%time.Second != 0 {
		seconds++
	}
	return int64(seconds)
}
