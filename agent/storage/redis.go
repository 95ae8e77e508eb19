package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
)

const (
	defaultRedisKeyPrefix = "conv:"
	maxWatchAttempts      = 5
)

type RedisConfig struct {
	Addr     string        `envconfig:"ADDR" split_words:"true" default:"localhost:6379"`
	Password string        `envconfig:"PASSWORD" split_words:"true"`
	DB       int           `envconfig:"DB" split_words:"true" default:"0"`
	TTL      time.Duration `envconfig:"TTL" split_words:"true" default:"0s"`
}

// RedisOption customizes RedisStorage.
type RedisOption func(*RedisStorage)

func WithRedisKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStorage) {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			s.keyPrefix = trimmed
		}
	}
}

// WithRedisTTL expires a conversation ttl after its last write. Zero keeps
// conversations forever.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStorage) {
		s.ttl = ttl
	}
}

func WithRedisLogger(logger zerolog.Logger) RedisOption {
	return func(s *RedisStorage) {
		s.logger = logger
	}
}

// RedisStorage is the durable key-value backend. Each log lives under
// prefix+userId:sessionId#agentId; a set per session indexes its agents.
// Appends use WATCH/MULTI so a key's read-check-write cycle is atomic.
type RedisStorage struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

var _ ChatStorage = (*RedisStorage)(nil)

func NewRedisStorage(client redis.UniversalClient, opts ...RedisOption) (*RedisStorage, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is required", contractx.ErrInvalidConfig)
	}
	s := &RedisStorage{
		client:    client,
		keyPrefix: defaultRedisKeyPrefix,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.ttl < 0 {
		return nil, fmt.Errorf("%w: ttl must be >= 0", contractx.ErrInvalidConfig)
	}
	return s, nil
}

func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     strings.TrimSpace(cfg.Addr),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func (s *RedisStorage) SaveChatMessage(
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

	logKey := s.logKey(key)
	indexKey := s.indexKey(key.UserID, key.SessionID)

	var result []contractx.TimestampedMessage
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, logKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		current, err := decodeLog(raw)
		if err != nil {
			return err
		}

		next, changed := appendMessage(current, msg, maxHistorySize, s.now(), lastSeq(current)+1)
		result = next
		if !changed {
			return nil
		}

		payload, err := encodeLog(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, logKey, payload, s.ttl)
			pipe.SAdd(ctx, indexKey, key.AgentID)
			if s.ttl > 0 {
				pipe.Expire(ctx, indexKey, s.ttl)
			}
			return nil
		})
		return err
	}

	for attempt := 1; attempt <= maxWatchAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, logKey)
		if err == nil {
			return contractx.StripTimestamps(result), nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, fmt.Errorf("%w: save %s: %v", contractx.ErrStorage, key, err)
		}
		s.logger.Debug().Str("key", logKey).Int("attempt", attempt).Msg("redis watch conflict, retrying")
	}
	return nil, fmt.Errorf("%w: save %s: too many concurrent writers", contractx.ErrStorage, key)
}

func (s *RedisStorage) FetchChat(ctx context.Context, key Key, maxHistorySize int) ([]contractx.Message, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	raw, err := s.client.Get(ctx, s.logKey(key)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: fetch %s: %v", contractx.ErrStorage, key, err)
	}
	log, err := decodeLog(raw)
	if err != nil {
		return nil, err
	}
	return contractx.StripTimestamps(TrimHistory(log, maxHistorySize)), nil
}

func (s *RedisStorage) FetchAllChats(ctx context.Context, userID, sessionID string) ([]contractx.Message, error) {
	if err := validateSession(userID, sessionID); err != nil {
		return nil, err
	}

	agentIDs, err := s.client.SMembers(ctx, s.indexKey(userID, sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list agents for %s:%s: %v", contractx.ErrStorage, userID, sessionID, err)
	}
	if len(agentIDs) == 0 {
		return []contractx.Message{}, nil
	}
	sort.Strings(agentIDs)

	keys := make([]string, 0, len(agentIDs))
	for _, agentID := range agentIDs {
		keys = append(keys, s.logKey(NewKey(userID, sessionID, agentID)))
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: fetch session %s:%s: %v", contractx.ErrStorage, userID, sessionID, err)
	}

	logs := make([]agentLog, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// expired or never written
			continue
		}
		log, err := decodeLog(raw)
		if err != nil {
			return nil, err
		}
		logs = append(logs, agentLog{agentID: agentIDs[i], messages: log})
	}
	return mergeChats(logs), nil
}

func (s *RedisStorage) logKey(key Key) string {
	return s.keyPrefix + key.String()
}

func (s *RedisStorage) indexKey(userID, sessionID string) string {
	return s.keyPrefix + userID + ":" + sessionID + ":agents"
}
