package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type PostgresConfig struct {
	DSN string `envconfig:"DSN" split_words:"true"`
}

// messageRow is one message of one log. MessageIndex increments per key and
// orders the log; ID is global and breaks timestamp ties across agents.
type messageRow struct {
	bun.BaseModel `bun:"table:conversation_messages,alias:cm"`

	ID           int64     `bun:"id,pk,autoincrement"`
	UserID       string    `bun:"user_id,notnull"`
	SessionID    string    `bun:"session_id,notnull"`
	AgentID      string    `bun:"agent_id,notnull"`
	MessageIndex int64     `bun:"message_index,notnull"`
	Role         string    `bun:"role,notnull"`
	Content      string    `bun:"content,notnull"`
	CreatedAt    time.Time `bun:"created_at,notnull"`
}

// SQLStorage is the relational backend built on bun. Appends run in one
// transaction so a failed call leaves the log untouched.
type SQLStorage struct {
	db  *bun.DB
	now func() time.Time
}

var _ ChatStorage = (*SQLStorage)(nil)

func NewSQLStorage(db *bun.DB) (*SQLStorage, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: bun db is required", contractx.ErrInvalidConfig)
	}
	return &SQLStorage{db: db, now: time.Now}, nil
}

// OpenPostgres opens a bun DB over pgdriver.
func OpenPostgres(cfg PostgresConfig) (*bun.DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("%w: postgres dsn is required", contractx.ErrInvalidConfig)
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

// InitSchema creates the messages table and its per-key ordering index.
func (s *SQLStorage) InitSchema(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().
		Model((*messageRow)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("%w: create table: %v", contractx.ErrStorage, err)
	}
	if _, err := s.db.NewCreateIndex().
		Model((*messageRow)(nil)).
		Index("conversation_messages_key_idx").
		Unique().
		Column("user_id", "session_id", "agent_id", "message_index").
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("%w: create index: %v", contractx.ErrStorage, err)
	}
	return nil
}

func (s *SQLStorage) SaveChatMessage(
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

	content, err := json.Marshal(msg.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal content: %v", contractx.ErrStorage, err)
	}

	var result []contractx.TimestampedMessage
	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var rows []messageRow
		if err := tx.NewSelect().
			Model(&rows).
			Where("user_id = ?", key.UserID).
			Where("session_id = ?", key.SessionID).
			Where("agent_id = ?", key.AgentID).
			OrderExpr("message_index ASC").
			Scan(ctx); err != nil {
			return err
		}

		current, err := rowsToLog(rows)
		if err != nil {
			return err
		}
		if IsConsecutiveRole(current, msg) {
			result = current
			return nil
		}

		next := int64(0)
		if len(rows) > 0 {
			next = rows[len(rows)-1].MessageIndex + 1
		}
		row := &messageRow{
			UserID:       key.UserID,
			SessionID:    key.SessionID,
			AgentID:      key.AgentID,
			MessageIndex: next,
			Role:         string(msg.Role),
			Content:      string(content),
			CreatedAt:    s.now().UTC(),
		}
		if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
			return err
		}
		rows = append(rows, *row)

		if bound := EffectiveHistoryBound(maxHistorySize); bound > 0 && len(rows) > bound {
			cut := rows[len(rows)-bound-1].MessageIndex
			if _, err := tx.NewDelete().
				Model((*messageRow)(nil)).
				Where("user_id = ?", key.UserID).
				Where("session_id = ?", key.SessionID).
				Where("agent_id = ?", key.AgentID).
				Where("message_index <= ?", cut).
				Exec(ctx); err != nil {
				return err
			}
			rows = rows[len(rows)-bound:]
		}

		result, err = rowsToLog(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: save %s: %v", contractx.ErrStorage, key, err)
	}
	return contractx.StripTimestamps(result), nil
}

func (s *SQLStorage) FetchChat(ctx context.Context, key Key, maxHistorySize int) ([]contractx.Message, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	var rows []messageRow
	q := s.db.NewSelect().
		Model(&rows).
		Where("user_id = ?", key.UserID).
		Where("session_id = ?", key.SessionID).
		Where("agent_id = ?", key.AgentID).
		OrderExpr("message_index DESC")
	if bound := EffectiveHistoryBound(maxHistorySize); bound > 0 {
		q = q.Limit(bound)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", contractx.ErrStorage, key, err)
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}

	log, err := rowsToLog(rows)
	if err != nil {
		return nil, err
	}
	return contractx.StripTimestamps(log), nil
}

func (s *SQLStorage) FetchAllChats(ctx context.Context, userID, sessionID string) ([]contractx.Message, error) {
	if err := validateSession(userID, sessionID); err != nil {
		return nil, err
	}

	var rows []messageRow
	if err := s.db.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		Where("session_id = ?", sessionID).
		OrderExpr("id ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("%w: fetch session %s:%s: %v", contractx.ErrStorage, userID, sessionID, err)
	}

	var logs []agentLog
	index := make(map[string]int)
	for _, row := range rows {
		msg, err := rowToMessage(row)
		if err != nil {
			return nil, err
		}
		i, ok := index[row.AgentID]
		if !ok {
			i = len(logs)
			index[row.AgentID] = i
			logs = append(logs, agentLog{agentID: row.AgentID})
		}
		logs[i].messages = append(logs[i].messages, msg)
	}
	return mergeChats(logs), nil
}

func rowsToLog(rows []messageRow) ([]contractx.TimestampedMessage, error) {
	log := make([]contractx.TimestampedMessage, 0, len(rows))
	for _, row := range rows {
		msg, err := rowToMessage(row)
		if err != nil {
			return nil, err
		}
		log = append(log, msg)
	}
	return log, nil
}

func rowToMessage(row messageRow) (contractx.TimestampedMessage, error) {
	var content []contractx.ContentBlock
	if err := json.Unmarshal([]byte(row.Content), &content); err != nil {
		return contractx.TimestampedMessage{}, fmt.Errorf("%w: decode content of message %d: %v", contractx.ErrStorage, row.ID, err)
	}
	return contractx.TimestampedMessage{
		Message: contractx.Message{
			Role:    contractx.Role(row.Role),
			Content: content,
		},
		Timestamp: row.CreatedAt.UTC(),
		Seq:       row.ID,
	}, nil
}
