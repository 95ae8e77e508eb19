package storage

import (
	"context"
	"database/sql"
	"testing"

	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func newSQLiteStorage(t *testing.T) *SQLStorage {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewSQLStorage(db)
	if err != nil {
		t.Fatalf("NewSQLStorage() error = %v", err)
	}
	s.now = testClock()
	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() error = %v", err)
	}
	return s
}

func TestSQLStorage(t *testing.T) {
	t.Parallel()

	runChatStorageSuite(t, func(t *testing.T) ChatStorage {
		return newSQLiteStorage(t)
	})
}

func TestSQLStorageMessageIndexKeepsIncreasingAfterTrim(t *testing.T) {
	t.Parallel()

	s := newSQLiteStorage(t)
	ctx := context.Background()
	key := NewKey("u1", "s1", "tech-agent")

	for i := 0; i < 6; i++ {
		msg := contractx.UserMessage("q")
		if i%2 == 1 {
			msg = contractx.AssistantMessage("a")
		}
		if _, err := s.SaveChatMessage(ctx, key, msg, 2); err != nil {
			t.Fatalf("SaveChatMessage() error = %v", err)
		}
	}

	var rows []messageRow
	if err := s.db.NewSelect().Model(&rows).OrderExpr("message_index ASC").Scan(ctx); err != nil {
		t.Fatalf("select rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows after trimming, got %d", len(rows))
	}
	if rows[0].MessageIndex != 4 || rows[1].MessageIndex != 5 {
		t.Fatalf("unexpected message indexes: %d, %d", rows[0].MessageIndex, rows[1].MessageIndex)
	}
}

func TestNewSQLStorageRequiresDB(t *testing.T) {
	t.Parallel()

	if _, err := NewSQLStorage(nil); err == nil {
		t.Fatal("expected error for nil db")
	}
}
