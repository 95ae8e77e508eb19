package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
)

// testClock hands out strictly increasing timestamps.
func testClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Millisecond)
		return now
	}
}

func runChatStorageSuite(t *testing.T, newStore func(t *testing.T) ChatStorage) {
	t.Helper()

	t.Run("consecutive role is suppressed", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		key := NewKey("u1", "s1", "tech-agent")

		if _, err := store.SaveChatMessage(ctx, key, contractx.UserMessage("first"), 0); err != nil {
			t.Fatalf("SaveChatMessage() error = %v", err)
		}
		got, err := store.SaveChatMessage(ctx, key, contractx.UserMessage("second"), 0)
		if err != nil {
			t.Fatalf("SaveChatMessage() error = %v", err)
		}
		if len(got) != 1 || got[0].Text() != "first" {
			t.Fatalf("expected unchanged log with first message, got %#v", got)
		}

		fetched, err := store.FetchChat(ctx, key, 0)
		if err != nil {
			t.Fatalf("FetchChat() error = %v", err)
		}
		if len(fetched) != 1 || fetched[0].Text() != "first" {
			t.Fatalf("expected only first message persisted, got %#v", fetched)
		}
	})

	t.Run("odd bound trims to whole pairs", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		key := NewKey("u1", "s1", "tech-agent")

		var got []contractx.Message
		var err error
		for i, text := range []string{"q1", "a1", "q2", "a2", "q3", "a3"} {
			msg := contractx.UserMessage(text)
			if i%2 == 1 {
				msg = contractx.AssistantMessage(text)
			}
			got, err = store.SaveChatMessage(ctx, key, msg, 5)
			if err != nil {
				t.Fatalf("SaveChatMessage(%s) error = %v", text, err)
			}
		}
		if len(got) != 4 {
			t.Fatalf("expected 4 messages after trim, got %d", len(got))
		}
		if got[0].Text() != "q2" || got[0].Role != contractx.RoleUser {
			t.Fatalf("expected trimmed log to start with q2 user turn, got %#v", got[0])
		}

		fetched, err := store.FetchChat(ctx, key, 0)
		if err != nil {
			t.Fatalf("FetchChat() error = %v", err)
		}
		if len(fetched) != 4 || fetched[3].Text() != "a3" {
			t.Fatalf("unexpected persisted log: %#v", fetched)
		}

		bounded, err := store.FetchChat(ctx, key, 3)
		if err != nil {
			t.Fatalf("FetchChat() error = %v", err)
		}
		if len(bounded) != 2 || bounded[0].Text() != "q3" || bounded[1].Text() != "a3" {
			t.Fatalf("unexpected bounded fetch: %#v", bounded)
		}
	})

	t.Run("unknown key is empty", func(t *testing.T) {
		store := newStore(t)
		got, err := store.FetchChat(context.Background(), NewKey("nobody", "none", "x"), 10)
		if err != nil {
			t.Fatalf("FetchChat() error = %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("expected empty log, got %#v", got)
		}

		all, err := store.FetchAllChats(context.Background(), "nobody", "none")
		if err != nil {
			t.Fatalf("FetchAllChats() error = %v", err)
		}
		if len(all) != 0 {
			t.Fatalf("expected empty merged log, got %#v", all)
		}
	})

	t.Run("merged log interleaves by time and tags assistants", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		tech := NewKey("u1", "s1", "tech-agent")
		health := NewKey("u1", "s1", "health-agent")

		steps := []struct {
			key Key
			msg contractx.Message
		}{
			{tech, contractx.UserMessage("What is Lambda?")},
			{tech, contractx.AssistantMessage("A serverless runtime.")},
			{health, contractx.UserMessage("What is aspirin?")},
			{health, contractx.AssistantMessage("A pain reliever.")},
			{tech, contractx.UserMessage("And S3?")},
			{tech, contractx.AssistantMessage("Object storage.")},
		}
		for _, step := range steps {
			if _, err := store.SaveChatMessage(ctx, step.key, step.msg, 0); err != nil {
				t.Fatalf("SaveChatMessage() error = %v", err)
			}
		}
		// another session must not leak in
		if _, err := store.SaveChatMessage(ctx, NewKey("u1", "s2", "tech-agent"), contractx.UserMessage("other"), 0); err != nil {
			t.Fatalf("SaveChatMessage() error = %v", err)
		}

		all, err := store.FetchAllChats(ctx, "u1", "s1")
		if err != nil {
			t.Fatalf("FetchAllChats() error = %v", err)
		}
		want := []string{
			"What is Lambda?",
			"[tech-agent] A serverless runtime.",
			"What is aspirin?",
			"[health-agent] A pain reliever.",
			"And S3?",
			"[tech-agent] Object storage.",
		}
		if len(all) != len(want) {
			t.Fatalf("expected %d merged messages, got %d: %#v", len(want), len(all), all)
		}
		for i, w := range want {
			if all[i].Text() != w {
				t.Fatalf("merged[%d] = %q, want %q", i, all[i].Text(), w)
			}
		}
	})

	t.Run("incomplete key is rejected", func(t *testing.T) {
		store := newStore(t)
		_, err := store.SaveChatMessage(context.Background(), NewKey("u1", "", "tech-agent"), contractx.UserMessage("x"), 0)
		if !errors.Is(err, contractx.ErrInvalidKey) {
			t.Fatalf("expected ErrInvalidKey, got %v", err)
		}
	})

	t.Run("empty assistant message is rejected", func(t *testing.T) {
		store := newStore(t)
		_, err := store.SaveChatMessage(context.Background(), NewKey("u1", "s1", "a"), contractx.Message{Role: contractx.RoleAssistant}, 0)
		if !errors.Is(err, contractx.ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
	})
}

func TestMemoryStorage(t *testing.T) {
	t.Parallel()

	runChatStorageSuite(t, func(t *testing.T) ChatStorage {
		s := NewMemoryStorage()
		s.now = testClock()
		return s
	})
}

func TestMemoryStorageEqualTimestampsKeepInsertionOrder(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStorage()
	s.now = func() time.Time { return fixed }
	ctx := context.Background()

	if _, err := s.SaveChatMessage(ctx, NewKey("u", "s", "b-agent"), contractx.UserMessage("first"), 0); err != nil {
		t.Fatalf("SaveChatMessage() error = %v", err)
	}
	if _, err := s.SaveChatMessage(ctx, NewKey("u", "s", "a-agent"), contractx.UserMessage("second"), 0); err != nil {
		t.Fatalf("SaveChatMessage() error = %v", err)
	}

	all, err := s.FetchAllChats(ctx, "u", "s")
	if err != nil {
		t.Fatalf("FetchAllChats() error = %v", err)
	}
	if len(all) != 2 || all[0].Text() != "first" || all[1].Text() != "second" {
		t.Fatalf("expected insertion order on equal timestamps, got %#v", all)
	}
}

func TestEffectiveHistoryBound(t *testing.T) {
	t.Parallel()

	cases := map[int]int{-1: 0, 0: 0, 1: 0, 2: 2, 5: 4, 7: 6, 100: 100}
	for in, want := range cases {
		if got := EffectiveHistoryBound(in); got != want {
			t.Fatalf("EffectiveHistoryBound(%d) = %d, want %d", in, got, want)
		}
		if got := EffectiveHistoryBound(in); got%2 != 0 {
			t.Fatalf("bound %d must be even", got)
		}
	}
}

func TestTagAgentSkipsToolBlocks(t *testing.T) {
	t.Parallel()

	msg := contractx.Message{
		Role: contractx.RoleAssistant,
		Content: []contractx.ContentBlock{
			{ToolUse: &contractx.ToolUse{ID: "t1", Name: "math.evaluate"}},
			{Text: "42"},
		},
	}
	got := tagAgent(msg.Clone(), "math-agent")
	if got.Content[1].Text != "[math-agent] 42" {
		t.Fatalf("unexpected tagged text: %q", got.Content[1].Text)
	}
	if got.Content[0].ToolUse == nil {
		t.Fatal("tool block must be preserved")
	}
}
