package contract

import (
	"errors"
	"testing"
)

func TestGenerateID(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Tech Agent!!":    "tech-agent",
		"tech   agent":    "tech-agent",
		"TECH-AGENT":      "tech-agent",
		"Health Agent":    "health-agent",
		"  Billing__Bot ": "billing-bot",
		"agent 007":       "agent-007",
	}
	for in, want := range cases {
		if got := GenerateID(in); got != want {
			t.Fatalf("GenerateID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGenerateIDDistinguishesDifferentNames(t *testing.T) {
	t.Parallel()

	if GenerateID("Tech Agent") == GenerateID("Tech Agents") {
		t.Fatal("different names must not collapse to the same id")
	}
}

func TestNewInfoDefaultsSaveChat(t *testing.T) {
	t.Parallel()

	info, err := NewInfo(AgentOptions{Name: "Tech Agent", Description: "tech"})
	if err != nil {
		t.Fatalf("NewInfo() error = %v", err)
	}
	if !info.SaveChat {
		t.Fatal("SaveChat must default to true")
	}
	if info.ID != "tech-agent" {
		t.Fatalf("unexpected id: %s", info.ID)
	}

	off := false
	info, err = NewInfo(AgentOptions{Name: "Quiet", SaveChat: &off})
	if err != nil {
		t.Fatalf("NewInfo() error = %v", err)
	}
	if info.SaveChat {
		t.Fatal("SaveChat=false must be honoured")
	}
}

func TestNewInfoRejectsEmptyName(t *testing.T) {
	t.Parallel()

	_, err := NewInfo(AgentOptions{Name: "  "})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	_, err = NewInfo(AgentOptions{Name: "!!!"})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestMessageValidate(t *testing.T) {
	t.Parallel()

	if err := (Message{Role: "system", Content: []ContentBlock{{Text: "x"}}}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected invalid role error, got %v", err)
	}
	if err := (Message{Role: RoleAssistant}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected empty assistant error, got %v", err)
	}
	if err := UserMessage("hi").Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMessageText(t *testing.T) {
	t.Parallel()

	msg := Message{
		Role: RoleAssistant,
		Content: []ContentBlock{
			{Text: "Hello"},
			{ToolUse: &ToolUse{ID: "t1", Name: "x"}},
			{Text: " World"},
		},
	}
	if got := msg.Text(); got != "Hello World" {
		t.Fatalf("Text() = %q", got)
	}
	if got := msg.JoinedText(); got != "Hello  World" {
		t.Fatalf("JoinedText() = %q", got)
	}
}
