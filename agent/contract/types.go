package contract

import (
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

type ToolUse struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input,omitempty"`
}

type ToolResult struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

// ContentBlock is one part of a message. Text is the common case; tool
// payloads ride along for agents that record tool traffic.
type ContentBlock struct {
	Text       string      `json:"text,omitempty"`
	ToolUse    *ToolUse    `json:"tool_use,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

func TextMessage(role Role, text string) Message {
	return Message{
		Role:    role,
		Content: []ContentBlock{{Text: text}},
	}
}

func UserMessage(text string) Message {
	return TextMessage(RoleUser, text)
}

func AssistantMessage(text string) Message {
	return TextMessage(RoleAssistant, text)
}

// Text concatenates every text part of the message in order.
func (m Message) Text() string {
	var b strings.Builder
	for _, block := range m.Content {
		b.WriteString(block.Text)
	}
	return b.String()
}

// JoinedText joins the text parts with a single space, the form used when a
// message is rendered on one line.
func (m Message) JoinedText() string {
	parts := make([]string, 0, len(m.Content))
	for _, block := range m.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, " ")
}

func (m Message) Validate() error {
	if !m.Role.Valid() {
		return fmt.Errorf("%w: invalid role=%q", ErrValidation, m.Role)
	}
	if m.Role == RoleAssistant && len(m.Content) == 0 {
		return fmt.Errorf("%w: assistant message has no content", ErrValidation)
	}
	return nil
}

func (m Message) Clone() Message {
	out := Message{Role: m.Role}
	if m.Content != nil {
		out.Content = make([]ContentBlock, len(m.Content))
		copy(out.Content, m.Content)
	}
	return out
}

// TimestampedMessage is the storage form of a message. Seq breaks ties
// between equal timestamps in creation order.
type TimestampedMessage struct {
	Message
	Timestamp time.Time `json:"timestamp"`
	Seq       int64     `json:"seq,omitempty"`
}

func StripTimestamps(in []TimestampedMessage) []Message {
	out := make([]Message, 0, len(in))
	for _, m := range in {
		out = append(out, m.Message.Clone())
	}
	return out
}
