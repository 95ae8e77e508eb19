package contract

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Info is the identity every agent exposes to the registry and classifier.
type Info struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	SaveChat    bool   `json:"save_chat"`
}

// AgentOptions are the construction keys shared by every agent kind.
// SaveChat defaults to true when nil.
type AgentOptions struct {
	Name        string
	Description string
	SaveChat    *bool
}

func NewInfo(opts AgentOptions) (Info, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return Info{}, fmt.Errorf("%w: agent name is required", ErrInvalidConfig)
	}
	id := GenerateID(name)
	if id == "" {
		return Info{}, fmt.Errorf("%w: agent name %q has no alphanumeric characters", ErrInvalidConfig, name)
	}
	saveChat := true
	if opts.SaveChat != nil {
		saveChat = *opts.SaveChat
	}
	return Info{
		ID:          id,
		Name:        name,
		Description: strings.TrimSpace(opts.Description),
		SaveChat:    saveChat,
	}, nil
}

// Request is what an agent receives for one turn.
type Request struct {
	Input     string
	UserID    string
	SessionID string
	History   []Message
	Params    map[string]string
}

type OutputKind int

const (
	OutputComplete OutputKind = iota
	OutputStreaming
)

// Output is either a complete message or a lazy stream of text fragments.
// Fragments may be plain strings, *schema.Message deltas, or structured
// delta maps; see the stream package for extraction.
type Output struct {
	Kind    OutputKind
	Message Message
	Stream  *schema.StreamReader[any]
}

func Complete(msg Message) Output {
	return Output{Kind: OutputComplete, Message: msg}
}

func Streaming(sr *schema.StreamReader[any]) Output {
	return Output{Kind: OutputStreaming, Stream: sr}
}

func (o Output) IsStreaming() bool {
	return o.Kind == OutputStreaming && o.Stream != nil
}

type Agent interface {
	Info() Info
	ProcessRequest(ctx context.Context, req Request) (Output, error)
}
