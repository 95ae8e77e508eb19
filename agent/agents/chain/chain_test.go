package chain

import (
	"context"
	"errors"
	"strings"
	"testing"

	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
	streamx "github.com/tanpawarit/agent-squad-router/agent/stream"
)

type fakeAgent struct {
	info   contractx.Info
	reply  func(input string) contractx.Output
	err    error
	inputs []string
}

func newFakeAgent(t *testing.T, name string, reply func(string) contractx.Output) *fakeAgent {
	t.Helper()
	info, err := contractx.NewInfo(contractx.AgentOptions{Name: name, Description: name})
	if err != nil {
		t.Fatalf("NewInfo() error = %v", err)
	}
	return &fakeAgent{info: info, reply: reply}
}

func (a *fakeAgent) Info() contractx.Info { return a.info }

func (a *fakeAgent) ProcessRequest(ctx context.Context, req contractx.Request) (contractx.Output, error) {
	a.inputs = append(a.inputs, req.Input)
	if a.err != nil {
		return contractx.Output{}, a.err
	}
	return a.reply(req.Input), nil
}

func textReply(format string) func(string) contractx.Output {
	return func(input string) contractx.Output {
		return contractx.Complete(contractx.AssistantMessage(strings.ReplaceAll(format, "%s", input)))
	}
}

func newChain(t *testing.T, agents ...contractx.Agent) *Agent {
	t.Helper()
	c, err := New(Options{
		AgentOptions: contractx.AgentOptions{Name: "Pipeline", Description: "translate then summarize"},
		Agents:       agents,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestChainPipesOutputToInput(t *testing.T) {
	t.Parallel()

	a := newFakeAgent(t, "Translator", textReply("translated(%s)"))
	b := newFakeAgent(t, "Summarizer", textReply("summary(%s)"))
	c := newChain(t, a, b)

	out, err := c.ProcessRequest(context.Background(), contractx.Request{Input: "hola"})
	if err != nil {
		t.Fatalf("ProcessRequest() error = %v", err)
	}
	if got := out.Message.Text(); got != "summary(translated(hola))" {
		t.Fatalf("unexpected chain output: %q", got)
	}
	if len(b.inputs) != 1 || b.inputs[0] != "translated(hola)" {
		t.Fatalf("unexpected second input: %#v", b.inputs)
	}
}

func TestChainStreamingIntermediateShortCircuits(t *testing.T) {
	t.Parallel()

	a := newFakeAgent(t, "Streamer", func(string) contractx.Output {
		return contractx.Streaming(streamx.FromStrings("partial"))
	})
	b := newFakeAgent(t, "Never", textReply("%s"))
	c := newChain(t, a, b)

	out, err := c.ProcessRequest(context.Background(), contractx.Request{Input: "x"})
	if err != nil {
		t.Fatalf("ProcessRequest() error = %v", err)
	}
	if out.IsStreaming() {
		t.Fatal("expected an in-band error message, not a stream")
	}
	if !strings.Contains(out.Message.Text(), "streamer") {
		t.Fatalf("error should name the failing agent: %q", out.Message.Text())
	}
	if len(b.inputs) != 0 {
		t.Fatalf("agentB must never be invoked, got %d calls", len(b.inputs))
	}
}

func TestChainLastAgentMayStream(t *testing.T) {
	t.Parallel()

	a := newFakeAgent(t, "Prep", textReply("prepped %s"))
	b := newFakeAgent(t, "Streamer", func(input string) contractx.Output {
		return contractx.Streaming(streamx.FromStrings("echo: ", input))
	})
	c := newChain(t, a, b)

	out, err := c.ProcessRequest(context.Background(), contractx.Request{Input: "x"})
	if err != nil {
		t.Fatalf("ProcessRequest() error = %v", err)
	}
	if !out.IsStreaming() {
		t.Fatal("expected stream from the last agent")
	}
	text, err := streamx.New(out.Stream, nil).Drain()
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if text != "echo: prepped x" {
		t.Fatalf("unexpected stream text: %q", text)
	}
}

func TestChainEmptyIntermediateAborts(t *testing.T) {
	t.Parallel()

	a := newFakeAgent(t, "Blank", textReply("  "))
	b := newFakeAgent(t, "Never", textReply("%s"))
	c := newChain(t, a, b)

	out, err := c.ProcessRequest(context.Background(), contractx.Request{Input: "x"})
	if err != nil {
		t.Fatalf("ProcessRequest() error = %v", err)
	}
	if !strings.Contains(out.Message.Text(), "blank") || len(b.inputs) != 0 {
		t.Fatalf("expected abort at blank agent, got %q (b calls=%d)", out.Message.Text(), len(b.inputs))
	}
}

func TestChainEmptyFinalUsesDefaultOutput(t *testing.T) {
	t.Parallel()

	c := newChain(t, newFakeAgent(t, "Blank", textReply("")))

	out, err := c.ProcessRequest(context.Background(), contractx.Request{Input: "x"})
	if err != nil {
		t.Fatalf("ProcessRequest() error = %v", err)
	}
	if out.Message.Text() != DefaultOutput {
		t.Fatalf("unexpected output: %q", out.Message.Text())
	}
}

func TestChainAgentErrorIsInBand(t *testing.T) {
	t.Parallel()

	a := newFakeAgent(t, "Broken", nil)
	a.err = errors.New("timeout")
	c := newChain(t, a)

	out, err := c.ProcessRequest(context.Background(), contractx.Request{Input: "x"})
	if err != nil {
		t.Fatalf("ProcessRequest() error = %v", err)
	}
	if !strings.Contains(out.Message.Text(), "timeout") {
		t.Fatalf("unexpected output: %q", out.Message.Text())
	}
}

func TestNewRequiresAgents(t *testing.T) {
	t.Parallel()

	_, err := New(Options{AgentOptions: contractx.AgentOptions{Name: "Empty"}})
	if !errors.Is(err, contractx.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
