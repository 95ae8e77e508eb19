package orchestratornode

import (
	"context"
	"errors"
	"testing"

	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
	storagex "github.com/tanpawarit/agent-squad-router/agent/storage"
)

type namedAgent struct{ info contractx.Info }

func (a namedAgent) Info() contractx.Info { return a.info }

func (a namedAgent) ProcessRequest(context.Context, contractx.Request) (contractx.Output, error) {
	return contractx.Complete(contractx.Message{}), nil
}

type errClassifier struct{ calls int }

func (c *errClassifier) SetAgents([]contractx.Agent) {}

func (c *errClassifier) Classify(context.Context, string, []contractx.Message) (contractx.ClassifierResult, error) {
	c.calls++
	return contractx.ClassifierResult{}, errors.New("boom")
}

func TestValidateRequestTrimsAndAssignsRequestID(t *testing.T) {
	t.Parallel()

	st, err := ValidateRequest(GraphInput{UserInput: "  hi ", UserID: " u ", SessionID: "s"})
	if err != nil {
		t.Fatalf("ValidateRequest() error = %v", err)
	}
	if st.UserInput != "hi" || st.UserID != "u" || st.RequestID == "" {
		t.Fatalf("unexpected state: %#v", st.GraphInput)
	}

	st, err = ValidateRequest(GraphInput{UserInput: "hi", UserID: "u", SessionID: "s", RequestID: "req-1"})
	if err != nil || st.RequestID != "req-1" {
		t.Fatalf("caller request id must be kept: %v %#v", err, st)
	}
}

func TestClassifyStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	classifier := &errClassifier{}
	_, err := Classify(ctx, &GraphState{GraphInput: GraphInput{UserInput: "hi"}}, ClassifyOptions{
		Classifier: classifier,
		MaxRetries: 5,
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if classifier.calls > 1 {
		t.Fatalf("cancelled context must not be retried, got %d calls", classifier.calls)
	}
}

func TestResolveAgentWithoutDefault(t *testing.T) {
	t.Parallel()

	st, err := ResolveAgent(&GraphState{}, ResolveOptions{UseDefaultAgent: true, NoAgentMessage: "nobody"})
	if err != nil {
		t.Fatalf("ResolveAgent() error = %v", err)
	}
	if st.Dispatchable() || st.ErrorKind != ErrorKindNoAgent || st.Reply != "nobody" {
		t.Fatalf("unexpected state: %#v", st)
	}
}

func TestResolveAgentKeepsEarlierFailure(t *testing.T) {
	t.Parallel()

	def := namedAgent{info: contractx.Info{ID: "general", Name: "General"}}
	st, err := ResolveAgent(&GraphState{ErrorKind: ErrorKindClassification, Reply: "failed"}, ResolveOptions{
		DefaultAgent:    def,
		UseDefaultAgent: true,
	})
	if err != nil {
		t.Fatalf("ResolveAgent() error = %v", err)
	}
	if st.Agent != nil || st.ErrorKind != ErrorKindClassification {
		t.Fatalf("classification failure must not fall back: %#v", st)
	}
}

func TestNormalizeResponsePersistsAssistantRole(t *testing.T) {
	t.Parallel()

	store := storagex.NewMemoryStorage()
	agent := namedAgent{info: contractx.Info{ID: "echo", Name: "Echo", SaveChat: true}}
	st := &GraphState{
		GraphInput: GraphInput{UserInput: "hi", UserID: "u", SessionID: "s", RequestID: "r"},
		Agent:      agent,
		Output:     contractx.Complete(contractx.TextMessage(contractx.RoleUser, "echoed")),
	}

	resp, err := NormalizeResponse(context.Background(), st, PersistOptions{Store: store})
	if err != nil {
		t.Fatalf("NormalizeResponse() error = %v", err)
	}
	if resp.Output != "echoed" || resp.Metadata.AgentID != "echo" {
		t.Fatalf("unexpected envelope: %#v", resp)
	}

	log, err := store.FetchChat(context.Background(), storagex.NewKey("u", "s", "echo"), 0)
	if err != nil {
		t.Fatalf("FetchChat() error = %v", err)
	}
	if len(log) != 2 || log[1].Role != contractx.RoleAssistant || log[1].Text() != "echoed" {
		t.Fatalf("unexpected log: %#v", log)
	}
}

func TestNormalizeResponseFillsEmptyAssistantMessage(t *testing.T) {
	t.Parallel()

	store := storagex.NewMemoryStorage()
	st := &GraphState{
		GraphInput: GraphInput{UserInput: "hi", UserID: "u", SessionID: "s"},
		Agent:      namedAgent{info: contractx.Info{ID: "quiet", Name: "Quiet", SaveChat: true}},
		Output:     contractx.Complete(contractx.Message{Role: contractx.RoleAssistant}),
	}
	if _, err := NormalizeResponse(context.Background(), st, PersistOptions{Store: store}); err != nil {
		t.Fatalf("NormalizeResponse() error = %v", err)
	}
	log, err := store.FetchChat(context.Background(), storagex.NewKey("u", "s", "quiet"), 0)
	if err != nil {
		t.Fatalf("FetchChat() error = %v", err)
	}
	if len(log) != 2 || len(log[1].Content) != 1 {
		t.Fatalf("assistant turn must carry content, got %#v", log)
	}
}
