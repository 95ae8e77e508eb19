package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	orchestratorx "github.com/tanpawarit/agent-squad-router/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
	"github.com/tanpawarit/agent-squad-router/agent/overlap"
	streamx "github.com/tanpawarit/agent-squad-router/agent/stream"
)

type fakeRouter struct {
	chunks   []string
	err      error
	lastReq  RouteRequest
	persists int
}

func (f *fakeRouter) RouteRequest(ctx context.Context, input, userID, sessionID string, params map[string]string) (*orchestratorx.Response, error) {
	f.lastReq = RouteRequest{Input: input, UserID: userID, SessionID: sessionID, AdditionalParams: params}
	if f.err != nil {
		return nil, f.err
	}
	md := orchestratorx.Metadata{AgentID: "tech-agent", AgentName: "Tech Agent", UserInput: input, UserID: userID, SessionID: sessionID, RequestID: "req-1"}
	if len(f.chunks) > 0 {
		stream := streamx.New(streamx.FromStrings(f.chunks...), func(string) error {
			f.persists++
			return nil
		})
		return &orchestratorx.Response{Metadata: md, Streaming: true, Stream: stream}, nil
	}
	return &orchestratorx.Response{Metadata: md, Output: "answer to " + input}, nil
}

func (f *fakeRouter) AgentInfos() []contractx.Info {
	return []contractx.Info{{ID: "tech-agent", Name: "Tech Agent", Description: "tech", SaveChat: true}}
}

func (f *fakeRouter) AnalyzeAgentOverlap() overlap.Report {
	return overlap.Report{Description: "tech-agent: tech"}
}

func newTestHandler(router Router) http.Handler {
	return New(router, Config{}, zerolog.Nop()).Handler()
}

func postRoute(t *testing.T, h http.Handler, body string, accept string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/route", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouteJSON(t *testing.T) {
	t.Parallel()

	router := &fakeRouter{}
	rec := postRoute(t, newTestHandler(router), `{"input":"hi","user_id":"u1","session_id":"s1","additional_params":{"lang":"en"}}`, "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var got RouteResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Output != "answer to hi" || got.Metadata.AgentID != "tech-agent" || got.Streaming {
		t.Fatalf("unexpected response: %#v", got)
	}
	if router.lastReq.AdditionalParams["lang"] != "en" {
		t.Fatalf("params not forwarded: %#v", router.lastReq)
	}
}

func TestRouteGeneratesSessionID(t *testing.T) {
	t.Parallel()

	router := &fakeRouter{}
	rec := postRoute(t, newTestHandler(router), `{"input":"hi","user_id":"u1"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(router.lastReq.SessionID) != 36 {
		t.Fatalf("expected a generated uuid session id, got %q", router.lastReq.SessionID)
	}
}

func TestRouteStreamingDrainsWithoutEventStream(t *testing.T) {
	t.Parallel()

	router := &fakeRouter{chunks: []string{"Hello", " World"}}
	rec := postRoute(t, newTestHandler(router), `{"input":"hi","user_id":"u1","session_id":"s1"}`, "application/json")

	var got RouteResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Streaming || got.Output != "Hello World" || router.persists != 1 {
		t.Fatalf("unexpected response: %#v persists=%d", got, router.persists)
	}
}

func TestRouteServerSentEvents(t *testing.T) {
	t.Parallel()

	router := &fakeRouter{chunks: []string{"Hello", " World"}}
	rec := postRoute(t, newTestHandler(router), `{"input":"hi","user_id":"u1","session_id":"s1"}`, "text/event-stream")

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"event: chunk\ndata: {\"text\":\"Hello\"}\n\n",
		"event: chunk\ndata: {\"text\":\" World\"}\n\n",
		"event: done\ndata: {",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in body:\n%s", want, body)
		}
	}
	if router.persists != 1 {
		t.Fatalf("stream must be persisted once, got %d", router.persists)
	}
}

func TestRouteErrorStatus(t *testing.T) {
	t.Parallel()

	cases := map[error]int{
		fmt.Errorf("%w: user is empty", contractx.ErrInvalidKey): http.StatusBadRequest,
		fmt.Errorf("%w: input is empty", contractx.ErrValidation): http.StatusBadRequest,
		fmt.Errorf("%w: redis down", contractx.ErrStorage):        http.StatusInternalServerError,
	}
	for err, want := range cases {
		rec := postRoute(t, newTestHandler(&fakeRouter{err: err}), `{"input":"hi","user_id":"u1","session_id":"s1"}`, "")
		if rec.Code != want {
			t.Fatalf("%v: status = %d, want %d", err, rec.Code, want)
		}
	}

	rec := postRoute(t, newTestHandler(&fakeRouter{}), `{not json`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid body: status = %d", rec.Code)
	}
}

func TestAgentsAndOverlapAndHealth(t *testing.T) {
	t.Parallel()

	h := newTestHandler(&fakeRouter{})
	for path, want := range map[string]string{
		"/v1/agents":         `"id":"tech-agent"`,
		"/v1/agents/overlap": `"description":"tech-agent: tech"`,
		"/health":            `"status":"ok"`,
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), want) {
			t.Fatalf("GET %s: status=%d body=%s", path, rec.Code, rec.Body.String())
		}
	}
}
