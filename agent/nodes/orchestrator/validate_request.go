package orchestratornode

import (
	"fmt"
	"maps"
	"strings"

	"github.com/google/uuid"
	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
	streamx "github.com/tanpawarit/agent-squad-router/agent/stream"
)

const (
	ErrorKindClassification = "classification_failed"
	ErrorKindNoAgent        = "no_agent_selected"
	ErrorKindAgent          = "agent_failed"
)

type GraphInput struct {
	UserInput        string
	UserID           string
	SessionID        string
	AdditionalParams map[string]string
	RequestID        string
}

// GraphState is threaded through every route node. ErrorKind and Reply are
// set when the turn ends without a usable agent answer.
type GraphState struct {
	GraphInput

	SessionHistory []contractx.Message
	Classification contractx.ClassifierResult
	Agent          contractx.Agent
	AgentHistory   []contractx.Message
	Output         contractx.Output

	ErrorKind string
	Reply     string
}

// Dispatchable reports whether the turn has a resolved agent to run.
func (s *GraphState) Dispatchable() bool {
	return s != nil && s.Agent != nil && s.ErrorKind == ""
}

type Metadata struct {
	AgentID          string            `json:"agent_id"`
	AgentName        string            `json:"agent_name"`
	UserInput        string            `json:"user_input"`
	UserID           string            `json:"user_id"`
	SessionID        string            `json:"session_id"`
	AdditionalParams map[string]string `json:"additional_params,omitempty"`
	RequestID        string            `json:"request_id"`
	Confidence       float64           `json:"confidence"`
	ErrorKind        string            `json:"error_kind,omitempty"`
}

// Response is the uniform envelope of one routed turn. When Streaming is
// set, Output is empty and Stream yields the fragments.
type Response struct {
	Metadata  Metadata
	Streaming bool
	Output    string
	Stream    *streamx.OutputStream
}

// Text returns the complete answer, draining the stream if there is one.
func (r *Response) Text() (string, error) {
	if r == nil {
		return "", nil
	}
	if r.Streaming && r.Stream != nil {
		return r.Stream.Drain()
	}
	return r.Output, nil
}

func ValidateRequest(in GraphInput) (*GraphState, error) {
	userID := strings.TrimSpace(in.UserID)
	sessionID := strings.TrimSpace(in.SessionID)
	if userID == "" || sessionID == "" {
		return nil, fmt.Errorf("%w: user=%q session=%q", contractx.ErrInvalidKey, in.UserID, in.SessionID)
	}

	input := strings.TrimSpace(in.UserInput)
	if input == "" {
		return nil, fmt.Errorf("%w: user input is empty", contractx.ErrValidation)
	}

	requestID := strings.TrimSpace(in.RequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	return &GraphState{
		GraphInput: GraphInput{
			UserInput:        input,
			UserID:           userID,
			SessionID:        sessionID,
			AdditionalParams: maps.Clone(in.AdditionalParams),
			RequestID:        requestID,
		},
	}, nil
}

func metadata(in *GraphState) Metadata {
	md := Metadata{
		UserInput:        in.UserInput,
		UserID:           in.UserID,
		SessionID:        in.SessionID,
		AdditionalParams: in.AdditionalParams,
		RequestID:        in.RequestID,
		Confidence:       in.Classification.Confidence,
		ErrorKind:        in.ErrorKind,
	}
	if in.Agent != nil {
		info := in.Agent.Info()
		md.AgentID = info.ID
		md.AgentName = info.Name
	}
	return md
}
