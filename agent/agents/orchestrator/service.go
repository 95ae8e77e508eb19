// Package orchestrator routes each request to one registered agent and
// returns a uniform response envelope.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
	nodex "github.com/tanpawarit/agent-squad-router/agent/nodes/orchestrator"
	"github.com/tanpawarit/agent-squad-router/agent/overlap"
	storagex "github.com/tanpawarit/agent-squad-router/agent/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	Response = nodex.Response
	Metadata = nodex.Metadata
)

const (
	ErrorKindClassification = nodex.ErrorKindClassification
	ErrorKindNoAgent        = nodex.ErrorKindNoAgent
	ErrorKindAgent          = nodex.ErrorKindAgent

	DefaultClassificationErrorMessage = "I'm sorry, an error occurred while processing your request. Please try again later."
	DefaultNoSelectedAgentMessage     = "I'm sorry, I couldn't determine how to handle your request. Could you please rephrase it?"
	DefaultGeneralRoutingErrorMessage = "I'm sorry, the assistant could not answer right now. Please try again later."

	tracerName = "github.com/tanpawarit/agent-squad-router/orchestrator"
)

// Config holds the routing policy flags, loaded with prefix ORCHESTRATOR.
type Config struct {
	LogAgentChat           bool `envconfig:"LOG_AGENT_CHAT" default:"false"`
	LogClassifierChat      bool `envconfig:"LOG_CLASSIFIER_CHAT" default:"false"`
	LogClassifierRawOutput bool `envconfig:"LOG_CLASSIFIER_RAW_OUTPUT" default:"false"`
	LogClassifierOutput    bool `envconfig:"LOG_CLASSIFIER_OUTPUT" default:"false"`
	LogExecutionTimes      bool `envconfig:"LOG_EXECUTION_TIMES" default:"false"`

	MaxRetries              int           `envconfig:"MAX_RETRIES" default:"3"`
	ClassifierRetryInterval time.Duration `envconfig:"CLASSIFIER_RETRY_INTERVAL" default:"200ms"`
	MaxMessagePairsPerAgent int           `envconfig:"MAX_MESSAGE_PAIRS_PER_AGENT" default:"100"`

	UseDefaultAgentIfNoneIdentified bool `envconfig:"USE_DEFAULT_AGENT_IF_NONE_IDENTIFIED" default:"true"`

	ClassificationErrorMessage string `envconfig:"CLASSIFICATION_ERROR_MESSAGE"`
	NoSelectedAgentMessage     string `envconfig:"NO_SELECTED_AGENT_MESSAGE"`
	GeneralRoutingErrorMessage string `envconfig:"GENERAL_ROUTING_ERROR_MESSAGE"`
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:                      3,
		ClassifierRetryInterval:         200 * time.Millisecond,
		MaxMessagePairsPerAgent:         100,
		UseDefaultAgentIfNoneIdentified: true,
		ClassificationErrorMessage:      DefaultClassificationErrorMessage,
		NoSelectedAgentMessage:          DefaultNoSelectedAgentMessage,
		GeneralRoutingErrorMessage:      DefaultGeneralRoutingErrorMessage,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.ClassifierRetryInterval < 0 {
		c.ClassifierRetryInterval = 0
	}
	if c.MaxMessagePairsPerAgent < 0 {
		c.MaxMessagePairsPerAgent = 0
	}
	if c.ClassificationErrorMessage == "" {
		c.ClassificationErrorMessage = DefaultClassificationErrorMessage
	}
	if c.NoSelectedAgentMessage == "" {
		c.NoSelectedAgentMessage = DefaultNoSelectedAgentMessage
	}
	if c.GeneralRoutingErrorMessage == "" {
		c.GeneralRoutingErrorMessage = DefaultGeneralRoutingErrorMessage
	}
	return c
}

type Option func(*Orchestrator)

func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// Orchestrator owns the agent registry. Configure it (AddAgent,
// SetDefaultAgent, SetClassifier) before serving requests; the registry is
// read without locking while routing.
type Orchestrator struct {
	storage    storagex.ChatStorage
	classifier contractx.Classifier
	cfg        Config
	logger     zerolog.Logger
	tracer     trace.Tracer

	agents       map[string]contractx.Agent
	order        []string
	defaultAgent contractx.Agent

	timings *ExecutionTimes

	graphRunner compose.Runnable[nodex.GraphInput, *nodex.Response]
}

// New builds an orchestrator. A nil storage defaults to in-memory.
func New(
	storage storagex.ChatStorage,
	classifier contractx.Classifier,
	cfg Config,
	opts ...Option,
) (*Orchestrator, error) {
	if classifier == nil {
		return nil, fmt.Errorf("%w: classifier is required", contractx.ErrInvalidConfig)
	}
	if storage == nil {
		storage = storagex.NewMemoryStorage()
	}

	o := &Orchestrator{
		storage:    storage,
		classifier: classifier,
		cfg:        cfg.withDefaults(),
		logger:     zerolog.Nop(),
		tracer:     otel.Tracer(tracerName),
		agents:     map[string]contractx.Agent{},
		timings:    NewExecutionTimes(),
	}
	for _, opt := range opts {
		opt(o)
	}

	graphRunner, err := o.compileRouteGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// AddAgent registers an agent under its derived id. The first registered
// agent becomes the default agent unless one was set explicitly.
func (o *Orchestrator) AddAgent(agent contractx.Agent) error {
	if agent == nil {
		return fmt.Errorf("%w: agent is nil", contractx.ErrInvalidConfig)
	}
	id := agent.Info().ID
	if id == "" {
		return fmt.Errorf("%w: agent %q has an empty id", contractx.ErrInvalidConfig, agent.Info().Name)
	}
	if _, exists := o.agents[id]; exists {
		return fmt.Errorf("%w: an agent with id %q already exists", contractx.ErrDuplicateAgent, id)
	}

	o.agents[id] = agent
	o.order = append(o.order, id)
	if o.defaultAgent == nil {
		o.defaultAgent = agent
	}
	o.classifier.SetAgents(o.Agents())
	return nil
}

// MustAddAgent panics on configuration errors.
func (o *Orchestrator) MustAddAgent(agent contractx.Agent) {
	if err := o.AddAgent(agent); err != nil {
		panic(err)
	}
}

// Agents returns the registry in registration order.
func (o *Orchestrator) Agents() []contractx.Agent {
	out := make([]contractx.Agent, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.agents[id])
	}
	return out
}

func (o *Orchestrator) AgentInfos() []contractx.Info {
	out := make([]contractx.Info, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.agents[id].Info())
	}
	return out
}

func (o *Orchestrator) Agent(id string) (contractx.Agent, bool) {
	a, ok := o.agents[id]
	return a, ok
}

func (o *Orchestrator) SetDefaultAgent(agent contractx.Agent) { o.defaultAgent = agent }

func (o *Orchestrator) DefaultAgent() contractx.Agent { return o.defaultAgent }

// SetClassifier replaces the classifier and hands it the current registry.
func (o *Orchestrator) SetClassifier(classifier contractx.Classifier) error {
	if classifier == nil {
		return fmt.Errorf("%w: classifier is required", contractx.ErrInvalidConfig)
	}
	classifier.SetAgents(o.Agents())
	o.classifier = classifier
	return nil
}

func (o *Orchestrator) Config() Config { return o.cfg }

// ExecutionTimes is the process-wide per-phase timing accumulator.
func (o *Orchestrator) ExecutionTimes() *ExecutionTimes { return o.timings }

// AnalyzeAgentOverlap reports how similar the registered agent descriptions
// are. It is not used while routing.
func (o *Orchestrator) AnalyzeAgentOverlap() overlap.Report {
	return overlap.Analyze(o.AgentInfos())
}

// RouteRequest classifies the input, dispatches it to the selected agent and
// returns the envelope. Classification failures and unidentified agents come
// back as envelopes; storage failures are returned as errors.
func (o *Orchestrator) RouteRequest(
	ctx context.Context,
	userInput string,
	userID string,
	sessionID string,
	additionalParams map[string]string,
) (*Response, error) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "orchestrator.route_request", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.String("session_id", sessionID),
	))
	defer span.End()

	resp, err := o.graphRunner.Invoke(ctx, nodex.GraphInput{
		UserInput:        userInput,
		UserID:           userID,
		SessionID:        sessionID,
		AdditionalParams: additionalParams,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("request_id", resp.Metadata.RequestID),
		attribute.String("agent_id", resp.Metadata.AgentID),
		attribute.Bool("streaming", resp.Streaming),
	)
	if resp.Metadata.ErrorKind != "" {
		span.SetAttributes(attribute.String("error_kind", resp.Metadata.ErrorKind))
	}

	if o.cfg.LogExecutionTimes {
		o.logger.Info().
			Str("request_id", resp.Metadata.RequestID).
			Dur("total", time.Since(start)).
			Interface("phases", o.timings.Snapshot()).
			Msg("execution times")
	}
	return resp, nil
}

// ExecutionTimes accumulates phase durations across requests.
type ExecutionTimes struct {
	mu     sync.Mutex
	phases map[string]PhaseTiming
}

type PhaseTiming struct {
	Count int           `json:"count"`
	Total time.Duration `json:"total"`
	Last  time.Duration `json:"last"`
}

func NewExecutionTimes() *ExecutionTimes {
	return &ExecutionTimes{phases: map[string]PhaseTiming{}}
}

func (e *ExecutionTimes) Record(phase string, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.phases[phase]
	p.Count++
	p.Total += d
	p.Last = d
	e.phases[phase] = p
}

func (e *ExecutionTimes) Snapshot() map[string]PhaseTiming {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]PhaseTiming, len(e.phases))
	for k, v := range e.phases {
		out[k] = v
	}
	return out
}
