// Package classifier selects the agent that should answer a message.
package classifier

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
	promptx "github.com/tanpawarit/agent-squad-router/agent/prompt"
)

const (
	VarAgentDescriptions = "AGENT_DESCRIPTIONS"
	VarHistory           = "HISTORY"
)

// Decision is the structured answer a backend must produce. Pointer fields
// distinguish a missing field from a zero value.
type Decision struct {
	UserInput     string   `json:"userinput,omitempty"`
	SelectedAgent *string  `json:"selected_agent"`
	Confidence    *float64 `json:"confidence"`

	// Raw is the unparsed backend output, kept for diagnostics.
	Raw string `json:"-"`
}

// Backend runs one structured-output call against a model.
type Backend interface {
	Decide(ctx context.Context, systemPrompt string, input string) (Decision, error)
}

type Option func(*Classifier)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Classifier) {
		c.logger = logger
	}
}

// WithPromptTemplate replaces the embedded routing prompt.
func WithPromptTemplate(template string) Option {
	return func(c *Classifier) {
		if strings.TrimSpace(template) != "" {
			c.template = template
		}
	}
}

// Classifier renders the routing prompt from the agent registry and the
// conversation, then asks its backend for a Decision. Configuration calls
// (SetAgents, SetSystemPrompt) are guarded; Classify renders per call and
// is safe for concurrent use.
type Classifier struct {
	backend Backend
	logger  zerolog.Logger

	mu                sync.RWMutex
	template          string
	vars              map[string]any
	agents            []contractx.Agent
	byID              map[string]contractx.Agent
	agentDescriptions string
	history           string
}

var _ contractx.Classifier = (*Classifier)(nil)

func New(backend Backend, opts ...Option) (*Classifier, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: classifier backend is required", contractx.ErrInvalidConfig)
	}
	c := &Classifier{
		backend:  backend,
		logger:   zerolog.Nop(),
		template: promptx.LoadPromptSet().Classifier,
		vars:     map[string]any{},
		byID:     map[string]contractx.Agent{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// SetAgents rebuilds the registry in the given order.
func (c *Classifier) SetAgents(agents []contractx.Agent) {
	byID := make(map[string]contractx.Agent, len(agents))
	kept := make([]contractx.Agent, 0, len(agents))
	for _, a := range agents {
		if a == nil {
			continue
		}
		byID[a.Info().ID] = a
		kept = append(kept, a)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.agents = kept
	c.byID = byID
	c.agentDescriptions = FormatAgentDescriptions(kept)
}

// SetHistory records the rendered history used by SystemPrompt.
func (c *Classifier) SetHistory(history []contractx.Message) {
	rendered := FormatHistory(history)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = rendered
}

// SetSystemPrompt merges a template and variables into the prompt used by the
// next Classify. An empty template keeps the current one.
func (c *Classifier) SetSystemPrompt(template string, vars map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if strings.TrimSpace(template) != "" {
		c.template = template
	}
	for k, v := range vars {
		c.vars[k] = v
	}
}

// SystemPrompt renders the prompt with the history from SetHistory.
func (c *Classifier) SystemPrompt() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.renderLocked(c.history)
}

func (c *Classifier) renderLocked(history string) string {
	vars := make(map[string]any, len(c.vars)+2)
	for k, v := range c.vars {
		vars[k] = v
	}
	vars[VarAgentDescriptions] = c.agentDescriptions
	vars[VarHistory] = history
	return promptx.Render(c.template, vars)
}

// AgentByID resolves a raw identifier from model output. Only the first
// whitespace-separated token counts, compared lowercased; unknown or empty
// identifiers resolve to nil.
func (c *Classifier) AgentByID(raw string) contractx.Agent {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}
	id := strings.ToLower(fields[0])

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byID[id]
}

func (c *Classifier) Classify(ctx context.Context, input string, history []contractx.Message) (contractx.ClassifierResult, error) {
	rendered := FormatHistory(history)

	c.mu.RLock()
	systemPrompt := c.renderLocked(rendered)
	c.mu.RUnlock()

	decision, err := c.backend.Decide(ctx, systemPrompt, input)
	if err != nil {
		return contractx.ClassifierResult{}, fmt.Errorf("%w: %w", contractx.ErrClassification, err)
	}
	if decision.SelectedAgent == nil {
		return contractx.ClassifierResult{}, fmt.Errorf("%w: %w: selected_agent is missing", contractx.ErrClassification, contractx.ErrSchemaViolation)
	}
	if decision.Confidence == nil {
		return contractx.ClassifierResult{}, fmt.Errorf("%w: %w: confidence is missing", contractx.ErrClassification, contractx.ErrSchemaViolation)
	}

	c.logger.Debug().
		Str("selected_agent", *decision.SelectedAgent).
		Float64("confidence", *decision.Confidence).
		Msg("classifier decision")

	return contractx.ClassifierResult{
		SelectedAgent: c.AgentByID(*decision.SelectedAgent),
		Confidence:    clampConfidence(*decision.Confidence),
		Raw:           decision.Raw,
	}, nil
}

func clampConfidence(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// FormatAgentDescriptions renders one id:description line per agent,
// separated by a blank line.
func FormatAgentDescriptions(agents []contractx.Agent) string {
	lines := make([]string, 0, len(agents))
	for _, a := range agents {
		info := a.Info()
		lines = append(lines, info.ID+":"+info.Description)
	}
	return strings.Join(lines, "\n\n")
}

// FormatHistory renders one "role: text" line per message, oldest first.
func FormatHistory(history []contractx.Message) string {
	lines := make([]string, 0, len(history))
	for _, m := range history {
		lines = append(lines, string(m.Role)+": "+m.JoinedText())
	}
	return strings.Join(lines, "\n")
}
