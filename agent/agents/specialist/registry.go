package specialist

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
	llmx "github.com/tanpawarit/agent-squad-router/agent/llm"
	toolx "github.com/tanpawarit/agent-squad-router/agent/tool"
)

// Definition describes one configured agent in an agents file.
type Definition struct {
	Name         string            `mapstructure:"name"`
	Description  string            `mapstructure:"description"`
	SystemPrompt string            `mapstructure:"system_prompt"`
	Model        string            `mapstructure:"model"`
	Temperature  *float32          `mapstructure:"temperature"`
	Streaming    bool              `mapstructure:"streaming"`
	SaveChat     *bool             `mapstructure:"save_chat"`
	Tools        []string          `mapstructure:"tools"`
	Vars         map[string]string `mapstructure:"vars"`
	Default      bool              `mapstructure:"default"`
	// Internal agents serve only as chain or supervisor members.
	Internal bool `mapstructure:"internal"`
}

// LoadDefinitions reads the "agents" list from a YAML, JSON or TOML file.
func LoadDefinitions(path string) ([]Definition, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: read agents file %s: %v", contractx.ErrInvalidConfig, path, err)
	}

	var defs []Definition
	if err := v.UnmarshalKey("agents", &defs); err != nil {
		return nil, fmt.Errorf("%w: decode agents file %s: %v", contractx.ErrInvalidConfig, path, err)
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w: agents file %s defines no agents", contractx.ErrInvalidConfig, path)
	}
	return defs, nil
}

// NewRegistry builds one agent per definition, in order, each on its own
// OpenRouter model. Tool names must exist in the catalog.
func NewRegistry(
	ctx context.Context,
	cfg llmx.Config,
	catalog *toolx.Catalog,
	defs []Definition,
	logger zerolog.Logger,
) ([]*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	agents := make([]*Agent, 0, len(defs))
	for _, def := range defs {
		tools, err := catalog.Select(ctx, def.Tools...)
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", def.Name, err)
		}

		modelCfg := cfg.OpenRouterFor(def.Model, def.Temperature)
		chatModel, err := modelCfg.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: create model for agent %q: %v", contractx.ErrModelInvoke, def.Name, err)
		}

		agentLogger := logger.With().Str("agent", contractx.GenerateID(def.Name)).Logger()
		a, err := New(ctx, Options{
			AgentOptions: contractx.AgentOptions{
				Name:        def.Name,
				Description: def.Description,
				SaveChat:    def.SaveChat,
			},
			Model:        chatModel,
			SystemPrompt: def.SystemPrompt,
			PromptVars:   upperKeys(def.Vars),
			Streaming:    def.Streaming,
			Tools:        tools,
			Logger:       &agentLogger,
		})
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, nil
}

// upperKeys restores placeholder casing; viper lowercases map keys.
func upperKeys(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToUpper(k)] = v
	}
	return out
}
