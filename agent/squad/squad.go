// Package squad assembles the agents described in an agents file:
// specialists first, then chains, then supervisors.
package squad

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	chainx "github.com/tanpawarit/agent-squad-router/agent/agents/chain"
	specialistx "github.com/tanpawarit/agent-squad-router/agent/agents/specialist"
	supervisorx "github.com/tanpawarit/agent-squad-router/agent/agents/supervisor"
	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
	llmx "github.com/tanpawarit/agent-squad-router/agent/llm"
	storagex "github.com/tanpawarit/agent-squad-router/agent/storage"
	toolx "github.com/tanpawarit/agent-squad-router/agent/tool"
)

type ChainDefinition struct {
	Name          string   `mapstructure:"name"`
	Description   string   `mapstructure:"description"`
	SaveChat      *bool    `mapstructure:"save_chat"`
	Agents        []string `mapstructure:"agents"`
	DefaultOutput string   `mapstructure:"default_output"`
	Default       bool     `mapstructure:"default"`
	Internal      bool     `mapstructure:"internal"`
}

type SupervisorDefinition struct {
	Name            string   `mapstructure:"name"`
	Description     string   `mapstructure:"description"`
	SaveChat        *bool    `mapstructure:"save_chat"`
	Lead            string   `mapstructure:"lead"`
	Team            []string `mapstructure:"team"`
	Tools           []string `mapstructure:"tools"`
	Trace           bool     `mapstructure:"trace"`
	MaxRounds       int      `mapstructure:"max_rounds"`
	MaxMessagePairs int      `mapstructure:"max_message_pairs"`
	Default         bool     `mapstructure:"default"`
}

type File struct {
	Agents      []specialistx.Definition `mapstructure:"agents"`
	Chains      []ChainDefinition        `mapstructure:"chains"`
	Supervisors []SupervisorDefinition   `mapstructure:"supervisors"`
}

// Squad is the routable registry in file order plus the default agent.
type Squad struct {
	Agents  []contractx.Agent
	Default contractx.Agent
}

// Load reads an agents file (YAML, JSON or TOML).
func Load(path string) (File, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return File{}, fmt.Errorf("%w: read agents file %s: %v", contractx.ErrInvalidConfig, path, err)
	}

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return File{}, fmt.Errorf("%w: decode agents file %s: %v", contractx.ErrInvalidConfig, path, err)
	}
	if len(f.Agents) == 0 {
		return File{}, fmt.Errorf("%w: agents file %s defines no agents", contractx.ErrInvalidConfig, path)
	}
	return f, nil
}

type Builder struct {
	LLM     llmx.Config
	Catalog *toolx.Catalog
	Storage storagex.ChatStorage
	Logger  zerolog.Logger
}

func (b Builder) Build(ctx context.Context, f File) (*Squad, error) {
	specialists, err := specialistx.NewRegistry(ctx, b.LLM, b.Catalog, f.Agents, b.Logger)
	if err != nil {
		return nil, err
	}

	byID := map[string]contractx.Agent{}
	leads := map[string]*specialistx.Agent{}
	sq := &Squad{}
	add := func(a contractx.Agent, internal, isDefault bool) error {
		id := a.Info().ID
		if _, exists := byID[id]; exists {
			return fmt.Errorf("%w: %s", contractx.ErrDuplicateAgent, id)
		}
		byID[id] = a
		if !internal {
			sq.Agents = append(sq.Agents, a)
		}
		if isDefault {
			if sq.Default != nil {
				return fmt.Errorf("%w: both %s and %s are marked default", contractx.ErrInvalidConfig, sq.Default.Info().ID, id)
			}
			sq.Default = a
		}
		return nil
	}

	for i, a := range specialists {
		leads[a.Info().ID] = a
		if err := add(a, f.Agents[i].Internal, f.Agents[i].Default); err != nil {
			return nil, err
		}
	}

	for _, def := range f.Chains {
		members, err := resolve(byID, def.Agents)
		if err != nil {
			return nil, fmt.Errorf("chain %q: %w", def.Name, err)
		}
		chainLogger := b.Logger.With().Str("agent", contractx.GenerateID(def.Name)).Logger()
		c, err := chainx.New(chainx.Options{
			AgentOptions:  contractx.AgentOptions{Name: def.Name, Description: def.Description, SaveChat: def.SaveChat},
			Agents:        members,
			DefaultOutput: def.DefaultOutput,
			Logger:        &chainLogger,
		})
		if err != nil {
			return nil, err
		}
		if err := add(c, def.Internal, def.Default); err != nil {
			return nil, err
		}
	}

	for _, def := range f.Supervisors {
		lead, ok := leads[contractx.GenerateID(def.Lead)]
		if !ok {
			return nil, fmt.Errorf("%w: supervisor %q lead %q is not a configured agent", contractx.ErrInvalidConfig, def.Name, def.Lead)
		}
		team, err := resolve(byID, def.Team)
		if err != nil {
			return nil, fmt.Errorf("supervisor %q: %w", def.Name, err)
		}
		extra, err := b.Catalog.Select(ctx, def.Tools...)
		if err != nil {
			return nil, fmt.Errorf("supervisor %q: %w", def.Name, err)
		}
		supLogger := b.Logger.With().Str("agent", contractx.GenerateID(def.Name)).Logger()
		s, err := supervisorx.New(ctx, supervisorx.Options{
			AgentOptions:    contractx.AgentOptions{Name: def.Name, Description: def.Description, SaveChat: def.SaveChat},
			Lead:            lead,
			Team:            team,
			Storage:         b.Storage,
			MaxMessagePairs: def.MaxMessagePairs,
			Trace:           def.Trace,
			ExtraTools:      extra,
			MaxRounds:       def.MaxRounds,
			Logger:          &supLogger,
		})
		if err != nil {
			return nil, err
		}
		if err := add(s, false, def.Default); err != nil {
			return nil, err
		}
	}

	if len(sq.Agents) == 0 {
		return nil, fmt.Errorf("%w: every configured agent is internal", contractx.ErrInvalidConfig)
	}
	return sq, nil
}

func resolve(byID map[string]contractx.Agent, refs []string) ([]contractx.Agent, error) {
	out := make([]contractx.Agent, 0, len(refs))
	for _, ref := range refs {
		a, ok := byID[contractx.GenerateID(ref)]
		if !ok {
			return nil, fmt.Errorf("%w: unknown agent %q", contractx.ErrInvalidConfig, strings.TrimSpace(ref))
		}
		out = append(out, a)
	}
	return out, nil
}
