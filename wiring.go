package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	orchestratorx "github.com/tanpawarit/agent-squad-router/agent/agents/orchestrator"
	classifierx "github.com/tanpawarit/agent-squad-router/agent/classifier"
	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
	llmx "github.com/tanpawarit/agent-squad-router/agent/llm"
	"github.com/tanpawarit/agent-squad-router/agent/squad"
	storagex "github.com/tanpawarit/agent-squad-router/agent/storage"
	toolx "github.com/tanpawarit/agent-squad-router/agent/tool"
	configx "github.com/tanpawarit/agent-squad-router/pkg/config"
	openrouterx "github.com/tanpawarit/agent-squad-router/pkg/openrouter"
)

type AppConfig struct {
	AgentsFile    string `envconfig:"AGENTS_FILE" default:"agents.yaml"`
	StorageDriver string `envconfig:"STORAGE_DRIVER" default:"memory"`
}

// app is everything a command needs: the orchestrator plus cleanup for the
// storage backend.
type app struct {
	orchestrator *orchestratorx.Orchestrator
	close        func() error
}

func buildApp(ctx context.Context, agentsFile string, logger zerolog.Logger) (*app, error) {
	appCfg, err := configx.New[AppConfig]("")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(agentsFile) == "" {
		agentsFile = appCfg.AgentsFile
	}

	llmCfg, err := configx.New[llmx.Config]("OPENROUTER")
	if err != nil {
		return nil, err
	}
	if err := llmCfg.Validate(); err != nil {
		return nil, err
	}

	storage, closeStorage, err := buildStorage(ctx, appCfg.StorageDriver, logger)
	if err != nil {
		return nil, err
	}

	cleanup := func(err error) (*app, error) {
		_ = closeStorage()
		return nil, err
	}

	classifier, err := buildClassifier(ctx, *llmCfg, logger)
	if err != nil {
		return cleanup(err)
	}

	orchCfg, err := configx.New[orchestratorx.Config]("ORCHESTRATOR")
	if err != nil {
		return cleanup(err)
	}
	orch, err := orchestratorx.New(storage, classifier, *orchCfg,
		orchestratorx.WithLogger(logger.With().Str("component", "orchestrator").Logger()),
	)
	if err != nil {
		return cleanup(err)
	}

	file, err := squad.Load(agentsFile)
	if err != nil {
		return cleanup(err)
	}
	catalog, err := toolx.Default(ctx)
	if err != nil {
		return cleanup(err)
	}
	sq, err := squad.Builder{
		LLM:     *llmCfg,
		Catalog: catalog,
		Storage: storage,
		Logger:  logger,
	}.Build(ctx, file)
	if err != nil {
		return cleanup(err)
	}
	for _, a := range sq.Agents {
		if err := orch.AddAgent(a); err != nil {
			return cleanup(err)
		}
	}
	if sq.Default != nil {
		orch.SetDefaultAgent(sq.Default)
	}

	logger.Info().
		Str("agents_file", agentsFile).
		Str("storage", appCfg.StorageDriver).
		Str("classifier_backend", llmCfg.ClassifierBackend).
		Int("agents", len(sq.Agents)).
		Msg("orchestrator ready")

	return &app{orchestrator: orch, close: closeStorage}, nil
}

func buildStorage(ctx context.Context, driver string, logger zerolog.Logger) (storagex.ChatStorage, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "memory":
		return storagex.NewMemoryStorage(), noop, nil

	case "redis":
		cfg, err := configx.New[storagex.RedisConfig]("REDIS")
		if err != nil {
			return nil, nil, err
		}
		client := storagex.NewRedisClient(*cfg)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("%w: ping redis: %v", contractx.ErrStorage, err)
		}
		s, err := storagex.NewRedisStorage(client,
			storagex.WithRedisTTL(cfg.TTL),
			storagex.WithRedisLogger(logger.With().Str("component", "storage").Logger()),
		)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return s, client.Close, nil

	case "upstash":
		cfg, err := configx.New[storagex.UpstashConfig]("UPSTASH")
		if err != nil {
			return nil, nil, err
		}
		s, err := storagex.NewUpstashStorage(*cfg, storagex.WithTTL(cfg.TTL))
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil

	case "postgres":
		cfg, err := configx.New[storagex.PostgresConfig]("POSTGRES")
		if err != nil {
			return nil, nil, err
		}
		db, err := storagex.OpenPostgres(*cfg)
		if err != nil {
			return nil, nil, err
		}
		s, err := storagex.NewSQLStorage(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		if err := s.InitSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return s, db.Close, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown storage driver %q", contractx.ErrInvalidConfig, driver)
	}
}

func buildClassifier(ctx context.Context, cfg llmx.Config, logger zerolog.Logger) (*classifierx.Classifier, error) {
	routerCfg := cfg.ClassifierOpenRouter()

	var backend classifierx.Backend
	switch cfg.ClassifierBackend {
	case "openai":
		maxTokens := int64(cfg.MaxCompletionToken)
		b, err := classifierx.NewOpenAIBackend(openrouterx.NewClient(routerCfg), classifierx.OpenAIConfig{
			Model:       routerCfg.Model,
			Temperature: float64(routerCfg.Temperature),
			MaxTokens:   maxTokens,
		})
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		chatModel, err := routerCfg.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: create classifier model: %v", contractx.ErrModelInvoke, err)
		}
		b, err := classifierx.NewEinoBackend(ctx, chatModel)
		if err != nil {
			return nil, err
		}
		backend = b
	}

	return classifierx.New(backend, classifierx.WithLogger(logger.With().Str("component", "classifier").Logger()))
}
