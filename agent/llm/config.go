package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
	openrouterx "github.com/tanpawarit/agent-squad-router/pkg/openrouter"
)

// Config is the shared OpenRouter connection plus per-role model overrides.
type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.5"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	ClassifierModel       string  `envconfig:"CLASSIFIER_MODEL" split_words:"true"`
	ClassifierTemperature float32 `envconfig:"CLASSIFIER_TEMPERATURE" split_words:"true" default:"0"`
	// ClassifierBackend selects how routing calls reach the model: "eino"
	// through the eino-ext chat model or "openai" through openai-go directly.
	ClassifierBackend string `envconfig:"CLASSIFIER_BACKEND" split_words:"true" default:"eino"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: openrouter api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	switch c.ClassifierBackend {
	case "", "eino", "openai":
	default:
		return fmt.Errorf("%w: unknown classifier backend %q", contractx.ErrValidation, c.ClassifierBackend)
	}
	return nil
}

// OpenRouterFor builds the connection for one agent. Empty model and nil
// temperature fall back to the defaults.
func (c Config) OpenRouterFor(model string, temperature *float32) openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	if v := strings.TrimSpace(model); v != "" {
		modelName = v
	}
	temp := c.Temperature
	if temperature != nil {
		temp = *temperature
	}
	return c.openRouter(modelName, temp)
}

// ClassifierOpenRouter is the connection used for routing decisions.
func (c Config) ClassifierOpenRouter() openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	if v := strings.TrimSpace(c.ClassifierModel); v != "" {
		modelName = v
	}
	return c.openRouter(modelName, c.ClassifierTemperature)
}

func (c Config) openRouter(modelName string, temp float32) openrouterx.Config {
	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}
