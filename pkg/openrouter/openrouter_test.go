package openrouter

import (
	"testing"
	"time"
)

func TestChatModelConfig(t *testing.T) {
	t.Parallel()

	maxTokens := 300
	cfg := &Config{
		BaseURL:            "https://openrouter.ai/api/v1/",
		APIKey:             " key ",
		Model:              "x-ai/grok-4.1-fast",
		MaxCompletionToken: &maxTokens,
		Temperature:        0.2,
		Timeout:            5 * time.Second,
	}

	got := cfg.ChatModelConfig()
	if got.BaseURL != "https://openrouter.ai/api/v1" {
		t.Fatalf("unexpected base url: %q", got.BaseURL)
	}
	if got.APIKey != "key" {
		t.Fatalf("api key not trimmed: %q", got.APIKey)
	}
	if got.Temperature == nil || *got.Temperature != 0.2 {
		t.Fatalf("unexpected temperature: %v", got.Temperature)
	}
	if _, ok := got.ExtraFields["reasoning"]; !ok {
		t.Fatal("expected reasoning to be disabled for blacklisted model")
	}

	cfg.Model = "openai/gpt-4o-mini"
	if extra := cfg.ChatModelConfig().ExtraFields; extra != nil {
		t.Fatalf("unexpected extra fields: %#v", extra)
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	t.Parallel()

	if NewClient(Config{}) != nil {
		t.Fatal("expected nil client without api key")
	}
	if NewClient(Config{APIKey: "k", BaseURL: "https://openrouter.ai/api/v1"}) == nil {
		t.Fatal("expected client")
	}
}
