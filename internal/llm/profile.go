package llm

import (
	"fmt"
	"log/slog"

	"github.com/dancxjo/psyche/internal/config"
)

// NewClientForProfile builds a fairness-wrapped Client for one [llm.<name>]
// config section, dispatching to the provider it names. This is the single
// place a wit's "llm" reference (or the daemon's default embedding profile)
// turns into a concrete provider adapter.
func NewClientForProfile(p config.LLMProfile, logger *slog.Logger) (Client, error) {
	var inner Client
	switch p.Provider {
	case "", "ollama":
		inner = NewOllamaClient(p.BaseURL, p.Model, p.EmbedModel, logger)
	case "anthropic":
		inner = NewAnthropicClient(p.APIKey, p.BaseURL, p.Model)
	case "openai":
		inner = NewOpenAIClient(p.APIKey, p.BaseURL, p.Model, p.EmbedModel)
	default:
		return nil, fmt.Errorf("llm profile: unrecognized provider %q", p.Provider)
	}

	maxConcurrent := p.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return NewFairClient(inner, maxConcurrent), nil
}
