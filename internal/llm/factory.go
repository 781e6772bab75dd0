package llm

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-slidecast/internal/config"
)

// New builds the generator selected by cfg.Mode.
func New(ctx context.Context, cfg config.LLMConfig) (Generator, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockGenerator(), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	case "ollama":
		return NewOllamaGenerator(cfg.Endpoint, cfg.Model), nil
	case "openai":
		return NewOpenAIGenerator(cfg.APIKey, cfg.Model, remoteBaseURL(cfg)), nil
	case "anthropic":
		return NewAnthropicGenerator(cfg.APIKey, cfg.Model, remoteBaseURL(cfg)), nil
	case "gemini":
		return NewGeminiGenerator(ctx, cfg.APIKey, cfg.Model, remoteBaseURL(cfg))
	default:
		return nil, fmt.Errorf("unknown llm mode %q", cfg.Mode)
	}
}

// The default endpoint targets a local ollama and is ignored by hosted providers.
func remoteBaseURL(cfg config.LLMConfig) string {
	if cfg.Endpoint == config.Default().LLM.Endpoint {
		return ""
	}
	return cfg.Endpoint
}
