package llm

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"
)

type geminiGenerator struct {
	client *genai.Client
	model  string
}

func NewGeminiGenerator(ctx context.Context, apiKey, model, baseURL string) (Generator, error) {
	cfg := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if baseURL != "" {
		cfg.HTTPOptions.BaseURL = baseURL
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &geminiGenerator{client: client, model: model}, nil
}

func (g *geminiGenerator) generateConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}
	return cfg
}

func (g *geminiGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	model := g.model
	if req.Model != "" {
		model = req.Model
	}
	contents := []*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: req.Prompt}}}}

	start := time.Now()
	result, err := g.client.Models.GenerateContent(ctx, model, contents, g.generateConfig(req))
	if err != nil {
		return fmt.Errorf("gemini completion: %w", err)
	}

	chunk := Chunk{
		SessionID: req.SessionID,
		Content:   result.Text(),
		Latency:   time.Since(start),
		TraceID:   req.TraceID,
	}
	if usage := result.UsageMetadata; usage != nil {
		chunk.PromptTokens = int(usage.PromptTokenCount)
		chunk.CompletionTokens = int(usage.CandidatesTokenCount)
	}
	return consumer(chunk)
}
