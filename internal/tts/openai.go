package tts

import (
	"context"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

type openaiSynth struct {
	client *openai.Client
	model  string
}

// NewOpenAISynth uses the audio/speech endpoint and always requests MP3.
func NewOpenAISynth(apiKey, model, baseURL string) Synthesizer {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &openaiSynth{client: openai.NewClientWithConfig(cfg), model: model}
}

func (s *openaiSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		model := s.model
		if req.Model != "" {
			model = req.Model
		}
		resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
			Model:          openai.SpeechModel(model),
			Input:          req.Text,
			Voice:          openai.SpeechVoice(req.Voice),
			ResponseFormat: openai.SpeechResponseFormatMp3,
		})
		if err != nil {
			errs <- fmt.Errorf("openai speech: %w", err)
			return
		}
		defer resp.Close()

		audio, err := io.ReadAll(resp)
		if err != nil {
			errs <- fmt.Errorf("read openai speech: %w", err)
			return
		}
		chunks <- SynthChunk{SessionID: req.SessionID, Audio: audio, Final: true}
	}()
	return chunks, errs
}
