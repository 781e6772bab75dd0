package tts

import (
	"fmt"

	"github.com/loqalabs/loqa-slidecast/internal/config"
)

// New builds the synthesizer selected by cfg.Mode.
func New(cfg config.TTSConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockSynth(), nil
	case "exec":
		return NewExecSynth(cfg.Command)
	case "openai":
		return NewOpenAISynth(cfg.APIKey, cfg.Model, cfg.Endpoint), nil
	default:
		return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
	}
}
