package tts

import (
	"context"
	"time"
)

type mockSynth struct {
	delay time.Duration
}

// NewMockSynth returns a synthesizer that emits a short fake MP3 frame header
// followed by the text, so uploads and URLs can be exercised without a TTS backend.
func NewMockSynth() Synthesizer {
	return &mockSynth{delay: 50 * time.Millisecond}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		case <-time.After(m.delay):
		}
		audio := append([]byte{0xFF, 0xFB, 0x90, 0x00}, []byte(req.Voice+":"+req.Text)...)
		chunks <- SynthChunk{
			SessionID: req.SessionID,
			Sequence:  0,
			Audio:     audio,
			Final:     true,
		}
	}()
	return chunks, errs
}
