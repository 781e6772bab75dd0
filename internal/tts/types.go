package tts

import (
	"bytes"
	"context"
	"errors"
)

// ErrNoAudio is returned by Collect when a synthesizer finishes without audio.
var ErrNoAudio = errors.New("synthesizer produced no audio")

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	SessionID string
	Text      string
	Voice     string
	Model     string
}

// SynthChunk carries encoded audio bytes.
type SynthChunk struct {
	SessionID string
	Sequence  int
	Audio     []byte
	Final     bool
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

// Collect drains a synthesis stream into a single buffer.
func Collect(ctx context.Context, s Synthesizer, req SynthRequest) ([]byte, error) {
	chunks, errs := s.Synthesize(ctx, req)
	var buf bytes.Buffer
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			buf.Write(chunk.Audio)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return nil, err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if buf.Len() == 0 {
		return nil, ErrNoAudio
	}
	return buf.Bytes(), nil
}
