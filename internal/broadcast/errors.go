package broadcast

import (
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-slidecast/internal/protocol"
)

var (
	// ErrNoLanguages means neither the event, the course nor config named a language.
	ErrNoLanguages = errors.New("no target languages")
	// ErrNoPayload means every language failed; the current state is left untouched.
	ErrNoPayload = errors.New("no language produced a message")
	// ErrPublish wraps a failed write of the history record or current state.
	ErrPublish = errors.New("publish broadcast")
)

const (
	StageMessage = "message"
	StageAudio   = "audio"
)

// LanguageError is a per-language failure. It never aborts the batch.
type LanguageError struct {
	Language string
	Stage    string
	Err      error
}

func (e LanguageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Language, e.Stage, e.Err)
}

func (e LanguageError) Unwrap() error { return e.Err }

func failuresToWire(failures []LanguageError) []protocol.LanguageFailure {
	if len(failures) == 0 {
		return nil
	}
	out := make([]protocol.LanguageFailure, 0, len(failures))
	for _, f := range failures {
		out = append(out, protocol.LanguageFailure{Language: f.Language, Stage: f.Stage, Error: f.Err.Error()})
	}
	return out
}
