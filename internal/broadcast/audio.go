package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/loqalabs/loqa-slidecast/internal/msgcache"
	"github.com/loqalabs/loqa-slidecast/internal/protocol"
	"github.com/loqalabs/loqa-slidecast/internal/tts"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var errNothingToSpeak = errors.New("message is empty after sanitizing for speech")

// AudioObjectName is the blob name for (language, fingerprint). It does not
// depend on the generated text.
func AudioObjectName(prefix, language, fingerprint string) string {
	return path.Join(prefix, msgcache.Language(language), fingerprint+".mp3")
}

// synthesizeAudio runs the audio stage over the message stage output. Every
// language with text is present in the result; a failed synthesis leaves the
// language text only and is reported.
func (b *Broadcaster) synthesizeAudio(ctx context.Context, languages []string, messages map[string]message, fp string, crs course) (map[string]protocol.LanguageMessage, []LanguageError) {
	out := make(map[string]protocol.LanguageMessage, len(messages))
	if !b.AudioEnabled() {
		for lang, msg := range messages {
			out[lang] = protocol.LanguageMessage{Text: msg.text}
		}
		return out, nil
	}

	ctx, span := b.inst.tracer.Start(ctx, "broadcast.audio",
		trace.WithAttributes(attribute.Int("languages", len(messages))))
	defer span.End()

	var (
		mu       sync.Mutex
		failures []LanguageError
	)
	var g errgroup.Group
	g.SetLimit(poolSize(len(messages), b.opts.MaxConcurrency))
	for _, lang := range languages {
		msg, ok := messages[lang]
		if !ok {
			continue
		}
		g.Go(func() error {
			url, err := b.audioFor(ctx, lang, msg, fp, crs)
			mu.Lock()
			defer mu.Unlock()
			entry := protocol.LanguageMessage{Text: msg.text, AudioURL: url}
			if err != nil {
				b.inst.countAudio(ctx, "failed")
				b.logger.Warn("audio synthesis failed", slog.String("language", lang), slogError(err))
				failures = append(failures, LanguageError{Language: lang, Stage: StageAudio, Err: err})
				entry.AudioURL = ""
			}
			out[lang] = entry
			return nil
		})
	}
	_ = g.Wait()
	return out, sortFailures(languages, failures)
}

func (b *Broadcaster) audioFor(ctx context.Context, lang string, msg message, fp string, crs course) (string, error) {
	if msg.audioURL != "" {
		b.inst.countAudio(ctx, "cached")
		return msg.audioURL, nil
	}
	name := AudioObjectName(b.opts.AudioPrefix, lang, fp)
	return b.shared(ctx, "audio:"+name, audioStepTimeout(b.opts.SynthTimeout), func(ctx context.Context) (string, error) {
		exists, err := b.blobs.Exists(ctx, name)
		if err != nil {
			return "", fmt.Errorf("check %s: %w", name, err)
		}
		if exists {
			b.inst.countAudio(ctx, "reused")
		} else {
			if err := b.renderAudio(ctx, lang, fp, msg.text, name, crs); err != nil {
				return "", err
			}
			b.inst.countAudio(ctx, "synthesized")
		}
		url := b.blobs.PublicURL(name)
		if err := b.cache.SetAudioURL(ctx, lang, fp, url); err != nil {
			b.logger.Warn("audio url cache update failed", slog.String("language", lang), slogError(err))
		}
		return url, nil
	})
}

// audioStepTimeout bounds the whole audio step of one language: existence
// check, synthesis and upload. Synthesis alone is bounded by synth.
func audioStepTimeout(synth time.Duration) time.Duration {
	if synth <= 0 {
		return 0
	}
	return 2 * synth
}

func (b *Broadcaster) renderAudio(ctx context.Context, lang, fp, text, name string, crs course) error {
	speech := tts.Sanitize(text)
	if speech == "" {
		return errNothingToSpeak
	}
	voice := b.voices.Select(crs.Voices, lang)

	synthCtx := ctx
	if b.opts.SynthTimeout > 0 {
		var cancel context.CancelFunc
		synthCtx, cancel = context.WithTimeout(ctx, b.opts.SynthTimeout)
		defer cancel()
	}
	audio, err := tts.Collect(synthCtx, b.synth, tts.SynthRequest{
		SessionID: "presentation_audio_" + msgcache.Language(lang) + "_" + fp,
		Text:      speech,
		Voice:     voice.Voice,
		Model:     voice.Model,
	})
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	if err := b.blobs.Upload(ctx, name, audio, b.opts.AudioContentType); err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	return nil
}
