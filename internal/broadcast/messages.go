package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-slidecast/internal/llm"
	"github.com/loqalabs/loqa-slidecast/internal/msgcache"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

type messageInput struct {
	// context is the raw speaker notes handed to the generator.
	context     string
	normalized  string
	fingerprint string
	theme       string
}

// message is the message stage output for one language.
type message struct {
	text     string
	audioURL string
}

// generateMessages runs the message stage: cache lookup, then generation on
// miss, for every language concurrently. Failed languages are absent from the
// returned map and listed in the failures.
func (b *Broadcaster) generateMessages(ctx context.Context, languages []string, in messageInput) (map[string]message, []LanguageError) {
	ctx, span := b.inst.tracer.Start(ctx, "broadcast.messages",
		trace.WithAttributes(attribute.Int("languages", len(languages))))
	defer span.End()

	var (
		mu       sync.Mutex
		out      = make(map[string]message, len(languages))
		failures []LanguageError
	)
	var g errgroup.Group
	g.SetLimit(poolSize(len(languages), b.opts.MaxConcurrency))
	for _, lang := range languages {
		g.Go(func() error {
			msg, err := b.messageFor(ctx, lang, in)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				b.logger.Warn("message generation failed", slog.String("language", lang), slogError(err))
				failures = append(failures, LanguageError{Language: lang, Stage: StageMessage, Err: err})
				return nil
			}
			out[lang] = msg
			return nil
		})
	}
	_ = g.Wait()
	return out, sortFailures(languages, failures)
}

func (b *Broadcaster) messageFor(ctx context.Context, lang string, in messageInput) (message, error) {
	entry, ok, err := b.cache.Get(ctx, lang, in.fingerprint)
	switch {
	case err != nil:
		b.inst.countCache(ctx, "error")
		b.logger.Warn("message cache lookup failed", slog.String("language", lang), slogError(err))
	case ok && entry.Message != "":
		b.inst.countCache(ctx, "hit")
		return message{text: entry.Message, audioURL: entry.AudioURL}, nil
	default:
		b.inst.countCache(ctx, "miss")
	}

	text, err := b.shared(ctx, msgcache.Key(lang, in.fingerprint), b.opts.GenerateTimeout, func(ctx context.Context) (string, error) {
		text, err := b.generator.Message(ctx, llm.PresenterInput{
			Language:    lang,
			Context:     in.context,
			Fingerprint: in.fingerprint,
			Theme:       in.theme,
		})
		if err != nil {
			return "", err
		}
		if err := b.cache.Put(ctx, msgcache.NewEntry(lang, in.normalized, text)); err != nil {
			b.logger.Warn("message cache write failed", slog.String("language", lang), slogError(err))
		}
		return text, nil
	})
	if err != nil {
		return message{}, err
	}
	return message{text: text}, nil
}

// shared runs fn once per key across concurrent callers. fn runs detached
// from any single caller's cancellation and is bounded by timeout when set;
// each caller stops waiting when its own ctx ends.
func (b *Broadcaster) shared(ctx context.Context, key string, timeout time.Duration, fn func(context.Context) (string, error)) (string, error) {
	ch := b.flight.DoChan(key, func() (any, error) {
		workCtx := context.WithoutCancel(ctx)
		if timeout > 0 {
			var cancel context.CancelFunc
			workCtx, cancel = context.WithTimeout(workCtx, timeout)
			defer cancel()
		}
		return fn(workCtx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// poolSize bounds a fan-out phase to min(n, limit) workers.
func poolSize(n, limit int) int {
	if limit <= 0 {
		limit = 1
	}
	return max(min(n, limit), 1)
}

// sortFailures orders failures by request order so results do not depend on
// task completion order.
func sortFailures(languages []string, failures []LanguageError) []LanguageError {
	if len(failures) < 2 {
		return failures
	}
	byLang := make(map[string][]LanguageError, len(failures))
	for _, f := range failures {
		byLang[f.Language] = append(byLang[f.Language], f)
	}
	out := make([]LanguageError, 0, len(failures))
	for _, lang := range languages {
		out = append(out, byLang[lang]...)
	}
	return out
}
