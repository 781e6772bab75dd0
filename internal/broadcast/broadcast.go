// Package broadcast turns slide change events into a published multi-language
// presenter payload: per-language messages, per-language audio, duplicate
// detection against the previous broadcast, and the history/state writes.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-slidecast/internal/blob"
	"github.com/loqalabs/loqa-slidecast/internal/config"
	"github.com/loqalabs/loqa-slidecast/internal/docstore"
	"github.com/loqalabs/loqa-slidecast/internal/llm"
	"github.com/loqalabs/loqa-slidecast/internal/msgcache"
	"github.com/loqalabs/loqa-slidecast/internal/protocol"
	"github.com/loqalabs/loqa-slidecast/internal/textnorm"
	"github.com/loqalabs/loqa-slidecast/internal/tts"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Documents is the document store contract used for courses, state and history.
type Documents interface {
	Get(ctx context.Context, collection, id string) (docstore.Fields, bool, error)
	Set(ctx context.Context, collection, id string, fields docstore.Fields, merge bool) error
	Patch(ctx context.Context, collection, id string, fields docstore.Fields) error
	Query(ctx context.Context, collection string, where docstore.Where, limit int) ([]docstore.Document, error)
	NewID() string
}

// MessageGenerator produces the localized presenter text for one language.
type MessageGenerator interface {
	Message(ctx context.Context, in llm.PresenterInput) (string, error)
}

// Notifier is told about every successful publish. Failures are logged only.
type Notifier interface {
	Notify(ctx context.Context, notice protocol.BroadcastNotice) error
}

// Options are the tunables of a Broadcaster.
type Options struct {
	MaxConcurrency    int
	DefaultLanguages  []string
	FilenameSuffixes  []string
	DefaultCourseSlot string
	AudioPrefix       string
	AudioContentType  string
	GenerateTimeout   time.Duration
	SynthTimeout      time.Duration
}

// OptionsFromConfig maps the broadcast, llm and tts sections onto Options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		MaxConcurrency:    cfg.Broadcast.MaxConcurrency,
		DefaultLanguages:  cfg.Broadcast.DefaultLanguages,
		FilenameSuffixes:  cfg.Broadcast.FilenameSuffixes,
		DefaultCourseSlot: cfg.Broadcast.DefaultCourseSlot,
		AudioPrefix:       cfg.Broadcast.AudioPrefix,
		AudioContentType:  cfg.TTS.ContentType,
		GenerateTimeout:   config.Timeout(cfg.LLM.TimeoutMS, 60*time.Second),
		SynthTimeout:      config.Timeout(cfg.TTS.TimeoutMS, 45*time.Second),
	}
}

// Deps are the collaborators of a Broadcaster. Synth and Blobs are optional:
// when either is nil every broadcast is text only.
type Deps struct {
	Docs      Documents
	Cache     msgcache.Store
	Generator MessageGenerator
	Synth     tts.Synthesizer
	Voices    tts.VoiceSelector
	Blobs     blob.Store
	Notifier  Notifier

	Logger         *slog.Logger
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Result describes one handled event.
type Result struct {
	CourseSlot string
	MessageID  string
	Rule       string
	// Languages lists the languages present in the payload, in request order.
	Languages []string
	Failures  []LanguageError
	Payload   Payload
}

// Ack converts r into the wire acknowledgement.
func (r Result) Ack(err error) protocol.BroadcastAck {
	ack := protocol.BroadcastAck{
		OK:         err == nil,
		CourseSlot: r.CourseSlot,
		MessageID:  r.MessageID,
		Rule:       r.Rule,
		Languages:  r.Languages,
		Failures:   failuresToWire(r.Failures),
	}
	if err != nil {
		ack.Error = err.Error()
	}
	return ack
}

type Broadcaster struct {
	docs      Documents
	cache     msgcache.Store
	generator MessageGenerator
	synth     tts.Synthesizer
	voices    tts.VoiceSelector
	blobs     blob.Store
	notifier  Notifier
	opts      Options
	filenames textnorm.FilenameNormalizer
	logger    *slog.Logger
	inst      *instruments
	flight    singleflight.Group
	locks     *slotLocks
	clock     func() time.Time
}

func New(deps Deps, opts Options) (*Broadcaster, error) {
	if deps.Docs == nil || deps.Cache == nil || deps.Generator == nil {
		return nil, errors.New("broadcast: docs, cache and generator are required")
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 5
	}
	if opts.DefaultCourseSlot == "" {
		opts.DefaultCourseSlot = config.Default().Broadcast.DefaultCourseSlot
	}
	if opts.AudioPrefix == "" {
		opts.AudioPrefix = config.Default().Broadcast.AudioPrefix
	}
	if opts.AudioContentType == "" {
		opts.AudioContentType = "audio/mpeg"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	inst, err := newInstruments(deps.MeterProvider, deps.TracerProvider)
	if err != nil {
		return nil, fmt.Errorf("broadcast instruments: %w", err)
	}
	return &Broadcaster{
		docs:      deps.Docs,
		cache:     deps.Cache,
		generator: deps.Generator,
		synth:     deps.Synth,
		voices:    deps.Voices,
		blobs:     deps.Blobs,
		notifier:  deps.Notifier,
		opts:      opts,
		filenames: textnorm.NewFilenameNormalizer(opts.FilenameSuffixes),
		logger:    logger.With(slog.String("component", "broadcaster")),
		inst:      inst,
		locks:     newSlotLocks(),
		clock:     time.Now,
	}, nil
}

// SetNotifier replaces the publish notifier. It must be called before the
// first Handle.
func (b *Broadcaster) SetNotifier(n Notifier) {
	b.notifier = n
}

// AudioEnabled reports whether an audio backend is configured.
func (b *Broadcaster) AudioEnabled() bool {
	return b.synth != nil && b.blobs != nil
}

// Handle runs one slide change event through the message and audio stages and
// publishes the result. Per-language failures are reported in Result; the
// returned error is non-nil only when nothing could be published.
func (b *Broadcaster) Handle(ctx context.Context, evt protocol.SlideChangeEvent) (Result, error) {
	start := b.clock()
	slot := evt.CourseID
	if slot == "" {
		slot = b.opts.DefaultCourseSlot
	}
	res := Result{CourseSlot: slot}
	logger := b.logger.With(slog.String("course_slot", slot))
	if evt.TraceID != "" {
		logger = logger.With(slog.String("trace_id", evt.TraceID))
	}

	ctx, span := b.inst.tracer.Start(ctx, "broadcast.handle",
		trace.WithAttributes(attribute.String("course_slot", slot)))
	defer span.End()

	fail := func(err error) (Result, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.inst.countEvent(ctx, "failed", res.Rule)
		logger.Warn("broadcast failed", slogError(err), slog.Int("failures", len(res.Failures)))
		return res, err
	}

	crs := b.loadCourse(ctx, evt.CourseID)
	languages := resolveLanguages(evt.Languages, crs.Languages, b.opts.DefaultLanguages)
	if len(languages) == 0 {
		return fail(ErrNoLanguages)
	}

	normalized := textnorm.Normalize(evt.Context)
	fp := textnorm.Fingerprint(normalized)
	span.SetAttributes(attribute.String("context_hash", fp), attribute.Int("languages", len(languages)))

	messages, failures := b.generateMessages(ctx, languages, messageInput{
		context:     evt.Context,
		normalized:  normalized,
		fingerprint: fp,
		theme:       crs.theme(),
	})
	res.Failures = append(res.Failures, failures...)

	entries, failures := b.synthesizeAudio(ctx, languages, messages, fp, crs)
	res.Failures = append(res.Failures, failures...)
	if len(entries) == 0 {
		return fail(fmt.Errorf("%w: %d of %d languages failed", ErrNoPayload, len(res.Failures), len(languages)))
	}

	payload := b.buildPayload(evt, languages, entries, fp)
	res.Payload = payload
	for _, lang := range languages {
		if _, ok := entries[lang]; ok {
			res.Languages = append(res.Languages, lang)
		}
	}

	release := b.locks.lock(slot)
	decision, err := b.publish(ctx, slot, payload, logger)
	release()
	res.Rule = decision.rule
	res.MessageID = decision.messageID
	if err != nil {
		return fail(err)
	}

	b.notify(ctx, slot, res, logger)

	b.inst.countEvent(ctx, "published", res.Rule)
	b.inst.duration.Record(ctx, b.clock().Sub(start).Seconds())
	logger.Info("broadcast published",
		slog.String("rule", res.Rule),
		slog.String("message_id", res.MessageID),
		slog.String("context_hash", fp),
		slog.Any("languages", res.Languages),
		slog.Int("failures", len(res.Failures)))
	return res, nil
}

func (b *Broadcaster) notify(ctx context.Context, slot string, res Result, logger *slog.Logger) {
	if b.notifier == nil {
		return
	}
	notice := protocol.BroadcastNotice{
		CourseSlot:  slot,
		CourseID:    res.Payload.CourseID,
		MessageID:   res.MessageID,
		Rule:        res.Rule,
		PPTFilename: res.Payload.PPTFilename,
		PageNumber:  res.Payload.PageNumber,
		ContextHash: res.Payload.ContextHash,
		Languages:   res.Payload.Languages,
		Timestamp:   res.Payload.Timestamp,
	}
	if err := b.notifier.Notify(ctx, notice); err != nil {
		logger.Warn("broadcast notice failed", slogError(err))
	}
}
