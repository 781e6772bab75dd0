package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-slidecast/internal/docstore"
	"github.com/loqalabs/loqa-slidecast/internal/protocol"
	"go.opentelemetry.io/otel/attribute"
)

// StateCollection holds one current-state document per course slot. History
// records live in the "messages" sub-collection of each state document.
const StateCollection = "presentation_broadcast"

// HistoryCollection returns the history collection of slot.
func HistoryCollection(slot string) string {
	return docstore.Path(StateCollection, slot, "messages")
}

// Payload is the consolidated broadcast written to history and state.
type Payload struct {
	Languages             map[string]protocol.LanguageMessage `json:"languages"`
	SupportedLanguages    []string                            `json:"supported_languages"`
	PPTFilename           string                              `json:"ppt_filename,omitempty"`
	PPTFilenameNormalized string                              `json:"ppt_filename_normalized,omitempty"`
	PageNumber            string                              `json:"page_number,omitempty"`
	ContextHash           string                              `json:"context_hash"`
	Context               string                              `json:"context"`
	CourseID              string                              `json:"course_id,omitempty"`
	Timestamp             time.Time                           `json:"timestamp"`
}

// State is the current-state document of a course slot.
type State struct {
	Payload
	LastMessageID string    `json:"last_message_id"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (b *Broadcaster) buildPayload(evt protocol.SlideChangeEvent, languages []string, entries map[string]protocol.LanguageMessage, fp string) Payload {
	out := make(map[string]protocol.LanguageMessage, len(entries))
	for lang, entry := range entries {
		entry.SlideLink = slideLink(evt.LanguageSlideLinks, lang)
		out[lang] = entry
	}
	return Payload{
		Languages:             out,
		SupportedLanguages:    languages,
		PPTFilename:           evt.PPTFilename,
		PPTFilenameNormalized: b.filenames.Normalize(evt.PPTFilename),
		PageNumber:            evt.PageNumber.String(),
		ContextHash:           fp,
		Context:               evt.Context,
		CourseID:              evt.CourseID,
		Timestamp:             b.clock().UTC(),
	}
}

func slideLink(links map[string]string, lang string) string {
	if link, ok := links[lang]; ok {
		return link
	}
	for key, link := range links {
		if strings.EqualFold(key, lang) {
			return link
		}
	}
	return ""
}

// publish resolves the history record for payload, writes it, then overwrites
// the current state of slot. Callers hold the slot lock.
func (b *Broadcaster) publish(ctx context.Context, slot string, payload Payload, logger *slog.Logger) (decision, error) {
	ctx, span := b.inst.tracer.Start(ctx, "broadcast.publish")
	defer span.End()

	prev, err := b.loadState(ctx, slot)
	if err != nil {
		logger.Warn("state lookup failed, treating as new slide", slogError(err))
		prev = nil
	}
	d := b.resolve(ctx, slot, prev, payload, logger)
	span.SetAttributes(
		attribute.String("rule", d.rule),
		attribute.Bool("duplicate", d.duplicate),
		attribute.String("message_id", d.messageID),
	)
	logger.Debug("identity resolved",
		slog.String("rule", d.rule),
		slog.Bool("duplicate", d.duplicate),
		slog.String("message_id", d.messageID))

	history, err := docstore.Encode(payload)
	if err != nil {
		return d, fmt.Errorf("%w: encode payload: %v", ErrPublish, err)
	}
	if d.merge {
		// Top-level fields are replaced whole; languages never mix old and new entries.
		err = b.docs.Patch(ctx, HistoryCollection(slot), d.messageID, history)
	} else {
		err = b.docs.Set(ctx, HistoryCollection(slot), d.messageID, history, false)
	}
	if err != nil {
		return d, fmt.Errorf("%w: history %s: %w", ErrPublish, d.messageID, err)
	}

	state, err := docstore.Encode(State{Payload: payload, LastMessageID: d.messageID, UpdatedAt: payload.Timestamp})
	if err != nil {
		return d, fmt.Errorf("%w: encode state: %v", ErrPublish, err)
	}
	if err := b.docs.Set(ctx, StateCollection, slot, state, false); err != nil {
		return d, fmt.Errorf("%w: state %s: %w", ErrPublish, slot, err)
	}
	return d, nil
}
