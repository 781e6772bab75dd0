package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/loqalabs/loqa-slidecast/internal/docstore"
	"github.com/loqalabs/loqa-slidecast/internal/textnorm"
)

// Identity rule names, in evaluation order.
const (
	RuleFilenamePage = "filename_page"
	RuleFingerprint  = "fingerprint"
	RuleNewSlide     = "new_slide"
)

// slideIdentity is the part of a payload used to compare two events.
type slideIdentity struct {
	filename    string
	normalized  string
	page        string
	fingerprint string
}

func (p Payload) identity() slideIdentity {
	return slideIdentity{
		filename:    p.PPTFilename,
		normalized:  p.PPTFilenameNormalized,
		page:        p.PageNumber,
		fingerprint: p.ContextHash,
	}
}

func (id slideIdentity) hasCoordinates() bool {
	return (id.filename != "" || id.normalized != "") && id.page != ""
}

type identityRule struct {
	name  string
	match func(prev, cur slideIdentity) bool
}

// identityRules is evaluated top to bottom; the first match marks the event a
// duplicate of the previous one. No match means a new slide.
var identityRules = []identityRule{
	{name: RuleFilenamePage, match: sameFilenameAndPage},
	{name: RuleFingerprint, match: sameFingerprint},
}

func sameFilenameAndPage(prev, cur slideIdentity) bool {
	if !prev.hasCoordinates() || !cur.hasCoordinates() {
		return false
	}
	if prev.page != cur.page {
		return false
	}
	if prev.normalized != "" && cur.normalized != "" {
		return prev.normalized == cur.normalized
	}
	return prev.filename == cur.filename
}

// sameFingerprint ignores the empty-notes sentinel: two slides without notes
// are not the same slide.
func sameFingerprint(prev, cur slideIdentity) bool {
	return textnorm.IsContentFingerprint(prev.fingerprint) && prev.fingerprint == cur.fingerprint
}

// classify returns the name of the first matching rule and whether the event
// is a duplicate.
func classify(prev, cur slideIdentity) (string, bool) {
	for _, rule := range identityRules {
		if rule.match(prev, cur) {
			return rule.name, true
		}
	}
	return RuleNewSlide, false
}

var unsafeIDChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// deterministicID derives a history id from the fingerprint, or from the
// normalized filename and page when the notes are empty. It returns "" when
// neither is available.
func deterministicID(id slideIdentity) string {
	if textnorm.IsContentFingerprint(id.fingerprint) {
		return "ctx-" + id.fingerprint
	}
	if id.normalized != "" && id.page != "" {
		return "slide-" + unsafeIDChars.ReplaceAllString(id.normalized, "_") + "-" + unsafeIDChars.ReplaceAllString(id.page, "_")
	}
	return ""
}

// decision is the resolver outcome for one event.
type decision struct {
	rule      string
	duplicate bool
	messageID string
	// merge is true when an existing history record is updated in place.
	merge bool
}

// resolve decides whether cur repeats the slide in prev and which history
// record to write. Store failures degrade to a new slide.
func (b *Broadcaster) resolve(ctx context.Context, slot string, prev *State, cur Payload, logger *slog.Logger) decision {
	newSlide := func(rule string) decision {
		return decision{rule: rule, messageID: b.docs.NewID()}
	}
	if prev == nil {
		return newSlide(RuleNewSlide)
	}
	rule, duplicate := classify(prev.identity(), cur.identity())
	if !duplicate {
		return newSlide(rule)
	}
	if prev.LastMessageID != "" {
		return decision{rule: rule, duplicate: true, messageID: prev.LastMessageID, merge: true}
	}

	id, err := b.locateHistory(ctx, HistoryCollection(slot), cur.identity())
	if err != nil {
		logger.Warn("history lookup failed, treating as new slide", slog.String("rule", rule), slogError(err))
		return newSlide(RuleNewSlide)
	}
	if id != "" {
		return decision{rule: rule, duplicate: true, messageID: id, merge: true}
	}

	logger.Warn("duplicate slide without history record", slog.String("rule", rule))
	if id = deterministicID(cur.identity()); id == "" {
		id = b.docs.NewID()
	}
	return decision{rule: rule, duplicate: true, messageID: id}
}

// locateHistory finds the history record for id by deterministic id, then by
// fingerprint, then by normalized filename and page. It returns "" when no
// record matches.
func (b *Broadcaster) locateHistory(ctx context.Context, collection string, id slideIdentity) (string, error) {
	if docID := deterministicID(id); docID != "" {
		_, ok, err := b.docs.Get(ctx, collection, docID)
		if err != nil {
			return "", fmt.Errorf("get %s: %w", docID, err)
		}
		if ok {
			return docID, nil
		}
	}
	if textnorm.IsContentFingerprint(id.fingerprint) {
		docs, err := b.docs.Query(ctx, collection, docstore.Where{"context_hash": id.fingerprint}, 1)
		if err != nil {
			return "", err
		}
		if len(docs) > 0 {
			return docs[0].ID, nil
		}
	}
	if id.normalized != "" && id.page != "" {
		docs, err := b.docs.Query(ctx, collection, docstore.Where{
			"ppt_filename_normalized": id.normalized,
			"page_number":             id.page,
		}, 1)
		if err != nil {
			return "", err
		}
		if len(docs) > 0 {
			return docs[0].ID, nil
		}
	}
	return "", nil
}

// loadState reads the current state of slot. A missing document is (nil, nil).
func (b *Broadcaster) loadState(ctx context.Context, slot string) (*State, error) {
	fields, ok, err := b.docs.Get(ctx, StateCollection, slot)
	if err != nil || !ok {
		return nil, err
	}
	var st State
	if err := docstore.Decode(fields, &st); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", slot, err)
	}
	return &st, nil
}
