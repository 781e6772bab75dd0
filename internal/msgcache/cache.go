// Package msgcache stores generated presenter messages per (language,
// fingerprint) so repeated slides reuse text and audio.
package msgcache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loqalabs/loqa-slidecast/internal/config"
	"github.com/loqalabs/loqa-slidecast/internal/docstore"
	"github.com/loqalabs/loqa-slidecast/internal/textnorm"
)

// Collection holds cache entries when the document store backend is used.
const Collection = "presentation_cache"

const keyVersion = "v1"

// Entry is one cached message.
type Entry struct {
	Message      string    `json:"message"`
	LanguageCode string    `json:"language_code"`
	Context      string    `json:"context"`
	ContextHash  string    `json:"context_hash"`
	AudioURL     string    `json:"audio_url,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store reads and writes cache entries. Absence is (Entry{}, false, nil).
type Store interface {
	Get(ctx context.Context, language, fingerprint string) (Entry, bool, error)
	Put(ctx context.Context, entry Entry) error
	SetAudioURL(ctx context.Context, language, fingerprint, audioURL string) error
}

// Language lowercases a language code; empty becomes "unknown".
func Language(language string) string {
	lang := strings.ToLower(strings.TrimSpace(language))
	if lang == "" {
		return "unknown"
	}
	return lang
}

// Key returns the cache key for (language, fingerprint).
func Key(language, fingerprint string) string {
	if fingerprint == "" {
		fingerprint = textnorm.DefaultFingerprint
	}
	return keyVersion + ":" + Language(language) + ":" + fingerprint
}

// NewEntry builds an entry for text generated from normalizedContext.
func NewEntry(language, normalizedContext, text string) Entry {
	return Entry{
		Message:      text,
		LanguageCode: Language(language),
		Context:      normalizedContext,
		ContextHash:  textnorm.Fingerprint(normalizedContext),
	}
}

// Documents is the subset of the document store the cache needs.
type Documents interface {
	Get(ctx context.Context, collection, id string) (docstore.Fields, bool, error)
	Set(ctx context.Context, collection, id string, fields docstore.Fields, merge bool) error
}

// New builds the backend selected by cfg.Backend.
func New(cfg config.CacheConfig, docs Documents) (Store, error) {
	switch cfg.Backend {
	case "", "docstore":
		return NewDocStore(docs), nil
	case "redis":
		return NewRedisStore(cfg.RedisURL, time.Duration(cfg.TTLHours)*time.Hour)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
