package msgcache

import (
	"context"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-slidecast/internal/docstore"
)

// DocStore keeps entries as documents in Collection, one per key.
type DocStore struct {
	docs  Documents
	clock func() time.Time
}

func NewDocStore(docs Documents) *DocStore {
	return &DocStore{docs: docs, clock: time.Now}
}

func (s *DocStore) Get(ctx context.Context, language, fingerprint string) (Entry, bool, error) {
	fields, ok, err := s.docs.Get(ctx, Collection, Key(language, fingerprint))
	if err != nil || !ok {
		return Entry{}, false, err
	}
	var entry Entry
	if err := docstore.Decode(fields, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("decode cache entry: %w", err)
	}
	if entry.Message == "" {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (s *DocStore) Put(ctx context.Context, entry Entry) error {
	entry.UpdatedAt = s.clock().UTC()
	fields, err := docstore.Encode(entry)
	if err != nil {
		return err
	}
	return s.docs.Set(ctx, Collection, Key(entry.LanguageCode, entry.ContextHash), fields, true)
}

func (s *DocStore) SetAudioURL(ctx context.Context, language, fingerprint, audioURL string) error {
	return s.docs.Set(ctx, Collection, Key(language, fingerprint), docstore.Fields{
		"audio_url":  audioURL,
		"updated_at": s.clock().UTC(),
	}, true)
}
