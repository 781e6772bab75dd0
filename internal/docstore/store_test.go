package docstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-slidecast/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.DocStoreConfig{Path: filepath.Join(t.TempDir(), "docs.db")}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open doc store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetMissing(t *testing.T) {
	s := openStore(t)
	fields, ok, err := s.Get(context.Background(), "courses", "nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok || fields != nil {
		t.Fatalf("expected absent document, got %v", fields)
	}
}

func TestSetReplaceAndMerge(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	coll := Path("presentation_broadcast", "c1", "messages")

	err := s.Set(ctx, coll, "m1", Fields{
		"page_number": "3",
		"languages": map[string]any{
			"en": map[string]any{"text": "hello", "audio_url": "https://a/en.mp3"},
			"fr": map[string]any{"text": "bonjour"},
		},
	}, false)
	if err != nil {
		t.Fatalf("set: %v", err)
	}

	err = s.Set(ctx, coll, "m1", Fields{
		"languages": map[string]any{
			"en": map[string]any{"text": "hello again"},
		},
	}, true)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}

	got, ok, err := s.Get(ctx, coll, "m1")
	if err != nil || !ok {
		t.Fatalf("get after merge: ok=%v err=%v", ok, err)
	}
	if got["page_number"] != "3" {
		t.Fatalf("merge dropped top-level field: %v", got)
	}
	langs := got["languages"].(map[string]any)
	en := langs["en"].(map[string]any)
	if en["text"] != "hello again" || en["audio_url"] != "https://a/en.mp3" {
		t.Fatalf("nested merge wrong: %v", en)
	}
	if _, ok := langs["fr"]; !ok {
		t.Fatalf("merge dropped sibling language: %v", langs)
	}

	if err := s.Set(ctx, coll, "m1", Fields{"page_number": "4"}, false); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, _, _ = s.Get(ctx, coll, "m1")
	if _, ok := got["languages"]; ok {
		t.Fatalf("replace should drop old fields: %v", got)
	}
}

func TestQueryOrdersByUpdate(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		s.clock = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		hash := "abc123abc123"
		if id == "b" {
			hash = "ffffffffffff"
		}
		if err := s.Set(ctx, "history", id, Fields{"context_hash": hash, "meta": map[string]any{"page": i}}, false); err != nil {
			t.Fatalf("set %s: %v", id, err)
		}
	}

	docs, err := s.Query(ctx, "history", Where{"context_hash": "abc123abc123"}, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(docs))
	}
	if docs[0].ID != "c" || docs[1].ID != "a" {
		t.Fatalf("expected newest first, got %s,%s", docs[0].ID, docs[1].ID)
	}

	nested, err := s.Query(ctx, "history", Where{"meta.page": 1}, 10)
	if err != nil {
		t.Fatalf("nested query: %v", err)
	}
	if len(nested) != 1 || nested[0].ID != "b" {
		t.Fatalf("nested query mismatch: %+v", nested)
	}

	if _, err := s.Query(ctx, "history", Where{"x') OR 1=1 --": "v"}, 1); err == nil {
		t.Fatal("expected invalid field path error")
	}
	if _, err := s.Query(ctx, "history", nil, 1); err == nil {
		t.Fatal("expected error for a query without filters")
	}
}

func TestQueryMatchesAllFilters(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	coll := Path("presentation_broadcast", "c1", "messages")
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	// The oldest record is the only match and sits behind many newer ones.
	for i := 1; i <= 40; i++ {
		s.clock = func() time.Time { return base.Add(time.Duration(i) * time.Second) }
		deck := "lecture"
		if i%2 == 0 {
			deck = "seminar"
		}
		err := s.Set(ctx, coll, fmt.Sprintf("rec-%d", i), Fields{
			"ppt_filename_normalized": deck,
			"page_number":             fmt.Sprint((i + 1) / 2),
		}, false)
		if err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	docs, err := s.Query(ctx, coll, Where{"ppt_filename_normalized": "lecture", "page_number": "1"}, 1)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "rec-1" {
		t.Fatalf("expected rec-1, got %+v", docs)
	}
}

func TestPatchReplacesTopLevelFields(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	coll := Path("presentation_broadcast", "c1", "messages")

	err := s.Set(ctx, coll, "m1", Fields{
		"page_number": "3",
		"languages": map[string]any{
			"en": map[string]any{"text": "hello", "audio_url": "https://a/en.mp3"},
			"fr": map[string]any{"text": "bonjour"},
		},
	}, false)
	if err != nil {
		t.Fatalf("set: %v", err)
	}

	err = s.Patch(ctx, coll, "m1", Fields{
		"languages": map[string]any{
			"en": map[string]any{"text": "hello again"},
		},
	})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}

	got, ok, err := s.Get(ctx, coll, "m1")
	if err != nil || !ok {
		t.Fatalf("get after patch: ok=%v err=%v", ok, err)
	}
	if got["page_number"] != "3" {
		t.Fatalf("patch dropped an untouched field: %v", got)
	}
	langs := got["languages"].(map[string]any)
	if _, ok := langs["fr"]; ok {
		t.Fatalf("patch should replace the languages map whole: %v", langs)
	}
	en := langs["en"].(map[string]any)
	if _, ok := en["audio_url"]; ok || en["text"] != "hello again" {
		t.Fatalf("stale nested value survived: %v", en)
	}

	if err := s.Patch(ctx, coll, "m2", Fields{"page_number": "9"}); err != nil {
		t.Fatalf("patch missing document: %v", err)
	}
	if got, ok, _ := s.Get(ctx, coll, "m2"); !ok || got["page_number"] != "9" {
		t.Fatalf("patch should create a missing document, got %v", got)
	}
}

func TestEncodeDecode(t *testing.T) {
	type entry struct {
		Message string `json:"message"`
		Hash    string `json:"context_hash"`
	}
	fields, err := Encode(entry{Message: "hi", Hash: "default"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if fields["context_hash"] != "default" {
		t.Fatalf("unexpected fields %v", fields)
	}
	var back entry
	if err := Decode(fields, &back); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.Message != "hi" {
		t.Fatalf("unexpected decode %+v", back)
	}
}

func TestNewIDUnique(t *testing.T) {
	s := openStore(t)
	if a, b := s.NewID(), s.NewID(); a == "" || a == b {
		t.Fatalf("expected distinct ids, got %q %q", a, b)
	}
}
