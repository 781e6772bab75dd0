package broadcast

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-slidecast/internal/config"
	"github.com/loqalabs/loqa-slidecast/internal/docstore"
	"github.com/loqalabs/loqa-slidecast/internal/llm"
	"github.com/loqalabs/loqa-slidecast/internal/msgcache"
	"github.com/loqalabs/loqa-slidecast/internal/protocol"
	"github.com/loqalabs/loqa-slidecast/internal/tts"
)

type fakeGenerator struct {
	mu          sync.Mutex
	calls       map[string]int
	inputs      []llm.PresenterInput
	fail        map[string]bool
	delay       time.Duration
	slow        map[string]time.Duration
	inFlight    int
	maxInFlight int
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{calls: map[string]int{}, fail: map[string]bool{}, slow: map[string]time.Duration{}}
}

func (g *fakeGenerator) Message(ctx context.Context, in llm.PresenterInput) (string, error) {
	g.mu.Lock()
	g.calls[in.Language]++
	g.inputs = append(g.inputs, in)
	g.inFlight++
	if g.inFlight > g.maxInFlight {
		g.maxInFlight = g.inFlight
	}
	fail := g.fail[in.Language]
	delay := g.delay
	if d, ok := g.slow[in.Language]; ok {
		delay = d
	}
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.inFlight--
		g.mu.Unlock()
	}()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if fail {
		return "", errors.New("generator unavailable")
	}
	return "Hello class in " + in.Language, nil
}

func (g *fakeGenerator) callCount(lang string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[lang]
}

func (g *fakeGenerator) totalCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := 0
	for _, n := range g.calls {
		total += n
	}
	return total
}

type fakeSynth struct {
	mu     sync.Mutex
	calls  int
	voices []string
	fail   map[string]bool
	// hang never answers for these texts; Collect returns on context expiry.
	hang map[string]bool
}

func (s *fakeSynth) Synthesize(ctx context.Context, req tts.SynthRequest) (<-chan tts.SynthChunk, <-chan error) {
	s.mu.Lock()
	s.calls++
	s.voices = append(s.voices, req.Voice)
	fail := s.fail[req.Text]
	hang := s.hang[req.Text]
	s.mu.Unlock()

	if hang {
		return make(chan tts.SynthChunk), make(chan error)
	}
	chunks := make(chan tts.SynthChunk, 1)
	errs := make(chan error, 1)
	if fail {
		errs <- errors.New("voice unavailable")
	} else {
		chunks <- tts.SynthChunk{SessionID: req.SessionID, Audio: []byte("mp3:" + req.Text), Final: true}
	}
	close(chunks)
	close(errs)
	return chunks, errs
}

func (s *fakeSynth) failText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail == nil {
		s.fail = map[string]bool{}
	}
	s.fail[text] = true
}

func (s *fakeSynth) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	exists  int
	uploads int
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}, types: map[string]string{}}
}

func (b *fakeBlobs) Exists(ctx context.Context, name string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exists++
	_, ok := b.objects[name]
	return ok, nil
}

func (b *fakeBlobs) Upload(ctx context.Context, name string, data []byte, contentType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploads++
	b.objects[name] = bytes.Clone(data)
	b.types[name] = contentType
	return nil
}

func (b *fakeBlobs) PublicURL(name string) string {
	return "https://cdn.example.test/" + name
}

func (b *fakeBlobs) counts() (exists, uploads int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exists, b.uploads
}

// flakyDocs fails Get or Query for selected collections.
type flakyDocs struct {
	Documents
	failGet   func(collection string) bool
	failQuery bool
}

func (d flakyDocs) Get(ctx context.Context, collection, id string) (docstore.Fields, bool, error) {
	if d.failGet != nil && d.failGet(collection) {
		return nil, false, errors.New("store offline")
	}
	return d.Documents.Get(ctx, collection, id)
}

func (d flakyDocs) Query(ctx context.Context, collection string, where docstore.Where, limit int) ([]docstore.Document, error) {
	if d.failQuery {
		return nil, errors.New("store offline")
	}
	return d.Documents.Query(ctx, collection, where, limit)
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []protocol.BroadcastNotice
}

func (n *recordingNotifier) Notify(ctx context.Context, notice protocol.BroadcastNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openDocs(t *testing.T) *docstore.Store {
	t.Helper()
	docs, err := docstore.Open(context.Background(), config.DocStoreConfig{
		Path: filepath.Join(t.TempDir(), "slidecast.db"),
	}, discardLogger())
	if err != nil {
		t.Fatalf("open docstore: %v", err)
	}
	t.Cleanup(func() { _ = docs.Close() })
	return docs
}

type harness struct {
	b     *Broadcaster
	docs  *docstore.Store
	gen   *fakeGenerator
	synth *fakeSynth
	blobs *fakeBlobs
}

type harnessOption func(*Deps, *Options)

func withAudio(synth *fakeSynth, blobs *fakeBlobs) harnessOption {
	return func(d *Deps, _ *Options) {
		d.Synth = synth
		d.Blobs = blobs
	}
}

func withDocs(docs Documents) harnessOption {
	return func(d *Deps, _ *Options) { d.Docs = docs }
}

func withOptions(fn func(*Options)) harnessOption {
	return func(_ *Deps, o *Options) { fn(o) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	docs := openDocs(t)
	h := &harness{docs: docs, gen: newFakeGenerator()}
	cfg := config.Default()
	cfg.TTS.Voices = map[string]string{"zh": "nova"}
	deps := Deps{
		Docs:      docs,
		Cache:     msgcache.NewDocStore(docs),
		Generator: h.gen,
		Voices:    tts.NewVoiceSelector(cfg.TTS),
		Logger:    discardLogger(),
	}
	options := OptionsFromConfig(cfg)
	for _, opt := range opts {
		opt(&deps, &options)
	}
	if s, ok := deps.Synth.(*fakeSynth); ok {
		h.synth = s
	}
	if bl, ok := deps.Blobs.(*fakeBlobs); ok {
		h.blobs = bl
	}
	b, err := New(deps, options)
	if err != nil {
		t.Fatalf("new broadcaster: %v", err)
	}
	h.b = b
	return h
}

func (h *harness) handle(t *testing.T, evt protocol.SlideChangeEvent) Result {
	t.Helper()
	res, err := h.b.Handle(context.Background(), evt)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	return res
}

func (h *harness) history(t *testing.T, slot string) []docstore.Document {
	t.Helper()
	docs, err := h.docs.List(context.Background(), HistoryCollection(slot), 100)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	return docs
}

func (h *harness) state(t *testing.T, slot string) State {
	t.Helper()
	fields, ok, err := h.docs.Get(context.Background(), StateCollection, slot)
	if err != nil || !ok {
		t.Fatalf("state %s: ok=%v err=%v", slot, ok, err)
	}
	var st State
	if err := docstore.Decode(fields, &st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return st
}
