package blob

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/loqalabs/loqa-slidecast/internal/config"
)

func TestNewNoneIsNil(t *testing.T) {
	store, err := New(config.BlobConfig{Mode: "none"})
	if err != nil || store != nil {
		t.Fatalf("expected nil store, got %v err=%v", store, err)
	}
	if _, err := New(config.BlobConfig{Mode: "tape"}); err == nil {
		t.Fatal("expected unknown mode error")
	}
}

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir(), "https://cdn.example.com/audio/")
	if err != nil {
		t.Fatalf("new local store: %v", err)
	}
	name := "presentation_audio/zh-cn/abc123abc123.mp3"

	ok, err := store.Exists(ctx, name)
	if err != nil || ok {
		t.Fatalf("expected missing object, ok=%v err=%v", ok, err)
	}
	if err := store.Upload(ctx, name, []byte("mp3"), "audio/mpeg"); err != nil {
		t.Fatalf("upload: %v", err)
	}
	ok, err = store.Exists(ctx, name)
	if err != nil || !ok {
		t.Fatalf("expected object after upload, ok=%v err=%v", ok, err)
	}
	if got := store.PublicURL(name); got != "https://cdn.example.com/audio/presentation_audio/zh-cn/abc123abc123.mp3" {
		t.Fatalf("unexpected public url %q", got)
	}
}

func TestNormalizeName(t *testing.T) {
	if got := NormalizeName(`\audio//en\x.mp3`); got != "audio/en/x.mp3" {
		t.Fatalf("unexpected name %q", got)
	}
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
	types   map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodHead:
		if _, ok := f.objects[r.URL.Path]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = string(body)
		f.types[r.URL.Path] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3StoreAgainstFakeEndpoint(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{}, types: map[string]string{}}
	server := httptest.NewServer(fake)
	defer server.Close()

	store, err := NewS3Store(config.BlobConfig{
		Bucket:          "decks",
		Region:          "us-east-1",
		Endpoint:        server.URL,
		PathStyle:       true,
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
	})
	if err != nil {
		t.Fatalf("new s3 store: %v", err)
	}
	ctx := context.Background()
	name := "presentation_audio/en/abc123abc123.mp3"

	ok, err := store.Exists(ctx, name)
	if err != nil || ok {
		t.Fatalf("expected missing object, ok=%v err=%v", ok, err)
	}
	if err := store.Upload(ctx, name, []byte("ID3audio"), "audio/mpeg"); err != nil {
		t.Fatalf("upload: %v", err)
	}
	key := "/decks/" + name
	if fake.objects[key] != "ID3audio" || fake.types[key] != "audio/mpeg" {
		t.Fatalf("unexpected stored object %q type %q", fake.objects[key], fake.types[key])
	}
	ok, err = store.Exists(ctx, name)
	if err != nil || !ok {
		t.Fatalf("expected object after upload, ok=%v err=%v", ok, err)
	}
	if got := store.PublicURL(name); got != server.URL+"/decks/"+name {
		t.Fatalf("unexpected public url %q", got)
	}
}

func TestS3PublicURL(t *testing.T) {
	cases := []struct {
		cfg  config.BlobConfig
		want string
	}{
		{config.BlobConfig{Bucket: "b", Region: "eu-west-1"}, "https://b.s3.eu-west-1.amazonaws.com/a/x y.mp3"},
		{config.BlobConfig{Bucket: "b", Region: "auto", Endpoint: "r2.example.com"}, "https://b.r2.example.com/a/x y.mp3"},
		{config.BlobConfig{Bucket: "b", Region: "auto", PublicBaseURL: "https://media.example.com/"}, "https://media.example.com/a/x y.mp3"},
	}
	for _, tc := range cases {
		store, err := NewS3Store(tc.cfg)
		if err != nil {
			t.Fatalf("new s3 store: %v", err)
		}
		want := strings.ReplaceAll(tc.want, " ", "%20")
		if got := store.PublicURL("a/x y.mp3"); got != want {
			t.Fatalf("PublicURL = %q, want %q", got, want)
		}
	}
}
