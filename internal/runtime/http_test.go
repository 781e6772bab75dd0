package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-slidecast/internal/broadcast"
	"github.com/loqalabs/loqa-slidecast/internal/config"
	"github.com/loqalabs/loqa-slidecast/internal/protocol"
)

type stubSlides struct {
	err  error
	seen []protocol.SlideChangeEvent
}

func (s *stubSlides) Handle(ctx context.Context, evt protocol.SlideChangeEvent) (broadcast.Result, error) {
	s.seen = append(s.seen, evt)
	return broadcast.Result{CourseSlot: "current", MessageID: "m-1", Rule: broadcast.RuleNewSlide, Languages: evt.Languages}, s.err
}

func newTestRuntime() *Runtime {
	cfg := config.Default()
	cfg.Bus.Enabled = false
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func postSlides(t *testing.T, handler http.Handler, body string) (*httptest.ResponseRecorder, protocol.BroadcastAck) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/slides", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	var ack protocol.BroadcastAck
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack %q: %v", rec.Body.String(), err)
	}
	return rec, ack
}

func TestPostSlides(t *testing.T) {
	rt := newTestRuntime()
	slides := &stubSlides{}
	mux := rt.routes(slides, nil)

	rec, ack := postSlides(t, mux, `{"context":"notes","page_number":"2","languages":["en"],"trace_id":"abc"}`)
	if rec.Code != http.StatusOK || !ack.OK || ack.MessageID != "m-1" || ack.TraceID != "abc" {
		t.Fatalf("unexpected response %d %+v", rec.Code, ack)
	}
	if len(slides.seen) != 1 || slides.seen[0].PageNumber != "2" {
		t.Fatalf("unexpected events %+v", slides.seen)
	}
}

func TestPostSlidesStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		body string
		want int
	}{
		{name: "malformed json", body: `{"context":`, want: http.StatusBadRequest},
		{name: "invalid course id", body: `{"course_id":"a.b"}`, want: http.StatusBadRequest},
		{name: "no payload", err: broadcast.ErrNoPayload, body: `{"languages":["en"]}`, want: http.StatusUnprocessableEntity},
		{name: "no languages", err: broadcast.ErrNoLanguages, body: `{}`, want: http.StatusUnprocessableEntity},
		{name: "publish failure", err: errors.New("disk full"), body: `{"languages":["en"]}`, want: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux := newTestRuntime().routes(&stubSlides{err: tc.err}, nil)
			rec, ack := postSlides(t, mux, tc.body)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
			if ack.OK || ack.Error == "" {
				t.Fatalf("expected failed ack, got %+v", ack)
			}
		})
	}
}

func TestPostSlidesRejectsOtherMethods(t *testing.T) {
	mux := newTestRuntime().routes(&stubSlides{}, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/slides", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	rt := newTestRuntime()
	mux := rt.routes(&stubSlides{}, nil)

	get := func(path string) int {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}
	if code := get("/healthz"); code != http.StatusOK {
		t.Fatalf("healthz returned %d", code)
	}
	if code := get("/readyz"); code != http.StatusServiceUnavailable {
		t.Fatalf("readyz before start returned %d", code)
	}
	rt.ready.Store(true)
	if code := get("/readyz"); code != http.StatusOK {
		t.Fatalf("readyz after start returned %d", code)
	}
}

func TestMetricsMountedWithoutSeparateBind(t *testing.T) {
	rt := newTestRuntime()
	rt.cfg.Telemetry.PrometheusBind = ""
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics")) })
	mux := rt.routes(&stubSlides{}, metrics)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "# metrics" {
		t.Fatalf("unexpected metrics response %d %q", rec.Code, rec.Body.String())
	}
}
