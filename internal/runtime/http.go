package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/loqalabs/loqa-slidecast/internal/broadcast"
	"github.com/loqalabs/loqa-slidecast/internal/protocol"
)

const maxEventBytes = 256 << 10

// slideHandler is the broadcaster surface the HTTP ingest needs.
type slideHandler interface {
	Handle(ctx context.Context, evt protocol.SlideChangeEvent) (broadcast.Result, error)
}

func (r *Runtime) routes(slides slideHandler, metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metrics != nil && r.cfg.Telemetry.PrometheusBind == "" {
		mux.Handle("/metrics", metrics)
	}
	mux.Handle("POST /api/slides", r.handleSlides(slides))
	return mux
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// handleSlides accepts the same JSON as the ingest subject and answers with the
// broadcast acknowledgement.
func (r *Runtime) handleSlides(slides slideHandler) http.HandlerFunc {
	logger := r.logger.With(slog.String("component", "http_ingest"))
	return func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxEventBytes))
		if err != nil {
			status := http.StatusBadRequest
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			writeAck(w, status, protocol.BroadcastAck{Error: err.Error()})
			return
		}
		evt, err := protocol.DecodeSlideChangeEvent(body)
		if err != nil {
			writeAck(w, http.StatusBadRequest, protocol.BroadcastAck{Error: err.Error()})
			return
		}

		res, err := slides.Handle(req.Context(), evt)
		ack := res.Ack(err)
		ack.TraceID = evt.TraceID
		status := http.StatusOK
		switch {
		case err == nil:
		case errors.Is(err, broadcast.ErrNoPayload), errors.Is(err, broadcast.ErrNoLanguages):
			status = http.StatusUnprocessableEntity
		default:
			status = http.StatusInternalServerError
			logger.Error("slide broadcast failed", slog.String("course_slot", res.CourseSlot), slog.String("error", err.Error()))
		}
		writeAck(w, status, ack)
	}
}

func writeAck(w http.ResponseWriter, status int, ack protocol.BroadcastAck) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ack)
}
