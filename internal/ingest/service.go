// Package ingest consumes slide change events from the bus and drives the
// broadcaster, replying with an acknowledgement when the sender asked for one.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-slidecast/internal/broadcast"
	"github.com/loqalabs/loqa-slidecast/internal/config"
	"github.com/loqalabs/loqa-slidecast/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Handler processes one validated event.
type Handler interface {
	Handle(ctx context.Context, evt protocol.SlideChangeEvent) (broadcast.Result, error)
}

// Subscriber is the bus surface the service needs.
type Subscriber interface {
	QueueSubscribe(subject, queue string, handler nats.MsgHandler) (*nats.Subscription, error)
}

type Service struct {
	cfg     config.IngestConfig
	bus     Subscriber
	handler Handler
	logger  *slog.Logger
	timeout time.Duration
	sub     *nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
}

func NewService(parent context.Context, cfg config.IngestConfig, sub Subscriber, handler Handler, logger *slog.Logger) *Service {
	if cfg.Subject == "" {
		cfg.Subject = protocol.SubjectSlideChanged
	}
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:     cfg,
		bus:     sub,
		handler: handler,
		logger:  logger.With(slog.String("component", "ingest")),
		timeout: config.Timeout(cfg.TimeoutMS, 2*time.Minute),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.QueueSubscribe(s.cfg.Subject, s.cfg.Queue, s.handleMessage)
	if err != nil {
		return err
	}
	s.sub = sub
	s.logger.Info("ingest subscribed", slog.String("subject", s.cfg.Subject), slog.String("queue", s.cfg.Queue))
	return nil
}

// Close stops the subscription and waits for in-flight events.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
	s.cancel()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || (s.sub != nil && s.sub.IsValid())
}

func (s *Service) handleMessage(msg *nats.Msg) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		ack := s.Process(s.ctx, msg.Data)
		if msg.Reply == "" {
			return
		}
		if err := respondJSON(msg, ack); err != nil {
			s.logger.Warn("ingest failed to reply", slogError(err))
		}
	}()
}

// Process decodes, validates and handles one raw event.
func (s *Service) Process(ctx context.Context, data []byte) protocol.BroadcastAck {
	evt, err := protocol.DecodeSlideChangeEvent(data)
	if err != nil {
		s.logger.Warn("ingest rejected event", slogError(err))
		return protocol.BroadcastAck{Error: err.Error()}
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.handler.Handle(ctx, evt)
	ack := res.Ack(err)
	ack.TraceID = evt.TraceID
	if err != nil && !errors.Is(err, broadcast.ErrNoPayload) && !errors.Is(err, broadcast.ErrNoLanguages) {
		s.logger.Error("ingest broadcast failed", slog.String("course_slot", res.CourseSlot), slogError(err))
	}
	return ack
}

func respondJSON(msg *nats.Msg, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return msg.Respond(data)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
