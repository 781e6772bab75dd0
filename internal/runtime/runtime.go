package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-slidecast/internal/blob"
	"github.com/loqalabs/loqa-slidecast/internal/broadcast"
	"github.com/loqalabs/loqa-slidecast/internal/bus"
	"github.com/loqalabs/loqa-slidecast/internal/config"
	"github.com/loqalabs/loqa-slidecast/internal/docstore"
	"github.com/loqalabs/loqa-slidecast/internal/ingest"
	"github.com/loqalabs/loqa-slidecast/internal/llm"
	"github.com/loqalabs/loqa-slidecast/internal/msgcache"
	"github.com/loqalabs/loqa-slidecast/internal/natsserver"
	"github.com/loqalabs/loqa-slidecast/internal/protocol"
	"github.com/loqalabs/loqa-slidecast/internal/tts"
)

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	telemetry     *telemetry
	docs          *docstore.Store
	cacheCloser   io.Closer
	embedded      *natsserver.EmbeddedServer
	bus           *bus.Client
	ingest        *ingest.Service
	broadcaster   *broadcast.Broadcaster
	ready         atomic.Bool
	wg            sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start wires every component, serves HTTP and blocks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetry = tel
	defer r.close()

	if err := r.startCore(ctx); err != nil {
		return err
	}
	if err := r.startBus(ctx); err != nil {
		return err
	}

	mux := r.routes(r.broadcaster, tel.metrics)
	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if bind := r.cfg.Telemetry.PrometheusBind; bind != "" && tel.metrics != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", tel.metrics)
		r.metricsServer = &http.Server{Addr: bind, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}
		r.serve(r.metricsServer, "metrics")
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.Bool("audio", r.broadcaster.AudioEnabled()),
		slog.Bool("bus", r.bus != nil))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()
	return nil
}

// startCore opens storage and builds the broadcaster with its backends.
func (r *Runtime) startCore(ctx context.Context) error {
	docs, err := docstore.Open(ctx, r.cfg.DocStore, r.logger)
	if err != nil {
		return fmt.Errorf("open document store: %w", err)
	}
	r.docs = docs

	cache, err := msgcache.New(r.cfg.Cache, docs)
	if err != nil {
		return fmt.Errorf("create message cache: %w", err)
	}
	if closer, ok := cache.(io.Closer); ok {
		r.cacheCloser = closer
	}

	gen, err := llm.New(ctx, r.cfg.LLM)
	if err != nil {
		return fmt.Errorf("create llm backend: %w", err)
	}

	var synth tts.Synthesizer
	if r.cfg.TTS.Enabled {
		if synth, err = tts.New(r.cfg.TTS); err != nil {
			return fmt.Errorf("create tts backend: %w", err)
		}
	}

	blobs, err := blob.New(r.cfg.Blob)
	if err != nil {
		return fmt.Errorf("create blob store: %w", err)
	}

	deps := broadcast.Deps{
		Docs:      docs,
		Cache:     cache,
		Generator: llm.NewPresenter(gen, r.cfg.LLM),
		Synth:     synth,
		Voices:    tts.NewVoiceSelector(r.cfg.TTS),
		Blobs:     blobs,
		Logger:    r.logger,
	}
	if r.telemetry != nil {
		deps.MeterProvider = r.telemetry.meterProvider
		deps.TracerProvider = r.telemetry.tracerProvider
	}
	r.broadcaster, err = broadcast.New(deps, broadcast.OptionsFromConfig(r.cfg))
	if err != nil {
		return err
	}
	r.logger.Info("broadcaster ready",
		slog.String("llm_mode", r.cfg.LLM.Mode),
		slog.String("tts_mode", r.cfg.TTS.Mode),
		slog.String("blob_mode", r.cfg.Blob.Mode),
		slog.String("cache_backend", r.cfg.Cache.Backend))
	return nil
}

// startBus brings up NATS, the broadcast notifier and the ingest subscriber.
func (r *Runtime) startBus(ctx context.Context) error {
	if !r.cfg.Bus.Enabled {
		return nil
	}
	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return err
	}
	r.embedded = embedded

	busCfg := r.cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return err
	}
	r.bus = client

	persistent := false
	if stream := r.cfg.Bus.NoticeStream; stream != "" {
		if err := client.EnsureLastValueStream(stream, []string{protocol.SubjectBroadcastPrefix + ".>"}); err != nil {
			r.logger.Warn("notice stream unavailable, using core publish", slog.String("error", err.Error()))
		} else {
			persistent = true
		}
	}
	r.broadcaster.SetNotifier(broadcast.NewNATSNotifier(client, persistent))

	r.ingest = ingest.NewService(ctx, r.cfg.Ingest, client, r.broadcaster, r.logger)
	return r.ingest.Start()
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("server", name), slog.String("error", err.Error()))
		}
	}()
}

// close releases components in reverse start order.
func (r *Runtime) close() {
	if r.ingest != nil {
		r.ingest.Close()
	}
	r.bus.Close()
	r.embedded.Shutdown()
	var errs []error
	if r.cacheCloser != nil {
		errs = append(errs, r.cacheCloser.Close())
	}
	if r.docs != nil {
		errs = append(errs, r.docs.Close())
	}
	if r.telemetry != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, r.telemetry.shutdown(shutdownCtx))
		cancel()
	}
	if err := errors.Join(errs...); err != nil {
		r.logger.Error("shutdown error", slog.String("error", err.Error()))
	}
}

func (r *Runtime) healthy() bool {
	if !r.ready.Load() {
		return false
	}
	if r.cfg.Bus.Enabled && !r.bus.Healthy() {
		return false
	}
	return r.ingest == nil || r.ingest.Healthy()
}
