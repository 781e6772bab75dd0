package natsserver

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-slidecast/internal/config"
	"github.com/nats-io/nats-server/v2/server"
)

const defaultReadyTimeout = 5 * time.Second

// EmbeddedServer wraps a NATS server for single-node classrooms that do not
// run their own broker. JetStream is enabled so the broadcast notice stream
// survives restarts under StoreDir.
type EmbeddedServer struct {
	ns  *server.Server
	log *slog.Logger
}

// Start returns (nil, nil) when the bus is external or disabled.
func Start(cfg config.BusConfig, log *slog.Logger) (*EmbeddedServer, error) {
	if !cfg.Enabled || !cfg.Embedded {
		return nil, nil
	}

	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	ns, err := server.NewServer(&server.Options{
		ServerName: "slidecast-embedded",
		Host:       host,
		Port:       cfg.Port,
		JetStream:  true,
		StoreDir:   cfg.StoreDir,
		NoSigs:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}

	go ns.Start()

	wait := config.Timeout(cfg.ConnectTimeout, defaultReadyTimeout)
	if wait < defaultReadyTimeout {
		wait = defaultReadyTimeout
	}
	if !ns.ReadyForConnections(wait) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server not ready after %s", wait)
	}

	log.Info("embedded NATS server started",
		slog.String("url", ns.ClientURL()),
		slog.String("store_dir", cfg.StoreDir))

	return &EmbeddedServer{ns: ns, log: log}, nil
}

// ClientURL is the URL local clients connect to. With port -1 it carries the
// port the server actually bound.
func (e *EmbeddedServer) ClientURL() string {
	return e.ns.ClientURL()
}

func (e *EmbeddedServer) Shutdown() {
	if e == nil || e.ns == nil {
		return
	}
	e.log.Info("shutting down embedded NATS server")
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
