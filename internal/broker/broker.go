// ABOUTME: Broker orchestrator that coordinates the HTTP and tunnel listeners.
// ABOUTME: Wires the registry, tracker, and metrics together for one process.

package broker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/2389/tunnelgate/internal/agent"
	"github.com/2389/tunnelgate/internal/config"
	"github.com/2389/tunnelgate/internal/metrics"
	"github.com/2389/tunnelgate/internal/tracker"
)

// Broker accepts public HTTP requests on one listener and agent tunnels
// on another, shuttling each request to a connected agent and its
// response back to the original caller.
type Broker struct {
	config   *config.Config
	logger   *slog.Logger
	registry *agent.Registry
	tracker  *tracker.Tracker
	metrics  *metrics.Metrics

	httpServer *http.Server
}

// New creates a Broker from configuration. No sockets are opened until
// Run is called.
func New(cfg *config.Config, logger *slog.Logger) *Broker {
	return &Broker{
		config:   cfg,
		logger:   logger,
		registry: agent.NewRegistry(logger),
		tracker:  tracker.New(logger),
		metrics:  metrics.New(""),
	}
}

// Run binds both listeners and serves until ctx is cancelled or the HTTP
// server fails. Accept errors on the tunnel listener are logged and do
// not end Run. Bind failures are returned immediately so the caller can
// exit non-zero.
func (b *Broker) Run(ctx context.Context) error {
	httpLn, err := listen(b.config.Server.HTTP)
	if err != nil {
		return fmt.Errorf("binding HTTP listener: %w", err)
	}

	tunnelLn, err := listen(b.config.Server.Socket)
	if err != nil {
		httpLn.Close()
		return fmt.Errorf("binding tunnel listener: %w", err)
	}

	b.httpServer = &http.Server{Handler: b.routes()}

	errCh := make(chan error, 1)
	go func() {
		if err := b.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go b.acceptLoop(ctx, tunnelLn)

	b.logger.Info("broker listening",
		"http_addr", b.config.Server.HTTP.Addr(),
		"http_tls", b.config.Server.HTTP.SSL.Enabled,
		"tunnel_addr", b.config.Server.Socket.Addr(),
		"tunnel_tls", b.config.Server.Socket.SSL.Enabled,
	)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		tunnelLn.Close()
		return err
	}

	b.logger.Info("broker shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = b.httpServer.Shutdown(shutdownCtx)
	tunnelLn.Close()

	return nil
}

// routes builds the HTTP mux: health and metrics endpoints are reserved,
// everything else is proxied.
func (b *Broker) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", b.handleHealth)
	mux.HandleFunc("/health/ready", b.handleReady)
	if b.config.Metrics.Enabled {
		mux.Handle(b.config.Metrics.Path, b.metrics.Handler())
	}
	mux.HandleFunc("/", b.handleProxy)
	return mux
}

// listen opens one configured listener, TLS-wrapped when enabled.
func listen(lc config.ListenerConfig) (net.Listener, error) {
	if !lc.SSL.Enabled {
		return net.Listen("tcp", lc.Addr())
	}

	cert, err := tls.LoadX509KeyPair(lc.SSL.Cert, lc.SSL.Key)
	if err != nil {
		return nil, fmt.Errorf("loading TLS key pair: %w", err)
	}
	return tls.Listen("tcp", lc.Addr(), &tls.Config{
		Certificates: []tls.Certificate{cert},
	})
}
