// ABOUTME: Agent-side tunnel loop: dials the broker and serves its requests.
// ABOUTME: Reconnects forever with jittered backoff; requests handled concurrently.

package tunnel

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/2389/tunnelgate/internal/config"
	"github.com/2389/tunnelgate/internal/envelope"
	"github.com/2389/tunnelgate/internal/frame"
)

// Client is the origin-side agent. It maintains one outbound tunnel to
// the broker, decodes request envelopes off it, performs the upstream
// HTTP calls, and writes response envelopes back.
type Client struct {
	config   *config.Config
	logger   *slog.Logger
	rules    []rewriteRule
	baseURL  *url.URL
	upstream upstreamDoer
}

// New creates a Client from configuration. The tunnel is not dialed
// until Run is called.
func New(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	rules, err := compileRules(cfg.Client.Proxy.RewriteRules)
	if err != nil {
		return nil, fmt.Errorf("compiling rewrite rules: %w", err)
	}

	baseURL, err := url.Parse(cfg.Client.Proxy.DefaultTarget)
	if err != nil {
		return nil, fmt.Errorf("parsing defaultTarget: %w", err)
	}
	if !baseURL.IsAbs() {
		return nil, fmt.Errorf("defaultTarget %q must be an absolute URL", cfg.Client.Proxy.DefaultTarget)
	}

	return &Client{
		config:   cfg,
		logger:   logger,
		rules:    rules,
		baseURL:  baseURL,
		upstream: newUpstream(cfg),
	}, nil
}

// Run dials the broker and serves the tunnel until ctx is cancelled.
// Connection loss and dial failures are retried forever with jittered
// backoff seeded from the configured reconnection delay.
func (c *Client) Run(ctx context.Context) error {
	b := &backoff.Backoff{
		Min:    c.config.ReconnectDelay(),
		Max:    10 * c.config.ReconnectDelay(),
		Jitter: true,
	}

	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d := b.Duration()
			c.logger.Warn("connecting to broker failed",
				"addr", c.config.Client.Server.Addr(),
				"error", err,
				"retry_in", d,
			)
			if !sleep(ctx, d) {
				return nil
			}
			continue
		}

		b.Reset()
		c.logger.Info("connected to broker", "addr", c.config.Client.Server.Addr())

		c.serve(ctx, conn)

		if ctx.Err() != nil {
			return nil
		}

		d := b.Duration()
		c.logger.Warn("connection lost, reconnecting", "retry_in", d)
		if !sleep(ctx, d) {
			return nil
		}
	}
}

// sleep waits for d or until ctx is done. Reports whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// dial opens the tunnel socket, TLS-wrapped when configured.
func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	addr := c.config.Client.Server.Addr()
	dialer := &net.Dialer{Timeout: 10 * time.Second}

	ssl := c.config.Client.Server.SSL
	if !ssl.Enabled {
		return dialer.DialContext(ctx, "tcp", addr)
	}

	tlsConfig := &tls.Config{
		InsecureSkipVerify: !ssl.RejectUnauthorized,
	}
	if ssl.CA != "" {
		caCert, err := os.ReadFile(ssl.CA)
		if err != nil {
			return nil, fmt.Errorf("reading CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("no certificates parsed from %s", ssl.CA)
		}
		tlsConfig.RootCAs = pool
	}

	tlsDialer := &tls.Dialer{NetDialer: dialer, Config: tlsConfig}
	return tlsDialer.DialContext(ctx, "tcp", addr)
}

// session is one established tunnel connection. Responses from
// concurrent request handlers serialize on the send lock so frames
// never interleave.
type session struct {
	conn   net.Conn
	sendMu sync.Mutex
}

func (s *session) send(payload []byte) error {
	framed, err := frame.Encode(payload)
	if err != nil {
		return err
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	_, err = s.conn.Write(framed)
	return err
}

// serve runs the read side of one connection until EOF, a read error, or
// an unrecoverable framing error. In-flight handlers keep running; their
// responses are dropped once the socket is gone.
func (c *Client) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	// Unblock the read when the process is shutting down.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sess := &session{conn: conn}

	dec := frame.NewDecoder(c.config.MaxFrameBytes, func(payload []byte) {
		env, err := envelope.Decode(payload)
		if err != nil {
			c.logger.Warn("dropping malformed envelope", "error", err)
			return
		}

		req, ok := env.(*envelope.Request)
		if !ok {
			c.logger.Warn("unexpected envelope type from broker")
			return
		}

		go c.handleRequest(ctx, sess, req)
	})

	buf := make([]byte, 32*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if derr := dec.Consume(buf[:n]); derr != nil {
				c.logger.Error("tearing down tunnel", "error", derr)
				return
			}
		}
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("tunnel read ended", "error", err)
			}
			return
		}
	}
}

// handleRequest performs one upstream call and ships the response
// envelope back. A dead socket just drops the response; the broker has
// already failed the request on its side.
func (c *Client) handleRequest(ctx context.Context, sess *session, req *envelope.Request) {
	resp := c.perform(ctx, req)

	payload, err := envelope.EncodeResponse(resp)
	if err != nil {
		c.logger.Error("encoding response envelope", "request_id", req.RequestID, "error", err)
		return
	}

	if err := sess.send(payload); err != nil {
		c.logger.Warn("dropping response, tunnel write failed",
			"request_id", req.RequestID,
			"error", err,
		)
	}
}

// resolveTarget turns the envelope URL into an absolute upstream URL:
// relative URLs resolve against defaultTarget, then rewrite rules apply.
func (c *Client) resolveTarget(raw string) string {
	target := raw

	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		ref, err := url.Parse(target)
		if err != nil {
			c.logger.Warn("unparseable request url", "url", raw, "error", err)
		} else {
			target = c.baseURL.ResolveReference(ref).String()
			c.logger.Debug("relative url resolved", "relative", raw, "absolute", target)
		}
	}

	rewritten := applyRules(c.rules, target)
	if rewritten != target {
		c.logger.Debug("url rewritten", "original", target, "rewritten", rewritten)
	}
	return rewritten
}
