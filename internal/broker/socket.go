// ABOUTME: Tunnel listener: accepts agent sockets and runs their read loops.
// ABOUTME: Routes decoded response envelopes to the tracker; tears down on bad frames.

package broker

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/2389/tunnelgate/internal/agent"
	"github.com/2389/tunnelgate/internal/envelope"
	"github.com/2389/tunnelgate/internal/frame"
	"github.com/2389/tunnelgate/internal/metrics"
)

// acceptLoop accepts agent connections until the listener closes.
func (b *Broker) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			b.logger.Error("accepting agent connection", "error", err)
			continue
		}
		go b.handleAgentConn(conn)
	}
}

// handleAgentConn owns the read side of one agent socket from accept to
// teardown. Leaving for any reason unregisters the agent and fails its
// pending requests.
func (b *Broker) handleAgentConn(conn net.Conn) {
	c := b.registry.Register(conn)
	b.metrics.ConnectedAgents.Inc()

	defer func() {
		b.registry.Unregister(c.ID)
		b.metrics.ConnectedAgents.Dec()
		if failed := b.tracker.FailAgent(c.ID); failed > 0 {
			b.metrics.RequestsTotal.WithLabelValues(metrics.OutcomeDisconnect).Add(float64(failed))
			b.logger.Warn("failed pending requests for disconnected agent",
				"agent_id", c.ID,
				"count", failed,
			)
		}
	}()

	dec := frame.NewDecoder(b.config.MaxFrameBytes, func(payload []byte) {
		b.handleFrame(c, payload)
	})

	buf := make([]byte, 32*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if derr := dec.Consume(buf[:n]); derr != nil {
				b.metrics.FramesRejected.Inc()
				b.logger.Error("tearing down agent connection",
					"agent_id", c.ID,
					"error", derr,
				)
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				b.logger.Error("reading from agent", "agent_id", c.ID, "error", err)
			}
			return
		}
	}
}

// handleFrame decodes one frame payload and routes it. Malformed
// envelopes are dropped without affecting the socket.
func (b *Broker) handleFrame(c *agent.Connection, payload []byte) {
	env, err := envelope.Decode(payload)
	if err != nil {
		b.logger.Warn("dropping malformed envelope", "agent_id", c.ID, "error", err)
		return
	}

	switch e := env.(type) {
	case *envelope.Response:
		if b.tracker.Complete(e) {
			b.metrics.RequestsTotal.WithLabelValues(metrics.OutcomeCompleted).Inc()
			return
		}
		b.metrics.UnmatchedResponses.Inc()
		b.logger.Warn("response with no matching request",
			"agent_id", c.ID,
			"request_id", e.RequestID,
		)

	case *envelope.Request:
		b.logger.Warn("unexpected request envelope from agent",
			"agent_id", c.ID,
			"request_id", e.RequestID,
		)
	}
}
