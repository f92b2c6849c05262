// ABOUTME: HTTP front-end: proxies public requests through a connected agent.
// ABOUTME: Also serves the health, readiness, and agent listing endpoints.

package broker

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/2389/tunnelgate/internal/agent"
	"github.com/2389/tunnelgate/internal/envelope"
	"github.com/2389/tunnelgate/internal/metrics"
	"github.com/2389/tunnelgate/internal/tracker"
)

// handleProxy services one public HTTP request: pick an agent, ship the
// request over its tunnel, and block until the tracker resolves it.
func (b *Broker) handleProxy(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	conn, err := b.registry.Pick()
	if errors.Is(err, agent.ErrNoAgents) {
		b.metrics.RequestsTotal.WithLabelValues(metrics.OutcomeNoAgents).Inc()
		b.logger.Warn("no agents available", "method", r.Method, "url", r.URL.RequestURI())
		http.Error(w, "No clients available", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		b.logger.Error("reading request body", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	pending := b.tracker.Open(conn.ID, w, b.config.RequestTimeout())

	payload, err := envelope.EncodeRequest(&envelope.Request{
		ClientID:  conn.ID,
		RequestID: pending.ID,
		Method:    r.Method,
		URL:       r.URL.RequestURI(),
		Headers:   envelope.Header(r.Header),
		Body:      body,
	})
	if err != nil {
		b.logger.Error("encoding request envelope", "request_id", pending.ID, "error", err)
		b.tracker.Fail(pending.ID, tracker.ReasonWriteError)
		b.metrics.RequestsTotal.WithLabelValues(metrics.OutcomeWriteError).Inc()
		return
	}

	if err := b.registry.Send(conn.ID, payload); err != nil {
		b.logger.Error("forwarding request to agent",
			"request_id", pending.ID,
			"agent_id", conn.ID,
			"error", err,
		)
		b.tracker.Fail(pending.ID, tracker.ReasonWriteError)
		b.metrics.RequestsTotal.WithLabelValues(metrics.OutcomeWriteError).Inc()
		return
	}

	b.logger.Debug("request dispatched",
		"request_id", pending.ID,
		"agent_id", conn.ID,
		"method", r.Method,
		"url", r.URL.RequestURI(),
	)

	timer := time.NewTimer(b.config.RequestTimeout())
	defer timer.Stop()

	select {
	case <-pending.Done():
	case <-timer.C:
		if b.tracker.Fail(pending.ID, tracker.ReasonTimeout) {
			b.metrics.RequestsTotal.WithLabelValues(metrics.OutcomeTimeout).Inc()
		} else {
			// Lost the race to another resolver; wait for its write to land
			// before the responder goes out of scope.
			<-pending.Done()
		}
	}

	b.metrics.RequestDuration.Observe(time.Since(start).Seconds())
}

// handleHealth reports process liveness.
func (b *Broker) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleReady reports readiness to proxy: 503 until at least one agent
// is connected. The body lists connected agents for the CLI.
func (b *Broker) handleReady(w http.ResponseWriter, _ *http.Request) {
	agents := b.registry.List()

	status := http.StatusOK
	state := "ready"
	if len(agents) == 0 {
		status = http.StatusServiceUnavailable
		state = "no agents connected"
	}

	writeJSON(w, status, map[string]any{
		"status":   state,
		"agents":   agents,
		"inflight": b.tracker.Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
