// ABOUTME: Maps in-flight request IDs to waiting HTTP responders.
// ABOUTME: Guarantees each responder is resolved exactly once across racing paths.

package tracker

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/tunnelgate/internal/envelope"
)

// Reason classifies why a pending request failed.
type Reason int

const (
	// ReasonDisconnect is the agent's tunnel closing mid-flight.
	ReasonDisconnect Reason = iota
	// ReasonWriteError is a failed frame write toward the agent.
	ReasonWriteError
	// ReasonTimeout is the per-request deadline expiring.
	ReasonTimeout
)

// status maps a failure reason to the synthetic HTTP response.
func (r Reason) status() (int, string) {
	switch r {
	case ReasonDisconnect:
		return http.StatusServiceUnavailable, "Client disconnected"
	case ReasonWriteError:
		return http.StatusInternalServerError, "Client error"
	case ReasonTimeout:
		return http.StatusGatewayTimeout, "Timeout waiting for client response"
	default:
		return http.StatusInternalServerError, "Client error"
	}
}

// Pending is broker-side bookkeeping for one request awaiting its
// correlated response envelope. Done is closed exactly once, by whichever
// of the response, disconnect, or timeout paths removes the entry first.
type Pending struct {
	ID       string
	AgentID  string
	Deadline time.Time

	responder http.ResponseWriter
	done      chan struct{}
}

// Done is closed when the responder has been written.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Tracker correlates request IDs with waiting HTTP responders. The
// response-arrival, agent-disconnect, and timeout paths race to resolve
// each entry; removal from the map under the lock decides the winner, and
// losers are silent no-ops.
type Tracker struct {
	mu      sync.Mutex
	pending map[string]*Pending
	seq     atomic.Uint64
	logger  *slog.Logger
}

// New creates an empty Tracker.
func New(logger *slog.Logger) *Tracker {
	return &Tracker{
		pending: make(map[string]*Pending),
		logger:  logger,
	}
}

// Open registers a responder under a freshly minted request ID and
// returns the entry. IDs combine wall-clock nanoseconds with a process
// counter so they stay unique under concurrency.
func (t *Tracker) Open(agentID string, responder http.ResponseWriter, timeout time.Duration) *Pending {
	p := &Pending{
		ID:        fmt.Sprintf("%d-%d", time.Now().UnixNano(), t.seq.Add(1)),
		AgentID:   agentID,
		Deadline:  time.Now().Add(timeout),
		responder: responder,
		done:      make(chan struct{}),
	}

	t.mu.Lock()
	t.pending[p.ID] = p
	t.mu.Unlock()

	return p
}

// Complete resolves the entry matching resp.RequestID by writing the
// envelope's status, headers, and body to the responder. Returns false
// when no entry matches; the caller logs and discards.
func (t *Tracker) Complete(resp *envelope.Response) bool {
	p, ok := t.take(resp.RequestID)
	if !ok {
		return false
	}

	header := p.responder.Header()
	for name, values := range resp.Headers {
		for _, v := range values {
			header.Add(name, v)
		}
	}
	p.responder.WriteHeader(resp.StatusCode)
	if len(resp.Body) > 0 {
		if _, err := p.responder.Write(resp.Body); err != nil {
			t.logger.Warn("writing response body to caller",
				"request_id", p.ID,
				"error", err,
			)
		}
	}
	close(p.done)

	t.logger.Debug("request completed",
		"request_id", p.ID,
		"agent_id", p.AgentID,
		"status_code", resp.StatusCode,
	)
	return true
}

// Fail resolves the entry with a synthetic failure response. Returns
// false when the entry was already resolved.
func (t *Tracker) Fail(requestID string, reason Reason) bool {
	p, ok := t.take(requestID)
	if !ok {
		return false
	}

	t.fail(p, reason)
	return true
}

// FailAgent fails every pending entry bound to the given agent. Returns
// the number of requests failed.
func (t *Tracker) FailAgent(agentID string) int {
	t.mu.Lock()
	var batch []*Pending
	for id, p := range t.pending {
		if p.AgentID == agentID {
			delete(t.pending, id)
			batch = append(batch, p)
		}
	}
	t.mu.Unlock()

	for _, p := range batch {
		t.fail(p, ReasonDisconnect)
	}
	return len(batch)
}

// Len reports the number of in-flight requests.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.pending)
}

// take removes and returns the entry for requestID. The remover owns the
// responder from here on.
func (t *Tracker) take(requestID string) (*Pending, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pending[requestID]
	if ok {
		delete(t.pending, requestID)
	}
	return p, ok
}

func (t *Tracker) fail(p *Pending, reason Reason) {
	code, message := reason.status()
	http.Error(p.responder, message, code)
	close(p.done)

	t.logger.Warn("request failed",
		"request_id", p.ID,
		"agent_id", p.AgentID,
		"status_code", code,
		"message", message,
	)
}
