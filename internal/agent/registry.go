// ABOUTME: Tracks connected agents and selects one for each new request.
// ABOUTME: Round-robin pick over insertion order; unregister closes the socket.

package agent

import (
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"
)

// ErrNoAgents indicates no agent is currently connected.
var ErrNoAgents = errors.New("no agents connected")

// ErrAgentNotFound indicates the specified agent is not registered.
var ErrAgentNotFound = errors.New("agent not found")

// ErrWriteFailed indicates a frame write to an agent's socket failed.
// The agent is unregistered as a side effect.
var ErrWriteFailed = errors.New("agent write failed")

// Registry coordinates all connected agents. Pick hands out agents
// round-robin over insertion order, which keeps load fair over time
// without tracking per-agent in-flight counts.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Connection
	order  []string
	next   int
	logger *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		agents: make(map[string]*Connection),
		logger: logger,
	}
}

// Register wraps an accepted socket in a Connection under a freshly
// minted agent ID and adds it to the rotation.
func (r *Registry) Register(conn net.Conn) *Connection {
	agentID := uuid.New().String()
	c := NewConnection(agentID, conn)

	r.mu.Lock()
	r.agents[agentID] = c
	r.order = append(r.order, agentID)
	r.mu.Unlock()

	r.logger.Info("agent connected",
		"agent_id", agentID,
		"remote_addr", c.RemoteAddr(),
		"total_agents", r.Count(),
	)
	return c
}

// Unregister removes an agent and closes its socket. Unknown IDs are a
// no-op, so the disconnect and write-failure paths can both call it.
func (r *Registry) Unregister(agentID string) {
	r.mu.Lock()
	c, exists := r.agents[agentID]
	if exists {
		delete(r.agents, agentID)
		for i, id := range r.order {
			if id == agentID {
				r.order = append(r.order[:i], r.order[i+1:]...)
				if r.next > i {
					r.next--
				}
				break
			}
		}
	}
	r.mu.Unlock()

	if exists {
		c.Close()
		r.logger.Info("agent disconnected",
			"agent_id", agentID,
			"total_agents", r.Count(),
		)
	}
}

// Pick returns the next agent in the rotation, or ErrNoAgents when the
// registry is empty.
func (r *Registry) Pick() (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.order) == 0 {
		return nil, ErrNoAgents
	}

	if r.next >= len(r.order) {
		r.next = 0
	}
	c := r.agents[r.order[r.next]]
	r.next++
	return c, nil
}

// Send frames payload and writes it to the identified agent. A write
// error unregisters the agent and is reported as ErrWriteFailed.
func (r *Registry) Send(agentID string, payload []byte) error {
	r.mu.RLock()
	c, ok := r.agents[agentID]
	r.mu.RUnlock()

	if !ok {
		return ErrAgentNotFound
	}

	if err := c.Send(payload); err != nil {
		r.logger.Error("agent write failed", "agent_id", agentID, "error", err)
		r.Unregister(agentID)
		return errors.Join(ErrWriteFailed, err)
	}
	return nil
}

// Get retrieves a specific agent by ID.
func (r *Registry) Get(agentID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.agents[agentID]
	return c, ok
}

// Count reports the number of connected agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.agents)
}

// Info contains public information about a connected agent.
type Info struct {
	ID          string `json:"id"`
	RemoteAddr  string `json:"remote_addr"`
	ConnectedAt string `json:"connected_at"`
}

// List returns information about all connected agents in rotation order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.order))
	for _, id := range r.order {
		c := r.agents[id]
		infos = append(infos, Info{
			ID:          c.ID,
			RemoteAddr:  c.RemoteAddr(),
			ConnectedAt: c.ConnectedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return infos
}
