// ABOUTME: Represents a single connected agent and its tunnel socket.
// ABOUTME: Serializes frame writes so concurrent senders never interleave.

package agent

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/2389/tunnelgate/internal/frame"
)

// Connection represents one connected agent and owns its socket.
// Writes go through Send, which frames the payload and holds the send
// lock for the duration of the write, so frames never interleave on the
// wire even with many concurrent requests in flight.
type Connection struct {
	ID          string
	ConnectedAt time.Time

	conn   net.Conn
	sendMu sync.Mutex

	closeOnce sync.Once
}

// NewConnection wraps an accepted agent socket.
func NewConnection(id string, conn net.Conn) *Connection {
	return &Connection{
		ID:          id,
		ConnectedAt: time.Now().UTC(),
		conn:        conn,
	}
}

// Send frames payload and writes it to the agent's socket. Concurrent
// callers serialize on the send lock.
func (c *Connection) Send(payload []byte) error {
	framed, err := frame.Encode(payload)
	if err != nil {
		return fmt.Errorf("framing payload for agent %s: %w", c.ID, err)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if _, err := c.conn.Write(framed); err != nil {
		return fmt.Errorf("writing to agent %s: %w", c.ID, err)
	}
	return nil
}

// Close shuts the underlying socket. Safe to call more than once; the
// first call wins and any blocked reads on the socket fail out.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

// RemoteAddr reports the agent's peer address for logging.
func (c *Connection) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
