// Package agent manages broker-side state for connected agents.
//
// # Connection
//
// Connection wraps one accepted tunnel socket. Its Send method frames the
// payload and serializes the write under a per-connection lock, so frames
// from concurrent HTTP requests never interleave on the wire. Reads are
// not handled here; the broker's socket loop owns the read side.
//
// # Registry
//
// Registry tracks every live Connection:
//
//   - Register(conn): mint an agent ID and add the socket to the rotation
//   - Unregister(id): remove and close; safe for unknown IDs
//   - Pick(): next agent round-robin, ErrNoAgents when empty
//   - Send(id, payload): frame and write, ErrWriteFailed on error
//
// A Send failure unregisters the agent: closing the socket kicks the
// broker's read loop for that agent, which in turn fails the agent's
// pending requests. Agent IDs are UUIDs, unique for the broker process
// lifetime.
package agent
