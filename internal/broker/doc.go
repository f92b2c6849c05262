// Package broker implements the publicly reachable half of the proxy.
//
// A Broker runs two listeners. The HTTP(S) listener accepts ordinary
// requests from the outside world; the tunnel listener accepts framed
// sockets from agents that dialed out through their NAT or firewall.
//
// One request flows as follows: the front-end picks a connected agent,
// reads the request body, opens a tracker entry under a fresh request
// ID, and writes a request envelope down the agent's tunnel. The
// handler then blocks until the entry resolves — by the agent's
// response envelope, by the agent disconnecting, or by the deadline —
// and whichever happened is what the caller sees.
//
// The paths /health, /health/ready, and (when enabled) the metrics
// path are served by the broker itself; everything else is proxied.
package broker
