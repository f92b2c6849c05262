// Package tunnel implements the origin-side agent.
//
// The Client dials out to the broker's tunnel listener — through
// whatever NAT or firewall sits in front of the origin — and then
// serves the connection: request envelopes come off the wire, each is
// handled in its own goroutine (resolve the URL against defaultTarget,
// apply rewrite rules, call the origin), and the response envelope goes
// back under a per-connection send lock.
//
// The loop is infinite-retry by design. Dial failures and dropped
// connections wait a jittered backoff seeded from the configured
// reconnection delay, then try again; only context cancellation stops
// it. In-flight upstream calls may finish after a disconnect, in which
// case their responses are dropped — the broker has already failed
// those requests.
package tunnel
