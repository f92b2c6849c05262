// Package tracker correlates in-flight proxy requests with their
// responses.
//
// The broker front-end calls Open to register an http.ResponseWriter
// under a fresh request ID, ships the ID to an agent, and blocks on the
// entry's Done channel. Three paths race to resolve the entry:
//
//   - Complete: a matching response envelope arrived from the agent
//   - Fail(…, ReasonDisconnect/ReasonWriteError): the agent went away
//   - Fail(…, ReasonTimeout): the front-end's deadline fired
//
// Whichever path removes the entry from the map first wins and is the
// only one to touch the responder; the others see a missing entry and
// return false. A response envelope with no matching entry is reported
// to the caller the same way, never treated as fatal.
package tracker
