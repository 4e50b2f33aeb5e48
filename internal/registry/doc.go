// Package registry holds the server's set of open WebSocket connections.
//
// The Registry is an actor: one goroutine owns the set and processes add, remove and
// iteration commands from a channel (no mutexes around the set). Each Conn has its own
// writer goroutine draining an unbounded outbound queue, so a send never blocks the caller.
package registry
