// ABOUTME: Package session supervises tenant messaging sessions
// ABOUTME: One supervisor goroutine per session applies transport events and reconnects

// Package session owns the lifecycle of every tenant's messaging link.
//
// A Manager holds at most one live connection handle per session id and per
// tenant. Each started session gets a supervisor goroutine (Lifecycle) that
// consumes its transport's events one at a time: link codes are pushed to the
// tenant, credentials are persisted, and inbound messages are handed to the
// installed InboundHandler on separate goroutines. A close that is not a
// logout drops the handle and redials after Config.ReconnectDelay; a logout
// deletes credentials and marks the session disconnected.
//
// Shutdown stops supervisors without logging out, so sessions persisted as
// connected are brought back by RestoreSessions on the next start.
package session
