// Package session implements the MCP session lifecycle: session
// creation on the first initialize call, transport-id to session-id
// binding, and connect/disconnect event broadcast. All state is
// in-memory only; nothing survives a process restart.
package session

import (
	"time"
)

// Session is a logical client attachment created by the engine on the
// first initialize request of a connection. It is immutable after
// creation; the last-activity timestamp the janitor uses to find idle
// sessions is kept by the Manager, not on the Session.
type Session struct {
	ID              string
	ConnectedAt     time.Time
	ClientInfo      map[string]any
	ProtocolVersion string
}

// ConnectEvent is published synchronously to subscribers when a session
// is created.
type ConnectEvent struct {
	SessionID string
	At        time.Time
}

// DisconnectEvent is published synchronously to subscribers when a
// session ends.
type DisconnectEvent struct {
	SessionID string
	At        time.Time
}

// eventBufferSize bounds each subscriber's event channel. A slow
// subscriber drops the oldest pending event rather than blocking the
// session manager.
const eventBufferSize = 64
