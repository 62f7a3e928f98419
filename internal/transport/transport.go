// Package transport defines the abstract inbound/outbound contract the
// engine dispatches against (component E), and implements the
// streamable HTTP transport (component F) that multiplexes
// request/response and notification traffic onto one endpoint using
// POST, GET, DELETE and Server-Sent-Events framing.
package transport

import "encoding/json"

// InboundMessage is a decoded-at-the-edge wire message tagged with the
// connection it arrived on and, if known, the session it belongs to.
// Raw is forwarded to the engine unparsed beyond the minimal validation
// the transport performs on its own (e.g. HTTP's batch rejection);
// the engine owns the full JSON-RPC structural checks.
type InboundMessage struct {
	Raw         json.RawMessage
	TransportID string
	SessionID   string
}

// Transport is the contract the engine binds against. A transport
// publishes InboundMessage values and accepts outbound sends; it alone
// decides which physical stream a given outbound payload goes out on.
type Transport interface {
	// Inbound returns the channel of decoded wire messages.
	Inbound() <-chan InboundMessage

	// Send delivers a response or notification. payload is either a
	// *protocol.Response (carries an id, routed to the matching
	// pending reply sink) or a *protocol.Notification (routed to a
	// session's notification stream). sessionID is required for
	// notifications and ignored for responses, which are addressed by
	// their id alone.
	Send(payload any, sessionID string) error

	// AssociateSession binds a transport connection id to a session id,
	// called by the engine once it has created or resolved a session
	// for an inbound message from that connection.
	AssociateSession(transportID, sessionID string)

	// Close releases the transport's resources. Idempotent.
	Close() error
}

// SessionValidator is the engine's back-reference the transport uses to
// validate inbound session headers and to request session termination
// on client disconnect or explicit DELETE, without the transport owning
// the session manager itself.
type SessionValidator interface {
	SessionExists(sessionID string) bool
	EndSession(sessionID string) bool
}
