package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager tracks active sessions, the transport-id to session-id
// binding, and broadcasts connect/disconnect events to whoever
// subscribes via SubscribeConnect/SubscribeDisconnect.
type Manager struct {
	mu                 sync.RWMutex
	sessions           map[string]*Session
	transportToSession map[string]string
	lastActivity       map[string]time.Time

	connectSubs    []chan ConnectEvent
	disconnectSubs []chan DisconnectEvent
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{
		sessions:           make(map[string]*Session),
		transportToSession: make(map[string]string),
		lastActivity:       make(map[string]time.Time),
	}
}

// Create allocates a fresh session with a new v4 UUID, records it, and
// publishes a connect event synchronously to subscribers.
func (m *Manager) Create(clientInfo map[string]any, protocolVersion string) *Session {
	s := &Session{
		ID:              uuid.NewString(),
		ConnectedAt:     time.Now().UTC(),
		ClientInfo:      clientInfo,
		ProtocolVersion: protocolVersion,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.lastActivity[s.ID] = s.ConnectedAt
	m.mu.Unlock()

	m.publishConnect(ConnectEvent{SessionID: s.ID, At: s.ConnectedAt})
	return s
}

// MapTransport binds a transport connection id to a session id. Many
// transport ids may map to the same session (e.g. a POST stream and a
// GET notification stream opened independently).
func (m *Manager) MapTransport(transportID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transportToSession[transportID] = sessionID
}

// UnmapTransport removes a single transport-id binding without ending
// the session it points to.
func (m *Manager) UnmapTransport(transportID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.transportToSession, transportID)
}

// End removes the session and every transport mapping pointing to it,
// then publishes a disconnect event. Ending an unknown id is a no-op
// and reports false.
func (m *Manager) End(sessionID string) bool {
	m.mu.Lock()
	_, existed := m.sessions[sessionID]
	if existed {
		delete(m.sessions, sessionID)
		delete(m.lastActivity, sessionID)
		for transportID, sid := range m.transportToSession {
			if sid == sessionID {
				delete(m.transportToSession, transportID)
			}
		}
	}
	m.mu.Unlock()

	if !existed {
		return false
	}

	m.publishDisconnect(DisconnectEvent{SessionID: sessionID, At: time.Now().UTC()})
	return true
}

// Get returns the session by id, if it still exists.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// GetByTransport resolves a session through a transport-id binding.
func (m *Manager) GetByTransport(transportID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sessionID, ok := m.transportToSession[transportID]
	if !ok {
		return nil, false
	}
	s, ok := m.sessions[sessionID]
	return s, ok
}

// Touch records activity on a session, resetting its idle clock for the
// janitor's purposes. Touching an unknown session is a no-op.
func (m *Manager) Touch(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; ok {
		m.lastActivity[sessionID] = time.Now().UTC()
	}
}

// IdleSince returns the ids of sessions whose last recorded activity is
// before cutoff. Satisfies janitor.SessionSweeper.
func (m *Manager) IdleSince(cutoff time.Time) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var idle []string
	for id, last := range m.lastActivity {
		if last.Before(cutoff) {
			idle = append(idle, id)
		}
	}
	return idle
}

// Count returns the number of currently active sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// SubscribeConnect registers a new subscriber for connect events.
func (m *Manager) SubscribeConnect() <-chan ConnectEvent {
	ch := make(chan ConnectEvent, eventBufferSize)
	m.mu.Lock()
	m.connectSubs = append(m.connectSubs, ch)
	m.mu.Unlock()
	return ch
}

// SubscribeDisconnect registers a new subscriber for disconnect events.
func (m *Manager) SubscribeDisconnect() <-chan DisconnectEvent {
	ch := make(chan DisconnectEvent, eventBufferSize)
	m.mu.Lock()
	m.disconnectSubs = append(m.disconnectSubs, ch)
	m.mu.Unlock()
	return ch
}

func (m *Manager) publishConnect(evt ConnectEvent) {
	m.mu.RLock()
	subs := append([]chan ConnectEvent(nil), m.connectSubs...)
	m.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
			// Drop the oldest pending event to make room, per the
			// bounded-buffer design note; never block session creation.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- evt:
			default:
			}
		}
	}
}

func (m *Manager) publishDisconnect(evt DisconnectEvent) {
	m.mu.RLock()
	subs := append([]chan DisconnectEvent(nil), m.disconnectSubs...)
	m.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- evt:
			default:
			}
		}
	}
}
