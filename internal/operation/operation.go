// Package operation tracks in-flight tool-call invocations: progress
// token correlation and client-initiated cancellation. An operation
// exists from tool-call dispatch entry until the handler's result (or
// error) has been emitted.
package operation

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HyphaGroup/mcpcore/internal/protocol"
)

// Operation is a snapshot of one pending tool invocation's bookkeeping.
// IsCancelled reflects the state at the moment the snapshot was taken;
// callers that need the live value should use Manager.IsCancelled.
type Operation struct {
	ID                string
	SessionID         string
	Type              string
	CreatedAt         time.Time
	IsCancelled       bool
	OriginalRequestID json.RawMessage
	ProgressToken     string
}

type entry struct {
	op        Operation
	cancelled bool
	mu        sync.RWMutex
}

// ProgressEmitter delivers a progress notification to a session. The
// operation manager calls back into the engine through this hook rather
// than owning a transport reference itself.
type ProgressEmitter func(sessionID string, params protocol.ProgressParams)

// Manager tracks pending operations, indexed by operation id. Lookup by
// progress token scans the pending set.
type Manager struct {
	mu         sync.RWMutex
	operations map[string]*entry
	emit       ProgressEmitter
}

// NewManager creates an operation manager. emit may be nil until the
// engine binds itself via SetEmitter; progress notifications are
// dropped silently until then.
func NewManager(emit ProgressEmitter) *Manager {
	return &Manager{
		operations: make(map[string]*entry),
		emit:       emit,
	}
}

// SetEmitter installs the progress notification callback. Used when the
// engine and operation manager are constructed before either is fully
// wired to the other.
func (m *Manager) SetEmitter(emit ProgressEmitter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emit = emit
}

// Register creates a new pending operation and returns its id.
func (m *Manager) Register(sessionID, opType string, progressToken string, originalRequestID json.RawMessage) string {
	id := uuid.NewString()
	e := &entry{
		op: Operation{
			ID:                id,
			SessionID:         sessionID,
			Type:              opType,
			CreatedAt:         time.Now().UTC(),
			OriginalRequestID: originalRequestID,
			ProgressToken:     progressToken,
		},
	}

	m.mu.Lock()
	m.operations[id] = e
	m.mu.Unlock()

	return id
}

// LookupByToken finds the operation whose progress token matches, if
// any live operation has one. This is a linear scan over the (expected
// small) set of pending operations.
func (m *Manager) LookupByToken(progressToken string) (Operation, bool) {
	if progressToken == "" {
		return Operation{}, false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.operations {
		e.mu.RLock()
		token := e.op.ProgressToken
		e.mu.RUnlock()
		if token == progressToken {
			return m.snapshot(e), true
		}
	}
	return Operation{}, false
}

// Get returns a snapshot of the operation by id, if it is still pending.
func (m *Manager) Get(operationID string) (Operation, bool) {
	m.mu.RLock()
	e, ok := m.operations[operationID]
	m.mu.RUnlock()
	if !ok {
		return Operation{}, false
	}
	return m.snapshot(e), true
}

func (m *Manager) snapshot(e *entry) Operation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	op := e.op
	op.IsCancelled = e.cancelled
	return op
}

// Cancel marks an operation cancelled. Idempotent; cancelling an
// unknown id is a silent no-op and reports nothing back to the caller.
func (m *Manager) Cancel(operationID string) {
	m.mu.RLock()
	e, ok := m.operations[operationID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	e.mu.Lock()
	e.cancelled = true
	e.mu.Unlock()
}

// IsCancelled reports the current cancellation state of an operation,
// re-read on every call so handlers observe late cancels (the live-view
// design the spec flags as an improvement over snapshot-at-entry
// semantics). Unknown ids are fail-safe cancelled: true.
func (m *Manager) IsCancelled(operationID string) bool {
	m.mu.RLock()
	e, ok := m.operations[operationID]
	m.mu.RUnlock()
	if !ok {
		return true
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cancelled
}

// Unregister removes an operation once its result has been emitted.
func (m *Manager) Unregister(operationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.operations, operationID)
}

// NotifyProgress emits a notifications/progress message for the given
// operation if it has a progress token and an emitter is configured.
// progress must be in [0,1]; total is always reported as 1.0 per spec.
func (m *Manager) NotifyProgress(operationID string, progress float64, message string) {
	m.mu.RLock()
	e, ok := m.operations[operationID]
	emit := m.emit
	m.mu.RUnlock()
	if !ok || emit == nil {
		return
	}

	e.mu.RLock()
	token := e.op.ProgressToken
	sessionID := e.op.SessionID
	e.mu.RUnlock()

	if token == "" {
		return
	}

	emit(sessionID, protocol.ProgressParams{
		ProgressToken: token,
		Progress:      progress,
		Total:         1.0,
		Message:       message,
	})
}

// CleanupSession drops every operation owned by sessionID. Invoked on
// disconnect and by the janitor's idle sweep. Satisfies
// janitor.OperationSweeper.
func (m *Manager) CleanupSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, e := range m.operations {
		e.mu.RLock()
		owner := e.op.SessionID
		e.mu.RUnlock()
		if owner == sessionID {
			delete(m.operations, id)
		}
	}
}

// Count returns the number of currently pending operations.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.operations)
}
