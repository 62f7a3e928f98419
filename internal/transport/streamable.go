package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/HyphaGroup/mcpcore/internal/metrics"
	"github.com/HyphaGroup/mcpcore/internal/protocol"
	"github.com/HyphaGroup/mcpcore/internal/validation"
)

// SessionIDHeader is the HTTP header carrying the session id on every
// request after initialize, and echoed back on the initialize reply.
const SessionIDHeader = "Mcp-Session-Id"

const inboundBufferSize = 256

var errSinkClosed = errors.New("transport: response sink already closed")

// responseSink is an open HTTP response body being streamed as
// Server-Sent Events. One is created per POST request that carries an
// id, and it may receive zero or more interleaved notification events
// before the final response event closes it.
type responseSink struct {
	mu          sync.Mutex
	w           http.ResponseWriter
	flusher     http.Flusher
	transportID string
	headersSent bool
	closed      bool
	done        chan struct{}
}

func newResponseSink(w http.ResponseWriter, transportID string) *responseSink {
	f, _ := w.(http.Flusher)
	return &responseSink{w: w, flusher: f, transportID: transportID, done: make(chan struct{})}
}

func (s *responseSink) writeHeaders(sessionID string) {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Expose-Headers", SessionIDHeader)
	if sessionID != "" {
		h.Set(SessionIDHeader, sessionID)
	}
	s.w.WriteHeader(http.StatusOK)
	s.headersSent = true
}

func (s *responseSink) writeEvent(sessionID string, eventID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSinkClosed
	}
	if !s.headersSent {
		s.writeHeaders(sessionID)
	}
	if _, err := fmt.Fprintf(s.w, "id: %s\ndata: %s\n\n", eventID, data); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// close marks the sink done. If headers were never sent (the handler
// never produced any event, e.g. the request context was cancelled
// first) the caller is responsible for writing a fallback response.
func (s *responseSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

type responseEntry struct {
	sink        *responseSink
	transportID string
}

// StreamableHTTP is the streamable HTTP transport: a single endpoint
// accepting POST (submit a request or notification), GET (open a
// server-push notification stream) and DELETE (terminate a session).
// One instance multiplexes every connected client; it holds no session
// state of its own beyond stream bookkeeping and defers existence
// checks and termination to the bound SessionValidator.
type StreamableHTTP struct {
	validator SessionValidator
	logger    *slog.Logger

	inbound chan InboundMessage

	mu sync.Mutex
	// responseSinks is keyed by the string form of a request id. JSON-RPC
	// request ids are unique per direction per session, so a global key
	// space is sufficient; this could be scoped per-session for extra
	// defense-in-depth but the base design does not require it.
	responseSinks map[string]*responseEntry
	// sessionByTransport records session ids the engine has associated
	// with a given request's transport id, used to learn the session id
	// minted for an initialize call in time to echo it in that same
	// response's headers.
	sessionByTransport map[string]string
	// getSinks holds each session's dedicated notification stream, if one
	// is open via GET.
	getSinks map[string]*responseSink
	// postFallback holds, for a session with no open GET stream, the
	// in-flight tools/call POST stream that progress notifications should
	// be written to instead.
	postFallback map[string]*responseSink

	closed   bool
	eventSeq uint64
}

// NewStreamableHTTP constructs a transport bound to validator for
// session-existence checks and termination requests.
func NewStreamableHTTP(validator SessionValidator, logger *slog.Logger) *StreamableHTTP {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamableHTTP{
		validator:          validator,
		logger:             logger,
		inbound:            make(chan InboundMessage, inboundBufferSize),
		responseSinks:      make(map[string]*responseEntry),
		sessionByTransport: make(map[string]string),
		getSinks:           make(map[string]*responseSink),
		postFallback:       make(map[string]*responseSink),
	}
}

func (t *StreamableHTTP) Inbound() <-chan InboundMessage {
	return t.inbound
}

// AssociateSession records the session the engine minted or resolved
// for a given request's transport id, consulted when that request's
// response is written so the initialize reply can echo the new session
// id as a header.
func (t *StreamableHTTP) AssociateSession(transportID, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessionByTransport[transportID] = sessionID
}

func (t *StreamableHTTP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for _, e := range t.responseSinks {
		e.sink.close()
	}
	for _, s := range t.getSinks {
		s.close()
	}
	close(t.inbound)
	return nil
}

// Send routes an outbound response or notification to the appropriate
// open stream. A response with no open sink (the client already
// disconnected) and a notification with no open sink for its session
// are both dropped; dropping a notification is inherent to an
// at-most-once, no-replay delivery model.
func (t *StreamableHTTP) Send(payload any, sessionID string) error {
	switch v := payload.(type) {
	case *protocol.Response:
		return t.sendResponse(v)
	case *protocol.Notification:
		return t.sendNotification(sessionID, v)
	default:
		return fmt.Errorf("transport: unsupported outbound payload type %T", payload)
	}
}

func (t *StreamableHTTP) sendResponse(resp *protocol.Response) error {
	key := string(resp.ID)

	t.mu.Lock()
	entry, ok := t.responseSinks[key]
	if ok {
		delete(t.responseSinks, key)
	}
	var headerSessionID string
	if ok {
		headerSessionID = t.sessionByTransport[entry.transportID]
		delete(t.sessionByTransport, entry.transportID)
	}
	postCount := len(t.responseSinks)
	t.mu.Unlock()

	if !ok {
		t.logger.Warn("no pending response sink for request", "id", key)
		return nil
	}
	metrics.SetSSESinks("post", float64(postCount))

	t.clearFallbackFor(entry.sink)

	data, err := json.Marshal(resp)
	if err != nil {
		entry.sink.close()
		return err
	}
	if err := entry.sink.writeEvent(headerSessionID, t.nextEventID(), data); err != nil {
		t.logger.Debug("failed writing response event", "error", err)
	}
	entry.sink.close()
	return nil
}

func (t *StreamableHTTP) sendNotification(sessionID string, n *protocol.Notification) error {
	t.mu.Lock()
	sink, ok := t.getSinks[sessionID]
	if !ok {
		sink, ok = t.postFallback[sessionID]
	}
	t.mu.Unlock()

	if !ok {
		t.logger.Debug("no open stream for notification, dropping", "session_id", sessionID, "method", n.Method)
		return nil
	}

	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if err := sink.writeEvent("", t.nextEventID(), data); err != nil {
		t.logger.Debug("failed writing notification event", "error", err, "session_id", sessionID)
	}
	return nil
}

func (t *StreamableHTTP) clearFallbackFor(sink *responseSink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for sid, s := range t.postFallback {
		if s == sink {
			delete(t.postFallback, sid)
		}
	}
}

func (t *StreamableHTTP) nextEventID() string {
	t.mu.Lock()
	t.eventSeq++
	seq := t.eventSeq
	t.mu.Unlock()
	return fmt.Sprintf("evt-%d", seq)
}

func (t *StreamableHTTP) registerResponseSink(key string, e *responseEntry) {
	t.mu.Lock()
	t.responseSinks[key] = e
	count := len(t.responseSinks)
	t.mu.Unlock()
	metrics.SetSSESinks("post", float64(count))
}

func (t *StreamableHTTP) removeResponseSink(key string) {
	t.mu.Lock()
	delete(t.responseSinks, key)
	count := len(t.responseSinks)
	t.mu.Unlock()
	metrics.SetSSESinks("post", float64(count))
}

func (t *StreamableHTTP) setPostFallback(sessionID string, sink *responseSink) {
	t.mu.Lock()
	if _, hasGet := t.getSinks[sessionID]; !hasGet {
		t.postFallback[sessionID] = sink
	}
	t.mu.Unlock()
}

func (t *StreamableHTTP) publish(msg InboundMessage) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	t.inbound <- msg
}

// ServeHTTP implements http.Handler for the transport's single endpoint.
func (t *StreamableHTTP) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		t.serveOptions(w)
	case http.MethodPost:
		t.servePost(w, r)
	case http.MethodGet:
		t.serveGet(w, r)
	case http.MethodDelete:
		t.serveDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, GET, DELETE, OPTIONS")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (t *StreamableHTTP) serveOptions(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "POST, GET, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+SessionIDHeader)
	h.Set("Access-Control-Expose-Headers", SessionIDHeader)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSONError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	resp := protocol.NewErrorResponse(id, protocol.NewError(code, message))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(resp)
}

func (t *StreamableHTTP) resolveSessionHeader(r *http.Request) string {
	id := r.Header.Get(SessionIDHeader)
	if id == "" {
		return ""
	}
	if err := validation.ValidateUUID(id); err != nil {
		return ""
	}
	if t.validator != nil && !t.validator.SessionExists(id) {
		return ""
	}
	return id
}

func (t *StreamableHTTP) servePost(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	var body any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, nil, protocol.CodeParseError, "parse error")
		return
	}
	if _, isArray := body.([]any); isArray {
		http.Error(w, "batch requests are not supported", http.StatusBadRequest)
		return
	}
	obj, ok := body.(map[string]any)
	if !ok {
		writeJSONError(w, nil, protocol.CodeParseError, "expected a JSON object")
		return
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		writeJSONError(w, nil, protocol.CodeParseError, "parse error")
		return
	}

	method, _ := obj["method"].(string)
	rawID, hasID := obj["id"]
	sessionID := t.resolveSessionHeader(r)
	transportID := uuid.NewString()

	msg := InboundMessage{Raw: raw, TransportID: transportID, SessionID: sessionID}

	if !hasID || rawID == nil {
		w.WriteHeader(http.StatusAccepted)
		t.publish(msg)
		return
	}

	idBytes, err := json.Marshal(rawID)
	if err != nil {
		writeJSONError(w, nil, protocol.CodeParseError, "invalid request id")
		return
	}

	sink := newResponseSink(w, transportID)
	key := string(json.RawMessage(idBytes))
	t.registerResponseSink(key, &responseEntry{sink: sink, transportID: transportID})

	if method == protocol.MethodToolsCall && sessionID != "" {
		t.setPostFallback(sessionID, sink)
	}

	t.publish(msg)

	select {
	case <-sink.done:
	case <-r.Context().Done():
		t.removeResponseSink(key)
		t.clearFallbackFor(sink)
		sink.close()
	}
}

func (t *StreamableHTTP) serveGet(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(SessionIDHeader)
	if sessionID == "" || (t.validator != nil && !t.validator.SessionExists(sessionID)) {
		http.Error(w, "unknown or missing session", http.StatusBadRequest)
		return
	}

	sink := newResponseSink(w, "")
	t.mu.Lock()
	if prev, ok := t.getSinks[sessionID]; ok {
		prev.close()
	}
	t.getSinks[sessionID] = sink
	delete(t.postFallback, sessionID)
	getCount := len(t.getSinks)
	t.mu.Unlock()
	metrics.SetSSESinks("get", float64(getCount))

	sink.writeHeaders(sessionID)
	if f := sink.flusher; f != nil {
		f.Flush()
	}

	<-r.Context().Done()

	t.mu.Lock()
	if t.getSinks[sessionID] == sink {
		delete(t.getSinks, sessionID)
	}
	getCount = len(t.getSinks)
	t.mu.Unlock()
	metrics.SetSSESinks("get", float64(getCount))
	sink.close()

	if t.validator != nil {
		t.validator.EndSession(sessionID)
	}
}

func (t *StreamableHTTP) serveDelete(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	sessionID := r.Header.Get(SessionIDHeader)
	if sessionID != "" {
		t.mu.Lock()
		if s, ok := t.getSinks[sessionID]; ok {
			s.close()
			delete(t.getSinks, sessionID)
		}
		delete(t.postFallback, sessionID)
		getCount := len(t.getSinks)
		t.mu.Unlock()
		metrics.SetSSESinks("get", float64(getCount))

		if t.validator != nil {
			t.validator.EndSession(sessionID)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
