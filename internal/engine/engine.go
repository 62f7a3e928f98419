// Package engine implements the dispatch pipeline: session resolution,
// method routing, and response/notification delivery back through
// whichever transport is bound. It is the one package that knows about
// every other core package, wiring them together without any of them
// knowing about each other.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/HyphaGroup/mcpcore/internal/audit"
	"github.com/HyphaGroup/mcpcore/internal/logger"
	"github.com/HyphaGroup/mcpcore/internal/operation"
	"github.com/HyphaGroup/mcpcore/internal/protocol"
	"github.com/HyphaGroup/mcpcore/internal/registry"
	"github.com/HyphaGroup/mcpcore/internal/session"
	"github.com/HyphaGroup/mcpcore/internal/transport"
)

// Metrics is the subset of internal/metrics this package calls into,
// kept as an interface so the engine can be tested without the global
// Prometheus registry.
type Metrics interface {
	RecordRequest(method, outcome string, durationSeconds float64)
	RecordToolCall(tool, outcome string)
	RecordSessionConnect()
	RecordSessionDisconnect()
	RecordOperationStart()
	RecordOperationEnd()
	RecordProgressNotification()
}

type noopMetrics struct{}

func (noopMetrics) RecordRequest(string, string, float64) {}
func (noopMetrics) RecordToolCall(string, string)         {}
func (noopMetrics) RecordSessionConnect()                 {}
func (noopMetrics) RecordSessionDisconnect()              {}
func (noopMetrics) RecordOperationStart()                 {}
func (noopMetrics) RecordOperationEnd()                   {}
func (noopMetrics) RecordProgressNotification()           {}

// Engine is the JSON-RPC dispatcher bound to exactly one transport.
type Engine struct {
	sessions   *session.Manager
	operations *operation.Manager
	tools      *registry.ToolRegistry
	resources  *registry.ResourceRegistry
	prompts    *registry.PromptRegistry

	serverInfo protocol.ServerInfo
	logger     *slog.Logger
	metrics    Metrics
	audit      *audit.Logger

	mu        sync.Mutex
	transport transport.Transport
	bound     bool
}

// New constructs an engine over the given registries and managers. Pass
// nil for metrics/auditLogger to disable those integrations.
func New(serverInfo protocol.ServerInfo, sessions *session.Manager, operations *operation.Manager, tools *registry.ToolRegistry, resources *registry.ResourceRegistry, prompts *registry.PromptRegistry, logger *slog.Logger, metrics Metrics, auditLogger *audit.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	e := &Engine{
		serverInfo: serverInfo,
		sessions:   sessions,
		operations: operations,
		tools:      tools,
		resources:  resources,
		prompts:    prompts,
		logger:     logger,
		metrics:    metrics,
		audit:      auditLogger,
	}
	operations.SetEmitter(e.emitProgress)
	return e
}

// Bind attaches a transport to the engine. An engine may only ever be
// bound to one transport; binding a second one is a programming error.
func (e *Engine) Bind(t transport.Transport) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.bound {
		panic("engine: transport already bound")
	}
	e.transport = t
	e.bound = true
}

// SessionExists satisfies transport.SessionValidator.
func (e *Engine) SessionExists(sessionID string) bool {
	_, ok := e.sessions.Get(sessionID)
	return ok
}

// EndSession satisfies transport.SessionValidator: it tears down the
// session's operations along with the session itself and records the
// disconnect to the audit trail.
func (e *Engine) EndSession(sessionID string) bool {
	ended := e.sessions.End(sessionID)
	if ended {
		e.operations.CleanupSession(sessionID)
		e.metrics.RecordSessionDisconnect()
		if e.audit != nil {
			e.audit.LogSuccess(audit.OpSessionDisconnect, sessionID, "")
		}
	}
	return ended
}

// Run reads inbound messages from the bound transport until ctx is
// cancelled or the transport's channel closes. It is the single
// dispatch loop: it never blocks on handler execution, launching each
// message's handling in its own goroutine so a slow tool call cannot
// stall delivery of unrelated messages.
func (e *Engine) Run(ctx context.Context) {
	e.mu.Lock()
	t := e.transport
	e.mu.Unlock()
	if t == nil {
		panic("engine: Run called before Bind")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-t.Inbound():
			if !ok {
				return
			}
			go e.handle(ctx, msg)
		}
	}
}

// loggingContext attaches the identifiers logger.WithContext knows how
// to pick up, so every log line emitted while handling a dispatch
// carries the session, operation and request id it belongs to.
func loggingContext(ctx context.Context, sessionID, operationID, requestID string) context.Context {
	if sessionID != "" {
		ctx = context.WithValue(ctx, logger.ContextKeySessionID, sessionID)
	}
	if operationID != "" {
		ctx = context.WithValue(ctx, logger.ContextKeyOperationID, operationID)
	}
	if requestID != "" {
		ctx = context.WithValue(ctx, logger.ContextKeyRequestID, requestID)
	}
	return ctx
}

func (e *Engine) handle(ctx context.Context, msg transport.InboundMessage) {
	start := time.Now()

	var req protocol.Request
	if err := json.Unmarshal(msg.Raw, &req); err != nil {
		e.reply(protocol.NewErrorResponse(nil, protocol.NewError(protocol.CodeParseError, "parse error")))
		e.metrics.RecordRequest("", "parse_error", time.Since(start).Seconds())
		return
	}
	if req.JSONRPC == "" {
		req.JSONRPC = protocol.JSONRPCVersion
	}

	sessionID := msg.SessionID
	ctx = loggingContext(ctx, sessionID, "", string(req.ID))

	if req.Method == protocol.MethodInitialize {
		e.handleInitialize(ctx, msg, &req)
		e.metrics.RecordRequest(req.Method, "ok", time.Since(start).Seconds())
		return
	}

	if req.Method == "" {
		if req.HasID() {
			e.reply(protocol.NewErrorResponse(req.ID, protocol.NewError(protocol.CodeInvalidRequest, "missing method")))
		}
		e.metrics.RecordRequest(req.Method, "invalid_request", time.Since(start).Seconds())
		return
	}

	if sessionID == "" {
		if req.HasID() {
			e.reply(protocol.NewErrorResponse(req.ID, protocol.NewError(protocol.CodeInvalidRequest, "unknown or missing session")))
		}
		e.metrics.RecordRequest(req.Method, "invalid_request", time.Since(start).Seconds())
		return
	}
	e.sessions.Touch(sessionID)

	outcome := "ok"
	switch req.Method {
	case protocol.MethodNotificationInitialized:
		// No response; this is an acknowledgement notification only.
	case protocol.MethodPing:
		e.respondOK(&req, map[string]any{})
	case protocol.MethodToolsList:
		e.respondOK(&req, protocol.ToolsListResult{Tools: e.tools.List()})
	case protocol.MethodToolsCall:
		e.handleToolsCall(ctx, sessionID, &req)
	case protocol.MethodResourcesList:
		e.respondOK(&req, protocol.ResourcesListResult{Resources: e.resources.List()})
	case protocol.MethodResourcesRead:
		e.handleResourcesRead(ctx, sessionID, &req)
	case protocol.MethodPromptsList:
		e.respondOK(&req, protocol.PromptsListResult{Prompts: e.prompts.List()})
	case protocol.MethodPromptsGet:
		e.handlePromptsGet(ctx, sessionID, &req)
	case protocol.MethodOperationsCancel:
		e.handleOperationsCancel(ctx, sessionID, &req)
	default:
		outcome = "method_not_found"
		if req.HasID() {
			e.reply(protocol.NewErrorResponse(req.ID, protocol.NewError(protocol.CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))))
		}
	}
	e.metrics.RecordRequest(req.Method, outcome, time.Since(start).Seconds())
}

func (e *Engine) handleInitialize(ctx context.Context, msg transport.InboundMessage, req *protocol.Request) {
	var params protocol.InitializeParams
	if len(req.Params) > 0 {
		_ = json.Unmarshal(req.Params, &params)
	}

	s := e.sessions.Create(map[string]any{"name": params.ClientInfo.Name, "version": params.ClientInfo.Version}, params.ProtocolVersion)
	e.mu.Lock()
	t := e.transport
	e.mu.Unlock()
	if t != nil {
		t.AssociateSession(msg.TransportID, s.ID)
	}
	e.metrics.RecordSessionConnect()
	if e.audit != nil {
		e.audit.LogSuccess(audit.OpSessionConnect, s.ID, "")
	}

	if !req.HasID() {
		return
	}
	e.respondOK(req, protocol.InitializeResult{
		ProtocolVersion: protocol.Version,
		ServerInfo:      e.serverInfo,
		Capabilities:    protocol.DefaultCapabilities(),
	})
}

func (e *Engine) handleToolsCall(ctx context.Context, sessionID string, req *protocol.Request) {
	var params protocol.CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		e.failRequest(ctx, req, protocol.CodeInvalidParams, err)
		return
	}

	handler, ok := e.tools.Lookup(params.Name)
	if !ok {
		if req.HasID() {
			e.reply(protocol.NewErrorResponse(req.ID, protocol.NewError(protocol.CodeToolNotFound, fmt.Sprintf("unknown tool %q", params.Name))))
		}
		return
	}

	opID := e.operations.Register(sessionID, protocol.MethodToolsCall, params.Meta.ProgressToken, req.ID)
	e.metrics.RecordOperationStart()
	defer func() {
		e.operations.Unregister(opID)
		e.metrics.RecordOperationEnd()
	}()

	ctx = loggingContext(ctx, sessionID, opID, string(req.ID))
	cc := &callContext{e: e, sessionID: sessionID, operationID: opID}
	result, err := handler(ctx, cc, params.Arguments)
	if err != nil {
		e.metrics.RecordToolCall(params.Name, "error")
		if e.audit != nil {
			e.audit.LogFailure(audit.OpToolCall, sessionID, string(req.ID), err)
		}
		e.failRequest(ctx, req, protocol.CodeInternalError, err)
		return
	}

	outcome := "ok"
	if result != nil && result.IsError {
		outcome = "tool_error"
	}
	e.metrics.RecordToolCall(params.Name, outcome)
	if e.audit != nil {
		e.audit.LogSuccess(audit.OpToolCall, sessionID, string(req.ID))
	}
	e.respondOK(req, result)
}

func (e *Engine) handleResourcesRead(ctx context.Context, sessionID string, req *protocol.Request) {
	var params protocol.ReadResourceParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		e.failRequest(ctx, req, protocol.CodeInvalidParams, err)
		return
	}

	handler, ok := e.resources.Lookup(params.URI)
	if !ok {
		if req.HasID() {
			e.reply(protocol.NewErrorResponse(req.ID, protocol.NewError(protocol.CodeResourceNotFound, fmt.Sprintf("unknown resource %q", params.URI))))
		}
		return
	}

	cc := &callContext{e: e, sessionID: sessionID}
	result, err := handler(ctx, cc, params.URI, params.Params)
	if err != nil {
		if e.audit != nil {
			e.audit.LogFailure(audit.OpResourceRead, sessionID, string(req.ID), err)
		}
		e.failRequest(ctx, req, protocol.CodeInternalError, err)
		return
	}
	if e.audit != nil {
		e.audit.LogSuccess(audit.OpResourceRead, sessionID, string(req.ID))
	}
	e.respondOK(req, result)
}

func (e *Engine) handlePromptsGet(ctx context.Context, sessionID string, req *protocol.Request) {
	var params protocol.GetPromptParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		e.failRequest(ctx, req, protocol.CodeInvalidParams, err)
		return
	}

	handler, ok := e.prompts.Lookup(params.Name)
	if !ok {
		if req.HasID() {
			e.reply(protocol.NewErrorResponse(req.ID, protocol.NewError(protocol.CodePromptNotFound, fmt.Sprintf("unknown prompt %q", params.Name))))
		}
		return
	}

	cc := &callContext{e: e, sessionID: sessionID}
	result, err := handler(ctx, cc, params.Arguments)
	if err != nil {
		if e.audit != nil {
			e.audit.LogFailure(audit.OpPromptGet, sessionID, string(req.ID), err)
		}
		e.failRequest(ctx, req, protocol.CodeInternalError, err)
		return
	}
	if e.audit != nil {
		e.audit.LogSuccess(audit.OpPromptGet, sessionID, string(req.ID))
	}
	e.respondOK(req, result)
}

func (e *Engine) handleOperationsCancel(ctx context.Context, sessionID string, req *protocol.Request) {
	var params protocol.CancelOperationParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		e.failRequest(ctx, req, protocol.CodeInvalidParams, err)
		return
	}
	e.operations.Cancel(params.OperationID)
	if e.audit != nil {
		e.audit.LogSuccess(audit.OpOperationCancel, sessionID, string(req.ID))
	}
	if req.HasID() {
		e.respondOK(req, map[string]any{})
	}
}

func (e *Engine) respondOK(req *protocol.Request, result any) {
	if !req.HasID() {
		return
	}
	e.reply(protocol.NewResultResponse(req.ID, result))
}

func (e *Engine) failRequest(ctx context.Context, req *protocol.Request, code int, err error) {
	logger.WithContext(ctx).Error("handler error", "method", req.Method, "error", err)
	if !req.HasID() {
		return
	}
	e.reply(protocol.NewErrorResponse(req.ID, sanitizeError(code, err)))
}

func (e *Engine) reply(resp *protocol.Response) {
	e.mu.Lock()
	t := e.transport
	e.mu.Unlock()
	if t == nil {
		return
	}
	if err := t.Send(resp, ""); err != nil {
		e.logger.Warn("failed to send response", "error", err)
	}
}

func (e *Engine) emitProgress(sessionID string, params protocol.ProgressParams) {
	e.mu.Lock()
	t := e.transport
	e.mu.Unlock()
	if t == nil {
		return
	}
	n := protocol.NewNotification(protocol.MethodNotificationProgress, params)
	if err := t.Send(n, sessionID); err != nil {
		e.logger.Debug("failed to send progress notification", "error", err)
		return
	}
	e.metrics.RecordProgressNotification()
}
