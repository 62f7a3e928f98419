package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/HyphaGroup/mcpcore/internal/operation"
	"github.com/HyphaGroup/mcpcore/internal/protocol"
	"github.com/HyphaGroup/mcpcore/internal/registry"
	"github.com/HyphaGroup/mcpcore/internal/session"
	"github.com/HyphaGroup/mcpcore/internal/transport"
)

type fakeTransport struct {
	inbound   chan transport.InboundMessage
	sent      chan any
	sentWith  chan string
	associate map[string]string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound:   make(chan transport.InboundMessage, 8),
		sent:      make(chan any, 8),
		sentWith:  make(chan string, 8),
		associate: make(map[string]string),
	}
}

func (f *fakeTransport) Inbound() <-chan transport.InboundMessage { return f.inbound }
func (f *fakeTransport) Send(payload any, sessionID string) error {
	f.sent <- payload
	f.sentWith <- sessionID
	return nil
}
func (f *fakeTransport) AssociateSession(transportID, sessionID string) {
	f.associate[transportID] = sessionID
}
func (f *fakeTransport) Close() error { return nil }

func newTestEngine() (*Engine, *fakeTransport) {
	tools := registry.NewToolRegistry()
	resources := registry.NewResourceRegistry()
	prompts := registry.NewPromptRegistry()
	sessions := session.NewManager()
	operations := operation.NewManager(nil)

	e := New(protocol.ServerInfo{Name: "test", Version: "0.0.0"}, sessions, operations, tools, resources, prompts, nil, nil, nil)
	ft := newFakeTransport()
	e.Bind(ft)
	return e, ft
}

func TestEngine_Initialize(t *testing.T) {
	e, ft := newTestEngine()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	ft.inbound <- transport.InboundMessage{
		Raw:         json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"x"},"protocolVersion":"2025-03-26"}}`),
		TransportID: "t1",
	}

	select {
	case payload := <-ft.sent:
		resp, ok := payload.(*protocol.Response)
		if !ok || resp.Error != nil {
			t.Fatalf("expected successful response, got %+v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initialize response")
	}

	if len(ft.associate) != 1 {
		t.Errorf("expected one session association, got %d", len(ft.associate))
	}
}

func TestEngine_ToolsCall(t *testing.T) {
	e, ft := newTestEngine()

	type pingParams struct{}
	registry.Register(e.tools, protocol.ToolDescriptor{Name: "ping"}, func(ctx context.Context, cc registry.CallContext, params pingParams) (*protocol.CallToolResult, error) {
		return &protocol.CallToolResult{Content: []protocol.Content{protocol.TextContent("pong")}}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	s := e.sessions.Create(nil, protocol.Version)

	ft.inbound <- transport.InboundMessage{
		Raw:         json.RawMessage(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"ping","arguments":{}}}`),
		TransportID: "t2",
		SessionID:   s.ID,
	}

	select {
	case payload := <-ft.sent:
		resp, ok := payload.(*protocol.Response)
		if !ok || resp.Error != nil {
			t.Fatalf("expected successful response, got %+v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tools/call response")
	}

	if e.operations.Count() != 0 {
		t.Error("expected operation to be unregistered after completion")
	}
}

func TestEngine_UnknownMethod(t *testing.T) {
	e, ft := newTestEngine()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	s := e.sessions.Create(nil, protocol.Version)

	ft.inbound <- transport.InboundMessage{
		Raw:         json.RawMessage(`{"jsonrpc":"2.0","id":3,"method":"nonsense"}`),
		TransportID: "t3",
		SessionID:   s.ID,
	}

	select {
	case payload := <-ft.sent:
		resp, ok := payload.(*protocol.Response)
		if !ok || resp.Error == nil || resp.Error.Code != protocol.CodeMethodNotFound {
			t.Fatalf("expected method-not-found error, got %+v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for error response")
	}
}

func TestEngine_MissingSessionRejected(t *testing.T) {
	e, ft := newTestEngine()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	ft.inbound <- transport.InboundMessage{
		Raw:         json.RawMessage(`{"jsonrpc":"2.0","id":4,"method":"tools/list"}`),
		TransportID: "t4",
	}

	select {
	case payload := <-ft.sent:
		resp, ok := payload.(*protocol.Response)
		if !ok || resp.Error == nil || resp.Error.Code != protocol.CodeInvalidRequest {
			t.Fatalf("expected invalid-request error, got %+v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for error response")
	}
}

func TestEngine_OperationsCancel(t *testing.T) {
	e, ft := newTestEngine()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	s := e.sessions.Create(nil, protocol.Version)
	opID := e.operations.Register(s.ID, "tools/call", "", nil)

	ft.inbound <- transport.InboundMessage{
		Raw:         json.RawMessage(`{"jsonrpc":"2.0","id":5,"method":"operations/cancel","params":{"operationId":"` + opID + `"}}`),
		TransportID: "t5",
		SessionID:   s.ID,
	}

	select {
	case <-ft.sent:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cancel response")
	}

	if !e.operations.IsCancelled(opID) {
		t.Error("expected operation to be marked cancelled")
	}
}
