package catalog

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/HyphaGroup/mcpcore/internal/registry"
)

type fakeCallContext struct {
	cancelled bool
	progress  []float64
}

func (f *fakeCallContext) SessionID() string   { return "sess-1" }
func (f *fakeCallContext) OperationID() string { return "op-1" }
func (f *fakeCallContext) IsCancelled() bool    { return f.cancelled }
func (f *fakeCallContext) Progress(progress float64, message string) {
	f.progress = append(f.progress, progress)
}

func setup() (*registry.ToolRegistry, *registry.ResourceRegistry, *registry.PromptRegistry) {
	tools := registry.NewToolRegistry()
	resources := registry.NewResourceRegistry()
	prompts := registry.NewPromptRegistry()
	Register(tools, resources, prompts)
	return tools, resources, prompts
}

func TestPing(t *testing.T) {
	tools, _, _ := setup()
	h, ok := tools.Lookup("ping")
	if !ok {
		t.Fatal("expected ping to be registered")
	}
	result, err := h(context.Background(), &fakeCallContext{}, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "pong" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestProcessData_CompletesAndReportsProgress(t *testing.T) {
	tools, _, _ := setup()
	h, ok := tools.Lookup("processData")
	if !ok {
		t.Fatal("expected processData to be registered")
	}
	cc := &fakeCallContext{}
	result, err := h(context.Background(), cc, json.RawMessage(`{"steps":3}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Errorf("expected success, got error result: %+v", result)
	}
	if len(cc.progress) != 3 {
		t.Errorf("len(progress) = %d, want 3", len(cc.progress))
	}
	if cc.progress[2] != 1.0 {
		t.Errorf("final progress = %v, want 1.0", cc.progress[2])
	}
}

func TestProcessData_StopsOnCancellation(t *testing.T) {
	tools, _, _ := setup()
	h, _ := tools.Lookup("processData")
	cc := &fakeCallContext{cancelled: true}
	result, err := h(context.Background(), cc, json.RawMessage(`{"steps":5}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("expected a cancellation result to be marked isError")
	}
	if len(cc.progress) != 0 {
		t.Errorf("expected no progress reported before cancellation was observed, got %v", cc.progress)
	}
}

func TestTimeResource(t *testing.T) {
	_, resources, _ := setup()
	h, ok := resources.Lookup(timeResourceURI)
	if !ok {
		t.Fatal("expected time resource to be registered")
	}
	result, err := h(context.Background(), &fakeCallContext{}, timeResourceURI, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Contents) != 1 || result.Contents[0].Text == "" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestGreetingPrompt(t *testing.T) {
	_, _, prompts := setup()
	h, ok := prompts.Lookup("greeting")
	if !ok {
		t.Fatal("expected greeting prompt to be registered")
	}
	result, err := h(context.Background(), &fakeCallContext{}, map[string]any{"name": "Ada"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Messages) != 1 {
		t.Fatalf("expected one message, got %d", len(result.Messages))
	}
	if want := "Hello, Ada! How can I help you today?"; result.Messages[0].Content.Text != want {
		t.Errorf("message = %q, want %q", result.Messages[0].Content.Text, want)
	}
}
