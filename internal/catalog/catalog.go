// Package catalog registers the reference tool, resource and prompt set
// this server ships with: a trivial echo tool, a long-running tool that
// exercises progress reporting and cancellation, a clock resource, and
// a templated greeting prompt.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/HyphaGroup/mcpcore/internal/protocol"
	"github.com/HyphaGroup/mcpcore/internal/registry"
)

// Register wires every reference tool, resource and prompt into the
// given registries.
func Register(tools *registry.ToolRegistry, resources *registry.ResourceRegistry, prompts *registry.PromptRegistry) {
	registerPing(tools)
	registerProcessData(tools)
	registerTimeResource(resources)
	registerGreetingPrompt(prompts)
}

type pingParams struct{}

func registerPing(tools *registry.ToolRegistry) {
	registry.Register(tools, protocol.ToolDescriptor{
		Name:        "ping",
		Description: "Replies with pong. Does not report progress.",
	}, func(ctx context.Context, cc registry.CallContext, params pingParams) (*protocol.CallToolResult, error) {
		return &protocol.CallToolResult{Content: []protocol.Content{protocol.TextContent("pong")}}, nil
	})
}

type processDataParams struct {
	Steps int `json:"steps" description:"number of steps to simulate"`
}

func registerProcessData(tools *registry.ToolRegistry) {
	registry.Register(tools, protocol.ToolDescriptor{
		Name:        "processData",
		Description: "Simulates a multi-step task, reporting progress after each step and honoring cancellation.",
	}, func(ctx context.Context, cc registry.CallContext, params processDataParams) (*protocol.CallToolResult, error) {
		steps := params.Steps
		if steps <= 0 {
			steps = 1
		}

		for i := 1; i <= steps; i++ {
			if cc.IsCancelled() {
				return &protocol.CallToolResult{
					Content: []protocol.Content{protocol.TextContent(fmt.Sprintf("cancelled after %d/%d steps", i-1, steps))},
					IsError: true,
				}, nil
			}

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(10 * time.Millisecond):
			}

			cc.Progress(float64(i)/float64(steps), fmt.Sprintf("completed step %d of %d", i, steps))
		}

		return &protocol.CallToolResult{
			Content: []protocol.Content{protocol.TextContent(fmt.Sprintf("processed %d steps", steps))},
		}, nil
	})
}

const timeResourceURI = "server://time"

func registerTimeResource(resources *registry.ResourceRegistry) {
	resources.Register(protocol.ResourceDescriptor{
		URI:         timeResourceURI,
		Name:        "Server time",
		Description: "The server's current time in RFC 3339 format.",
		MimeType:    "text/plain",
	}, func(ctx context.Context, cc registry.CallContext, uri string, params map[string]any) (*protocol.ReadResourceResult, error) {
		return &protocol.ReadResourceResult{
			Contents: []protocol.ResourceContent{{
				URI:      uri,
				MimeType: "text/plain",
				Text:     time.Now().UTC().Format(time.RFC3339),
			}},
		}, nil
	})
}

func registerGreetingPrompt(prompts *registry.PromptRegistry) {
	prompts.Register(protocol.PromptDescriptor{
		Name:        "greeting",
		Description: "A friendly greeting addressed to the named recipient.",
		Arguments: []protocol.PromptArgument{
			{Name: "name", Description: "who to greet", Required: true},
		},
	}, func(ctx context.Context, cc registry.CallContext, arguments map[string]any) (*protocol.PromptResult, error) {
		name, _ := arguments["name"].(string)
		if name == "" {
			name = "there"
		}
		return &protocol.PromptResult{
			Description: "Greets the recipient by name.",
			Messages: []protocol.PromptMessage{
				{Role: "user", Content: protocol.TextContent(fmt.Sprintf("Hello, %s! How can I help you today?", name))},
			},
		}, nil
	})
}
