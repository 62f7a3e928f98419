package protocol

import "encoding/json"

// ClientInfo identifies the connecting client, supplied in initialize params.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializeParams is the payload of an initialize request.
type InitializeParams struct {
	ClientInfo      ClientInfo     `json:"clientInfo"`
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
}

// ServerInfo identifies this server in the initialize response.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolCapabilities advertises optional tool-related feature support.
type ToolCapabilities struct {
	ListChanged         bool `json:"listChanged"`
	SupportsProgress    bool `json:"supportsProgress"`
	SupportsCancellation bool `json:"supportsCancellation"`
}

// ResourceCapabilities advertises optional resource-related feature support.
type ResourceCapabilities struct {
	ListChanged bool `json:"listChanged"`
	Subscribe   bool `json:"subscribe"`
}

// PromptCapabilities advertises optional prompt-related feature support.
type PromptCapabilities struct {
	ListChanged bool `json:"listChanged"`
}

// Capabilities is the server's capability advertisement at initialize.
// Logging and sampling capabilities are not advertised.
type Capabilities struct {
	Tools     ToolCapabilities     `json:"tools"`
	Resources ResourceCapabilities `json:"resources"`
	Prompts   PromptCapabilities   `json:"prompts"`
}

// InitializeResult is the result of a successful initialize call.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
	Capabilities    Capabilities `json:"capabilities"`
}

// DefaultCapabilities returns the capability set this core advertises.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		Tools: ToolCapabilities{
			ListChanged:          false,
			SupportsProgress:     true,
			SupportsCancellation: true,
		},
		Resources: ResourceCapabilities{ListChanged: false, Subscribe: false},
		Prompts:   PromptCapabilities{ListChanged: false},
	}
}

// ToolDescriptor is the wire shape of a registered tool.
type ToolDescriptor struct {
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	InputSchema    map[string]any `json:"inputSchema"`
	Meta           map[string]any `json:"_meta,omitempty"`
	SecuritySchemes []string      `json:"securitySchemes,omitempty"`
}

// ResourceDescriptor is the wire shape of a registered resource.
type ResourceDescriptor struct {
	URI         string         `json:"uri"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	MimeType    string         `json:"mimeType,omitempty"`
	URITemplate string         `json:"uriTemplate,omitempty"`
	Meta        map[string]any `json:"_meta,omitempty"`
}

// PromptArgument describes one named argument a prompt accepts.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// PromptDescriptor is the wire shape of a registered prompt.
type PromptDescriptor struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// Content is a tagged union of text or image content blocks, per §4.7.
type Content struct {
	Type        string         `json:"type"`
	Text        string         `json:"text,omitempty"`
	Data        string         `json:"data,omitempty"`
	MimeType    string         `json:"mimeType,omitempty"`
	Annotations map[string]any `json:"annotations,omitempty"`
}

// TextContent builds a text Content block.
func TextContent(text string) Content {
	return Content{Type: "text", Text: text}
}

// ImageContent builds a base64 image Content block.
func ImageContent(data, mimeType string) Content {
	return Content{Type: "image", Data: data, MimeType: mimeType}
}

// CallToolResult is the result of a tools/call invocation.
type CallToolResult struct {
	Content []Content      `json:"content"`
	IsError bool           `json:"isError,omitempty"`
	Meta    map[string]any `json:"_meta,omitempty"`
}

// ResourceContent is one item in a ReadResourceResult.
type ResourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// ReadResourceResult is the result of a resources/read invocation.
type ReadResourceResult struct {
	Contents []ResourceContent `json:"contents"`
}

// PromptMessage is one role-tagged message in a PromptResult.
type PromptMessage struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// PromptResult is the result of a prompts/get invocation.
type PromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

// ToolsListResult is the result of tools/list.
type ToolsListResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

// ResourcesListResult is the result of resources/list.
type ResourcesListResult struct {
	Resources []ResourceDescriptor `json:"resources"`
}

// PromptsListResult is the result of prompts/list.
type PromptsListResult struct {
	Prompts []PromptDescriptor `json:"prompts"`
}

// ProgressParams is the params object of a notifications/progress message.
type ProgressParams struct {
	ProgressToken string  `json:"progressToken"`
	Progress      float64 `json:"progress"`
	Total         float64 `json:"total"`
	Message       string  `json:"message,omitempty"`
}

// CallToolParams is the params object of a tools/call request. Arguments
// is kept as raw JSON so it can be unmarshalled directly into each
// tool's own typed parameter struct without a lossy round trip through
// map[string]any.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Meta      struct {
		ProgressToken string `json:"progressToken,omitempty"`
	} `json:"_meta,omitempty"`
}

// ReadResourceParams is the params object of a resources/read request.
type ReadResourceParams struct {
	URI    string         `json:"uri"`
	Params map[string]any `json:"params,omitempty"`
}

// GetPromptParams is the params object of a prompts/get request.
type GetPromptParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// CancelOperationParams is the params object of an operations/cancel request.
type CancelOperationParams struct {
	OperationID string `json:"operationId"`
}
