package agentsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// McpServer is an in-process MCP tool server.
//
// Tool calls are routed over the session's control channel rather than
// spawning a separate subprocess, which makes in-process servers the
// lightest way to expose custom tools to the agent. Register a server with
// WithMcpServer and tools with AddTool.
type McpServer struct {
	name    string
	version string

	mu    sync.RWMutex
	tools map[string]*toolEntry
	order []string
}

// toolEntry stores tool metadata and its handler.
type toolEntry struct {
	def     ToolDef
	handler func(ctx context.Context, args json.RawMessage) (ToolResult, error)
}

// ToolDef describes an MCP tool without its handler.
type ToolDef struct {
	// Name is the tool name.
	Name string

	// Description tells the agent what the tool does.
	Description string

	// InputSchema is the JSON Schema for the tool's arguments. AddTool
	// fills it from the Args type when the tool gives none; a nil schema
	// is listed as a permissive object schema.
	InputSchema any
}

// ToolResult is the result of a tool invocation.
type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// ToolContent is one content item in a tool result.
type ToolContent struct {
	Type     string `json:"type"` // "text" or "resource"
	Text     string `json:"text,omitempty"`
	Resource string `json:"resource,omitempty"`
}

// NewMcpServer creates an in-process MCP server. An empty version defaults
// to "1.0.0".
func NewMcpServer(name, version string) *McpServer {
	if version == "" {
		version = "1.0.0"
	}
	return &McpServer{
		name:    name,
		version: version,
		tools:   make(map[string]*toolEntry),
	}
}

// Tool declares a typed tool for AddTool. Arguments are unmarshaled into
// Args before the handler runs.
type Tool[Args any] struct {
	// Name is the tool name.
	Name string

	// Description tells the agent what the tool does.
	Description string

	// InputSchema overrides the schema inferred from Args when non-nil.
	InputSchema any

	// Handler executes the tool.
	Handler func(ctx context.Context, args Args) (ToolResult, error)
}

// AddTool registers a typed tool with the server.
//
// When the tool does not carry an explicit input schema, one is inferred
// from the Args struct via jsonschema-go, honoring `json` and `jsonschema`
// struct tags.
//
// Example:
//
//	type AddArgs struct {
//	    A int `json:"a"`
//	    B int `json:"b"`
//	}
//
//	agentsdk.AddTool(server, agentsdk.Tool[AddArgs]{
//	    Name:        "add",
//	    Description: "Add two numbers",
//	    Handler: func(ctx context.Context, args AddArgs) (agentsdk.ToolResult, error) {
//	        return agentsdk.TextResult(fmt.Sprintf("%d", args.A+args.B)), nil
//	    },
//	})
func AddTool[Args any](server *McpServer, tool Tool[Args]) {
	schema := tool.InputSchema
	if schema == nil {
		if inferred, err := jsonschema.For[Args](nil); err == nil {
			schema = inferred
		}
	}

	def := ToolDef{
		Name:        tool.Name,
		Description: tool.Description,
		InputSchema: schema,
	}
	server.addTool(def, func(ctx context.Context,
		rawArgs json.RawMessage) (ToolResult, error) {

		var args Args
		if len(rawArgs) > 0 {
			if err := json.Unmarshal(rawArgs, &args); err != nil {
				return ErrorResult(fmt.Sprintf(
					"invalid arguments: %v", err)), nil
			}
		}
		return tool.Handler(ctx, args)
	})
}

// AddToolWithResponse registers a tool whose typed response is marshaled to
// JSON text content. Handler errors become error results rather than
// protocol failures.
func AddToolWithResponse[Args, Response any](server *McpServer,
	name, description string,
	handler func(ctx context.Context, args Args) (Response, error)) {

	AddTool(server, Tool[Args]{
		Name:        name,
		Description: description,
		Handler: func(ctx context.Context, args Args) (ToolResult,
			error) {

			resp, err := handler(ctx, args)
			if err != nil {
				return ErrorResult(err.Error()), nil
			}
			data, err := json.Marshal(resp)
			if err != nil {
				return ErrorResult(fmt.Sprintf(
					"failed to marshal response: %v",
					err)), nil
			}
			return TextResult(string(data)), nil
		},
	})
}

// AddToolUntyped registers a tool handler that receives raw JSON arguments.
// Useful for dynamic tools that carry their own schema.
func AddToolUntyped(server *McpServer, def ToolDef,
	handler func(ctx context.Context, args json.RawMessage) (ToolResult,
		error)) {

	server.addTool(def, handler)
}

func (s *McpServer) addTool(def ToolDef, handler func(ctx context.Context,
	args json.RawMessage) (ToolResult, error)) {

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tools[def.Name]; !exists {
		s.order = append(s.order, def.Name)
	}
	s.tools[def.Name] = &toolEntry{
		def:     def,
		handler: handler,
	}
}

// Name returns the server name.
func (s *McpServer) Name() string {
	return s.name
}

// Version returns the server version.
func (s *McpServer) Version() string {
	return s.version
}

// ToolNames returns the registered tool names in registration order.
func (s *McpServer) ToolNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, len(s.order))
	copy(names, s.order)
	return names
}

// ToolDefs returns the registered tool definitions in registration order.
func (s *McpServer) ToolDefs() []ToolDef {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]ToolDef, 0, len(s.order))
	for _, name := range s.order {
		defs = append(defs, s.tools[name].def)
	}
	return defs
}

// toolDescriptors renders the registered tools for a tools/list response,
// in registration order.
func (s *McpServer) toolDescriptors() []map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]map[string]any, 0, len(s.order))
	for _, name := range s.order {
		def := s.tools[name].def
		out = append(out, map[string]any{
			"name":        def.Name,
			"description": def.Description,
			"inputSchema": marshalToolSchema(def.InputSchema),
		})
	}
	return out
}

// CallTool invokes a tool by name.
//
// A missing tool is a Go error; tool execution failures surface through
// ToolResult.IsError instead.
func (s *McpServer) CallTool(ctx context.Context, name string,
	args map[string]any) (ToolResult, error) {

	s.mu.RLock()
	entry, ok := s.tools[name]
	s.mu.RUnlock()
	if !ok {
		return ToolResult{}, fmt.Errorf("tool not found: %s", name)
	}

	var raw json.RawMessage
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return ToolResult{}, fmt.Errorf(
				"failed to encode arguments: %w", err)
		}
		raw = data
	}

	return entry.handler(ctx, raw)
}

// TextResult creates a successful tool result with text content.
func TextResult(text string) ToolResult {
	return ToolResult{
		Content: []ToolContent{{Type: "text", Text: text}},
	}
}

// ErrorResult creates an error tool result with text content.
func ErrorResult(text string) ToolResult {
	return ToolResult{
		Content: []ToolContent{{Type: "text", Text: text}},
		IsError: true,
	}
}

// ResourceResult creates a successful tool result with resource content.
func ResourceResult(resource string) ToolResult {
	return ToolResult{
		Content: []ToolContent{{Type: "resource", Resource: resource}},
	}
}
