package agentsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// mcpProtocolVersion is the MCP protocol revision spoken to in-process
// servers over the control channel.
const mcpProtocolVersion = "2024-11-05"

// sendFunc delivers an outbound value through the session's writer channel.
type sendFunc func(ctx context.Context, v any) error

// controlMux dispatches inbound peer control requests: permission checks,
// hook callbacks, and MCP traffic for in-process servers.
//
// Every request gets exactly one control response, sent through the writer
// channel rather than directly to the transport. Callback panics are
// recovered into error responses so a misbehaving callback cannot take the
// session down.
type controlMux struct {
	opts   *Options
	hooks  *hookRegistry
	send   sendFunc
	logger *slog.Logger
}

func newControlMux(opts *Options, hooks *hookRegistry,
	send sendFunc) *controlMux {

	return &controlMux{
		opts:   opts,
		hooks:  hooks,
		send:   send,
		logger: opts.logger(),
	}
}

// handle answers one inbound control request. Runs on its own goroutine.
func (m *controlMux) handle(ctx context.Context, req ControlRequest) {
	var resp ControlResponse

	func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("control handler panicked",
					"subtype", req.Request.Subtype,
					"panic", r)
				resp = errorResponse(req.RequestID,
					fmt.Sprintf("handler panic: %v", r))
			}
		}()
		resp = m.dispatch(ctx, req)
	}()

	if err := m.send(ctx, resp); err != nil {
		m.logger.Debug("failed to send control response",
			"request_id", req.RequestID, "err", err)
	}
}

func (m *controlMux) dispatch(ctx context.Context,
	req ControlRequest) ControlResponse {

	switch req.Request.Subtype {
	case ControlSubtypeCanUseTool:
		return m.handleCanUseTool(ctx, req)
	case ControlSubtypeHookCallback:
		return m.handleHookCallback(ctx, req)
	case ControlSubtypeMcpMessage:
		return m.handleMcpMessage(ctx, req)
	default:
		return errorResponse(req.RequestID, fmt.Sprintf(
			"unsupported control request subtype: %s",
			req.Request.Subtype))
	}
}

// handleCanUseTool runs the registered permission callback and projects its
// result onto the wire.
func (m *controlMux) handleCanUseTool(ctx context.Context,
	req ControlRequest) ControlResponse {

	if m.opts.CanUseTool == nil {
		return errorResponse(req.RequestID,
			"no permission callback registered")
	}

	pctx := ToolPermissionContext{
		Suggestions: parsePermissionSuggestions(
			req.Request.PermissionSuggestions),
		ToolUseID: req.Request.ToolUseID,
	}

	result, err := m.opts.CanUseTool(ctx, req.Request.ToolName,
		req.Request.Input, pctx)
	if err != nil {
		return errorResponse(req.RequestID, fmt.Sprintf(
			"permission callback failed: %v", err))
	}
	if result == nil {
		return errorResponse(req.RequestID,
			"permission callback returned no result")
	}

	return successResponse(req.RequestID, result.toWire())
}

// handleHookCallback looks the callback id up in the session hook table and
// runs it.
func (m *controlMux) handleHookCallback(ctx context.Context,
	req ControlRequest) ControlResponse {

	cb, ok := m.hooks.lookup(req.Request.CallbackID)
	if !ok {
		return errorResponse(req.RequestID, fmt.Sprintf(
			"unknown hook callback id: %s",
			req.Request.CallbackID))
	}

	output, err := cb(ctx, req.Request.Input, req.Request.ToolUseID)
	if err != nil {
		return errorResponse(req.RequestID, fmt.Sprintf(
			"hook callback failed: %v", err))
	}

	if output == nil {
		output = SyncHookOutput{}
	}
	return successResponse(req.RequestID, output.toWire())
}

// handleMcpMessage routes a JSON-RPC message to the named in-process MCP
// server and wraps the JSON-RPC reply for the control channel.
func (m *controlMux) handleMcpMessage(ctx context.Context,
	req ControlRequest) ControlResponse {

	server, ok := m.opts.SDKMCPServers[req.Request.ServerName]
	if !ok {
		return errorResponse(req.RequestID, fmt.Sprintf(
			"unknown sdk mcp server: %s", req.Request.ServerName))
	}

	rpc := req.Request.Message
	method, _ := rpc["method"].(string)
	id, hasID := rpc["id"]

	// Notifications carry no id and expect no JSON-RPC reply; the
	// control request itself is still acknowledged.
	if !hasID {
		m.logger.Debug("mcp notification", "method", method,
			"server", req.Request.ServerName)
		return successResponse(req.RequestID, map[string]any{
			"mcp_response": map[string]any{
				"jsonrpc": "2.0",
				"result":  map[string]any{},
			},
		})
	}

	var result map[string]any
	var rpcErr *jsonRPCError

	switch method {
	case "initialize":
		result = map[string]any{
			"protocolVersion": mcpProtocolVersion,
			"capabilities": map[string]any{
				"tools": map[string]any{},
			},
			"serverInfo": map[string]any{
				"name":    server.Name(),
				"version": server.Version(),
			},
		}

	case "tools/list":
		result = map[string]any{
			"tools": server.toolDescriptors(),
		}

	case "tools/call":
		result, rpcErr = m.callTool(ctx, server, rpc)

	default:
		rpcErr = &jsonRPCError{
			Code:    -32601,
			Message: fmt.Sprintf("method not found: %s", method),
		}
	}

	body := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
	}
	if rpcErr != nil {
		body["error"] = rpcErr
	} else {
		body["result"] = result
	}

	return successResponse(req.RequestID, map[string]any{
		"mcp_response": body,
	})
}

// callTool extracts tools/call params and invokes the server's tool.
func (m *controlMux) callTool(ctx context.Context, server *McpServer,
	rpc map[string]any) (map[string]any, *jsonRPCError) {

	params, _ := rpc["params"].(map[string]any)
	name, _ := params["name"].(string)
	if name == "" {
		return nil, &jsonRPCError{
			Code:    -32602,
			Message: "tools/call requires a tool name",
		}
	}
	args, _ := params["arguments"].(map[string]any)

	result, err := server.CallTool(ctx, name, args)
	if err != nil {
		return nil, &jsonRPCError{
			Code:    -32603,
			Message: err.Error(),
		}
	}

	content := make([]map[string]any, 0, len(result.Content))
	for _, c := range result.Content {
		entry := map[string]any{"type": c.Type}
		switch c.Type {
		case "text":
			entry["text"] = c.Text
		case "resource":
			entry["resource"] = c.Resource
		}
		content = append(content, entry)
	}

	out := map[string]any{"content": content}
	if result.IsError {
		out["isError"] = true
	}
	return out, nil
}

// jsonRPCError is an MCP JSON-RPC error object.
type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// marshalToolSchema renders a tool's input schema for tools/list. A nil
// schema becomes a permissive object schema.
func marshalToolSchema(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}

	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	return out
}
