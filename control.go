package agentsdk

// Control protocol wire envelopes.
//
// Control requests flow in both directions on the same stream as data
// messages. Outbound requests (SDK to CLI) carry subtypes such as initialize
// and interrupt; inbound requests (CLI to SDK) carry can_use_tool,
// hook_callback, and mcp_message. Every request is answered with a
// control_response correlated by request_id.

// Outbound control request subtypes.
const (
	ControlSubtypeInitialize        = "initialize"
	ControlSubtypeInterrupt         = "interrupt"
	ControlSubtypeSetPermissionMode = "set_permission_mode"
	ControlSubtypeSetModel          = "set_model"
	ControlSubtypeRewindFiles       = "rewind_files"
	ControlSubtypeMcpStatus         = "mcp_status"
)

// Inbound control request subtypes.
const (
	ControlSubtypeCanUseTool   = "can_use_tool"
	ControlSubtypeHookCallback = "hook_callback"
	ControlSubtypeMcpMessage   = "mcp_message"
)

// ControlRequest is a control protocol request envelope.
//
// RequestID is unique per session ("req_N" for SDK-originated requests). The
// nested Request carries the subtype-keyed payload.
type ControlRequest struct {
	Type      string             `json:"type"` // Always "control_request"
	RequestID string             `json:"request_id"`
	Request   ControlRequestBody `json:"request"`
}

// MessageType implements Message.
func (m ControlRequest) MessageType() string { return "control_request" }

// ControlRequestBody contains the request payload.
// This is a union: different fields are populated for different subtypes.
type ControlRequestBody struct {
	Subtype string `json:"subtype"`

	// Initialize fields.
	Hooks  map[string][]HookMatcherConfig `json:"hooks,omitempty"`
	Agents map[string]AgentDefinition     `json:"agents,omitempty"`

	// can_use_tool fields.
	ToolName              string         `json:"tool_name,omitempty"`
	Input                 map[string]any `json:"input,omitempty"`
	PermissionSuggestions []any          `json:"permission_suggestions,omitempty"`
	ToolUseID             string         `json:"tool_use_id,omitempty"`

	// hook_callback fields (Input and ToolUseID are shared with
	// can_use_tool).
	CallbackID string `json:"callback_id,omitempty"`

	// Runtime configuration fields.
	Mode  string `json:"mode,omitempty"`
	Model string `json:"model,omitempty"`

	// rewind_files fields.
	UserMessageID string `json:"user_message_id,omitempty"`

	// mcp_message fields. Message is a raw JSON-RPC request.
	ServerName string         `json:"server_name,omitempty"`
	Message    map[string]any `json:"message,omitempty"`
}

// HookMatcherConfig is the initialize-time projection of a hook matcher. The
// callback ids are assigned in sorted event order, then registration order,
// and stay stable for the session.
type HookMatcherConfig struct {
	Matcher         string   `json:"matcher,omitempty"`
	HookCallbackIDs []string `json:"hookCallbackIds"`
	Timeout         int      `json:"timeout,omitempty"`
}

// ControlResponse is a control protocol response envelope.
//
// Responses correlate to requests via the nested RequestID and carry either a
// result payload or an error string.
type ControlResponse struct {
	Type     string              `json:"type"` // Always "control_response"
	Response ControlResponseBody `json:"response"`
}

// MessageType implements Message.
func (m ControlResponse) MessageType() string { return "control_response" }

// ControlResponseBody contains the response payload.
type ControlResponseBody struct {
	Subtype   string         `json:"subtype"` // "success" or "error"
	RequestID string         `json:"request_id"`
	Response  map[string]any `json:"response,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// ControlCancelRequest asks the receiver to cancel a pending control request.
// The session accepts these and ignores them.
type ControlCancelRequest struct {
	Type      string `json:"type"` // Always "control_cancel_request"
	RequestID string `json:"request_id"`
}

// MessageType implements Message.
func (m ControlCancelRequest) MessageType() string { return "control_cancel_request" }

// successResponse builds a success control response for a peer request.
func successResponse(requestID string, payload map[string]any) ControlResponse {
	return ControlResponse{
		Type: "control_response",
		Response: ControlResponseBody{
			Subtype:   "success",
			RequestID: requestID,
			Response:  payload,
		},
	}
}

// errorResponse builds an error control response for a peer request.
func errorResponse(requestID string, msg string) ControlResponse {
	return ControlResponse{
		Type: "control_response",
		Response: ControlResponseBody{
			Subtype:   "error",
			RequestID: requestID,
			Error:     msg,
		},
	}
}
