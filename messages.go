package agentsdk

import (
	"encoding/json"
)

// Message is the base interface for all data messages produced by an agent
// session.
//
// Messages can be user prompts (echoed or replayed by the CLI), assistant
// responses, system notifications, streaming events, or the final result of a
// turn. The MessageType method returns the wire identifier used for routing
// and serialization.
type Message interface {
	MessageType() string
}

// ContentBlock represents a single content element in a user or assistant
// message.
//
// Content blocks can be:
// - text: Plain text response
// - thinking: The model's reasoning process (when extended thinking is enabled)
// - tool_use: Request to execute a tool
// - tool_result: Result of a tool execution (user messages from the Claude
//   backend; the Codex and Cursor normalizers put it in assistant messages)
//
// Blocks with an unrecognized Type still parse; only Type is populated and
// consumers should skip them.
type ContentBlock struct {
	Type string `json:"type"`

	// Text carries the body of text blocks.
	Text string `json:"text,omitempty"`

	// Thinking and Signature carry thinking blocks.
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// ID, Name, and Input carry tool_use blocks. Input is the raw JSON
	// arguments object.
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// ToolUseID, Content, and IsError carry tool_result blocks. Content is
	// either a JSON string or an array of nested blocks, preserved raw.
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   *bool           `json:"is_error,omitempty"`
}

// Content block type discriminators.
const (
	ContentBlockTypeText       = "text"
	ContentBlockTypeThinking   = "thinking"
	ContentBlockTypeToolUse    = "tool_use"
	ContentBlockTypeToolResult = "tool_result"
)

// BlockType returns the type of this content block.
func (c ContentBlock) BlockType() string { return c.Type }

// TextBlock constructs a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: ContentBlockTypeText, Text: text}
}

// ToolResultBlock constructs a tool_result content block referencing a prior
// tool_use by id. Content is marshaled to JSON.
func ToolResultBlock(toolUseID string, content any, isError bool) (ContentBlock, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return ContentBlock{}, err
	}
	block := ContentBlock{
		Type:      ContentBlockTypeToolResult,
		ToolUseID: toolUseID,
		Content:   raw,
	}
	if isError {
		block.IsError = &isError
	}
	return block, nil
}

// UserContent is the content of a user message: either a plain string or a
// list of content blocks. Blocks wins when non-nil.
type UserContent struct {
	Text   string
	Blocks []ContentBlock
}

// TextContent wraps a plain string as user content.
func TextContent(text string) UserContent {
	return UserContent{Text: text}
}

// BlockContent wraps content blocks as user content.
func BlockContent(blocks ...ContentBlock) UserContent {
	return UserContent{Blocks: blocks}
}

// MarshalJSON implements json.Marshaler. Plain text serializes as a JSON
// string, blocks as a JSON array.
func (c UserContent) MarshalJSON() ([]byte, error) {
	if c.Blocks != nil {
		return json.Marshal(c.Blocks)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *UserContent) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		c.Text = text
		c.Blocks = nil
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	c.Text = ""
	c.Blocks = blocks
	return nil
}

// UserMessage represents a user prompt.
//
// Outbound user messages initiate or continue a conversation. The CLI also
// replays user messages (for example tool results it synthesized) on the
// output stream. The ParentToolUseID field links the message to a specific
// tool call when it carries tool results.
type UserMessage struct {
	Content         UserContent
	UUID            string
	SessionID       string
	ParentToolUseID *string
	ToolUseResult   json.RawMessage
}

// MessageType implements Message.
func (m UserMessage) MessageType() string { return "user" }

// userEnvelope is the wire shape of a user message. The role/content pair is
// nested under "message" in Anthropic API format.
type userEnvelope struct {
	Type    string `json:"type"`
	UUID    string `json:"uuid,omitempty"`
	Session string `json:"session_id,omitempty"`
	Message struct {
		Role    string      `json:"role"`
		Content UserContent `json:"content"`
	} `json:"message"`
	ParentToolUseID *string         `json:"parent_tool_use_id"`
	ToolUseResult   json.RawMessage `json:"tool_use_result,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (m UserMessage) MarshalJSON() ([]byte, error) {
	var env userEnvelope
	env.Type = "user"
	env.UUID = m.UUID
	env.Session = m.SessionID
	env.Message.Role = "user"
	env.Message.Content = m.Content
	env.ParentToolUseID = m.ParentToolUseID
	env.ToolUseResult = m.ToolUseResult
	return json.Marshal(env)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *UserMessage) UnmarshalJSON(data []byte) error {
	var env userEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	m.Content = env.Message.Content
	m.UUID = env.UUID
	m.SessionID = env.Session
	m.ParentToolUseID = env.ParentToolUseID
	m.ToolUseResult = env.ToolUseResult
	return nil
}

// AssistantMessage represents a response from the agent.
//
// Assistant messages contain one or more content blocks that can be text,
// tool use requests, or thinking blocks. ParentToolUseID is set when the
// message was produced by a subagent running under a tool call.
type AssistantMessage struct {
	Content         []ContentBlock
	Model           string
	ParentToolUseID *string
	Error           *string
}

// MessageType implements Message.
func (m AssistantMessage) MessageType() string { return "assistant" }

// ContentText returns the concatenated text from all text content blocks.
//
// This is a convenience method for extracting the main text response,
// ignoring tool use and thinking blocks.
func (m AssistantMessage) ContentText() string {
	var text string
	for _, block := range m.Content {
		if block.Type == ContentBlockTypeText {
			text += block.Text
		}
	}
	return text
}

// assistantEnvelope is the wire shape of an assistant message. The model and
// content live nested under "message" in Anthropic API format.
type assistantEnvelope struct {
	Type    string `json:"type"`
	Message struct {
		Role    string         `json:"role"`
		Model   string         `json:"model,omitempty"`
		Content []ContentBlock `json:"content"`
	} `json:"message"`
	ParentToolUseID *string `json:"parent_tool_use_id,omitempty"`
	Error           *string `json:"error,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (m AssistantMessage) MarshalJSON() ([]byte, error) {
	var env assistantEnvelope
	env.Type = "assistant"
	env.Message.Role = "assistant"
	env.Message.Model = m.Model
	env.Message.Content = m.Content
	env.ParentToolUseID = m.ParentToolUseID
	env.Error = m.Error
	return json.Marshal(env)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *AssistantMessage) UnmarshalJSON(data []byte) error {
	var env assistantEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	m.Content = env.Message.Content
	m.Model = env.Message.Model
	m.ParentToolUseID = env.ParentToolUseID
	m.Error = env.Error
	return nil
}

// SystemMessage represents a system notification from the agent.
//
// The best known subtype is "init", sent at session start with tool, model,
// and MCP server information. System payloads vary across CLI versions, so
// the full message is preserved verbatim in Data and re-serialized untouched.
type SystemMessage struct {
	Subtype string
	Data    json.RawMessage
}

// MessageType implements Message.
func (m SystemMessage) MessageType() string { return "system" }

// MarshalJSON implements json.Marshaler. The original payload is emitted
// verbatim.
func (m SystemMessage) MarshalJSON() ([]byte, error) {
	if len(m.Data) > 0 {
		return m.Data, nil
	}
	return json.Marshal(map[string]string{
		"type":    "system",
		"subtype": m.Subtype,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *SystemMessage) UnmarshalJSON(data []byte) error {
	var peek struct {
		Subtype string `json:"subtype"`
	}
	if err := json.Unmarshal(data, &peek); err != nil {
		return err
	}
	m.Subtype = peek.Subtype
	m.Data = append([]byte(nil), data...)
	return nil
}

// StringField extracts a top-level string field from the preserved payload.
// It returns "" when the field is absent or not a string.
func (m SystemMessage) StringField(key string) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(m.Data, &fields); err != nil {
		return ""
	}
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// SessionID returns the session identifier carried by the payload, if any.
func (m SystemMessage) SessionID() string { return m.StringField("session_id") }

// Usage tracks token consumption for billing and rate limiting.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
}

// ResultMessage represents the final outcome of a conversation turn.
//
// This message signals completion (success or error) and carries cumulative
// timing, cost, and usage statistics for the turn. Exactly one result is
// produced per turn.
type ResultMessage struct {
	Type    string `json:"type"` // Always "result"
	Subtype string `json:"subtype"`

	DurationMs    int64 `json:"duration_ms"`
	DurationAPIMs int64 `json:"duration_api_ms"`
	IsError       bool  `json:"is_error"`
	NumTurns      int   `json:"num_turns"`

	SessionID string `json:"session_id"`

	TotalCostUSD     *float64        `json:"total_cost_usd,omitempty"`
	Usage            *Usage          `json:"usage,omitempty"`
	Result           *string         `json:"result,omitempty"`
	StructuredOutput json.RawMessage `json:"structured_output,omitempty"`
}

// MessageType implements Message.
func (m ResultMessage) MessageType() string { return "result" }

// Result subtypes.
const (
	ResultSubtypeSuccess        = "success"
	ResultSubtypeErrorMaxTurns  = "error_max_turns"
	ResultSubtypeErrorExecution = "error_during_execution"
)

// StreamEvent represents a raw streaming event emitted while a response is
// being generated.
//
// These are only produced when IncludePartialMessages is enabled. Event is an
// opaque provider event preserved as raw JSON.
type StreamEvent struct {
	Type            string          `json:"type"` // Always "stream_event"
	UUID            string          `json:"uuid"`
	SessionID       string          `json:"session_id"`
	Event           json.RawMessage `json:"event"`
	ParentToolUseID *string         `json:"parent_tool_use_id,omitempty"`
}

// MessageType implements Message.
func (m StreamEvent) MessageType() string { return "stream_event" }

// ParseMessage parses a JSON value into the appropriate Message type.
//
// The function inspects the "type" field to determine the concrete type and
// unmarshals accordingly. Control envelopes parse to their dedicated types;
// unknown top-level types return an ErrMessageParse.
func ParseMessage(data []byte) (Message, error) {
	var typeOnly struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &typeOnly); err != nil {
		return nil, &ErrMessageParse{Data: data, Cause: err}
	}

	switch typeOnly.Type {
	case "user":
		var msg UserMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &ErrMessageParse{Type: "user", Data: data, Cause: err}
		}
		return msg, nil

	case "assistant":
		var msg AssistantMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &ErrMessageParse{Type: "assistant", Data: data, Cause: err}
		}
		return msg, nil

	case "system":
		var msg SystemMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &ErrMessageParse{Type: "system", Data: data, Cause: err}
		}
		return msg, nil

	case "result":
		var msg ResultMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &ErrMessageParse{Type: "result", Data: data, Cause: err}
		}
		return msg, nil

	case "stream_event":
		var msg StreamEvent
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &ErrMessageParse{Type: "stream_event", Data: data, Cause: err}
		}
		return msg, nil

	case "control_request":
		var msg ControlRequest
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &ErrMessageParse{Type: "control_request", Data: data, Cause: err}
		}
		return msg, nil

	case "control_response":
		var msg ControlResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &ErrMessageParse{Type: "control_response", Data: data, Cause: err}
		}
		return msg, nil

	case "control_cancel_request":
		var msg ControlCancelRequest
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &ErrMessageParse{Type: "control_cancel_request", Data: data, Cause: err}
		}
		return msg, nil

	default:
		return nil, &ErrMessageParse{Type: typeOnly.Type, Data: data}
	}
}
