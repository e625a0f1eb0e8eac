package agentsdk

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseMessageUser verifies user envelope decoding for both content
// forms.
func TestParseMessageUser(t *testing.T) {
	t.Run("string content", func(t *testing.T) {
		raw := `{
			"type": "user",
			"uuid": "u-1",
			"session_id": "s-1",
			"message": {"role": "user", "content": "hello"},
			"parent_tool_use_id": null
		}`

		msg, err := ParseMessage([]byte(raw))
		require.NoError(t, err)

		user, ok := msg.(UserMessage)
		require.True(t, ok)
		assert.Equal(t, "user", user.MessageType())
		assert.Equal(t, "hello", user.Content.Text)
		assert.Nil(t, user.Content.Blocks)
		assert.Equal(t, "u-1", user.UUID)
		assert.Equal(t, "s-1", user.SessionID)
		assert.Nil(t, user.ParentToolUseID)
	})

	t.Run("block content with tool result", func(t *testing.T) {
		raw := `{
			"type": "user",
			"message": {"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "toolu_1",
				 "content": "done", "is_error": false}
			]},
			"parent_tool_use_id": "toolu_1"
		}`

		msg, err := ParseMessage([]byte(raw))
		require.NoError(t, err)

		user := msg.(UserMessage)
		require.Len(t, user.Content.Blocks, 1)
		block := user.Content.Blocks[0]
		assert.Equal(t, ContentBlockTypeToolResult, block.Type)
		assert.Equal(t, "toolu_1", block.ToolUseID)
		assert.Equal(t, `"done"`, string(block.Content))
		require.NotNil(t, block.IsError)
		assert.False(t, *block.IsError)
		require.NotNil(t, user.ParentToolUseID)
		assert.Equal(t, "toolu_1", *user.ParentToolUseID)
	})
}

// TestParseMessageAssistant verifies the nested message envelope and mixed
// content blocks.
func TestParseMessageAssistant(t *testing.T) {
	raw := `{
		"type": "assistant",
		"message": {
			"role": "assistant",
			"model": "claude-sonnet-4-5",
			"content": [
				{"type": "thinking", "thinking": "let me see",
				 "signature": "sig-1"},
				{"type": "text", "text": "The answer "},
				{"type": "tool_use", "id": "toolu_2",
				 "name": "Bash",
				 "input": {"command": "echo hi"}},
				{"type": "text", "text": "is 4."}
			]
		}
	}`

	msg, err := ParseMessage([]byte(raw))
	require.NoError(t, err)

	assistant, ok := msg.(AssistantMessage)
	require.True(t, ok)
	assert.Equal(t, "claude-sonnet-4-5", assistant.Model)
	require.Len(t, assistant.Content, 4)

	assert.Equal(t, "let me see", assistant.Content[0].Thinking)
	assert.Equal(t, "sig-1", assistant.Content[0].Signature)

	assert.Equal(t, "toolu_2", assistant.Content[2].ID)
	assert.Equal(t, "Bash", assistant.Content[2].Name)
	assert.JSONEq(t, `{"command": "echo hi"}`,
		string(assistant.Content[2].Input))

	assert.Equal(t, "The answer is 4.", assistant.ContentText())
}

// TestParseMessageSystem verifies subtype extraction and verbatim payload
// preservation.
func TestParseMessageSystem(t *testing.T) {
	raw := `{
		"type": "system",
		"subtype": "init",
		"session_id": "sess-42",
		"model": "claude-sonnet-4-5",
		"tools": ["Bash", "Read"]
	}`

	msg, err := ParseMessage([]byte(raw))
	require.NoError(t, err)

	system, ok := msg.(SystemMessage)
	require.True(t, ok)
	assert.Equal(t, "init", system.Subtype)
	assert.Equal(t, "sess-42", system.SessionID())
	assert.Equal(t, "claude-sonnet-4-5", system.StringField("model"))
	assert.Equal(t, "", system.StringField("tools"))
	assert.Equal(t, "", system.StringField("missing"))

	// Re-serialization emits the original payload untouched.
	out, err := json.Marshal(system)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

// TestParseMessageResult verifies the flat result envelope with statistics.
func TestParseMessageResult(t *testing.T) {
	raw := `{
		"type": "result",
		"subtype": "success",
		"duration_ms": 2500,
		"duration_api_ms": 2100,
		"is_error": false,
		"num_turns": 1,
		"session_id": "sess-42",
		"total_cost_usd": 0.003,
		"usage": {"input_tokens": 10, "output_tokens": 20},
		"result": "4"
	}`

	msg, err := ParseMessage([]byte(raw))
	require.NoError(t, err)

	result, ok := msg.(ResultMessage)
	require.True(t, ok)
	assert.Equal(t, ResultSubtypeSuccess, result.Subtype)
	assert.Equal(t, int64(2500), result.DurationMs)
	assert.Equal(t, 1, result.NumTurns)
	assert.Equal(t, "sess-42", result.SessionID)
	require.NotNil(t, result.TotalCostUSD)
	assert.InDelta(t, 0.003, *result.TotalCostUSD, 1e-9)
	require.NotNil(t, result.Usage)
	assert.Equal(t, 10, result.Usage.InputTokens)
	assert.Equal(t, 20, result.Usage.OutputTokens)
	require.NotNil(t, result.Result)
	assert.Equal(t, "4", *result.Result)
}

// TestParseMessageStreamEvent verifies the raw event payload is preserved.
func TestParseMessageStreamEvent(t *testing.T) {
	raw := `{
		"type": "stream_event",
		"uuid": "ev-1",
		"session_id": "sess-42",
		"event": {"type": "content_block_delta", "index": 0}
	}`

	msg, err := ParseMessage([]byte(raw))
	require.NoError(t, err)

	event, ok := msg.(StreamEvent)
	require.True(t, ok)
	assert.Equal(t, "ev-1", event.UUID)
	assert.JSONEq(t, `{"type": "content_block_delta", "index": 0}`,
		string(event.Event))
}

// TestParseMessageControlEnvelopes verifies control traffic parses to its
// dedicated types.
func TestParseMessageControlEnvelopes(t *testing.T) {
	msg, err := ParseMessage([]byte(`{
		"type": "control_request",
		"request_id": "peer_1",
		"request": {"subtype": "can_use_tool", "tool_name": "Bash"}
	}`))
	require.NoError(t, err)
	req, ok := msg.(ControlRequest)
	require.True(t, ok)
	assert.Equal(t, "peer_1", req.RequestID)
	assert.Equal(t, ControlSubtypeCanUseTool, req.Request.Subtype)

	msg, err = ParseMessage([]byte(`{
		"type": "control_response",
		"response": {"subtype": "success", "request_id": "req_1"}
	}`))
	require.NoError(t, err)
	resp, ok := msg.(ControlResponse)
	require.True(t, ok)
	assert.Equal(t, "req_1", resp.Response.RequestID)

	msg, err = ParseMessage([]byte(`{
		"type": "control_cancel_request",
		"request_id": "req_2"
	}`))
	require.NoError(t, err)
	cancel, ok := msg.(ControlCancelRequest)
	require.True(t, ok)
	assert.Equal(t, "req_2", cancel.RequestID)
}

// TestParseMessageUnknownType verifies unknown top-level types surface as
// parse errors carrying the payload.
func TestParseMessageUnknownType(t *testing.T) {
	_, err := ParseMessage([]byte(`{"type": "telemetry"}`))

	var parseErr *ErrMessageParse
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "telemetry", parseErr.Type)
	assert.JSONEq(t, `{"type": "telemetry"}`, string(parseErr.Data))
}

// TestParseMessageInvalidJSON verifies undecodable input is a parse error.
func TestParseMessageInvalidJSON(t *testing.T) {
	_, err := ParseMessage([]byte(`{not json`))

	var parseErr *ErrMessageParse
	require.ErrorAs(t, err, &parseErr)
	assert.Error(t, parseErr.Cause)
}

// TestContentBlockUnknownType verifies unrecognized block types parse with
// only the discriminator populated.
func TestContentBlockUnknownType(t *testing.T) {
	raw := `{
		"type": "assistant",
		"message": {"role": "assistant", "content": [
			{"type": "server_tool_use", "payload": {"x": 1}},
			{"type": "text", "text": "after"}
		]}
	}`

	msg, err := ParseMessage([]byte(raw))
	require.NoError(t, err)

	assistant := msg.(AssistantMessage)
	require.Len(t, assistant.Content, 2)
	assert.Equal(t, "server_tool_use", assistant.Content[0].BlockType())
	assert.Empty(t, assistant.Content[0].Text)
	assert.Equal(t, "after", assistant.ContentText())
}

// TestUserContentMarshalForms verifies the string-or-array wire shape.
func TestUserContentMarshalForms(t *testing.T) {
	data, err := json.Marshal(TextContent("plain"))
	require.NoError(t, err)
	assert.Equal(t, `"plain"`, string(data))

	data, err = json.Marshal(BlockContent(TextBlock("block")))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"type": "text", "text": "block"}]`, string(data))

	var roundTrip UserContent
	require.NoError(t, json.Unmarshal(data, &roundTrip))
	require.Len(t, roundTrip.Blocks, 1)
	assert.Equal(t, "block", roundTrip.Blocks[0].Text)
}

// TestUserMessageMarshal verifies the outbound envelope nests role and
// content under "message".
func TestUserMessageMarshal(t *testing.T) {
	msg := UserMessage{
		Content:   TextContent("run the tests"),
		UUID:      "u-9",
		SessionID: "s-9",
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var env map[string]any
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "user", env["type"])
	assert.Equal(t, "u-9", env["uuid"])

	inner := env["message"].(map[string]any)
	assert.Equal(t, "user", inner["role"])
	assert.Equal(t, "run the tests", inner["content"])
}

// TestToolResultBlock verifies content marshaling and the is_error pointer.
func TestToolResultBlock(t *testing.T) {
	block, err := ToolResultBlock("toolu_5", map[string]any{"ok": true},
		false)
	require.NoError(t, err)
	assert.Equal(t, ContentBlockTypeToolResult, block.Type)
	assert.Equal(t, "toolu_5", block.ToolUseID)
	assert.JSONEq(t, `{"ok": true}`, string(block.Content))
	assert.Nil(t, block.IsError)

	block, err = ToolResultBlock("toolu_6", "command failed", true)
	require.NoError(t, err)
	require.NotNil(t, block.IsError)
	assert.True(t, *block.IsError)

	_, err = ToolResultBlock("toolu_7", func() {}, false)
	assert.Error(t, err)
}
