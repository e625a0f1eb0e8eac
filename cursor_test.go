package agentsdk

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseCursorEventSystem verifies system events flow through the common
// parser untouched.
func TestParseCursorEventSystem(t *testing.T) {
	msg, err := parseCursorEvent(json.RawMessage(
		`{"type":"system","subtype":"init","session_id":"chat-1"}`))
	require.NoError(t, err)

	system, ok := msg.(SystemMessage)
	require.True(t, ok)
	assert.Equal(t, "init", system.Subtype)
	assert.Equal(t, "chat-1", system.SessionID())
}

// TestParseCursorEventResult verifies result events parse to the common
// result type.
func TestParseCursorEventResult(t *testing.T) {
	msg, err := parseCursorEvent(json.RawMessage(
		`{"type":"result","subtype":"success","duration_ms":1200,` +
			`"is_error":false,"num_turns":1,"session_id":"chat-1"}`))
	require.NoError(t, err)

	result, ok := msg.(ResultMessage)
	require.True(t, ok)
	assert.Equal(t, ResultSubtypeSuccess, result.Subtype)
	assert.Equal(t, "chat-1", result.SessionID)
}

// TestParseCursorAssistant covers the three places assistant text can live.
func TestParseCursorAssistant(t *testing.T) {
	t.Run("bare text field", func(t *testing.T) {
		msg, err := parseCursorEvent(json.RawMessage(
			`{"type":"assistant","text":"plain answer"}`))
		require.NoError(t, err)

		assistant := msg.(AssistantMessage)
		assert.Equal(t, "plain answer", assistant.ContentText())
	})

	t.Run("nested string content", func(t *testing.T) {
		msg, err := parseCursorEvent(json.RawMessage(`{
			"type": "assistant",
			"message": {"content": "nested answer",
				"model": "cursor-fast"}
		}`))
		require.NoError(t, err)

		assistant := msg.(AssistantMessage)
		assert.Equal(t, "nested answer", assistant.ContentText())
		assert.Equal(t, "cursor-fast", assistant.Model)
	})

	t.Run("nested block content", func(t *testing.T) {
		msg, err := parseCursorEvent(json.RawMessage(`{
			"type": "assistant",
			"message": {"content": [
				{"type": "text", "text": "part one "},
				{"type": "tool_use", "id": "t1", "name": "Bash"},
				{"type": "text", "text": "part two"}
			]}
		}`))
		require.NoError(t, err)

		assistant := msg.(AssistantMessage)
		assert.Equal(t, "part one part two", assistant.ContentText())
	})

	t.Run("empty text dropped", func(t *testing.T) {
		msg, err := parseCursorEvent(json.RawMessage(
			`{"type":"assistant","text":""}`))
		require.NoError(t, err)
		assert.Nil(t, msg)
	})
}

// TestParseCursorThinking covers the thinking and text spellings plus the
// empty case.
func TestParseCursorThinking(t *testing.T) {
	msg, err := parseCursorEvent(json.RawMessage(
		`{"type":"thinking","thinking":"hmm","signature":"sig-9"}`))
	require.NoError(t, err)

	assistant := msg.(AssistantMessage)
	require.Len(t, assistant.Content, 1)
	assert.Equal(t, ContentBlockTypeThinking, assistant.Content[0].Type)
	assert.Equal(t, "hmm", assistant.Content[0].Thinking)
	assert.Equal(t, "sig-9", assistant.Content[0].Signature)

	msg, err = parseCursorEvent(json.RawMessage(
		`{"type":"thinking","text":"fallback spelling"}`))
	require.NoError(t, err)
	assistant = msg.(AssistantMessage)
	assert.Equal(t, "fallback spelling", assistant.Content[0].Thinking)

	msg, err = parseCursorEvent(json.RawMessage(`{"type":"thinking"}`))
	require.NoError(t, err)
	assert.Nil(t, msg)
}

// TestParseCursorToolCall covers the started and completed lifecycle
// subtypes with their alternate field spellings.
func TestParseCursorToolCall(t *testing.T) {
	t.Run("started", func(t *testing.T) {
		msg, err := parseCursorEvent(json.RawMessage(`{
			"type": "tool_call", "subtype": "started",
			"id": "call-1", "name": "Bash",
			"input": {"command": "ls"}
		}`))
		require.NoError(t, err)

		assistant := msg.(AssistantMessage)
		require.Len(t, assistant.Content, 1)
		block := assistant.Content[0]
		assert.Equal(t, ContentBlockTypeToolUse, block.Type)
		assert.Equal(t, "call-1", block.ID)
		assert.Equal(t, "Bash", block.Name)
		assert.JSONEq(t, `{"command": "ls"}`, string(block.Input))
	})

	t.Run("started with alternate spellings", func(t *testing.T) {
		msg, err := parseCursorEvent(json.RawMessage(`{
			"type": "tool_call", "subtype": "started",
			"tool_use_id": "call-2", "tool_name": "Edit"
		}`))
		require.NoError(t, err)

		block := msg.(AssistantMessage).Content[0]
		assert.Equal(t, "call-2", block.ID)
		assert.Equal(t, "Edit", block.Name)
		assert.Equal(t, "{}", string(block.Input))
	})

	t.Run("completed", func(t *testing.T) {
		msg, err := parseCursorEvent(json.RawMessage(`{
			"type": "tool_call", "subtype": "completed",
			"tool_use_id": "call-1",
			"output": "file1\nfile2",
			"is_error": false
		}`))
		require.NoError(t, err)

		block := msg.(AssistantMessage).Content[0]
		assert.Equal(t, ContentBlockTypeToolResult, block.Type)
		assert.Equal(t, "call-1", block.ToolUseID)
		assert.Equal(t, `"file1\nfile2"`, string(block.Content))
		require.NotNil(t, block.IsError)
		assert.False(t, *block.IsError)
	})

	t.Run("completed with content field", func(t *testing.T) {
		msg, err := parseCursorEvent(json.RawMessage(`{
			"type": "tool_call", "subtype": "completed",
			"id": "call-3",
			"content": {"stdout": "done"},
			"is_error": true
		}`))
		require.NoError(t, err)

		block := msg.(AssistantMessage).Content[0]
		assert.Equal(t, "call-3", block.ToolUseID)
		assert.JSONEq(t, `{"stdout": "done"}`, string(block.Content))
		require.NotNil(t, block.IsError)
		assert.True(t, *block.IsError)
	})

	t.Run("other subtype dropped", func(t *testing.T) {
		msg, err := parseCursorEvent(json.RawMessage(
			`{"type":"tool_call","subtype":"progress"}`))
		require.NoError(t, err)
		assert.Nil(t, msg)
	})
}

// TestParseCursorEventUnknownType verifies unmapped event types are dropped
// silently.
func TestParseCursorEventUnknownType(t *testing.T) {
	msg, err := parseCursorEvent(json.RawMessage(
		`{"type":"status_update","state":"indexing"}`))
	require.NoError(t, err)
	assert.Nil(t, msg)
}

// TestParseCursorEventInvalidJSON verifies decode failures surface as
// ErrJSONDecode.
func TestParseCursorEventInvalidJSON(t *testing.T) {
	_, err := parseCursorEvent(json.RawMessage(`{broken`))

	var decodeErr *ErrJSONDecode
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "{broken", decodeErr.Line)
}

// TestCursorBuildTurnArgs verifies the per-turn command line with and
// without a chat id and model override.
func TestCursorBuildTurnArgs(t *testing.T) {
	s := &cursorSession{opts: NewOptions()}
	assert.Equal(t, []string{
		"--print", "--output-format", "stream-json", "list files",
	}, s.buildTurnArgs("list files", ""))

	s = &cursorSession{opts: NewOptions(WithModel("cursor-fast"))}
	assert.Equal(t, []string{
		"--print", "--output-format", "stream-json",
		"--resume", "chat-7",
		"--model", "cursor-fast",
		"continue",
	}, s.buildTurnArgs("continue", "chat-7"))
}

// TestCursorSessionUnsupportedCalls verifies the session-level stubs for
// features the per-turn child cannot offer.
func TestCursorSessionUnsupportedCalls(t *testing.T) {
	s := &cursorSession{opts: NewOptions()}
	ctx := t.Context()

	var unsupported *ErrUnsupportedFeature
	require.ErrorAs(t, s.Interrupt(ctx), &unsupported)
	assert.Equal(t, "cursor", unsupported.Backend)

	_, err := s.SendControlRequest(ctx, ControlRequestBody{
		Subtype: ControlSubtypeSetModel,
	})
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, ControlSubtypeSetModel, unsupported.Feature)
}

// TestCursorSessionServerInfo verifies the chat id surfaces once captured.
func TestCursorSessionServerInfo(t *testing.T) {
	s := &cursorSession{opts: NewOptions()}
	assert.Nil(t, s.ServerInfo())

	s.captureChatID(json.RawMessage(
		`{"type":"system","subtype":"init","chatId":"chat-42"}`))
	info := s.ServerInfo()
	require.NotNil(t, info)
	assert.Equal(t, "chat-42", info.Raw["chatId"])

	// The session_id spelling also counts, but only on system and result
	// events.
	s.captureChatID(json.RawMessage(
		`{"type":"result","session_id":"chat-43"}`))
	assert.Equal(t, "chat-43", s.ServerInfo().Raw["chatId"])

	s.captureChatID(json.RawMessage(
		`{"type":"assistant","chatId":"ignored"}`))
	assert.Equal(t, "chat-43", s.ServerInfo().Raw["chatId"])
}
