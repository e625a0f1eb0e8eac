package agentsdk

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCodexSession() *codexSession {
	s := &codexSession{
		opts:   NewOptions(),
		logger: slog.New(slog.DiscardHandler),
	}
	s.stream = newBroadcaster(s.logger)
	return s
}

// TestCodexNormalizeThreadStarted verifies the init mapping and thread id
// capture.
func TestCodexNormalizeThreadStarted(t *testing.T) {
	s := testCodexSession()

	msg, err := s.normalizeEvent("thread.started",
		json.RawMessage(`{"threadId":"th-1"}`))
	require.NoError(t, err)

	system, ok := msg.(SystemMessage)
	require.True(t, ok)
	assert.Equal(t, "init", system.Subtype)
	assert.Equal(t, "th-1", s.thread())

	info := s.ServerInfo()
	require.NotNil(t, info)
	assert.Equal(t, "th-1", info.Raw["threadId"])
}

// TestCodexNormalizeTurnLifecycle verifies started, completed, and failed
// turn events.
func TestCodexNormalizeTurnLifecycle(t *testing.T) {
	s := testCodexSession()
	s.threadID = "th-2"

	msg, err := s.normalizeEvent("turn.started", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "turn_started", msg.(SystemMessage).Subtype)

	msg, err = s.normalizeEvent("turn.completed", json.RawMessage(
		`{"usage":{"input_tokens":12,"output_tokens":34}}`))
	require.NoError(t, err)

	result, ok := msg.(ResultMessage)
	require.True(t, ok)
	assert.Equal(t, ResultSubtypeSuccess, result.Subtype)
	assert.Equal(t, "th-2", result.SessionID)
	assert.Equal(t, 1, result.NumTurns)
	require.NotNil(t, result.Usage)
	assert.Equal(t, 12, result.Usage.InputTokens)
	assert.Equal(t, 34, result.Usage.OutputTokens)

	msg, err = s.normalizeEvent("turn.failed",
		json.RawMessage(`{"error":{"message":"rate limited"}}`))
	require.NoError(t, err)
	assert.Equal(t, "error", msg.(SystemMessage).Subtype)

	msg, err = s.normalizeEvent("error",
		json.RawMessage(`{"message":"boom"}`))
	require.NoError(t, err)
	assert.Equal(t, "error", msg.(SystemMessage).Subtype)
}

// TestCodexNormalizeItemCompleted verifies the completed-item mappings onto
// assistant content blocks.
func TestCodexNormalizeItemCompleted(t *testing.T) {
	s := testCodexSession()

	completed := func(item string) (Message, error) {
		return s.normalizeEvent("item.completed",
			json.RawMessage(`{"item":`+item+`}`))
	}

	t.Run("agent message", func(t *testing.T) {
		msg, err := completed(
			`{"id":"item-1","type":"agent_message","text":"hi there"}`)
		require.NoError(t, err)
		assert.Equal(t, "hi there",
			msg.(AssistantMessage).ContentText())
	})

	t.Run("reasoning", func(t *testing.T) {
		msg, err := completed(
			`{"id":"item-2","type":"reasoning","text":"thinking hard"}`)
		require.NoError(t, err)

		blocks := msg.(AssistantMessage).Content
		require.Len(t, blocks, 1)
		assert.Equal(t, ContentBlockTypeThinking, blocks[0].Type)
		assert.Equal(t, "thinking hard", blocks[0].Thinking)
	})

	t.Run("command execution success", func(t *testing.T) {
		msg, err := completed(`{"id":"item-3","type":"command_execution",
			"command":"ls","aggregated_output":"file1\n",
			"exit_code":0}`)
		require.NoError(t, err)

		blocks := msg.(AssistantMessage).Content
		require.Len(t, blocks, 2)

		use := blocks[0]
		assert.Equal(t, ContentBlockTypeToolUse, use.Type)
		assert.Equal(t, "item-3", use.ID)
		assert.Equal(t, "Bash", use.Name)
		assert.JSONEq(t, `{"command":"ls"}`, string(use.Input))

		result := blocks[1]
		assert.Equal(t, ContentBlockTypeToolResult, result.Type)
		assert.Equal(t, "item-3", result.ToolUseID)
		assert.Equal(t, `"file1\n"`, string(result.Content))
		assert.Nil(t, result.IsError)
	})

	t.Run("command execution failure", func(t *testing.T) {
		msg, err := completed(`{"id":"item-4","type":"command_execution",
			"command":"false","exit_code":1}`)
		require.NoError(t, err)

		result := msg.(AssistantMessage).Content[1]
		require.NotNil(t, result.IsError)
		assert.True(t, *result.IsError)
	})

	t.Run("file change", func(t *testing.T) {
		msg, err := completed(`{"id":"item-5","type":"file_change"}`)
		require.NoError(t, err)

		blocks := msg.(AssistantMessage).Content
		require.Len(t, blocks, 2)
		assert.Equal(t, "Edit", blocks[0].Name)
		assert.JSONEq(t, `{}`, string(blocks[0].Input))
	})

	t.Run("unknown item type", func(t *testing.T) {
		msg, err := completed(`{"id":"item-6","type":"web_search"}`)
		require.NoError(t, err)
		assert.Nil(t, msg)
	})

	t.Run("malformed payload", func(t *testing.T) {
		_, err := s.normalizeEvent("item.completed",
			json.RawMessage(`{"item":`))

		var decodeErr *ErrJSONDecode
		require.ErrorAs(t, err, &decodeErr)
	})
}

// TestCodexNormalizeDroppedEvents verifies intermediate and unknown events
// have no mapping.
func TestCodexNormalizeDroppedEvents(t *testing.T) {
	s := testCodexSession()

	for _, method := range []string{
		"item.started", "item.updated", "thread.tokenCount",
	} {
		msg, err := s.normalizeEvent(method, json.RawMessage(`{}`))
		require.NoError(t, err, method)
		assert.Nil(t, msg, method)
	}
}

// TestCodexSendMessageWithoutThread verifies a send before the handshake is
// refused.
func TestCodexSendMessageWithoutThread(t *testing.T) {
	s := testCodexSession()

	err := s.SendMessage(t.Context(), "hello", "")
	var connErr *ErrConnection
	require.ErrorAs(t, err, &connErr)
}

// TestCodexSendControlRequestGating verifies only interrupt has an
// app-server equivalent.
func TestCodexSendControlRequestGating(t *testing.T) {
	s := testCodexSession()

	_, err := s.SendControlRequest(t.Context(), ControlRequestBody{
		Subtype: ControlSubtypeSetModel,
	})

	var unsupported *ErrUnsupportedFeature
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, ControlSubtypeSetModel, unsupported.Feature)
	assert.Equal(t, "codex", unsupported.Backend)
}

// TestCodexServerInfoBeforeHandshake verifies no info is reported without a
// thread.
func TestCodexServerInfoBeforeHandshake(t *testing.T) {
	assert.Nil(t, testCodexSession().ServerInfo())
}
