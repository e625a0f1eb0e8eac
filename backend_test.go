package agentsdk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCreateBackend covers the three known kinds and the rejection of an
// unknown one.
func TestCreateBackend(t *testing.T) {
	for _, kind := range []BackendKind{
		BackendClaude, BackendCodex, BackendCursor,
	} {
		backend, err := CreateBackend(kind)
		require.NoError(t, err)
		assert.Equal(t, kind, backend.Kind())
		assert.NotEmpty(t, backend.Name())
	}

	_, err := CreateBackend("gemini")
	var invalid *ErrInvalidConfiguration
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "backend", invalid.Field)
	assert.Contains(t, invalid.Reason, "gemini")
}

// TestBackendCapabilities pins the per-backend capability tables.
func TestBackendCapabilities(t *testing.T) {
	assert.Equal(t, Capabilities{
		ControlProtocol:      true,
		ToolApproval:         true,
		Hooks:                true,
		SDKMCPRouting:        true,
		PersistentSession:    true,
		Interrupt:            true,
		RuntimeConfigChanges: true,
	}, NewClaudeBackend().Capabilities())

	assert.Equal(t, Capabilities{
		ToolApproval:      true,
		PersistentSession: true,
		Interrupt:         true,
	}, NewCodexBackend().Capabilities())

	assert.Equal(t, Capabilities{}, NewCursorBackend().Capabilities())
}

func allowAll(ctx context.Context, toolName string, input map[string]any,
	pctx ToolPermissionContext) (PermissionResult, error) {

	return PermissionAllow{}, nil
}

// TestClaudeValidateOptions verifies the primary backend accepts the full
// option surface.
func TestClaudeValidateOptions(t *testing.T) {
	opts := NewOptions(
		WithSystemPrompt("be terse"),
		WithCanUseTool(allowAll),
		WithHooks(map[HookEvent][]HookMatcher{
			HookEventPreToolUse: {{Matcher: "Bash"}},
		}),
		WithMcpServer(NewMcpServer("tools", "")),
		WithForkSession(true),
		WithSettingSources(SettingSourceUser, SettingSourceProject),
		WithPlugins(PluginConfig{Type: "local", Path: "./plugin"}),
		WithPermissionPromptToolName("mcp__approver"),
		WithAgents(map[string]AgentDefinition{
			"reviewer": {Description: "Reviews code", Prompt: "review"},
		}),
		WithPermissionMode(PermissionModeAcceptEdits),
		WithMaxThinkingTokens(4096),
		WithIncludePartialMessages(true),
	)

	assert.NoError(t, NewClaudeBackend().ValidateOptions(opts))
}

// TestCodexValidateOptions verifies every option the app-server protocol
// cannot express is reported by name.
func TestCodexValidateOptions(t *testing.T) {
	backend := NewCodexBackend()

	assert.NoError(t, backend.ValidateOptions(NewOptions(
		WithModel("gpt-5"),
		WithCanUseTool(allowAll),
	)))

	opts := NewOptions(
		WithSystemPrompt("be terse"),
		WithHooks(map[HookEvent][]HookMatcher{
			HookEventStop: {{}},
		}),
		WithForkSession(true),
		WithSettingSources(SettingSourceUser),
		WithPlugins(PluginConfig{Type: "local", Path: "./plugin"}),
		WithPermissionPromptToolName("mcp__approver"),
		WithMcpServer(NewMcpServer("tools", "")),
		WithAgents(map[string]AgentDefinition{
			"reviewer": {Description: "d", Prompt: "p"},
		}),
	)

	err := backend.ValidateOptions(opts)
	var unsupported *ErrUnsupportedOptions
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, backend.Name(), unsupported.Backend)
	assert.Equal(t, []string{
		"system_prompt",
		"hooks",
		"fork_session",
		"setting_sources",
		"plugins",
		"permission_prompt_tool_name",
		"sdk_mcp_servers",
		"agents",
	}, unsupported.Options)
}

// TestCursorValidateOptions verifies the one-shot backend additionally
// rejects every runtime-interaction option.
func TestCursorValidateOptions(t *testing.T) {
	backend := NewCursorBackend()

	assert.NoError(t, backend.ValidateOptions(NewOptions(
		WithModel("cursor-default"),
	)))

	opts := NewOptions(
		WithSystemPrompt("be terse"),
		WithCanUseTool(allowAll),
		WithHooks(map[HookEvent][]HookMatcher{
			HookEventStop: {{}},
		}),
		WithMcpServer(NewMcpServer("tools", "")),
		WithForkSession(true),
		WithSettingSources(SettingSourceLocal),
		WithPlugins(PluginConfig{Type: "local", Path: "./plugin"}),
		WithPermissionPromptToolName("mcp__approver"),
		WithAgents(map[string]AgentDefinition{
			"reviewer": {Description: "d", Prompt: "p"},
		}),
		WithPermissionMode(PermissionModePlan),
		WithMaxThinkingTokens(1024),
		WithIncludePartialMessages(true),
	)

	err := backend.ValidateOptions(opts)
	var unsupported *ErrUnsupportedOptions
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, []string{
		"system_prompt",
		"can_use_tool",
		"hooks",
		"sdk_mcp_servers",
		"fork_session",
		"setting_sources",
		"plugins",
		"permission_prompt_tool_name",
		"agents",
		"permission_mode",
		"max_thinking_tokens",
		"include_partial_messages",
	}, unsupported.Options)
}

// TestNewClientRejectsUnsupportedOptions verifies option validation runs at
// construction, before any process could be spawned.
func TestNewClientRejectsUnsupportedOptions(t *testing.T) {
	_, err := NewClient(
		WithBackend(BackendCodex),
		WithHooks(map[HookEvent][]HookMatcher{
			HookEventStop: {{}},
		}),
	)

	var unsupported *ErrUnsupportedOptions
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, []string{"hooks"}, unsupported.Options)
}

// TestClientCapabilityGating verifies gated methods fail fast on a backend
// without the capability, before the session is consulted.
func TestClientCapabilityGating(t *testing.T) {
	client, err := NewClientWithBackend(NewCursorBackend())
	require.NoError(t, err)

	ctx := context.Background()

	assertUnsupported := func(feature string, err error) {
		t.Helper()
		var unsupported *ErrUnsupportedFeature
		require.ErrorAs(t, err, &unsupported)
		assert.Equal(t, feature, unsupported.Feature)
	}

	assertUnsupported("interrupt", client.Interrupt(ctx))
	assertUnsupported("set_permission_mode",
		client.SetPermissionMode(ctx, PermissionModePlan))
	assertUnsupported("set_model", client.SetModel(ctx, "other"))
	assertUnsupported("rewind_files", client.RewindFiles(ctx, "msg_1"))

	_, err = client.GetMcpStatus(ctx)
	assertUnsupported("mcp_status", err)

	_, err = client.SendControlRequest(ctx, ControlRequestBody{
		Subtype: ControlSubtypeMcpStatus,
	})
	assertUnsupported("control_protocol", err)
}

// TestClientDisconnectedErrors verifies session-touching methods report a
// connection error while no session is live.
func TestClientDisconnectedErrors(t *testing.T) {
	client, err := NewClient()
	require.NoError(t, err)

	ctx := context.Background()

	var connErr *ErrConnection
	require.ErrorAs(t, client.Query(ctx, "hello", ""), &connErr)
	require.ErrorAs(t, client.Interrupt(ctx), &connErr)

	var count int
	var finalErr error
	for _, err := range client.ReceiveMessages(ctx) {
		count++
		finalErr = err
	}
	assert.Equal(t, 1, count)
	assert.ErrorAs(t, finalErr, &connErr)

	assert.Nil(t, client.GetServerInfo())

	// Disconnecting a disconnected client is a no-op.
	assert.NoError(t, client.Disconnect())
}

// TestQueryStreamInvalidBackend verifies configuration errors surface as a
// single inline item.
func TestQueryStreamInvalidBackend(t *testing.T) {
	var items int
	var finalErr error
	for _, err := range QueryStream(context.Background(), "hi",
		WithBackend("gemini")) {

		items++
		finalErr = err
	}

	assert.Equal(t, 1, items)
	var invalid *ErrInvalidConfiguration
	assert.ErrorAs(t, finalErr, &invalid)
}

// TestQueryStreamUnsupportedOptions verifies option validation errors also
// surface inline.
func TestQueryStreamUnsupportedOptions(t *testing.T) {
	var finalErr error
	for _, err := range QueryStream(context.Background(), "hi",
		WithBackend(BackendCursor),
		WithCanUseTool(allowAll)) {

		finalErr = err
	}

	var unsupported *ErrUnsupportedOptions
	require.ErrorAs(t, finalErr, &unsupported)
	assert.Equal(t, []string{"can_use_tool"}, unsupported.Options)
}
