package agentsdk

import (
	"context"
	"encoding/json"
	"iter"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// claudeExecutable is the CLI binary searched for on PATH.
const claudeExecutable = "claude"

// ClaudeBackend drives the Claude Code CLI over the full bidirectional
// control protocol. It supports every session capability.
type ClaudeBackend struct{}

// NewClaudeBackend creates the primary backend.
func NewClaudeBackend() *ClaudeBackend {
	return &ClaudeBackend{}
}

// Kind implements Backend.
func (b *ClaudeBackend) Kind() BackendKind { return BackendClaude }

// Name implements Backend.
func (b *ClaudeBackend) Name() string { return "claude" }

// Capabilities implements Backend.
func (b *ClaudeBackend) Capabilities() Capabilities {
	return Capabilities{
		ControlProtocol:      true,
		ToolApproval:         true,
		Hooks:                true,
		SDKMCPRouting:        true,
		PersistentSession:    true,
		Interrupt:            true,
		RuntimeConfigChanges: true,
	}
}

// ValidateOptions implements Backend. The primary backend honors the full
// option surface.
func (b *ClaudeBackend) ValidateOptions(opts *Options) error {
	return nil
}

// buildCommandArgs renders the option bundle into CLI flags.
//
// stream-json on both directions keeps stdin/stdout line-oriented; the CLI
// requires --verbose with stream-json output.
func (b *ClaudeBackend) buildCommandArgs(opts *Options) []string {
	args := []string{
		"--output-format", "stream-json",
		"--verbose",
		"--input-format", "stream-json",
	}

	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.FallbackModel != "" {
		args = append(args, "--fallback-model", opts.FallbackModel)
	}
	if opts.SystemPrompt != "" {
		args = append(args, "--system-prompt", opts.SystemPrompt)
	}
	if opts.AppendSystemPrompt != "" {
		args = append(args, "--append-system-prompt",
			opts.AppendSystemPrompt)
	}
	if opts.PermissionMode != "" &&
		opts.PermissionMode != PermissionModeDefault {

		args = append(args, "--permission-mode",
			string(opts.PermissionMode))
	}

	for _, dir := range opts.AdditionalDirectories {
		args = append(args, "--add-dir", dir)
	}

	if len(opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools",
			strings.Join(opts.AllowedTools, ","))
	}
	if len(opts.DisallowedTools) > 0 {
		args = append(args, "--disallowedTools",
			strings.Join(opts.DisallowedTools, ","))
	}

	if opts.MaxTurns != nil {
		args = append(args, "--max-turns",
			strconv.Itoa(*opts.MaxTurns))
	}
	if opts.MaxThinkingTokens != nil {
		args = append(args, "--max-thinking-tokens",
			strconv.Itoa(*opts.MaxThinkingTokens))
	}

	if opts.Settings != "" {
		args = append(args, "--settings", opts.Settings)
	}
	// Always passed: an empty value makes the CLI load no filesystem
	// settings.
	sources := make([]string, len(opts.SettingSources))
	for i, s := range opts.SettingSources {
		sources[i] = string(s)
	}
	args = append(args, "--setting-sources", strings.Join(sources, ","))

	for _, plugin := range opts.Plugins {
		args = append(args, "--plugin", plugin.Path)
	}

	// Permission prompts route to the control channel when a callback is
	// registered; an explicit prompt tool name wins.
	switch {
	case opts.PermissionPromptToolName != "":
		args = append(args, "--permission-prompt-tool",
			opts.PermissionPromptToolName)
	case opts.CanUseTool != nil:
		args = append(args, "--permission-prompt-tool", "stdio")
	}

	// In-process MCP servers are declared as sdk type; the CLI routes
	// their traffic back over the control channel.
	if len(opts.SDKMCPServers) > 0 {
		servers := make(map[string]any, len(opts.SDKMCPServers))
		for name := range opts.SDKMCPServers {
			servers[name] = map[string]any{
				"type": "sdk",
				"name": name,
			}
		}
		config, err := json.Marshal(map[string]any{
			"mcpServers": servers,
		})
		if err == nil {
			args = append(args, "--mcp-config", string(config))
		}
	}

	if opts.IncludePartialMessages {
		args = append(args, "--include-partial-messages")
	}

	if opts.Resume != "" {
		args = append(args, "--resume", opts.Resume)
	}
	if opts.ForkSession {
		args = append(args, "--fork-session")
	}

	return args
}

// newQuery spawns the CLI and wires a session core around it.
func (b *ClaudeBackend) newQuery(ctx context.Context,
	opts *Options) (*Query, error) {

	cliPath, err := DiscoverCLIPath(claudeExecutable, opts)
	if err != nil {
		return nil, err
	}

	transport := NewSubprocessTransport(cliPath,
		b.buildCommandArgs(opts), opts)
	if err := transport.Connect(ctx); err != nil {
		return nil, err
	}

	query := NewQuery(transport, opts)
	query.Start(ctx)
	return query, nil
}

// OneShotQuery implements Backend.
//
// Construction is synchronous but cheap: the child is spawned when the
// consumer first pulls the sequence. The stream ends after the turn's
// result message and the child is reaped on the way out.
func (b *ClaudeBackend) OneShotQuery(ctx context.Context, prompt string,
	opts *Options) iter.Seq2[Message, error] {

	if opts == nil {
		opts = NewOptions()
	}

	return func(yield func(Message, error) bool) {
		query, err := b.newQuery(ctx, opts)
		if err != nil {
			yield(nil, err)
			return
		}
		defer query.Close()

		if _, err := query.Initialize(ctx); err != nil {
			yield(nil, err)
			return
		}

		msg := UserMessage{
			Content: TextContent(prompt),
			UUID:    uuid.NewString(),
		}
		if err := query.Send(ctx, msg); err != nil {
			yield(nil, err)
			return
		}

		for msg, err := range query.ReceiveResponse(ctx) {
			if !yield(msg, err) {
				return
			}
		}
	}
}

// CreateSession implements Backend.
func (b *ClaudeBackend) CreateSession(ctx context.Context,
	opts *Options) (Session, error) {

	if opts == nil {
		opts = NewOptions()
	}

	query, err := b.newQuery(ctx, opts)
	if err != nil {
		return nil, err
	}

	if _, err := query.Initialize(ctx); err != nil {
		query.Close()
		return nil, err
	}

	return &claudeSession{query: query}, nil
}

// claudeSession adapts a Query to the Session interface.
type claudeSession struct {
	query *Query
}

// SendMessage implements Session.
func (s *claudeSession) SendMessage(ctx context.Context, prompt,
	sessionID string) error {

	msg := UserMessage{
		Content:   TextContent(prompt),
		UUID:      uuid.NewString(),
		SessionID: sessionID,
	}
	return s.query.Send(ctx, msg)
}

// ReceiveMessages implements Session.
func (s *claudeSession) ReceiveMessages(
	ctx context.Context) iter.Seq2[Message, error] {

	return s.query.ReceiveMessages(ctx)
}

// ReceiveResponse implements Session.
func (s *claudeSession) ReceiveResponse(
	ctx context.Context) iter.Seq2[Message, error] {

	return s.query.ReceiveResponse(ctx)
}

// SendControlRequest implements Session.
func (s *claudeSession) SendControlRequest(ctx context.Context,
	body ControlRequestBody) (map[string]any, error) {

	return s.query.SendControlRequest(ctx, body)
}

// Interrupt implements Session.
func (s *claudeSession) Interrupt(ctx context.Context) error {
	return s.query.Interrupt(ctx)
}

// ServerInfo implements Session.
func (s *claudeSession) ServerInfo() *ServerInfo {
	return s.query.ServerInfo()
}

// Close implements Session.
func (s *claudeSession) Close() error {
	return s.query.Close()
}

// queryHandle exposes the primary session's runtime configuration surface
// to the client facade without widening the Session interface for backends
// that cannot honor it.
type queryHandle interface {
	SetPermissionMode(ctx context.Context, mode PermissionMode) error
	SetModel(ctx context.Context, model string) error
	RewindFiles(ctx context.Context, userMessageID string) error
	McpServerStatuses(ctx context.Context) ([]McpServerStatus, error)
}

// runtimeHandle returns the session's runtime configuration surface, or an
// error for backends without one.
func runtimeHandle(s Session, backend string) (queryHandle, error) {
	cs, ok := s.(*claudeSession)
	if !ok {
		return nil, &ErrUnsupportedFeature{
			Feature: "runtime_config_changes",
			Backend: backend,
		}
	}
	return cs.query, nil
}
