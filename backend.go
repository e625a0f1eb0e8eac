package agentsdk

import (
	"context"
	"fmt"
	"iter"
)

// BackendKind identifies an agent CLI family. The set is open: additional
// kinds can appear without breaking callers that switch on it.
type BackendKind string

const (
	// BackendClaude drives the Claude Code CLI over the full control
	// protocol.
	BackendClaude BackendKind = "claude"

	// BackendCodex drives the Codex CLI through its app-server JSON-RPC
	// interface.
	BackendCodex BackendKind = "codex"

	// BackendCursor drives the Cursor CLI by spawning one process per
	// turn.
	BackendCursor BackendKind = "cursor"
)

// Capabilities records which session features a backend supports. The
// client facade consults it before touching the transport: a gated method
// on an unsupported backend fails fast with ErrUnsupportedFeature.
type Capabilities struct {
	// ControlProtocol: the bidirectional control channel (rewind,
	// mcp_status, arbitrary control requests).
	ControlProtocol bool

	// ToolApproval: runtime permission callbacks before tool execution.
	ToolApproval bool

	// Hooks: lifecycle hook callbacks.
	Hooks bool

	// SDKMCPRouting: in-process MCP servers routed over the control
	// channel.
	SDKMCPRouting bool

	// PersistentSession: a long-lived child serving multiple turns.
	PersistentSession bool

	// Interrupt: stopping an in-flight turn.
	Interrupt bool

	// RuntimeConfigChanges: switching permission mode or model
	// mid-session.
	RuntimeConfigChanges bool
}

// Backend produces sessions for one agent CLI family.
type Backend interface {
	// Kind identifies the backend.
	Kind() BackendKind

	// Name is the backend's human-readable name, used in errors.
	Name() string

	// Capabilities reports what the backend supports. Static and pure.
	Capabilities() Capabilities

	// ValidateOptions rejects option fields the backend cannot honor
	// with ErrUnsupportedOptions. Nothing is silently ignored.
	ValidateOptions(opts *Options) error

	// OneShotQuery runs a single prompt and streams the response. The
	// child is spawned lazily on the first pull; errors surface as
	// inline items.
	OneShotQuery(ctx context.Context, prompt string,
		opts *Options) iter.Seq2[Message, error]

	// CreateSession starts a multi-turn session.
	CreateSession(ctx context.Context, opts *Options) (Session, error)
}

// Session is one live conversation with an agent.
type Session interface {
	// SendMessage writes one user prompt into the conversation.
	SendMessage(ctx context.Context, prompt, sessionID string) error

	// ReceiveMessages streams every message for the session lifetime.
	ReceiveMessages(ctx context.Context) iter.Seq2[Message, error]

	// ReceiveResponse streams until (and including) the next result
	// message.
	ReceiveResponse(ctx context.Context) iter.Seq2[Message, error]

	// SendControlRequest issues an outbound control request and returns
	// the response payload.
	SendControlRequest(ctx context.Context,
		body ControlRequestBody) (map[string]any, error)

	// Interrupt stops the current turn.
	Interrupt(ctx context.Context) error

	// ServerInfo returns the initialize payload, nil if the backend has
	// none.
	ServerInfo() *ServerInfo

	// Close ends the session and reaps any child process.
	Close() error
}

// CreateBackend constructs the backend for a kind.
func CreateBackend(kind BackendKind) (Backend, error) {
	switch kind {
	case BackendClaude:
		return NewClaudeBackend(), nil
	case BackendCodex:
		return NewCodexBackend(), nil
	case BackendCursor:
		return NewCursorBackend(), nil
	default:
		return nil, &ErrInvalidConfiguration{
			Field:  "backend",
			Reason: fmt.Sprintf("unknown backend kind: %s", kind),
		}
	}
}
