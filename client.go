package agentsdk

import (
	"context"
	"errors"
	"iter"
	"sync"
)

// AgentSdkClient is the high-level API for driving an agent CLI.
//
// The client holds a backend and at most one live session. Feature-gated
// methods consult the backend's capability table before touching the
// session: calling a gated method on a backend that cannot honor it fails
// fast with ErrUnsupportedFeature instead of sending a request the child
// would mishandle.
//
// Example:
//
//	client, err := agentsdk.NewClient(
//	    agentsdk.WithModel("claude-sonnet-4-5"),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx, ""); err != nil {
//	    return err
//	}
//	defer client.Disconnect()
//
//	client.Query(ctx, "Summarize this repo", "")
//	for msg, err := range client.ReceiveResponse(ctx) {
//	    ...
//	}
type AgentSdkClient struct {
	backend Backend
	opts    *Options

	mu      sync.Mutex
	session Session
}

// NewClient creates a client for the backend selected in the options
// (Claude by default). The options bundle is validated against the
// backend before any process is spawned.
func NewClient(opts ...Option) (*AgentSdkClient, error) {
	options := NewOptions(opts...)

	backend, err := CreateBackend(options.Backend)
	if err != nil {
		return nil, err
	}
	if err := backend.ValidateOptions(options); err != nil {
		return nil, err
	}

	return &AgentSdkClient{
		backend: backend,
		opts:    options,
	}, nil
}

// NewClientWithBackend creates a client around an explicit backend
// instance. Intended for custom Backend implementations; most callers use
// NewClient with WithBackend.
func NewClientWithBackend(backend Backend,
	opts ...Option) (*AgentSdkClient, error) {

	options := NewOptions(opts...)
	if err := backend.ValidateOptions(options); err != nil {
		return nil, err
	}
	return &AgentSdkClient{
		backend: backend,
		opts:    options,
	}, nil
}

// Backend returns the backend this client drives.
func (c *AgentSdkClient) Backend() Backend { return c.backend }

// Connect starts the session. A non-empty initialPrompt is sent as the
// first user message once the session is up. Connecting an already
// connected client is a no-op.
func (c *AgentSdkClient) Connect(ctx context.Context,
	initialPrompt string) error {

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return nil
	}

	session, err := c.backend.CreateSession(ctx, c.opts)
	if err != nil {
		return err
	}

	if initialPrompt != "" {
		if err := session.SendMessage(ctx, initialPrompt, ""); err != nil {
			session.Close()
			return err
		}
	}

	c.session = session
	return nil
}

// currentSession returns the live session or an error when disconnected.
func (c *AgentSdkClient) currentSession() (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, &ErrConnection{
			Cause: errors.New("client is not connected"),
		}
	}
	return c.session, nil
}

// requireCapability gates a feature on the backend's capability table.
func (c *AgentSdkClient) requireCapability(feature string,
	supported bool) error {

	if supported {
		return nil
	}
	return &ErrUnsupportedFeature{
		Feature: feature,
		Backend: c.backend.Name(),
	}
}

// Query sends one user prompt into the session. Responses arrive on
// ReceiveMessages / ReceiveResponse.
func (c *AgentSdkClient) Query(ctx context.Context, prompt,
	sessionID string) error {

	session, err := c.currentSession()
	if err != nil {
		return err
	}
	return session.SendMessage(ctx, prompt, sessionID)
}

// ReceiveMessages streams every message for the session lifetime. When
// the client is disconnected the sequence yields a single error.
func (c *AgentSdkClient) ReceiveMessages(
	ctx context.Context) iter.Seq2[Message, error] {

	session, err := c.currentSession()
	if err != nil {
		return errorSeq(err)
	}
	return session.ReceiveMessages(ctx)
}

// ReceiveResponse streams until (and including) the next result message.
func (c *AgentSdkClient) ReceiveResponse(
	ctx context.Context) iter.Seq2[Message, error] {

	session, err := c.currentSession()
	if err != nil {
		return errorSeq(err)
	}
	return session.ReceiveResponse(ctx)
}

// Interrupt stops the current turn. Gated on the interrupt capability.
func (c *AgentSdkClient) Interrupt(ctx context.Context) error {
	if err := c.requireCapability("interrupt",
		c.backend.Capabilities().Interrupt); err != nil {

		return err
	}
	session, err := c.currentSession()
	if err != nil {
		return err
	}
	return session.Interrupt(ctx)
}

// SetPermissionMode switches the permission mode mid-session. Gated on
// runtime configuration changes.
func (c *AgentSdkClient) SetPermissionMode(ctx context.Context,
	mode PermissionMode) error {

	if err := c.requireCapability("set_permission_mode",
		c.backend.Capabilities().RuntimeConfigChanges); err != nil {

		return err
	}
	session, err := c.currentSession()
	if err != nil {
		return err
	}
	handle, err := runtimeHandle(session, c.backend.Name())
	if err != nil {
		return err
	}
	return handle.SetPermissionMode(ctx, mode)
}

// SetModel switches the model mid-session. An empty model resets to the
// default. Gated on runtime configuration changes.
func (c *AgentSdkClient) SetModel(ctx context.Context, model string) error {
	if err := c.requireCapability("set_model",
		c.backend.Capabilities().RuntimeConfigChanges); err != nil {

		return err
	}
	session, err := c.currentSession()
	if err != nil {
		return err
	}
	handle, err := runtimeHandle(session, c.backend.Name())
	if err != nil {
		return err
	}
	return handle.SetModel(ctx, model)
}

// RewindFiles restores checkpointed files to the state at a previous user
// message. Gated on the control protocol.
func (c *AgentSdkClient) RewindFiles(ctx context.Context,
	userMessageID string) error {

	if err := c.requireCapability("rewind_files",
		c.backend.Capabilities().ControlProtocol); err != nil {

		return err
	}
	session, err := c.currentSession()
	if err != nil {
		return err
	}
	handle, err := runtimeHandle(session, c.backend.Name())
	if err != nil {
		return err
	}
	return handle.RewindFiles(ctx, userMessageID)
}

// GetMcpStatus reports the connection state of every MCP server. Gated on
// the control protocol.
func (c *AgentSdkClient) GetMcpStatus(
	ctx context.Context) ([]McpServerStatus, error) {

	if err := c.requireCapability("mcp_status",
		c.backend.Capabilities().ControlProtocol); err != nil {

		return nil, err
	}
	session, err := c.currentSession()
	if err != nil {
		return nil, err
	}
	handle, err := runtimeHandle(session, c.backend.Name())
	if err != nil {
		return nil, err
	}
	return handle.McpServerStatuses(ctx)
}

// SendControlRequest issues a raw control request. Gated on the control
// protocol; prefer the typed methods where one exists.
func (c *AgentSdkClient) SendControlRequest(ctx context.Context,
	body ControlRequestBody) (map[string]any, error) {

	if err := c.requireCapability("control_protocol",
		c.backend.Capabilities().ControlProtocol); err != nil {

		return nil, err
	}
	session, err := c.currentSession()
	if err != nil {
		return nil, err
	}
	return session.SendControlRequest(ctx, body)
}

// GetServerInfo returns the session's initialize payload, or nil when the
// backend has none or the client is disconnected.
func (c *AgentSdkClient) GetServerInfo() *ServerInfo {
	session, err := c.currentSession()
	if err != nil {
		return nil
	}
	return session.ServerInfo()
}

// Disconnect ends the session and reaps the child. The client can connect
// again afterwards. Idempotent.
func (c *AgentSdkClient) Disconnect() error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()

	if session == nil {
		return nil
	}
	return session.Close()
}

// QueryStream runs a one-shot prompt against the backend selected in the
// options and streams the response. The session is torn down after the
// turn's result message.
//
// Example:
//
//	for msg, err := range agentsdk.QueryStream(ctx, "explain this error",
//	    agentsdk.WithModel("claude-sonnet-4-5")) {
//
//	    if err != nil {
//	        return err
//	    }
//	    if assistant, ok := msg.(agentsdk.AssistantMessage); ok {
//	        fmt.Println(assistant.ContentText())
//	    }
//	}
func QueryStream(ctx context.Context, prompt string,
	opts ...Option) iter.Seq2[Message, error] {

	options := NewOptions(opts...)

	backend, err := CreateBackend(options.Backend)
	if err != nil {
		return errorSeq(err)
	}
	if err := backend.ValidateOptions(options); err != nil {
		return errorSeq(err)
	}
	return backend.OneShotQuery(ctx, prompt, options)
}

// errorSeq is a message sequence that yields a single inline error.
func errorSeq(err error) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		yield(nil, err)
	}
}
