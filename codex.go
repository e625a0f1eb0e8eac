package agentsdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// codexExecutable is the CLI binary searched for on PATH.
const codexExecutable = "codex"

// CodexBackend drives the Codex CLI through its app-server JSON-RPC
// interface: a persistent child speaking JSON-RPC 2.0 over stdio, with
// server-initiated approval requests mapped onto the permission callback.
type CodexBackend struct{}

// NewCodexBackend creates the app-server backend.
func NewCodexBackend() *CodexBackend {
	return &CodexBackend{}
}

// Kind implements Backend.
func (b *CodexBackend) Kind() BackendKind { return BackendCodex }

// Name implements Backend.
func (b *CodexBackend) Name() string { return "codex" }

// Capabilities implements Backend. Approvals are mapped onto CanUseTool,
// the child persists across turns, and turns can be interrupted; the rest
// of the control surface has no app-server equivalent.
func (b *CodexBackend) Capabilities() Capabilities {
	return Capabilities{
		ToolApproval:      true,
		PersistentSession: true,
		Interrupt:         true,
	}
}

// ValidateOptions implements Backend. Every option the app-server protocol
// cannot express is rejected up front rather than silently dropped.
func (b *CodexBackend) ValidateOptions(opts *Options) error {
	if opts == nil {
		return nil
	}

	var rejected []string
	if opts.SystemPrompt != "" {
		rejected = append(rejected, optionSystemPrompt)
	}
	if len(opts.Hooks) > 0 {
		rejected = append(rejected, optionHooks)
	}
	if opts.ForkSession {
		rejected = append(rejected, optionForkSession)
	}
	if len(opts.SettingSources) > 0 {
		rejected = append(rejected, optionSettingSources)
	}
	if len(opts.Plugins) > 0 {
		rejected = append(rejected, optionPlugins)
	}
	if opts.PermissionPromptToolName != "" {
		rejected = append(rejected, optionPermissionPromptToolName)
	}
	if len(opts.SDKMCPServers) > 0 {
		rejected = append(rejected, optionSDKMCPServers)
	}
	if len(opts.Agents) > 0 {
		rejected = append(rejected, optionAgents)
	}

	if len(rejected) > 0 {
		return &ErrUnsupportedOptions{
			Backend: b.Name(),
			Options: rejected,
		}
	}
	return nil
}

// OneShotQuery implements Backend.
func (b *CodexBackend) OneShotQuery(ctx context.Context, prompt string,
	opts *Options) iter.Seq2[Message, error] {

	return func(yield func(Message, error) bool) {
		session, err := b.CreateSession(ctx, opts)
		if err != nil {
			yield(nil, err)
			return
		}
		defer session.Close()

		if err := session.SendMessage(ctx, prompt, ""); err != nil {
			yield(nil, err)
			return
		}

		for msg, err := range session.ReceiveResponse(ctx) {
			if !yield(msg, err) {
				return
			}
		}
	}
}

// CreateSession implements Backend. The handshake runs to completion
// before the session is returned: initialize, the initialized
// notification, then thread/start to obtain the thread id every later
// call is scoped to.
func (b *CodexBackend) CreateSession(ctx context.Context,
	opts *Options) (Session, error) {

	if opts == nil {
		opts = NewOptions()
	}
	if err := b.ValidateOptions(opts); err != nil {
		return nil, err
	}

	cliPath, err := DiscoverCLIPath(codexExecutable, opts)
	if err != nil {
		return nil, err
	}

	transport := NewSubprocessTransport(cliPath,
		[]string{"app-server"}, opts)
	if err := transport.Connect(ctx); err != nil {
		return nil, err
	}

	s := &codexSession{
		transport: transport,
		opts:      opts,
		logger:    opts.logger(),
		pending:   make(map[string]chan rpcOutcome),
		done:      make(chan struct{}),
	}
	s.stream = newBroadcaster(s.logger)
	s.start(ctx)

	if err := s.handshake(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// rpcEnvelope is one JSON-RPC 2.0 frame in either direction. The three
// shapes share it: responses carry an id plus result or error, requests
// carry a method plus id, notifications carry a method without an id.
type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
}

// rpcOutcome is the resolution of one outbound JSON-RPC request.
type rpcOutcome struct {
	result json.RawMessage
	err    *jsonRPCError
}

// codexSession is one live app-server conversation.
type codexSession struct {
	transport Transport
	opts      *Options
	logger    *slog.Logger
	stream    *broadcaster

	reqCounter atomic.Uint64
	pendingMu  sync.Mutex
	pending    map[string]chan rpcOutcome

	threadMu sync.Mutex
	threadID string

	group  *errgroup.Group
	cancel context.CancelFunc

	closed atomic.Bool
	done   chan struct{}
}

// start launches the reader task.
func (s *codexSession) start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	group, gctx := errgroup.WithContext(ctx)
	s.group = group
	group.Go(func() error { return s.readerTask(gctx) })
}

// handshake performs the app-server startup sequence and records the
// thread id.
func (s *codexSession) handshake(ctx context.Context) error {
	_, err := s.call(ctx, "initialize", map[string]any{
		"clientName":    "agent-sdk-go",
		"clientVersion": sdkVersion,
	})
	if err != nil {
		return err
	}
	if err := s.notify(ctx, "initialized", nil); err != nil {
		return err
	}

	params := map[string]any{}
	if s.opts.Model != "" {
		params["model"] = s.opts.Model
	}
	result, err := s.call(ctx, "thread/start", params)
	if err != nil {
		return err
	}

	var started struct {
		ThreadID string `json:"threadId"`
	}
	if err := json.Unmarshal(result, &started); err != nil {
		return &ErrProtocolViolation{
			Message: fmt.Sprintf(
				"malformed thread/start result: %v", err),
		}
	}
	if started.ThreadID == "" {
		return &ErrProtocolViolation{
			Message: "thread/start result missing threadId",
		}
	}

	s.threadMu.Lock()
	s.threadID = started.ThreadID
	s.threadMu.Unlock()
	return nil
}

// thread returns the session's thread id.
func (s *codexSession) thread() string {
	s.threadMu.Lock()
	defer s.threadMu.Unlock()
	return s.threadID
}

// call issues one JSON-RPC request and waits for its response.
func (s *codexSession) call(ctx context.Context, method string,
	params any) (json.RawMessage, error) {

	id := s.reqCounter.Add(1)
	key := strconv.FormatUint(id, 10)

	ch := make(chan rpcOutcome, 1)
	s.pendingMu.Lock()
	s.pending[key] = ch
	s.pendingMu.Unlock()

	evict := func() {
		s.pendingMu.Lock()
		delete(s.pending, key)
		s.pendingMu.Unlock()
	}

	env := rpcEnvelope{
		JSONRPC: "2.0",
		ID:      json.RawMessage(key),
		Method:  method,
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			evict()
			return nil, fmt.Errorf(
				"failed to encode %s params: %w", method, err)
		}
		env.Params = data
	}

	if err := s.write(ctx, env); err != nil {
		evict()
		return nil, err
	}

	timeout := s.opts.ControlRequestTimeout
	if timeout <= 0 {
		timeout = DefaultControlRequestTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case outcome := <-ch:
		if outcome.err != nil {
			return nil, &ErrControlFailed{
				RequestID: key,
				Message:   outcome.err.Message,
			}
		}
		return outcome.result, nil
	case <-timer.C:
		evict()
		return nil, &ErrControlTimeout{RequestID: key}
	case <-ctx.Done():
		evict()
		return nil, ctx.Err()
	case <-s.done:
		evict()
		return nil, &ErrConnection{
			Cause: errors.New("session closed"),
		}
	}
}

// notify sends one JSON-RPC notification.
func (s *codexSession) notify(ctx context.Context, method string,
	params any) error {

	env := rpcEnvelope{JSONRPC: "2.0", Method: method}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to encode %s params: %w",
				method, err)
		}
		env.Params = data
	}
	return s.write(ctx, env)
}

// write marshals one frame onto the transport.
func (s *codexSession) write(ctx context.Context, env rpcEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	return s.transport.Write(ctx, data)
}

// readerTask demultiplexes inbound frames: responses resolve the pending
// table, server-initiated requests go to the approval handler, and
// notifications are normalized into the message stream.
func (s *codexSession) readerTask(ctx context.Context) error {
	defer s.shutdownStreams()

	for raw, err := range s.transport.ReadMessages(ctx) {
		if err != nil {
			s.stream.publish(nil, err)
			return err
		}

		var env rpcEnvelope
		if jsonErr := json.Unmarshal(raw, &env); jsonErr != nil {
			s.stream.publish(nil, &ErrJSONDecode{
				Line:  string(raw),
				Cause: jsonErr,
			})
			continue
		}

		switch {
		case env.Method == "" && len(env.ID) > 0:
			s.handleResponse(env)

		case env.Method != "" && len(env.ID) > 0:
			req := env
			go s.handleServerRequest(ctx, req)

		case env.Method != "":
			s.handleNotification(env)

		default:
			s.logger.Debug("ignoring unclassifiable frame",
				"line", string(raw))
		}
	}
	return nil
}

// shutdownStreams ends subscriber views and fails pending requests. Runs
// when the reader exits.
func (s *codexSession) shutdownStreams() {
	s.stream.shutdown()

	s.pendingMu.Lock()
	for id, ch := range s.pending {
		ch <- rpcOutcome{err: &jsonRPCError{
			Code:    -32603,
			Message: "session closed",
		}}
		delete(s.pending, id)
	}
	s.pendingMu.Unlock()
}

// handleResponse resolves the pending entry correlated by id. Late
// responses are dropped.
func (s *codexSession) handleResponse(env rpcEnvelope) {
	key := string(env.ID)

	s.pendingMu.Lock()
	ch, ok := s.pending[key]
	if ok {
		delete(s.pending, key)
	}
	s.pendingMu.Unlock()

	if !ok {
		s.logger.Debug("dropping late response", "id", key)
		return
	}
	ch <- rpcOutcome{result: env.Result, err: env.Error}
}

// handleServerRequest answers a server-initiated request. Approval
// requests route through the permission callback; everything else is
// method-not-found.
func (s *codexSession) handleServerRequest(ctx context.Context,
	env rpcEnvelope) {

	switch env.Method {
	case "item/commandExecution/requestApproval":
		var params struct {
			Command string `json:"command"`
		}
		_ = json.Unmarshal(env.Params, &params)
		s.respondApproval(ctx, env.ID, "Bash", map[string]any{
			"command": params.Command,
		})

	case "item/fileChange/requestApproval":
		var params struct {
			Path string `json:"path"`
		}
		_ = json.Unmarshal(env.Params, &params)
		s.respondApproval(ctx, env.ID, "Edit", map[string]any{
			"file_path": params.Path,
		})

	default:
		s.respondError(ctx, env.ID, &jsonRPCError{
			Code: -32601,
			Message: fmt.Sprintf("method not supported: %s",
				env.Method),
		})
	}
}

// respondApproval maps an approval request onto the permission callback
// and writes the accept/decline decision. Without a callback every
// request is accepted.
func (s *codexSession) respondApproval(ctx context.Context,
	id json.RawMessage, toolName string, input map[string]any) {

	decision := "accept"
	if s.opts.CanUseTool != nil {
		result, err := s.opts.CanUseTool(ctx, toolName, input,
			ToolPermissionContext{})
		if err != nil || result == nil ||
			result.Behavior() != "allow" {

			decision = "decline"
		}
	}

	s.respondResult(ctx, id, map[string]any{"decision": decision})
}

// respondResult writes a success response for a server request.
func (s *codexSession) respondResult(ctx context.Context,
	id json.RawMessage, result any) {

	data, err := json.Marshal(result)
	if err != nil {
		s.logger.Debug("failed to encode response", "err", err)
		return
	}
	env := rpcEnvelope{JSONRPC: "2.0", ID: id, Result: data}
	if err := s.write(ctx, env); err != nil {
		s.logger.Debug("failed to write response", "err", err)
	}
}

// respondError writes an error response for a server request.
func (s *codexSession) respondError(ctx context.Context,
	id json.RawMessage, rpcErr *jsonRPCError) {

	env := rpcEnvelope{JSONRPC: "2.0", ID: id, Error: rpcErr}
	if err := s.write(ctx, env); err != nil {
		s.logger.Debug("failed to write error response", "err", err)
	}
}

// handleNotification normalizes one app-server event into the message
// stream. Events with no mapping are logged and dropped.
func (s *codexSession) handleNotification(env rpcEnvelope) {
	msg, err := s.normalizeEvent(env.Method, env.Params)
	if err != nil {
		s.stream.publish(nil, err)
		return
	}
	if msg == nil {
		s.logger.Debug("ignoring app-server event",
			"method", env.Method)
		return
	}
	s.stream.publish(msg, nil)
}

// codexItem is the payload of item lifecycle events.
type codexItem struct {
	ID               string `json:"id"`
	Type             string `json:"type"`
	Text             string `json:"text"`
	Command          string `json:"command"`
	AggregatedOutput string `json:"aggregated_output"`
	ExitCode         *int   `json:"exit_code"`
}

// normalizeEvent maps an app-server notification onto the common message
// vocabulary. A nil message with nil error means the event has no
// mapping.
func (s *codexSession) normalizeEvent(method string,
	params json.RawMessage) (Message, error) {

	switch method {
	case "thread.started":
		var started struct {
			ThreadID string `json:"threadId"`
		}
		_ = json.Unmarshal(params, &started)
		if started.ThreadID != "" {
			s.threadMu.Lock()
			s.threadID = started.ThreadID
			s.threadMu.Unlock()
		}
		return SystemMessage{
			Subtype: "init",
			Data:    params,
		}, nil

	case "turn.started":
		return SystemMessage{
			Subtype: "turn_started",
			Data:    params,
		}, nil

	case "turn.completed":
		var completed struct {
			Usage *Usage `json:"usage"`
		}
		_ = json.Unmarshal(params, &completed)
		return ResultMessage{
			Type:      "result",
			Subtype:   ResultSubtypeSuccess,
			SessionID: s.thread(),
			NumTurns:  1,
			Usage:     completed.Usage,
		}, nil

	case "turn.failed", "error":
		return SystemMessage{
			Subtype: "error",
			Data:    params,
		}, nil

	case "item.started", "item.updated":
		// Only completed items are surfaced; intermediate states
		// would duplicate their content.
		return nil, nil

	case "item.completed":
		var payload struct {
			Item codexItem `json:"item"`
		}
		if err := json.Unmarshal(params, &payload); err != nil {
			return nil, &ErrJSONDecode{
				Line:  string(params),
				Cause: err,
			}
		}
		return s.normalizeItem(payload.Item), nil

	default:
		return nil, nil
	}
}

// normalizeItem maps one completed item onto an assistant message.
func (s *codexSession) normalizeItem(item codexItem) Message {
	switch item.Type {
	case "agent_message":
		return AssistantMessage{
			Content: []ContentBlock{TextBlock(item.Text)},
		}

	case "reasoning":
		return AssistantMessage{
			Content: []ContentBlock{{
				Type:     ContentBlockTypeThinking,
				Thinking: item.Text,
			}},
		}

	case "command_execution":
		return s.toolItem(item, "Bash", map[string]any{
			"command": item.Command,
		}, item.AggregatedOutput,
			item.ExitCode != nil && *item.ExitCode != 0)

	case "file_change":
		return s.toolItem(item, "Edit", map[string]any{}, "", false)

	default:
		return nil
	}
}

// toolItem renders a completed tool item as a tool_use block paired with
// its tool_result.
func (s *codexSession) toolItem(item codexItem, toolName string,
	input map[string]any, output string, isError bool) Message {

	inputJSON, err := json.Marshal(input)
	if err != nil {
		inputJSON = []byte("{}")
	}

	use := ContentBlock{
		Type:  ContentBlockTypeToolUse,
		ID:    item.ID,
		Name:  toolName,
		Input: inputJSON,
	}

	result, err := ToolResultBlock(item.ID, output, isError)
	if err != nil {
		return AssistantMessage{Content: []ContentBlock{use}}
	}
	return AssistantMessage{Content: []ContentBlock{use, result}}
}

// SendMessage implements Session. The turn/start response resolves in the
// background: a failed turn surfaces as an inline stream error rather
// than blocking the send.
func (s *codexSession) SendMessage(ctx context.Context, prompt,
	sessionID string) error {

	thread := s.thread()
	if thread == "" {
		return &ErrConnection{Cause: errors.New("no active thread")}
	}

	params := map[string]any{
		"threadId": thread,
		"input": []map[string]any{{
			"role":    "user",
			"content": prompt,
		}},
	}

	go func() {
		if _, err := s.call(context.WithoutCancel(ctx),
			"turn/start", params); err != nil {

			s.stream.publish(nil, err)
		}
	}()
	return nil
}

// ReceiveMessages implements Session.
func (s *codexSession) ReceiveMessages(
	ctx context.Context) iter.Seq2[Message, error] {

	return s.stream.receive(ctx)
}

// ReceiveResponse implements Session.
func (s *codexSession) ReceiveResponse(
	ctx context.Context) iter.Seq2[Message, error] {

	return s.stream.receiveResponse(ctx)
}

// SendControlRequest implements Session. The only control subtype with an
// app-server equivalent is interrupt.
func (s *codexSession) SendControlRequest(ctx context.Context,
	body ControlRequestBody) (map[string]any, error) {

	if body.Subtype != ControlSubtypeInterrupt {
		return nil, &ErrUnsupportedFeature{
			Feature: body.Subtype,
			Backend: "codex",
		}
	}
	return nil, s.Interrupt(ctx)
}

// Interrupt implements Session.
func (s *codexSession) Interrupt(ctx context.Context) error {
	thread := s.thread()
	if thread == "" {
		return &ErrConnection{Cause: errors.New("no active thread")}
	}
	_, err := s.call(ctx, "turn/interrupt", map[string]any{
		"threadId": thread,
	})
	return err
}

// ServerInfo implements Session. The app-server has no initialize
// payload beyond the thread id.
func (s *codexSession) ServerInfo() *ServerInfo {
	thread := s.thread()
	if thread == "" {
		return nil
	}
	return &ServerInfo{
		Raw: map[string]any{"threadId": thread},
	}
}

// Close implements Session.
func (s *codexSession) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.done)

	err := s.transport.Close()

	if s.cancel != nil {
		s.cancel()
	}
	if s.group != nil {
		_ = s.group.Wait()
	}

	s.shutdownStreams()
	return err
}
