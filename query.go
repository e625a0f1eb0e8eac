package agentsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// controlOutcome is the resolution of one outbound control request.
type controlOutcome struct {
	payload map[string]any
	errMsg  string
}

// Query is the core of one agent conversation.
//
// It owns the writer task (draining the outbound channel into the
// transport), the reader task (demultiplexing inbound traffic), the pending
// table for outbound control requests, and the broadcast fan-out that feeds
// ReceiveMessages views. Inbound control requests are handed to the control
// multiplexer on detached goroutines so a slow callback never stalls the
// reader.
type Query struct {
	transport Transport
	opts      *Options
	logger    *slog.Logger

	hooks *hookRegistry
	mux   *controlMux

	writeMu     sync.RWMutex
	writeCh     chan []byte
	writeClosed bool

	reqCounter atomic.Uint64
	pendingMu  sync.Mutex
	pending    map[string]chan controlOutcome

	stream *broadcaster

	infoMu     sync.Mutex
	serverInfo *ServerInfo

	group  *errgroup.Group
	cancel context.CancelFunc

	closed atomic.Bool
	done   chan struct{}
}

// NewQuery wires a session core around a connected transport. Start must be
// called before any traffic flows.
func NewQuery(transport Transport, opts *Options) *Query {
	if opts == nil {
		opts = NewOptions()
	}
	q := &Query{
		transport: transport,
		opts:      opts,
		logger:    opts.logger(),
		hooks:     buildHookRegistry(opts.Hooks),
		writeCh:   make(chan []byte, 64),
		pending:   make(map[string]chan controlOutcome),
		done:      make(chan struct{}),
	}
	q.stream = newBroadcaster(q.logger)
	q.mux = newControlMux(opts, q.hooks, q.enqueueValue)
	return q
}

// Start launches the writer and reader tasks. The tasks run until the child
// exits, the context is canceled, or Close is called.
func (q *Query) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	group, gctx := errgroup.WithContext(ctx)
	q.group = group

	group.Go(func() error { return q.writerTask(gctx) })
	group.Go(func() error { return q.readerTask(gctx) })
}

// writerTask drains the outbound channel into the transport. Channel close
// means no more input: the transport's input side is half-closed so the
// child can finish and exit.
func (q *Query) writerTask(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-q.writeCh:
			if !ok {
				return q.transport.EndInput()
			}
			if err := q.transport.Write(ctx, line); err != nil {
				q.logger.Debug("transport write failed",
					"err", err)
				return err
			}
		}
	}
}

// readerTask demultiplexes inbound traffic: control responses resolve the
// pending table, control requests go to the multiplexer, cancel requests
// are acknowledged by ignoring them, everything else is broadcast.
func (q *Query) readerTask(ctx context.Context) error {
	defer q.shutdownStreams()

	for raw, err := range q.transport.ReadMessages(ctx) {
		if err != nil {
			q.publish(nil, err)
			return err
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if jsonErr := json.Unmarshal(raw, &envelope); jsonErr != nil {
			q.publish(nil, &ErrJSONDecode{
				Line:  string(raw),
				Cause: jsonErr,
			})
			continue
		}

		switch envelope.Type {
		case "control_response":
			q.handleControlResponse(raw)

		case "control_request":
			q.handleControlRequest(ctx, raw)

		case "control_cancel_request":
			// Accepted and ignored: in-flight callbacks are
			// allowed to finish and their responses stand.
			q.logger.Debug("ignoring control cancel request")

		default:
			msg, parseErr := ParseMessage(raw)
			if parseErr != nil {
				q.publish(nil, parseErr)
				continue
			}
			q.publish(msg, nil)
		}
	}
	return nil
}

// handleControlResponse resolves the pending entry correlated by request id.
// Late responses, after a timeout already evicted the entry, are dropped.
func (q *Query) handleControlResponse(raw json.RawMessage) {
	var resp ControlResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		q.logger.Debug("malformed control response", "err", err)
		return
	}

	q.pendingMu.Lock()
	ch, ok := q.pending[resp.Response.RequestID]
	if ok {
		delete(q.pending, resp.Response.RequestID)
	}
	q.pendingMu.Unlock()

	if !ok {
		q.logger.Debug("dropping late control response",
			"request_id", resp.Response.RequestID)
		return
	}

	ch <- controlOutcome{
		payload: resp.Response.Response,
		errMsg:  resp.Response.Error,
	}
}

// handleControlRequest dispatches an inbound peer request on a detached
// goroutine. The multiplexer writes its response through the outbound
// channel, never directly to the transport.
func (q *Query) handleControlRequest(ctx context.Context,
	raw json.RawMessage) {

	var req ControlRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		q.logger.Debug("malformed control request", "err", err)
		return
	}

	go q.mux.handle(ctx, req)
}

// enqueue hands one serialized line to the writer task.
func (q *Query) enqueue(ctx context.Context, line []byte) error {
	q.writeMu.RLock()
	defer q.writeMu.RUnlock()

	if q.writeClosed {
		return &ErrTransportClosed{}
	}

	select {
	case q.writeCh <- line:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return &ErrTransportClosed{}
	}
}

// enqueueValue marshals v and hands it to the writer task.
func (q *Query) enqueueValue(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal outbound message: %w",
			err)
	}
	return q.enqueue(ctx, data)
}

// Send writes one data message to the child.
func (q *Query) Send(ctx context.Context, msg Message) error {
	return q.enqueueValue(ctx, msg)
}

// SendControlRequest sends an outbound control request and waits for the
// correlated response.
//
// The wait is bounded by Options.ControlRequestTimeout. A response arriving
// after eviction is dropped by the reader.
func (q *Query) SendControlRequest(ctx context.Context,
	body ControlRequestBody) (map[string]any, error) {

	id := fmt.Sprintf("req_%d", q.reqCounter.Add(1))

	ch := make(chan controlOutcome, 1)
	q.pendingMu.Lock()
	q.pending[id] = ch
	q.pendingMu.Unlock()

	evict := func() {
		q.pendingMu.Lock()
		delete(q.pending, id)
		q.pendingMu.Unlock()
	}

	req := ControlRequest{
		Type:      "control_request",
		RequestID: id,
		Request:   body,
	}
	if err := q.enqueueValue(ctx, req); err != nil {
		evict()
		return nil, err
	}

	timeout := q.opts.ControlRequestTimeout
	if timeout <= 0 {
		timeout = DefaultControlRequestTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case outcome := <-ch:
		if outcome.errMsg != "" {
			return nil, &ErrControlFailed{
				RequestID: id,
				Message:   outcome.errMsg,
			}
		}
		return outcome.payload, nil

	case <-timer.C:
		evict()
		return nil, &ErrControlTimeout{RequestID: id}

	case <-ctx.Done():
		evict()
		return nil, ctx.Err()

	case <-q.done:
		evict()
		return nil, &ErrTransportClosed{}
	}
}

// Initialize performs the control handshake: the hook table and agent
// definitions go out, the server's capability payload comes back and is
// stored in the write-once server info slot.
func (q *Query) Initialize(ctx context.Context) (*ServerInfo, error) {
	body := ControlRequestBody{
		Subtype: ControlSubtypeInitialize,
	}
	if len(q.hooks.config) > 0 {
		body.Hooks = q.hooks.config
	}
	if len(q.opts.Agents) > 0 {
		body.Agents = q.opts.Agents
	}

	payload, err := q.SendControlRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	info := parseServerInfo(payload)

	q.infoMu.Lock()
	if q.serverInfo == nil {
		q.serverInfo = info
	} else {
		info = q.serverInfo
	}
	q.infoMu.Unlock()

	return info, nil
}

// ServerInfo returns the initialize payload, or nil before the handshake
// completes.
func (q *Query) ServerInfo() *ServerInfo {
	q.infoMu.Lock()
	defer q.infoMu.Unlock()
	return q.serverInfo
}

// Interrupt asks the agent to stop the current turn.
func (q *Query) Interrupt(ctx context.Context) error {
	_, err := q.SendControlRequest(ctx, ControlRequestBody{
		Subtype: ControlSubtypeInterrupt,
	})
	return err
}

// SetPermissionMode switches the agent's permission mode mid-session.
func (q *Query) SetPermissionMode(ctx context.Context,
	mode PermissionMode) error {

	_, err := q.SendControlRequest(ctx, ControlRequestBody{
		Subtype: ControlSubtypeSetPermissionMode,
		Mode:    string(mode),
	})
	return err
}

// SetModel switches the agent's model mid-session.
func (q *Query) SetModel(ctx context.Context, model string) error {
	_, err := q.SendControlRequest(ctx, ControlRequestBody{
		Subtype: ControlSubtypeSetModel,
		Model:   model,
	})
	return err
}

// RewindFiles restores checkpointed file state back to a user message.
func (q *Query) RewindFiles(ctx context.Context,
	userMessageID string) error {

	_, err := q.SendControlRequest(ctx, ControlRequestBody{
		Subtype:       ControlSubtypeRewindFiles,
		UserMessageID: userMessageID,
	})
	return err
}

// McpServerStatuses queries the connection status of the agent's MCP
// servers.
func (q *Query) McpServerStatuses(ctx context.Context) ([]McpServerStatus,
	error) {

	payload, err := q.SendControlRequest(ctx, ControlRequestBody{
		Subtype: ControlSubtypeMcpStatus,
	})
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(payload["servers"])
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode mcp status: %w",
			err)
	}
	var statuses []McpServerStatus
	if err := json.Unmarshal(data, &statuses); err != nil {
		return nil, fmt.Errorf("failed to parse mcp status: %w", err)
	}
	return statuses, nil
}

// publish fans one item out to every ReceiveMessages view.
func (q *Query) publish(msg Message, err error) {
	q.stream.publish(msg, err)
}

// shutdownStreams ends every subscriber view and fails pending control
// requests. Runs when the reader exits and again from Close; repeating it
// is harmless.
func (q *Query) shutdownStreams() {
	q.stream.shutdown()

	q.pendingMu.Lock()
	for id, ch := range q.pending {
		ch <- controlOutcome{errMsg: "session closed"}
		delete(q.pending, id)
	}
	q.pendingMu.Unlock()
}

// ReceiveMessages returns an iterator over the full message stream.
//
// Multiple concurrent views are independent: each gets every message from
// its subscription point on. The sequence ends when the session ends or
// when this view lags too far behind.
func (q *Query) ReceiveMessages(ctx context.Context) iter.Seq2[Message, error] {
	return q.stream.receive(ctx)
}

// ReceiveResponse returns an iterator over one response turn: it ends after
// yielding a ResultMessage. Only this view terminates; the session keeps
// running.
func (q *Query) ReceiveResponse(ctx context.Context) iter.Seq2[Message, error] {
	return q.stream.receiveResponse(ctx)
}

// Close tears the session down: the outbound channel is closed so the writer
// half-closes the child's input, the transport is reaped, and the background
// tasks are joined. Idempotent.
func (q *Query) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(q.done)

	q.writeMu.Lock()
	if !q.writeClosed {
		q.writeClosed = true
		close(q.writeCh)
	}
	q.writeMu.Unlock()

	err := q.transport.Close()

	if q.cancel != nil {
		q.cancel()
	}
	if q.group != nil {
		// Writer and reader exit via channel close and transport
		// EOF; the join is bounded because Close killed the child.
		_ = q.group.Wait()
	}

	q.shutdownStreams()
	return err
}
