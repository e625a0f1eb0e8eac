package agentsdk

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
)

// cursorExecutable is the CLI binary searched for on PATH.
const cursorExecutable = "agent"

// CursorBackend drives the Cursor Agent CLI. The CLI has no long-lived
// server mode, so multi-turn sessions spawn one child per turn and chain
// them with --resume <chatId>.
type CursorBackend struct{}

// NewCursorBackend creates the spawn-per-turn backend.
func NewCursorBackend() *CursorBackend {
	return &CursorBackend{}
}

// Kind implements Backend.
func (b *CursorBackend) Kind() BackendKind { return BackendCursor }

// Name implements Backend.
func (b *CursorBackend) Name() string { return "cursor" }

// Capabilities implements Backend. A per-turn child has no channel for
// any of the session features.
func (b *CursorBackend) Capabilities() Capabilities {
	return Capabilities{}
}

// ValidateOptions implements Backend.
func (b *CursorBackend) ValidateOptions(opts *Options) error {
	if opts == nil {
		return nil
	}

	var rejected []string
	if opts.SystemPrompt != "" {
		rejected = append(rejected, optionSystemPrompt)
	}
	if opts.CanUseTool != nil {
		rejected = append(rejected, optionCanUseTool)
	}
	if len(opts.Hooks) > 0 {
		rejected = append(rejected, optionHooks)
	}
	if len(opts.SDKMCPServers) > 0 {
		rejected = append(rejected, optionSDKMCPServers)
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
	if len(opts.Agents) > 0 {
		rejected = append(rejected, optionAgents)
	}
	if opts.PermissionMode != "" &&
		opts.PermissionMode != PermissionModeDefault {

		rejected = append(rejected, optionPermissionMode)
	}
	if opts.MaxThinkingTokens != nil {
		rejected = append(rejected, optionMaxThinkingTokens)
	}
	if opts.IncludePartialMessages {
		rejected = append(rejected, optionIncludePartialMessages)
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
func (b *CursorBackend) OneShotQuery(ctx context.Context, prompt string,
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

// CreateSession implements Backend. No child is spawned until the first
// SendMessage; the session only resolves the CLI path up front.
func (b *CursorBackend) CreateSession(ctx context.Context,
	opts *Options) (Session, error) {

	if opts == nil {
		opts = NewOptions()
	}
	if err := b.ValidateOptions(opts); err != nil {
		return nil, err
	}

	cliPath, err := DiscoverCLIPath(cursorExecutable, opts)
	if err != nil {
		return nil, err
	}

	s := &cursorSession{
		cliPath: cliPath,
		opts:    opts,
		logger:  opts.logger(),
		chatID:  opts.Resume,
	}
	s.stream = newBroadcaster(s.logger)
	return s, nil
}

// cursorSession chains spawn-per-turn children into one logical
// conversation. The chat id from the first turn's init event threads the
// following turns together.
type cursorSession struct {
	cliPath string
	opts    *Options
	logger  *slog.Logger
	stream  *broadcaster

	mu          sync.Mutex
	chatID      string
	turnStarted bool
	active      *SubprocessTransport

	closed atomic.Bool
}

// buildTurnArgs renders the per-turn command line. The prompt rides as
// the final positional argument.
func (s *cursorSession) buildTurnArgs(prompt, chatID string) []string {
	args := []string{
		"--print",
		"--output-format", "stream-json",
	}
	if chatID != "" {
		args = append(args, "--resume", chatID)
	}
	if s.opts.Model != "" {
		args = append(args, "--model", s.opts.Model)
	}
	args = append(args, prompt)
	return args
}

// SendMessage implements Session. One turn at a time: a send while the
// previous child is still streaming is refused, as is a second turn
// before the first produced a chat id to resume from.
func (s *cursorSession) SendMessage(ctx context.Context, prompt,
	sessionID string) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return &ErrConnection{Cause: errors.New("session closed")}
	}
	if s.active != nil {
		return &ErrConnection{Cause: errors.New(
			"previous turn still running; drain ReceiveResponse " +
				"before sending again")}
	}
	if s.turnStarted && s.chatID == "" {
		return &ErrConnection{Cause: errors.New(
			"no chat id from previous turn; cannot resume")}
	}

	transport := NewSubprocessTransport(s.cliPath,
		s.buildTurnArgs(prompt, s.chatID), s.opts)
	if err := transport.Connect(ctx); err != nil {
		return err
	}
	// The per-turn child takes no stdin traffic.
	_ = transport.EndInput()

	s.active = transport
	s.turnStarted = true

	go s.readTurn(ctx, transport)
	return nil
}

// readTurn drains one child's stream into the broadcast, capturing the
// chat id along the way. The child is reaped when its output ends.
func (s *cursorSession) readTurn(ctx context.Context,
	transport *SubprocessTransport) {

	defer func() {
		_ = transport.Close()
		s.mu.Lock()
		if s.active == transport {
			s.active = nil
		}
		s.mu.Unlock()
	}()

	for raw, err := range transport.ReadMessages(ctx) {
		if err != nil {
			s.stream.publish(nil, err)
			return
		}

		s.captureChatID(raw)

		msg, parseErr := parseCursorEvent(raw)
		if parseErr != nil {
			s.stream.publish(nil, parseErr)
			continue
		}
		if msg == nil {
			continue
		}
		s.stream.publish(msg, nil)
	}

	if err := transport.ExitError(); err != nil {
		s.stream.publish(nil, err)
	}
}

// captureChatID records the conversation id carried on init and result
// events.
func (s *cursorSession) captureChatID(raw json.RawMessage) {
	var probe struct {
		Type      string `json:"type"`
		ChatID    string `json:"chatId"`
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return
	}
	if probe.Type != "system" && probe.Type != "result" {
		return
	}

	id := probe.ChatID
	if id == "" {
		id = probe.SessionID
	}
	if id == "" {
		return
	}

	s.mu.Lock()
	s.chatID = id
	s.mu.Unlock()
}

// ReceiveMessages implements Session.
func (s *cursorSession) ReceiveMessages(
	ctx context.Context) iter.Seq2[Message, error] {

	return s.stream.receive(ctx)
}

// ReceiveResponse implements Session.
func (s *cursorSession) ReceiveResponse(
	ctx context.Context) iter.Seq2[Message, error] {

	return s.stream.receiveResponse(ctx)
}

// SendControlRequest implements Session. The per-turn child exposes no
// control channel.
func (s *cursorSession) SendControlRequest(ctx context.Context,
	body ControlRequestBody) (map[string]any, error) {

	return nil, &ErrUnsupportedFeature{
		Feature: body.Subtype,
		Backend: "cursor",
	}
}

// Interrupt implements Session.
func (s *cursorSession) Interrupt(ctx context.Context) error {
	return &ErrUnsupportedFeature{
		Feature: "interrupt",
		Backend: "cursor",
	}
}

// ServerInfo implements Session.
func (s *cursorSession) ServerInfo() *ServerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chatID == "" {
		return nil
	}
	return &ServerInfo{
		Raw: map[string]any{"chatId": s.chatID},
	}
}

// Close implements Session.
func (s *cursorSession) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	active := s.active
	s.active = nil
	s.mu.Unlock()

	var err error
	if active != nil {
		err = active.Close()
	}
	s.stream.shutdown()
	return err
}

// parseCursorEvent maps one Cursor stream-json event onto the common
// message vocabulary. A nil message with nil error means the event has
// no mapping.
func parseCursorEvent(raw json.RawMessage) (Message, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, &ErrJSONDecode{Line: string(raw), Cause: err}
	}

	switch probe.Type {
	case "system", "result", "user":
		// These event shapes match the common wire format.
		return ParseMessage(raw)

	case "assistant":
		return parseCursorAssistant(raw)

	case "thinking":
		return parseCursorThinking(raw)

	case "tool_call":
		return parseCursorToolCall(raw)

	default:
		return nil, nil
	}
}

// parseCursorAssistant flattens an assistant event into one text block.
// The text lives either in a nested message (string or block array) or in
// a bare text field.
func parseCursorAssistant(raw json.RawMessage) (Message, error) {
	var event struct {
		Text            string  `json:"text"`
		Model           string  `json:"model"`
		ParentToolUseID *string `json:"parent_tool_use_id"`
		Message         *struct {
			Content json.RawMessage `json:"content"`
			Model   string          `json:"model"`
		} `json:"message"`
	}
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, &ErrJSONDecode{Line: string(raw), Cause: err}
	}

	text := event.Text
	model := event.Model
	if event.Message != nil {
		if event.Message.Model != "" {
			model = event.Message.Model
		}
		if len(event.Message.Content) > 0 {
			var content UserContent
			if err := json.Unmarshal(event.Message.Content,
				&content); err == nil {

				if content.Text != "" {
					text = content.Text
				} else {
					for _, block := range content.Blocks {
						if block.Type == ContentBlockTypeText {
							text += block.Text
						}
					}
				}
			}
		}
	}

	if text == "" {
		return nil, nil
	}
	return AssistantMessage{
		Content:         []ContentBlock{TextBlock(text)},
		Model:           model,
		ParentToolUseID: event.ParentToolUseID,
	}, nil
}

// parseCursorThinking maps a thinking event onto a thinking block.
func parseCursorThinking(raw json.RawMessage) (Message, error) {
	var event struct {
		Thinking  string `json:"thinking"`
		Text      string `json:"text"`
		Signature string `json:"signature"`
	}
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, &ErrJSONDecode{Line: string(raw), Cause: err}
	}

	thinking := event.Thinking
	if thinking == "" {
		thinking = event.Text
	}
	if thinking == "" {
		return nil, nil
	}
	return AssistantMessage{
		Content: []ContentBlock{{
			Type:      ContentBlockTypeThinking,
			Thinking:  thinking,
			Signature: event.Signature,
		}},
	}, nil
}

// parseCursorToolCall maps tool_call lifecycle events: started becomes a
// tool_use block, completed becomes the matching tool_result.
func parseCursorToolCall(raw json.RawMessage) (Message, error) {
	var event struct {
		Subtype         string          `json:"subtype"`
		ID              string          `json:"id"`
		ToolUseID       string          `json:"tool_use_id"`
		Name            string          `json:"name"`
		ToolName        string          `json:"tool_name"`
		Input           json.RawMessage `json:"input"`
		Output          json.RawMessage `json:"output"`
		Content         json.RawMessage `json:"content"`
		IsError         *bool           `json:"is_error"`
		ParentToolUseID *string         `json:"parent_tool_use_id"`
	}
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, &ErrJSONDecode{Line: string(raw), Cause: err}
	}

	switch event.Subtype {
	case "started":
		id := event.ID
		if id == "" {
			id = event.ToolUseID
		}
		name := event.Name
		if name == "" {
			name = event.ToolName
		}
		input := event.Input
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		return AssistantMessage{
			Content: []ContentBlock{{
				Type:  ContentBlockTypeToolUse,
				ID:    id,
				Name:  name,
				Input: input,
			}},
			ParentToolUseID: event.ParentToolUseID,
		}, nil

	case "completed":
		id := event.ToolUseID
		if id == "" {
			id = event.ID
		}
		content := event.Output
		if len(content) == 0 {
			content = event.Content
		}
		return AssistantMessage{
			Content: []ContentBlock{{
				Type:      ContentBlockTypeToolResult,
				ToolUseID: id,
				Content:   content,
				IsError:   event.IsError,
			}},
		}, nil

	default:
		return nil, nil
	}
}
