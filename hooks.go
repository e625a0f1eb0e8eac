package agentsdk

import (
	"context"
	"fmt"
	"sort"
)

// HookEvent identifies a lifecycle event the agent reports.
type HookEvent string

const (
	// HookEventPreToolUse fires before tool execution.
	HookEventPreToolUse HookEvent = "PreToolUse"

	// HookEventPostToolUse fires after tool execution.
	HookEventPostToolUse HookEvent = "PostToolUse"

	// HookEventNotification fires when the agent sends a notification.
	HookEventNotification HookEvent = "Notification"

	// HookEventUserPromptSubmit fires when a user message is submitted.
	HookEventUserPromptSubmit HookEvent = "UserPromptSubmit"

	// HookEventStop fires when the agent finishes responding.
	HookEventStop HookEvent = "Stop"

	// HookEventSubagentStop fires when a subagent finishes.
	HookEventSubagentStop HookEvent = "SubagentStop"

	// HookEventPreCompact fires before context compaction.
	HookEventPreCompact HookEvent = "PreCompact"

	// HookEventSessionStart fires when a session starts.
	HookEventSessionStart HookEvent = "SessionStart"

	// HookEventSessionEnd fires when a session ends.
	HookEventSessionEnd HookEvent = "SessionEnd"
)

// HookCallback is invoked when a matched hook event fires.
//
// Input is the raw event payload from the agent. ToolUseID is set for
// tool-related events. The callback runs in its own goroutine so a slow hook
// never stalls the protocol.
type HookCallback func(ctx context.Context, input map[string]any,
	toolUseID string) (HookOutput, error)

// HookMatcher pairs a matcher pattern with the callbacks to run.
type HookMatcher struct {
	// Matcher is a pattern for tool names ("Bash", "mcp__*"). Empty
	// matches every event of the type.
	Matcher string

	// Timeout in seconds for the callbacks, reported to the agent.
	Timeout int

	// Hooks are run in order for matching events.
	Hooks []HookCallback
}

// HookOutput is what a hook callback returns to influence agent behavior.
type HookOutput interface {
	toWire() map[string]any
}

// SyncHookOutput is the immediate form of hook output.
//
// The zero value means "no opinion": execution continues unchanged.
type SyncHookOutput struct {
	// Continue, when set false, aborts further processing.
	Continue *bool

	// SuppressOutput hides the hook's stdout from the transcript.
	SuppressOutput bool

	// StopReason is shown when Continue is false.
	StopReason string

	// Decision "block" rejects the action with Reason fed back to the
	// agent.
	Decision string

	// SystemMessage adds a message to the transcript.
	SystemMessage string

	// Reason accompanies a block decision.
	Reason string

	// HookSpecificOutput carries event-specific fields.
	HookSpecificOutput map[string]any
}

func (o SyncHookOutput) toWire() map[string]any {
	out := make(map[string]any)
	if o.Continue != nil {
		out["continue"] = *o.Continue
	}
	if o.SuppressOutput {
		out["suppressOutput"] = true
	}
	if o.StopReason != "" {
		out["stopReason"] = o.StopReason
	}
	if o.Decision != "" {
		out["decision"] = o.Decision
	}
	if o.SystemMessage != "" {
		out["systemMessage"] = o.SystemMessage
	}
	if o.Reason != "" {
		out["reason"] = o.Reason
	}
	if o.HookSpecificOutput != nil {
		out["hookSpecificOutput"] = o.HookSpecificOutput
	}
	return out
}

// AsyncHookOutput tells the agent the hook completes out of band.
type AsyncHookOutput struct {
	// AsyncTimeout in milliseconds, 0 for the agent default.
	AsyncTimeout int
}

func (o AsyncHookOutput) toWire() map[string]any {
	out := map[string]any{"async": true}
	if o.AsyncTimeout > 0 {
		out["asyncTimeout"] = o.AsyncTimeout
	}
	return out
}

// hookRegistry is the session-lifetime hook table. Callback ids are assigned
// once at construction, in sorted event order then registration order, and
// stay stable for the session. The initialize payload and inbound dispatch
// share the same table.
type hookRegistry struct {
	config    map[string][]HookMatcherConfig
	callbacks map[string]HookCallback
}

// buildHookRegistry assigns hook_0..hook_{k-1} ids across the hook table.
func buildHookRegistry(hooks map[HookEvent][]HookMatcher) *hookRegistry {
	reg := &hookRegistry{
		config:    make(map[string][]HookMatcherConfig),
		callbacks: make(map[string]HookCallback),
	}
	if len(hooks) == 0 {
		return reg
	}

	events := make([]string, 0, len(hooks))
	for event := range hooks {
		events = append(events, string(event))
	}
	sort.Strings(events)

	var next int
	for _, event := range events {
		matchers := hooks[HookEvent(event)]
		configs := make([]HookMatcherConfig, 0, len(matchers))
		for _, matcher := range matchers {
			ids := make([]string, 0, len(matcher.Hooks))
			for _, callback := range matcher.Hooks {
				id := fmt.Sprintf("hook_%d", next)
				next++
				reg.callbacks[id] = callback
				ids = append(ids, id)
			}
			configs = append(configs, HookMatcherConfig{
				Matcher:         matcher.Matcher,
				HookCallbackIDs: ids,
				Timeout:         matcher.Timeout,
			})
		}
		reg.config[event] = configs
	}
	return reg
}

// lookup returns the callback registered under id.
func (r *hookRegistry) lookup(id string) (HookCallback, bool) {
	cb, ok := r.callbacks[id]
	return cb, ok
}
