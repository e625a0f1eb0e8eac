package agentsdk

import (
	"context"
	"encoding/json"
)

// CanUseToolFunc is a callback invoked before tool execution.
//
// Return a PermissionAllow to proceed (optionally with modified input) or a
// PermissionDeny to block. Errors are reported to the peer as an error
// control response; they never crash the session.
type CanUseToolFunc func(ctx context.Context, toolName string,
	input map[string]any, pctx ToolPermissionContext) (PermissionResult, error)

// ToolPermissionContext carries the extra context the agent attaches to a
// permission check.
type ToolPermissionContext struct {
	// Suggestions are permission rule updates the agent proposes. An
	// allow decision may echo a subset back via UpdatedPermissions.
	Suggestions []PermissionUpdate

	// ToolUseID identifies the pending tool invocation.
	ToolUseID string
}

// PermissionResult is the outcome of a permission check.
type PermissionResult interface {
	// Behavior returns "allow" or "deny".
	Behavior() string

	// toWire projects the result into the on-wire response payload.
	toWire() map[string]any
}

// PermissionAllow grants the tool execution.
type PermissionAllow struct {
	// UpdatedInput replaces the tool input when non-nil.
	UpdatedInput map[string]any

	// UpdatedPermissions are permission rule updates to apply.
	UpdatedPermissions []PermissionUpdate
}

// Behavior implements PermissionResult.
func (PermissionAllow) Behavior() string { return "allow" }

func (r PermissionAllow) toWire() map[string]any {
	out := map[string]any{"behavior": "allow"}
	if r.UpdatedInput != nil {
		out["updatedInput"] = r.UpdatedInput
	}
	if len(r.UpdatedPermissions) > 0 {
		out["updatedPermissions"] = r.UpdatedPermissions
	}
	return out
}

// PermissionDeny blocks the tool execution.
type PermissionDeny struct {
	// Message explains the denial to the agent.
	Message string

	// Interrupt stops the whole turn instead of just this tool call.
	Interrupt bool
}

// Behavior implements PermissionResult.
func (PermissionDeny) Behavior() string { return "deny" }

func (r PermissionDeny) toWire() map[string]any {
	return map[string]any{
		"behavior":  "deny",
		"message":   r.Message,
		"interrupt": r.Interrupt,
	}
}

// PermissionUpdate is an operation updating the agent's permission rules.
// The wire shape uses camelCase field names.
type PermissionUpdate struct {
	// Type is one of "addRules", "replaceRules", "removeRules",
	// "setMode", "addDirectories", "removeDirectories".
	Type string `json:"type"`

	Rules       []PermissionRule   `json:"rules,omitempty"`
	Behavior    PermissionBehavior `json:"behavior,omitempty"`
	Mode        PermissionMode     `json:"mode,omitempty"`
	Directories []string           `json:"directories,omitempty"`

	// Destination is one of "userSettings", "projectSettings",
	// "localSettings", "session".
	Destination string `json:"destination,omitempty"`
}

// PermissionRule is a single permission rule value.
type PermissionRule struct {
	ToolName    string `json:"toolName"`
	RuleContent string `json:"ruleContent,omitempty"`
}

// PermissionBehavior controls what a permission rule does.
type PermissionBehavior string

const (
	// PermissionBehaviorAllow allows the action.
	PermissionBehaviorAllow PermissionBehavior = "allow"
	// PermissionBehaviorDeny denies the action.
	PermissionBehaviorDeny PermissionBehavior = "deny"
	// PermissionBehaviorAsk prompts the user.
	PermissionBehaviorAsk PermissionBehavior = "ask"
)

// parsePermissionSuggestions decodes the permission_suggestions field of an
// inbound can_use_tool request. Malformed entries are skipped.
func parsePermissionSuggestions(raw []any) []PermissionUpdate {
	if len(raw) == 0 {
		return nil
	}
	out := make([]PermissionUpdate, 0, len(raw))
	for _, entry := range raw {
		data, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		var update PermissionUpdate
		if err := json.Unmarshal(data, &update); err != nil {
			continue
		}
		out = append(out, update)
	}
	return out
}
