package agentsdk

import "encoding/json"

// SlashCommand is a slash command the agent advertises at initialize.
type SlashCommand struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	ArgumentHint string `json:"argumentHint"`
}

// ModelInfo describes a model the agent can run.
type ModelInfo struct {
	Value       string `json:"value"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
}

// McpServerStatus reports the connection status of an MCP server.
type McpServerStatus struct {
	Name       string         `json:"name"`
	Status     McpServerState `json:"status"`
	ServerInfo *McpServerInfo `json:"serverInfo"`
}

// McpServerState represents MCP server connection states.
type McpServerState string

const (
	// McpServerStateConnected indicates successful connection.
	McpServerStateConnected McpServerState = "connected"
	// McpServerStateFailed indicates connection failure.
	McpServerStateFailed McpServerState = "failed"
	// McpServerStateNeedsAuth indicates authentication required.
	McpServerStateNeedsAuth McpServerState = "needs-auth"
	// McpServerStatePending indicates connection in progress.
	McpServerStatePending McpServerState = "pending"
)

// McpServerInfo contains metadata about a connected MCP server.
type McpServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// AccountInfo contains user account information.
type AccountInfo struct {
	Email            string `json:"email,omitempty"`
	Organization     string `json:"organization,omitempty"`
	SubscriptionType string `json:"subscriptionType,omitempty"`
	TokenSource      string `json:"tokenSource,omitempty"`
	APIKeySource     string `json:"apiKeySource,omitempty"`
}

// ServerInfo is the agent's initialize response: the commands, models, and
// output styles the session supports. Raw preserves the full payload for
// fields this struct does not model.
type ServerInfo struct {
	Commands              []SlashCommand `json:"commands,omitempty"`
	Models                []ModelInfo    `json:"models,omitempty"`
	OutputStyle           string         `json:"output_style,omitempty"`
	AvailableOutputStyles []string       `json:"available_output_styles,omitempty"`
	Account               *AccountInfo   `json:"account,omitempty"`

	Raw map[string]any `json:"-"`
}

// parseServerInfo projects an initialize response payload into ServerInfo.
// Unknown fields stay reachable through Raw.
func parseServerInfo(payload map[string]any) *ServerInfo {
	info := &ServerInfo{Raw: payload}
	if payload == nil {
		return info
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return info
	}
	// Best effort: a malformed field leaves the typed view partially
	// filled while Raw keeps everything.
	_ = json.Unmarshal(data, info)
	return info
}
