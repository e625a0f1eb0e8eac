package agentsdk

import (
	"io"
	"log/slog"
	"time"
)

// Options holds configuration for an agent session.
//
// Options are provided via functional options passed to NewClient or the
// one-shot QueryStream. All fields have sensible defaults and can be
// selectively overridden. Each backend validates the bundle before connect;
// fields a backend cannot honor are rejected with ErrUnsupportedOptions
// rather than silently ignored.
type Options struct {
	// Backend selects which agent CLI family drives the session.
	// Default: BackendClaude.
	Backend BackendKind

	// Model specifies which model the agent should use.
	Model string

	// FallbackModel is the model to use if the primary is overloaded.
	FallbackModel string

	// SystemPrompt replaces the agent's system prompt.
	SystemPrompt string

	// AppendSystemPrompt appends to the agent's default system prompt.
	AppendSystemPrompt string

	// PermissionMode controls tool execution permissions.
	// Default: PermissionModeDefault
	PermissionMode PermissionMode

	// Cwd is the working directory for the child process.
	Cwd string

	// AdditionalDirectories are extra directories the agent can access.
	AdditionalDirectories []string

	// CLIPath is the path to the agent CLI executable.
	// If empty, the CLI is discovered from PATH.
	CLIPath string

	// Env holds extra environment variables for the child process.
	Env map[string]string

	// User is a Unix username the child process drops to before exec.
	// Only supported on Unix platforms.
	User string

	// MaxBufferSize caps the length of a single output line in bytes.
	// Lines beyond the cap terminate the read stream with
	// ErrBufferOverflow. Default: 1 MiB.
	MaxBufferSize int

	// Stderr receives the child's stderr line by line. When nil, stderr
	// is discarded without being piped.
	Stderr io.Writer

	// Logger receives structured diagnostics from the session internals.
	// When nil, logging is disabled.
	Logger *slog.Logger

	// CanUseTool is invoked before each tool execution to decide whether
	// the tool may run.
	CanUseTool CanUseToolFunc

	// Hooks register lifecycle callbacks keyed by event.
	Hooks map[HookEvent][]HookMatcher

	// SDKMCPServers are in-process tool servers. Tool calls to these are
	// routed over the control channel instead of spawning a subprocess.
	SDKMCPServers map[string]*McpServer

	// Agents defines custom subagents sent during initialize.
	Agents map[string]AgentDefinition

	// Resume resumes an existing session by ID.
	Resume string

	// ForkSession branches to a new session ID when resuming.
	ForkSession bool

	// SettingSources selects which filesystem settings the CLI loads.
	// When empty, no filesystem settings are loaded.
	SettingSources []SettingSource

	// Plugins loads custom plugins from local paths.
	Plugins []PluginConfig

	// PermissionPromptToolName routes permission prompts to a tool.
	PermissionPromptToolName string

	// Settings is an opaque settings payload passed through to the CLI.
	Settings string

	// AllowedTools restricts the agent to the named tools.
	AllowedTools []string

	// DisallowedTools removes the named tools.
	DisallowedTools []string

	// MaxThinkingTokens caps the thinking token budget.
	MaxThinkingTokens *int

	// MaxTurns caps the number of agentic turns per query.
	MaxTurns *int

	// IncludePartialMessages enables StreamEvent delivery.
	IncludePartialMessages bool

	// ControlRequestTimeout bounds the wait for a control response.
	// Default: 60s.
	ControlRequestTimeout time.Duration
}

// DefaultControlRequestTimeout bounds outbound control requests when the
// options do not override it.
const DefaultControlRequestTimeout = 60 * time.Second

// DefaultMaxBufferSize caps a single output line from the child.
const DefaultMaxBufferSize = 1024 * 1024

// NewOptions creates Options with defaults applied and the given functional
// options folded in.
func NewOptions(opts ...Option) *Options {
	o := &Options{
		Backend:               BackendClaude,
		PermissionMode:        PermissionModeDefault,
		Env:                   make(map[string]string),
		MaxBufferSize:         DefaultMaxBufferSize,
		ControlRequestTimeout: DefaultControlRequestTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// logger returns the configured logger or a disabled one.
func (o *Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.DiscardHandler)
}

// Option is a functional option for configuring a session.
type Option func(*Options)

// WithBackend selects which agent CLI family drives the session.
func WithBackend(kind BackendKind) Option {
	return func(o *Options) {
		o.Backend = kind
	}
}

// WithModel specifies which model the agent should use.
func WithModel(model string) Option {
	return func(o *Options) {
		o.Model = model
	}
}

// WithFallbackModel sets the model to fall back to if the primary is
// overloaded.
func WithFallbackModel(model string) Option {
	return func(o *Options) {
		o.FallbackModel = model
	}
}

// WithSystemPrompt replaces the agent's system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(o *Options) {
		o.SystemPrompt = prompt
	}
}

// WithAppendSystemPrompt appends instructions to the agent's default system
// prompt.
func WithAppendSystemPrompt(prompt string) Option {
	return func(o *Options) {
		o.AppendSystemPrompt = prompt
	}
}

// WithPermissionMode sets the permission mode for tool execution.
func WithPermissionMode(mode PermissionMode) Option {
	return func(o *Options) {
		o.PermissionMode = mode
	}
}

// WithCwd sets the working directory for the child process.
func WithCwd(cwd string) Option {
	return func(o *Options) {
		o.Cwd = cwd
	}
}

// WithAdditionalDirectories grants the agent access to extra directories.
func WithAdditionalDirectories(dirs ...string) Option {
	return func(o *Options) {
		o.AdditionalDirectories = dirs
	}
}

// WithCLIPath sets the path to the agent CLI executable.
//
// If not specified, the CLI is discovered from the system PATH.
func WithCLIPath(path string) Option {
	return func(o *Options) {
		o.CLIPath = path
	}
}

// WithEnv adds environment variables for the child process.
func WithEnv(env map[string]string) Option {
	return func(o *Options) {
		if o.Env == nil {
			o.Env = make(map[string]string)
		}
		for k, v := range env {
			o.Env[k] = v
		}
	}
}

// WithUser runs the child process as the named Unix user.
func WithUser(user string) Option {
	return func(o *Options) {
		o.User = user
	}
}

// WithMaxBufferSize caps the length of a single output line in bytes.
func WithMaxBufferSize(n int) Option {
	return func(o *Options) {
		o.MaxBufferSize = n
	}
}

// WithStderr forwards the child's stderr to w line by line.
func WithStderr(w io.Writer) Option {
	return func(o *Options) {
		o.Stderr = w
	}
}

// WithLogger enables structured diagnostics from the session internals.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithCanUseTool sets a callback for runtime permission decisions.
//
// The callback is invoked before each tool execution and can inspect the
// tool name and arguments to allow (optionally with modified input) or deny.
func WithCanUseTool(fn CanUseToolFunc) Option {
	return func(o *Options) {
		o.CanUseTool = fn
	}
}

// WithHooks registers lifecycle callbacks.
//
// Example:
//
//	WithHooks(map[agentsdk.HookEvent][]agentsdk.HookMatcher{
//	    agentsdk.HookEventPreToolUse: {
//	        {Matcher: "Bash", Hooks: []agentsdk.HookCallback{auditBash}},
//	    },
//	})
func WithHooks(hooks map[HookEvent][]HookMatcher) Option {
	return func(o *Options) {
		o.Hooks = hooks
	}
}

// WithMcpServer adds an in-process MCP server.
//
// In-process servers run inside the SDK process. Tool calls are routed over
// the control channel rather than spawning separate processes, which makes
// them the lightest way to expose custom tools.
//
// Example:
//
//	server := agentsdk.NewMcpServer("calculator", "1.0.0")
//	agentsdk.AddTool(server, agentsdk.Tool[AddArgs]{
//	    Name:        "add",
//	    Description: "Add two numbers",
//	    Handler:     addHandler,
//	})
//	client, _ := agentsdk.NewClient(agentsdk.WithMcpServer(server))
func WithMcpServer(server *McpServer) Option {
	return func(o *Options) {
		if o.SDKMCPServers == nil {
			o.SDKMCPServers = make(map[string]*McpServer)
		}
		o.SDKMCPServers[server.Name()] = server
	}
}

// WithAgents defines custom subagents the agent can delegate to.
func WithAgents(agents map[string]AgentDefinition) Option {
	return func(o *Options) {
		o.Agents = agents
	}
}

// WithResume resumes an existing session by ID.
func WithResume(sessionID string) Option {
	return func(o *Options) {
		o.Resume = sessionID
	}
}

// WithForkSession branches to a new session ID when resuming.
func WithForkSession(fork bool) Option {
	return func(o *Options) {
		o.ForkSession = fork
	}
}

// WithSettingSources selects which filesystem settings the CLI loads.
func WithSettingSources(sources ...SettingSource) Option {
	return func(o *Options) {
		o.SettingSources = sources
	}
}

// WithPlugins loads custom plugins from local paths.
func WithPlugins(plugins ...PluginConfig) Option {
	return func(o *Options) {
		o.Plugins = plugins
	}
}

// WithPermissionPromptToolName routes permission prompts to a tool.
func WithPermissionPromptToolName(name string) Option {
	return func(o *Options) {
		o.PermissionPromptToolName = name
	}
}

// WithSettings passes an opaque settings payload through to the CLI.
func WithSettings(settings string) Option {
	return func(o *Options) {
		o.Settings = settings
	}
}

// WithAllowedTools restricts the agent to the named tools.
func WithAllowedTools(tools ...string) Option {
	return func(o *Options) {
		o.AllowedTools = tools
	}
}

// WithDisallowedTools removes the named tools.
func WithDisallowedTools(tools ...string) Option {
	return func(o *Options) {
		o.DisallowedTools = tools
	}
}

// WithMaxThinkingTokens caps the thinking token budget.
func WithMaxThinkingTokens(tokens int) Option {
	return func(o *Options) {
		o.MaxThinkingTokens = &tokens
	}
}

// WithMaxTurns caps the number of agentic turns per query.
func WithMaxTurns(turns int) Option {
	return func(o *Options) {
		o.MaxTurns = &turns
	}
}

// WithIncludePartialMessages enables StreamEvent delivery.
func WithIncludePartialMessages(include bool) Option {
	return func(o *Options) {
		o.IncludePartialMessages = include
	}
}

// WithControlRequestTimeout bounds the wait for control responses.
func WithControlRequestTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.ControlRequestTimeout = d
	}
}

// PermissionMode controls how tool execution permissions are handled.
type PermissionMode string

const (
	// PermissionModeDefault uses standard permission checks.
	PermissionModeDefault PermissionMode = "default"

	// PermissionModePlan is planning mode (no tool execution).
	PermissionModePlan PermissionMode = "plan"

	// PermissionModeAcceptEdits auto-approves file operations.
	PermissionModeAcceptEdits PermissionMode = "acceptEdits"

	// PermissionModeBypassAll skips all permission checks.
	PermissionModeBypassAll PermissionMode = "bypassPermissions"
)

// SettingSource represents a filesystem settings source.
type SettingSource string

const (
	// SettingSourceUser loads global user settings.
	SettingSourceUser SettingSource = "user"
	// SettingSourceProject loads shared project settings.
	SettingSourceProject SettingSource = "project"
	// SettingSourceLocal loads local project settings.
	SettingSourceLocal SettingSource = "local"
)

// PluginConfig configures a plugin to load.
type PluginConfig struct {
	// Type must be "local" (only local plugins currently supported).
	Type string `json:"type"`
	// Path is the absolute or relative path to the plugin directory.
	Path string `json:"path"`
}

// Option field names used by backend validation. These are the names
// reported inside ErrUnsupportedOptions.
const (
	optionSystemPrompt             = "system_prompt"
	optionAppendSystemPrompt       = "append_system_prompt"
	optionHooks                    = "hooks"
	optionCanUseTool               = "can_use_tool"
	optionForkSession              = "fork_session"
	optionSettingSources           = "setting_sources"
	optionPlugins                  = "plugins"
	optionPermissionPromptToolName = "permission_prompt_tool_name"
	optionSDKMCPServers            = "sdk_mcp_servers"
	optionAgents                   = "agents"
	optionPermissionMode           = "permission_mode"
	optionMaxThinkingTokens        = "max_thinking_tokens"
	optionIncludePartialMessages   = "include_partial_messages"
	optionUser                     = "user"
	optionSettings                 = "settings"
	optionMaxTurns                 = "max_turns"
	optionResume                   = "resume"
)
