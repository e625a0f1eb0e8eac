package agentsdk

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

// ProcessConfig describes how to spawn the agent CLI child process.
type ProcessConfig struct {
	// Args are the CLI arguments, not including the executable itself.
	Args []string

	// Env is the full environment for the child.
	Env []string

	// Cwd is the working directory for the child. Empty inherits ours.
	Cwd string

	// User is a Unix username to drop to before exec. Empty keeps the
	// current user. Non-Unix platforms reject a non-empty value.
	User string

	// PipeStderr requests a stderr pipe. When false the child's stderr
	// is discarded and the returned stderr reader is nil.
	PipeStderr bool
}

// SubprocessRunner abstracts over child process execution.
//
// The seam allows swapping implementations for testing (in-memory pipes),
// containerized execution, or remote execution.
type SubprocessRunner interface {
	// Start spawns the subprocess and returns its stdio pipes. The
	// stderr reader is nil when cfg.PipeStderr is false.
	Start(ctx context.Context, cfg ProcessConfig) (
		stdin io.WriteCloser,
		stdout io.ReadCloser,
		stderr io.ReadCloser,
		err error,
	)

	// Wait blocks until the subprocess exits and returns the exit error.
	Wait() error

	// Kill forcefully terminates the subprocess.
	Kill() error

	// IsAlive reports whether the subprocess is still running.
	IsAlive() bool
}

// LocalSubprocessRunner executes the agent CLI as a local subprocess via
// os/exec.
type LocalSubprocessRunner struct {
	cliPath string
	cmd     *exec.Cmd
}

// NewLocalSubprocessRunner creates a runner for a local CLI executable.
func NewLocalSubprocessRunner(cliPath string) *LocalSubprocessRunner {
	return &LocalSubprocessRunner{
		cliPath: cliPath,
	}
}

// Start spawns the CLI subprocess.
//
// The command is created without context binding: context-driven kills close
// the stdout pipe before buffered output is drained, so lifecycle is left to
// the caller via Kill.
func (r *LocalSubprocessRunner) Start(ctx context.Context,
	cfg ProcessConfig) (io.WriteCloser, io.ReadCloser, io.ReadCloser, error) {

	r.cmd = exec.Command(r.cliPath, cfg.Args...)
	r.cmd.Env = cfg.Env
	r.cmd.Dir = cfg.Cwd

	if cfg.User != "" {
		if err := setProcessUser(r.cmd, cfg.User); err != nil {
			return nil, nil, nil, err
		}
	}

	stdin, err := r.cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create stdin "+
			"pipe: %w", err)
	}

	stdout, err := r.cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, nil, nil, fmt.Errorf("failed to create stdout "+
			"pipe: %w", err)
	}

	var stderr io.ReadCloser
	if cfg.PipeStderr {
		stderr, err = r.cmd.StderrPipe()
		if err != nil {
			stdin.Close()
			stdout.Close()
			return nil, nil, nil, fmt.Errorf("failed to create "+
				"stderr pipe: %w", err)
		}
	}

	if err := r.cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		if stderr != nil {
			stderr.Close()
		}
		return nil, nil, nil, &ErrConnection{Cause: err}
	}

	return stdin, stdout, stderr, nil
}

// Wait blocks until the subprocess exits.
func (r *LocalSubprocessRunner) Wait() error {
	if r.cmd == nil || r.cmd.Process == nil {
		return &ErrNotConnected{}
	}
	return r.cmd.Wait()
}

// Kill forcefully terminates the subprocess.
func (r *LocalSubprocessRunner) Kill() error {
	if r.cmd == nil || r.cmd.Process == nil {
		return nil
	}
	return r.cmd.Process.Kill()
}

// IsAlive reports whether the subprocess is still running.
func (r *LocalSubprocessRunner) IsAlive() bool {
	if r.cmd == nil || r.cmd.Process == nil {
		return false
	}
	return r.cmd.ProcessState == nil
}

// MockSubprocessRunner simulates an agent CLI subprocess for tests.
//
// It provides in-memory pipes and lets tests inject output lines and
// observe writes without spawning a process.
type MockSubprocessRunner struct {
	StdinPipe  *MockPipe
	StdoutPipe *MockPipe
	StderrPipe *MockPipe

	// LastConfig records the config passed to the most recent Start.
	LastConfig ProcessConfig

	mu      sync.Mutex
	started bool
	exited  bool
	exitErr error
	exitCh  chan struct{}
}

// NewMockSubprocessRunner creates a mock runner for testing.
func NewMockSubprocessRunner() *MockSubprocessRunner {
	return &MockSubprocessRunner{
		StdinPipe:  NewMockPipe(),
		StdoutPipe: NewMockPipe(),
		StderrPipe: NewMockPipe(),
		exitCh:     make(chan struct{}),
	}
}

// Start simulates subprocess startup.
func (m *MockSubprocessRunner) Start(ctx context.Context,
	cfg ProcessConfig) (io.WriteCloser, io.ReadCloser, io.ReadCloser, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.started = true
	m.LastConfig = cfg

	var stderr io.ReadCloser
	if cfg.PipeStderr {
		stderr = m.StderrPipe
	}
	return m.StdinPipe, m.StdoutPipe, stderr, nil
}

// Wait blocks until Exit is called and returns the recorded exit error.
func (m *MockSubprocessRunner) Wait() error {
	<-m.exitCh

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exitErr
}

// Kill simulates killing the subprocess.
func (m *MockSubprocessRunner) Kill() error {
	m.Exit(nil)
	return nil
}

// IsAlive returns subprocess status.
func (m *MockSubprocessRunner) IsAlive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started && !m.exited
}

// Exit signals subprocess termination and closes the pipes so readers see
// EOF. Safe to call more than once.
func (m *MockSubprocessRunner) Exit(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exited {
		return
	}
	m.exited = true
	m.exitErr = err
	close(m.exitCh)

	m.StdinPipe.Close()
	m.StdoutPipe.Close()
	m.StderrPipe.Close()
}

// MockPipe simulates an in-memory pipe for testing.
type MockPipe struct {
	reader *io.PipeReader
	writer *io.PipeWriter
}

// NewMockPipe creates a mock pipe using io.Pipe.
func NewMockPipe() *MockPipe {
	r, w := io.Pipe()
	return &MockPipe{
		reader: r,
		writer: w,
	}
}

// Read implements io.Reader for the read side of the pipe.
func (p *MockPipe) Read(data []byte) (int, error) {
	return p.reader.Read(data)
}

// Write implements io.Writer for the write side of the pipe.
func (p *MockPipe) Write(data []byte) (int, error) {
	return p.writer.Write(data)
}

// Close closes both sides of the pipe.
func (p *MockPipe) Close() error {
	p.writer.Close()
	p.reader.Close()
	return nil
}

// CloseWrite closes only the write side, signaling EOF to the reader.
func (p *MockPipe) CloseWrite() error {
	return p.writer.Close()
}

// CloseRead closes only the read side.
func (p *MockPipe) CloseRead() error {
	return p.reader.Close()
}

// WriteString is a helper for writing strings to the pipe.
func (p *MockPipe) WriteString(s string) error {
	_, err := p.writer.Write([]byte(s))
	return err
}

// DiscoverCLIPath locates an agent CLI executable.
//
// Search order: the explicit path in options, the executable name on PATH,
// then common install locations.
func DiscoverCLIPath(executable string, options *Options) (string, error) {
	if options != nil && options.CLIPath != "" {
		if _, err := os.Stat(options.CLIPath); err != nil {
			return "", &ErrCLINotFound{Path: options.CLIPath}
		}
		return options.CLIPath, nil
	}

	if path, err := exec.LookPath(executable); err == nil {
		return path, nil
	}

	home, _ := os.UserHomeDir()
	candidates := []string{
		filepath.Join("/usr/local/bin", executable),
		filepath.Join("/usr/bin", executable),
	}
	if home != "" {
		candidates = append(candidates,
			filepath.Join(home, ".local/bin", executable),
			filepath.Join(home, ".npm-global/bin", executable),
			filepath.Join(home, "node_modules/.bin", executable),
		)
	}

	for _, p := range candidates {
		info, err := os.Stat(p)
		if err == nil && !info.IsDir() {
			return p, nil
		}
	}

	return "", &ErrCLINotFound{}
}
