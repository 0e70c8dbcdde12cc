package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/zjrosen/diagwire/internal/log"
)

// CommandFactoryFunc creates an exec.Cmd. Tests replace it to avoid
// starting real consoles.
type CommandFactoryFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// ProcessSpawner starts the console as a detached child process and
// remembers its pid so a live console is never started twice.
type ProcessSpawner struct {
	execPath       string
	args           []string
	env            []string
	output         io.Writer
	commandFactory CommandFactoryFunc

	mu  sync.Mutex
	pid int
}

// NewProcessSpawner creates a spawner running execPath with args. The
// console writes to the parent's stdout and stderr unless WithOutput
// says otherwise.
func NewProcessSpawner(execPath string, args []string) *ProcessSpawner {
	return &ProcessSpawner{
		execPath:       execPath,
		args:           args,
		output:         os.Stdout,
		commandFactory: exec.CommandContext,
	}
}

// ConsoleCommand returns the command that starts a console listening on
// addr. An empty command line means this executable's "console"
// subcommand; otherwise it is split on whitespace and addr is appended
// as --addr.
func ConsoleCommand(commandLine, addr string) (string, []string, error) {
	if fields := strings.Fields(commandLine); len(fields) > 0 {
		return fields[0], append(fields[1:], "--addr", addr), nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", nil, fmt.Errorf("locating executable: %w", err)
	}
	return exe, []string{"console", "--addr", addr}, nil
}

// WithCommandFactory replaces how the command is built.
func (s *ProcessSpawner) WithCommandFactory(fn CommandFactoryFunc) *ProcessSpawner {
	s.commandFactory = fn
	return s
}

// WithEnv appends KEY=VALUE entries to the child environment.
func (s *ProcessSpawner) WithEnv(env []string) *ProcessSpawner {
	s.env = env
	return s
}

// WithOutput sets where the console's stdout and stderr go. A nil w
// discards them.
func (s *ProcessSpawner) WithOutput(w io.Writer) *ProcessSpawner {
	s.output = w
	return s
}

// Spawn starts the console unless the previously started one is alive.
func (s *ProcessSpawner) Spawn(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pid > 0 && isProcessAlive(s.pid) {
		log.Debug(log.CatTransport, "console already running", "pid", s.pid)
		return false, nil
	}
	if s.execPath == "" {
		return false, fmt.Errorf("spawn console: executable path is required")
	}

	// The console outlives the request that triggered it.
	cmd := s.commandFactory(context.Background(), s.execPath, s.args...)
	if len(s.env) > 0 {
		cmd.Env = append(os.Environ(), s.env...)
	}
	if s.output != nil {
		cmd.Stdout = s.output
		cmd.Stderr = s.output
	}
	if err := cmd.Start(); err != nil {
		return false, fmt.Errorf("spawn console: failed to start %s: %w", s.execPath, err)
	}
	s.pid = cmd.Process.Pid
	log.Info(log.CatTransport, "console spawned", "pid", s.pid, "exec", s.execPath, "args", strings.Join(s.args, " "))

	log.SafeGo("transport.reapConsole", func() {
		err := cmd.Wait()
		log.Debug(log.CatTransport, "spawned console exited", "pid", cmd.Process.Pid, "error", err)
	})
	return true, nil
}

// Pid returns the pid of the last spawned console, or 0.
func (s *ProcessSpawner) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// Alive reports whether the last spawned console is still running.
func (s *ProcessSpawner) Alive() bool {
	pid := s.Pid()
	return pid > 0 && isProcessAlive(pid)
}
