package transport

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConsoleCommand(t *testing.T) {
	exe, args, err := ConsoleCommand("", "127.0.0.1:9000")
	require.NoError(t, err)
	self, _ := os.Executable()
	require.Equal(t, self, exe)
	require.Equal(t, []string{"console", "--addr", "127.0.0.1:9000"}, args)

	exe, args, err = ConsoleCommand("diagwire console --keep-alive", "h:1")
	require.NoError(t, err)
	require.Equal(t, "diagwire", exe)
	require.Equal(t, []string{"console", "--keep-alive", "--addr", "h:1"}, args)
}

func TestProcessSpawner_SkipsLiveConsole(t *testing.T) {
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}

	var capturedName string
	var capturedArgs []string
	calls := 0
	spawner := NewProcessSpawner("/path/to/diagwire", []string{"console", "--addr", "x"}).
		WithCommandFactory(func(ctx context.Context, name string, args ...string) *exec.Cmd {
			calls++
			capturedName, capturedArgs = name, args
			return exec.CommandContext(ctx, sleep, "5")
		})

	started, err := spawner.Spawn(context.Background())
	require.NoError(t, err)
	require.True(t, started)
	require.True(t, spawner.Alive())
	t.Cleanup(func() {
		if p, err := os.FindProcess(spawner.Pid()); err == nil {
			_ = p.Kill()
		}
	})

	started, err = spawner.Spawn(context.Background())
	require.NoError(t, err)
	require.False(t, started, "live console is not spawned twice")
	require.Equal(t, 1, calls)
	require.Equal(t, "/path/to/diagwire", capturedName)
	require.Equal(t, []string{"console", "--addr", "x"}, capturedArgs)
}

func TestProcessSpawner_RespawnsAfterExit(t *testing.T) {
	truePath, err := exec.LookPath("true")
	if err != nil {
		t.Skip("true not available")
	}
	calls := 0
	spawner := NewProcessSpawner("console", nil).
		WithCommandFactory(func(ctx context.Context, _ string, _ ...string) *exec.Cmd {
			calls++
			return exec.CommandContext(ctx, truePath)
		})

	_, err = spawner.Spawn(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !spawner.Alive() }, 2*time.Second, 10*time.Millisecond)

	started, err := spawner.Spawn(context.Background())
	require.NoError(t, err)
	require.True(t, started)
	require.Equal(t, 2, calls)
}

func TestProcessSpawner_OutputReachesWriter(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	out := &syncBuffer{}
	spawner := NewProcessSpawner("diagwire", []string{"console"}).
		WithOutput(out).
		WithCommandFactory(func(ctx context.Context, _ string, _ ...string) *exec.Cmd {
			return exec.CommandContext(ctx, sh, "-c", "echo rendered-entry; echo listen-error >&2")
		})

	started, err := spawner.Spawn(context.Background())
	require.NoError(t, err)
	require.True(t, started)

	require.Eventually(t, func() bool {
		text := out.String()
		return strings.Contains(text, "rendered-entry") && strings.Contains(text, "listen-error")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProcessSpawner_DefaultsToParentStdout(t *testing.T) {
	require.Equal(t, os.Stdout, NewProcessSpawner("diagwire", nil).output)
	require.Nil(t, NewProcessSpawner("diagwire", nil).WithOutput(nil).output)
}

func TestProcessSpawner_StartFailure(t *testing.T) {
	spawner := NewProcessSpawner("/nonexistent/path/to/diagwire", nil)
	started, err := spawner.Spawn(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to start")
	require.False(t, started)
	require.Zero(t, spawner.Pid())

	_, err = NewProcessSpawner("", nil).Spawn(context.Background())
	require.ErrorContains(t, err, "executable path is required")
}

func TestIsProcessAlive(t *testing.T) {
	require.True(t, isProcessAlive(os.Getpid()))
}
