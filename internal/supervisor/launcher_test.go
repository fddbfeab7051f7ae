//go:build !windows

package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecLauncherCapturesOutput(t *testing.T) {
	h, err := ExecLauncher{}.Launch(context.Background(), "sh", []string{"-c", "echo starting; echo boom >&2; exit 3"})
	require.NoError(t, err)

	select {
	case <-h.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	assert.Error(t, h.ExitErr())
	assert.Contains(t, h.Output(), "starting")
	assert.Contains(t, h.Output(), "boom")
	require.NoError(t, h.Kill(), "kill after exit is a no-op")
}

func TestExecLauncherKill(t *testing.T) {
	h, err := ExecLauncher{}.Launch(context.Background(), "sh", []string{"-c", "sleep 30"})
	require.NoError(t, err)
	require.NoError(t, h.Kill())

	select {
	case <-h.Exited():
	default:
		t.Fatal("exited not closed after kill")
	}
}

func TestExecLauncherMissingBinary(t *testing.T) {
	_, err := ExecLauncher{}.Launch(context.Background(), "/nonexistent/llama-server", nil)
	require.Error(t, err)
}
