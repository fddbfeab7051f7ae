package supervisor

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
)

const outputTailBytes = 16 * 1024

// ExecLauncher starts servers as child processes in their own process group.
type ExecLauncher struct {
	// Dir is the working directory of launched processes.
	Dir string
}

// Launch starts binary. The process outlives ctx; use Handle.Kill to stop it.
func (l ExecLauncher) Launch(_ context.Context, binary string, args []string) (Handle, error) {
	cmd := exec.Command(binary, args...)
	cmd.Dir = l.Dir
	out := &ringBuffer{max: outputTailBytes}
	cmd.Stdout = out
	cmd.Stderr = out
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	h := &execHandle{cmd: cmd, out: out, exited: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		h.exitErr = err
		h.mu.Unlock()
		close(h.exited)
	}()
	return h, nil
}

type execHandle struct {
	cmd    *exec.Cmd
	out    *ringBuffer
	exited chan struct{}

	mu      sync.Mutex
	exitErr error
}

func (h *execHandle) Pid() int                { return h.cmd.Process.Pid }
func (h *execHandle) Exited() <-chan struct{} { return h.exited }
func (h *execHandle) Output() string          { return h.out.String() }

func (h *execHandle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

func (h *execHandle) Kill() error {
	select {
	case <-h.exited:
		return nil
	default:
	}
	if err := killProcessGroup(h.cmd); err != nil {
		return fmt.Errorf("kill pid %d: %w", h.Pid(), err)
	}
	<-h.exited
	return nil
}

// ringBuffer keeps the last max bytes written to it.
type ringBuffer struct {
	mu   sync.Mutex
	max  int
	data []byte
}

func (b *ringBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p)
	if n >= b.max {
		b.data = append(b.data[:0], p[n-b.max:]...)
		return n, nil
	}
	if over := len(b.data) + n - b.max; over > 0 {
		b.data = append(b.data[:0], b.data[over:]...)
	}
	b.data = append(b.data, p...)
	return n, nil
}

func (b *ringBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}
