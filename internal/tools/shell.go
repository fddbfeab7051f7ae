package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
)

const truncatedMarker = "\n...[output truncated]"

// BashExecInput parameters for bash_exec tool
type BashExecInput struct {
	Command    string `json:"command" jsonschema:"required,description=Shell command to execute"`
	WorkingDir string `json:"working_dir" jsonschema:"description=Working directory (default workspace root)"`
}

// BashExecOutput result of bash_exec tool
type BashExecOutput struct {
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	ExitCode  int    `json:"exit_code"`
	TimedOut  bool   `json:"timed_out,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

type bashExecToolImpl struct {
	root      string
	timeout   time.Duration
	maxOutput int
}

func (e *bashExecToolImpl) execute(ctx context.Context, input *BashExecInput) (*BashExecOutput, error) {
	if input.Command == "" {
		return nil, fmt.Errorf("command must not be empty")
	}

	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	cmd := shellCommand(runCtx, input.Command)
	cmd.Dir = resolvePath(e.root, input.WorkingDir)
	setupProcessGroup(cmd)

	stdout := &limitedBuffer{limit: e.maxOutput}
	stderr := &limitedBuffer{limit: e.maxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	inv := InvocationFrom(ctx)
	slog.Debug("bash_exec start", "session", inv.SessionID, "call_id", inv.CallID, "dir", cmd.Dir)

	err := cmd.Run()
	out := &BashExecOutput{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.truncated || stderr.truncated,
	}
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case runCtx.Err() != nil:
			out.ExitCode = -1
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				out.TimedOut = true
				out.Stderr += fmt.Sprintf("\ncommand timed out after %s", e.timeout)
			} else {
				out.Stderr += "\ncommand cancelled"
			}
		case errors.As(err, &exitErr):
			out.ExitCode = exitErr.ExitCode()
		default:
			return nil, err
		}
	}
	slog.Debug("bash_exec done", "call_id", inv.CallID, "exit_code", out.ExitCode, "timed_out", out.TimedOut)
	return out, nil
}

// NewBashExecTool creates the bash_exec tool. Commands run in their own
// process group so cancellation kills every child.
func NewBashExecTool(root string, timeoutSec, maxOutput int) (tool.InvokableTool, error) {
	impl := &bashExecToolImpl{
		root:      root,
		timeout:   time.Duration(timeoutSec) * time.Second,
		maxOutput: maxOutput,
	}
	return utils.InferTool("bash_exec", "Execute a shell command in the workspace", impl.execute)
}

func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command)
	}
	if path, err := exec.LookPath("bash"); err == nil {
		return exec.CommandContext(ctx, path, "-c", command)
	}
	return exec.CommandContext(ctx, "sh", "-c", command)
}

type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	if l.limit <= 0 {
		return l.buf.Write(p)
	}
	remaining := l.limit - l.buf.Len()
	if remaining <= 0 {
		l.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		l.truncated = true
		_, _ = l.buf.Write(p[:remaining])
		return len(p), nil
	}
	return l.buf.Write(p)
}

func (l *limitedBuffer) String() string {
	if l.truncated {
		return l.buf.String() + truncatedMarker
	}
	return l.buf.String()
}

var _ io.Writer = (*limitedBuffer)(nil)
