package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/vorkdev/vork/internal/config"
	"github.com/vorkdev/vork/internal/provider"
	"github.com/vorkdev/vork/internal/supervisor"
)

// Process exit codes.
const (
	ExitOK                 = 0
	ExitFailure            = 1
	ExitConfig             = 2
	ExitNoModel            = 3
	ExitHealthTimeout      = 4
	ExitApprovalDenied     = 5
	ExitLaunchFailed       = 6
	ExitBackendUnavailable = 7
)

// errApprovalDenied is returned by exec when a tool call needed an operator
// and none was attached.
var errApprovalDenied = errors.New("one or more tool calls required operator approval and were denied")

// ExitCode maps an error returned by a command to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var cfgErr *config.Error
	switch {
	case errors.As(err, &cfgErr):
		return ExitConfig
	case supervisor.IsKind(err, supervisor.KindNoModelFound):
		return ExitNoModel
	case supervisor.IsKind(err, supervisor.KindHealthTimeout):
		return ExitHealthTimeout
	case supervisor.IsKind(err, supervisor.KindLaunchFailed):
		return ExitLaunchFailed
	case errors.Is(err, errApprovalDenied):
		return ExitApprovalDenied
	case errors.Is(err, provider.ErrBackendUnavailable):
		return ExitBackendUnavailable
	default:
		return ExitFailure
	}
}

// diagnosticLines bounds how much captured server output is echoed.
const diagnosticLines = 40

// ReportError prints err for the operator. Supervisor failures are followed
// by the tail of the captured llama-server output.
func ReportError(w io.Writer, err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(w, "Error:", err)
	var se *supervisor.Error
	if !errors.As(err, &se) {
		return
	}
	out := strings.TrimRight(se.Output, "\n")
	if strings.TrimSpace(out) == "" {
		return
	}
	lines := strings.Split(out, "\n")
	if len(lines) > diagnosticLines {
		fmt.Fprintf(w, "server output (last %d of %d lines):\n", diagnosticLines, len(lines))
		lines = lines[len(lines)-diagnosticLines:]
	} else {
		fmt.Fprintln(w, "server output:")
	}
	for _, line := range lines {
		fmt.Fprintln(w, "  "+line)
	}
}
