package supervisor

import (
	"context"
	"errors"
	"fmt"
)

// State is the lifecycle state of the managed inference server.
type State string

const (
	StateAbsent        State = "absent"
	StateDiscovering   State = "discovering"
	StateTerminating   State = "terminating"
	StateLaunching     State = "launching"
	StatePollingHealth State = "polling-health"
	StateHealthy       State = "healthy"
	StateFailed        State = "failed"
)

// Kind classifies supervisor failures.
type Kind string

const (
	KindNoModelFound  Kind = "no_model_found"
	KindLaunchFailed  Kind = "launch_failed"
	KindHealthTimeout Kind = "health_timeout"
)

// Error is a fatal supervisor failure. Output carries the captured server
// output when a process was started.
type Error struct {
	Kind   Kind
	Msg    string
	Output string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a supervisor error of kind.
func IsKind(err error, kind Kind) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == kind
}

// ProcessTable is the narrow view of the OS process table the supervisor
// needs. Kill must treat an already exited process as success.
type ProcessTable interface {
	FindByName(name string) ([]int, error)
	FindByPort(port int) ([]int, error)
	Kill(pid int) error
}

// Handle is a launched server process.
type Handle interface {
	Pid() int
	// Exited is closed once the process has exited.
	Exited() <-chan struct{}
	ExitErr() error
	// Output returns the most recent captured stdout and stderr.
	Output() string
	Kill() error
}

// Launcher starts server processes.
type Launcher interface {
	Launch(ctx context.Context, binary string, args []string) (Handle, error)
}
