//go:build !linux && !windows

package supervisor

import (
	"bytes"
	"errors"
	"os/exec"
	"strconv"
	"strings"
)

// NewProcessTable returns the process table for this platform.
func NewProcessTable() ProcessTable { return toolTable{} }

// toolTable shells out to pgrep and lsof.
type toolTable struct{}

func (toolTable) FindByName(name string) ([]int, error) {
	return runPids("pgrep", "-x", name)
}

func (toolTable) FindByPort(port int) ([]int, error) {
	return runPids("lsof", "-nP", "-t", "-iTCP:"+strconv.Itoa(port), "-sTCP:LISTEN")
}

func (toolTable) Kill(pid int) error { return killPid(pid) }

// runPids parses one pid per line. Exit status 1 means no match.
func runPids(name string, args ...string) ([]int, error) {
	out, err := exec.Command(name, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, err
	}
	var pids []int
	for _, line := range strings.Split(string(bytes.TrimSpace(out)), "\n") {
		if pid, err := strconv.Atoi(strings.TrimSpace(line)); err == nil {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}
