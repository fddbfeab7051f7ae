//go:build windows

package supervisor

import "errors"

// NewProcessTable returns the process table for this platform. Discovery is
// unsupported on Windows; the supervisor then relies on its own port check.
func NewProcessTable() ProcessTable { return winTable{} }

type winTable struct{}

func (winTable) FindByName(string) ([]int, error) { return nil, errors.ErrUnsupported }
func (winTable) FindByPort(int) ([]int, error)    { return nil, errors.ErrUnsupported }
func (winTable) Kill(pid int) error               { return killPid(pid) }
