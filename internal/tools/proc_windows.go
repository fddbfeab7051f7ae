//go:build windows

package tools

import (
	"os/exec"
	"time"
)

func setupProcessGroup(cmd *exec.Cmd) {
	cmd.WaitDelay = 2 * time.Second
}
