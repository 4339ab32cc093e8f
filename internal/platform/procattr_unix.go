//go:build !windows

package platform

import (
	"os/exec"
	"syscall"
)

// setDetachedProcAttr runs the child in a new session so it is independent
// of the updater's terminal and process group.
func setDetachedProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
}
