package platform

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// setDetachedProcAttr runs the child without a console in its own process
// group.
func setDetachedProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP | windows.DETACHED_PROCESS,
	}
}
