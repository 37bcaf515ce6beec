//go:build windows

package supervisor

import (
	"os/exec"
	"syscall"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// Descendants are killed one by one; there is no group signal on windows.
func killProcessGroup(pid int) error {
	return nil
}
