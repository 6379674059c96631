//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the child in its own process group so stop
// signals reach the whole tree, shell wrapper included.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateGroup asks the whole process group to exit.
func terminateGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// forceKillGroup kills the whole process group without grace.
func forceKillGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
