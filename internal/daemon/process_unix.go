//go:build !windows

package daemon

import (
	"os/exec"
	"syscall"
)

func alive(pid int) bool {
	// Signal 0 tests if the process exists without sending a signal.
	return syscall.Kill(pid, 0) == nil
}

func terminate(pid int) error { return syscall.Kill(pid, syscall.SIGTERM) }

func kill(pid int) error { return syscall.Kill(pid, syscall.SIGKILL) }

// Detach starts cmd in its own session so it outlives the parent shell.
func Detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
