//go:build !windows

package task

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// sysProcAttr places the task in its own process group so that a hard stop
// reaches every child it spawned.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func terminateGroup(pid int) error { return signalGroup(pid, unix.SIGTERM) }
func killGroup(pid int) error      { return signalGroup(pid, unix.SIGKILL) }

// signalGroup signals the process group, falling back to the single pid when
// the process is not a group leader.
func signalGroup(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return nil
	}
	if err := unix.Kill(-pid, sig); err == nil {
		return nil
	}
	return unix.Kill(pid, sig)
}

func shellCommand(script string) *exec.Cmd {
	// #nosec G204
	return exec.Command("/bin/sh", "-c", script)
}

func trueCommand() *exec.Cmd {
	return exec.Command("/bin/true")
}
