//go:build !windows
// +build !windows

package supervisor

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setpgid puts the engine child in its own process group so a signal sent
// to the group reaches any grandchildren the engine itself spawns.
func setpgid(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalProcessGroup sends sig to the process group headed by pid (spec
// §4.5 SIGTERM/SIGKILL escalation), using golang.org/x/sys/unix's raw Kill
// wrapper rather than os.Process.Signal, which does not support
// group-negative pids.
func signalProcessGroup(pid int, sig syscall.Signal) {
	unix.Kill(-pid, unix.Signal(sig))
}
