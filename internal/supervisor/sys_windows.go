//go:build windows
// +build windows

package supervisor

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// setpgid is a no-op on Windows: there is no process-group equivalent to
// POSIX setpgid, so escalation below always targets the child pid itself.
func setpgid(cmd *exec.Cmd) {}

// signalProcessGroup implements spec §4.5's SIGTERM/SIGKILL escalation on a
// platform with no signals: both stages open a handle to the child by pid
// and call TerminateProcess, passing the signal number through as the
// process's reported exit code (spec §4.5: "On Windows, use the raw code").
// A process that already exited yields an error from OpenProcess, which is
// not worth reporting here; cmd.Wait has already observed the exit by the
// time escalateAndWait's select fires.
func signalProcessGroup(pid int, sig syscall.Signal) {
	handle, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return
	}
	defer windows.CloseHandle(handle)
	_ = windows.TerminateProcess(handle, uint32(sig))
}
