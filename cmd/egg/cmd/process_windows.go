//go:build windows

package cmd

import (
	"os"

	"golang.org/x/sys/windows"
)

// gracefulSignals lists the signals that trigger a cluster drain. Windows
// reliably delivers only Ctrl+C (os.Interrupt); there is no SIGTERM.
func gracefulSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// processIsAlive reports whether the master behind a PID file still runs.
// Windows has no signal-0 existence check, so a process handle is opened
// and its exit code inspected instead.
func processIsAlive(proc *os.Process) bool {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(proc.Pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(handle)

	var exitCode uint32
	if err := windows.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false
	}
	// STILL_ACTIVE (259) means the process has not exited yet.
	return exitCode == 259
}

// sendGracefulStop stops a running master. Without SIGTERM the best
// available is TerminateProcess via Kill; workers are cleaned up by the
// master's own exit handling before the handle drops.
func sendGracefulStop(proc *os.Process) error {
	return proc.Kill()
}
