//go:build windows

package cluster

import "os"

// gracefulStop terminates a worker on Windows, which has no SIGTERM
// equivalent for console-less processes.
func gracefulStop(proc *os.Process) error {
	return proc.Kill()
}
