//go:build !windows

package cmd

import (
	"os"
	"syscall"
)

// gracefulSignals lists the signals that trigger a cluster drain. Workers
// install the same set, so a SIGTERM to the whole process group drains
// master and workers alike.
func gracefulSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// processIsAlive reports whether the master behind a PID file still runs.
// Signal 0 delivers nothing but performs the existence check.
func processIsAlive(proc *os.Process) bool {
	return proc.Signal(syscall.Signal(0)) == nil
}

// sendGracefulStop asks a running master to drain its workers and exit.
func sendGracefulStop(proc *os.Process) error {
	return proc.Signal(syscall.SIGTERM)
}
