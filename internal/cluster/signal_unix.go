//go:build !windows

package cluster

import (
	"os"
	"syscall"
)

// gracefulStop asks a worker to shut down and drain: SIGTERM on Unix.
func gracefulStop(proc *os.Process) error {
	return proc.Signal(syscall.SIGTERM)
}
