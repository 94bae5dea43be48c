package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running egg cluster",
	Long: `Stop a running egg cluster by reading the master PID file and sending it
a graceful stop signal. The master broadcasts the shutdown to its workers and
waits for them to drain in-flight requests before exiting.

The PID file is located at ~/.egg/master.pid.

Examples:
  # Stop the running cluster
  egg stop`,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	pidPath := pidFilePath()

	pid := readPIDFile(pidPath)
	if pid == 0 {
		return fmt.Errorf("no master PID file found at %s\nIs the cluster running?", pidPath)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		os.Remove(pidPath)
		return fmt.Errorf("invalid PID %d: %w", pid, err)
	}

	// Check if the process is actually alive.
	if !processIsAlive(proc) {
		os.Remove(pidPath)
		return fmt.Errorf("master process %d is not running (stale PID file removed)", pid)
	}

	// Send graceful stop signal (SIGTERM on Unix, Kill on Windows).
	fmt.Fprintf(os.Stderr, "Stopping egg cluster (PID %d)...\n", pid)
	if err := sendGracefulStop(proc); err != nil {
		return fmt.Errorf("failed to stop cluster: %w", err)
	}

	// Wait for the master to exit (poll every 200ms, max 30s: the master
	// itself waits out the worker drain before exiting).
	for i := 0; i < 150; i++ {
		time.Sleep(200 * time.Millisecond)
		if !processIsAlive(proc) {
			os.Remove(pidPath)
			fmt.Fprintf(os.Stderr, "Cluster stopped.\n")
			return nil
		}
	}

	// Still alive — force kill.
	fmt.Fprintf(os.Stderr, "Cluster did not stop gracefully, sending SIGKILL...\n")
	_ = proc.Kill()
	os.Remove(pidPath)
	fmt.Fprintf(os.Stderr, "Cluster killed.\n")
	return nil
}
