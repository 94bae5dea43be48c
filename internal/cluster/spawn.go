package cluster

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

// Environment variables carrying worker wiring across the exec boundary.
const (
	EnvWorkerID  = "EGG_WORKER_ID"
	EnvControlFD = "EGG_CONTROL_FD"
	EnvListenFD  = "EGG_LISTEN_FD"
)

// SpawnSpec describes one worker process to create.
type SpawnSpec struct {
	WorkerID string

	// Listener is a dup of the master's listening socket, inherited by the
	// worker so all workers accept from the same kernel queue. Nil when
	// workers bind on their own (reuse_port mode).
	Listener *os.File

	// Host and Port are the master's resolved bind spec, propagated so a
	// standalone worker binds the right address even when the configured
	// port was 0.
	Host string
	Port int
}

// Process is a running worker as seen by the master.
type Process interface {
	PID() int
	// Messages is the control message stream. It is closed when the worker
	// closes its end of the pipe, normally at exit.
	Messages() <-chan Message
	// Stop requests graceful shutdown: the worker stops accepting and
	// drains in-flight connections before exiting.
	Stop() error
	// Kill terminates the process immediately. Last resort after the drain
	// timeout.
	Kill() error
	// Done is closed once the process has exited; Err reports how.
	Done() <-chan struct{}
	Err() error
}

// Spawner creates worker processes. The master depends on this narrow
// interface only, so tests can stand in with in-process workers.
type Spawner interface {
	Spawn(ctx context.Context, spec SpawnSpec) (Process, error)
}

// ExecSpawner re-execs the current binary as "egg worker", passing the
// inherited listener and the control pipe through ExtraFiles.
type ExecSpawner struct{}

// Spawn implements Spawner.
func (ExecSpawner) Spawn(ctx context.Context, spec SpawnSpec) (Process, error) {
	selfExe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable path: %w", err)
	}

	controlR, controlW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create control pipe: %w", err)
	}

	cmd := exec.Command(selfExe, "worker")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	// ExtraFiles map to child fds starting at 3.
	cmd.ExtraFiles = []*os.File{controlW}
	env := append(os.Environ(),
		EnvWorkerID+"="+spec.WorkerID,
		EnvControlFD+"=3",
		"EGG_SERVER_HOST="+spec.Host,
		"EGG_SERVER_PORT="+strconv.Itoa(spec.Port),
	)
	if spec.Listener != nil {
		cmd.ExtraFiles = append(cmd.ExtraFiles, spec.Listener)
		env = append(env, EnvListenFD+"=4")
	}
	cmd.Env = env

	if err := cmd.Start(); err != nil {
		controlR.Close()
		controlW.Close()
		return nil, fmt.Errorf("start worker process: %w", err)
	}
	// The child holds its own copies now.
	controlW.Close()

	p := &execProcess{
		cmd:  cmd,
		msgs: make(chan Message, 8),
		done: make(chan struct{}),
	}

	go func() {
		defer close(p.msgs)
		defer controlR.Close()
		mr := NewMessageReader(controlR)
		for {
			msg, err := mr.Next()
			if err != nil {
				return
			}
			p.msgs <- msg
		}
	}()

	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()

	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	msgs chan Message
	done chan struct{}
	err  error
}

func (p *execProcess) PID() int                 { return p.cmd.Process.Pid }
func (p *execProcess) Messages() <-chan Message { return p.msgs }
func (p *execProcess) Done() <-chan struct{}    { return p.done }

func (p *execProcess) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func (p *execProcess) Stop() error {
	return gracefulStop(p.cmd.Process)
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}
