package cluster

// WorkerState is the lifecycle state of a supervised worker process.
type WorkerState string

const (
	// StateStarting means the process is spawned but has not signaled ready.
	StateStarting WorkerState = "starting"
	// StateReady means the worker signaled it is listening. The transition
	// starting -> ready happens exactly once.
	StateReady WorkerState = "ready"
	// StateExiting means shutdown was requested and the worker is draining.
	StateExiting WorkerState = "exiting"
	// StateDead means the process has terminated.
	StateDead WorkerState = "dead"
)

// WorkerProcess is one entry in the master's process table. The master owns
// it exclusively; all mutations happen under the master's lock, driven by
// lifecycle messages.
type WorkerProcess struct {
	ID    string
	PID   int
	State WorkerState
	Addr  string

	proc Process
}
