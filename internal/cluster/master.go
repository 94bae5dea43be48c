package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/bingtaocn/egg/internal/config"
	"github.com/bingtaocn/egg/internal/server"
)

// EventType classifies lifecycle events surfaced by the master.
type EventType string

const (
	// EventWorkerCrash means a worker terminated unexpectedly after
	// becoming ready. The cluster keeps running on the remaining workers;
	// no respawn happens.
	EventWorkerCrash EventType = "worker_crash"
	// EventWorkerExit means a worker exited as part of a requested
	// shutdown.
	EventWorkerExit EventType = "worker_exit"
)

// Event is an observable lifecycle event.
type Event struct {
	Type     EventType
	WorkerID string
	PID      int
	Err      error
}

// startupResult is each worker's one-shot startup outcome: ready, or failed
// before ready.
type startupResult struct {
	workerID string
	err      error
}

// Master supervises the pool of worker processes. It owns the process table
// exclusively; every mutation is driven by a lifecycle message, never by
// shared state.
type Master struct {
	cfg     *config.Config
	spawner Spawner
	logger  *slog.Logger

	mu      sync.Mutex
	workers map[string]*WorkerProcess
	closing bool

	ln        net.Listener
	events    chan Event
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// MasterOption is a functional option for configuring a Master.
type MasterOption func(*Master)

// WithSpawner overrides how worker processes are created. Tests use this to
// run in-process workers.
func WithSpawner(s Spawner) MasterOption {
	return func(m *Master) {
		m.spawner = s
	}
}

// WithMasterLogger sets the logger for the master.
func WithMasterLogger(logger *slog.Logger) MasterOption {
	return func(m *Master) {
		m.logger = logger
	}
}

// NewMaster creates a master for the given configuration.
func NewMaster(cfg *config.Config, opts ...MasterOption) *Master {
	m := &Master{
		cfg:     cfg,
		spawner: ExecSpawner{},
		logger:  slog.Default(),
		workers: make(map[string]*WorkerProcess),
		events:  make(chan Event, 16),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Addr returns the shared listener's bound address, or nil in reuse-port
// mode where each worker binds its own socket.
func (m *Master) Addr() net.Addr {
	if m.ln == nil {
		return nil
	}
	return m.ln.Addr()
}

// Events exposes lifecycle events observed after startup, notably worker
// crashes. The channel is closed by Close once every worker has exited.
func (m *Master) Events() <-chan Event {
	return m.events
}

// Start binds the shared listener, spawns the configured number of workers,
// and returns once every worker has signaled ready. If any worker fails or
// exits before signaling ready, Start tears the cluster down and returns an
// error naming the worker and the cause; a partial cluster is never
// reported ready.
func (m *Master) Start(ctx context.Context) error {
	spec := server.BindSpec{Host: m.cfg.Server.Host, Port: m.cfg.Server.Port}

	if !m.cfg.Server.ReusePort {
		ln, err := server.Listen(spec)
		if err != nil {
			return fmt.Errorf("cluster startup: %w", err)
		}
		m.ln = ln
	}

	host, port := m.resolvedBind(spec)
	n := m.cfg.Server.Workers
	results := make(chan startupResult, n)

	for i := 0; i < n; i++ {
		id := fmt.Sprintf("worker-%d", i+1)
		if err := m.spawnWorker(ctx, id, host, port, results); err != nil {
			startupErr := fmt.Errorf("worker %s failed during startup: %w", id, err)
			_ = m.Close(context.Background())
			return startupErr
		}
	}

	var failure error
	for i := 0; i < n; i++ {
		select {
		case res := <-results:
			if res.err != nil && failure == nil {
				failure = fmt.Errorf("worker %s failed during startup: %w", res.workerID, res.err)
			}
		case <-ctx.Done():
			failure = ctx.Err()
			i = n // stop collecting
		}
	}
	if failure != nil {
		_ = m.Close(context.Background())
		return failure
	}

	m.logger.Info("cluster ready",
		"workers", n,
		"addr", m.listenAddr(host, port),
	)
	return nil
}

// spawnWorker creates one worker process and its supervisor.
func (m *Master) spawnWorker(ctx context.Context, id, host string, port int, results chan<- startupResult) error {
	spec := SpawnSpec{WorkerID: id, Host: host, Port: port}

	if m.ln != nil {
		f, err := listenerFile(m.ln)
		if err != nil {
			return err
		}
		spec.Listener = f
		defer f.Close() // the child holds its own copy after spawn
	}

	p, err := m.spawner.Spawn(ctx, spec)
	if err != nil {
		return err
	}

	wp := &WorkerProcess{ID: id, PID: p.PID(), State: StateStarting, proc: p}
	m.mu.Lock()
	m.workers[id] = wp
	m.mu.Unlock()

	m.logger.Info("worker spawned", "worker_id", id, "pid", wp.PID)

	m.wg.Add(1)
	go m.supervise(wp, results)
	return nil
}

// supervision is the per-worker state a supervisor accumulates from control
// messages: whether the worker ever signaled ready, and the failure cause it
// reported on its goodbye, if any.
type supervision struct {
	ready      bool
	goodbyeErr string
}

// supervise is the per-worker lifecycle loop: it applies control messages to
// the process table, reports the one-shot startup result, and surfaces a
// crash after ready as an event without cascading failure.
func (m *Master) supervise(wp *WorkerProcess, results chan<- startupResult) {
	defer m.wg.Done()

	var sv supervision
	msgs := wp.proc.Messages()

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				// Pipe closed; keep waiting for process exit.
				msgs = nil
				continue
			}
			m.applyMessage(wp, &sv, msg, results)

		case <-wp.proc.Done():
			// The pipe can still hold a goodbye that lost the select to the
			// exit; drain it so a worker's self-reported failure cause is
			// never discarded. The spawner closes msgs on pipe EOF, which is
			// guaranteed once the process is gone.
			if msgs != nil {
				for msg := range msgs {
					m.applyMessage(wp, &sv, msg, results)
				}
			}

			exitErr := wp.proc.Err()
			m.setState(wp, StateDead, "")

			switch {
			case !sv.ready:
				results <- startupResult{workerID: wp.ID, err: startupFailure(sv.goodbyeErr, exitErr)}

			case m.isClosing():
				m.logger.Info("worker exited", "worker_id", wp.ID, "pid", wp.PID)
				m.emit(Event{Type: EventWorkerExit, WorkerID: wp.ID, PID: wp.PID, Err: exitErr})

			default:
				m.logger.Error("worker crashed",
					"worker_id", wp.ID, "pid", wp.PID, "error", exitErr)
				m.emit(Event{Type: EventWorkerCrash, WorkerID: wp.ID, PID: wp.PID, Err: exitErr})
			}
			return
		}
	}
}

// applyMessage folds one control message into the supervisor's state and the
// process table.
func (m *Master) applyMessage(wp *WorkerProcess, sv *supervision, msg Message, results chan<- startupResult) {
	switch msg.Type {
	case MessageReady:
		if !sv.ready {
			sv.ready = true
			m.setState(wp, StateReady, msg.Addr)
			m.logger.Info("worker ready",
				"worker_id", wp.ID, "pid", wp.PID, "addr", msg.Addr)
			results <- startupResult{workerID: wp.ID}
		}
	case MessageGoodbye:
		if msg.Error != "" && sv.goodbyeErr == "" {
			sv.goodbyeErr = msg.Error
		}
		m.setState(wp, StateExiting, "")
		m.logger.Debug("worker draining", "worker_id", wp.ID, "pid", wp.PID)
	}
}

// startupFailure composes the error for a worker that died before ready,
// preferring the cause the worker itself reported over the bare exit status.
func startupFailure(goodbyeErr string, exitErr error) error {
	switch {
	case goodbyeErr != "" && exitErr != nil:
		return fmt.Errorf("%s: %w", goodbyeErr, exitErr)
	case goodbyeErr != "":
		return errors.New(goodbyeErr)
	case exitErr != nil:
		return fmt.Errorf("exited before signaling ready: %w", exitErr)
	default:
		return errors.New("exited before signaling ready")
	}
}

// Close broadcasts graceful shutdown to every worker and waits for all of
// them to drain and exit. Workers still alive after the configured drain
// timeout are force-killed and Close returns an error.
func (m *Master) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		m.closeErr = m.doClose(ctx)
	})
	return m.closeErr
}

func (m *Master) doClose(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	var alive []*WorkerProcess
	for _, wp := range m.workers {
		if wp.State != StateDead {
			wp.State = StateExiting
			alive = append(alive, wp)
		}
	}
	m.mu.Unlock()

	for _, wp := range alive {
		if err := wp.proc.Stop(); err != nil {
			m.logger.Warn("failed to signal worker",
				"worker_id", wp.ID, "pid", wp.PID, "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var closeErr error
	timer := time.NewTimer(m.cfg.ShutdownTimeoutDuration())
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		closeErr = m.killStragglers(errors.New("drain timeout exceeded"))
		<-done
	case <-ctx.Done():
		closeErr = m.killStragglers(ctx.Err())
		<-done
	}

	if m.ln != nil {
		_ = m.ln.Close()
	}
	close(m.events)

	m.logger.Info("cluster closed")
	return closeErr
}

// killStragglers force-kills workers that did not drain in time.
func (m *Master) killStragglers(cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	killed := 0
	for _, wp := range m.workers {
		if wp.State != StateDead {
			_ = wp.proc.Kill()
			killed++
		}
	}
	if killed == 0 {
		return nil
	}
	return fmt.Errorf("graceful shutdown incomplete (%d workers killed): %w", killed, cause)
}

// Workers returns a snapshot of the process table.
func (m *Master) Workers() []WorkerProcess {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]WorkerProcess, 0, len(m.workers))
	for _, wp := range m.workers {
		out = append(out, WorkerProcess{ID: wp.ID, PID: wp.PID, State: wp.State, Addr: wp.Addr})
	}
	return out
}

func (m *Master) setState(wp *WorkerProcess, state WorkerState, addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wp.State = state
	if addr != "" {
		wp.Addr = addr
	}
}

func (m *Master) isClosing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closing
}

// emit publishes an event without ever blocking a supervisor on a slow
// consumer.
func (m *Master) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.logger.Warn("lifecycle event dropped", "type", string(ev.Type), "worker_id", ev.WorkerID)
	}
}

// resolvedBind returns the actual host/port workers should use: the bound
// listener address when the master holds the shared socket, the configured
// spec otherwise.
func (m *Master) resolvedBind(spec server.BindSpec) (string, int) {
	if m.ln == nil {
		return spec.Host, spec.Port
	}
	if tcp, ok := m.ln.Addr().(*net.TCPAddr); ok {
		return spec.Host, tcp.Port
	}
	return spec.Host, spec.Port
}

func (m *Master) listenAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// listenerFile dups the shared listener into an inheritable file.
func listenerFile(ln net.Listener) (*os.File, error) {
	tcp, ok := ln.(*net.TCPListener)
	if !ok {
		return nil, fmt.Errorf("listener %T cannot be shared across processes", ln)
	}
	f, err := tcp.File()
	if err != nil {
		return nil, fmt.Errorf("dup listener: %w", err)
	}
	return f, nil
}
