package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/bingtaocn/egg/internal/config"
	"github.com/bingtaocn/egg/internal/server"
)

// fakeProcess is an in-process stand-in for a worker. Its lifecycle is driven
// by the test: it becomes ready by sending on msgs and exits via exit().
type fakeProcess struct {
	pid        int
	ignoreStop bool

	msgs     chan Message
	done     chan struct{}
	exitErr  error
	exitOnce sync.Once
}

func (p *fakeProcess) PID() int                 { return p.pid }
func (p *fakeProcess) Messages() <-chan Message { return p.msgs }
func (p *fakeProcess) Done() <-chan struct{}    { return p.done }

func (p *fakeProcess) Err() error {
	select {
	case <-p.done:
		return p.exitErr
	default:
		return nil
	}
}

func (p *fakeProcess) Stop() error {
	if p.ignoreStop {
		return nil
	}
	p.exit(nil)
	return nil
}

func (p *fakeProcess) Kill() error {
	p.exit(errors.New("killed"))
	return nil
}

func (p *fakeProcess) exit(err error) {
	p.exitOnce.Do(func() {
		p.exitErr = err
		close(p.msgs)
		close(p.done)
	})
}

// fakeSpawner creates fakeProcesses. By default every worker signals ready
// immediately; individual workers can be made to fail instead.
type fakeSpawner struct {
	failOnSpawn    string // Spawn itself errors for this worker
	dieBeforeReady string // this worker exits without signaling ready
	failBind       string // this worker reports a bind failure and exits
	ignoreStop     string // this worker ignores graceful stop

	mu      sync.Mutex
	procs   map[string]*fakeProcess
	specs   []SpawnSpec
	nextPID int
}

func (s *fakeSpawner) Spawn(ctx context.Context, spec SpawnSpec) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if spec.WorkerID == s.failOnSpawn {
		return nil, errors.New("spawn refused")
	}

	s.nextPID++
	p := &fakeProcess{
		pid:        1000 + s.nextPID,
		ignoreStop: spec.WorkerID == s.ignoreStop,
		msgs:       make(chan Message, 4),
		done:       make(chan struct{}),
	}
	if s.procs == nil {
		s.procs = make(map[string]*fakeProcess)
	}
	s.procs[spec.WorkerID] = p
	s.specs = append(s.specs, spec)

	if spec.WorkerID == s.dieBeforeReady {
		p.exit(errors.New("boom"))
	} else if spec.WorkerID == s.failBind {
		// The goodbye carries the cause and is still queued when the
		// process exit closes the channels.
		p.msgs <- Message{
			Type:     MessageGoodbye,
			WorkerID: spec.WorkerID,
			Error:    "bind 127.0.0.1:7001: address already in use",
		}
		p.exit(errors.New("exit status 1"))
	} else {
		p.msgs <- Message{
			Type:     MessageReady,
			WorkerID: spec.WorkerID,
			Addr:     fmt.Sprintf("127.0.0.1:%d", 7000+s.nextPID),
		}
	}
	return p, nil
}

func (s *fakeSpawner) proc(id string) *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[id]
}

func testConfig(workers int) *config.Config {
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Server.Workers = workers
	cfg.Server.ShutdownTimeout = "2s"
	// Workers bind their own sockets so the master never opens a real one.
	cfg.Server.ReusePort = true
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMaster_Start_AllWorkersReady(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := &fakeSpawner{}
	m := NewMaster(testConfig(3), WithSpawner(s), WithMasterLogger(quietLogger()))

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	workers := m.Workers()
	if len(workers) != 3 {
		t.Fatalf("Workers() returned %d entries, want 3", len(workers))
	}
	for _, wp := range workers {
		if wp.State != StateReady {
			t.Errorf("worker %s state = %v, want ready", wp.ID, wp.State)
		}
		if wp.Addr == "" {
			t.Errorf("worker %s has no address", wp.ID)
		}
	}

	if err := m.Close(context.Background()); err != nil {
		t.Errorf("Close: %v", err)
	}

	exits := 0
	for ev := range m.Events() {
		if ev.Type != EventWorkerExit {
			t.Errorf("event %+v, want worker_exit", ev)
		}
		exits++
	}
	if exits != 3 {
		t.Errorf("got %d exit events, want 3", exits)
	}
}

func TestMaster_Start_WorkerDiesBeforeReady(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := &fakeSpawner{dieBeforeReady: "worker-2"}
	m := NewMaster(testConfig(3), WithSpawner(s), WithMasterLogger(quietLogger()))

	err := m.Start(context.Background())
	if err == nil {
		t.Fatal("Start succeeded with a dead worker, want error")
	}
	if !strings.Contains(err.Error(), "worker-2") {
		t.Errorf("error = %v, want to name worker-2", err)
	}
	if !strings.Contains(err.Error(), "before signaling ready") {
		t.Errorf("error = %v, want to say the worker died before ready", err)
	}

	// Start already tore the cluster down: the event channel must be closed.
	for range m.Events() {
	}
}

func TestMaster_Start_WorkerReportsBindFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := &fakeSpawner{failBind: "worker-1"}
	m := NewMaster(testConfig(2), WithSpawner(s), WithMasterLogger(quietLogger()))

	err := m.Start(context.Background())
	if err == nil {
		t.Fatal("Start succeeded with a worker that could not bind, want error")
	}
	if !strings.Contains(err.Error(), "address already in use") {
		t.Errorf("error = %v, want the worker's reported bind cause", err)
	}
	if !strings.Contains(err.Error(), "exit status 1") {
		t.Errorf("error = %v, want the exit status preserved", err)
	}
	for range m.Events() {
	}
}

func TestMaster_Start_SpawnFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := &fakeSpawner{failOnSpawn: "worker-1"}
	m := NewMaster(testConfig(2), WithSpawner(s), WithMasterLogger(quietLogger()))

	err := m.Start(context.Background())
	if err == nil {
		t.Fatal("Start succeeded with a failing spawner, want error")
	}
	if !strings.Contains(err.Error(), "worker-1 failed during startup") {
		t.Errorf("error = %v, want startup failure naming worker-1", err)
	}
	if !strings.Contains(err.Error(), "spawn refused") {
		t.Errorf("error = %v, want the spawn cause preserved", err)
	}
	for range m.Events() {
	}
}

func TestMaster_CrashAfterReady_EmitsEvent(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := &fakeSpawner{}
	m := NewMaster(testConfig(2), WithSpawner(s), WithMasterLogger(quietLogger()))

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	s.proc("worker-1").exit(errors.New("segfault"))

	select {
	case ev := <-m.Events():
		if ev.Type != EventWorkerCrash {
			t.Errorf("event type = %v, want worker_crash", ev.Type)
		}
		if ev.WorkerID != "worker-1" {
			t.Errorf("event worker = %q, want worker-1", ev.WorkerID)
		}
		if ev.Err == nil || !strings.Contains(ev.Err.Error(), "segfault") {
			t.Errorf("event err = %v, want the crash cause", ev.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no crash event observed")
	}

	// The rest of the cluster keeps running: worker-2 is still ready.
	for _, wp := range m.Workers() {
		switch wp.ID {
		case "worker-1":
			if wp.State != StateDead {
				t.Errorf("crashed worker state = %v, want dead", wp.State)
			}
		case "worker-2":
			if wp.State != StateReady {
				t.Errorf("surviving worker state = %v, want ready", wp.State)
			}
		}
	}

	if err := m.Close(context.Background()); err != nil {
		t.Errorf("Close: %v", err)
	}
	for range m.Events() {
	}
}

func TestMaster_Close_Idempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := &fakeSpawner{}
	m := NewMaster(testConfig(1), WithSpawner(s), WithMasterLogger(quietLogger()))

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := m.Close(context.Background()); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := m.Close(context.Background()); err != nil {
		t.Errorf("second Close: %v", err)
	}
	for range m.Events() {
	}
}

func TestMaster_Close_KillsStragglers(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := &fakeSpawner{ignoreStop: "worker-1"}
	cfg := testConfig(2)
	cfg.Server.ShutdownTimeout = "100ms"
	m := NewMaster(cfg, WithSpawner(s), WithMasterLogger(quietLogger()))

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	err := m.Close(context.Background())
	if err == nil {
		t.Fatal("Close succeeded despite a stuck worker, want error")
	}
	if !strings.Contains(err.Error(), "graceful shutdown incomplete") {
		t.Errorf("error = %v, want incomplete-shutdown report", err)
	}
	for range m.Events() {
	}
}

func TestMaster_Start_SharedListener(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := &fakeSpawner{}
	cfg := testConfig(1)
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.ReusePort = false
	m := NewMaster(cfg, WithSpawner(s), WithMasterLogger(quietLogger()))

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		_ = m.Close(context.Background())
		for range m.Events() {
		}
	}()

	addr, ok := m.Addr().(*net.TCPAddr)
	if !ok || addr.Port == 0 {
		t.Fatalf("master addr = %v, want a bound TCP port", m.Addr())
	}

	s.mu.Lock()
	spec := s.specs[0]
	s.mu.Unlock()
	if spec.Listener == nil {
		t.Error("worker was not handed the shared listener")
	}
	if spec.Port != addr.Port {
		t.Errorf("spec port = %d, want the resolved port %d", spec.Port, addr.Port)
	}
}

func TestMaster_Start_BindFailure(t *testing.T) {
	t.Parallel()

	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer occupied.Close()

	cfg := testConfig(1)
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = occupied.Addr().(*net.TCPAddr).Port
	cfg.Server.ReusePort = false
	m := NewMaster(cfg, WithSpawner(&fakeSpawner{}), WithMasterLogger(quietLogger()))

	err = m.Start(context.Background())
	if err == nil {
		t.Fatal("Start succeeded on an occupied port, want error")
	}
	if !strings.Contains(err.Error(), "cluster startup") {
		t.Errorf("error = %v, want cluster startup failure", err)
	}
	var berr *server.BindError
	if !errors.As(err, &berr) {
		t.Errorf("error = %v (%T), want to wrap *server.BindError", err, err)
	}
}
