package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ReadyFunc receives the worker's bound address exactly once, after the
// listener is live and before the first accept. The cluster master wires
// this to its readiness aggregation.
type ReadyFunc func(addr net.Addr)

// Worker runs one HTTP server instance over one listener. Every accepted
// connection is wrapped with the timeout guard and routed through the
// framing validator and client error policy before any application logic.
type Worker struct {
	id      string
	handler http.Handler
	policy  ClientErrorPolicy
	logger  *slog.Logger
	metrics *Metrics
	timeout time.Duration
	ready   ReadyFunc

	draining atomic.Bool
	connWG   sync.WaitGroup

	connMu sync.Mutex
	conns  map[net.Conn]bool // value: idle between requests
}

// Option is a functional option for configuring a Worker.
type Option func(*Worker)

// WithID sets the worker identifier used in logs and control messages.
func WithID(id string) Option {
	return func(w *Worker) {
		w.id = id
	}
}

// WithHandler sets the application handler. Defaults to a plain 200 responder.
func WithHandler(h http.Handler) Option {
	return func(w *Worker) {
		w.handler = h
	}
}

// WithClientErrorPolicy installs a custom strategy for malformed requests.
// Without one, the fixed 400 Bad Request page is served.
func WithClientErrorPolicy(p ClientErrorPolicy) Option {
	return func(w *Worker) {
		w.policy = p
	}
}

// WithLogger sets the logger for the worker.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

// WithMetrics sets the metrics sink for the worker.
func WithMetrics(m *Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithRequestTimeout sets the per-request deadline T. A request not
// completed within T has its connection aborted. Default is 30s.
func WithRequestTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithReadySignal sets the readiness callback.
func WithReadySignal(fn ReadyFunc) Option {
	return func(w *Worker) {
		w.ready = fn
	}
}

// NewWorker creates a worker HTTP server.
func NewWorker(opts ...Option) *Worker {
	w := &Worker{
		id:      uuid.New().String(),
		logger:  slog.Default(),
		timeout: 30 * time.Second,
		handler: http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			rw.WriteHeader(http.StatusOK)
			fmt.Fprintln(rw, "egg worker is running")
		}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ID returns the worker identifier.
func (w *Worker) ID() string {
	return w.id
}

// SetHandler replaces the application handler. Must be called before Serve;
// it exists so routes that need the worker itself (health checks) can be
// mounted after construction.
func (w *Worker) SetHandler(h http.Handler) {
	if h != nil {
		w.handler = h
	}
}

// ActiveConnections reports the number of in-flight connections. Used by the
// health checker.
func (w *Worker) ActiveConnections() int {
	if w.metrics == nil {
		return 0
	}
	return w.metrics.activeConnections()
}

func (w *Worker) registerConn(c net.Conn) {
	w.connMu.Lock()
	if w.conns == nil {
		w.conns = make(map[net.Conn]bool)
	}
	w.conns[c] = true // idle until a request head arrives
	w.connMu.Unlock()
}

func (w *Worker) unregisterConn(c net.Conn) {
	w.connMu.Lock()
	delete(w.conns, c)
	w.connMu.Unlock()
}

// setConnIdle records whether c sits between requests. While draining, an
// idle connection has nothing left to wait for; it reports false so the
// serve loop closes the connection instead of blocking on the next head.
func (w *Worker) setConnIdle(c net.Conn, idle bool) bool {
	w.connMu.Lock()
	defer w.connMu.Unlock()
	if idle && w.draining.Load() {
		return false
	}
	w.conns[c] = idle
	return true
}

// closeIdleConns closes every connection waiting between requests. In-flight
// ones are left to finish their response; they see the drain through the
// keep-alive decision and close right after.
func (w *Worker) closeIdleConns() {
	w.connMu.Lock()
	defer w.connMu.Unlock()
	for c, idle := range w.conns {
		if idle {
			_ = c.Close()
		}
	}
}

// Serve accepts connections on ln until ctx is cancelled, then drains: no
// new connections are accepted, idle keep-alive connections are closed,
// in-flight ones run to completion, and Serve returns once the last
// connection closed. It blocks for the server's whole lifetime.
func (w *Worker) Serve(ctx context.Context, ln net.Listener) error {
	w.logger.Info("worker listening",
		"worker_id", w.id, "addr", ln.Addr().String())
	if w.ready != nil {
		w.ready(ln.Addr())
	}

	errCh := make(chan error, 1)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				if w.draining.Load() {
					errCh <- nil
				} else {
					errCh <- fmt.Errorf("accept: %w", err)
				}
				return
			}
			w.connWG.Add(1)
			go w.handleConn(c)
		}
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("shutdown requested, draining connections", "worker_id", w.id)
		w.draining.Store(true)
		_ = ln.Close()
		w.closeIdleConns()
		<-errCh
		w.connWG.Wait()
		w.logger.Info("worker drained", "worker_id", w.id)
		return nil
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	}
}
