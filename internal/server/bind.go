// Package server implements the worker-side HTTP server: interface-scoped
// binding, a deterministic framing validator with a pluggable client error
// policy, and a per-connection request timeout guard.
package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
)

// BindSpec selects the interface and port a worker listens on.
// An empty Host means all interfaces. The spec is immutable configuration
// shared by the master and every worker.
type BindSpec struct {
	Host string
	Port int
}

// Addr returns the spec as a host:port string suitable for net.Listen.
func (s BindSpec) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// BindError reports that a listening socket could not be created for a spec:
// the port is in use, the host is invalid, or the interface does not exist.
// It is fatal to worker startup and surfaces to the master as a startup failure.
type BindError struct {
	Spec BindSpec
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Spec.Addr(), e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// Listen resolves the spec into a TCP listener. When the spec names a host,
// the kernel binds that interface only: connections arriving on any other
// local address are refused at the transport layer and never reach HTTP.
func Listen(spec BindSpec) (net.Listener, error) {
	ln, err := net.Listen("tcp", spec.Addr())
	if err != nil {
		return nil, &BindError{Spec: spec, Err: err}
	}
	return ln, nil
}

// ListenReusePort is like Listen but sets SO_REUSEPORT before binding, so
// several standalone workers can each bind the same spec and let the kernel
// balance accepts. On platforms without SO_REUSEPORT it behaves like Listen.
func ListenReusePort(spec BindSpec) (net.Listener, error) {
	lc := reusePortListenConfig()
	ln, err := lc.Listen(context.Background(), "tcp", spec.Addr())
	if err != nil {
		return nil, &BindError{Spec: spec, Err: err}
	}
	return ln, nil
}

// FileListener rebuilds a listener from a file descriptor inherited from the
// master process. The descriptor refers to the master's listening socket, so
// every worker accepts from the same kernel queue with no central dispatcher.
func FileListener(f *os.File) (net.Listener, error) {
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("inherited listener fd: %w", err)
	}
	return ln, nil
}
