package server

import (
	"net"
	"sync/atomic"
	"time"
)

// Guard states. Transitions are one-way via compare-and-swap, so "response
// completed" and "timeout fired" can never both be observed for the same
// request.
const (
	guardActive int32 = iota
	guardCompleted
	guardTimedOut
)

// timeoutGuard is the per-connection watchdog. One guard is armed per
// in-flight request; Cancel must be called on normal completion so the timer
// never leaks.
type timeoutGuard struct {
	timer     *time.Timer
	state     atomic.Int32
	onTimeout func()
}

// startTimeoutGuard arms a deadline timer. When d elapses before Cancel,
// onTimeout runs exactly once from the timer goroutine.
func startTimeoutGuard(d time.Duration, onTimeout func()) *timeoutGuard {
	g := &timeoutGuard{onTimeout: onTimeout}
	g.timer = time.AfterFunc(d, g.fire)
	return g
}

func (g *timeoutGuard) fire() {
	if g.state.CompareAndSwap(guardActive, guardTimedOut) {
		g.onTimeout()
	}
}

// Cancel stops the timer on normal completion. It reports false when the
// guard already fired, in which case the connection is gone and the caller
// must not write to it.
func (g *timeoutGuard) Cancel() bool {
	if g.state.CompareAndSwap(guardActive, guardCompleted) {
		g.timer.Stop()
		return true
	}
	return false
}

// TimedOut reports whether the guard fired.
func (g *timeoutGuard) TimedOut() bool {
	return g.state.Load() == guardTimedOut
}

// abortConn terminates a connection abruptly. SO_LINGER is zeroed first so
// the close goes out as a RST: the client observes a hard disconnect, not a
// graceful close carrying a response.
func abortConn(c net.Conn) {
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetLinger(0)
	}
	_ = c.Close()
}
