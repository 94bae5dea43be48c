package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

// handleConn serves one accepted connection until it closes, times out, or
// the worker drains. The accepting worker owns the connection's whole
// lifecycle; nothing about it ever crosses the master/worker boundary.
func (w *Worker) handleConn(c net.Conn) {
	defer w.connWG.Done()
	defer c.Close()

	if w.metrics != nil {
		w.metrics.ConnOpened()
		defer w.metrics.ConnClosed()
	}

	w.registerConn(c)
	defer w.unregisterConn(c)

	rec := &recordingReader{r: c}
	br := bufio.NewReaderSize(rec, maxRequestLine)

	for {
		rec.Reset()

		// Between requests the connection counts as idle; a drain that
		// starts now closes it instead of waiting for the next head.
		if !w.setConnIdle(c, true) {
			return
		}

		// Bound the head read so an idle or byte-trickling connection
		// cannot hold the worker open past the request deadline.
		_ = c.SetReadDeadline(time.Now().Add(w.timeout))

		line, err := peekRequestLine(br)
		if err != nil {
			w.rejectUnparseable(c, rec, err)
			return
		}
		w.setConnIdle(c, false)

		if ferr := validateRequestLine(line); ferr != nil {
			w.handleClientError(c, &ClientErrorEvent{
				Raw:        rec.Capture(),
				Err:        ferr,
				RemoteAddr: c.RemoteAddr().String(),
			})
			return
		}

		req, err := http.ReadRequest(br)
		if err != nil {
			w.handleClientError(c, &ClientErrorEvent{
				Raw:        rec.Capture(),
				Err:        &FramingError{Reason: err.Error()},
				RemoteAddr: c.RemoteAddr().String(),
			})
			return
		}
		req.RemoteAddr = c.RemoteAddr().String()

		// The guard owns the request deadline from here; body reads block
		// until it aborts the connection.
		_ = c.SetReadDeadline(time.Time{})

		if !w.serveRequest(c, req) {
			return
		}
	}
}

// serveRequest runs one parsed request through the handler under a timeout
// guard. It reports whether the connection may be reused for the next
// request.
func (w *Worker) serveRequest(c net.Conn, req *http.Request) bool {
	start := time.Now()
	deadline := start.Add(w.timeout)
	method, path := req.Method, req.URL.Path

	guard := startTimeoutGuard(w.timeout, func() {
		abortConn(c)
		w.logger.Warn("[http_server] request timed out waiting on client",
			"method", method, "path", path)
		if w.metrics != nil {
			w.metrics.RequestTimeoutsTotal.Inc()
		}
	})

	rw := newResponseWriter(c, req)
	w.invokeHandler(rw, req)

	// Consume any unread body so the next request parses at the correct
	// stream boundary.
	_, _ = io.Copy(io.Discard, req.Body)
	_ = req.Body.Close()

	// The response is fully buffered, so the race is settled before any
	// byte hits the wire: winning the CAS here means the guard can never
	// fire and abort a completed response.
	if !guard.Cancel() {
		// The deadline fired while the handler ran: the connection is
		// already aborted and the timeout was logged exactly once.
		return false
	}

	keepAlive := !w.draining.Load() && !req.Close

	// The write itself stays bounded by the same deadline the guard
	// enforced; a client too slow to take the response gets a write error
	// and a plain close, not a timeout abort.
	_ = c.SetWriteDeadline(deadline)
	writeErr := rw.finish(keepAlive)
	_ = c.SetWriteDeadline(time.Time{})

	if w.metrics != nil {
		w.metrics.RequestsTotal.WithLabelValues(method, strconv.Itoa(rw.Status())).Inc()
		w.metrics.RequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}

	return writeErr == nil && keepAlive
}

// invokeHandler dispatches to the application handler, converting a panic
// into a 500 so one bad request never takes the worker down.
func (w *Worker) invokeHandler(rw *responseWriter, req *http.Request) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("handler panicked",
				"method", req.Method, "path", req.URL.Path, "panic", fmt.Sprint(r))
			if !rw.wroteHeader {
				rw.body.Reset()
				rw.WriteHeader(http.StatusInternalServerError)
			}
		}
	}()
	w.handler.ServeHTTP(rw, req)
}

// rejectUnparseable handles a head-read failure. Framing errors go through
// the client error policy; transport-level failures (clean close, reset,
// idle deadline) happen below the framing layer, where no raw packet exists,
// and only the lower-level protocol diagnostic is emitted.
func (w *Worker) rejectUnparseable(c net.Conn, rec *recordingReader, err error) {
	var ferr *FramingError
	if errors.As(err, &ferr) {
		w.handleClientError(c, &ClientErrorEvent{
			Raw:        rec.Capture(),
			Err:        ferr,
			RemoteAddr: c.RemoteAddr().String(),
		})
		return
	}

	if rec.Capture() == nil && (err == io.EOF || errors.Is(err, net.ErrClosed)) {
		// Clean close between requests, or a drain closing this idle
		// connection; nothing to report.
		return
	}

	w.logClientError(&ClientErrorEvent{
		Err:        err,
		RemoteAddr: c.RemoteAddr().String(),
	})
}
