package server

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// rawCaptureLimit caps how many inbound bytes are retained for diagnostics
// when a request fails framing validation.
const rawCaptureLimit = 1024

// badRequestBody is the fixed HTML document returned for malformed HTTP
// input when no custom policy overrides it. Clients assert on it
// byte-for-byte; do not reformat.
const badRequestBody = "<html>\r\n" +
	"<head><title>400 Bad Request</title></head>\r\n" +
	"<body bgcolor=\"white\">\r\n" +
	"<center><h1>400 Bad Request</h1></center>\r\n" +
	"<hr><center>❤</center>\r\n" +
	"</body>\r\n" +
	"</html>\r\n"

// FramingError reports inbound bytes that cannot be parsed as a valid HTTP
// request head. It is recovered locally through the client error policy and
// never crashes the worker.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string {
	return "malformed HTTP request: " + e.Reason
}

// ClientErrorEvent describes one malformed request. Raw holds the bytes read
// off the wire before the error, capped at rawCaptureLimit; it is nil when
// the failure happened before any byte arrived (immediate EOF, transport
// error), and the lower-level protocol diagnostic is logged instead.
type ClientErrorEvent struct {
	Raw        []byte
	Err        error
	RemoteAddr string
}

// ResponseDescriptor is the exact response a policy wants on the wire:
// status, headers, and body are written verbatim with nothing mixed in.
type ResponseDescriptor struct {
	Status int
	Header http.Header
	Body   []byte
}

// ClientErrorPolicy decides the response for a malformed request. Returning
// a descriptor sends precisely that response; returning an error (or
// panicking) falls back to the default 400 page.
type ClientErrorPolicy interface {
	Handle(ev *ClientErrorEvent) (*ResponseDescriptor, error)
}

// ClientErrorPolicyFunc adapts a function to the ClientErrorPolicy interface.
type ClientErrorPolicyFunc func(ev *ClientErrorEvent) (*ResponseDescriptor, error)

// Handle implements ClientErrorPolicy.
func (f ClientErrorPolicyFunc) Handle(ev *ClientErrorEvent) (*ResponseDescriptor, error) {
	return f(ev)
}

// DefaultBadRequestResponse returns the fixed 400 response used when no
// policy is installed or the installed policy faults.
func DefaultBadRequestResponse() *ResponseDescriptor {
	h := http.Header{}
	h.Set("Content-Type", "text/html")
	h.Set("Content-Length", strconv.Itoa(len(badRequestBody)))
	h.Set("Connection", "close")
	return &ResponseDescriptor{
		Status: http.StatusBadRequest,
		Header: h,
		Body:   []byte(badRequestBody),
	}
}

// handleClientError routes a framing failure through the configured policy
// and writes the resulting response. The connection is always closed
// afterwards by the caller.
func (w *Worker) handleClientError(conn io.Writer, ev *ClientErrorEvent) {
	w.logClientError(ev)

	desc := w.invokePolicy(ev)
	if desc == nil {
		desc = DefaultBadRequestResponse()
	}
	if err := writeDescriptor(conn, desc); err != nil {
		w.logger.Debug("failed to write client error response",
			"remote", ev.RemoteAddr, "error", err)
	}
}

// invokePolicy runs the custom policy, catching error returns and panics.
// A nil return means "use the default response". Partial side effects of a
// faulting policy never leak: the descriptor is discarded entirely.
func (w *Worker) invokePolicy(ev *ClientErrorEvent) (desc *ResponseDescriptor) {
	if w.policy == nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("client error policy panicked, using default response",
				"remote", ev.RemoteAddr, "panic", fmt.Sprint(r))
			desc = nil
		}
	}()

	d, err := w.policy.Handle(ev)
	if err != nil {
		w.logger.Error("client error policy failed, using default response",
			"remote", ev.RemoteAddr, "error", err)
		return nil
	}
	return d
}

// logClientError emits the diagnostic for a malformed request. With a raw
// capture present the line includes the bytes and an xxhash digest so log
// consumers can dedup repeated garbage; without one, only a lower-level
// protocol diagnostic is emitted.
func (w *Worker) logClientError(ev *ClientErrorEvent) {
	if len(ev.Raw) > 0 {
		w.logger.Warn("client error on inbound request",
			"remote", ev.RemoteAddr,
			"error", ev.Err,
			"raw", strconv.Quote(string(ev.Raw)),
			"raw_digest", fmt.Sprintf("%016x", xxhash.Sum64(ev.Raw)),
		)
		if w.metrics != nil {
			w.metrics.ClientErrorsTotal.WithLabelValues("captured").Inc()
		}
		return
	}

	w.logger.Debug("protocol error before request capture",
		"remote", ev.RemoteAddr,
		"error", ev.Err,
	)
	if w.metrics != nil {
		w.metrics.ClientErrorsTotal.WithLabelValues("protocol").Inc()
	}
}

// writeDescriptor serializes a descriptor to the wire. Provided headers pass
// through unmodified; Content-Length is added only when the policy did not
// set one.
func writeDescriptor(conn io.Writer, desc *ResponseDescriptor) error {
	status := desc.Status
	if status < 100 || status > 999 {
		status = http.StatusBadRequest
	}

	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", status, statusText(status))

	names := make([]string, 0, len(desc.Header))
	hasLength := false
	for name := range desc.Header {
		if strings.EqualFold(name, "Content-Length") {
			hasLength = true
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range desc.Header[name] {
			fmt.Fprintf(&b, "%s: %s\r\n", name, v)
		}
	}
	if !hasLength {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(desc.Body))
	}
	b.WriteString("\r\n")
	b.Write(desc.Body)

	_, err := io.WriteString(conn, b.String())
	return err
}

// statusText returns the reason phrase for a status code, with a non-empty
// fallback for codes the stdlib does not know.
func statusText(code int) string {
	if t := http.StatusText(code); t != "" {
		return t
	}
	return "Status"
}
