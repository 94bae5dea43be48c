package server

import (
	"bytes"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// responseWriter implements http.ResponseWriter over a raw connection. The
// body is buffered in full so Content-Length is always exact and nothing
// touches the wire until the handler returns; the timeout guard can therefore
// abort the connection without racing a partial response.
type responseWriter struct {
	conn        net.Conn
	req         *http.Request
	header      http.Header
	status      int
	body        bytes.Buffer
	wroteHeader bool
}

func newResponseWriter(conn net.Conn, req *http.Request) *responseWriter {
	return &responseWriter{
		conn:   conn,
		req:    req,
		header: http.Header{},
	}
}

func (rw *responseWriter) Header() http.Header {
	return rw.header
}

func (rw *responseWriter) WriteHeader(status int) {
	if rw.wroteHeader {
		return
	}
	rw.wroteHeader = true
	rw.status = status
}

func (rw *responseWriter) Write(p []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.body.Write(p)
}

// Status returns the response status, defaulting to 200 when the handler
// wrote a body without calling WriteHeader.
func (rw *responseWriter) Status() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

// finish serializes the buffered response. keepAlive decides the Connection
// header and whether the caller may reuse the connection for the next
// request.
func (rw *responseWriter) finish(keepAlive bool) error {
	status := rw.Status()

	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", status, statusText(status))

	if rw.header.Get("Date") == "" {
		fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(http.TimeFormat))
	}

	names := make([]string, 0, len(rw.header))
	for name := range rw.header {
		if strings.EqualFold(name, "Content-Length") || strings.EqualFold(name, "Connection") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range rw.header[name] {
			fmt.Fprintf(&b, "%s: %s\r\n", name, v)
		}
	}

	if keepAlive {
		b.WriteString("Connection: keep-alive\r\n")
	} else {
		b.WriteString("Connection: close\r\n")
	}

	if bodyAllowedForStatus(status) {
		fmt.Fprintf(&b, "Content-Length: %s\r\n", strconv.Itoa(rw.body.Len()))
	}
	b.WriteString("\r\n")

	if _, err := rw.conn.Write([]byte(b.String())); err != nil {
		return err
	}
	writeBody := rw.req.Method != http.MethodHead && bodyAllowedForStatus(status)
	if writeBody && rw.body.Len() > 0 {
		if _, err := rw.conn.Write(rw.body.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// bodyAllowedForStatus mirrors RFC 9110: 1xx, 204 and 304 carry no body.
func bodyAllowedForStatus(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}
