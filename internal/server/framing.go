package server

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// maxRequestLine bounds the request line read. Longer lines fail framing.
const maxRequestLine = 8192

// recordingReader wraps the connection and retains the bytes read off the
// wire, capped at rawCaptureLimit, so framing failures can report the raw
// packet. Reset starts a fresh capture at each request boundary.
type recordingReader struct {
	r        io.Reader
	captured []byte
	read     bool
}

func (rr *recordingReader) Read(p []byte) (int, error) {
	n, err := rr.r.Read(p)
	if n > 0 {
		rr.read = true
		if room := rawCaptureLimit - len(rr.captured); room > 0 {
			take := n
			if take > room {
				take = room
			}
			rr.captured = append(rr.captured, p[:take]...)
		}
	}
	return n, err
}

// Reset discards the capture for a finished request.
func (rr *recordingReader) Reset() {
	rr.captured = rr.captured[:0]
	rr.read = false
}

// Capture returns the retained bytes, or nil when nothing was read since the
// last reset. Nil means the failure happened below the framing layer.
func (rr *recordingReader) Capture() []byte {
	if !rr.read || len(rr.captured) == 0 {
		return nil
	}
	out := make([]byte, len(rr.captured))
	copy(out, rr.captured)
	return out
}

// peekRequestLine returns the first line of the next request without
// consuming it, so a valid head can still be parsed by http.ReadRequest.
// It scans whatever is already buffered and only ever demands one byte more,
// so a short head is never stuck waiting for bytes that will not come.
// A transport error before any line is available is returned as-is; the
// caller distinguishes it from framing errors by type.
func peekRequestLine(br *bufio.Reader) ([]byte, error) {
	for {
		peek, _ := br.Peek(br.Buffered())
		if i := bytes.IndexByte(peek, '\n'); i >= 0 {
			return peek[:i+1], nil
		}
		if len(peek) >= maxRequestLine {
			return nil, &FramingError{Reason: "request line too long"}
		}

		// Nothing complete yet: block for exactly one more byte.
		if _, err := br.Peek(br.Buffered() + 1); err != nil {
			if err == bufio.ErrBufferFull {
				return nil, &FramingError{Reason: "request line too long"}
			}
			peek, _ = br.Peek(br.Buffered())
			if i := bytes.IndexByte(peek, '\n'); i >= 0 {
				return peek[:i+1], nil
			}
			if len(peek) > 0 && err == io.EOF {
				return nil, &FramingError{Reason: "truncated request line"}
			}
			return nil, err
		}
	}
}

// validateRequestLine is the deterministic framing validator applied before
// any application logic. The line must be METHOD SP TARGET SP VERSION with a
// token method, a target free of raw spaces and control bytes, and an
// HTTP/1.x version.
func validateRequestLine(line []byte) *FramingError {
	s := strings.TrimRight(string(line), "\r\n")
	if s == "" {
		return &FramingError{Reason: "empty request line"}
	}

	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] == 0x7f {
			return &FramingError{Reason: fmt.Sprintf("control byte 0x%02x in request line", s[i])}
		}
	}

	parts := strings.Split(s, " ")
	if len(parts) != 3 {
		return &FramingError{Reason: "request line is not METHOD TARGET VERSION"}
	}

	method, target, version := parts[0], parts[1], parts[2]
	if method == "" || !isToken(method) {
		return &FramingError{Reason: fmt.Sprintf("invalid method %q", method)}
	}
	if target == "" {
		return &FramingError{Reason: "empty request target"}
	}
	if version != "HTTP/1.1" && version != "HTTP/1.0" {
		return &FramingError{Reason: fmt.Sprintf("unsupported protocol version %q", version)}
	}
	return nil
}

// isToken reports whether s is a valid HTTP token per RFC 9110.
func isToken(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0:
		default:
			return false
		}
	}
	return len(s) > 0
}
