// Package cluster implements the master process: it owns the worker process
// table, spawns workers sharing one listening socket, aggregates their
// readiness, and coordinates graceful shutdown.
package cluster

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// MessageType identifies a control message on the master/worker pipe.
type MessageType string

const (
	// MessageReady is sent by a worker exactly once, on first successful
	// listen.
	MessageReady MessageType = "ready"

	// MessageGoodbye is sent by a worker about to exit cleanly after
	// draining its connections.
	MessageGoodbye MessageType = "goodbye"
)

// Message is one newline-delimited JSON control message. Lifecycle messages
// are the only coordination crossing the master/worker boundary; the
// processes share no memory.
type Message struct {
	Type     MessageType `json:"type"`
	WorkerID string      `json:"worker_id"`
	Addr     string      `json:"addr,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// WriteMessage encodes msg as one JSON line.
func WriteMessage(w io.Writer, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode control message: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write control message: %w", err)
	}
	return nil
}

// MessageReader decodes control messages from a pipe, one JSON object per
// line.
type MessageReader struct {
	s *bufio.Scanner
}

// NewMessageReader creates a MessageReader over r.
func NewMessageReader(r io.Reader) *MessageReader {
	return &MessageReader{s: bufio.NewScanner(r)}
}

// Next returns the next message. io.EOF signals the peer closed the pipe.
func (mr *MessageReader) Next() (Message, error) {
	for mr.s.Scan() {
		line := mr.s.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			return Message{}, fmt.Errorf("decode control message: %w", err)
		}
		return msg, nil
	}
	if err := mr.s.Err(); err != nil {
		return Message{}, err
	}
	return Message{}, io.EOF
}
