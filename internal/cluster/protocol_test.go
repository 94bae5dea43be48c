package cluster

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	msgs := []Message{
		{Type: MessageReady, WorkerID: "worker-1", Addr: "127.0.0.1:7001"},
		{Type: MessageGoodbye, WorkerID: "worker-1"},
		{Type: MessageGoodbye, WorkerID: "worker-2", Error: "bind :7001: address already in use"},
	}
	for _, m := range msgs {
		if err := WriteMessage(&buf, m); err != nil {
			t.Fatalf("WriteMessage: %v", err)
		}
	}

	mr := NewMessageReader(&buf)
	for i, want := range msgs {
		got, err := mr.Next()
		if err != nil {
			t.Fatalf("Next() #%d: %v", i, err)
		}
		if got != want {
			t.Errorf("message #%d = %+v, want %+v", i, got, want)
		}
	}

	if _, err := mr.Next(); err != io.EOF {
		t.Errorf("Next() after last message = %v, want io.EOF", err)
	}
}

func TestMessageReader_SkipsBlankLines(t *testing.T) {
	t.Parallel()

	input := "\n\n" + `{"type":"ready","worker_id":"w"}` + "\n\n"
	mr := NewMessageReader(strings.NewReader(input))

	got, err := mr.Next()
	if err != nil {
		t.Fatalf("Next(): %v", err)
	}
	if got.Type != MessageReady || got.WorkerID != "w" {
		t.Errorf("message = %+v, want ready/w", got)
	}
	if _, err := mr.Next(); err != io.EOF {
		t.Errorf("Next() = %v, want io.EOF", err)
	}
}

func TestMessageReader_MalformedLine(t *testing.T) {
	t.Parallel()

	mr := NewMessageReader(strings.NewReader("not json\n"))
	_, err := mr.Next()
	if err == nil {
		t.Fatal("Next() on malformed line = nil, want error")
	}
	if !strings.Contains(err.Error(), "decode control message") {
		t.Errorf("error = %v, want decode failure", err)
	}
}

func TestWriteMessage_OneLinePerMessage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := WriteMessage(&buf, Message{Type: MessageReady, WorkerID: "w"}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	out := buf.String()
	if !strings.HasSuffix(out, "\n") {
		t.Errorf("message not newline-terminated: %q", out)
	}
	if strings.Count(out, "\n") != 1 {
		t.Errorf("message spans multiple lines: %q", out)
	}
}
