package streamio

import (
	"bytes"
	"errors"
	"testing"

	"github.com/nereid-labs/instrumentd/internal/ioerrs"
)

func TestWriteAllWritesEveryByte(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteAll(&buf, []byte("hello world")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.String() != "hello world" {
		t.Fatalf("got %q", buf.String())
	}
}

// partialWriter accepts at most maxPerCall bytes per Write, forcing
// WriteAll's retry loop to run more than once.
type partialWriter struct {
	buf         bytes.Buffer
	maxPerCall  int
}

func (w *partialWriter) Write(p []byte) (int, error) {
	n := len(p)
	if n > w.maxPerCall {
		n = w.maxPerCall
	}
	return w.buf.Write(p[:n])
}

func TestWriteAllLoopsOverShortWrites(t *testing.T) {
	w := &partialWriter{maxPerCall: 3}
	payload := []byte("abcdefghij")
	if err := WriteAll(w, payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.buf.String() != string(payload) {
		t.Fatalf("got %q want %q", w.buf.String(), payload)
	}
}

type failingWriter struct{ err error }

func (w failingWriter) Write([]byte) (int, error) { return 0, w.err }

func TestWriteAllWrapsWriteErrorAsTransport(t *testing.T) {
	underlying := errors.New("disk full")
	err := WriteAll(failingWriter{err: underlying}, []byte("x"))
	if err == nil {
		t.Fatal("expected an error")
	}
	if ioerrs.KindOf(err) != ioerrs.KindTransport {
		t.Fatalf("expected a Transport error, got %v", err)
	}
}

type flushingWriter struct {
	bytes.Buffer
	flushed  bool
	flushErr error
}

func (w *flushingWriter) Flush() error {
	w.flushed = true
	return w.flushErr
}

func TestWriteAllCallsFlushWhenSupported(t *testing.T) {
	w := &flushingWriter{}
	if err := WriteAll(w, []byte("x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !w.flushed {
		t.Fatal("expected Flush to be called on a Flusher-implementing writer")
	}
}

func TestWriteAllSurfacesFlushError(t *testing.T) {
	w := &flushingWriter{flushErr: errors.New("flush failed")}
	err := WriteAll(w, []byte("x"))
	if err == nil {
		t.Fatal("expected an error from a failing Flush")
	}
	if ioerrs.KindOf(err) != ioerrs.KindTransport {
		t.Fatalf("expected a Transport error, got %v", err)
	}
}
