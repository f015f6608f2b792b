package streamio

import (
	"io"

	"github.com/nereid-labs/instrumentd/internal/ioerrs"
)

// Stream is the capability every byte-stream engine operation requires:
// a full-duplex, flushable connection that can optionally take a read
// deadline. Serial ports, TCP sockets, FTDI handles, and test fakes all
// satisfy it; engines never depend on a concrete transport.
type Stream interface {
	io.Reader
	io.Writer
}

// Flusher is implemented by streams that buffer writes (most do not; TCP
// and serial both write through).
type Flusher interface {
	Flush() error
}

// WriteAll writes every byte in p, returning only once the driver has
// accepted the whole buffer (or an error).
func WriteAll(w io.Writer, p []byte) error {
	total := 0
	for total < len(p) {
		n, err := w.Write(p[total:])
		total += n
		if err != nil {
			return ioerrs.Transport("write", classifyIOKind(err), err)
		}
	}
	if f, ok := w.(Flusher); ok {
		if err := f.Flush(); err != nil {
			return ioerrs.Transport("write", classifyIOKind(err), err)
		}
	}
	return nil
}
