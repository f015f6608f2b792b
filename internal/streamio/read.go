// Package streamio implements the byte-level primitives shared by every
// protocol engine that runs over a full-duplex stream: drain-now reads,
// timed exact reads, terminator scanning, CRC-16 variants, and COBS
// framing.
package streamio

import (
	"context"
	"io"
	"time"

	"github.com/nereid-labs/instrumentd/internal/ioerrs"
)

// Deadliner is satisfied by any stream that supports per-call read
// deadlines (net.Conn, *serial.Port-style wrappers, or test fakes).
type Deadliner interface {
	SetReadDeadline(t time.Time) error
}

// ReadAll drains whatever is immediately available without blocking. It is
// the "read_all" primitive: a read that never times out because it IS the
// timeout, fixed at zero. If r also implements Deadliner, a deadline in the
// past forces the underlying Read to return immediately once the buffer is
// exhausted; callers whose stream can't express that should pass a reader
// already wrapped to be non-blocking.
func ReadAll(r io.Reader) ([]byte, error) {
	dl, hasDeadline := r.(Deadliner)
	if hasDeadline {
		_ = dl.SetReadDeadline(time.Now().Add(-time.Millisecond))
		defer dl.SetReadDeadline(time.Time{})
	}
	buf := make([]byte, 0, 256)
	tmp := make([]byte, 256)
	for {
		n, err := r.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			if isTimeoutErr(err) || err == io.EOF {
				return buf, nil
			}
			return buf, ioerrs.Transport("read_all", classifyIOKind(err), err)
		}
		if n == 0 {
			return buf, nil
		}
		if !hasDeadline {
			// Without a deadliner we cannot safely loop without risking a
			// real block; a single non-blocking-ish read is all we offer.
			return buf, nil
		}
	}
}

// ReadExact reads exactly n bytes, failing with Protocol::Timeout if the
// deadline elapses first.
func ReadExact(ctx context.Context, r io.Reader, n int, deadline time.Duration) ([]byte, error) {
	if dl, ok := r.(Deadliner); ok {
		_ = dl.SetReadDeadline(time.Now().Add(deadline))
		defer dl.SetReadDeadline(time.Time{})
	}
	buf := make([]byte, n)
	_, err := io.ReadFull(r, buf)
	if err != nil {
		if isTimeoutErr(err) {
			return nil, ioerrs.Timeout("read_exact")
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ioerrs.Transport("read_exact", ioerrs.IOUnexpectedEOF, err)
		}
		return nil, ioerrs.Transport("read_exact", classifyIOKind(err), err)
	}
	select {
	case <-ctx.Done():
		return nil, ioerrs.Internal("read_exact", ctx.Err())
	default:
	}
	return buf, nil
}

// ReadToTerm reads bytes up to (not including) the terminator byte. term
// must satisfy 0 < term <= 128 or the call fails with Argument.
func ReadToTerm(r io.Reader, term byte, deadline time.Duration) ([]byte, error) {
	if term == 0 || term > 128 {
		return nil, ioerrs.Argument("read_to_term", errInvalidTerm)
	}
	if dl, ok := r.(Deadliner); ok {
		_ = dl.SetReadDeadline(time.Now().Add(deadline))
		defer dl.SetReadDeadline(time.Time{})
	}
	buf := make([]byte, 0, 64)
	one := make([]byte, 1)
	for {
		n, err := r.Read(one)
		if n > 0 {
			if one[0] == term {
				return buf, nil
			}
			buf = append(buf, one[0])
			continue
		}
		if err != nil {
			if isTimeoutErr(err) {
				return nil, ioerrs.Timeout("read_to_term")
			}
			return nil, ioerrs.Transport("read_to_term", classifyIOKind(err), err)
		}
	}
}

// ReadExactOne reads a single byte within deadline, reusing buf as scratch
// space. Used by callers (COBS framing) that need byte-at-a-time reads
// under one overall timeout rather than ReadToTerm's single-byte terminator
// semantics.
func ReadExactOne(r io.Reader, buf []byte, deadline time.Duration) (byte, error) {
	if dl, ok := r.(Deadliner); ok {
		d := deadline
		if d <= 0 {
			d = time.Millisecond
		}
		_ = dl.SetReadDeadline(time.Now().Add(d))
		defer dl.SetReadDeadline(time.Time{})
	}
	for {
		n, err := r.Read(buf[:1])
		if n > 0 {
			return buf[0], nil
		}
		if err != nil {
			if isTimeoutErr(err) {
				return 0, ioerrs.Timeout("read_exact_one")
			}
			return 0, ioerrs.Transport("read_exact_one", classifyIOKind(err), err)
		}
	}
}

var errInvalidTerm = errorString("terminator must satisfy 0 < term <= 128")

type errorString string

func (e errorString) Error() string { return string(e) }

func isTimeoutErr(err error) bool {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return false
}

func classifyIOKind(err error) ioerrs.IOKind {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok && t.Timeout() {
		return ioerrs.IOTimedOut
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ioerrs.IOUnexpectedEOF
	}
	return ioerrs.IOOther
}
