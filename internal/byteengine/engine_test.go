package byteengine

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/nereid-labs/instrumentd/internal/ioerrs"
	"github.com/nereid-labs/instrumentd/internal/streamio"
)

// duplex is an in-memory streamio.Stream: writes accumulate in Out, reads
// come from In.
type duplex struct {
	In  *bytes.Reader
	Out bytes.Buffer
}

func newDuplex(preload []byte) *duplex {
	return &duplex{In: bytes.NewReader(preload)}
}

func (d *duplex) Write(p []byte) (int, error) { return d.Out.Write(p) }
func (d *duplex) Read(p []byte) (int, error)  { return d.In.Read(p) }

func TestWriteAndReadExact(t *testing.T) {
	d := newDuplex([]byte{1, 2, 3, 4})
	ctx := context.Background()

	if _, err := Execute(ctx, d, Request{Op: OpWrite, Write: []byte("hello")}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if d.Out.String() != "hello" {
		t.Fatalf("expected write to reach the stream, got %q", d.Out.String())
	}

	resp, err := Execute(ctx, d, Request{Op: OpReadExact, Count: 4, Timeout: time.Second})
	if err != nil {
		t.Fatalf("read exact: %v", err)
	}
	if !bytes.Equal(resp.Bytes, []byte{1, 2, 3, 4}) {
		t.Fatalf("unexpected bytes: %v", resp.Bytes)
	}
}

func TestWriteLineAppendsTerminator(t *testing.T) {
	d := newDuplex(nil)
	if _, err := Execute(context.Background(), d, Request{Op: OpWriteLine, Line: "*IDN?", Term: '\n'}); err != nil {
		t.Fatalf("write line: %v", err)
	}
	if d.Out.String() != "*IDN?\n" {
		t.Fatalf("expected terminator appended, got %q", d.Out.String())
	}
}

func TestReadLineDecodesUTF8(t *testing.T) {
	d := newDuplex([]byte("hello world\n"))
	resp, err := Execute(context.Background(), d, Request{Op: OpReadLine, Term: '\n', Timeout: time.Second})
	if err != nil {
		t.Fatalf("read line: %v", err)
	}
	if resp.Line != "hello world" {
		t.Fatalf("unexpected line: %q", resp.Line)
	}
}

func TestReadLineRejectsInvalidUTF8(t *testing.T) {
	d := newDuplex([]byte{0xff, 0xfe, '\n'})
	_, err := Execute(context.Background(), d, Request{Op: OpReadLine, Term: '\n', Timeout: time.Second})
	if ioerrs.KindOf(err) != ioerrs.KindProtocol {
		t.Fatalf("expected Protocol error for invalid utf-8, got %v", err)
	}
}

// queryDuplex only makes its response readable after the request write has
// happened, so QueryLine's pre-drain doesn't swallow the canned reply.
type queryDuplex struct {
	out   bytes.Buffer
	resp  []byte
	armed bool
	pos   int
}

func (q *queryDuplex) Write(p []byte) (int, error) {
	q.armed = true
	return q.out.Write(p)
}

func (q *queryDuplex) Read(p []byte) (int, error) {
	if !q.armed || q.pos >= len(q.resp) {
		return 0, io.EOF
	}
	n := copy(p, q.resp[q.pos:])
	q.pos += n
	return n, nil
}

func TestQueryLineDrainsWritesAndReads(t *testing.T) {
	d := &queryDuplex{resp: []byte("42\n")}
	resp, err := Execute(context.Background(), d, Request{
		Op: OpQueryLine, Line: "MEAS?", Term: '\n', Timeout: time.Second,
	})
	if err != nil {
		t.Fatalf("query line: %v", err)
	}
	if resp.Line != "42" {
		t.Fatalf("unexpected response line: %q", resp.Line)
	}
	if d.out.String() != "MEAS?\n" {
		t.Fatalf("expected query to be written, got %q", d.out.String())
	}
}

func TestCobsWriteThenRead(t *testing.T) {
	payload := []byte{1, 2, 0, 4}
	encoded := streamio.CobsEncode(payload)

	write := newDuplex(nil)
	if _, err := Execute(context.Background(), write, Request{Op: OpCobsWrite, CobsData: payload}); err != nil {
		t.Fatalf("cobs write: %v", err)
	}
	if !bytes.Equal(write.Out.Bytes(), encoded) {
		t.Fatalf("unexpected encoded bytes: %v, want %v", write.Out.Bytes(), encoded)
	}

	read := newDuplex(encoded)
	resp, err := Execute(context.Background(), read, Request{Op: OpCobsRead, Timeout: time.Second})
	if err != nil {
		t.Fatalf("cobs read: %v", err)
	}
	if !bytes.Equal(resp.Bytes, payload) {
		t.Fatalf("cobs round-trip mismatch: got %v, want %v", resp.Bytes, payload)
	}
}

func TestCobsReadSkipsLeadingZeroResync(t *testing.T) {
	payload := []byte{9, 8, 7}
	encoded := streamio.CobsEncode(payload)
	withLeadingZeros := append([]byte{0x00, 0x00}, encoded...)

	read := newDuplex(withLeadingZeros)
	resp, err := Execute(context.Background(), read, Request{Op: OpCobsRead, Timeout: time.Second})
	if err != nil {
		t.Fatalf("cobs read: %v", err)
	}
	if !bytes.Equal(resp.Bytes, payload) {
		t.Fatalf("unexpected payload after resync: %v", resp.Bytes)
	}
}

func TestReadExactFailsWithoutEnoughData(t *testing.T) {
	d := newDuplex([]byte{1, 2})
	_, err := Execute(context.Background(), d, Request{Op: OpReadExact, Count: 4, Timeout: 50 * time.Millisecond})
	if err == nil {
		t.Fatal("expected an error when fewer bytes than requested are available")
	}
}

func TestUnknownOpIsArgumentError(t *testing.T) {
	d := newDuplex(nil)
	_, err := Execute(context.Background(), d, Request{Op: Op(999)})
	if ioerrs.KindOf(err) != ioerrs.KindArgument {
		t.Fatalf("expected Argument error for unknown op, got %v", err)
	}
}
