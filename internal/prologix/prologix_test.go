package prologix

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/nereid-labs/instrumentd/internal/ioerrs"
)

// timeoutErr satisfies the net.Error-style Timeout() interface streamio
// checks for when classifying a deadline-exceeded read.
type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

// nonRespondingGpib simulates a Prologix controller attached to a
// non-responding instrument: writes are accepted and recorded, but reads
// never produce data before the caller's deadline elapses.
type nonRespondingGpib struct {
	mu       sync.Mutex
	written  bytes.Buffer
	deadline time.Time
}

func (g *nonRespondingGpib) Write(p []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.written.Write(p)
}

func (g *nonRespondingGpib) Read(p []byte) (int, error) {
	g.mu.Lock()
	dl := g.deadline
	g.mu.Unlock()
	for {
		if !dl.IsZero() && time.Now().After(dl) {
			return 0, timeoutErr{}
		}
		time.Sleep(time.Millisecond)
	}
}

func (g *nonRespondingGpib) SetReadDeadline(t time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deadline = t
	return nil
}

func TestPrologixQueryStringTimeout(t *testing.T) {
	fake := &nonRespondingGpib{}
	init := NewInitState()
	window := 100 * time.Millisecond

	start := time.Now()
	_, err := Execute(fake, init, Request{
		Op:          OpQueryString,
		GpibAddress: 5,
		Payload:     "*IDN?",
		Timeout:     window,
	})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected Protocol::Timeout against a non-responding instrument")
	}
	if ioerrs.KindOf(err) != ioerrs.KindProtocol {
		t.Fatalf("expected Protocol error, got %v", err)
	}

	lower := window - window/10
	upper := window + window/10 + 50*time.Millisecond // generous slack for scheduling jitter
	if elapsed < lower || elapsed > upper {
		t.Fatalf("timeout fired outside the configured window: elapsed=%v window=%v", elapsed, window)
	}
}

func TestPrologixInitSequenceRunsOncePerHandle(t *testing.T) {
	fake := &nonRespondingGpib{}
	init := NewInitState()

	_, _ = Execute(fake, init, Request{Op: OpWrite, GpibAddress: 1, Payload: "X"})
	firstLen := fake.written.Len()

	_, _ = Execute(fake, init, Request{Op: OpWrite, GpibAddress: 1, Payload: "Y"})
	secondWritten := fake.written.Bytes()[firstLen:]

	if bytes.Contains(secondWritten, []byte("savecfg")) {
		t.Fatalf("init sequence should only run once per handle, got second write: %q", secondWritten)
	}
}

func TestPrologixUnsupportedOps(t *testing.T) {
	fake := &nonRespondingGpib{}
	init := NewInitState()

	for _, op := range []Op{OpQueryBinary, OpReadRaw} {
		_, err := Execute(fake, init, Request{Op: op, GpibAddress: 1})
		if ioerrs.KindOf(err) != ioerrs.KindArgument {
			t.Fatalf("op %v: expected Argument error, got %v", op, err)
		}
	}
}

func TestPrologixWriteAppendsAddressSelectCommand(t *testing.T) {
	fake := &nonRespondingGpib{}
	init := NewInitState()

	_, err := Execute(fake, init, Request{Op: OpWrite, GpibAddress: 9, Payload: "RST"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	written := fake.written.String()
	if !bytes.Contains([]byte(written), []byte("++addr 9\n")) {
		t.Fatalf("expected address-select command in %q", written)
	}
	if !bytes.Contains([]byte(written), []byte("RST\n")) {
		t.Fatalf("expected payload with appended terminator in %q", written)
	}
}
