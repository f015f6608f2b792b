//go:build linux

package socketcan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nereid-labs/instrumentd/internal/can"
)

// fakeDev is a Dev fake recording every written frame, with an optional
// artificial delay/error to exercise the writer's overflow path.
type fakeDev struct {
	mu       sync.Mutex
	written  []can.Frame
	writeErr error
	delay    time.Duration
}

func (d *fakeDev) ReadFrame(*can.Frame) error { return errors.New("not used in this test") }

func (d *fakeDev) WriteFrame(fr can.Frame) error {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writeErr != nil {
		return d.writeErr
	}
	d.written = append(d.written, fr)
	return nil
}

func (d *fakeDev) Close() error { return nil }

func (d *fakeDev) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.written)
}

func TestTXWriterSendsFrame(t *testing.T) {
	dev := &fakeDev{}
	w := NewTXWriter(context.Background(), dev, 4)
	defer w.Close()

	fr := can.Frame{CANID: 0x123, Len: 2, Data: [64]byte{1, 2}}
	if err := w.SendFrame(fr); err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && dev.count() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if dev.count() != 1 {
		t.Fatalf("expected the frame to reach the device, got %d writes", dev.count())
	}
	if dev.written[0].CANID != fr.CANID {
		t.Fatalf("unexpected frame: %+v", dev.written[0])
	}
}

func TestTXWriterOverflowReturnsErrTxOverflow(t *testing.T) {
	dev := &fakeDev{delay: 200 * time.Millisecond}
	w := NewTXWriter(context.Background(), dev, 1)
	defer w.Close()

	if err := w.SendFrame(can.Frame{CANID: 1}); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := w.SendFrame(can.Frame{CANID: 2}); !errors.Is(err, ErrTxOverflow) {
		t.Fatalf("expected ErrTxOverflow on a full buffer behind a slow device, got %v", err)
	}
}

func TestTXWriterCloseStopsWorker(t *testing.T) {
	dev := &fakeDev{}
	w := NewTXWriter(context.Background(), dev, 2)
	if err := w.SendFrame(can.Frame{CANID: 1}); err != nil {
		t.Fatalf("send: %v", err)
	}
	w.Close()
	before := dev.count()
	_ = w.SendFrame(can.Frame{CANID: 2})
	time.Sleep(20 * time.Millisecond)
	if dev.count() != before {
		t.Fatalf("expected no further writes after Close, before=%d after=%d", before, dev.count())
	}
}
