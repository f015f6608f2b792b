//go:build linux

package cankit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nereid-labs/instrumentd/internal/can"
	"github.com/nereid-labs/instrumentd/internal/socketcan"
)

// fakeSocketCANDev is a socketcan.Dev fake letting tests inject inbound
// frames and record outbound writes, without a real CAN interface.
type fakeSocketCANDev struct {
	rx      chan can.Frame
	written chan can.Frame
	closed  chan struct{}
}

func newFakeSocketCANDev() *fakeSocketCANDev {
	return &fakeSocketCANDev{
		rx:      make(chan can.Frame, 8),
		written: make(chan can.Frame, 8),
		closed:  make(chan struct{}),
	}
}

func (d *fakeSocketCANDev) ReadFrame(fr *can.Frame) error {
	select {
	case got := <-d.rx:
		*fr = got
		return nil
	case <-d.closed:
		return errors.New("device closed")
	}
}

func (d *fakeSocketCANDev) WriteFrame(fr can.Frame) error {
	d.written <- fr
	return nil
}

func (d *fakeSocketCANDev) Close() error {
	close(d.closed)
	return nil
}

func TestNewSocketCANUsesInjectedDeviceHook(t *testing.T) {
	dev := newFakeSocketCANDev()
	orig := openSocketCANDevice
	openSocketCANDevice = func(iface string) (socketcan.Dev, error) { return dev, nil }
	defer func() { openSocketCANDevice = orig }()

	b, err := NewSocketCAN(context.Background(), "vcan0", nil)
	if err != nil {
		t.Fatalf("NewSocketCAN: %v", err)
	}
	defer b.Close()

	fr := can.NewExtended(0x42, []byte{1, 2, 3})
	dev.rx <- fr

	got, err := b.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if got.ID != fr.CANID {
		t.Fatalf("unexpected frame id: got %x want %x", got.ID, fr.CANID)
	}

	sendFr := can.NewExtended(0x43, []byte{9})
	w, err := ToWire(sendFr)
	if err != nil {
		t.Fatalf("ToWire: %v", err)
	}
	if err := b.Send(w); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case written := <-dev.written:
		if written.ID() != sendFr.ID() {
			t.Fatalf("unexpected written frame id: got %x want %x", written.ID(), sendFr.ID())
		}
	case <-time.After(time.Second):
		t.Fatal("expected the sent frame to reach the device")
	}
}
