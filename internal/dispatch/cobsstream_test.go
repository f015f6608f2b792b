package dispatch

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/notnil/canbus"

	"github.com/nereid-labs/instrumentd/internal/addr"
	"github.com/nereid-labs/instrumentd/internal/byteengine"
	"github.com/nereid-labs/instrumentd/internal/wire"
)

func newEchoListener(t *testing.T) (host string, port uint16) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 4096)
				for {
					n, err := c.Read(buf)
					if n > 0 {
						if _, werr := c.Write(buf[:n]); werr != nil {
							return
						}
					}
					if err != nil {
						return
					}
				}
			}(c)
		}
	}()
	hostStr, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split host/port: %v", err)
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return hostStr, uint16(p)
}

func TestHandleCobsStreamStartSendAndReceive(t *testing.T) {
	d, cleanup := newTestDispatcher(t, func(addr.Address) (canbus.Bus, error) {
		return newRecordingBus(), nil
	})
	defer cleanup()

	host, port := newEchoListener(t)
	inst := addr.Instrument{Address: addr.Tcp(host, port)}

	if err := d.HandleCobsStream(context.Background(), wire.CobsStreamRequest{
		Instrument: inst,
		Request:    wire.CobsStreamOp{Start: true},
	}); err != nil {
		t.Fatalf("start: %v", err)
	}

	sub := d.SubscribeCobs()
	defer sub.Close()

	payload := []byte("hello")
	if err := d.HandleCobsStream(context.Background(), wire.CobsStreamRequest{
		Instrument: inst,
		Request:    wire.CobsStreamOp{SendFrame: payload},
	}); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case n := <-sub.C():
		if n.Dropped {
			t.Fatal("unexpected drop notification")
		}
		if string(n.Frame) != "hello" {
			t.Fatalf("expected the echoed frame back, got %q", n.Frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("never received the echoed COBS frame")
	}

	list := d.ListConnectedInstruments()
	if len(list) != 1 || list[0] != inst.Address {
		t.Fatalf("expected the COBS-stream instrument to be listed, got %v", list)
	}

	if err := d.HandleCobsStream(context.Background(), wire.CobsStreamRequest{
		Instrument: inst,
		Request:    wire.CobsStreamOp{Stop: true},
	}); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(d.ListConnectedInstruments()) != 0 {
		t.Fatal("expected the COBS-stream actor to be dropped after Stop")
	}
}

func TestHandleByteStreamDropsRunningCobsStream(t *testing.T) {
	d, cleanup := newTestDispatcher(t, func(addr.Address) (canbus.Bus, error) {
		return newRecordingBus(), nil
	})
	defer cleanup()

	host, port := newEchoListener(t)
	inst := addr.Instrument{Address: addr.Tcp(host, port)}

	if err := d.HandleCobsStream(context.Background(), wire.CobsStreamRequest{
		Instrument: inst,
		Request:    wire.CobsStreamOp{Start: true},
	}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(d.ListConnectedInstruments()) != 1 {
		t.Fatal("expected the COBS-stream actor to be installed")
	}

	if _, err := d.HandleByteStream(context.Background(), wire.ByteStreamRequest{
		Instrument: inst,
		Request:    byteengine.Request{Op: byteengine.OpWriteLine, Line: "ping", Term: '\n'},
	}); err != nil {
		t.Fatalf("byte_stream: %v", err)
	}

	list := d.ListConnectedInstruments()
	if len(list) != 1 || list[0] != inst.Address {
		t.Fatalf("expected switching modes to leave exactly one actor installed, got %v", list)
	}
}
