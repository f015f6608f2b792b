package dialer

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/nereid-labs/instrumentd/internal/addr"
	"github.com/nereid-labs/instrumentd/internal/ioerrs"
)

func listenerHostPort(t *testing.T, addrStr string) (string, uint16) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addrStr)
	if err != nil {
		t.Fatalf("split host/port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return host, uint16(port)
}

func TestOpenTcpDialsAndReuses(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn // accept and hold, never explicitly closed by this test
		}
	}()

	host, port := listenerHostPort(t, ln.Addr().String())
	inst := addr.Instrument{Address: addr.Tcp(host, port)}
	var o Opener

	h, err := o.Open(context.Background(), nil, false, inst)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.Close()

	h2, err := o.Open(context.Background(), h, true, inst)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if h2 != h {
		t.Fatal("expected the existing TCP handle to be reused, not redialed")
	}
}

func TestOpenTcpDialFailureIsTransport(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addrStr := ln.Addr().String()
	ln.Close() // nothing listens here anymore

	host, port := listenerHostPort(t, addrStr)
	inst := addr.Instrument{
		Address: addr.Tcp(host, port),
		Tcp:     &addr.TcpOptions{ConnectTimeoutMs: 200},
	}
	var o Opener
	_, err = o.Open(context.Background(), nil, false, inst)
	if err == nil {
		t.Fatal("expected a dial failure against a closed port")
	}
	if ioerrs.KindOf(err) != ioerrs.KindTransport {
		t.Fatalf("expected Transport error, got %v", err)
	}
}

func TestOpenUnsupportedKindsReturnTransportError(t *testing.T) {
	var o Opener
	for _, kind := range []addr.Kind{addr.KindFtdi, addr.KindHid, addr.KindVxi, addr.KindVisa} {
		inst := addr.Instrument{Address: addr.Address{Kind: kind}}
		_, err := o.Open(context.Background(), nil, false, inst)
		if ioerrs.KindOf(err) != ioerrs.KindTransport {
			t.Fatalf("kind %v: expected Transport error (no driver available), got %v", kind, err)
		}
	}
}

func TestOpenInvalidAddressKindIsArgument(t *testing.T) {
	var o Opener
	inst := addr.Instrument{Address: addr.Address{Kind: addr.KindCan}}
	_, err := o.Open(context.Background(), nil, false, inst)
	if ioerrs.KindOf(err) != ioerrs.KindArgument {
		t.Fatalf("expected Argument error for a non-byte-stream address kind, got %v", err)
	}
}
