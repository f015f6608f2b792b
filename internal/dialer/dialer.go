// Package dialer opens the concrete handle behind a byte-stream actor:
// serial ports (via github.com/tarm/serial) and TCP sockets (net.Dial);
// FTDI, HID, VXI-11, and VISA addresses have no driver library in this
// build and fail with a Transport error rather than a stub success.
package dialer

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/nereid-labs/instrumentd/internal/addr"
	"github.com/nereid-labs/instrumentd/internal/ioerrs"
	"github.com/nereid-labs/instrumentd/internal/prologix"
	"github.com/nereid-labs/instrumentd/internal/serial"
)

const defaultTcpConnectTimeout = 500 * time.Millisecond

// Handle is a byte-stream actor's open resource: readable, writable,
// closeable. Serial ports (tarm/serial) don't support read deadlines, so
// Deadliner support is optional and checked dynamically by streamio.
type Handle interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// SerialHandle wraps an open serial port with a per-handle Prologix init
// tracker: the one-time "++savecfg/++auto/++eos" sequence must run once
// per handle open, reset whenever the port is reopened. cfg records the
// line configuration the port was actually opened with, so a later
// request can tell whether its config changed and a reopen is needed.
type SerialHandle struct {
	Handle
	cfg          addr.SerialConfig
	prologixInit *prologix.InitState
}

func (s *SerialHandle) PrologixInit() *prologix.InitState { return s.prologixInit }

// Opener implements actor.Opener for byte-stream instruments, dispatching
// on the instrument's address kind.
type Opener struct{}

var defaultSerialConfig = addr.SerialConfig{Baud: 9600, DataBits: 8, StopBits: 1}

// Open opens a fresh handle, or returns current unchanged if it already
// satisfies config. Serial ports never support in-place reconfiguration
// under tarm/serial, so a changed config always closes and reopens; TCP
// has no persistent config to compare, so an existing connection is
// always reused as-is.
func (Opener) Open(ctx context.Context, current Handle, hasCurrent bool, inst addr.Instrument) (Handle, error) {
	switch inst.Address.Kind {
	case addr.KindSerial, addr.KindPrologix:
		want := defaultSerialConfig
		if inst.Serial != nil {
			want = *inst.Serial
		}
		if hasCurrent {
			if sh, ok := current.(*SerialHandle); ok && sh.cfg.Equal(want) {
				return current, nil
			}
			_ = current.Close()
		}
		readTimeout := 100 * time.Millisecond
		p, err := serial.Open(serial.Config{
			Name:        inst.Address.Port,
			Baud:        want.Baud,
			DataBits:    byte(want.DataBits),
			Parity:      toSerialParity(want.Parity),
			StopBits:    toSerialStopBits(want.StopBits),
			ReadTimeout: readTimeout,
		})
		if err != nil {
			return nil, ioerrs.Transport("serial_open", ioerrs.IOOther, err)
		}
		return &SerialHandle{Handle: p, cfg: want, prologixInit: prologix.NewInitState()}, nil

	case addr.KindTcp:
		if hasCurrent {
			return current, nil
		}
		timeout := defaultTcpConnectTimeout
		if inst.Tcp != nil && inst.Tcp.ConnectTimeoutMs > 0 {
			timeout = time.Duration(inst.Tcp.ConnectTimeoutMs) * time.Millisecond
		}
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", inst.Address.Host, inst.Address.TcpPort))
		if err != nil {
			return nil, ioerrs.Transport("tcp_dial", classifyDialErr(err), err)
		}
		return conn, nil

	case addr.KindFtdi, addr.KindHid, addr.KindVxi, addr.KindVisa:
		return nil, ioerrs.Transport(inst.Address.Kind.String()+"_open", ioerrs.IOOther,
			fmt.Errorf("%s: no driver available in this build", inst.Address.Kind))

	default:
		return nil, ioerrs.Argument("open", fmt.Errorf("unsupported address kind %v for a byte-stream instrument", inst.Address.Kind))
	}
}

// toSerialParity and toSerialStopBits translate the data-model's
// SerialConfig enums into tarm/serial's byte-valued settings. FlowControl
// has no equivalent: tarm/serial.Config exposes no flow-control field, so
// addr.SerialConfig.FlowControl can't be honored regardless of its value.
func toSerialParity(p addr.Parity) serial.Parity {
	switch p {
	case addr.ParityOdd:
		return serial.ParityOdd
	case addr.ParityEven:
		return serial.ParityEven
	default:
		return serial.ParityNone
	}
}

func toSerialStopBits(n int) serial.StopBits {
	if n >= 2 {
		return serial.Stop2
	}
	return serial.Stop1
}

func classifyDialErr(err error) ioerrs.IOKind {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok && t.Timeout() {
		return ioerrs.IOTimedOut
	}
	return ioerrs.IOOther
}
