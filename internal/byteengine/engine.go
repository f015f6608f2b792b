// Package byteengine executes one ByteStreamRequest against any full-duplex
// stream: terminator-delimited lines, exact/timed reads, COBS framing, and
// delegation to the ModBus engine. It is the "any stream with read/write"
// abstraction the transport actors hand their open handle to.
package byteengine

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/nereid-labs/instrumentd/internal/ioerrs"
	"github.com/nereid-labs/instrumentd/internal/modbus"
	"github.com/nereid-labs/instrumentd/internal/prologix"
	"github.com/nereid-labs/instrumentd/internal/streamio"
)

// Op tags which byte-stream operation a Request carries.
type Op int

const (
	OpWrite Op = iota
	OpReadExact
	OpReadAll
	OpReadToTerm
	OpWriteLine
	OpReadLine
	OpQueryLine
	OpCobsWrite
	OpCobsRead
	OpCobsQuery
	OpModBus
	OpPrologix
	OpConnect
	OpDisconnect
)

// PrologixHost is implemented by handles that carry a per-handle Prologix
// init tracker (serial ports fronting a Prologix GPIB controller); the
// one-time init sequence runs once per handle lifetime, not per request.
type PrologixHost interface {
	PrologixInit() *prologix.InitState
}

// Request is the union of all byte-stream operations; only the fields
// relevant to Op are meaningful.
type Request struct {
	Op Op

	Write []byte

	Count   int
	Timeout time.Duration

	Term byte

	Line string

	CobsData []byte

	ModBusReq   modbus.Request
	PrologixReq prologix.Request
}

// Response is the union of all byte-stream results.
type Response struct {
	Bytes []byte
	Line  string
	Regs  []uint16
	Bits  []bool
	Raw   any
}

// Execute runs req against s. Pre-drain happens only for QueryLine,
// CobsQuery, ModBus and Prologix; the last two drain inside modbus.Execute
// and prologix.Execute.
func Execute(ctx context.Context, s streamio.Stream, req Request) (Response, error) {
	switch req.Op {
	case OpWrite:
		if err := streamio.WriteAll(s, req.Write); err != nil {
			return Response{}, err
		}
		return Response{}, nil

	case OpReadExact:
		b, err := streamio.ReadExact(ctx, s, req.Count, req.Timeout)
		if err != nil {
			return Response{}, err
		}
		return Response{Bytes: b}, nil

	case OpReadAll:
		b, err := streamio.ReadAll(s)
		if err != nil {
			return Response{}, err
		}
		return Response{Bytes: b}, nil

	case OpReadToTerm:
		b, err := streamio.ReadToTerm(s, req.Term, req.Timeout)
		if err != nil {
			return Response{}, err
		}
		return Response{Bytes: b}, nil

	case OpWriteLine:
		if err := writeLine(s, req.Line, req.Term); err != nil {
			return Response{}, err
		}
		return Response{}, nil

	case OpReadLine:
		line, err := readLine(s, req.Term, req.Timeout)
		if err != nil {
			return Response{}, err
		}
		return Response{Line: line}, nil

	case OpQueryLine:
		if _, err := streamio.ReadAll(s); err != nil {
			return Response{}, err
		}
		if err := writeLine(s, req.Line, req.Term); err != nil {
			return Response{}, err
		}
		line, err := readLine(s, req.Term, req.Timeout)
		if err != nil {
			return Response{}, err
		}
		return Response{Line: line}, nil

	case OpCobsWrite:
		if err := streamio.WriteAll(s, streamio.CobsEncode(req.CobsData)); err != nil {
			return Response{}, err
		}
		return Response{}, nil

	case OpCobsRead:
		b, err := cobsRead(s, req.Timeout)
		if err != nil {
			return Response{}, err
		}
		return Response{Bytes: b}, nil

	case OpCobsQuery:
		if _, err := streamio.ReadAll(s); err != nil {
			return Response{}, err
		}
		if err := streamio.WriteAll(s, streamio.CobsEncode(req.CobsData)); err != nil {
			return Response{}, err
		}
		b, err := cobsRead(s, req.Timeout)
		if err != nil {
			return Response{}, err
		}
		return Response{Bytes: b}, nil

	case OpModBus:
		out, err := modbus.Execute(ctx, s, req.ModBusReq)
		if err != nil {
			return Response{}, err
		}
		switch v := out.(type) {
		case []uint16:
			return Response{Regs: v, Raw: v}, nil
		case []bool:
			return Response{Bits: v, Raw: v}, nil
		case []byte:
			return Response{Bytes: v, Raw: v}, nil
		default:
			return Response{Raw: v}, nil
		}

	case OpPrologix:
		host, ok := s.(PrologixHost)
		if !ok {
			return Response{}, ioerrs.Argument("byteengine", errNotPrologix)
		}
		line, err := prologix.Execute(s, host.PrologixInit(), req.PrologixReq)
		if err != nil {
			return Response{}, err
		}
		return Response{Line: line}, nil

	case OpConnect, OpDisconnect:
		// No-op at the engine level; the actor interprets Disconnect.
		return Response{}, nil

	default:
		return Response{}, ioerrs.Argument("byteengine", errUnknownOp)
	}
}

var errUnknownOp = unknownOpError{}

type unknownOpError struct{}

func (unknownOpError) Error() string { return "byteengine: unknown operation" }

var errNotPrologix = notPrologixError{}

type notPrologixError struct{}

func (notPrologixError) Error() string { return "byteengine: handle does not front a prologix controller" }

func writeLine(s streamio.Stream, line string, term byte) error {
	buf := append([]byte(line), term)
	return streamio.WriteAll(s, buf)
}

func readLine(s streamio.Stream, term byte, timeout time.Duration) (string, error) {
	b, err := streamio.ReadToTerm(s, term, timeout)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", ioerrs.Protocol("read_line", errInvalidUTF8)
	}
	return string(b), nil
}

var errInvalidUTF8 = utf8Error{}

type utf8Error struct{}

func (utf8Error) Error() string { return "invalid utf-8 in line" }

// cobsRead skips any leading zero-byte re-sync run, then accumulates bytes
// up to the next 0x00 delimiter and decodes them.
func cobsRead(s streamio.Stream, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	one := make([]byte, 1)
	var buf []byte
	started := false
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ioerrs.Timeout("cobs_read")
		}
		b, err := streamio.ReadExactOne(s, one, remaining)
		if err != nil {
			return nil, err
		}
		if b == 0x00 {
			if !started {
				continue // leading zero: re-sync, skip
			}
			decoded, derr := streamio.CobsDecode(buf)
			if derr != nil {
				return nil, ioerrs.Protocol("cobs_read", derr)
			}
			return decoded, nil
		}
		started = true
		buf = append(buf, b)
	}
}
