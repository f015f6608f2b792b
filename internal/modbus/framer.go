package modbus

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/nereid-labs/instrumentd/internal/ioerrs"
	"github.com/nereid-labs/instrumentd/internal/streamio"
)

// Protocol selects which framer wraps a FunctionCode: RTU (serial, with a
// trailing CRC-16) or TCP (MBAP header with transaction id).
type Protocol int

const (
	RTU Protocol = iota
	TCP
)

// Request is a single ModBus call: station/unit id, which protocol framing
// to use, the function-code descriptor, and a whole-operation timeout.
type Request struct {
	Station  byte
	Protocol Protocol
	FC       FunctionCode
	Timeout  time.Duration
}

// Execute performs a drain-now, then formats and sends the request and
// parses the response within the request's single whole-operation timeout.
func Execute(ctx context.Context, s streamio.Stream, req Request) (any, error) {
	if _, err := streamio.ReadAll(s); err != nil {
		return nil, err
	}
	deadline := time.Now().Add(req.Timeout)
	switch req.Protocol {
	case TCP:
		return executeTCP(ctx, s, req, deadline)
	default:
		return executeRTU(ctx, s, req, deadline)
	}
}

func executeRTU(ctx context.Context, s streamio.Stream, req Request, deadline time.Time) (any, error) {
	body := append([]byte{req.Station, req.FC.Code()}, req.FC.FormatRequest()...)
	crc := streamio.ModbusCRC(body)
	var crcBuf [2]byte
	binary.LittleEndian.PutUint16(crcBuf[:], crc)
	frame := append(body, crcBuf[:]...)

	if err := streamio.WriteAll(s, frame); err != nil {
		return nil, err
	}

	header, err := streamio.ReadExact(ctx, s, 2, time.Until(deadline))
	if err != nil {
		return nil, err
	}
	unitID, fc := header[0], header[1]
	if unitID != req.Station {
		return nil, ioerrs.Protocol("modbus_rtu", ioerrs.ErrUnexpectedResponse)
	}
	if fc&0x80 != 0 {
		excByte, err := streamio.ReadExact(ctx, s, 3, time.Until(deadline)) // exception code + crc
		if err != nil {
			return nil, err
		}
		if fc&0x7F != req.FC.Code() {
			return nil, ioerrs.Protocol("modbus_rtu", ioerrs.ErrUnexpectedResponse)
		}
		full := append(append([]byte{}, header...), excByte...)
		if streamio.ModbusCRC(full) != 0 {
			return nil, ioerrs.Protocol("modbus_rtu", ioerrs.ErrFraming)
		}
		exc, code := ExceptionFromCode(excByte[0])
		return nil, ioerrs.Protocol("modbus_rtu", &ExceptionError{Exception: exc, Code: code})
	}
	if fc != req.FC.Code() {
		return nil, ioerrs.Protocol("modbus_rtu", ioerrs.ErrUnexpectedResponse)
	}

	hdrLen := req.FC.HeaderLength()
	var respHeader []byte
	if hdrLen > 0 {
		respHeader, err = streamio.ReadExact(ctx, s, hdrLen, time.Until(deadline))
		if err != nil {
			return nil, err
		}
	}
	dataLen, err := req.FC.DataLengthFromHeader(respHeader)
	if err != nil {
		return nil, ioerrs.Protocol("modbus_rtu", err)
	}
	data, err := streamio.ReadExact(ctx, s, dataLen, time.Until(deadline))
	if err != nil {
		return nil, err
	}
	crcGot, err := streamio.ReadExact(ctx, s, 2, time.Until(deadline))
	if err != nil {
		return nil, err
	}
	full := append(append(append([]byte{}, header...), respHeader...), data...)
	full = append(full, crcGot...)
	if streamio.ModbusCRC(full) != 0 {
		return nil, ioerrs.Protocol("modbus_rtu", ioerrs.ErrFraming)
	}
	return req.FC.ParseFrame(data)
}

func randomTransactionID() uint16 {
	var b [2]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint16(b[:])
}

func executeTCP(ctx context.Context, s streamio.Stream, req Request, deadline time.Time) (any, error) {
	trID := randomTransactionID()
	payload := append([]byte{req.Station, req.FC.Code()}, req.FC.FormatRequest()...)
	length := uint16(len(payload))

	var frame []byte
	var trBuf, protoBuf, lenBuf [2]byte
	binary.BigEndian.PutUint16(trBuf[:], trID)
	binary.BigEndian.PutUint16(protoBuf[:], 0)
	binary.BigEndian.PutUint16(lenBuf[:], length)
	frame = append(frame, trBuf[:]...)
	frame = append(frame, protoBuf[:]...)
	frame = append(frame, lenBuf[0], lenBuf[1])
	frame = append(frame, payload...)

	if err := streamio.WriteAll(s, frame); err != nil {
		return nil, err
	}

	mbap, err := streamio.ReadExact(ctx, s, 7, time.Until(deadline))
	if err != nil {
		return nil, err
	}
	respTrID := binary.BigEndian.Uint16(mbap[0:2])
	respProto := binary.BigEndian.Uint16(mbap[2:4])
	respLen := binary.BigEndian.Uint16(mbap[4:6])
	unitID := mbap[6]
	if respTrID != trID {
		return nil, ioerrs.Protocol("modbus_tcp", ioerrs.ErrUnexpectedResponse)
	}
	if respProto != 0 {
		return nil, ioerrs.Protocol("modbus_tcp", ioerrs.ErrFraming)
	}
	if unitID != req.Station {
		return nil, ioerrs.Protocol("modbus_tcp", ioerrs.ErrUnexpectedResponse)
	}
	if respLen < 1 {
		return nil, ioerrs.Protocol("modbus_tcp", ioerrs.ErrFraming)
	}

	rest, err := streamio.ReadExact(ctx, s, int(respLen)-1, time.Until(deadline))
	if err != nil {
		return nil, err
	}
	fc := rest[0]
	body := rest[1:]
	if fc&0x80 != 0 {
		if fc&0x7F != req.FC.Code() {
			return nil, ioerrs.Protocol("modbus_tcp", ioerrs.ErrUnexpectedResponse)
		}
		if len(body) < 1 {
			return nil, ioerrs.Protocol("modbus_tcp", ioerrs.ErrFraming)
		}
		exc, code := ExceptionFromCode(body[0])
		return nil, ioerrs.Protocol("modbus_tcp", &ExceptionError{Exception: exc, Code: code})
	}
	if fc != req.FC.Code() {
		return nil, ioerrs.Protocol("modbus_tcp", ioerrs.ErrUnexpectedResponse)
	}

	hdrLen := req.FC.HeaderLength()
	var respHeader, data []byte
	if hdrLen > 0 {
		if len(body) < hdrLen {
			return nil, ioerrs.Protocol("modbus_tcp", ioerrs.ErrFraming)
		}
		respHeader = body[:hdrLen]
		data = body[hdrLen:]
	} else {
		data = body
	}
	dataLen, err := req.FC.DataLengthFromHeader(respHeader)
	if err != nil {
		return nil, ioerrs.Protocol("modbus_tcp", err)
	}
	if len(data) < dataLen {
		return nil, ioerrs.Protocol("modbus_tcp", ioerrs.ErrFraming)
	}
	return req.FC.ParseFrame(data[:dataLen])
}
