package modbus

import (
	"encoding/binary"
	"fmt"
)

// ReadU16Registers implements ReadInputs (fc=4) and ReadHoldings (fc=3):
// address + u16 count (1..125), u16 big-endian reply.
type ReadU16Registers struct {
	code    byte
	Address uint16
	Count   uint16
}

func NewReadU16Registers(code byte, addr, count uint16) (*ReadU16Registers, error) {
	if count == 0 {
		return nil, fmt.Errorf("modbus: need to read at least 1 register")
	}
	if count > 125 {
		return nil, fmt.Errorf("modbus: trying to read too many registers: %d (max 125)", count)
	}
	return &ReadU16Registers{code: code, Address: addr, Count: count}, nil
}

func (r *ReadU16Registers) FormatRequest() []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], r.Address)
	binary.BigEndian.PutUint16(buf[2:4], r.Count)
	return buf
}

func (r *ReadU16Registers) HeaderLength() int { return 1 }

func (r *ReadU16Registers) DataLengthFromHeader(header []byte) (int, error) {
	length := int(header[0])
	if length < 2*int(r.Count) {
		return 0, fmt.Errorf("modbus: invalid receive frame length")
	}
	return length, nil
}

func (r *ReadU16Registers) ParseFrame(data []byte) (any, error) {
	out := make([]uint16, 0, r.Count)
	for i := 0; i < int(r.Count); i++ {
		out = append(out, binary.BigEndian.Uint16(data[2*i:2*i+2]))
	}
	return out, nil
}

func (r *ReadU16Registers) Code() byte { return r.code }

// ReadBoolRegisters implements ReadCoils (fc=1) and ReadDiscretes (fc=2):
// address + u16 count (1..1968), bit-packed reply.
type ReadBoolRegisters struct {
	code    byte
	Address uint16
	Count   uint16
}

func NewReadBoolRegisters(code byte, addr, count uint16) (*ReadBoolRegisters, error) {
	if count == 0 {
		return nil, fmt.Errorf("modbus: need to read at least 1 register")
	}
	if count > 1968 {
		return nil, fmt.Errorf("modbus: trying to read too many registers: %d (max 1968)", count)
	}
	return &ReadBoolRegisters{code: code, Address: addr, Count: count}, nil
}

func (r *ReadBoolRegisters) byteCount() int { return int((r.Count-1)/8) + 1 }

func (r *ReadBoolRegisters) FormatRequest() []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], r.Address)
	binary.BigEndian.PutUint16(buf[2:4], r.Count)
	return buf
}

func (r *ReadBoolRegisters) HeaderLength() int { return 1 }

func (r *ReadBoolRegisters) DataLengthFromHeader(header []byte) (int, error) {
	length := int(header[0])
	if length < r.byteCount() {
		return 0, fmt.Errorf("modbus: invalid receive frame length")
	}
	return length, nil
}

func (r *ReadBoolRegisters) ParseFrame(data []byte) (any, error) {
	expect := r.byteCount()
	out := make([]bool, 0, r.Count)
	for _, b := range data[:expect] {
		for i := 0; i < 8; i++ {
			out = append(out, (b>>uint(i))&1 == 1)
			if len(out) == int(r.Count) {
				return out, nil
			}
		}
	}
	return out, nil
}

func (r *ReadBoolRegisters) Code() byte { return r.code }

// WriteCoils implements WriteMultipleCoils (fc=15), bit-packed payload.
type WriteCoils struct {
	Address uint16
	Values  []bool
}

func NewWriteCoils(addr uint16, values []bool) (*WriteCoils, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("modbus: number of write coils must be > 0")
	}
	if len(values) > 0x7B0 {
		return nil, fmt.Errorf("modbus: number of write coils must be <= 1968")
	}
	return &WriteCoils{Address: addr, Values: values}, nil
}

func (w *WriteCoils) FormatRequest() []byte {
	byteCount := (len(w.Values) + 7) / 8
	buf := make([]byte, 4, 5+byteCount)
	binary.BigEndian.PutUint16(buf[0:2], w.Address)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(w.Values)))
	buf = append(buf, byte(byteCount))
	for i := 0; i < len(w.Values); i += 8 {
		var b byte
		end := i + 8
		if end > len(w.Values) {
			end = len(w.Values)
		}
		for k, v := range w.Values[i:end] {
			if v {
				b |= 1 << uint(k)
			}
		}
		buf = append(buf, b)
	}
	return buf
}

func (w *WriteCoils) HeaderLength() int { return 4 }

func (w *WriteCoils) DataLengthFromHeader(header []byte) (int, error) {
	return 0, checkWriteHeader(header, w.Address, len(w.Values))
}

func (w *WriteCoils) ParseFrame(data []byte) (any, error) { return nil, nil }

func (w *WriteCoils) Code() byte { return fcWriteMultipleCoils }

// WriteRegisters implements WriteMultipleRegisters (fc=16), u16
// big-endian payload.
type WriteRegisters struct {
	Address uint16
	Values  []uint16
}

func NewWriteRegisters(addr uint16, values []uint16) (*WriteRegisters, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("modbus: number of write registers must be > 0")
	}
	if len(values) > 125 {
		return nil, fmt.Errorf("modbus: number of write registers must be <= 125")
	}
	return &WriteRegisters{Address: addr, Values: values}, nil
}

func (w *WriteRegisters) FormatRequest() []byte {
	buf := make([]byte, 4, 5+2*len(w.Values))
	binary.BigEndian.PutUint16(buf[0:2], w.Address)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(w.Values)))
	buf = append(buf, byte(2*len(w.Values)))
	for _, v := range w.Values {
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], v)
		buf = append(buf, b[:]...)
	}
	return buf
}

func (w *WriteRegisters) HeaderLength() int { return 4 }

func (w *WriteRegisters) DataLengthFromHeader(header []byte) (int, error) {
	return 0, checkWriteHeader(header, w.Address, len(w.Values))
}

func (w *WriteRegisters) ParseFrame(data []byte) (any, error) { return nil, nil }

func (w *WriteRegisters) Code() byte { return fcWriteMultipleRegisters }

func checkWriteHeader(reply []byte, addr uint16, numRegs int) error {
	startAddr := binary.BigEndian.Uint16(reply[0:2])
	numOutputs := binary.BigEndian.Uint16(reply[2:4])
	if startAddr != addr {
		return fmt.Errorf("modbus: unexpected answer (address)")
	}
	if numRegs != int(numOutputs) {
		return fmt.Errorf("modbus: unexpected register length")
	}
	return nil
}
