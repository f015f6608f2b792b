package gct

import (
	"encoding/binary"
	"fmt"

	"github.com/nereid-labs/instrumentd/internal/can"
	"github.com/nereid-labs/instrumentd/internal/streamio"
)

// id packs the 29-bit GCT identifier: msg_type<<25 | src<<18 | dst<<11 | type_data.
func id(msgType MsgType, src, dst uint8, typeData uint16) uint32 {
	return (uint32(msgType)&0xF)<<25 | (uint32(src)&0x7F)<<18 | (uint32(dst)&0x7F)<<11 | (uint32(typeData) & 0x7FF)
}

func unpackID(raw uint32) (msgType MsgType, src, dst uint8, typeData uint16) {
	msgType = MsgType((raw >> 25) & 0xF)
	src = uint8((raw >> 18) & 0x7F)
	dst = uint8((raw >> 11) & 0x7F)
	typeData = uint16(raw & 0x7FF)
	return
}

// Encode produces one or more CAN frames for m. Only DDP messages with a
// payload produce more than one frame.
func Encode(m *Message) ([]can.Frame, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	switch m.Type {
	case SysCtrl:
		return encodeSysCtrl(m)
	case MonitoringData:
		return encodeMonitoringData(m)
	case MonitoringRequest:
		return encodeMonitoringRequest(m)
	case DDP:
		return encodeDDP(m)
	case Heartbeat:
		return encodeHeartbeat(m)
	default:
		return nil, fmt.Errorf("gct: cannot encode message type %d", m.Type)
	}
}

func encodeSysCtrl(m *Message) ([]can.Frame, error) {
	sc := m.SysCtrl
	var value, query uint16
	switch sc.Kind {
	case SysCtrlValue:
		value = 1
	case SysCtrlQuery:
		query = 1
	}
	typeData := (sc.Cmd << 2) | (value << 1) | query
	fr := can.NewExtended(id(SysCtrl, m.Src, m.Dst, typeData), sc.Data)
	return []can.Frame{fr}, nil
}

func encodeMonitoringData(m *Message) ([]can.Frame, error) {
	md := m.Monitoring
	typeData := (uint16(md.Group) << 6) | uint16(md.Reading)
	fr := can.NewExtended(id(MonitoringData, m.Src, Broadcast, typeData), md.Data)
	return []can.Frame{fr}, nil
}

func encodeMonitoringRequest(m *Message) ([]can.Frame, error) {
	mr := m.MonReq
	typeData := uint16(mr.Group) << 6
	var data [8]byte
	binary.LittleEndian.PutUint64(data[:], mr.Readings)
	fr := can.NewExtended(id(MonitoringRequest, m.Src, m.Dst, typeData), data[:])
	return []can.Frame{fr}, nil
}

func encodeHeartbeat(m *Message) ([]can.Frame, error) {
	var data [2]byte
	binary.LittleEndian.PutUint16(data[:], m.Heartbeat.ProductID)
	fr := can.NewExtended(id(Heartbeat, m.Src, Broadcast, 0), data[:])
	return []can.Frame{fr}, nil
}

func encodeDDP(m *Message) ([]can.Frame, error) {
	d := m.Ddp
	crc := streamio.GctCRC(d.Payload)
	var crcBytes [2]byte
	binary.BigEndian.PutUint16(crcBytes[:], crc)
	payload := append(append([]byte{}, d.Payload...), crcBytes[:]...)

	numChunks := (len(payload) + 7) / 8
	if numChunks == 0 {
		numChunks = 1
	}
	if numChunks > 8 {
		return nil, fmt.Errorf("gct: ddp payload requires %d frames, wire format only carries 8 (3-bit part count)", numChunks)
	}
	partCount := numChunks - 1
	frames := make([]can.Frame, 0, numChunks)
	for i := 0; i < numChunks; i++ {
		start := i * 8
		end := start + 8
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[start:end]
		typeData := (uint16(partCount) << 8) | (uint16(i) << 5)
		frames = append(frames, can.NewExtended(id(DDP, m.Src, m.Dst, typeData), chunk))
	}
	return frames, nil
}

// DecodeSingle decodes a single-frame message (SysCtrl, MonitoringData,
// MonitoringRequest, Heartbeat). DDP frames require reassembly via
// DdpDecoder and are rejected here.
func DecodeSingle(fr can.Frame) (*Message, error) {
	if !fr.Extended() {
		return nil, fmt.Errorf("gct: frame is not a 29-bit extended id")
	}
	msgType, src, dst, typeData := unpackID(fr.ID())
	data := append([]byte{}, fr.Data[:fr.Len]...)
	m := &Message{Type: msgType, Src: src, Dst: dst}
	switch msgType {
	case SysCtrl:
		value := (typeData >> 1) & 1
		query := typeData & 1
		var kind SysCtrlKind
		switch {
		case value == 1 && query == 1:
			return nil, fmt.Errorf("gct: sysctrl both value and query bits set")
		case value == 1:
			kind = SysCtrlValue
		case query == 1:
			kind = SysCtrlQuery
		default:
			kind = SysCtrlNone
		}
		m.SysCtrl = &SysCtrlMsg{Cmd: typeData >> 2, Kind: kind, Data: data}
	case MonitoringData:
		m.Monitoring = &MonitoringDataMsg{Group: uint8(typeData >> 6), Reading: uint8(typeData & 0x3F), Data: data}
	case MonitoringRequest:
		if len(data) < 8 {
			return nil, fmt.Errorf("gct: monitoring request payload too short")
		}
		m.MonReq = &MonitoringRequestMsg{Group: uint8(typeData >> 6), Readings: binary.LittleEndian.Uint64(data)}
	case Heartbeat:
		if len(data) < 2 {
			return nil, fmt.Errorf("gct: heartbeat payload too short")
		}
		m.Heartbeat = &HeartbeatMsg{ProductID: binary.LittleEndian.Uint16(data)}
	case DDP:
		return nil, fmt.Errorf("gct: DDP requires multi-frame reassembly")
	default:
		return nil, fmt.Errorf("gct: unknown message type %d", msgType)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
