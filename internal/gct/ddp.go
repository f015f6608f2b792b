package gct

import (
	"sync"

	"github.com/nereid-labs/instrumentd/internal/can"
	"github.com/nereid-labs/instrumentd/internal/streamio"
)

type ddpSlot struct {
	started      bool
	src          uint8
	expectedPart int // part_count: num_chunks - 1
	received     int // last frame index successfully applied
	buf          []byte
}

func (s *ddpSlot) reset() {
	s.started = false
	s.received = 0
	s.buf = s.buf[:0]
}

// DdpDecoder reassembles multi-frame DDP messages, holding one reassembly
// slot per destination address. A non-monotonic frame index, a source
// address change, or a changed part count resets the slot and drops the
// in-progress message.
type DdpDecoder struct {
	mu    sync.Mutex
	slots map[uint8]*ddpSlot
}

// NewDdpDecoder returns an empty decoder.
func NewDdpDecoder() *DdpDecoder {
	return &DdpDecoder{slots: make(map[uint8]*ddpSlot)}
}

// Feed processes one CAN frame believed to carry a DDP chunk. It returns a
// non-nil *Message only when the frame completes a message and its CRC
// validates; a CRC failure silently discards the message (returns nil, nil).
func (d *DdpDecoder) Feed(fr can.Frame) (*Message, error) {
	if !fr.Extended() {
		return nil, nil
	}
	msgType, src, dst, typeData := unpackID(fr.ID())
	if msgType != DDP {
		return nil, nil
	}
	partCount := int((typeData >> 8) & 0x7) // num_chunks - 1, wire carries only 3 bits
	frameIdx := int((typeData >> 5) & 0x7)
	data := append([]byte{}, fr.Data[:fr.Len]...)

	d.mu.Lock()
	defer d.mu.Unlock()

	slot, ok := d.slots[dst]
	if !ok {
		slot = &ddpSlot{}
		d.slots[dst] = slot
	}

	switch {
	case frameIdx == 0:
		slot.reset()
		slot.expectedPart = partCount
		slot.src = src
		slot.started = true
	case slot.received+1 != frameIdx || partCount != slot.expectedPart:
		slot.reset()
		return nil, nil
	case !slot.started:
		return nil, nil
	case src != slot.src:
		// Another node started interleaving frames mid-message; the
		// in-progress payload can't be trusted anymore.
		slot.reset()
		return nil, nil
	}

	slot.received = frameIdx
	slot.buf = append(slot.buf, data...)

	if frameIdx != slot.expectedPart {
		return nil, nil
	}

	payload := append([]byte{}, slot.buf...)
	resultSrc, resultDst := slot.src, dst
	slot.reset()

	if len(payload) < 2 {
		return nil, nil
	}
	if streamio.GctCRC(payload) != 0 {
		return nil, nil
	}
	return &Message{
		Type: DDP,
		Src:  resultSrc,
		Dst:  resultDst,
		Ddp:  &DdpMsg{Payload: payload[:len(payload)-2]},
	}, nil
}
