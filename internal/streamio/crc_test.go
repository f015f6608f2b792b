package streamio

import (
	"encoding/binary"
	"testing"
)

func TestModbusCRCSelfCheck(t *testing.T) {
	frame := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A}
	crc := ModbusCRC(frame)
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], crc)
	combined := append(append([]byte{}, frame...), b[:]...)
	if ModbusCRC(combined) != 0 {
		t.Errorf("recomputing CRC over frame+crc should yield 0, got %#04x", ModbusCRC(combined))
	}
}

func TestGctCRCDeterministic(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13}
	if GctCRC(payload) != GctCRC(payload) {
		t.Fatal("GctCRC must be deterministic")
	}
}
