package frontend

import (
	"encoding/json"
	"testing"

	"github.com/nereid-labs/instrumentd/internal/modbus"
)

func TestDecodeFunctionCodeReadHoldings(t *testing.T) {
	raw, _ := json.Marshal(funcCodeSpec{Kind: "read_holdings", Address: 10, Count: 4})
	fc, err := decodeFunctionCode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fc.Code() != 3 {
		t.Fatalf("expected function code 3, got %d", fc.Code())
	}
}

func TestDecodeFunctionCodeReadCoilsIsBoolKind(t *testing.T) {
	raw, _ := json.Marshal(funcCodeSpec{Kind: "read_coils", Address: 0, Count: 8})
	fc, err := decodeFunctionCode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fc.Code() != 1 {
		t.Fatalf("expected function code 1, got %d", fc.Code())
	}
}

func TestDecodeFunctionCodeWriteRegisters(t *testing.T) {
	raw, _ := json.Marshal(funcCodeSpec{Kind: "write_registers", Address: 5, Values: []uint16{1, 2, 3}})
	fc, err := decodeFunctionCode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fc.Code() != 16 {
		t.Fatalf("expected function code 16, got %d", fc.Code())
	}
}

func TestDecodeFunctionCodeDdp(t *testing.T) {
	raw, _ := json.Marshal(funcCodeSpec{Kind: "ddp", SubCmd: 1, DdpCmd: 2, Data: []byte{9, 9}})
	fc, err := decodeFunctionCode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fc.Code() != 0x44 {
		t.Fatalf("expected ddp function code 0x44, got %x", fc.Code())
	}
}

func TestDecodeFunctionCodeUnknownKindErrors(t *testing.T) {
	raw, _ := json.Marshal(funcCodeSpec{Kind: "nonsense"})
	if _, err := decodeFunctionCode(raw); err == nil {
		t.Fatal("expected an error for an unrecognized function code kind")
	}
}

func TestDecodeFunctionCodeMalformedJSON(t *testing.T) {
	if _, err := decodeFunctionCode([]byte("not json")); err == nil {
		t.Fatal("expected an error decoding malformed JSON")
	}
}

var _ = modbus.TCP // keep the modbus import meaningful if constants shift
