package frontend

import (
	"encoding/json"
	"fmt"

	"github.com/nereid-labs/instrumentd/internal/modbus"
)

// funcCodeSpec is the JSON-friendly description of a modbus.FunctionCode; the
// wire protocol sends one of these instead of the Go interface directly,
// and decodeFunctionCode turns it into the concrete descriptor the ModBus
// engine dispatches on.
type funcCodeSpec struct {
	Kind string `json:"kind"`

	Code    byte     `json:"code,omitempty"`
	Address uint16   `json:"address,omitempty"`
	Count   uint16   `json:"count,omitempty"`
	Values  []uint16 `json:"values,omitempty"`
	Bits    []bool   `json:"bits,omitempty"`

	SubCmd   byte   `json:"sub_cmd,omitempty"`
	DdpCmd   byte   `json:"ddp_cmd,omitempty"`
	Data     []byte `json:"data,omitempty"`
	Response bool   `json:"response,omitempty"`
}

func decodeFunctionCode(raw json.RawMessage) (modbus.FunctionCode, error) {
	var spec funcCodeSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, err
	}
	switch spec.Kind {
	case "read_holdings", "read_inputs", "read_coils", "read_discretes":
		code := spec.Code
		switch spec.Kind {
		case "read_holdings":
			code = 3
		case "read_inputs":
			code = 4
		case "read_coils":
			code = 1
		case "read_discretes":
			code = 2
		}
		if spec.Kind == "read_coils" || spec.Kind == "read_discretes" {
			return modbus.NewReadBoolRegisters(code, spec.Address, spec.Count)
		}
		return modbus.NewReadU16Registers(code, spec.Address, spec.Count)
	case "write_coils":
		return modbus.NewWriteCoils(spec.Address, spec.Bits)
	case "write_registers":
		return modbus.NewWriteRegisters(spec.Address, spec.Values)
	case "ddp":
		return modbus.NewDdp(spec.SubCmd, spec.DdpCmd, spec.Data, spec.Response), nil
	default:
		return nil, fmt.Errorf("frontend: unknown function code kind %q", spec.Kind)
	}
}
