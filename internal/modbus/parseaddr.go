package modbus

import (
	"fmt"
	"strconv"
	"strings"
)

// TargetAddress is the parsed form of a "modbus::tcp::host:port::slave" or
// "modbus::rtu::port::slave" address string.
type TargetAddress struct {
	Protocol Protocol
	Target   string // host:port for TCP, device path for RTU
	Station  byte
}

// ParseAddress parses a colon-colon-delimited ModBus target string. The
// arity check here is the corrected version of the source's: the source
// tested `splits.len() != 3 || splits.len() != 4`, which is always true
// regardless of splits.len(); the intended check is "not 3 and not 4".
func ParseAddress(s string) (TargetAddress, error) {
	splits := strings.Split(s, "::")
	if len(splits) != 3 && len(splits) != 4 {
		return TargetAddress{}, fmt.Errorf("modbus: malformed address %q", s)
	}
	if splits[0] != "modbus" {
		return TargetAddress{}, fmt.Errorf("modbus: address %q missing modbus:: prefix", s)
	}

	var proto Protocol
	switch splits[1] {
	case "tcp":
		proto = TCP
	case "rtu":
		proto = RTU
	default:
		return TargetAddress{}, fmt.Errorf("modbus: unknown protocol %q", splits[1])
	}

	target := splits[2]

	// 3-field form (no explicit station segment) defaults to station 1;
	// the 4-field form carries an explicit trailing station id.
	if len(splits) == 3 {
		return TargetAddress{Protocol: proto, Target: target, Station: 1}, nil
	}

	station64, err := strconv.ParseUint(splits[3], 10, 8)
	if err != nil {
		return TargetAddress{}, fmt.Errorf("modbus: invalid station in %q: %w", s, err)
	}
	return TargetAddress{Protocol: proto, Target: target, Station: byte(station64)}, nil
}
