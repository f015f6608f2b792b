// Package cankit supplies the CAN bus layer: concrete canbus.Bus drivers
// (SocketCAN on Linux, the process-wide loopback, a PCan placeholder) plus
// the frame conversions between the daemon's SocketCAN-shaped can.Frame
// and the canbus wire frame. Fan-out of inbound frames is canbus.Mux's
// job; the CAN actor wraps whatever Bus this package opens.
package cankit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/notnil/canbus"

	"github.com/nereid-labs/instrumentd/internal/addr"
	"github.com/nereid-labs/instrumentd/internal/can"
)

// ToWire converts a can.Frame to the canbus frame. The ID carries the
// same EFF/RTR/ERR flag bits in its upper bits that SocketCAN uses, so a
// 29-bit extended identifier survives the round trip. Frames longer than
// a classic CAN payload don't fit the wire frame.
func ToWire(fr can.Frame) (canbus.Frame, error) {
	var w canbus.Frame
	if fr.Len > 8 {
		return w, fmt.Errorf("cankit: frame payload %d exceeds classic CAN", fr.Len)
	}
	w.ID = fr.CANID
	w.Len = fr.Len
	copy(w.Data[:], fr.Data[:fr.Len])
	return w, nil
}

// FromWire converts a canbus frame back to the daemon's can.Frame.
func FromWire(w canbus.Frame) can.Frame {
	var fr can.Frame
	fr.CANID = w.ID
	fr.Len = w.Len
	copy(fr.Data[:], w.Data[:])
	return fr
}

// Open returns the canbus.Bus for a CAN address. parent bounds the
// lifetime of any background machinery the driver needs (SocketCAN's
// single-goroutine TX writer).
func Open(parent context.Context, a addr.Address, logger *slog.Logger) (canbus.Bus, error) {
	switch a.CanKind {
	case addr.CanLoopback:
		return NewLoopback(), nil
	case addr.CanSocket:
		return NewSocketCAN(parent, a.CanName, logger)
	case addr.CanPCan:
		return NewPCan(a.CanName, a.CanBitrate)
	default:
		return nil, fmt.Errorf("unknown can kind %v", a.CanKind)
	}
}

// Factory binds Open to parent/logger in the shape the dispatcher's
// constructor expects.
func Factory(parent context.Context, logger *slog.Logger) func(addr.Address) (canbus.Bus, error) {
	return func(a addr.Address) (canbus.Bus, error) {
		return Open(parent, a, logger)
	}
}
