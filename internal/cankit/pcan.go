package cankit

import (
	"fmt"

	"github.com/notnil/canbus"
)

// NewPCan always fails with an explanatory error: this build carries no
// PCANBasic binding, and cgo-wrapping the vendor's proprietary shared
// library is out of scope. The address kind is still accepted so the
// actor/inventory plumbing above it stays uniform across every CAN kind.
func NewPCan(name string, bitrate uint32) (canbus.Bus, error) {
	return nil, fmt.Errorf("pcan %s@%d: no PCANBasic driver available in this build", name, bitrate)
}
