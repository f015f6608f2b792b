//go:build !linux

package cankit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/notnil/canbus"
)

// NewSocketCAN is unavailable outside Linux; SocketCAN is a Linux-only
// raw socket family.
func NewSocketCAN(parent context.Context, iface string, logger *slog.Logger) (canbus.Bus, error) {
	return nil, fmt.Errorf("socketcan unsupported on this platform")
}
