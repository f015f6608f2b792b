//go:build linux

package cankit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/notnil/canbus"

	"github.com/nereid-labs/instrumentd/internal/can"
	"github.com/nereid-labs/instrumentd/internal/metrics"
	"github.com/nereid-labs/instrumentd/internal/socketcan"
)

const (
	txQueueSize  = 64
	rxBackoffMin = 10 * time.Millisecond
	rxBackoffMax = 2 * time.Second
)

// openSocketCANDevice is a hook for tests.
var openSocketCANDevice = func(iface string) (socketcan.Dev, error) { return socketcan.Open(iface) }

// socketCANBus implements canbus.Bus over a raw AF_CAN socket: writes go
// through the AsyncTx-backed TXWriter, Receive blocks on the device and
// backs off on transient read errors rather than giving up.
type socketCANBus struct {
	dev    socketcan.Dev
	tw     *socketcan.TXWriter
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

// NewSocketCAN opens a SocketCAN interface as a canbus.Bus.
func NewSocketCAN(parent context.Context, iface string, logger *slog.Logger) (canbus.Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dev, err := openSocketCANDevice(iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan open %s: %w", iface, err)
	}
	ctx, cancel := context.WithCancel(parent)
	return &socketCANBus{
		dev:    dev,
		tw:     socketcan.NewTXWriter(ctx, dev, txQueueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}, nil
}

func (b *socketCANBus) Send(w canbus.Frame) error {
	return b.tw.SendFrame(FromWire(w))
}

func (b *socketCANBus) Receive() (canbus.Frame, error) {
	backoff := rxBackoffMin
	for {
		if b.ctx.Err() != nil {
			return canbus.Frame{}, canbus.ErrClosed
		}
		var fr can.Frame
		if err := b.dev.ReadFrame(&fr); err != nil {
			if b.ctx.Err() != nil {
				return canbus.Frame{}, canbus.ErrClosed
			}
			metrics.IncError(metrics.ErrSocketCANRead)
			b.logger.Warn("socketcan_read_error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > rxBackoffMax {
				backoff = rxBackoffMax
			}
			continue
		}
		metrics.IncSocketCANRx()
		w, err := ToWire(fr)
		if err != nil {
			// CAN FD sized payload; nothing upstream speaks it.
			continue
		}
		return w, nil
	}
}

func (b *socketCANBus) Close() error {
	b.cancel()
	b.tw.Close()
	return b.dev.Close()
}
