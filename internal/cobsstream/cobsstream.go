// Package cobsstream implements the COBS-stream actor mode: instead of
// request/response, the actor splits its handle into read and write
// halves, spawns a decoder loop and an encoder loop, and exposes a "send
// frame"/"cancel" pair plus a broadcast of decoded frames.
package cobsstream

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/nereid-labs/instrumentd/internal/notify"
	"github.com/nereid-labs/instrumentd/internal/streamio"
)

// Notification is one item broadcast to COBS-stream subscribers.
type Notification struct {
	Frame   []byte
	Dropped bool // instrument-dropped, listener terminated
}

// Stream is a full-duplex connection the actor can split into independent
// read/write halves (net.Conn and serial ports both support concurrent
// read/write from separate goroutines without additional locking).
type Stream interface {
	io.Reader
	io.Writer
}

// Actor runs the encoder and decoder loops over one split handle.
type Actor struct {
	send   chan []byte
	hub    *notify.Hub[Notification]
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// New splits s into a decoder loop (broadcasting frames to hub) and an
// encoder loop (draining the send queue), and starts both.
func New(parent context.Context, s Stream, hub *notify.Hub[Notification], logger *slog.Logger) *Actor {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	a := &Actor{
		send:   make(chan []byte, 64),
		hub:    hub,
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
	a.wg.Add(2)
	go a.decodeLoop(s)
	go a.encodeLoop(s)
	return a
}

// SendFrame enqueues a frame for the encoder loop. Returns false if the
// queue is full (caller should treat as backpressure, not an error).
func (a *Actor) SendFrame(payload []byte) bool {
	select {
	case a.send <- payload:
		return true
	default:
		return false
	}
}

// Cancel stops both loops and waits for them to exit. A stream that
// implements io.Closer is closed on cancellation, so a Read parked in the
// decode loop returns. The hub is shared across the server, so closing
// subscribers is left to the caller.
func (a *Actor) Cancel() {
	a.cancel()
	a.wg.Wait()
}

func (a *Actor) decodeLoop(s Stream) {
	defer a.wg.Done()
	// A blocking Read never sees the context; closing the stream on
	// cancellation makes it return so Cancel's wait can finish.
	if c, ok := s.(io.Closer); ok {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-a.ctx.Done():
				_ = c.Close()
			case <-stop:
			}
		}()
	}
	one := make([]byte, 1)
	var buf []byte
	started := false
	for {
		select {
		case <-a.ctx.Done():
			return
		default:
		}
		n, err := s.Read(one)
		if n > 0 {
			b := one[0]
			if b == 0x00 {
				if !started {
					continue
				}
				decoded, derr := streamio.CobsDecode(buf)
				buf = buf[:0]
				started = false
				if derr != nil {
					a.logger.Debug("cobsstream_decode_error", "error", derr)
					continue
				}
				a.hub.Broadcast(Notification{Frame: decoded})
				continue
			}
			started = true
			buf = append(buf, b)
		}
		if err != nil {
			a.hub.Broadcast(Notification{Dropped: true})
			return
		}
	}
}

func (a *Actor) encodeLoop(s Stream) {
	defer a.wg.Done()
	for {
		select {
		case <-a.ctx.Done():
			return
		case payload := <-a.send:
			encoded := streamio.CobsEncode(payload)
			if err := streamio.WriteAll(s, encoded); err != nil {
				a.logger.Debug("cobsstream_write_error", "error", err)
				a.hub.Broadcast(Notification{Dropped: true})
				return
			}
		}
	}
}
