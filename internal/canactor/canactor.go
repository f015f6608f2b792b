// Package canactor implements the CAN transport actor: one canbus.Bus per
// open CAN address, a canbus.Mux fanning its inbound frames into a
// listener task that feeds raw subscribers and the GCT decoder.
package canactor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/notnil/canbus"

	"github.com/nereid-labs/instrumentd/internal/addr"
	"github.com/nereid-labs/instrumentd/internal/can"
	"github.com/nereid-labs/instrumentd/internal/cankit"
	"github.com/nereid-labs/instrumentd/internal/gct"
	"github.com/nereid-labs/instrumentd/internal/ioerrs"
	"github.com/nereid-labs/instrumentd/internal/notify"
)

// Notification is one item broadcast to CAN subscribers. Source
// identifies which actor/address produced it, since a single hub fans
// out frames from every open CAN address.
type Notification struct {
	Source  addr.Address
	Raw     *can.Frame
	Gct     *gct.Message
	Stopped bool
	Err     error
}

// Options configure which listener behaviors are active, mirroring the
// per-address ListenRaw/ListenGct/loopback toggles.
type Options struct {
	ListenRaw bool
	ListenGct bool
	// Loopback re-injects every frame this actor sends back into its own
	// listener before it hits the wire, for buses that don't already echo
	// their own transmissions (PCan, SocketCAN). The loopback CAN address
	// kind talks to the process-wide loopback bus, which echoes by
	// construction, and does not need this.
	Loopback bool
}

// listenerBufferSize bounds the mux subscription feeding the listener.
const listenerBufferSize = 64

// Actor owns one CAN bus: it serializes outbound sends and runs a
// background listener task that decodes inbound frames and broadcasts
// them. Unlike the byte-stream actors, it has no request/response mailbox
// for reads — only the send path is synchronous.
type Actor struct {
	mu      sync.Mutex
	source  addr.Address
	bus     canbus.Bus
	opts    Options
	hub     *notify.Hub[Notification]
	decoder *gct.DdpDecoder

	injected chan can.Frame

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	logger *slog.Logger
}

// New starts a CAN actor's listener task over bus. source identifies the
// address this actor serves, stamped onto every broadcast Notification so
// a subscriber fanned out across many CAN addresses can tell them apart.
// The actor wraps bus in a canbus.Mux so its listener never monopolizes
// Receive should other consumers ever share the bus.
func New(parent context.Context, source addr.Address, bus canbus.Bus, opts Options, hub *notify.Hub[Notification], logger *slog.Logger) *Actor {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	a := &Actor{
		source:   source,
		bus:      bus,
		opts:     opts,
		hub:      hub,
		decoder:  gct.NewDdpDecoder(),
		injected: make(chan can.Frame, 64),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		logger:   logger,
	}
	mux := canbus.NewMux(bus)
	rx, cancelSub := mux.Subscribe(func(canbus.Frame) bool { return true }, listenerBufferSize)
	go a.listen(rx, cancelSub)
	return a
}

// SetListenRaw toggles raw-frame broadcasting on the running listener.
func (a *Actor) SetListenRaw(on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.opts.ListenRaw = on
}

// SetListenGct toggles GCT decoding on the running listener.
func (a *Actor) SetListenGct(on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.opts.ListenGct = on
}

// SetLoopback toggles re-injection of sent frames into the listener.
func (a *Actor) SetLoopback(on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.opts.Loopback = on
}

func (a *Actor) options() Options {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.opts
}

// Send transmits fr on the wire; when loopback is enabled the frame is
// also re-injected to the listener before hitting the wire.
func (a *Actor) Send(fr can.Frame) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	w, err := cankit.ToWire(fr)
	if err != nil {
		return ioerrs.Argument("can_send", err)
	}
	if a.opts.Loopback {
		select {
		case a.injected <- fr:
		default:
		}
	}
	if err := a.bus.Send(w); err != nil {
		return ioerrs.Transport("can_send", ioerrs.IOOther, err)
	}
	return nil
}

// listen continuously receives frames from the mux subscription and fans
// out decoded notifications. The subscription channel closing (bus closed
// or receive failure) broadcasts Stopped and terminates the listener;
// protocol (decode) errors are logged and the loop continues.
func (a *Actor) listen(rx <-chan canbus.Frame, cancelSub func()) {
	defer close(a.done)
	defer cancelSub()

	for {
		var fr can.Frame
		select {
		case <-a.ctx.Done():
			return
		case fr = <-a.injected:
		case w, ok := <-rx:
			if !ok {
				if a.ctx.Err() != nil {
					return
				}
				a.hub.Broadcast(Notification{Source: a.source, Stopped: true, Err: canbus.ErrClosed})
				return
			}
			fr = cankit.FromWire(w)
		}

		opts := a.options()
		if opts.ListenRaw {
			frCopy := fr
			a.hub.Broadcast(Notification{Source: a.source, Raw: &frCopy})
		}
		if opts.ListenGct {
			a.feedGct(fr)
		}
	}
}

func (a *Actor) feedGct(fr can.Frame) {
	if fr.Extended() {
		if msg, err := gct.DecodeSingle(fr); err == nil {
			a.hub.Broadcast(Notification{Source: a.source, Gct: msg})
			return
		}
	}
	// Either not a single-frame message or it's a DDP chunk; try
	// reassembly. Errors here are protocol-level and simply drop the
	// frame (logged, not fatal to the listener).
	msg, err := a.decoder.Feed(fr)
	if err != nil {
		a.logger.Debug("gct_decode_error", "error", err)
		return
	}
	if msg != nil {
		a.hub.Broadcast(Notification{Source: a.source, Gct: msg})
	}
}

// Stop closes the bus (unblocking the mux's Receive pump), signals the
// listener and waits for it; the blocking wait provides the ack-channel
// semantics of an explicit stop control message.
func (a *Actor) Stop() {
	a.cancel()
	_ = a.bus.Close()
	select {
	case <-a.done:
	case <-time.After(5 * time.Second):
	}
}
