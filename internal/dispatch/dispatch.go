// Package dispatch implements the stateless per-request dispatcher: parse
// the tagged request variant, resolve the instrument address to an actor
// (creating one if absent), check the lock, forward the engine-level
// request, and return a response.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/notnil/canbus"

	"github.com/nereid-labs/instrumentd/internal/actor"
	"github.com/nereid-labs/instrumentd/internal/addr"
	"github.com/nereid-labs/instrumentd/internal/byteengine"
	"github.com/nereid-labs/instrumentd/internal/canactor"
	"github.com/nereid-labs/instrumentd/internal/cobsstream"
	"github.com/nereid-labs/instrumentd/internal/dialer"
	"github.com/nereid-labs/instrumentd/internal/inventory"
	"github.com/nereid-labs/instrumentd/internal/ioerrs"
	"github.com/nereid-labs/instrumentd/internal/lockarb"
	"github.com/nereid-labs/instrumentd/internal/metrics"
	"github.com/nereid-labs/instrumentd/internal/notify"
	"github.com/nereid-labs/instrumentd/internal/wire"
)

// Actor-kind labels for the metrics gauges.
const (
	actorKindByte = "byte_stream"
	actorKindCan  = "can"
	actorKindCobs = "cobs_stream"
)

// observe counts one dispatched request of the given kind, tagging the
// error taxonomy kind on failure.
func observe(kind string, err error) {
	metrics.IncRequest(kind)
	if err != nil {
		metrics.IncRequestError(kind, ioerrs.KindOf(err).String())
	}
}

// byteActor is the concrete Actor instantiation backing every
// serial/ftdi/tcp instrument.
type byteActor = actor.Actor[dialer.Handle, byteengine.Request, addr.Instrument, byteengine.Response]

// byteEntry adapts a byteActor to inventory.Entry.
type byteEntry struct {
	a *byteActor
}

func (e *byteEntry) Stop() {
	e.a.Stop()
	metrics.DecActors(actorKindByte)
}

// canEntry adapts a canactor.Actor to inventory.Entry.
type canEntry struct {
	a *canactor.Actor
}

func (e *canEntry) Stop() {
	e.a.Stop()
	metrics.DecActors(actorKindCan)
}

// cobsEntry adapts a cobsstream.Actor to inventory.Entry, deferring the
// handle open (and the actor construction itself) until Start is called
// from a request, since inventory.Factory must create entries without
// doing any I/O.
type cobsEntry struct {
	mu     sync.Mutex
	d      *Dispatcher
	handle dialer.Handle
	a      *cobsstream.Actor
}

func (e *cobsEntry) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
	metrics.DecActors(actorKindCobs)
}

func (e *cobsEntry) stopLocked() {
	// Close the handle first: the decode loop may be parked in a blocking
	// Read, and Cancel waits for it to exit.
	if e.handle != nil {
		_ = e.handle.Close()
		e.handle = nil
	}
	if e.a != nil {
		e.a.Cancel()
		e.a = nil
	}
}

// Start splits inst's handle into the COBS decode/encode loops, one
// goroutine per direction instead of request/response. A Start on an
// already-running stream is a no-op: the client may re-send Start
// idempotently.
func (e *cobsEntry) Start(ctx context.Context, inst addr.Instrument) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.a != nil {
		return nil
	}
	h, err := (dialer.Opener{}).Open(ctx, nil, false, inst)
	if err != nil {
		return err
	}
	e.handle = h
	e.a = cobsstream.New(e.d.ctx, h, e.d.cobsHub, e.d.logger)
	return nil
}

func (e *cobsEntry) Send(payload []byte) error {
	e.mu.Lock()
	a := e.a
	e.mu.Unlock()
	if a == nil {
		return ioerrs.Argument("cobs_stream_send", errCobsStreamNotStarted)
	}
	if !a.SendFrame(payload) {
		return ioerrs.Transport("cobs_stream_send", ioerrs.IOOther, errCobsStreamQueueFull)
	}
	return nil
}

var (
	errCobsStreamNotStarted = errors.New("cobs stream not started: send a Start request first")
	errCobsStreamQueueFull  = errors.New("cobs stream send queue full")
)

// CanBusFactory builds the concrete canbus.Bus for a CAN address (PCan,
// SocketCAN, or loopback); supplied by the caller since driver
// construction is platform-specific (see internal/cankit.Factory).
type CanBusFactory func(addr.Address) (canbus.Bus, error)

// Dispatcher is the stateless per-request router. It owns the instrument
// inventory, the lock arbitrator, and the CAN notification hub.
type Dispatcher struct {
	ctx context.Context

	byteInv *inventory.Inventory
	canInv  *inventory.Inventory
	cobsInv *inventory.Inventory

	locks *lockarb.Arbitrator

	canHub  *notify.Hub[canactor.Notification]
	cobsHub *notify.Hub[cobsstream.Notification]

	canBuses CanBusFactory

	dropDelay time.Duration
	logger    *slog.Logger

	shutdown *shutdownState
}

// New builds a Dispatcher. dropDelay is the default actor idle grace
// period; canBuses constructs the concrete CAN driver for an address.
func New(ctx context.Context, dropDelay time.Duration, canBuses CanBusFactory, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		ctx:       ctx,
		locks:     lockarb.New(),
		canHub:    notify.NewHub[canactor.Notification](),
		cobsHub:   notify.NewHub[cobsstream.Notification](),
		canBuses:  canBuses,
		dropDelay: dropDelay,
		logger:    logger,
		shutdown:  newShutdownState(),
	}
	d.byteInv = inventory.New(d.newByteEntry)
	d.canInv = inventory.New(d.newCanEntry)
	d.cobsInv = inventory.New(d.newCobsEntry)
	return d
}

func (d *Dispatcher) newCobsEntry(address addr.Address) inventory.Entry {
	metrics.IncActors(actorKindCobs)
	return &cobsEntry{d: d}
}

func (d *Dispatcher) newByteEntry(address addr.Address) inventory.Entry {
	cfg := actor.Config{DropDelay: d.dropDelay, Logger: d.logger}
	run := func(ctx context.Context, h dialer.Handle, req byteengine.Request) (byteengine.Response, error) {
		return byteengine.Execute(ctx, h, req)
	}
	a := actor.New[dialer.Handle, byteengine.Request, addr.Instrument, byteengine.Response](d.ctx, cfg, dialer.Opener{}, run)
	metrics.IncActors(actorKindByte)
	return &byteEntry{a: a}
}

func (d *Dispatcher) newCanEntry(address addr.Address) inventory.Entry {
	bus, err := d.canBuses(address)
	if err != nil {
		// A failed bus construction is surfaced on first request via a
		// degenerate bus whose listener immediately reports Stopped.
		bus = failingBus{err: err}
	}
	// Raw listening and loopback start disabled; clients opt in per
	// address with the ListenRaw/EnableLoopback request toggles. GCT
	// decoding defaults on so monitoring traffic is visible without an
	// extra round-trip.
	opts := canactor.Options{ListenGct: true}
	a := canactor.New(d.ctx, address, bus, opts, d.canHub, d.logger)
	metrics.IncActors(actorKindCan)
	return &canEntry{a: a}
}

// failingBus surfaces a construction-time error (e.g. the CAN interface
// doesn't exist) as an immediate Stopped notification rather than
// panicking or silently dropping requests.
type failingBus struct{ err error }

func (f failingBus) Send(canbus.Frame) error { return f.err }
func (f failingBus) Receive() (canbus.Frame, error) {
	return canbus.Frame{}, f.err
}
func (f failingBus) Close() error { return nil }

// HandleByteStream routes a ByteStream request to its actor, honoring an
// optional lock.
func (d *Dispatcher) HandleByteStream(ctx context.Context, req wire.ByteStreamRequest) (byteengine.Response, error) {
	resp, err := d.byteStream(ctx, req)
	observe(actorKindByte, err)
	return resp, err
}

// byteStream is the shared lock-check/route/submit path behind
// HandleByteStream, HandleScpi, HandleConnect, and HandleHid.
func (d *Dispatcher) byteStream(ctx context.Context, req wire.ByteStreamRequest) (byteengine.Response, error) {
	if err := d.checkLock(req.Instrument.Address, req.Lock); err != nil {
		return byteengine.Response{}, err
	}
	// Switching back from COBS-stream mode closes and reopens the handle.
	d.cobsInv.Drop(req.Instrument.Address)
	entry := d.byteInv.GetOrCreate(req.Instrument.Address).(*byteEntry)
	if req.Request.Op == byteengine.OpDisconnect {
		return byteengine.Response{}, entry.a.Disconnect(ctx)
	}
	return entry.a.Submit(ctx, req.Request, req.Instrument)
}

// HandlePrologix routes a Prologix request to the serial actor fronting
// its address. Prologix is layered on the same byte-stream actor as any
// other serial instrument; the init tracker lives on the open handle
// itself (dialer.SerialHandle) so it persists for the handle's lifetime
// and resets whenever the port is reopened.
func (d *Dispatcher) HandlePrologix(ctx context.Context, req wire.PrologixRequest) (string, error) {
	line, err := d.prologix(ctx, req)
	observe("prologix", err)
	return line, err
}

func (d *Dispatcher) prologix(ctx context.Context, req wire.PrologixRequest) (string, error) {
	// Prologix requests carry no lock id, so a locked address rejects them.
	if err := d.checkLock(req.Instrument, nil); err != nil {
		return "", err
	}
	entry := d.byteInv.GetOrCreate(req.Instrument).(*byteEntry)
	inst := addr.Instrument{Address: req.Instrument}
	engineReq := req.Request
	if req.Instrument.Kind == addr.KindPrologix {
		// The GPIB address lives in the instrument address; the engine
		// request only carries it so the handler can emit "++addr N".
		engineReq.GpibAddress = req.Instrument.GpibAddress
	}
	resp, err := entry.a.Submit(ctx, byteengine.Request{Op: byteengine.OpPrologix, PrologixReq: engineReq}, inst)
	if err != nil {
		return "", err
	}
	return resp.Line, nil
}

// HandleCan routes a CAN request to its actor.
func (d *Dispatcher) HandleCan(ctx context.Context, req wire.CanRequest) error {
	err := d.can(ctx, req)
	observe(actorKindCan, err)
	return err
}

func (d *Dispatcher) can(ctx context.Context, req wire.CanRequest) error {
	if err := d.checkLock(req.Instrument, req.Lock); err != nil {
		return err
	}
	entry := d.canInv.GetOrCreate(req.Instrument).(*canEntry)
	if req.Request.ListenRaw != nil {
		entry.a.SetListenRaw(*req.Request.ListenRaw)
	}
	if req.Request.ListenGct != nil {
		entry.a.SetListenGct(*req.Request.ListenGct)
	}
	if req.Request.EnableLoopback != nil {
		entry.a.SetLoopback(*req.Request.EnableLoopback)
	}
	if req.Request.Send != nil {
		return entry.a.Send(*req.Request.Send)
	}
	if req.Request.StopListen {
		d.canInv.Drop(req.Instrument)
	}
	return nil
}

// HandleCobsStream routes a CobsStream request to its actor: Start
// switches the instrument into streaming mode (closing any byte-stream
// handle first), Stop tears the stream down, and anything else enqueues
// a frame on the running stream.
func (d *Dispatcher) HandleCobsStream(ctx context.Context, req wire.CobsStreamRequest) error {
	err := d.cobsStream(ctx, req)
	observe(actorKindCobs, err)
	return err
}

func (d *Dispatcher) cobsStream(ctx context.Context, req wire.CobsStreamRequest) error {
	if err := d.checkLock(req.Instrument.Address, req.Lock); err != nil {
		return err
	}
	switch {
	case req.Request.Start:
		d.byteInv.Drop(req.Instrument.Address)
		entry := d.cobsInv.GetOrCreate(req.Instrument.Address).(*cobsEntry)
		return entry.Start(ctx, req.Instrument)
	case req.Request.Stop:
		d.cobsInv.Drop(req.Instrument.Address)
		return nil
	default:
		entry := d.cobsInv.GetOrCreate(req.Instrument.Address).(*cobsEntry)
		return entry.Send(req.Request.SendFrame)
	}
}

// Subscribe returns a new CAN notification subscriber.
func (d *Dispatcher) Subscribe() *notify.Subscriber[canactor.Notification] {
	return d.canHub.Subscribe(notify.DropNewest, notify.DefaultCapacity)
}

// SubscribeCobs returns a new COBS-stream notification subscriber. A slow
// subscriber is disconnected rather than dropped-from, since a gap in a
// COBS byte stream would desync the client's framing.
func (d *Dispatcher) SubscribeCobs() *notify.Subscriber[cobsstream.Notification] {
	return d.cobsHub.Subscribe(notify.Disconnect, notify.DefaultCapacity)
}

func (d *Dispatcher) checkLock(address addr.Address, id *lockarb.ID) error {
	var heldID lockarb.ID
	if id != nil {
		heldID = *id
	}
	if err := d.locks.Check(address, heldID); err != nil {
		return ioerrs.Argument("lock_check", err)
	}
	return nil
}

// Lock requests exclusive access to address.
func (d *Dispatcher) Lock(ctx context.Context, address addr.Address, timeout time.Duration) (lockarb.ID, error) {
	id, err := d.locks.Lock(ctx, address, timeout)
	observe("lock", err)
	return id, err
}

// Unlock releases a held lock.
func (d *Dispatcher) Unlock(address addr.Address, id lockarb.ID) error {
	err := d.locks.Unlock(address, id)
	observe("unlock", err)
	return err
}

// ReleaseLocks releases every lock a disconnecting client session still
// holds. The frontend tracks the lock ids it issued per connection and
// hands them back here when the connection goes away.
func (d *Dispatcher) ReleaseLocks(owned map[addr.Address]lockarb.ID) {
	d.locks.ReleaseAllOwnedBy(owned)
}

// DropAll tears down every actor in every inventory.
func (d *Dispatcher) DropAll() {
	d.byteInv.DropAll()
	d.canInv.DropAll()
	d.cobsInv.DropAll()
}

// ListConnectedInstruments returns every address with a live actor.
func (d *Dispatcher) ListConnectedInstruments() []addr.Address {
	out := d.byteInv.List()
	out = append(out, d.canInv.List()...)
	return append(out, d.cobsInv.List()...)
}
