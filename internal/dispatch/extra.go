package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/nereid-labs/instrumentd/internal/addr"
	"github.com/nereid-labs/instrumentd/internal/byteengine"
	"github.com/nereid-labs/instrumentd/internal/ioerrs"
	"github.com/nereid-labs/instrumentd/internal/wire"
)

// HandleConnect eagerly opens (or reuses) the actor fronting an
// instrument. The engine treats Connect as a no-op; the effect is
// entirely in forcing the actor's open-or-reuse step to run now instead
// of on the first real request.
func (d *Dispatcher) HandleConnect(ctx context.Context, req wire.ConnectRequest) error {
	if req.Timeout != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout.AsGo())
		defer cancel()
	}
	_, err := d.byteStream(ctx, wire.ByteStreamRequest{
		Instrument: req.Instrument,
		Request:    byteengine.Request{Op: byteengine.OpConnect},
	})
	observe("connect", err)
	return err
}

// HandleScpi routes an SCPI request through the same byte-stream engine
// as any other instrument. Scpi requests carry no lock field, unlike
// ByteStream.
func (d *Dispatcher) HandleScpi(ctx context.Context, req wire.ScpiRequest) (byteengine.Response, error) {
	resp, err := d.byteStream(ctx, wire.ByteStreamRequest{
		Instrument: req.Instrument,
		Request:    req.Request,
	})
	observe("scpi", err)
	return resp, err
}

// HandleHid routes a HID request through the same actor/inventory path
// as every other instrument-bound kind: the address gets an inventory
// entry, the request flows through the actor's mailbox, and the open
// fails with a Transport error in internal/dialer since no HID driver
// library is wired into this build (same treatment as VXI-11 and VISA).
func (d *Dispatcher) HandleHid(ctx context.Context, req wire.HidRequest) ([]byte, error) {
	data, err := d.hid(ctx, req)
	observe("hid", err)
	return data, err
}

func (d *Dispatcher) hid(ctx context.Context, req wire.HidRequest) ([]byte, error) {
	engineReq, err := hidEngineRequest(req.Request)
	if err != nil {
		return nil, err
	}
	resp, err := d.byteStream(ctx, wire.ByteStreamRequest{
		Instrument: addr.Instrument{Address: req.Instrument},
		Request:    engineReq,
		Lock:       req.Lock,
	})
	if err != nil {
		return nil, err
	}
	return resp.Bytes, nil
}

// hidEngineRequest maps a HID write/read onto the byte-stream engine ops
// the actor already speaks.
func hidEngineRequest(op wire.HidOp) (byteengine.Request, error) {
	switch {
	case op.Write != nil:
		return byteengine.Request{Op: byteengine.OpWrite, Write: op.Write}, nil
	case op.Read != nil:
		return byteengine.Request{
			Op:      byteengine.OpReadExact,
			Count:   op.Read.Count,
			Timeout: op.Read.Timeout.AsGo(),
		}, nil
	default:
		return byteengine.Request{}, ioerrs.Argument("hid", errEmptyHidOp)
	}
}

var errEmptyHidOp = errors.New("hid request carries neither a write nor a read")

// HandleSigrok serves Sigrok{instrument, request}. A scan request
// delegates to ListSigrokDevices (also unavailable in this build); any
// other Sigrok request fails the same way, since driving the external
// `sigrok-cli` subprocess is not part of this build.
func (d *Dispatcher) HandleSigrok(ctx context.Context, req wire.SigrokRequest) (wire.SigrokResponse, error) {
	if req.Request.Scan {
		devices, err := d.ListSigrokDevices()
		if err != nil {
			return wire.SigrokResponse{}, err
		}
		return wire.SigrokResponse{Devices: devices}, nil
	}
	err := ioerrs.Transport("sigrok", ioerrs.IOOther, driverUnavailableErr{driver: "sigrok"})
	observe("sigrok", err)
	return wire.SigrokResponse{}, err
}

// Shutdown closes every actor and signals Done exactly once; the daemon's
// main selects on Done() beside its OS-signal case and then cancels the
// context the frontend server runs under, which stops its listeners.
type shutdownState struct {
	once sync.Once
	done chan struct{}
}

func newShutdownState() *shutdownState {
	return &shutdownState{done: make(chan struct{})}
}

// Done returns a channel closed once Shutdown has run.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.shutdown.done
}

// Shutdown tears down all actors and signals Done. Safe to call more than
// once; only the first call has effect.
func (d *Dispatcher) Shutdown() {
	d.shutdown.once.Do(func() {
		d.DropAll()
		close(d.shutdown.done)
	})
}

// versionInfo is set once at process start by cmd/instrumentd via
// SetVersion; the dispatcher has no build-time knowledge of its own
// version otherwise.
var versionMu sync.Mutex
var versionInfo wire.VersionResponse

// SetVersion records the build version surfaced by a Version request.
func SetVersion(major, minor, build uint32) {
	versionMu.Lock()
	defer versionMu.Unlock()
	versionInfo = wire.VersionResponse{Major: major, Minor: minor, Build: build}
}

// Version returns the build version recorded via SetVersion.
func (d *Dispatcher) Version() wire.VersionResponse {
	versionMu.Lock()
	defer versionMu.Unlock()
	return versionInfo
}
