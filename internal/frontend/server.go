// Package frontend is the WebSocket/HTTP boundary: it decodes a JSON
// envelope, resolves it to a dispatch.Dispatcher call, and encodes the
// result back. One connection may issue many requests (WebSocket) or
// exactly one (HTTP POST).
package frontend

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/nereid-labs/instrumentd/internal/addr"
	"github.com/nereid-labs/instrumentd/internal/byteengine"
	"github.com/nereid-labs/instrumentd/internal/can"
	"github.com/nereid-labs/instrumentd/internal/canactor"
	"github.com/nereid-labs/instrumentd/internal/cobsstream"
	"github.com/nereid-labs/instrumentd/internal/dispatch"
	"github.com/nereid-labs/instrumentd/internal/ioerrs"
	"github.com/nereid-labs/instrumentd/internal/lockarb"
	"github.com/nereid-labs/instrumentd/internal/metrics"
	"github.com/nereid-labs/instrumentd/internal/modbus"
	"github.com/nereid-labs/instrumentd/internal/prologix"
	"github.com/nereid-labs/instrumentd/internal/wire"
)

// Envelope is the JSON request shape clients send. It flattens wire.go's
// Go-level tagged union into one object tagged by Op, since a ModBus
// FunctionCode or a Prologix payload doesn't need a distinct envelope per
// instrument kind on the wire.
type Envelope struct {
	Op string `json:"op"`

	// ByteOp selects the byteengine.Op when Op=="byte_stream"; the outer Op
	// is consumed by dispatchOne's routing switch, so the inner
	// write/read_exact/query_line/... operation needs its own field.
	ByteOp string `json:"byte_op,omitempty"`

	Instrument *addr.Instrument `json:"instrument,omitempty"`
	Address    *addr.Address    `json:"address,omitempty"`
	Lock       *lockarb.ID      `json:"lock,omitempty"`

	TimeoutMs uint32 `json:"timeout_ms,omitempty"`

	Line string `json:"line,omitempty"`
	Term *byte  `json:"term,omitempty"`
	Count int   `json:"count,omitempty"`
	Write []byte `json:"write,omitempty"`

	CobsData []byte `json:"cobs_data,omitempty"`

	ModBus *jsonModBusRequest `json:"modbus,omitempty"`

	Prologix *prologix.Request `json:"prologix,omitempty"`

	Can        *jsonCanOp         `json:"can,omitempty"`
	CobsStream *jsonCobsStreamOp `json:"cobs_stream,omitempty"`

	HidWrite []byte `json:"hid_write,omitempty"`
	HidRead  *struct {
		Count     int `json:"count"`
		TimeoutMs uint32 `json:"timeout_ms"`
	} `json:"hid_read,omitempty"`

	SigrokScan bool `json:"sigrok_scan,omitempty"`

	ConnectTimeoutMs *uint32 `json:"connect_timeout_ms,omitempty"`
}

type jsonModBusRequest struct {
	Station  byte            `json:"station"`
	Protocol string          `json:"protocol"`
	FC       json.RawMessage `json:"fc"`
	TimeoutMs uint32         `json:"timeout_ms"`
}

type jsonCanOp struct {
	Send           *can.Frame `json:"send,omitempty"`
	ListenRaw      *bool      `json:"listen_raw,omitempty"`
	ListenGct      *bool      `json:"listen_gct,omitempty"`
	EnableLoopback *bool      `json:"enable_loopback,omitempty"`
	StopListen     bool       `json:"stop_listen,omitempty"`
}

type jsonCobsStreamOp struct {
	Start     bool   `json:"start,omitempty"`
	Stop      bool   `json:"stop,omitempty"`
	SendFrame []byte `json:"send_frame,omitempty"`
}

// Result is the JSON response shape.
type Result struct {
	Error *wire.ErrorResponse `json:"error,omitempty"`

	Bytes []byte `json:"bytes,omitempty"`
	Line  string `json:"line,omitempty"`
	Regs  []uint16 `json:"regs,omitempty"`
	Bits  []bool   `json:"bits,omitempty"`

	LockID *lockarb.ID `json:"lock_id,omitempty"`

	Instruments []addr.Address `json:"instruments,omitempty"`

	SerialPorts   []string `json:"serial_ports,omitempty"`
	FtdiDevices   []string `json:"ftdi_devices,omitempty"`
	CanDevices    []string `json:"can_devices,omitempty"`
	HidDevices    []string `json:"hid_devices,omitempty"`
	SigrokDevices []string `json:"sigrok_devices,omitempty"`

	Hid []byte `json:"hid,omitempty"`

	Version *wire.VersionResponse `json:"version,omitempty"`

	Done bool `json:"done,omitempty"`
}

// Options configures the frontend: request/response ports, the
// broadcast-requests flag, and the drop delay. Logging verbosity is not an
// option here; it is set on the logger passed to New.
type Options struct {
	ListenAddr     string // websocket, default ":5902"
	HTTPAddr       string // HTTP POST, default ":5903"
	BroadcastReqs  bool
	DropDelay      time.Duration
}

// Server owns the two listeners and the shared Dispatcher.
type Server struct {
	opts   Options
	disp   *dispatch.Dispatcher
	logger *slog.Logger
}

func New(opts Options, disp *dispatch.Dispatcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{opts: opts, disp: disp, logger: logger}
}

// Serve runs both listeners until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHTTP)
	httpSrv := &http.Server{Addr: s.opts.HTTPAddr, Handler: mux}

	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/", s.handleWS)
	wsSrv := &http.Server{Addr: s.opts.ListenAddr, Handler: wsMux}

	errCh := make(chan error, 2)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	go func() { errCh <- wsSrv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		_ = httpSrv.Shutdown(context.Background())
		_ = wsSrv.Shutdown(context.Background())
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHTTP(w http.ResponseWriter, r *http.Request) {
	var env Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		metrics.IncMalformed()
		writeJSONError(w, err)
		return
	}
	result := s.dispatchOne(r.Context(), env)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer c.CloseNow()

	ctx := r.Context()

	// coder/websocket allows one concurrent reader and one concurrent
	// writer; the request loop below and the two notification forwarders
	// all write, so every write goes through writeMu.
	var writeMu sync.Mutex
	writeLocked := func(data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return c.Write(ctx, websocket.MessageText, data)
	}

	if s.disp != nil {
		sub := s.disp.Subscribe()
		defer sub.Close()
		go s.forwardNotifications(ctx, writeLocked, sub)

		cobsSub := s.disp.SubscribeCobs()
		defer cobsSub.Close()
		go s.forwardCobsNotifications(ctx, writeLocked, cobsSub)
	}

	// Locks granted over this connection are released if the client goes
	// away without unlocking.
	owned := make(map[addr.Address]lockarb.ID)
	defer func() {
		if s.disp != nil && len(owned) > 0 {
			s.disp.ReleaseLocks(owned)
		}
	}()

	for {
		var env Envelope
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		if err := json.Unmarshal(data, &env); err != nil {
			metrics.IncMalformed()
			s.logger.Debug("frontend_decode_error", "error", err)
			continue
		}
		result := s.dispatchOne(ctx, env)
		switch {
		case env.Op == "lock" && result.LockID != nil:
			owned[derefAddr(env.Address)] = *result.LockID
		case env.Op == "unlock" && result.Error == nil:
			delete(owned, derefAddr(env.Address))
		}
		out, _ := json.Marshal(result)
		if err := writeLocked(out); err != nil {
			return
		}
	}
}

func (s *Server) forwardNotifications(ctx context.Context, write func([]byte) error, sub canNotifySubscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-sub.C():
			if !ok {
				return
			}
			note := wire.Notification{}
			if n.Stopped {
				note.Error = wire.NewErrorResponse(n.Err)
			}
			if n.Raw != nil || n.Gct != nil {
				note.Can = &wire.CanResponse{Source: n.Source, Raw: n.Raw, Gct: n.Gct, Stopped: n.Stopped}
			}
			out, _ := json.Marshal(note)
			if err := write(out); err != nil {
				return
			}
		}
	}
}

// forwardCobsNotifications relays decoded COBS-stream frames (and
// instrument-dropped events) to this connection's client as
// CobsStream{MessageReceived|InstrumentDropped} notifications.
func (s *Server) forwardCobsNotifications(ctx context.Context, write func([]byte) error, sub cobsNotifySubscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-sub.C():
			if !ok {
				return
			}
			note := wire.Notification{CobsFrame: n.Frame, CobsDrop: n.Dropped}
			out, _ := json.Marshal(note)
			if err := write(out); err != nil {
				return
			}
		}
	}
}

// canNotifySubscriber is the narrow view of notify.Subscriber this package
// needs, letting it avoid importing the generic instantiation directly in
// the exported API.
type canNotifySubscriber = interface {
	C() <-chan canactor.Notification
	Close()
}

// cobsNotifySubscriber is the narrow view of notify.Subscriber this
// package needs for COBS-stream forwarding.
type cobsNotifySubscriber = interface {
	C() <-chan cobsstream.Notification
	Close()
}

func writeJSONError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(Result{Error: wire.NewErrorResponse(err)})
}

func errResult(err error) Result { return Result{Error: wire.NewErrorResponse(err)} }

// dispatchOne resolves one decoded Envelope against the Dispatcher.
func (s *Server) dispatchOne(ctx context.Context, env Envelope) Result {
	if s.opts.BroadcastReqs {
		s.logger.Info("frontend_request", "op", env.Op)
	}
	switch env.Op {
	case "byte_stream":
		return s.doByteStream(ctx, env)
	case "prologix":
		if env.Prologix == nil {
			return errResult(ioerrs.Argument("frontend", errMissingBody))
		}
		line, err := s.disp.HandlePrologix(ctx, wire.PrologixRequest{
			Instrument: derefAddr(env.Address),
			Request:    *env.Prologix,
		})
		if err != nil {
			return errResult(err)
		}
		return Result{Line: line}
	case "can":
		return s.doCan(ctx, env)
	case "cobs_stream":
		return s.doCobsStream(ctx, env)
	case "lock":
		id, err := s.disp.Lock(ctx, derefAddr(env.Address), time.Duration(env.TimeoutMs)*time.Millisecond)
		if err != nil {
			return errResult(err)
		}
		return Result{LockID: &id}
	case "unlock":
		if env.Lock == nil {
			return errResult(ioerrs.Argument("frontend", errMissingLockID))
		}
		if err := s.disp.Unlock(derefAddr(env.Address), *env.Lock); err != nil {
			return errResult(err)
		}
		return Result{Done: true}
	case "list_connected_instruments":
		return Result{Instruments: s.disp.ListConnectedInstruments()}
	case "drop_all":
		s.disp.DropAll()
		return Result{Done: true}
	case "scpi":
		if env.Instrument == nil {
			return errResult(ioerrs.Argument("frontend", errMissingInstrument))
		}
		req, err := env.toByteEngineRequest()
		if err != nil {
			return errResult(err)
		}
		resp, err := s.disp.HandleScpi(ctx, wire.ScpiRequest{
			Instrument: *env.Instrument,
			Request:    req,
		})
		if err != nil {
			return errResult(err)
		}
		return Result{Bytes: resp.Bytes, Line: resp.Line, Regs: resp.Regs, Bits: resp.Bits}
	case "hid":
		return s.doHid(ctx, env)
	case "sigrok":
		devices, err := s.disp.HandleSigrok(ctx, wire.SigrokRequest{
			Instrument: derefAddr(env.Address),
			Request:    wire.SigrokOp{Scan: env.SigrokScan},
		})
		if err != nil {
			return errResult(err)
		}
		return Result{SigrokDevices: devices.Devices}
	case "connect":
		if env.Instrument == nil {
			return errResult(ioerrs.Argument("frontend", errMissingInstrument))
		}
		timeout := (*wire.Duration)(nil)
		if env.ConnectTimeoutMs != nil {
			d := wire.FromGo(time.Duration(*env.ConnectTimeoutMs) * time.Millisecond)
			timeout = &d
		}
		if err := s.disp.HandleConnect(ctx, wire.ConnectRequest{Instrument: *env.Instrument, Timeout: timeout}); err != nil {
			return errResult(err)
		}
		return Result{Done: true}
	case "version":
		v := s.disp.Version()
		return Result{Version: &v}
	case "shutdown":
		s.disp.Shutdown()
		return Result{Done: true}
	case "list_serial_ports":
		return Result{SerialPorts: s.disp.ListSerialPorts()}
	case "list_can_devices":
		return Result{CanDevices: s.disp.ListCanDevices()}
	case "list_ftdi_devices":
		devices, err := s.disp.ListFtdiDevices()
		if err != nil {
			return errResult(err)
		}
		return Result{FtdiDevices: devices}
	case "list_hid_devices":
		devices, err := s.disp.ListHidDevices()
		if err != nil {
			return errResult(err)
		}
		return Result{HidDevices: devices}
	case "list_sigrok_devices":
		devices, err := s.disp.ListSigrokDevices()
		if err != nil {
			return errResult(err)
		}
		return Result{SigrokDevices: devices}
	default:
		return errResult(ioerrs.Argument("frontend", unknownOpError{op: env.Op}))
	}
}

func (s *Server) doHid(ctx context.Context, env Envelope) Result {
	op := wire.HidOp{Write: env.HidWrite}
	if env.HidRead != nil {
		op.Read = &struct {
			Count   int
			Timeout wire.Duration
		}{Count: env.HidRead.Count, Timeout: wire.FromGo(time.Duration(env.HidRead.TimeoutMs) * time.Millisecond)}
	}
	data, err := s.disp.HandleHid(ctx, wire.HidRequest{
		Instrument: derefAddr(env.Address),
		Request:    op,
		Lock:       env.Lock,
	})
	if err != nil {
		return errResult(err)
	}
	return Result{Hid: data}
}

func (s *Server) doByteStream(ctx context.Context, env Envelope) Result {
	if env.Instrument == nil {
		return errResult(ioerrs.Argument("frontend", errMissingInstrument))
	}
	req, err := env.toByteEngineRequest()
	if err != nil {
		return errResult(err)
	}
	resp, err := s.disp.HandleByteStream(ctx, wire.ByteStreamRequest{
		Instrument: *env.Instrument,
		Request:    req,
		Lock:       env.Lock,
	})
	if err != nil {
		return errResult(err)
	}
	return Result{Bytes: resp.Bytes, Line: resp.Line, Regs: resp.Regs, Bits: resp.Bits}
}

func (s *Server) doCan(ctx context.Context, env Envelope) Result {
	op := wire.CanOp{}
	if env.Can != nil {
		op.Send = env.Can.Send
		op.ListenRaw = env.Can.ListenRaw
		op.ListenGct = env.Can.ListenGct
		op.EnableLoopback = env.Can.EnableLoopback
		op.StopListen = env.Can.StopListen
	}
	if err := s.disp.HandleCan(ctx, wire.CanRequest{
		Instrument: derefAddr(env.Address),
		Request:    op,
		Lock:       env.Lock,
	}); err != nil {
		return errResult(err)
	}
	return Result{Done: true}
}

func (s *Server) doCobsStream(ctx context.Context, env Envelope) Result {
	if env.Instrument == nil {
		return errResult(ioerrs.Argument("frontend", errMissingInstrument))
	}
	op := wire.CobsStreamOp{}
	if env.CobsStream != nil {
		op.Start = env.CobsStream.Start
		op.Stop = env.CobsStream.Stop
		op.SendFrame = env.CobsStream.SendFrame
	}
	if err := s.disp.HandleCobsStream(ctx, wire.CobsStreamRequest{
		Instrument: *env.Instrument,
		Request:    op,
		Lock:       env.Lock,
	}); err != nil {
		return errResult(err)
	}
	return Result{Done: true}
}

func (e *Envelope) toByteEngineRequest() (byteengine.Request, error) {
	req := byteengine.Request{
		Count:    e.Count,
		Timeout:  time.Duration(e.TimeoutMs) * time.Millisecond,
		Line:     e.Line,
		Write:    e.Write,
		CobsData: e.CobsData,
	}
	if e.Term != nil {
		req.Term = *e.Term
	} else {
		req.Term = '\n'
	}
	switch {
	case e.ModBus != nil:
		req.Op = byteengine.OpModBus
		mreq, err := e.ModBus.toModBusRequest()
		if err != nil {
			return byteengine.Request{}, err
		}
		req.ModBusReq = mreq
	default:
		op, ok := opFromString(e.ByteOp)
		if !ok {
			return byteengine.Request{}, ioerrs.Argument("frontend", unknownOpError{op: e.ByteOp})
		}
		req.Op = op
	}
	return req, nil
}

func (m *jsonModBusRequest) toModBusRequest() (modbus.Request, error) {
	fc, err := decodeFunctionCode(m.FC)
	if err != nil {
		return modbus.Request{}, err
	}
	proto := modbus.RTU
	if m.Protocol == "tcp" {
		proto = modbus.TCP
	}
	return modbus.Request{
		Station:  m.Station,
		Protocol: proto,
		FC:       fc,
		Timeout:  time.Duration(m.TimeoutMs) * time.Millisecond,
	}, nil
}

func derefAddr(a *addr.Address) addr.Address {
	if a == nil {
		return addr.Address{}
	}
	return *a
}

func opFromString(s string) (byteengine.Op, bool) {
	switch s {
	case "write":
		return byteengine.OpWrite, true
	case "read_exact":
		return byteengine.OpReadExact, true
	case "read_all":
		return byteengine.OpReadAll, true
	case "read_to_term":
		return byteengine.OpReadToTerm, true
	case "write_line":
		return byteengine.OpWriteLine, true
	case "read_line":
		return byteengine.OpReadLine, true
	case "query_line":
		return byteengine.OpQueryLine, true
	case "cobs_write":
		return byteengine.OpCobsWrite, true
	case "cobs_read":
		return byteengine.OpCobsRead, true
	case "cobs_query":
		return byteengine.OpCobsQuery, true
	case "connect":
		return byteengine.OpConnect, true
	case "disconnect":
		return byteengine.OpDisconnect, true
	default:
		return 0, false
	}
}

var (
	errMissingLockID     = errorString("unlock requires a lock id")
	errMissingInstrument = errorString("request requires an instrument")
	errMissingBody       = errorString("request body missing for this op")
)

type errorString string

func (e errorString) Error() string { return string(e) }

type unknownOpError struct{ op string }

func (e unknownOpError) Error() string { return "frontend: unknown op " + e.op }
