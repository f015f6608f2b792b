// Package wire defines the abstract request/response variants that cross
// the frontend boundary (WebSocket/HTTP). Concrete JSON encoding is the
// transport layer's concern; this package only fixes the Go-level shape
// every handler and the dispatcher agree on.
package wire

import (
	"time"

	"github.com/nereid-labs/instrumentd/internal/addr"
	"github.com/nereid-labs/instrumentd/internal/byteengine"
	"github.com/nereid-labs/instrumentd/internal/can"
	"github.com/nereid-labs/instrumentd/internal/gct"
	"github.com/nereid-labs/instrumentd/internal/ioerrs"
	"github.com/nereid-labs/instrumentd/internal/lockarb"
	"github.com/nereid-labs/instrumentd/internal/prologix"
)

// Duration mirrors the wire's {seconds, micros} representation.
type Duration struct {
	Seconds uint32
	Micros  uint32
}

// AsGo converts to a time.Duration.
func (d Duration) AsGo() time.Duration {
	return time.Duration(d.Seconds)*time.Second + time.Duration(d.Micros)*time.Microsecond
}

// FromGo converts a time.Duration to the wire representation.
func FromGo(d time.Duration) Duration {
	return Duration{
		Seconds: uint32(d / time.Second),
		Micros:  uint32((d % time.Second) / time.Microsecond),
	}
}

// Request is the tagged union of every client request variant. Exactly one
// pointer field is non-nil, selected by the constructor used.
type Request struct {
	ByteStream *ByteStreamRequest
	Can        *CanRequest
	Scpi       *ScpiRequest
	Prologix   *PrologixRequest
	Sigrok     *SigrokRequest
	Hid        *HidRequest
	Connect    *ConnectRequest
	Lock       *LockRequest
	Unlock     *UnlockRequest
	CobsStream *CobsStreamRequest

	ListSerialPorts          bool
	ListFtdiDevices          bool
	ListHidDevices           bool
	ListSigrokDevices        bool
	ListCanDevices           bool
	ListConnectedInstruments bool
	DropAll                  bool
	Version                  bool
	Shutdown                 bool
}

type ByteStreamRequest struct {
	Instrument addr.Instrument
	Request    byteengine.Request
	Lock       *lockarb.ID
}

type CanRequest struct {
	Instrument addr.Address
	Request    CanOp
	Lock       *lockarb.ID
}

// CanOp is the union of CAN-actor-level operations a client can issue.
// The three toggle fields are tri-state: nil leaves the actor's current
// setting, a value replaces it for every subscriber of that address.
type CanOp struct {
	Send           *can.Frame
	ListenRaw      *bool
	ListenGct      *bool
	EnableLoopback *bool
	StopListen     bool
}

// CobsStreamRequest switches an instrument's actor into the continuous
// COBS-stream mode, or drives it once switched: Start splits the handle
// into the decode/encode loops, SendFrame enqueues an outbound payload,
// and Stop tears the stream actor down (and falls back to byte-stream
// mode on the next ByteStream request, per the handle-reopen rule).
type CobsStreamRequest struct {
	Instrument addr.Instrument
	Request    CobsStreamOp
	Lock       *lockarb.ID
}

type CobsStreamOp struct {
	Start     bool
	Stop      bool
	SendFrame []byte
}

type ScpiRequest struct {
	Instrument addr.Instrument
	Request    byteengine.Request
}

type PrologixRequest struct {
	Instrument addr.Address
	Request    prologix.Request
}

type SigrokRequest struct {
	Instrument addr.Address
	Request    SigrokOp
}

type SigrokOp struct {
	Scan bool
}

type HidRequest struct {
	Instrument addr.Address
	Request    HidOp
	Lock       *lockarb.ID
}

type HidOp struct {
	Write []byte
	Read  *struct {
		Count   int
		Timeout Duration
	}
}

type ConnectRequest struct {
	Instrument addr.Instrument
	Timeout    *Duration
}

type LockRequest struct {
	Address   addr.Address
	TimeoutMs uint32
}

type UnlockRequest struct {
	ID lockarb.ID
}

// Response is the tagged union of every response variant.
type Response struct {
	Error *ErrorResponse

	Bytes       []byte
	Can         *CanResponse
	Scpi        *ScpiResponse
	Hid         []byte
	Sigrok      *SigrokResponse
	Instruments []addr.Address

	Locked *LockedResponse
	Version *VersionResponse

	SerialPorts []string
	FtdiDevices []string
	CanDevices  []string

	Done bool
}

type ErrorResponse struct {
	Kind    ioerrs.Kind
	Message string
}

func NewErrorResponse(err error) *ErrorResponse {
	return &ErrorResponse{Kind: ioerrs.KindOf(err), Message: err.Error()}
}

type CanResponse struct {
	Source   addr.Address
	Raw      *can.Frame
	Gct      *gct.Message
	Stopped  bool
}

type ScpiResponse struct {
	Line  string
	Bytes []byte
}

type SigrokResponse struct {
	Devices []string
}

type LockedResponse struct {
	Instrument addr.Address
	LockID     lockarb.ID
}

type VersionResponse struct {
	Major, Minor, Build uint32
}

// Notification is the tagged union of server-initiated, WebSocket-only
// messages.
type Notification struct {
	Can       *CanResponse
	CobsFrame []byte
	CobsDrop  bool
	Error     *ErrorResponse
}
