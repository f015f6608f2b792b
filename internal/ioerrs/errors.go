// Package ioerrs defines the error taxonomy shared by every engine and
// transport actor: Transport, Protocol, Argument, and Internal. Actors use
// Kind to decide whether to retry and whether to retain the handle.
package ioerrs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for actor retry/retention decisions.
type Kind int

const (
	// KindTransport is an I/O failure at the driver/OS level.
	KindTransport Kind = iota
	// KindProtocol is a framing/timeout/unexpected-response failure; the
	// handle stays open because the transport itself is healthy.
	KindProtocol
	// KindArgument is a malformed request; never retried.
	KindArgument
	// KindInternal is an invariant violation or mailbox hangup.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindArgument:
		return "argument"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// IOKind enumerates the specific transport I/O failure kinds that drive
// retry eligibility.
type IOKind int

const (
	IOOther IOKind = iota
	IOConnectionReset
	IOConnectionAborted
	IOBrokenPipe
	IOTimedOut
	IOUnexpectedEOF
)

// Error is the taxonomy-tagged error returned by engines and actors.
type Error struct {
	Kind   Kind
	IOKind IOKind // only meaningful when Kind == KindTransport
	Op     string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Protocol error subvariants, distinguished by sentinel wrapping.
var (
	ErrTimeout            = errors.New("timeout")
	ErrUnexpectedResponse = errors.New("unexpected response")
	ErrFraming            = errors.New("invalid framing")
)

func Transport(op string, iok IOKind, err error) *Error {
	return &Error{Kind: KindTransport, IOKind: iok, Op: op, Err: err}
}

func Protocol(op string, err error) *Error {
	return &Error{Kind: KindProtocol, Op: op, Err: err}
}

func Timeout(op string) *Error {
	return &Error{Kind: KindProtocol, Op: op, Err: ErrTimeout}
}

func Argument(op string, err error) *Error {
	return &Error{Kind: KindArgument, Op: op, Err: err}
}

func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Op: op, Err: err}
}

// ShouldRetry reports whether the actor should retry the request with a
// fresh handle. Only Transport errors whose IOKind is one of the five
// recoverable kinds are retry-eligible.
func ShouldRetry(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	if e.Kind != KindTransport {
		return false
	}
	switch e.IOKind {
	case IOConnectionReset, IOConnectionAborted, IOBrokenPipe, IOTimedOut, IOUnexpectedEOF:
		return true
	default:
		return false
	}
}

// RetainHandle reports whether an actor should keep its open handle after
// err. Protocol errors retain the handle (the transport is healthy);
// Transport errors discard it.
func RetainHandle(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return true
	}
	return e.Kind != KindTransport
}

// KindOf extracts the Kind of err, defaulting to KindInternal for untagged
// errors (a programming error somewhere upstream failed to wrap).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
