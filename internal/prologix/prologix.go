// Package prologix implements the Prologix USB/Ethernet GPIB controller's
// "++" text command sub-protocol layered over a serial byte stream.
package prologix

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nereid-labs/instrumentd/internal/ioerrs"
	"github.com/nereid-labs/instrumentd/internal/streamio"
)

// DefaultTimeout is used when a request does not specify one.
const DefaultTimeout = time.Second

// Op selects the Prologix-level request variant.
type Op int

const (
	OpWrite Op = iota
	OpQueryString
	OpQueryBinary
	OpReadRaw
)

// Request is a single Prologix call against one GPIB address.
type Request struct {
	Op          Op
	GpibAddress uint8
	Payload     string
	Timeout     time.Duration
}

// InitState tracks, per handle, whether the one-time Prologix init
// sequence has already run. An actor owns exactly one Port, so one
// InitState suffices per open handle's lifetime.
type InitState struct {
	mu   sync.Mutex
	done bool
}

// NewInitState returns a fresh per-handle init tracker.
func NewInitState() *InitState { return &InitState{} }

const initSequence = "++savecfg 0\n++auto 0\n++eos 3\n"

// Execute runs req against s, performing the one-time controller init on
// first use per handle (tracked by init).
func Execute(s streamio.Stream, init *InitState, req Request) (string, error) {
	init.mu.Lock()
	if !init.done {
		if err := streamio.WriteAll(s, []byte(initSequence)); err != nil {
			init.mu.Unlock()
			return "", err
		}
		init.done = true
	}
	init.mu.Unlock()

	if _, err := streamio.ReadAll(s); err != nil {
		return "", err
	}

	addrCmd := fmt.Sprintf("++addr %d\n", req.GpibAddress)
	if err := streamio.WriteAll(s, []byte(addrCmd)); err != nil {
		return "", err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	switch req.Op {
	case OpWrite:
		payload := req.Payload
		if !strings.HasSuffix(payload, "\n") {
			payload += "\n"
		}
		if err := streamio.WriteAll(s, []byte(payload)); err != nil {
			return "", err
		}
		return "", nil

	case OpQueryString:
		payload := req.Payload
		if !strings.HasSuffix(payload, "\n") {
			payload += "\n"
		}
		if err := streamio.WriteAll(s, []byte(payload)); err != nil {
			return "", err
		}
		if err := streamio.WriteAll(s, []byte("++read eoi\n")); err != nil {
			return "", err
		}
		line, err := streamio.ReadToTerm(s, '\n', timeout)
		if err != nil {
			return "", err
		}
		return string(line), nil

	case OpQueryBinary, OpReadRaw:
		return "", ioerrs.Argument("prologix", errUnsupported)

	default:
		return "", ioerrs.Argument("prologix", errUnsupported)
	}
}

var errUnsupported = unsupportedError{}

type unsupportedError struct{}

func (unsupportedError) Error() string { return "prologix: operation not supported" }
