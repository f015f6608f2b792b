package serial

import (
	"time"

	"github.com/tarm/serial"
)

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Parity mirrors tarm/serial's byte-valued parity setting so callers
// don't need to import tarm/serial directly to build a Config.
type Parity byte

const (
	ParityNone Parity = Parity(serial.ParityNone)
	ParityOdd  Parity = Parity(serial.ParityOdd)
	ParityEven Parity = Parity(serial.ParityEven)
)

// StopBits mirrors tarm/serial's byte-valued stop-bits setting.
type StopBits byte

const (
	Stop1 StopBits = StopBits(serial.Stop1)
	Stop2 StopBits = StopBits(serial.Stop2)
)

// Config is the full port configuration Open honors. tarm/serial exposes
// no flow-control knob, so a caller's flow-control setting has nowhere to
// go; Open deliberately doesn't accept one rather than pretend to apply it.
type Config struct {
	Name        string
	Baud        int
	DataBits    byte
	Parity      Parity
	StopBits    StopBits
	ReadTimeout time.Duration
}

// Open opens name with the full line configuration: data bits, parity,
// and stop bits, not just baud. DataBits and StopBits default to 8N1 when
// left zero, matching the library's own zero-value behavior.
func Open(cfg Config) (Port, error) {
	size := cfg.DataBits
	if size == 0 {
		size = 8
	}
	stopBits := cfg.StopBits
	if stopBits == 0 {
		stopBits = Stop1
	}
	tc := &serial.Config{
		Name:        cfg.Name,
		Baud:        cfg.Baud,
		Size:        size,
		Parity:      serial.Parity(cfg.Parity),
		StopBits:    serial.StopBits(stopBits),
		ReadTimeout: cfg.ReadTimeout,
	}
	return serial.OpenPort(tc)
}
