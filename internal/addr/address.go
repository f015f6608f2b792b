// Package addr defines the Address and Instrument data model shared across
// the inventory, lock arbitrator, and request dispatcher. An Address is the
// structural key into the instrument inventory; two addresses compare equal
// iff their kind and fields match exactly.
package addr

import "fmt"

// Kind tags which transport variant an Address carries.
type Kind int

const (
	KindSerial Kind = iota
	KindFtdi
	KindTcp
	KindCan
	KindHid
	KindVxi
	KindVisa
	KindPrologix
	KindSigrok
)

func (k Kind) String() string {
	switch k {
	case KindSerial:
		return "serial"
	case KindFtdi:
		return "ftdi"
	case KindTcp:
		return "tcp"
	case KindCan:
		return "can"
	case KindHid:
		return "hid"
	case KindVxi:
		return "vxi"
	case KindVisa:
		return "visa"
	case KindPrologix:
		return "prologix"
	case KindSigrok:
		return "sigrok"
	default:
		return "unknown"
	}
}

// CanKind selects which concrete CAN adapter an Address{Kind: KindCan}
// refers to.
type CanKind int

const (
	CanPCan CanKind = iota
	CanSocket
	CanLoopback
)

// Address is a tagged value identifying one transport endpoint. Only the
// fields relevant to Kind are meaningful; Address is a plain comparable
// struct so it can be used directly as a map key (the inventory's
// Address->Actor directory relies on this).
type Address struct {
	Kind Kind

	// Serial / Ftdi / Prologix
	Port string

	// Tcp
	Host    string
	TcpPort uint16

	// Can
	CanKind    CanKind
	CanName    string // PCan device name or Socket interface name
	CanBitrate uint32

	// Hid
	VID uint16
	PID uint16

	// Vxi
	VxiHost string

	// Visa
	VisaResource string

	// Prologix
	GpibAddress uint8

	// Sigrok
	SigrokDevice string
}

func Serial(port string) Address        { return Address{Kind: KindSerial, Port: port} }
func Ftdi(port string) Address          { return Address{Kind: KindFtdi, Port: port} }
func Tcp(host string, port uint16) Address {
	return Address{Kind: KindTcp, Host: host, TcpPort: port}
}
func CanPCanAddr(name string, bitrate uint32) Address {
	return Address{Kind: KindCan, CanKind: CanPCan, CanName: name, CanBitrate: bitrate}
}
func CanSocketAddr(iface string) Address {
	return Address{Kind: KindCan, CanKind: CanSocket, CanName: iface}
}
func CanLoopbackAddr() Address { return Address{Kind: KindCan, CanKind: CanLoopback} }
func Hid(vid, pid uint16) Address { return Address{Kind: KindHid, VID: vid, PID: pid} }
func Vxi(host string) Address     { return Address{Kind: KindVxi, VxiHost: host} }
func Visa(resource string) Address {
	return Address{Kind: KindVisa, VisaResource: resource}
}
func Prologix(serialPort string, gpibAddress uint8) Address {
	return Address{Kind: KindPrologix, Port: serialPort, GpibAddress: gpibAddress}
}
func Sigrok(device string) Address { return Address{Kind: KindSigrok, SigrokDevice: device} }

// String renders a human-readable identifier, used in logging and error
// messages; it is not a wire format.
func (a Address) String() string {
	switch a.Kind {
	case KindSerial:
		return fmt.Sprintf("serial(%s)", a.Port)
	case KindFtdi:
		return fmt.Sprintf("ftdi(%s)", a.Port)
	case KindTcp:
		return fmt.Sprintf("tcp(%s:%d)", a.Host, a.TcpPort)
	case KindCan:
		switch a.CanKind {
		case CanPCan:
			return fmt.Sprintf("can(pcan:%s@%d)", a.CanName, a.CanBitrate)
		case CanSocket:
			return fmt.Sprintf("can(socket:%s)", a.CanName)
		default:
			return "can(loopback)"
		}
	case KindHid:
		return fmt.Sprintf("hid(%04x:%04x)", a.VID, a.PID)
	case KindVxi:
		return fmt.Sprintf("vxi(%s)", a.VxiHost)
	case KindVisa:
		return fmt.Sprintf("visa(%s)", a.VisaResource)
	case KindPrologix:
		return fmt.Sprintf("prologix(%s,%d)", a.Port, a.GpibAddress)
	case KindSigrok:
		return fmt.Sprintf("sigrok(%s)", a.SigrokDevice)
	default:
		return "unknown"
	}
}

// Parity is the serial port parity setting.
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
)

// FlowControl is the serial port flow-control setting.
type FlowControl int

const (
	FlowNone FlowControl = iota
	FlowHardware
	FlowSoftware
)

// SerialConfig is the port configuration an actor compares against its
// currently open handle to decide whether an in-place reconfigure suffices.
type SerialConfig struct {
	Baud        int
	DataBits    int // 7 or 8
	Parity      Parity
	StopBits    int // 1 or 2
	FlowControl FlowControl
}

// Equal reports whether two configurations would produce an identical open
// port, used by the actor to skip a needless reconfigure.
func (c SerialConfig) Equal(o SerialConfig) bool {
	return c == o
}

// SerialOptions carries behavior not part of the wire-level port config.
type SerialOptions struct {
	AutoDrop bool
}

// TcpOptions carries TCP-specific connection behavior.
type TcpOptions struct {
	ConnectTimeoutMs uint32
	AutoDrop         bool
}

// Instrument pairs an Address with its optional configuration. Two
// Instrument values with the same Address may carry different
// configuration across requests; the actor reconciles this on each
// request.
type Instrument struct {
	Address Address
	Serial  *SerialConfig
	SerialO *SerialOptions
	Tcp     *TcpOptions
}
