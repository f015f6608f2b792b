package dispatch

import (
	"net"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nereid-labs/instrumentd/internal/ioerrs"
)

// serialGlobs lists the device-file patterns a Linux host exposes for
// plugged-in serial adapters; enumeration globs device files rather than
// calling a vendor SDK.
var serialGlobs = []string{"/dev/ttyS*", "/dev/ttyUSB*", "/dev/ttyACM*"}

// ListSerialPorts enumerates locally present serial devices.
func (d *Dispatcher) ListSerialPorts() []string {
	var ports []string
	for _, pattern := range serialGlobs {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		ports = append(ports, matches...)
	}
	sort.Strings(ports)
	return ports
}

// ListCanDevices enumerates CAN-capable network interfaces (SocketCAN: any
// interface named "can*" or "vcan*") plus the always-available loopback
// pseudo-device.
func (d *Dispatcher) ListCanDevices() []string {
	devices := []string{"loopback"}
	ifaces, err := net.Interfaces()
	if err != nil {
		return devices
	}
	for _, iface := range ifaces {
		name := iface.Name
		if strings.HasPrefix(name, "can") || strings.HasPrefix(name, "vcan") {
			devices = append(devices, name)
		}
	}
	return devices
}

// ListFtdiDevices, ListHidDevices, and ListSigrokDevices require vendor
// libraries or an external `sigrok-cli` subprocess that this build does
// not carry; they report the probe as
// unavailable rather than fabricating a device list.
func (d *Dispatcher) ListFtdiDevices() ([]string, error) {
	return nil, ioerrs.Transport("list_ftdi_devices", ioerrs.IOOther, driverUnavailableErr{driver: "ftdi"})
}

func (d *Dispatcher) ListHidDevices() ([]string, error) {
	return nil, ioerrs.Transport("list_hid_devices", ioerrs.IOOther, driverUnavailableErr{driver: "hid"})
}

func (d *Dispatcher) ListSigrokDevices() ([]string, error) {
	return nil, ioerrs.Transport("list_sigrok_devices", ioerrs.IOOther, driverUnavailableErr{driver: "sigrok"})
}

type driverUnavailableErr struct{ driver string }

func (e driverUnavailableErr) Error() string {
	return "driver not available in this build: " + e.driver
}
