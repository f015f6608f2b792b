package modbus

import "fmt"

// DdpFunctionCode implements the custom "DDP" function code (0x44):
// payload is [sub_cmd, len+1, ddp_cmd (with 0x80 set when a reply is
// expected), data...]. One descriptor serves every framer; DDP has no
// separate byte-stream variant.
type DdpFunctionCode struct {
	SubCmd   byte
	DdpCmd   byte
	Data     []byte
	Response bool
}

// NewDdp builds a DDP request. When response is true the 0x80 bit is set
// on ddpCmd so the peer knows to reply with data.
func NewDdp(subCmd, ddpCmd byte, data []byte, response bool) *DdpFunctionCode {
	cmd := ddpCmd
	if response {
		cmd |= 0x80
	}
	return &DdpFunctionCode{SubCmd: subCmd, DdpCmd: cmd, Data: data, Response: response}
}

func (d *DdpFunctionCode) FormatRequest() []byte {
	buf := make([]byte, 0, 3+len(d.Data))
	buf = append(buf, d.SubCmd, byte(len(d.Data)+1), d.DdpCmd)
	buf = append(buf, d.Data...)
	return buf
}

// HeaderLength is sub_cmd + len byte; the length byte tells us how many
// more bytes (including ddp_cmd) follow.
func (d *DdpFunctionCode) HeaderLength() int { return 2 }

func (d *DdpFunctionCode) DataLengthFromHeader(header []byte) (int, error) {
	length := int(header[1])
	if !d.Response && length != 0 {
		return 0, fmt.Errorf("modbus: ddp reply length must be 0 when no response expected, got %d", length)
	}
	if length == 0 {
		return 0, nil
	}
	// length counts ddp_cmd plus data; data alone is length-1.
	return length, nil
}

func (d *DdpFunctionCode) ParseFrame(data []byte) (any, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	// data[0] is the echoed ddp_cmd; the remainder is the reply payload.
	return append([]byte{}, data[1:]...), nil
}

func (d *DdpFunctionCode) Code() byte { return fcDdp }
