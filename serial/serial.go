// Package serial opens the physical eBUS line: a 2400 baud, 8N1, raw-mode
// serial port, read byte-by-byte by the bus task.
package serial

import (
	"github.com/daedaluz/goserial"
)

// Port is the physical-layer dependency the bus task drives: a blocking
// byte reader and a non-blocking-enough writer. It is the concrete type
// behind engine.Capability's BusWrite and the bus task's receive loop.
type Port struct {
	port *serial.Port
}

// Open opens name (e.g. "/dev/ttyUSB0") in raw 2400 8N1 mode, matching
// the eBUS line's fixed physical parameters.
func Open(name string) (*Port, error) {
	p, err := serial.Open(name, serial.NewOptions())
	if err != nil {
		return nil, err
	}
	if err := p.MakeRaw(); err != nil {
		p.Close()
		return nil, err
	}
	attrs, err := p.GetAttr()
	if err != nil {
		p.Close()
		return nil, err
	}
	attrs.SetSpeed(serial.B2400)
	attrs.Cflag &= ^(serial.CSIZE | serial.PARENB)
	attrs.Cflag |= serial.CS8 | serial.CREAD | serial.CLOCAL
	if err := p.SetAttr(serial.TCSANOW, attrs); err != nil {
		p.Close()
		return nil, err
	}
	return &Port{port: p}, nil
}

// ReadByte blocks until one byte arrives from the bus.
func (p *Port) ReadByte() (byte, error) {
	var buf [1]byte
	for {
		n, err := p.port.Read(buf[:])
		if err != nil {
			return 0, err
		}
		if n == 1 {
			return buf[0], nil
		}
	}
}

// WriteByte writes one byte to the bus.
func (p *Port) WriteByte(b byte) error {
	_, err := p.port.Write([]byte{b})
	return err
}

// Close releases the underlying file descriptor.
func (p *Port) Close() error { return p.port.Close() }
