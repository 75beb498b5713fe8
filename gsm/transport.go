package gsm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"go.bug.st/serial"
)

//go:generate go tool mockgen -source=transport.go -destination=mock_transport.go -package=gsm -write_package_comment=false

// Transport represents an established, bidirectional byte stream to a GSM modem.
//
// A Transport is assumed to be already connected and ready for use. It provides
// the low-level I/O primitives required to send AT commands and receive responses.
// Typical implementations include serial ports, TCP connections to emulators,
// or in-memory fakes used for testing.
type Transport interface {
	io.ReadWriteCloser
}

// Dialer opens a Transport to a GSM modem.
//
// Dialer abstracts how the modem connection is created (for example, via a
// serial port, TCP-based emulator, or test double). The Modem dials once at
// construction and again whenever the driver task brings the device back up
// after a power-off.
type Dialer interface {
	// Dial creates and returns a connected Transport. It may perform blocking
	// operations and should respect cancellation and deadlines provided by
	// the context. Dial returns an error if the transport cannot be
	// established.
	Dial(ctx context.Context) (Transport, error)
}

// SerialDialer opens a GSM modem over a serial port using go.bug.st/serial.
//
// The returned Transport is the underlying *serial.Port; callers that need
// modem control lines (DTR, RTS) may type-assert it.
type SerialDialer struct {
	// PortName is the device path, for example "/dev/ttyUSB0".
	PortName string
	// BaudRate applies when Mode is nil. Zero means 115200.
	BaudRate int
	// Mode, when set, overrides the full port configuration.
	Mode *serial.Mode
}

func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, errors.New("gsm: context is nil")
	}
	if d.PortName == "" {
		return nil, errors.New("gsm: serial port name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mode := d.Mode
	if mode == nil {
		baud := d.BaudRate
		if baud == 0 {
			baud = 115200
		}
		mode = &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
	}
	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("gsm: open serial port %s: %w", d.PortName, err)
	}
	return port, nil
}

// TCPDialer connects to a modem exposed over the network, such as an
// emulator or a serial-over-TCP bridge.
type TCPDialer struct {
	// Address is the host:port of the bridge.
	Address string
}

func (d TCPDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, errors.New("gsm: context is nil")
	}
	if d.Address == "" {
		return nil, errors.New("gsm: tcp address is required")
	}
	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		return nil, fmt.Errorf("gsm: dial %s: %w", d.Address, err)
	}
	return conn, nil
}
