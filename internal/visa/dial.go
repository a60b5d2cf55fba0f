package visa

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Dialer opens the byte channel for a parsed address.
type Dialer interface {
	Dial(ctx context.Context, addr Address, opts OpenOptions) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, addr Address, opts OpenOptions) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, addr Address, opts OpenOptions) (Conn, error) {
	return f(ctx, addr, opts)
}

// DefaultDialer dials raw sockets over TCP and serial ports through the OS.
var DefaultDialer Dialer = DialerFunc(dialDefault)

func dialDefault(ctx context.Context, addr Address, opts OpenOptions) (Conn, error) {
	switch addr.Interface {
	case InterfaceTCPIP:
		var d net.Dialer
		return d.DialContext(ctx, "tcp", net.JoinHostPort(addr.Host, strconv.Itoa(addr.Port)))
	case InterfaceSerial:
		if addr.IsAuto() {
			return nil, fmt.Errorf("%w: unresolved AUTO address %s", ErrUnsupportedAddress, addr.Raw)
		}
		return OpenSerial(addr.Device, opts.withDefaults().BaudRate)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedAddress, addr.Raw)
}

// Dial opens addr as given, without name resolution, and wraps it in a Session.
func Dial(ctx context.Context, d Dialer, addr Address, opts OpenOptions) (*Session, error) {
	if d == nil {
		d = DefaultDialer
	}
	conn, err := d.Dial(ctx, addr, opts)
	if err != nil {
		return nil, err
	}
	return NewSession(conn, opts), nil
}

// SerialConn adapts a serial port to Conn. Deadlines are mapped onto the
// port read timeout, and a read that times out reports ErrTimeout.
type SerialConn struct {
	port serial.Port

	mu       sync.Mutex
	deadline time.Time
}

// OpenSerial opens device at baud with 8N1 framing.
func OpenSerial(device string, baud int) (*SerialConn, error) {
	port, err := serial.Open(device, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	return &SerialConn{port: port}, nil
}

func (c *SerialConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	deadline := c.deadline
	c.mu.Unlock()
	if !deadline.IsZero() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, ErrTimeout
		}
		if err := c.port.SetReadTimeout(remaining); err != nil {
			return 0, err
		}
	}
	n, err := c.port.Read(p)
	if n == 0 && err == nil {
		return 0, ErrTimeout
	}
	return n, err
}

func (c *SerialConn) Write(p []byte) (int, error) {
	return c.port.Write(p)
}

func (c *SerialConn) Close() error {
	return c.port.Close()
}

func (c *SerialConn) SetDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	if t.IsZero() {
		return c.port.SetReadTimeout(serial.NoTimeout)
	}
	return nil
}

// ResetBuffers drops pending input and output on the port.
func (c *SerialConn) ResetBuffers() error {
	if err := c.port.ResetInputBuffer(); err != nil {
		return err
	}
	return c.port.ResetOutputBuffer()
}

// ResetInput drops pending input on the port.
func (c *SerialConn) ResetInput() error {
	return c.port.ResetInputBuffer()
}
