package visa

import (
	"fmt"
	"strconv"
	"strings"
)

// Interface identifies the transport an address refers to.
type Interface string

const (
	InterfaceTCPIP  Interface = "TCPIP"
	InterfaceSerial Interface = "ASRL"
)

// autoToken marks a serial address that must be located by *IDN? match.
const autoToken = "AUTO"

// Address is a parsed VISA resource string.
type Address struct {
	Raw       string
	Interface Interface
	Board     string
	Host      string
	Port      int
	Device    string
	AutoMatch string
	Class     string
}

// ParseAddress parses a resource string into its parts.
func ParseAddress(raw string) (Address, error) {
	parts := strings.Split(strings.TrimSpace(raw), "::")
	if len(parts) < 2 {
		return Address{}, fmt.Errorf("%w: %q", ErrUnsupportedAddress, raw)
	}
	head := strings.ToUpper(parts[0])
	class := strings.ToUpper(parts[len(parts)-1])

	switch {
	case strings.HasPrefix(head, string(InterfaceTCPIP)):
		if len(parts) != 4 || class != "SOCKET" {
			return Address{}, fmt.Errorf("%w: only raw SOCKET resources are supported: %q", ErrUnsupportedAddress, raw)
		}
		port, err := strconv.Atoi(parts[2])
		if err != nil || port <= 0 || port > 65535 {
			return Address{}, fmt.Errorf("%w: invalid port %q", ErrUnsupportedAddress, parts[2])
		}
		if parts[1] == "" {
			return Address{}, fmt.Errorf("%w: missing host in %q", ErrUnsupportedAddress, raw)
		}
		return Address{
			Raw:       raw,
			Interface: InterfaceTCPIP,
			Board:     parts[0][len(InterfaceTCPIP):],
			Host:      parts[1],
			Port:      port,
			Class:     class,
		}, nil

	case strings.HasPrefix(head, string(InterfaceSerial)):
		if class != "INSTR" {
			return Address{}, fmt.Errorf("%w: serial resources must end in INSTR: %q", ErrUnsupportedAddress, raw)
		}
		addr := Address{Raw: raw, Interface: InterfaceSerial, Class: class}
		suffix := parts[0][len(InterfaceSerial):]
		switch {
		case suffix != "" && len(parts) == 2:
			addr.Device = serialDevice(suffix)
		case suffix == "" && len(parts) == 3 && parts[1] != "":
			addr.Device = serialDevice(parts[1])
		case suffix == "" && len(parts) == 4 && strings.EqualFold(parts[1], autoToken):
			if parts[2] == "" {
				return Address{}, fmt.Errorf("%w: empty AUTO match in %q", ErrUnsupportedAddress, raw)
			}
			addr.AutoMatch = parts[2]
		default:
			return Address{}, fmt.Errorf("%w: %q", ErrUnsupportedAddress, raw)
		}
		return addr, nil
	}

	return Address{}, fmt.Errorf("%w: %q", ErrUnsupportedAddress, raw)
}

// serialDevice maps ASRL board numbers onto COM port names and passes device
// paths through untouched.
func serialDevice(s string) string {
	if n, err := strconv.Atoi(s); err == nil {
		return fmt.Sprintf("COM%d", n)
	}
	return s
}

// IsAuto reports whether the address needs serial port discovery.
func (a Address) IsAuto() bool {
	return a.Interface == InterfaceSerial && a.AutoMatch != ""
}

// String renders the address back into resource string form.
func (a Address) String() string {
	switch a.Interface {
	case InterfaceTCPIP:
		return fmt.Sprintf("TCPIP%s::%s::%d::SOCKET", a.Board, a.Host, a.Port)
	case InterfaceSerial:
		if a.IsAuto() {
			return fmt.Sprintf("ASRL::%s::%s::INSTR", autoToken, a.AutoMatch)
		}
		return fmt.Sprintf("ASRL%s::INSTR", a.Device)
	}
	return a.Raw
}

// SerialAddress builds the resource string for a serial device path.
func SerialAddress(device string) string {
	return fmt.Sprintf("ASRL%s::INSTR", device)
}

// TCPAddress builds the resource string for a raw socket.
func TCPAddress(host string, port int) string {
	return fmt.Sprintf("TCPIP::%s::%d::SOCKET", host, port)
}
