package visa

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"go.bug.st/serial"
)

var (
	zeroconfPattern = regexp.MustCompile(`[ A-Za-z0-9._-]+\.(_ssh|_http)\._tcp\.local`)
	sambaPattern    = regexp.MustCompile(`[ A-Za-z0-9._-]+\._smb\._tcp\.local`)
	ipv4Pattern     = regexp.MustCompile(`[0-9]+(?:\.[0-9]+){3}`)
)

// Resolver rewrites resource strings that cannot be dialed directly: serial
// AUTO addresses, mDNS service names and samba host names.
type Resolver struct {
	// LookupZeroconf returns the IPv4 address of an mDNS service instance.
	LookupZeroconf func(ctx context.Context, instance, service string) (string, error)

	// LookupSamba returns the IPv4 address of a NetBIOS host.
	LookupSamba func(ctx context.Context, host string) (string, error)

	// FindSerial returns the device of the serial port whose *IDN? reply
	// contains match.
	FindSerial func(ctx context.Context, match string, opts OpenOptions) (string, error)

	// Timeout bounds each network lookup.
	Timeout time.Duration
}

// DefaultResolver uses mDNS, the samba client tools and the OS serial ports.
var DefaultResolver = &Resolver{
	LookupZeroconf: LookupZeroconf,
	LookupSamba:    LookupSamba,
	FindSerial:     FindSerialPort,
	Timeout:        5 * time.Second,
}

// Resolve returns raw with any resolvable part replaced by a concrete
// address. Strings that need no resolution are returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, raw string, opts OpenOptions) (string, error) {
	if addr, err := ParseAddress(raw); err == nil && addr.IsAuto() {
		device, err := r.FindSerial(ctx, addr.AutoMatch, opts)
		if err != nil {
			return "", err
		}
		return SerialAddress(device), nil
	}

	if m := zeroconfPattern.FindStringSubmatch(raw); m != nil {
		name := strings.TrimSpace(m[0])
		instance := strings.TrimSuffix(name, "."+m[1]+"._tcp.local")
		lctx, cancel := r.lookupContext(ctx)
		defer cancel()
		ip, err := r.LookupZeroconf(lctx, instance, m[1]+"._tcp")
		if err != nil {
			return "", err
		}
		return strings.Replace(raw, m[0], ip, 1), nil
	}

	if m := sambaPattern.FindString(raw); m != "" {
		host := strings.TrimSuffix(strings.TrimSpace(m), "._smb._tcp.local")
		lctx, cancel := r.lookupContext(ctx)
		defer cancel()
		ip, err := r.LookupSamba(lctx, host)
		if err != nil {
			return "", err
		}
		return strings.Replace(raw, m, ip, 1), nil
	}

	return raw, nil
}

func (r *Resolver) lookupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.Timeout)
}

// LookupZeroconf resolves an mDNS service instance in the local domain to
// its first IPv4 address.
func LookupZeroconf(ctx context.Context, instance, service string) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("zeroconf resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry)
	lctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := resolver.Lookup(lctx, instance, service, "local.", entries); err != nil {
		return "", fmt.Errorf("zeroconf lookup %s.%s: %w", instance, service, err)
	}
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return "", fmt.Errorf("%w: zeroconf service %s.%s.local", ErrDeviceNotFound, instance, service)
			}
			if len(entry.AddrIPv4) > 0 {
				return entry.AddrIPv4[0].String(), nil
			}
		case <-lctx.Done():
			return "", fmt.Errorf("%w: zeroconf service %s.%s.local: %v", ErrDeviceNotFound, instance, service, lctx.Err())
		}
	}
}

// LookupSamba resolves a NetBIOS name with nmblookup on Linux or smbutil on
// macOS.
func LookupSamba(ctx context.Context, host string) (string, error) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "linux":
		cmd = exec.CommandContext(ctx, "nmblookup", host)
	case "darwin":
		cmd = exec.CommandContext(ctx, "smbutil", "lookup", host)
	default:
		return "", fmt.Errorf("%w: samba lookup not supported on %s", ErrUnsupportedAddress, runtime.GOOS)
	}
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%w: samba service %s: %v", ErrDeviceNotFound, host, err)
	}
	return firstIPv4(string(out), host)
}

// firstIPv4 picks the first address in the lookup output, skipping the
// broadcast address nmblookup echoes on its "querying" line.
func firstIPv4(out, host string) (string, error) {
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "querying") {
			continue
		}
		if ip := ipv4Pattern.FindString(line); ip != "" {
			return ip, nil
		}
	}
	return "", fmt.Errorf("%w: samba service %s", ErrDeviceNotFound, host)
}

// Serial discovery hooks.
var (
	listSerialPorts = serial.GetPortsList
	dialSerialPort  = func(device string, baud int) (Conn, error) { return OpenSerial(device, baud) }
)

// identifyTimeout bounds the *IDN? exchange with each candidate port.
const identifyTimeout = 500 * time.Millisecond

// FindSerialPort returns the first serial port whose *IDN? reply contains
// match. Ports that fail to open or answer are skipped.
func FindSerialPort(ctx context.Context, match string, opts OpenOptions) (string, error) {
	ports, err := listSerialPorts()
	if err != nil {
		return "", fmt.Errorf("list serial ports: %w", err)
	}
	opts = opts.withDefaults()
	opts.Timeout = identifyTimeout
	for _, device := range ports {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		id, err := queryIDN(ctx, device, opts)
		if err != nil {
			continue
		}
		if strings.Contains(id, match) {
			return device, nil
		}
	}
	return "", fmt.Errorf("%w: no serial device with ID %q (available: %v)", ErrDeviceNotFound, match, ports)
}

func queryIDN(ctx context.Context, device string, opts OpenOptions) (string, error) {
	conn, err := dialSerialPort(device, opts.BaudRate)
	if err != nil {
		return "", err
	}
	s := NewSession(conn, opts)
	defer s.Close()
	if err := s.WriteString(ctx, "*IDN?"); err != nil {
		return "", err
	}
	return s.ReadString(ctx)
}
