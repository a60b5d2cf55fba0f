package sim

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/Samtec-ASH/govisainstrument/internal/visa"
)

// Instrument is a simulated instrument that can be served over TCP and
// inspected through the control API.
type Instrument interface {
	Protocol
	Name() string
	Kind() string
	Reset()
	Snapshot() interface{}
	SetMetrics(m *Metrics)
}

// Protocol serves one client connection until it closes.
type Protocol interface {
	Serve(conn net.Conn)
}

// Errors handlers return to flag bits in the event status register.
var (
	errUndefinedHeader = fmt.Errorf("%w: undefined header", visa.ErrCommandError)
	errDataOutOfRange  = fmt.Errorf("%w: data out of range", visa.ErrExecutionError)
	errIllegalValue    = fmt.Errorf("%w: illegal parameter value", visa.ErrExecutionError)
	errMissingParam    = fmt.Errorf("%w: missing parameter", visa.ErrCommandError)
)

// Device implements the IEEE 488.2 common commands and dispatches all
// other headers through its router. Handlers run with the device locked.
type Device struct {
	name string
	kind string
	idn  string
	term string

	mu     sync.Mutex
	esr    int
	router Router
	reset  func()

	metrics *Metrics
	logger  *slog.Logger
}

func newDevice(name, kind, idn string) *Device {
	return &Device{
		name:   name,
		kind:   kind,
		idn:    idn,
		term:   "\n",
		logger: slog.Default(),
	}
}

// Name returns the instrument name.
func (d *Device) Name() string { return d.name }

// Kind returns the instrument kind.
func (d *Device) Kind() string { return d.kind }

// SetMetrics attaches traffic counters.
func (d *Device) SetMetrics(m *Metrics) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metrics = m
}

// SetLogger replaces the device logger.
func (d *Device) SetLogger(l *slog.Logger) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logger = l
}

// SetTermination sets the reply termination.
func (d *Device) SetTermination(term string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.term = term
}

// ESR returns the event status register without clearing it.
func (d *Device) ESR() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.esr
}

// Reset restores power-on state, as *RST does.
func (d *Device) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.esr = 0
	if d.reset != nil {
		d.reset()
	}
}

func (d *Device) locked(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn()
}

// Exec runs one command line and returns the reply for queries.
func (d *Device) Exec(line string) (string, bool) {
	cmd := ParseCommand(line)
	d.mu.Lock()
	defer d.mu.Unlock()

	if strings.HasPrefix(cmd.Header, "*") {
		d.metrics.command(d.name, cmd.Header, cmd.Query)
		return d.common(cmd)
	}

	req, h, ok := d.router.Match(cmd)
	if !ok {
		d.metrics.command(d.name, "unknown", cmd.Query)
		d.fail(cmd, errUndefinedHeader)
		return "", false
	}
	d.metrics.command(d.name, req.Pattern, cmd.Query)
	reply, err := h(req)
	if err != nil {
		d.fail(cmd, err)
		return "", false
	}
	return reply, cmd.Query
}

func (d *Device) common(cmd Command) (string, bool) {
	switch {
	case cmd.Header == "*IDN" && cmd.Query:
		return d.idn, true
	case cmd.Header == "*CLS":
		d.esr = 0
	case cmd.Header == "*RST":
		d.esr = 0
		if d.reset != nil {
			d.reset()
		}
	case cmd.Header == "*OPC" && cmd.Query:
		return "1", true
	case cmd.Header == "*OPC":
		d.esr |= visa.ESROperationComplete
	case cmd.Header == "*ESR" && cmd.Query:
		esr := d.esr
		d.esr = 0
		return strconv.Itoa(esr), true
	case cmd.Header == "*WAI":
	case cmd.Query && (cmd.Header == "*ESE" || cmd.Header == "*SRE" || cmd.Header == "*STB" || cmd.Header == "*TST"):
		return "0", true
	case cmd.Header == "*ESE" || cmd.Header == "*SRE":
	default:
		d.fail(cmd, errUndefinedHeader)
	}
	return "", false
}

func (d *Device) fail(cmd Command, err error) {
	bit, name := visa.ESRDeviceError, "device"
	switch {
	case errors.Is(err, visa.ErrCommandError):
		bit, name = visa.ESRCommandError, "command"
	case errors.Is(err, visa.ErrExecutionError):
		bit, name = visa.ESRExecutionError, "execution"
	case errors.Is(err, visa.ErrQueryError):
		bit, name = visa.ESRQueryError, "query"
	}
	d.esr |= bit
	d.metrics.fault(d.name, name)
	d.logger.Debug("command rejected", "instrument", d.name, "command", cmd.Raw, "error", err)
}

// Serve reads commands from conn and writes query replies back.
func (d *Device) Serve(conn net.Conn) {
	var sp Splitter
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		for _, line := range sp.Feed(buf[:n]) {
			reply, ok := d.Exec(line)
			if !ok {
				continue
			}
			d.mu.Lock()
			term := d.term
			d.mu.Unlock()
			if _, werr := conn.Write([]byte(reply + term)); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// onOff parses a boolean SCPI parameter.
func onOff(p string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(p)) {
	case "ON", "1":
		return true, nil
	case "OFF", "0":
		return false, nil
	case "":
		return false, errMissingParam
	}
	return false, errIllegalValue
}

func boolReply(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// number parses a numeric parameter, accepting MIN and MAX.
func number(p string, min, max float64) (float64, error) {
	switch strings.ToUpper(strings.TrimSpace(p)) {
	case "":
		return 0, errMissingParam
	case "MIN", "MINIMUM":
		return min, nil
	case "MAX", "MAXIMUM":
		return max, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
	if err != nil {
		return 0, errIllegalValue
	}
	if v < min || v > max {
		return 0, errDataOutOfRange
	}
	return v, nil
}

func formatNR3(v float64) string {
	return fmt.Sprintf("%+.11E", v)
}
