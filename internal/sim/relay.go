package sim

import (
	"bufio"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
)

// RelayOptions configures a simulated relay module.
type RelayOptions struct {
	Channels int
	// Login enables the telnet "User Name:"/"Password:" dialogue of the
	// Ethernet modules. Without it the module behaves like the USB variant.
	Login    bool
	User     string
	Password string
	Version  string
}

// RelaySnapshot is the observable state of a simulated relay module.
type RelaySnapshot struct {
	Channels int    `json:"channels"`
	On       []bool `json:"on"`
	Logins   int    `json:"logins"`
}

// Relay simulates a Numato relay module's text console.
type Relay struct {
	name string
	opts RelayOptions

	mu      sync.Mutex
	on      []bool
	logins  int
	metrics *Metrics
	logger  *slog.Logger
}

// NewRelay creates a simulated relay module.
func NewRelay(name string, opts RelayOptions) *Relay {
	if opts.Channels <= 0 {
		opts.Channels = 8
	}
	if opts.User == "" {
		opts.User = "admin"
	}
	if opts.Password == "" {
		opts.Password = "admin"
	}
	if opts.Version == "" {
		opts.Version = "00000008"
	}
	return &Relay{
		name:   name,
		opts:   opts,
		on:     make([]bool, opts.Channels),
		logger: slog.Default(),
	}
}

// Name returns the instrument name.
func (r *Relay) Name() string { return r.name }

// Kind returns "relay".
func (r *Relay) Kind() string { return "relay" }

// SetMetrics attaches traffic counters.
func (r *Relay) SetMetrics(m *Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = m
}

// Reset switches every relay off.
func (r *Relay) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.on = make([]bool, r.opts.Channels)
}

// Snapshot returns the relay states.
func (r *Relay) Snapshot() interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RelaySnapshot{
		Channels: r.opts.Channels,
		On:       append([]bool(nil), r.on...),
		Logins:   r.logins,
	}
}

func (r *Relay) newline() string {
	if r.opts.Login {
		return "\r\n"
	}
	return "\n\r"
}

// Serve runs the console on conn.
func (r *Relay) Serve(conn net.Conn) {
	br := bufio.NewReader(conn)
	nl := r.newline()
	if r.opts.Login {
		if !r.login(conn, br) {
			return
		}
	}
	for {
		line, err := readLine(br)
		if err != nil {
			return
		}
		reply := line + nl
		if out, ok := r.exec(line); ok {
			reply += out + nl
		}
		if _, err := conn.Write([]byte(reply + ">")); err != nil {
			return
		}
	}
}

func (r *Relay) login(conn net.Conn, br *bufio.Reader) bool {
	if _, err := conn.Write([]byte("User Name: ")); err != nil {
		return false
	}
	user, err := readLine(br)
	if err != nil {
		return false
	}
	if _, err := conn.Write([]byte("Password: ")); err != nil {
		return false
	}
	password, err := readLine(br)
	if err != nil {
		return false
	}
	if user != r.opts.User || password != r.opts.Password {
		conn.Write([]byte("\r\nLogin failed\r\n"))
		r.metrics.fault(r.name, "login")
		return false
	}
	r.mu.Lock()
	r.logins++
	r.mu.Unlock()
	_, err = conn.Write([]byte("\r\nLogged in successfully\r\n>"))
	return err == nil
}

// readLine returns the next non-empty line terminated by CR or LF.
func readLine(br *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		b, err := br.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '\r' || b == '\n' {
			if sb.Len() > 0 {
				return strings.TrimSpace(sb.String()), nil
			}
			continue
		}
		sb.WriteByte(b)
	}
}

func (r *Relay) exec(line string) (string, bool) {
	fields := strings.Fields(strings.ToLower(line))
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case len(fields) == 1 && fields[0] == "ver":
		r.metrics.command(r.name, "ver", true)
		return r.opts.Version, true
	case len(fields) == 3 && fields[0] == "relay":
		ch, err := strconv.Atoi(fields[2])
		if err != nil || ch < 0 || ch >= len(r.on) {
			r.metrics.fault(r.name, "channel")
			return "", false
		}
		switch fields[1] {
		case "read":
			r.metrics.command(r.name, "relay read", true)
			if r.on[ch] {
				return "on", true
			}
			return "off", true
		case "on", "off":
			r.metrics.command(r.name, "relay "+fields[1], false)
			r.on[ch] = fields[1] == "on"
			return "", false
		}
	}
	r.metrics.fault(r.name, "command")
	r.logger.Debug("unknown relay command", "instrument", r.name, "command", line)
	return "", false
}
