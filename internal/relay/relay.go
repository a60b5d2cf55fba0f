// Package relay drives Numato Lab relay modules over USB (virtual serial
// port) or Ethernet (telnet console).
//
// Channels are numbered from 0. A closed channel is a relay switched on.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ziutek/telnet"

	"github.com/Samtec-ASH/govisainstrument/internal/visa"
)

// Defaults.
const (
	DefaultChannels = 8
	DefaultBaudRate = 19200
	DefaultUser     = "admin"
	DefaultPassword = "admin"
	DefaultTimeout  = time.Second
	DefaultDelay    = 20 * time.Millisecond
	DefaultTCPPort  = 23
)

// ErrLogin is returned when the telnet console rejects the credentials.
var ErrLogin = errors.New("relay: login failed")

// Config holds module specific settings.
type Config struct {
	Channels int           `mapstructure:"channels" yaml:"channels"`
	BaudRate int           `mapstructure:"baud_rate" yaml:"baud_rate"`
	User     string        `mapstructure:"user" yaml:"user"`
	Password string        `mapstructure:"password" yaml:"password"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Delay    time.Duration `mapstructure:"delay" yaml:"delay"`
	// Settle is waited after every relay change.
	Settle time.Duration `mapstructure:"settle" yaml:"settle"`
}

func (c Config) withDefaults() Config {
	if c.Channels <= 0 {
		c.Channels = DefaultChannels
	}
	if c.BaudRate <= 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.User == "" && c.Password == "" {
		c.User, c.Password = DefaultUser, DefaultPassword
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	switch {
	case c.Delay == 0:
		c.Delay = DefaultDelay
	case c.Delay < 0:
		c.Delay = 0
	}
	return c
}

// Transport is the kind of link to a module.
type Transport string

const (
	TransportTCP Transport = "TCP"
	TransportUSB Transport = "USB"
)

// Address locates a module: TCP::host[:port], USB::device or a bare device
// path.
type Address struct {
	Transport Transport
	Target    string
}

// ParseAddress parses a relay module address.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	kind, target, found := strings.Cut(s, "::")
	if !found {
		if s == "" {
			return Address{}, fmt.Errorf("%w: empty relay address", visa.ErrUnsupportedAddress)
		}
		return Address{Transport: TransportUSB, Target: s}, nil
	}
	if target == "" {
		return Address{}, fmt.Errorf("%w: missing target in %q", visa.ErrUnsupportedAddress, s)
	}
	switch Transport(strings.ToUpper(strings.TrimSpace(kind))) {
	case TransportUSB:
		return Address{Transport: TransportUSB, Target: target}, nil
	case TransportTCP:
		if _, _, err := net.SplitHostPort(target); err != nil {
			target = net.JoinHostPort(target, fmt.Sprint(DefaultTCPPort))
		}
		return Address{Transport: TransportTCP, Target: target}, nil
	}
	return Address{}, fmt.Errorf("%w: unsupported relay device type %q", visa.ErrUnsupportedAddress, kind)
}

// newline returns the line ending the module expects on a transport.
func (a Address) newline() string {
	if a.Transport == TransportTCP {
		return "\r\n"
	}
	return "\n\r"
}

// DialFunc opens the byte channel to a module.
type DialFunc func(ctx context.Context, addr Address, cfg Config) (visa.Conn, error)

func dialDefault(ctx context.Context, addr Address, cfg Config) (visa.Conn, error) {
	if addr.Transport == TransportTCP {
		d := net.Dialer{Timeout: cfg.Timeout}
		conn, err := d.DialContext(ctx, "tcp", addr.Target)
		if err != nil {
			return nil, err
		}
		tc, err := telnet.NewConn(conn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return tc, nil
	}
	port, err := visa.OpenSerial(addr.Target, cfg.BaudRate)
	if err != nil {
		return nil, err
	}
	if err := port.ResetBuffers(); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}

// Option configures a Relay.
type Option func(*Relay)

// WithDialer replaces the transport dialer.
func WithDialer(d DialFunc) Option {
	return func(r *Relay) { r.dial = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithObserver reports every exchange to o.
func WithObserver(o visa.Observer) Option {
	return func(r *Relay) { r.observer = o }
}

// Relay is a relay module session.
type Relay struct {
	name     string
	address  string
	cfg      Config
	dial     DialFunc
	logger   *slog.Logger
	observer visa.Observer

	mu        sync.Mutex
	addr      Address
	session   *visa.Session
	sessionID string
}

// New creates a closed relay module handle.
func New(name, address string, cfg Config, opts ...Option) *Relay {
	r := &Relay{
		name:    name,
		address: address,
		cfg:     cfg.withDefaults(),
		dial:    dialDefault,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the instrument name.
func (r *Relay) Name() string { return r.name }

// Address returns the configured address.
func (r *Relay) Address() string { return r.address }

// Channels returns the number of relays.
func (r *Relay) Channels() int { return r.cfg.Channels }

// SessionID identifies the current session; empty while closed.
func (r *Relay) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// IsOpen reports whether a session is open.
func (r *Relay) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session != nil
}

// Open connects to the module, logging in on the telnet console.
func (r *Relay) Open(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		return nil
	}
	start := time.Now()
	err := r.open(ctx)
	r.observe(visa.OpOpen, "", "", start, err)
	if err != nil {
		return err
	}
	r.logger.Info("relay module opened", "instrument", r.name, "address", r.address, "session", r.sessionID)
	return nil
}

func (r *Relay) open(ctx context.Context) error {
	addr, err := ParseAddress(r.address)
	if err != nil {
		return err
	}
	conn, err := r.dial(ctx, addr, r.cfg)
	if err != nil {
		return err
	}
	nl := addr.newline()
	session := visa.NewSession(conn, visa.OpenOptions{
		ReadTermination:  nl,
		WriteTermination: nl,
		Timeout:          r.cfg.Timeout,
	})
	if addr.Transport == TransportTCP {
		if err := r.login(ctx, session); err != nil {
			session.Close()
			return err
		}
	}
	r.addr = addr
	r.session = session
	r.sessionID = uuid.NewString()
	return nil
}

// loginTerm ends the credential lines; the console accepts it on both transports.
const loginTerm = "\n\r"

func (r *Relay) login(ctx context.Context, s *visa.Session) error {
	if _, err := s.ReadUntil(ctx, "User Name: "); err != nil {
		return err
	}
	if err := s.WriteBytes(ctx, []byte(r.cfg.User+loginTerm)); err != nil {
		return err
	}
	if r.cfg.Password != "" {
		if _, err := s.ReadUntil(ctx, "Password: "); err != nil {
			return err
		}
		if err := s.WriteBytes(ctx, []byte(r.cfg.Password+loginTerm)); err != nil {
			return err
		}
	}
	banner, err := s.ReadUntil(ctx, "\r\n>")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLogin, err)
	}
	if strings.Contains(strings.ToLower(banner), "failed") {
		return ErrLogin
	}
	return nil
}

// Close closes the session. Closing a closed module is a no-op.
func (r *Relay) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return nil
	}
	start := time.Now()
	err := r.session.Close()
	r.observe(visa.OpClose, "", "", start, err)
	r.logger.Info("relay module closed", "instrument", r.name, "session", r.sessionID)
	r.session = nil
	r.sessionID = ""
	return err
}

// command sends cmd and returns the console output, without the echoed
// command and the prompt.
func (r *Relay) command(ctx context.Context, cmd string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return "", visa.ErrNotOpen
	}
	start := time.Now()
	if err := visa.Sleep(ctx, r.cfg.Delay); err != nil {
		return "", err
	}
	nl := r.addr.newline()
	out, err := r.exchange(ctx, cmd, nl)
	r.observe(visa.OpQuery, cmd, out, start, err)
	if err != nil {
		return "", err
	}
	r.logger.Debug("relay command", "instrument", r.name, "session", r.sessionID, "cmd", cmd, "response", out)
	return out, nil
}

func (r *Relay) exchange(ctx context.Context, cmd, nl string) (string, error) {
	if err := r.session.WriteString(ctx, cmd); err != nil {
		return "", err
	}
	raw, err := r.session.ReadUntil(ctx, nl+">")
	if err != nil {
		return "", err
	}
	lines := strings.Split(raw, nl)
	var out []string
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || (i == 0 && line == cmd) {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n"), nil
}

func (r *Relay) checkChannel(ch int) error {
	if ch < 0 || ch >= r.cfg.Channels {
		return fmt.Errorf("channel must be in range [0, %d], got %d", r.cfg.Channels-1, ch)
	}
	return nil
}

// ChannelState reports whether relay ch is on (closed).
func (r *Relay) ChannelState(ctx context.Context, ch int) (bool, error) {
	if err := r.checkChannel(ch); err != nil {
		return false, err
	}
	out, err := r.command(ctx, fmt.Sprintf("relay read %d", ch))
	if err != nil {
		return false, err
	}
	switch strings.ToLower(out) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, fmt.Errorf("relay %s: unexpected state %q for channel %d", r.name, out, ch)
}

// IsChannelClosed reports whether relay ch is on.
func (r *Relay) IsChannelClosed(ctx context.Context, ch int) (bool, error) {
	return r.ChannelState(ctx, ch)
}

// IsChannelOpen reports whether relay ch is off.
func (r *Relay) IsChannelOpen(ctx context.Context, ch int) (bool, error) {
	on, err := r.ChannelState(ctx, ch)
	return !on, err
}

// SetChannel switches relay ch on or off.
func (r *Relay) SetChannel(ctx context.Context, ch int, on bool) error {
	if err := r.checkChannel(ch); err != nil {
		return err
	}
	state := "off"
	if on {
		state = "on"
	}
	if _, err := r.command(ctx, fmt.Sprintf("relay %s %d", state, ch)); err != nil {
		return err
	}
	return visa.Sleep(ctx, r.cfg.Settle)
}

// OpenChannel switches relay ch off.
func (r *Relay) OpenChannel(ctx context.Context, ch int) error {
	return r.SetChannel(ctx, ch, false)
}

// CloseChannel switches relay ch on.
func (r *Relay) CloseChannel(ctx context.Context, ch int) error {
	return r.SetChannel(ctx, ch, true)
}

// OpenChannels switches each relay off in turn.
func (r *Relay) OpenChannels(ctx context.Context, chs []int) error {
	for _, ch := range chs {
		if err := r.OpenChannel(ctx, ch); err != nil {
			return err
		}
	}
	return nil
}

// CloseChannels switches each relay on in turn.
func (r *Relay) CloseChannels(ctx context.Context, chs []int) error {
	for _, ch := range chs {
		if err := r.CloseChannel(ctx, ch); err != nil {
			return err
		}
	}
	return nil
}

// OpenAllChannels switches every relay off.
func (r *Relay) OpenAllChannels(ctx context.Context) error {
	return r.OpenChannels(ctx, r.all())
}

// CloseAllChannels switches every relay on.
func (r *Relay) CloseAllChannels(ctx context.Context) error {
	return r.CloseChannels(ctx, r.all())
}

func (r *Relay) all() []int {
	chs := make([]int, r.cfg.Channels)
	for i := range chs {
		chs[i] = i
	}
	return chs
}

// Version returns the module firmware version.
func (r *Relay) Version(ctx context.Context) (string, error) {
	return r.command(ctx, "ver")
}

func (r *Relay) observe(op visa.Op, cmd, resp string, start time.Time, err error) {
	if r.observer == nil {
		return
	}
	r.observer.Observe(visa.Exchange{
		Time:     start,
		Resource: r.name,
		Address:  r.address,
		Session:  r.sessionID,
		Op:       op,
		Command:  cmd,
		Response: resp,
		Duration: time.Since(start),
		Err:      err,
	})
}
