package visa

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Resource defaults.
const (
	DefaultDelay             = 35 * time.Millisecond
	DefaultQueryAttempts     = 3
	DefaultCompletionPoll    = 100 * time.Millisecond
	DefaultCompletionTimeout = 300 * time.Second
)

// Resource is a named instrument reachable at a VISA address. Every command
// is preceded by the configured delay, and exchanges on one resource are
// serialised so a query's write and read are never interleaved with another
// caller's.
type Resource struct {
	name    string
	address string

	opts              OpenOptions
	delay             time.Duration
	queryAttempts     int
	completionPoll    time.Duration
	completionTimeout time.Duration

	dialer   Dialer
	resolver *Resolver
	logger   *slog.Logger
	observer Observer

	mu        sync.Mutex
	session   *Session
	sessionID string
	resolved  string
}

// Option configures a Resource.
type Option func(*Resource)

// WithTerminations sets the read and write terminations.
func WithTerminations(read, write string) Option {
	return func(r *Resource) {
		r.opts.ReadTermination = read
		r.opts.WriteTermination = write
	}
}

// WithBaudRate sets the serial baud rate.
func WithBaudRate(baud int) Option {
	return func(r *Resource) { r.opts.BaudRate = baud }
}

// WithTimeout sets the I/O timeout for a single read or write.
func WithTimeout(d time.Duration) Option {
	return func(r *Resource) { r.opts.Timeout = d }
}

// WithDelay sets the pause before each command. Zero disables it.
func WithDelay(d time.Duration) Option {
	return func(r *Resource) { r.delay = d }
}

// WithQueryAttempts sets how many times a failed query is attempted.
func WithQueryAttempts(n int) Option {
	return func(r *Resource) {
		if n > 0 {
			r.queryAttempts = n
		}
	}
}

// WithCompletion sets the *ESR? polling interval and completion timeout used
// by WriteAsync and SyncNonBlocking.
func WithCompletion(poll, timeout time.Duration) Option {
	return func(r *Resource) {
		if poll > 0 {
			r.completionPoll = poll
		}
		if timeout != 0 {
			r.completionTimeout = timeout
		}
	}
}

// WithDialer replaces the transport used by Open.
func WithDialer(d Dialer) Option {
	return func(r *Resource) { r.dialer = d }
}

// WithResolver replaces the address resolver. A nil resolver disables
// resolution.
func WithResolver(res *Resolver) Option {
	return func(r *Resource) { r.resolver = res }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resource) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithObserver registers an observer for every exchange.
func WithObserver(o Observer) Option {
	return func(r *Resource) { r.observer = o }
}

// NewResource creates a closed resource.
func NewResource(name, address string, opts ...Option) *Resource {
	r := &Resource{
		name:              name,
		address:           address,
		delay:             DefaultDelay,
		queryAttempts:     DefaultQueryAttempts,
		completionPoll:    DefaultCompletionPoll,
		completionTimeout: DefaultCompletionTimeout,
		dialer:            DefaultDialer,
		resolver:          DefaultResolver,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.opts = r.opts.withDefaults()
	return r
}

// Name returns the instrument name.
func (r *Resource) Name() string { return r.name }

// Address returns the configured resource string.
func (r *Resource) Address() string { return r.address }

// SessionID identifies the current session; empty while closed.
func (r *Resource) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// IsOpen reports whether a session is open.
func (r *Resource) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session != nil
}

// Open resolves the address and opens a session. Opening an open resource
// is a no-op.
func (r *Resource) Open(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		return nil
	}
	start := time.Now()
	resolved := r.address
	if r.resolver != nil {
		var err error
		resolved, err = r.resolver.Resolve(ctx, r.address, r.opts)
		if err != nil {
			r.observe(OpOpen, "", "", start, err)
			return err
		}
	}
	addr, err := ParseAddress(resolved)
	if err != nil {
		r.observe(OpOpen, "", "", start, err)
		return err
	}
	session, err := Dial(ctx, r.dialer, addr, r.opts)
	if err != nil {
		r.observe(OpOpen, "", "", start, err)
		return err
	}
	r.session = session
	r.sessionID = uuid.NewString()
	r.resolved = resolved
	r.logger.Info("resource opened", "instrument", r.name, "address", resolved, "session", r.sessionID)
	r.observe(OpOpen, "", "", start, nil)
	return nil
}

// Close clears the instrument status, waits the command delay and closes
// the session. Closing a closed resource is a no-op.
func (r *Resource) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return nil
	}
	start := time.Now()
	clsErr := r.session.WriteString(ctx, "*CLS")
	if clsErr == nil {
		clsErr = Sleep(ctx, r.delay)
	}
	closeErr := r.session.Close()
	err := errors.Join(clsErr, closeErr)
	r.observe(OpClose, "", "", start, err)
	r.logger.Info("resource closed", "instrument", r.name, "session", r.sessionID)
	r.session = nil
	r.sessionID = ""
	return err
}

// Write sends a single command.
func (r *Resource) Write(ctx context.Context, cmd string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.write(ctx, cmd)
}

// Writef formats and sends a single command.
func (r *Resource) Writef(ctx context.Context, format string, args ...interface{}) error {
	return r.Write(ctx, fmt.Sprintf(format, args...))
}

// Read reads one terminated reply.
func (r *Resource) Read(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return "", ErrNotOpen
	}
	start := time.Now()
	if err := Sleep(ctx, r.delay); err != nil {
		return "", err
	}
	resp, err := r.session.ReadString(ctx)
	r.observe(OpRead, "", resp, start, err)
	if err != nil {
		return "", err
	}
	r.logger.Debug("read", "instrument", r.name, "session", r.sessionID, "response", resp)
	return resp, nil
}

// Query sends cmd and returns the reply with surrounding whitespace removed.
func (r *Resource) Query(ctx context.Context, cmd string) (string, error) {
	var out string
	err := r.queryParsed(ctx, cmd, func(resp string) error {
		out = resp
		return nil
	})
	return out, err
}

// QueryFloat queries a single floating point value.
func (r *Resource) QueryFloat(ctx context.Context, cmd string) (float64, error) {
	var out float64
	err := r.queryParsed(ctx, cmd, func(resp string) error {
		v, err := strconv.ParseFloat(resp, 64)
		out = v
		return err
	})
	return out, err
}

// QueryInt queries a single integer value. Replies in floating point
// notation such as +1.0E+00 are accepted when they are whole numbers.
func (r *Resource) QueryInt(ctx context.Context, cmd string) (int, error) {
	var out int
	err := r.queryParsed(ctx, cmd, func(resp string) error {
		v, err := ParseInt(resp)
		out = v
		return err
	})
	return out, err
}

// QueryBool queries a boolean. 0, false, no and off are false; anything
// else is true.
func (r *Resource) QueryBool(ctx context.Context, cmd string) (bool, error) {
	var out bool
	err := r.queryParsed(ctx, cmd, func(resp string) error {
		out = ParseBool(resp)
		return nil
	})
	return out, err
}

// QueryASCIIValues queries a comma separated list of numbers.
func (r *Resource) QueryASCIIValues(ctx context.Context, cmd string) ([]float64, error) {
	var out []float64
	err := r.queryParsed(ctx, cmd, func(resp string) error {
		v, err := ParseASCIIValues(resp)
		out = v
		return err
	})
	return out, err
}

// QueryBinaryValues queries a definite-length block of 32 or 64 bit floats.
func (r *Resource) QueryBinaryValues(ctx context.Context, cmd string, bits int, order binary.ByteOrder) ([]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	for attempt := 0; attempt < r.queryAttempts; attempt++ {
		var values []float64
		values, err = r.queryBlock(ctx, cmd, bits, order)
		if err == nil {
			return values, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		r.logger.Warn("query attempt failed", "instrument", r.name, "attempt", attempt+1, "max", r.queryAttempts, "cmd", cmd, "error", err)
	}
	return nil, err
}

// QueryValues queries an array in the given transfer format.
func (r *Resource) QueryValues(ctx context.Context, cmd string, f DataFormat, order binary.ByteOrder) ([]float64, error) {
	if f.Binary {
		return r.QueryBinaryValues(ctx, cmd, f.bits(), order)
	}
	return r.QueryASCIIValues(ctx, cmd)
}

// ID returns the *IDN? reply.
func (r *Resource) ID(ctx context.Context) (string, error) {
	return r.Query(ctx, "*IDN?")
}

// AsyncOptions tunes WriteAsync. Zero values take the resource defaults; a
// negative Timeout waits forever.
type AsyncOptions struct {
	Poll        time.Duration
	MaxAttempts int
	Timeout     time.Duration
}

// WriteAsync sends a long running command and waits for it to complete by
// polling the event status register. The status is cleared before the
// command, so any outstanding *OPC is cancelled.
func (r *Resource) WriteAsync(ctx context.Context, cmd string, opts AsyncOptions) error {
	if opts.Poll <= 0 {
		opts.Poll = r.completionPoll
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.Timeout == 0 {
		opts.Timeout = r.completionTimeout
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		err = r.writeAsyncOnce(ctx, cmd, opts)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, ErrNotOpen) {
			return err
		}
		r.logger.Warn("write attempt failed", "instrument", r.name, "attempt", attempt+1, "max", opts.MaxAttempts, "cmd", cmd, "error", err)
	}
	return err
}

func (r *Resource) writeAsyncOnce(ctx context.Context, cmd string, opts AsyncOptions) error {
	for _, c := range []string{"*CLS", cmd, "*OPC"} {
		if err := r.write(ctx, c); err != nil {
			return err
		}
	}
	return r.waitComplete(ctx, cmd, opts.Poll, opts.Timeout)
}

// SyncBlocking waits for queued commands with *OPC?. Only suitable when the
// commands finish within the I/O timeout.
func (r *Resource) SyncBlocking(ctx context.Context) (bool, error) {
	v, err := r.QueryInt(ctx, "*OPC?")
	if err != nil {
		return false, err
	}
	return v == 1, nil
}

// SyncNonBlocking waits for queued commands by setting *OPC and polling the
// event status register every poll interval.
func (r *Resource) SyncNonBlocking(ctx context.Context, poll time.Duration) error {
	if poll <= 0 {
		poll = r.completionPoll
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.write(ctx, "*OPC"); err != nil {
		return err
	}
	return r.waitComplete(ctx, "*OPC", poll, r.completionTimeout)
}

func (r *Resource) waitComplete(ctx context.Context, cmd string, poll, timeout time.Duration) error {
	start := time.Now()
	for {
		resp, err := r.query(ctx, "*ESR?")
		if err != nil {
			return err
		}
		esr, err := ParseInt(resp)
		if err != nil {
			return err
		}
		if esr&ESRErrorMask != 0 {
			return &InstrumentError{Address: r.address, Command: cmd, ESR: esr}
		}
		if esr&ESROperationComplete != 0 {
			return nil
		}
		if err := Sleep(ctx, poll); err != nil {
			return err
		}
		if timeout > 0 && time.Since(start) > timeout {
			return fmt.Errorf("%w for <%s> after %s", ErrCompletionTimeout, cmd, timeout)
		}
	}
}

// queryParsed runs query and parse together under the attempt budget, so a
// malformed reply is retried like a failed read.
func (r *Resource) queryParsed(ctx context.Context, cmd string, parse func(string) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	for attempt := 0; attempt < r.queryAttempts; attempt++ {
		var resp string
		resp, err = r.query(ctx, cmd)
		if err == nil {
			err = parse(resp)
			if err == nil {
				return nil
			}
		}
		if ctx.Err() != nil || errors.Is(err, ErrNotOpen) {
			return err
		}
		r.logger.Warn("query attempt failed", "instrument", r.name, "attempt", attempt+1, "max", r.queryAttempts, "cmd", cmd, "error", err)
	}
	return err
}

func (r *Resource) write(ctx context.Context, cmd string) error {
	if r.session == nil {
		return ErrNotOpen
	}
	start := time.Now()
	if err := Sleep(ctx, r.delay); err != nil {
		return err
	}
	r.logger.Debug("write", "instrument", r.name, "session", r.sessionID, "cmd", cmd)
	err := r.session.WriteString(ctx, cmd)
	r.observe(OpWrite, cmd, "", start, err)
	return err
}

func (r *Resource) query(ctx context.Context, cmd string) (string, error) {
	if r.session == nil {
		return "", ErrNotOpen
	}
	start := time.Now()
	if err := Sleep(ctx, r.delay); err != nil {
		return "", err
	}
	resp, err := r.exchange(ctx, cmd)
	r.observe(OpQuery, cmd, resp, start, err)
	if err != nil {
		return "", err
	}
	r.logger.Debug("query", "instrument", r.name, "session", r.sessionID, "cmd", cmd, "response", resp)
	return resp, nil
}

func (r *Resource) exchange(ctx context.Context, cmd string) (string, error) {
	if err := r.session.WriteString(ctx, cmd); err != nil {
		return "", err
	}
	resp, err := r.session.ReadString(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp), nil
}

func (r *Resource) queryBlock(ctx context.Context, cmd string, bits int, order binary.ByteOrder) ([]float64, error) {
	if r.session == nil {
		return nil, ErrNotOpen
	}
	start := time.Now()
	if err := Sleep(ctx, r.delay); err != nil {
		return nil, err
	}
	if err := r.session.WriteString(ctx, cmd); err != nil {
		r.observe(OpQuery, cmd, "", start, err)
		return nil, err
	}
	payload, err := r.session.ReadBlock(ctx)
	if err != nil {
		r.observe(OpQuery, cmd, "", start, err)
		return nil, err
	}
	values, err := DecodeFloats(payload, bits, order)
	r.observe(OpQuery, cmd, fmt.Sprintf("<%d bytes>", len(payload)), start, err)
	return values, err
}

func (r *Resource) observe(op Op, cmd, resp string, start time.Time, err error) {
	if r.observer == nil {
		return
	}
	address := r.resolved
	if address == "" {
		address = r.address
	}
	r.observer.Observe(Exchange{
		Time:     start,
		Resource: r.name,
		Address:  address,
		Session:  r.sessionID,
		Op:       op,
		Command:  cmd,
		Response: resp,
		Duration: time.Since(start),
		Err:      err,
	})
}

// ParseInt parses an integer reply, accepting whole numbers written in
// floating point notation.
func ParseInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	if v, err := strconv.Atoi(strings.TrimPrefix(s, "+")); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse integer %q: %w", s, err)
	}
	if f != float64(int(f)) {
		return 0, fmt.Errorf("parse integer %q: not a whole number", s)
	}
	return int(f), nil
}

// ParseBool parses a boolean reply.
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "0", "false", "no", "off":
		return false
	}
	return true
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
