// Package visatest provides a scripted in-memory instrument for testing code
// built on visa.Resource.
//
// The fake records every terminated command it receives and answers from a
// reply table, an optional handler, and defaults for *IDN?, *OPC? and *ESR?.
// A query with no scripted reply reads as a timeout.
package visatest

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Samtec-ASH/govisainstrument/internal/visa"
)

// Instrument is a fake instrument endpoint.
type Instrument struct {
	mu        sync.Mutex
	readTerm  string
	writeTerm string
	pending   []byte
	out       bytes.Buffer
	commands  []string
	replies   map[string][]string
	deadline  time.Time
	dials     int
	closed    bool

	// IDN is returned for *IDN?.
	IDN string

	// ESR is returned for *ESR?.
	ESR int

	// Handler answers commands missing from the reply table. Returning false
	// leaves the command unanswered. It runs with the fake locked.
	Handler func(cmd string) (string, bool)
}

// New returns a fake answering *ESR? with operation complete.
func New() *Instrument {
	return &Instrument{
		replies: make(map[string][]string),
		IDN:     "Fake,Instrument,0,1.0",
		ESR:     visa.ESROperationComplete,
	}
}

// Reply scripts replies for cmd. Replies are consumed in order and the last
// one is repeated.
func (f *Instrument) Reply(cmd string, replies ...string) *Instrument {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[cmd] = append(f.replies[cmd], replies...)
	return f
}

// ReplyBlock scripts a binary block reply of float values.
func (f *Instrument) ReplyBlock(cmd string, values []float64, bits int, littleEndian bool) *Instrument {
	block := visa.EncodeFloats(values, bits, byteOrder(littleEndian))
	return f.Reply(cmd, string(block))
}

// Commands returns every command received so far.
func (f *Instrument) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// Writes returns received commands other than IEEE 488.2 common commands.
func (f *Instrument) Writes() []string {
	var out []string
	for _, c := range f.Commands() {
		if !strings.HasPrefix(c, "*") {
			out = append(out, c)
		}
	}
	return out
}

// ClearCommands empties the command log.
func (f *Instrument) ClearCommands() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = nil
}

// Dials reports how many sessions were opened.
func (f *Instrument) Dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

// Closed reports whether the last session was closed.
func (f *Instrument) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Dialer returns a dialer connecting to this fake.
func (f *Instrument) Dialer() visa.Dialer {
	return visa.DialerFunc(func(ctx context.Context, addr visa.Address, opts visa.OpenOptions) (visa.Conn, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.readTerm = opts.ReadTermination
		f.writeTerm = opts.WriteTermination
		if f.readTerm == "" {
			f.readTerm = visa.DefaultTermination
		}
		if f.writeTerm == "" {
			f.writeTerm = visa.DefaultTermination
		}
		f.pending = nil
		f.out.Reset()
		f.closed = false
		f.dials++
		return &conn{f: f}, nil
	})
}

// Options returns resource options wiring a resource to this fake with no
// command delay and short timeouts.
func Options(f *Instrument) []visa.Option {
	return []visa.Option{
		visa.WithDialer(f.Dialer()),
		visa.WithResolver(nil),
		visa.WithDelay(0),
		visa.WithTimeout(100 * time.Millisecond),
		visa.WithQueryAttempts(1),
		visa.WithCompletion(time.Millisecond, time.Second),
	}
}

// Address is a placeholder socket address for resources backed by a fake.
const Address = "TCPIP::fake-instrument::5025::SOCKET"

func (f *Instrument) receive(p []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, p...)
	for {
		i := bytes.Index(f.pending, []byte(f.writeTerm))
		if i < 0 {
			return
		}
		cmd := string(f.pending[:i])
		f.pending = f.pending[i+len(f.writeTerm):]
		f.commands = append(f.commands, cmd)
		if reply, ok := f.answer(cmd); ok {
			f.out.WriteString(reply)
			f.out.WriteString(f.readTerm)
		}
	}
}

func (f *Instrument) answer(cmd string) (string, bool) {
	if queue := f.replies[cmd]; len(queue) > 0 {
		reply := queue[0]
		if len(queue) > 1 {
			f.replies[cmd] = queue[1:]
		}
		return reply, true
	}
	if f.Handler != nil {
		if reply, ok := f.Handler(cmd); ok {
			return reply, true
		}
	}
	switch cmd {
	case "*IDN?":
		return f.IDN, true
	case "*OPC?":
		return "1", true
	case "*ESR?":
		return strconv.Itoa(f.ESR), true
	}
	return "", false
}

type conn struct {
	f *Instrument
}

func (c *conn) Read(p []byte) (int, error) {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	if c.f.closed {
		return 0, os.ErrClosed
	}
	if !c.f.deadline.IsZero() && time.Now().After(c.f.deadline) {
		return 0, os.ErrDeadlineExceeded
	}
	if c.f.out.Len() == 0 {
		return 0, visa.ErrTimeout
	}
	return c.f.out.Read(p)
}

func (c *conn) Write(p []byte) (int, error) {
	c.f.mu.Lock()
	closed := c.f.closed
	c.f.mu.Unlock()
	if closed {
		return 0, os.ErrClosed
	}
	c.f.receive(p)
	return len(p), nil
}

func (c *conn) Close() error {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	c.f.closed = true
	return nil
}

func (c *conn) SetDeadline(t time.Time) error {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	c.f.deadline = t
	return nil
}

func byteOrder(littleEndian bool) binary.ByteOrder {
	if littleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}
