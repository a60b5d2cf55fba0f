package visa

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default session settings.
const (
	DefaultTermination = "\n"
	DefaultTimeout     = 2 * time.Second
	DefaultBaudRate    = 9600
)

// MaxBlockSize bounds the payload of a definite-length block.
const MaxBlockSize = 512 << 20

// Conn is the byte channel underneath a Session.
type Conn interface {
	io.ReadWriteCloser
	SetDeadline(t time.Time) error
}

// OpenOptions configures a session when it is dialed.
type OpenOptions struct {
	ReadTermination  string
	WriteTermination string
	BaudRate         int
	Timeout          time.Duration
}

func (o OpenOptions) withDefaults() OpenOptions {
	if o.ReadTermination == "" {
		o.ReadTermination = DefaultTermination
	}
	if o.WriteTermination == "" {
		o.WriteTermination = DefaultTermination
	}
	if o.BaudRate == 0 {
		o.BaudRate = DefaultBaudRate
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// Session is an open, terminated message channel to one instrument.
type Session struct {
	conn      Conn
	r         *bufio.Reader
	readTerm  string
	writeTerm string
	timeout   time.Duration
}

// NewSession wraps conn with the terminations and timeout from opts.
func NewSession(conn Conn, opts OpenOptions) *Session {
	opts = opts.withDefaults()
	return &Session{
		conn:      conn,
		r:         bufio.NewReader(conn),
		readTerm:  opts.ReadTermination,
		writeTerm: opts.WriteTermination,
		timeout:   opts.Timeout,
	}
}

// WriteString sends msg followed by the write termination.
func (s *Session) WriteString(ctx context.Context, msg string) error {
	return s.withDeadline(ctx, func() error {
		_, err := s.conn.Write([]byte(msg + s.writeTerm))
		return err
	})
}

// WriteBytes sends raw bytes without appending a termination.
func (s *Session) WriteBytes(ctx context.Context, b []byte) error {
	return s.withDeadline(ctx, func() error {
		_, err := s.conn.Write(b)
		return err
	})
}

// ReadString reads one message and strips the read termination.
func (s *Session) ReadString(ctx context.Context) (string, error) {
	var msg string
	err := s.withDeadline(ctx, func() error {
		var err error
		msg, err = s.readUntil(s.readTerm)
		return err
	})
	return msg, err
}

// ReadUntil reads until delim is seen and returns everything before it.
func (s *Session) ReadUntil(ctx context.Context, delim string) (string, error) {
	var msg string
	err := s.withDeadline(ctx, func() error {
		var err error
		msg, err = s.readUntil(delim)
		return err
	})
	return msg, err
}

// ReadBlock reads an IEEE 488.2 definite-length block and returns its payload.
// An indefinite block (#0) runs to the read termination.
func (s *Session) ReadBlock(ctx context.Context) ([]byte, error) {
	var payload []byte
	err := s.withDeadline(ctx, func() error {
		var err error
		payload, err = s.readBlock()
		return err
	})
	return payload, err
}

// Clear discards any buffered input.
func (s *Session) Clear() {
	s.r.Reset(s.conn)
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}

func (s *Session) readUntil(delim string) (string, error) {
	if delim == "" {
		return "", errors.New("empty read delimiter")
	}
	last := delim[len(delim)-1]
	var sb strings.Builder
	for {
		chunk, err := s.r.ReadString(last)
		sb.WriteString(chunk)
		if err != nil {
			return "", err
		}
		if strings.HasSuffix(sb.String(), delim) {
			return strings.TrimSuffix(sb.String(), delim), nil
		}
	}
}

func (s *Session) readBlock() ([]byte, error) {
	// Skip leading whitespace left over from a previous reply.
	var b byte
	var err error
	for {
		b, err = s.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != ' ' && b != '\r' && b != '\n' {
			break
		}
	}
	if b != '#' {
		return nil, fmt.Errorf("%w: expected '#', got %q", ErrInvalidBlock, b)
	}
	d, err := s.r.ReadByte()
	if err != nil {
		return nil, err
	}
	if d < '0' || d > '9' {
		return nil, fmt.Errorf("%w: bad header digit %q", ErrInvalidBlock, d)
	}
	n := int(d - '0')
	if n == 0 {
		msg, err := s.readUntil(s.readTerm)
		if err != nil {
			return nil, err
		}
		return []byte(msg), nil
	}
	digits := make([]byte, n)
	if _, err := io.ReadFull(s.r, digits); err != nil {
		return nil, err
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("%w: bad length %q", ErrInvalidBlock, digits)
		}
	}
	length, err := strconv.Atoi(string(digits))
	if err != nil {
		return nil, fmt.Errorf("%w: bad length %q", ErrInvalidBlock, digits)
	}
	if length > MaxBlockSize {
		return nil, fmt.Errorf("%w: length %d exceeds %d bytes", ErrInvalidBlock, length, MaxBlockSize)
	}
	// The buffer grows with the data actually received.
	var payload bytes.Buffer
	if _, err := io.CopyN(&payload, s.r, int64(length)); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	// Consume the trailing termination.
	if _, err := s.readUntil(s.readTerm); err != nil {
		return nil, err
	}
	return payload.Bytes(), nil
}

// withDeadline bounds fn by the session timeout and the context deadline, and
// aborts it when ctx is cancelled.
func (s *Session) withDeadline(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetDeadline(deadline); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetDeadline(time.Unix(1, 0))
	})
	err := fn()
	stop()
	if err == nil {
		return nil
	}
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) && errors.Is(err, os.ErrDeadlineExceeded) {
		return context.DeadlineExceeded
	}
	return err
}
