// Package audit writes an append-only JSONL transaction log of every
// instrument exchange.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Samtec-ASH/govisainstrument/internal/config"
	"github.com/Samtec-ASH/govisainstrument/internal/visa"
)

// Entry is a single transaction log record.
type Entry struct {
	Timestamp  time.Time `json:"ts"`
	Session    string    `json:"session,omitempty"`
	Instrument string    `json:"instrument"`
	Address    string    `json:"address"`
	Op         visa.Op   `json:"op"`
	Command    string    `json:"command,omitempty"`
	Response   string    `json:"response,omitempty"`
	DurationMs float64   `json:"durationMs"`
	Code       string    `json:"code"`
	Error      string    `json:"error,omitempty"`
}

// Result codes.
const (
	CodeSuccess           = "SUCCESS"
	CodeNotOpen           = "NOT_OPEN"
	CodeTimeout           = "TIMEOUT"
	CodeCompletionTimeout = "COMPLETION_TIMEOUT"
	CodeInstrumentError   = "INSTRUMENT_ERROR"
	CodeUnsupported       = "UNSUPPORTED_ADDRESS"
	CodeNotFound          = "DEVICE_NOT_FOUND"
	CodeInvalidBlock      = "INVALID_BLOCK"
	CodeError             = "ERROR"
)

// Logger records visa exchanges. It implements visa.Observer.
type Logger struct {
	mu       sync.Mutex
	filePath string
	w        io.WriteCloser
	errLog   *slog.Logger
}

// NewLogger opens the log file described by cfg, rotating it with
// lumberjack.
func NewLogger(cfg config.Audit) (*Logger, error) {
	if cfg.Path == "" {
		return nil, errors.New("audit log path is required")
	}

	// Ensure log directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return &Logger{filePath: cfg.Path, w: w, errLog: slog.Default()}, nil
}

// NewWriterLogger records to w instead of a rotated file.
func NewWriterLogger(w io.WriteCloser) *Logger {
	return &Logger{w: w, errLog: slog.Default()}
}

// Observe records one exchange.
func (l *Logger) Observe(e visa.Exchange) {
	entry := Entry{
		Timestamp:  e.Time.UTC(),
		Session:    e.Session,
		Instrument: e.Resource,
		Address:    e.Address,
		Op:         e.Op,
		Command:    e.Command,
		Response:   e.Response,
		DurationMs: float64(e.Duration) / float64(time.Millisecond),
		Code:       Code(e.Err),
	}
	if e.Err != nil {
		entry.Error = e.Err.Error()
	}
	l.writeEntry(entry)
}

// writeEntry writes an entry as one JSON line.
func (l *Logger) writeEntry(entry Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.w == nil {
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		l.errLog.Error("failed to marshal audit entry", "error", err)
		return
	}

	if _, err := l.w.Write(append(data, '\n')); err != nil {
		l.errLog.Error("failed to write audit entry", "error", err)
	}
}

// Code maps an exchange error to a result code.
func Code(err error) string {
	if err == nil {
		return CodeSuccess
	}

	var instErr *visa.InstrumentError
	switch {
	case errors.As(err, &instErr):
		return CodeInstrumentError
	case errors.Is(err, visa.ErrNotOpen):
		return CodeNotOpen
	case errors.Is(err, visa.ErrCompletionTimeout):
		return CodeCompletionTimeout
	case errors.Is(err, visa.ErrTimeout), errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, visa.ErrUnsupportedAddress):
		return CodeUnsupported
	case errors.Is(err, visa.ErrDeviceNotFound):
		return CodeNotFound
	case errors.Is(err, visa.ErrInvalidBlock):
		return CodeInvalidBlock
	}
	return CodeError
}

// FilePath returns the path of the log file; empty for writer loggers.
func (l *Logger) FilePath() string {
	return l.filePath
}

// Rotate closes the current file and starts a new one. Writer loggers are
// left untouched.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lj, ok := l.w.(*lumberjack.Logger); ok {
		return lj.Rotate()
	}
	return nil
}

// Close closes the underlying writer. Later exchanges are dropped.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.w != nil {
		err := l.w.Close()
		l.w = nil
		return err
	}
	return nil
}
