package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Samtec-ASH/govisainstrument/internal/config"
	"github.com/Samtec-ASH/govisainstrument/internal/visa"
	"github.com/Samtec-ASH/govisainstrument/internal/visa/visatest"
)

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.NoError(t, scanner.Err())
	return entries
}

func newLogger(t *testing.T) *Logger {
	t.Helper()
	logger, err := NewLogger(config.Audit{
		Path:       filepath.Join(t.TempDir(), "logs", "audit.jsonl"),
		MaxSizeMB:  1,
		MaxBackups: 2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close() })
	return logger
}

func TestNewLogger(t *testing.T) {
	_, err := NewLogger(config.Audit{})
	assert.Error(t, err)

	logger := newLogger(t)
	assert.Equal(t, "audit.jsonl", filepath.Base(logger.FilePath()))
	_, err = os.Stat(filepath.Dir(logger.FilePath()))
	assert.NoError(t, err, "log directory is created")
}

func TestObserve(t *testing.T) {
	logger := newLogger(t)
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	logger.Observe(visa.Exchange{
		Time:     start,
		Resource: "vna",
		Address:  "TCPIP0::10.0.0.5::5025::SOCKET",
		Session:  "0b0e4cde-2f5a-4a8e-9b1f-4c8d1c7f0a11",
		Op:       visa.OpQuery,
		Command:  "SENSE1:FREQ:STAR?",
		Response: "+1.00000000000E+007",
		Duration: 1500 * time.Microsecond,
	})
	logger.Observe(visa.Exchange{
		Time:     start.Add(time.Second),
		Resource: "vna",
		Address:  "TCPIP0::10.0.0.5::5025::SOCKET",
		Op:       visa.OpWrite,
		Command:  "SENSE1:SWE:MODE SINGle",
		Err:      &visa.InstrumentError{Address: "TCPIP0::10.0.0.5::5025::SOCKET", Command: "SENSE1:SWE:MODE SINGle", ESR: 0x21},
	})

	entries := readEntries(t, logger.FilePath())
	require.Len(t, entries, 2)

	assert.Equal(t, start, entries[0].Timestamp)
	assert.Equal(t, "vna", entries[0].Instrument)
	assert.Equal(t, visa.OpQuery, entries[0].Op)
	assert.Equal(t, "+1.00000000000E+007", entries[0].Response)
	assert.Equal(t, 1.5, entries[0].DurationMs)
	assert.Equal(t, CodeSuccess, entries[0].Code)
	assert.Empty(t, entries[0].Error)

	assert.Equal(t, CodeInstrumentError, entries[1].Code)
	assert.Contains(t, entries[1].Error, "command error")
}

func TestObserve_Resource(t *testing.T) {
	logger := newLogger(t)
	ctx := context.Background()

	fake := visatest.New()
	opts := append(visatest.Options(fake), visa.WithObserver(logger))
	r := visa.NewResource("psu", visatest.Address, opts...)

	require.NoError(t, r.Open(ctx))
	session := r.SessionID()
	require.NoError(t, r.Write(ctx, "OUTP:STAT ON"))
	idn, err := r.ID(ctx)
	require.NoError(t, err)
	_, err = r.Query(ctx, "UNKNOWN?")
	require.Error(t, err)
	require.NoError(t, r.Close(ctx))

	entries := readEntries(t, logger.FilePath())
	require.Len(t, entries, 5)

	ops := make([]visa.Op, len(entries))
	for i, e := range entries {
		ops[i] = e.Op
		assert.Equal(t, "psu", e.Instrument)
		assert.Equal(t, session, e.Session)
	}
	assert.Equal(t, []visa.Op{visa.OpOpen, visa.OpWrite, visa.OpQuery, visa.OpQuery, visa.OpClose}, ops)
	assert.Equal(t, "OUTP:STAT ON", entries[1].Command)
	assert.Equal(t, idn, entries[2].Response)
	assert.Equal(t, CodeTimeout, entries[3].Code)
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, CodeSuccess},
		{visa.ErrNotOpen, CodeNotOpen},
		{fmt.Errorf("wait: %w", visa.ErrCompletionTimeout), CodeCompletionTimeout},
		{visa.ErrTimeout, CodeTimeout},
		{os.ErrDeadlineExceeded, CodeTimeout},
		{context.DeadlineExceeded, CodeTimeout},
		{visa.ErrUnsupportedAddress, CodeUnsupported},
		{visa.ErrDeviceNotFound, CodeNotFound},
		{visa.ErrInvalidBlock, CodeInvalidBlock},
		{&visa.InstrumentError{ESR: 0x10}, CodeInstrumentError},
		{errors.New("connection reset by peer"), CodeError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Code(tt.err), "%v", tt.err)
	}
}

func TestRotate(t *testing.T) {
	logger := newLogger(t)
	logger.Observe(visa.Exchange{Time: time.Now(), Resource: "daq", Op: visa.OpWrite, Command: "ROUT:OPEN (@101)"})

	require.NoError(t, logger.Rotate())
	logger.Observe(visa.Exchange{Time: time.Now(), Resource: "daq", Op: visa.OpWrite, Command: "ROUT:CLOS (@101)"})

	entries := readEntries(t, logger.FilePath())
	require.Len(t, entries, 1)
	assert.Equal(t, "ROUT:CLOS (@101)", entries[0].Command)

	files, err := os.ReadDir(filepath.Dir(logger.FilePath()))
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestClose_DropsLaterEntries(t *testing.T) {
	logger := newLogger(t)
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())

	logger.Observe(visa.Exchange{Time: time.Now(), Resource: "relay", Op: visa.OpQuery, Command: "ver"})
	_, err := os.Stat(logger.FilePath())
	assert.True(t, os.IsNotExist(err))
}
