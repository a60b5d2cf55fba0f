package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadBench_Defaults(t *testing.T) {
	t.Setenv(EnvBenchConfig, "")

	cfg, err := LoadBench("")
	require.NoError(t, err)

	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 35*time.Millisecond, cfg.Timing.Delay)
	assert.Equal(t, 2*time.Second, cfg.Timing.Timeout)
	assert.Equal(t, 3, cfg.Timing.QueryAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Timing.CompletionPoll)
	assert.Equal(t, 300*time.Second, cfg.Timing.CompletionTimeout)
	assert.Equal(t, 2*time.Second, cfg.Timing.RouteTimeout)
	assert.Empty(t, cfg.Audit.Path)
	assert.Empty(t, cfg.Instruments)
}

func TestLoadBench_File(t *testing.T) {
	path := writeFile(t, `
logging:
  format: json
  level: debug
timing:
  delay: 10ms
  query_attempts: 5
audit:
  path: /tmp/visa-audit.jsonl
instruments:
  - name: vna
    driver: keysight-vna
    address: TCPIP0::10.0.0.5::5025::SOCKET
    timeout: 10s
    options:
      ports: 2
      ecal_poll: 250ms
  - name: relay
    driver: numato-relay
    address: USB::/dev/ttyACM0
`)

	cfg, err := LoadBench(path)
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 10*time.Millisecond, cfg.Timing.Delay)
	assert.Equal(t, 5, cfg.Timing.QueryAttempts)
	// Unset keys keep their defaults.
	assert.Equal(t, 2*time.Second, cfg.Timing.Timeout)
	assert.Equal(t, DefaultAuditMaxSizeMB, cfg.Audit.MaxSizeMB)

	require.Len(t, cfg.Instruments, 2)
	vna, ok := cfg.Instrument("vna")
	require.True(t, ok)
	assert.Equal(t, "keysight-vna", vna.Driver)
	assert.Equal(t, 10*time.Second, vna.Timeout)
	assert.Equal(t, 2, vna.Options["ports"])
	assert.Equal(t, "250ms", vna.Options["ecal_poll"])

	_, ok = cfg.Instrument("psu")
	assert.False(t, ok)
}

func TestLoadBench_PathFromEnv(t *testing.T) {
	path := writeFile(t, "logging:\n  level: warn\n")
	t.Setenv(EnvBenchConfig, path)

	cfg, err := LoadBench("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadBench_EnvOverrides(t *testing.T) {
	path := writeFile(t, "timing:\n  delay: 10ms\n")
	t.Setenv("GOVISA_TIMING_DELAY", "0s")
	t.Setenv("GOVISA_TIMING_TIMEOUT", "5s")
	t.Setenv("GOVISA_TIMING_QUERY_ATTEMPTS", "1")
	t.Setenv("GOVISA_TIMING_ROUTE_TIMEOUT", "500ms")
	t.Setenv("GOVISA_LOG_LEVEL", "error")
	t.Setenv("GOVISA_AUDIT_PATH", "audit.jsonl")

	cfg, err := LoadBench(path)
	require.NoError(t, err)

	assert.Zero(t, cfg.Timing.Delay)
	assert.Equal(t, 5*time.Second, cfg.Timing.Timeout)
	assert.Equal(t, 1, cfg.Timing.QueryAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Timing.RouteTimeout)
	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, "audit.jsonl", cfg.Audit.Path)
}

func TestLoadBench_Errors(t *testing.T) {
	t.Setenv(EnvBenchConfig, "")

	tests := []struct {
		name    string
		content string
		env     map[string]string
		want    string
	}{
		{
			name: "missing file",
			want: "failed to load",
		},
		{
			name:    "unknown key",
			content: "timing:\n  delays: 10ms\n",
			want:    "failed to load",
		},
		{
			name:    "bad env duration",
			content: "{}\n",
			env:     map[string]string{"GOVISA_TIMING_TIMEOUT": "soon"},
			want:    "GOVISA_TIMING_TIMEOUT",
		},
		{
			name:    "bad env attempts",
			content: "{}\n",
			env:     map[string]string{"GOVISA_TIMING_QUERY_ATTEMPTS": "many"},
			want:    "GOVISA_TIMING_QUERY_ATTEMPTS",
		},
		{
			name:    "invalid level",
			content: "logging:\n  level: verbose\n",
			want:    "invalid log level",
		},
		{
			name:    "duplicate instrument",
			content: "instruments:\n  - {name: a, driver: keysight-psu, address: x}\n  - {name: a, driver: keysight-psu, address: y}\n",
			want:    "duplicate instrument name a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := filepath.Join(t.TempDir(), "missing.yaml")
			if tt.content != "" {
				path = writeFile(t, tt.content)
			}
			_, err := LoadBench(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadSim(t *testing.T) {
	t.Setenv(EnvSimConfig, "")

	cfg, err := LoadSim("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSimHost, cfg.Host)
	assert.Len(t, cfg.Instruments, 4)

	path := writeFile(t, `
host: 0.0.0.0
http_addr: ""
instruments:
  - name: pna
    kind: vna
    port: 6000
    ports: 2
    idn: Keysight Technologies,N5225B,SIM,1.0
`)
	t.Setenv("VISASIM_HOST", "127.0.0.2")

	cfg, err = LoadSim(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.2", cfg.Host)
	assert.Empty(t, cfg.HTTPAddr)
	require.Len(t, cfg.Instruments, 1)
	assert.Equal(t, SimInstrument{Name: "pna", Kind: "vna", Port: 6000, Ports: 2, IDN: "Keysight Technologies,N5225B,SIM,1.0"}, cfg.Instruments[0])
}

func TestLoadSim_HTTPAddrOverride(t *testing.T) {
	t.Setenv(EnvSimConfig, "")
	t.Setenv("VISASIM_HTTP_ADDR", "")

	cfg, err := LoadSim("")
	require.NoError(t, err)
	assert.Empty(t, cfg.HTTPAddr)
}

func TestLogging_NewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := Logging{Format: "json", Level: "warn"}.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "instrument", "vna")

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "vna", rec["instrument"])
}

func TestLoad_ExampleFiles(t *testing.T) {
	bench, err := LoadBench(filepath.Join("..", "..", "config", "bench.example.yaml"))
	require.NoError(t, err)
	require.Len(t, bench.Instruments, 4)
	relay, ok := bench.Instrument("relay")
	require.True(t, ok)
	assert.Equal(t, "numato-relay", relay.Driver)
	assert.Equal(t, 5*time.Minute, bench.Timing.CompletionTimeout)

	sim, err := LoadSim(filepath.Join("..", "..", "config", "visasim.yaml"))
	require.NoError(t, err)
	require.Len(t, sim.Instruments, 4)
	assert.True(t, sim.Instruments[3].Login)
}
