package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Samtec-ASH/govisainstrument/internal/sim"
	"github.com/Samtec-ASH/govisainstrument/internal/simtest"
)

type testBench struct {
	config  string
	vna     *sim.VNA
	daq     *sim.DAQ
	psu     *sim.PSU
	relay   *sim.Relay
	psuAddr string
}

func startBench(t *testing.T) *testBench {
	t.Helper()
	tb := &testBench{
		vna:   sim.NewVNA("vna", 2),
		daq:   sim.NewDAQ("daq", 3, 20, 2),
		psu:   sim.NewPSU("psu"),
		relay: sim.NewRelay("relay", sim.RelayOptions{Channels: 4, Login: true}),
	}
	t.Setenv("GOVISA_AUDIT_PATH", "")
	tb.psuAddr = simtest.Start(t, tb.psu)

	yaml := fmt.Sprintf(`logging:
  level: error
timing:
  delay: 0s
  timeout: 2s
  query_attempts: 1
  completion_poll: 1ms
  completion_timeout: 5s
  route_timeout: 1s
instruments:
  - name: vna
    driver: keysight-vna
    address: %s
    options:
      ports: 2
  - name: daq
    driver: keysight-daq
    address: %s
  - name: psu
    driver: keysight-psu
    address: %s
  - name: relay
    driver: numato-relay
    address: %s
    options:
      channels: 4
      delay: -1ns
`, simtest.Start(t, tb.vna), simtest.Start(t, tb.daq), tb.psuAddr, simtest.StartRelay(t, tb.relay))

	tb.config = filepath.Join(t.TempDir(), "bench.yaml")
	require.NoError(t, os.WriteFile(tb.config, []byte(yaml), 0o644))
	return tb
}

// run executes visactl with args and returns what it printed to stdout.
func (tb *testBench) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	a := newApp(strings.NewReader(""), &out, &errOut)
	err := execute(context.Background(), a, append([]string{"--config", tb.config}, args...))
	return out.String(), err
}

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, execute(context.Background(), newApp(strings.NewReader(""), &out, &out), []string{"version"}))
	assert.Equal(t, "visactl version dev\n", out.String())
}

func TestList(t *testing.T) {
	tb := startBench(t)

	out, err := tb.run(t, "list", "-o", "json")
	require.NoError(t, err)
	var items []struct {
		Name   string `json:"name"`
		Driver string `json:"driver"`
		Kind   string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	require.Len(t, items, 4)
	assert.Equal(t, "relay", items[3].Name)
	assert.Equal(t, "numato-relay", items[3].Driver)

	out, err = tb.run(t, "list", "--drivers", "-o", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "DRIVER")
	assert.Contains(t, out, "agilent-switch")
}

func TestIDN(t *testing.T) {
	tb := startBench(t)

	out, err := tb.run(t, "idn", "psu")
	require.NoError(t, err)
	assert.Equal(t, "Keysight Technologies,E36312A,SIM000003,2.1.0-1.0.4-1.12\n", out)

	// Raw VISA addresses bypass the bench.
	out, err = tb.run(t, "idn", tb.psuAddr, "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"idn": "Keysight Technologies,E36312A`)

	_, err = tb.run(t, "idn", "relay")
	assert.Error(t, err)

	_, err = tb.run(t, "idn", "nothing-here")
	assert.Error(t, err)
}

func TestWriteQuery(t *testing.T) {
	tb := startBench(t)

	_, err := tb.run(t, "write", "psu", "INST:SEL CH2", "VOLT 12")
	require.NoError(t, err)

	out, err := tb.run(t, "query", "psu", "INST:NSEL?", "VOLT?")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "2", lines[0])
	assert.Contains(t, lines[1], "1.2")
}

func TestPSU(t *testing.T) {
	tb := startBench(t)

	_, err := tb.run(t, "psu", "apply", "psu", "P6V", "5", "1")
	require.NoError(t, err)
	_, err = tb.run(t, "psu", "output", "psu", "on")
	require.NoError(t, err)

	out, err := tb.run(t, "psu", "output", "psu")
	require.NoError(t, err)
	assert.Equal(t, "on\n", out)

	out, err = tb.run(t, "psu", "measure", "psu", "--channel", "P6V", "-o", "json")
	require.NoError(t, err)
	var reading struct {
		Voltage float64 `json:"voltage"`
		Current float64 `json:"current"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &reading))
	assert.InDelta(t, 5.0, reading.Voltage, 1e-6)
	assert.InDelta(t, 0.5, reading.Current, 1e-6)

	_, err = tb.run(t, "psu", "display", "psu", "HELLO")
	require.NoError(t, err)
	assert.Equal(t, "HELLO", tb.psu.Snapshot().(sim.PSUSnapshot).Display)
	_, err = tb.run(t, "psu", "display", "psu", "--clear")
	require.NoError(t, err)
	assert.Empty(t, tb.psu.Snapshot().(sim.PSUSnapshot).Display)

	_, err = tb.run(t, "psu", "output", "psu", "maybe")
	assert.Error(t, err)
	_, err = tb.run(t, "psu", "apply", "psu", "P6V", "five", "1")
	assert.Error(t, err)
}

func TestDAQ(t *testing.T) {
	tb := startBench(t)

	_, err := tb.run(t, "daq", "close", "daq", "101", "205")
	require.NoError(t, err)
	assert.Equal(t, []int{101, 205}, tb.daq.Snapshot().(sim.DAQSnapshot).Closed)

	out, err := tb.run(t, "daq", "state", "daq", "101", "102", "-o", "text")
	require.NoError(t, err)
	assert.Equal(t, "101\tclosed\n102\topen\n", out)

	_, err = tb.run(t, "daq", "open", "daq", "--slot", "1")
	require.NoError(t, err)
	assert.Equal(t, []int{205}, tb.daq.Snapshot().(sim.DAQSnapshot).Closed)

	_, err = tb.run(t, "daq", "close", "daq")
	assert.Error(t, err)
	_, err = tb.run(t, "daq", "close", "daq", "x1")
	assert.Error(t, err)
}

func TestRelay(t *testing.T) {
	tb := startBench(t)

	_, err := tb.run(t, "relay", "on", "relay", "1", "3")
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, false, true}, tb.relay.Snapshot().(sim.RelaySnapshot).On)

	out, err := tb.run(t, "relay", "state", "relay", "-o", "json")
	require.NoError(t, err)
	var state struct {
		Version  string `json:"version"`
		Channels []struct {
			Channel int  `json:"channel"`
			On      bool `json:"on"`
		} `json:"channels"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &state))
	assert.Equal(t, "00000008", state.Version)
	require.Len(t, state.Channels, 4)
	assert.True(t, state.Channels[3].On)
	assert.False(t, state.Channels[0].On)

	_, err = tb.run(t, "relay", "off", "relay", "--all")
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, false, false}, tb.relay.Snapshot().(sim.RelaySnapshot).On)

	_, err = tb.run(t, "relay", "on", "relay", "9")
	assert.Error(t, err)
}

func TestVNASweep(t *testing.T) {
	tb := startBench(t)

	out, err := tb.run(t, "vna", "sweep", "vna", "--start", "1e9", "--stop", "2e9", "--points", "11", "-o", "json")
	require.NoError(t, err)
	var sweep struct {
		Start  float64 `json:"startHz"`
		Stop   float64 `json:"stopHz"`
		Points int     `json:"points"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &sweep))
	assert.Equal(t, 1e9, sweep.Start)
	assert.Equal(t, 2e9, sweep.Stop)
	assert.Equal(t, 11, sweep.Points)
}

func TestVNACaptureSNP_Touchstone(t *testing.T) {
	tb := startBench(t)

	_, err := tb.run(t, "vna", "sweep", "vna", "--start", "1e9", "--stop", "2e9", "--points", "3")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "dut.s2p")
	out, err := tb.run(t, "vna", "capture-snp", "vna", "--touchstone", path, "-o", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "captured 3 points")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "# Hz S RI R 50", lines[0])
}

func TestAudit(t *testing.T) {
	tb := startBench(t)
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	_, err := tb.run(t, "--audit", path, "idn", "psu")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"command":"*IDN?"`)
	assert.Contains(t, string(data), `"instrument":"psu"`)
}

func TestAudit_ClosedOnError(t *testing.T) {
	tb := startBench(t)
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	var out, errOut bytes.Buffer
	a := newApp(strings.NewReader(""), &out, &errOut)
	err := execute(context.Background(), a, []string{"--config", tb.config, "--audit", path, "idn", "nothing-here"})
	require.Error(t, err)
	require.NotNil(t, a.bench)
	assert.Nil(t, a.audit)
}
