package config

import (
	"time"

	"github.com/Samtec-ASH/govisainstrument/internal/visa"
)

// Bench is the configuration of a set of instruments driven by visactl or a
// test station.
type Bench struct {
	Logging     Logging      `yaml:"logging"`
	Timing      Timing       `yaml:"timing"`
	Audit       Audit        `yaml:"audit"`
	Instruments []Instrument `yaml:"instruments"`
}

// Logging selects the application log handler.
type Logging struct {
	// Format is text or json.
	Format string `yaml:"format"`
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
}

// Timing holds the session layer timing shared by every instrument.
type Timing struct {
	// Delay is waited before every command.
	Delay             time.Duration `yaml:"delay"`
	Timeout           time.Duration `yaml:"timeout"`
	QueryAttempts     int           `yaml:"query_attempts"`
	CompletionPoll    time.Duration `yaml:"completion_poll"`
	CompletionTimeout time.Duration `yaml:"completion_timeout"`
	// RouteTimeout bounds ROUT:DONE? polling on switch mainframes.
	RouteTimeout time.Duration `yaml:"route_timeout"`
}

// Audit configures the JSONL transaction log. An empty path disables it.
type Audit struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Instrument is one named instrument on the bench.
type Instrument struct {
	Name    string `yaml:"name"`
	Driver  string `yaml:"driver"`
	Address string `yaml:"address"`

	// Timeout overrides Timing.Timeout for this instrument.
	Timeout          time.Duration `yaml:"timeout"`
	ReadTermination  string        `yaml:"read_termination"`
	WriteTermination string        `yaml:"write_termination"`
	BaudRate         int           `yaml:"baud_rate"`

	// Options are driver specific settings, decoded by the driver registry.
	Options map[string]interface{} `yaml:"options"`
}

// Sim is the configuration of the simulated instrument daemon.
type Sim struct {
	Logging Logging `yaml:"logging"`
	// Host is the interface instrument ports listen on.
	Host string `yaml:"host"`
	// HTTPAddr is the control API listen address. Empty disables the API.
	HTTPAddr    string          `yaml:"http_addr"`
	Instruments []SimInstrument `yaml:"instruments"`
}

// SimInstrument is one simulated instrument.
type SimInstrument struct {
	Name string `yaml:"name"`
	// Kind is vna, daq, psu or relay.
	Kind string `yaml:"kind"`
	// Port is the TCP port; 0 picks a free one.
	Port      int    `yaml:"port"`
	IDN       string `yaml:"idn"`
	Ports     int    `yaml:"ports"`
	Slots     int    `yaml:"slots"`
	Channels  int    `yaml:"channels"`
	Precision int    `yaml:"precision"`
	Login     bool   `yaml:"login"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
}

// Log defaults.
const (
	DefaultLogFormat = "text"
	DefaultLogLevel  = "info"
)

// Audit rotation defaults.
const (
	DefaultAuditMaxSizeMB  = 10
	DefaultAuditMaxBackups = 5
	DefaultAuditMaxAgeDays = 30
)

// Simulator defaults.
const (
	DefaultSimHost     = "127.0.0.1"
	DefaultSimHTTPAddr = "127.0.0.1:8089"
)

// DefaultRouteTimeout bounds switch route completion polling.
const DefaultRouteTimeout = 2 * time.Second

// DefaultTiming returns the session layer defaults.
func DefaultTiming() Timing {
	return Timing{
		Delay:             visa.DefaultDelay,
		Timeout:           visa.DefaultTimeout,
		QueryAttempts:     visa.DefaultQueryAttempts,
		CompletionPoll:    visa.DefaultCompletionPoll,
		CompletionTimeout: visa.DefaultCompletionTimeout,
		RouteTimeout:      DefaultRouteTimeout,
	}
}

// DefaultBench returns a bench with no instruments and default settings.
func DefaultBench() *Bench {
	return &Bench{
		Logging: Logging{Format: DefaultLogFormat, Level: DefaultLogLevel},
		Timing:  DefaultTiming(),
		Audit: Audit{
			MaxSizeMB:  DefaultAuditMaxSizeMB,
			MaxBackups: DefaultAuditMaxBackups,
			MaxAgeDays: DefaultAuditMaxAgeDays,
		},
	}
}

// DefaultSim returns a simulator configuration with one instrument of each
// kind, matching the dummy instruments used by the driver tests.
func DefaultSim() *Sim {
	return &Sim{
		Logging:  Logging{Format: DefaultLogFormat, Level: DefaultLogLevel},
		Host:     DefaultSimHost,
		HTTPAddr: DefaultSimHTTPAddr,
		Instruments: []SimInstrument{
			{Name: "vna", Kind: "vna", Port: 5025, Ports: 4},
			{Name: "daq", Kind: "daq", Port: 5026, Slots: 3, Channels: 20, Precision: 2},
			{Name: "psu", Kind: "psu", Port: 5027},
			{Name: "relay", Kind: "relay", Port: 2323, Channels: 8, Login: true},
		},
	}
}

// Instrument returns the named instrument.
func (b *Bench) Instrument(name string) (Instrument, bool) {
	for _, inst := range b.Instruments {
		if inst.Name == name {
			return inst, true
		}
	}
	return Instrument{}, false
}
