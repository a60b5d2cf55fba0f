package bench

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/Samtec-ASH/govisainstrument/internal/config"
	"github.com/Samtec-ASH/govisainstrument/internal/daq"
	"github.com/Samtec-ASH/govisainstrument/internal/psu"
	"github.com/Samtec-ASH/govisainstrument/internal/relay"
	"github.com/Samtec-ASH/govisainstrument/internal/visa"
	"github.com/Samtec-ASH/govisainstrument/internal/vna"
)

// Instrument kinds.
const (
	KindVNA   = "vna"
	KindDAQ   = "daq"
	KindPSU   = "psu"
	KindRelay = "relay"
)

// Env carries what every driver factory needs besides the instrument entry.
type Env struct {
	Timing   config.Timing
	Logger   *slog.Logger
	Observer visa.Observer

	// VisaOptions are appended to the options built from config, for
	// example to replace the transport in tests.
	VisaOptions []visa.Option
	// RelayOptions are appended to the relay options built from config.
	RelayOptions []relay.Option
}

// Factory builds a closed driver for one configured instrument.
type Factory func(inst config.Instrument, env Env) (Instrument, error)

// Driver is a registered driver.
type Driver struct {
	Name        string
	Kind        string
	Description string
	Factory     Factory
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Driver)
)

// Register adds a driver to the registry, replacing one of the same name.
func Register(d Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[d.Name] = d
}

// Lookup returns the named driver.
func Lookup(name string) (Driver, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	d, ok := registry[name]
	if !ok {
		return Driver{}, fmt.Errorf("%w: %s", ErrUnknownDriver, name)
	}
	return d, nil
}

// Drivers returns the registered drivers sorted by name.
func Drivers() []Driver {
	registryMu.RLock()
	defer registryMu.RUnlock()
	drivers := make([]Driver, 0, len(registry))
	for _, d := range registry {
		drivers = append(drivers, d)
	}
	sort.Slice(drivers, func(i, j int) bool { return drivers[i].Name < drivers[j].Name })
	return drivers
}

func init() {
	Register(Driver{Name: "keysight-vna", Kind: KindVNA, Description: "Keysight PNA/ENA network analyzer", Factory: newVNA("")})
	Register(Driver{Name: "agilent-vna", Kind: KindVNA, Description: "Agilent PNA network analyzer", Factory: newVNA("ch1_s")})
	Register(Driver{Name: "keysight-daq", Kind: KindDAQ, Description: "Keysight DAQ970/34980 switch unit", Factory: newDAQ(false)})
	Register(Driver{Name: "agilent-switch", Kind: KindDAQ, Description: "Agilent switch mainframe, waits for every route", Factory: newDAQ(true)})
	Register(Driver{Name: "keysight-psu", Kind: KindPSU, Description: "Keysight E36xx power supply", Factory: newPSU})
	Register(Driver{Name: "agilent-psu", Kind: KindPSU, Description: "Agilent E36xx power supply", Factory: newPSU})
	Register(Driver{Name: "numato-relay", Kind: KindRelay, Description: "Numato Lab USB/Ethernet relay module", Factory: newRelay})
}

func newVNA(tracePrefix string) Factory {
	return func(inst config.Instrument, env Env) (Instrument, error) {
		var cfg vna.Config
		if err := decodeOptions(inst.Options, &cfg); err != nil {
			return nil, err
		}
		if cfg.TracePrefix == "" {
			cfg.TracePrefix = tracePrefix
		}
		return vna.New(inst.Name, inst.Address, cfg, visaOptions(inst, env)...), nil
	}
}

func newDAQ(legacy bool) Factory {
	return func(inst config.Instrument, env Env) (Instrument, error) {
		var cfg daq.Config
		if err := decodeOptions(inst.Options, &cfg); err != nil {
			return nil, err
		}
		if legacy {
			cfg.WaitForRoute = true
		}
		if cfg.RouteTimeout == 0 {
			cfg.RouteTimeout = env.Timing.RouteTimeout
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return daq.New(inst.Name, inst.Address, cfg, visaOptions(inst, env)...), nil
	}
}

func newPSU(inst config.Instrument, env Env) (Instrument, error) {
	var cfg psu.Config
	if err := decodeOptions(inst.Options, &cfg); err != nil {
		return nil, err
	}
	return psu.New(inst.Name, inst.Address, cfg, visaOptions(inst, env)...), nil
}

func newRelay(inst config.Instrument, env Env) (Instrument, error) {
	var cfg relay.Config
	if err := decodeOptions(inst.Options, &cfg); err != nil {
		return nil, err
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = inst.BaudRate
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = inst.Timeout
	}
	var opts []relay.Option
	if env.Logger != nil {
		opts = append(opts, relay.WithLogger(env.Logger))
	}
	if env.Observer != nil {
		opts = append(opts, relay.WithObserver(env.Observer))
	}
	opts = append(opts, env.RelayOptions...)
	return relay.New(inst.Name, inst.Address, cfg, opts...), nil
}

// visaOptions builds session options from the shared timing and the
// instrument's overrides.
func visaOptions(inst config.Instrument, env Env) []visa.Option {
	timing := env.Timing
	timeout := timing.Timeout
	if inst.Timeout > 0 {
		timeout = inst.Timeout
	}
	opts := []visa.Option{
		visa.WithDelay(timing.Delay),
		visa.WithTimeout(timeout),
		visa.WithQueryAttempts(timing.QueryAttempts),
		visa.WithCompletion(timing.CompletionPoll, timing.CompletionTimeout),
	}
	if inst.ReadTermination != "" || inst.WriteTermination != "" {
		opts = append(opts, visa.WithTerminations(inst.ReadTermination, inst.WriteTermination))
	}
	if inst.BaudRate > 0 {
		opts = append(opts, visa.WithBaudRate(inst.BaudRate))
	}
	if env.Logger != nil {
		opts = append(opts, visa.WithLogger(env.Logger))
	}
	if env.Observer != nil {
		opts = append(opts, visa.WithObserver(env.Observer))
	}
	return append(opts, env.VisaOptions...)
}

// decodeOptions decodes a free-form options map into a driver Config.
// Durations may be given as strings such as "250ms"; unknown keys are
// rejected.
func decodeOptions(in map[string]interface{}, out interface{}) error {
	if len(in) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("invalid driver options: %w", err)
	}
	return nil
}
