// Package bench builds the named instruments of a bench configuration and
// keeps them for lookup by name.
package bench

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Samtec-ASH/govisainstrument/internal/config"
	"github.com/Samtec-ASH/govisainstrument/internal/daq"
	"github.com/Samtec-ASH/govisainstrument/internal/psu"
	"github.com/Samtec-ASH/govisainstrument/internal/relay"
	"github.com/Samtec-ASH/govisainstrument/internal/vna"
)

var (
	ErrUnknownDriver     = errors.New("unknown driver")
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrWrongKind         = errors.New("instrument has a different kind")
)

// Instrument is the lifecycle every driver shares.
type Instrument interface {
	Name() string
	Address() string
	IsOpen() bool
	Open(ctx context.Context) error
	Close(ctx context.Context) error
}

// Info describes one bench instrument.
type Info struct {
	Name    string `json:"name"`
	Driver  string `json:"driver"`
	Kind    string `json:"kind"`
	Address string `json:"address"`
	Open    bool   `json:"open"`
	Session string `json:"session,omitempty"`
}

type entry struct {
	driver Driver
	inst   Instrument
}

// Bench holds the instruments of one configuration in declaration order.
type Bench struct {
	mu      sync.RWMutex
	env     Env
	entries map[string]*entry
	order   []string
}

// New builds a closed driver for every instrument in cfg.
func New(cfg *config.Bench, env Env) (*Bench, error) {
	if env.Timing == (config.Timing{}) {
		env.Timing = cfg.Timing
	}
	b := &Bench{
		env:     env,
		entries: make(map[string]*entry),
	}
	for _, inst := range cfg.Instruments {
		if err := b.Add(inst); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Add builds and registers one instrument.
func (b *Bench) Add(inst config.Instrument) error {
	driver, err := Lookup(inst.Driver)
	if err != nil {
		return fmt.Errorf("instrument %s: %w", inst.Name, err)
	}
	built, err := driver.Factory(inst, b.env)
	if err != nil {
		return fmt.Errorf("instrument %s: %w", inst.Name, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.entries[inst.Name]; exists {
		return fmt.Errorf("instrument %s already on the bench", inst.Name)
	}
	b.entries[inst.Name] = &entry{driver: driver, inst: built}
	b.order = append(b.order, inst.Name)
	return nil
}

// Get returns the named instrument.
func (b *Bench) Get(name string) (Instrument, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstrument, name)
	}
	return e.inst, nil
}

// VNA returns the named network analyzer.
func (b *Bench) VNA(name string) (*vna.VNA, error) {
	return typed[*vna.VNA](b, name, KindVNA)
}

// DAQ returns the named switch unit.
func (b *Bench) DAQ(name string) (*daq.DAQ, error) {
	return typed[*daq.DAQ](b, name, KindDAQ)
}

// PSU returns the named power supply.
func (b *Bench) PSU(name string) (*psu.PSU, error) {
	return typed[*psu.PSU](b, name, KindPSU)
}

// Relay returns the named relay module.
func (b *Bench) Relay(name string) (*relay.Relay, error) {
	return typed[*relay.Relay](b, name, KindRelay)
}

func typed[T Instrument](b *Bench, name, kind string) (T, error) {
	var zero T
	inst, err := b.Get(name)
	if err != nil {
		return zero, err
	}
	t, ok := inst.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is not a %s", ErrWrongKind, name, kind)
	}
	return t, nil
}

// List returns the instruments in declaration order.
func (b *Bench) List() []Info {
	b.mu.RLock()
	defer b.mu.RUnlock()

	items := make([]Info, 0, len(b.order))
	for _, name := range b.order {
		e := b.entries[name]
		info := Info{
			Name:    name,
			Driver:  e.driver.Name,
			Kind:    e.driver.Kind,
			Address: e.inst.Address(),
			Open:    e.inst.IsOpen(),
		}
		if s, ok := e.inst.(interface{ SessionID() string }); ok {
			info.Session = s.SessionID()
		}
		items = append(items, info)
	}
	return items
}

func (b *Bench) instruments() []Instrument {
	b.mu.RLock()
	defer b.mu.RUnlock()
	insts := make([]Instrument, 0, len(b.order))
	for _, name := range b.order {
		insts = append(insts, b.entries[name].inst)
	}
	return insts
}

// OpenAll opens every instrument in declaration order. It stops at the first
// failure and leaves the instruments opened so far open.
func (b *Bench) OpenAll(ctx context.Context) error {
	for _, inst := range b.instruments() {
		if err := inst.Open(ctx); err != nil {
			return fmt.Errorf("failed to open %s: %w", inst.Name(), err)
		}
	}
	return nil
}

// CloseAll closes every instrument in reverse order and reports all failures.
func (b *Bench) CloseAll(ctx context.Context) error {
	insts := b.instruments()
	var errs []error
	for i := len(insts) - 1; i >= 0; i-- {
		if err := insts[i].Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", insts[i].Name(), err))
		}
	}
	return errors.Join(errs...)
}
