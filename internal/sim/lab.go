package sim

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Instrument kinds.
const (
	KindVNA   = "vna"
	KindDAQ   = "daq"
	KindPSU   = "psu"
	KindRelay = "relay"
)

// Spec describes one simulated instrument.
type Spec struct {
	Name      string
	Kind      string
	IDN       string
	Ports     int
	Slots     int
	Channels  int
	Precision int
	Login     bool
	User      string
	Password  string
}

// New builds the simulated instrument described by spec.
func New(spec Spec) (Instrument, error) {
	if spec.Name == "" {
		return nil, errors.New("instrument name is required")
	}
	var inst Instrument
	var dev *Device
	switch spec.Kind {
	case KindVNA:
		v := NewVNA(spec.Name, spec.Ports)
		inst, dev = v, v.Device
	case KindDAQ:
		d := NewDAQ(spec.Name, spec.Slots, spec.Channels, spec.Precision)
		inst, dev = d, d.Device
	case KindPSU:
		p := NewPSU(spec.Name)
		inst, dev = p, p.Device
	case KindRelay:
		inst = NewRelay(spec.Name, RelayOptions{
			Channels: spec.Channels,
			Login:    spec.Login,
			User:     spec.User,
			Password: spec.Password,
		})
	default:
		return nil, fmt.Errorf("unknown instrument kind %q", spec.Kind)
	}
	if dev != nil && spec.IDN != "" {
		dev.idn = spec.IDN
	}
	return inst, nil
}

// InstrumentInfo summarises a running simulated instrument.
type InstrumentInfo struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Address     string `json:"address"`
	Port        int    `json:"port"`
	Connections int    `json:"connections"`
}

type labEntry struct {
	inst   Instrument
	server *Server
}

// Lab runs a set of simulated instruments, each on its own TCP port.
type Lab struct {
	mu       sync.RWMutex
	entries  map[string]*labEntry
	registry *prometheus.Registry
	metrics  *Metrics
	logger   *slog.Logger
}

// NewLab creates an empty lab with its own metrics registry.
func NewLab(logger *slog.Logger) *Lab {
	if logger == nil {
		logger = slog.Default()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	return &Lab{
		entries:  make(map[string]*labEntry),
		registry: reg,
		metrics:  NewMetrics(reg),
		logger:   logger,
	}
}

// Registry returns the lab's metrics registry.
func (l *Lab) Registry() *prometheus.Registry { return l.registry }

// Metrics returns the lab's collectors.
func (l *Lab) Metrics() *Metrics { return l.metrics }

// Start listens on addr and serves inst in the background.
func (l *Lab) Start(inst Instrument, addr string) (*Server, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.entries[inst.Name()]; exists {
		return nil, fmt.Errorf("instrument %s already running", inst.Name())
	}
	inst.SetMetrics(l.metrics)
	srv := NewServer(inst, l.logger)
	srv.SetMetrics(l.metrics)
	if err := srv.Listen(addr); err != nil {
		return nil, err
	}
	go func() {
		if err := srv.Serve(); err != nil {
			l.logger.Error("simulated instrument stopped", "instrument", inst.Name(), "error", err)
		}
	}()
	l.entries[inst.Name()] = &labEntry{inst: inst, server: srv}
	return srv, nil
}

// Instrument returns the named instrument.
func (l *Lab) Instrument(name string) (Instrument, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[name]
	if !ok {
		return nil, false
	}
	return e.inst, true
}

// List returns the running instruments sorted by name.
func (l *Lab) List() []InstrumentInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()
	infos := make([]InstrumentInfo, 0, len(l.entries))
	for _, e := range l.entries {
		infos = append(infos, InstrumentInfo{
			Name:        e.inst.Name(),
			Kind:        e.inst.Kind(),
			Address:     e.server.Addr().String(),
			Port:        e.server.Port(),
			Connections: e.server.Connections(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Close stops every instrument server.
func (l *Lab) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var errs []error
	for name, e := range l.entries {
		if err := e.server.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(l.entries, name)
	}
	return errors.Join(errs...)
}
