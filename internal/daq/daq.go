// Package daq drives Keysight/Agilent switch and data acquisition mainframes.
//
// Routes are addressed as slot followed by a zero padded channel number,
// e.g. 101 for slot 1 channel 1 in SCC format or 1001 in SCCC format.
package daq

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Samtec-ASH/govisainstrument/internal/visa"
)

// Defaults.
const (
	DefaultSlots        = 3
	DefaultChannels     = 20
	DefaultFormat       = "SCC"
	DefaultRouteTimeout = 2 * time.Second
	RoutePoll           = 15 * time.Millisecond
)

// Config holds mainframe specific settings.
type Config struct {
	Slots    int `mapstructure:"slots" yaml:"slots"`
	Channels int `mapstructure:"channels" yaml:"channels"`
	// Format is the route address layout, SCC or SCCC.
	Format string `mapstructure:"format" yaml:"format"`
	// Settle is waited after every route change.
	Settle time.Duration `mapstructure:"settle" yaml:"settle"`
	// WaitForRoute polls ROUT:DONE? after every route write, as the legacy
	// switch mainframes require.
	WaitForRoute bool          `mapstructure:"wait_for_route" yaml:"wait_for_route"`
	RouteTimeout time.Duration `mapstructure:"route_timeout" yaml:"route_timeout"`
}

func (c Config) withDefaults() Config {
	if c.Slots <= 0 {
		c.Slots = DefaultSlots
	}
	if c.Channels <= 0 {
		c.Channels = DefaultChannels
	}
	if c.Format == "" {
		c.Format = DefaultFormat
	}
	if c.RouteTimeout <= 0 {
		c.RouteTimeout = DefaultRouteTimeout
	}
	return c
}

// Precision returns the number of channel digits in a route address.
func (c Config) Precision() int {
	if n := strings.Count(strings.ToUpper(c.Format), "C"); n > 0 {
		return n
	}
	return 2
}

func (c Config) scale() int {
	scale := 1
	for i := 0; i < c.Precision(); i++ {
		scale *= 10
	}
	return scale
}

// Validate reports whether every channel of a slot fits the route format.
func (c Config) Validate() error {
	c = c.withDefaults()
	if max := c.scale() - 1; c.Channels > max {
		return fmt.Errorf("%d channels do not fit format %s (at most %d)", c.Channels, c.Format, max)
	}
	return nil
}

// DAQ is a switch/measure mainframe session.
type DAQ struct {
	*visa.Resource
	cfg    Config
	scale  int
	cfgErr error
}

// New creates a closed DAQ handle. A Config that fails Validate makes every
// route call return the validation error before anything is written.
func New(name, address string, cfg Config, opts ...visa.Option) *DAQ {
	cfg = cfg.withDefaults()
	return &DAQ{
		Resource: visa.NewResource(name, address, opts...),
		cfg:      cfg,
		scale:    cfg.scale(),
		cfgErr:   cfg.Validate(),
	}
}

// Slots returns the number of slots.
func (d *DAQ) Slots() int { return d.cfg.Slots }

// Channels returns the number of channels per slot.
func (d *DAQ) Channels() int { return d.cfg.Channels }

// Channel returns the route address of channel (1-based) in slot (1-based).
func (d *DAQ) Channel(slot, channel int) int {
	return slot*d.scale + channel
}

func (d *DAQ) checkSlot(slot int) error {
	if d.cfgErr != nil {
		return d.cfgErr
	}
	if slot < 1 || slot > d.cfg.Slots {
		return fmt.Errorf("slot %d out of range [1, %d]", slot, d.cfg.Slots)
	}
	return nil
}

func (d *DAQ) checkChannel(ch int) error {
	if err := d.checkSlot(ch / d.scale); err != nil {
		return fmt.Errorf("channel %d: %w", ch, err)
	}
	if n := ch % d.scale; n < 1 || n > d.cfg.Channels {
		return fmt.Errorf("channel %d: channel number %d out of range [1, %d]", ch, n, d.cfg.Channels)
	}
	return nil
}

func (d *DAQ) format(ch int) string {
	return fmt.Sprintf("%d%0*d", ch/d.scale, d.cfg.Precision(), ch%d.scale)
}

// IsChannelClosed reports whether channel ch is closed.
func (d *DAQ) IsChannelClosed(ctx context.Context, ch int) (bool, error) {
	if err := d.checkChannel(ch); err != nil {
		return false, err
	}
	resp, err := d.Query(ctx, fmt.Sprintf("ROUT:CLOS? (@%s)", d.format(ch)))
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(resp) == "1", nil
}

// IsChannelOpen reports whether channel ch is open.
func (d *DAQ) IsChannelOpen(ctx context.Context, ch int) (bool, error) {
	closed, err := d.IsChannelClosed(ctx, ch)
	return !closed, err
}

// OpenChannel opens channel ch.
func (d *DAQ) OpenChannel(ctx context.Context, ch int) error {
	if err := d.checkChannel(ch); err != nil {
		return err
	}
	return d.route(ctx, fmt.Sprintf("ROUT:OPEN (@%s)", d.format(ch)))
}

// CloseChannel closes channel ch.
func (d *DAQ) CloseChannel(ctx context.Context, ch int) error {
	if err := d.checkChannel(ch); err != nil {
		return err
	}
	return d.route(ctx, fmt.Sprintf("ROUT:CLOS (@%s)", d.format(ch)))
}

// OpenChannels opens each channel in turn.
func (d *DAQ) OpenChannels(ctx context.Context, chs []int) error {
	for _, ch := range chs {
		if err := d.OpenChannel(ctx, ch); err != nil {
			return err
		}
	}
	return nil
}

// CloseChannels closes each channel in turn.
func (d *DAQ) CloseChannels(ctx context.Context, chs []int) error {
	for _, ch := range chs {
		if err := d.CloseChannel(ctx, ch); err != nil {
			return err
		}
	}
	return nil
}

// OpenAllChannels opens every channel of slot. Mainframes that need route
// completion polling are opened one channel at a time.
func (d *DAQ) OpenAllChannels(ctx context.Context, slot int) error {
	if err := d.checkSlot(slot); err != nil {
		return err
	}
	if d.cfg.WaitForRoute {
		return d.OpenChannels(ctx, d.slotChannels(slot))
	}
	first, last := d.Channel(slot, 1), d.Channel(slot, d.cfg.Channels)
	if err := d.checkChannel(last); err != nil {
		return err
	}
	return d.route(ctx, fmt.Sprintf("ROUT:OPEN (@%s:%s)", d.format(first), d.format(last)))
}

// CloseAllChannels closes every channel of slot one at a time, limiting the
// inrush current.
func (d *DAQ) CloseAllChannels(ctx context.Context, slot int) error {
	if err := d.checkSlot(slot); err != nil {
		return err
	}
	return d.CloseChannels(ctx, d.slotChannels(slot))
}

func (d *DAQ) slotChannels(slot int) []int {
	chs := make([]int, d.cfg.Channels)
	for i := range chs {
		chs[i] = d.Channel(slot, i+1)
	}
	return chs
}

func (d *DAQ) route(ctx context.Context, cmd string) error {
	if err := d.Write(ctx, cmd); err != nil {
		return err
	}
	if d.cfg.WaitForRoute {
		if err := d.WaitForCompletion(ctx, d.cfg.RouteTimeout); err != nil {
			return err
		}
	}
	return visa.Sleep(ctx, d.cfg.Settle)
}

// MeasureTemperature measures temperature with sensor (FRTD, RTD,
// FTHermistor, THERmistor, TCouple or DEF) of sensorType (e.g. 85, 5000, K).
func (d *DAQ) MeasureTemperature(ctx context.Context, sensor, sensorType string) (float64, error) {
	return d.QueryFloat(ctx, fmt.Sprintf("MEAS:TEMP? %s,%s", sensor, sensorType))
}

// MeasureRelativeHumidity measures relative humidity in percent.
func (d *DAQ) MeasureRelativeHumidity(ctx context.Context, sensor, sensorType string) (float64, error) {
	return d.QueryFloat(ctx, fmt.Sprintf("MEAS:RHumidity? %s,%s", sensor, sensorType))
}

// WaitForCompletion polls ROUT:DONE? until the mainframe reports all routes
// settled. Non numeric replies are ignored.
func (d *DAQ) WaitForCompletion(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = d.cfg.RouteTimeout
	}
	var waited time.Duration
	for {
		if err := visa.Sleep(ctx, RoutePoll); err != nil {
			return err
		}
		resp, err := d.Query(ctx, "ROUT:DONE?")
		if err != nil {
			return err
		}
		if done, err := strconv.Atoi(strings.TrimSpace(resp)); err == nil && done != 0 {
			return nil
		}
		waited += RoutePoll
		if waited >= timeout {
			return fmt.Errorf("%w: route not done after %s", visa.ErrCompletionTimeout, timeout)
		}
	}
}
