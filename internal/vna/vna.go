// Package vna drives Keysight/Agilent vector network analyzers over SCPI.
//
// Channel scoped settings take the channel number first. Port numbers are
// 1-based throughout, as on the instrument front panel.
package vna

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Samtec-ASH/govisainstrument/internal/visa"
)

// Defaults.
const (
	DefaultPorts       = 4
	DefaultTracePrefix = "CH1_S"
	DefaultECalPoll    = 400 * time.Millisecond
)

// Config holds analyzer specific settings.
type Config struct {
	Ports       int           `mapstructure:"ports" yaml:"ports"`
	TracePrefix string        `mapstructure:"trace_prefix" yaml:"trace_prefix"`
	ECalPoll    time.Duration `mapstructure:"ecal_poll" yaml:"ecal_poll"`
}

func (c Config) withDefaults() Config {
	if c.Ports <= 0 {
		c.Ports = DefaultPorts
	}
	if c.TracePrefix == "" {
		c.TracePrefix = DefaultTracePrefix
	}
	if c.ECalPoll <= 0 {
		c.ECalPoll = DefaultECalPoll
	}
	return c
}

// VNA is a network analyzer session.
type VNA struct {
	*visa.Resource
	cfg Config
}

// New creates a closed analyzer handle.
func New(name, address string, cfg Config, opts ...visa.Option) *VNA {
	return &VNA{
		Resource: visa.NewResource(name, address, opts...),
		cfg:      cfg.withDefaults(),
	}
}

// Ports returns the number of test ports.
func (v *VNA) Ports() int { return v.cfg.Ports }

// SetStartFrequency sets the sweep start frequency in Hz.
func (v *VNA) SetStartFrequency(ctx context.Context, channel int, hz float64) error {
	return v.Writef(ctx, "SENSE%d:FREQUENCY:START %.0f", channel, hz)
}

// StartFrequency returns the sweep start frequency in Hz.
func (v *VNA) StartFrequency(ctx context.Context, channel int) (float64, error) {
	return v.QueryFloat(ctx, fmt.Sprintf("SENSE%d:FREQUENCY:START?", channel))
}

// SetStopFrequency sets the sweep stop frequency in Hz.
func (v *VNA) SetStopFrequency(ctx context.Context, channel int, hz float64) error {
	return v.Writef(ctx, "SENSE%d:FREQUENCY:STOP %.0f", channel, hz)
}

// StopFrequency returns the sweep stop frequency in Hz.
func (v *VNA) StopFrequency(ctx context.Context, channel int) (float64, error) {
	return v.QueryFloat(ctx, fmt.Sprintf("SENSE%d:FREQUENCY:STOP?", channel))
}

// SetCenterFrequency sets the sweep center frequency in Hz.
func (v *VNA) SetCenterFrequency(ctx context.Context, channel int, hz float64) error {
	return v.Writef(ctx, "SENSE%d:FREQUENCY:CENT %.0f", channel, hz)
}

// CenterFrequency returns the sweep center frequency in Hz.
func (v *VNA) CenterFrequency(ctx context.Context, channel int) (float64, error) {
	return v.QueryFloat(ctx, fmt.Sprintf("SENSE%d:FREQUENCY:CENT?", channel))
}

// SetCWFrequency sets the continuous wave frequency in Hz.
func (v *VNA) SetCWFrequency(ctx context.Context, channel int, hz float64) error {
	return v.Writef(ctx, "SENSE%d:FREQUENCY:CW %.0f", channel, hz)
}

// CWFrequency returns the continuous wave frequency in Hz.
func (v *VNA) CWFrequency(ctx context.Context, channel int) (float64, error) {
	return v.QueryFloat(ctx, fmt.Sprintf("SENSE%d:FREQUENCY:CW?", channel))
}

// SetSweepPoints sets the number of points per sweep.
func (v *VNA) SetSweepPoints(ctx context.Context, channel, points int) error {
	return v.Writef(ctx, "SENSE%d:SWEEP:POINTS %d", channel, points)
}

// SweepPoints returns the number of points per sweep.
func (v *VNA) SweepPoints(ctx context.Context, channel int) (int, error) {
	return v.QueryInt(ctx, fmt.Sprintf("SENSE%d:SWEEP:POINTS?", channel))
}

// SetStepSize sets the frequency step in Hz.
func (v *VNA) SetStepSize(ctx context.Context, channel int, hz float64) error {
	return v.Writef(ctx, "SENSE%d:SWEEP:STEP %.0f", channel, hz)
}

// StepSize returns the frequency step in Hz.
func (v *VNA) StepSize(ctx context.Context, channel int) (float64, error) {
	return v.QueryFloat(ctx, fmt.Sprintf("SENSE%d:SWEEP:STEP?", channel))
}

// SetSweepType sets the sweep type: LINear, LOGarithmic, POWer, CW,
// SEGMent or PHASe.
func (v *VNA) SetSweepType(ctx context.Context, channel int, sweepType string) error {
	return v.Writef(ctx, "SENSE%d:SWEEP:TYPE %s", channel, sweepType)
}

// SweepType returns the sweep type.
func (v *VNA) SweepType(ctx context.Context, channel int) (string, error) {
	return v.Query(ctx, fmt.Sprintf("SENSE%d:SWEEP:TYPE?", channel))
}

// SetBandwidth sets the IF bandwidth in Hz.
func (v *VNA) SetBandwidth(ctx context.Context, channel int, hz float64) error {
	return v.Writef(ctx, "SENSE%d:BWID %.0f", channel, hz)
}

// SetBandwidthLimit sets the IF bandwidth to "MIN" or "MAX".
func (v *VNA) SetBandwidthLimit(ctx context.Context, channel int, limit string) error {
	limit = strings.ToUpper(limit)
	if limit != "MIN" && limit != "MAX" {
		return fmt.Errorf("bandwidth limit must be MIN or MAX, got %q", limit)
	}
	return v.Writef(ctx, "SENSE%d:BWID %s", channel, limit)
}

// Bandwidth returns the IF bandwidth in whole Hz.
func (v *VNA) Bandwidth(ctx context.Context, channel int) (int, error) {
	bw, err := v.QueryFloat(ctx, fmt.Sprintf("SENSE%d:BWID?", channel))
	if err != nil {
		return 0, err
	}
	return int(bw), nil
}

// SetSweepMode sets the sweep mode: HOLD, CONTinuous, GROups or SINGle.
// SINGle returns once the sweep has completed.
func (v *VNA) SetSweepMode(ctx context.Context, channel int, mode string) error {
	return v.WriteAsync(ctx, fmt.Sprintf("SENSE%d:SWEEP:MODE %s", channel, mode), visa.AsyncOptions{})
}

// SweepMode returns the sweep mode.
func (v *VNA) SweepMode(ctx context.Context, channel int) (string, error) {
	return v.Query(ctx, fmt.Sprintf("SENSE%d:SWEEP:MODE?", channel))
}

// CalSets lists the cal sets saved on the instrument.
func (v *VNA) CalSets(ctx context.Context, channel int) ([]string, error) {
	resp, err := v.Query(ctx, fmt.Sprintf("SENSE%d:CORR:CSET:CAT?", channel))
	if err != nil {
		return nil, err
	}
	resp = strings.Trim(resp, `"`)
	if resp == "" {
		return nil, nil
	}
	return strings.Split(resp, ","), nil
}

// SetActiveCalSet applies a saved cal set to the channel.
func (v *VNA) SetActiveCalSet(ctx context.Context, channel int, calSet string, interpolate, applyStimulus bool) error {
	if err := v.Writef(ctx, "SENSE%d:CORR:INT %s", channel, onOff(interpolate)); err != nil {
		return err
	}
	stimulus := "0"
	if applyStimulus {
		stimulus = "1"
	}
	return v.WriteAsync(ctx, fmt.Sprintf("SENSE%d:CORR:CSET:ACT '%s',%s", channel, calSet, stimulus), visa.AsyncOptions{})
}

// SetupSweep configures start, stop, points and sweep type, then waits for
// the settings to take effect.
func (v *VNA) SetupSweep(ctx context.Context, channel int, start, stop float64, points int, sweepType string) error {
	if sweepType == "" {
		sweepType = "LINEAR"
	}
	if err := v.SetStartFrequency(ctx, channel, start); err != nil {
		return err
	}
	if err := v.SetStopFrequency(ctx, channel, stop); err != nil {
		return err
	}
	if err := v.SetSweepPoints(ctx, channel, points); err != nil {
		return err
	}
	if err := v.SetSweepType(ctx, channel, sweepType); err != nil {
		return err
	}
	return v.SyncNonBlocking(ctx, 0)
}

// SetTriggerSource sets the trigger source, e.g. IMMediate, EXTernal or
// MANual.
func (v *VNA) SetTriggerSource(ctx context.Context, source string) error {
	return v.Writef(ctx, "TRIG:SOUR %s", source)
}

// SetTraceFormat sets the SnP export format: MA, DB, RI or AUTO.
func (v *VNA) SetTraceFormat(ctx context.Context, format string) error {
	return v.Writef(ctx, "MMEM:STOR:TRAC:FORM:SNP %s", format)
}

// SetDataFormat selects the transfer format for trace data.
func (v *VNA) SetDataFormat(ctx context.Context, f visa.DataFormat) error {
	return v.Writef(ctx, "FORM:DATA %s", f.SCPI())
}

// SetByteOrder selects big (NORMal) or little (SWAPped) endian binary
// transfers.
func (v *VNA) SetByteOrder(ctx context.Context, littleEndian bool) error {
	if littleEndian {
		return v.Write(ctx, "FORM:BORD SWAP")
	}
	return v.Write(ctx, "FORM:BORD NORM")
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
