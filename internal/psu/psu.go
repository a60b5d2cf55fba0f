// Package psu drives Keysight/Agilent programmable bench power supplies.
package psu

import (
	"context"
	"fmt"
	"strings"

	"github.com/Samtec-ASH/govisainstrument/internal/visa"
)

// DefaultPrecision is the number of decimals written for volts and amps.
const DefaultPrecision = 2

// Config holds supply specific settings.
type Config struct {
	Precision int `mapstructure:"precision" yaml:"precision"`
}

// PSU is a power supply session. Outputs are named as the instrument
// expects them, e.g. P6V, P25V, N25V or CH1.
type PSU struct {
	*visa.Resource
	precision int
}

// New creates a closed supply handle.
func New(name, address string, cfg Config, opts ...visa.Option) *PSU {
	if cfg.Precision <= 0 {
		cfg.Precision = DefaultPrecision
	}
	return &PSU{
		Resource:  visa.NewResource(name, address, opts...),
		precision: cfg.Precision,
	}
}

func (p *PSU) value(v float64) string {
	return fmt.Sprintf("%.*f", p.precision, v)
}

// SetChannel selects the output subsequent commands apply to.
func (p *PSU) SetChannel(ctx context.Context, ch string) error {
	return p.Writef(ctx, "INST:SEL %s", ch)
}

// Channel returns the selected output.
func (p *PSU) Channel(ctx context.Context) (string, error) {
	return p.Query(ctx, "INST:SEL?")
}

// Enable turns the outputs on.
func (p *PSU) Enable(ctx context.Context) error {
	return p.SetOutputState(ctx, true)
}

// Disable turns the outputs off.
func (p *PSU) Disable(ctx context.Context) error {
	return p.SetOutputState(ctx, false)
}

// Apply sets voltage and current limit of output ch in one command.
func (p *PSU) Apply(ctx context.Context, ch string, volts, amps float64) error {
	return p.Writef(ctx, "APPL %s, %s, %s", ch, p.value(volts), p.value(amps))
}

// SetOutputState turns the outputs on or off.
func (p *PSU) SetOutputState(ctx context.Context, on bool) error {
	state := "OFF"
	if on {
		state = "ON"
	}
	return p.Writef(ctx, "OUTP:STAT %s", state)
}

// OutputState reports whether the outputs are on.
func (p *PSU) OutputState(ctx context.Context) (bool, error) {
	resp, err := p.Query(ctx, "OUTP:STAT?")
	if err != nil {
		return false, err
	}
	resp = strings.ToUpper(strings.TrimSpace(resp))
	return resp == "1" || resp == "ON", nil
}

// SetVoltage sets the voltage set point of the selected output.
func (p *PSU) SetVoltage(ctx context.Context, volts float64) error {
	return p.Writef(ctx, "VOLT %s", p.value(volts))
}

// Voltage returns the voltage set point of the selected output.
func (p *PSU) Voltage(ctx context.Context) (float64, error) {
	return p.QueryFloat(ctx, "VOLT?")
}

// SetCurrentLimit sets the current limit of the selected output.
func (p *PSU) SetCurrentLimit(ctx context.Context, amps float64) error {
	return p.Writef(ctx, "CURR %s", p.value(amps))
}

// CurrentLimit returns the current limit of the selected output.
func (p *PSU) CurrentLimit(ctx context.Context) (float64, error) {
	return p.QueryFloat(ctx, "CURR?")
}

// MeasuredVoltage measures the output voltage of the selected output.
func (p *PSU) MeasuredVoltage(ctx context.Context) (float64, error) {
	return p.QueryFloat(ctx, "MEAS:VOLT:DC?")
}

// MeasuredCurrent measures the output current of the selected output.
func (p *PSU) MeasuredCurrent(ctx context.Context) (float64, error) {
	return p.QueryFloat(ctx, "MEAS:CURR:DC?")
}

// MaxVoltage returns the highest programmable voltage.
func (p *PSU) MaxVoltage(ctx context.Context) (float64, error) {
	return p.QueryFloat(ctx, "VOLT? MAX")
}

// MinVoltage returns the lowest programmable voltage.
func (p *PSU) MinVoltage(ctx context.Context) (float64, error) {
	return p.QueryFloat(ctx, "VOLT? MIN")
}

// MaxCurrentLimit returns the highest programmable current limit.
func (p *PSU) MaxCurrentLimit(ctx context.Context) (float64, error) {
	return p.QueryFloat(ctx, "CURR? MAX")
}

// MinCurrentLimit returns the lowest programmable current limit.
func (p *PSU) MinCurrentLimit(ctx context.Context) (float64, error) {
	return p.QueryFloat(ctx, "CURR? MIN")
}

// SetDisplayText shows txt on the front panel.
func (p *PSU) SetDisplayText(ctx context.Context, txt string) error {
	return p.Writef(ctx, `DISP:TEXT:DATA "%s"`, txt)
}

// ClearDisplayText clears the front panel message.
func (p *PSU) ClearDisplayText(ctx context.Context) error {
	return p.Write(ctx, "DISP:TEXT:CLEA")
}

// DisplayText returns the front panel message.
func (p *PSU) DisplayText(ctx context.Context) (string, error) {
	resp, err := p.Query(ctx, "DISP:TEXT:DATA?")
	if err != nil {
		return "", err
	}
	return strings.Trim(resp, `"`), nil
}
