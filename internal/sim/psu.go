package sim

import (
	"math"
	"strconv"
	"strings"
)

// PSUOutput is the state of one supply output.
type PSUOutput struct {
	Name       string  `json:"name"`
	Voltage    float64 `json:"voltage"`
	Current    float64 `json:"current"`
	MaxVoltage float64 `json:"max_voltage"`
	MaxCurrent float64 `json:"max_current"`
}

// PSUSnapshot is the observable state of a simulated power supply.
type PSUSnapshot struct {
	Selected int         `json:"selected"`
	Enabled  bool        `json:"enabled"`
	Display  string      `json:"display"`
	Load     float64     `json:"load_ohms"`
	Outputs  []PSUOutput `json:"outputs"`
}

// PSU simulates a triple output bench supply driving a resistive load.
type PSU struct {
	*Device
	state PSUSnapshot
}

var psuAliases = map[string]int{
	"P6V": 1, "P25V": 2, "N25V": 3,
	"CH1": 1, "CH2": 2, "CH3": 3,
	"OUTP1": 1, "OUTP2": 2, "OUTP3": 3,
	"OUT1": 1, "OUT2": 2, "OUT3": 3,
	"1": 1, "2": 2, "3": 3,
}

// NewPSU creates a simulated supply.
func NewPSU(name string) *PSU {
	p := &PSU{Device: newDevice(name, "psu", "Keysight Technologies,E36312A,SIM000003,2.1.0-1.0.4-1.12")}
	p.Device.reset = p.resetState
	p.resetState()

	r := &p.Device.router
	r.Handle("INSTrument:SELect", p.selectOutput(false))
	r.Handle("INSTrument:NSELect", p.selectOutput(true))
	r.Handle("APPLy", p.apply)
	r.Handle("OUTPut:STATe", p.output)
	r.Handle("OUTPut", p.output)
	r.Handle("VOLTage", p.level(func(o *PSUOutput) (*float64, float64) { return &o.Voltage, o.MaxVoltage }))
	r.Handle("CURRent", p.level(func(o *PSUOutput) (*float64, float64) { return &o.Current, o.MaxCurrent }))
	r.Handle("MEASure:VOLTage:DC", p.measure(true))
	r.Handle("MEASure:VOLTage", p.measure(true))
	r.Handle("MEASure:CURRent:DC", p.measure(false))
	r.Handle("MEASure:CURRent", p.measure(false))
	r.Handle("DISPlay:TEXT:DATA", p.displayText)
	r.Handle("DISPlay:TEXT", p.displayText)
	r.Handle("DISPlay:TEXT:CLEar", func(req *Request) (string, error) {
		p.state.Display = ""
		return "", nil
	})
	r.Handle("SYSTem:ERRor", func(req *Request) (string, error) { return `+0,"No error"`, nil })
	return p
}

func (p *PSU) resetState() {
	p.state = PSUSnapshot{
		Selected: 1,
		Load:     10,
		Outputs: []PSUOutput{
			{Name: "CH1", Current: 5, MaxVoltage: 6.18, MaxCurrent: 5.15},
			{Name: "CH2", Current: 1, MaxVoltage: 25.75, MaxCurrent: 1.03},
			{Name: "CH3", Current: 1, MaxVoltage: 25.75, MaxCurrent: 1.03},
		},
	}
}

// SetLoad sets the resistance seen by every output.
func (p *PSU) SetLoad(ohms float64) {
	p.locked(func() { p.state.Load = ohms })
}

// Snapshot returns a copy of the supply state.
func (p *PSU) Snapshot() interface{} {
	var snap PSUSnapshot
	p.locked(func() {
		snap = p.state
		snap.Outputs = append([]PSUOutput(nil), p.state.Outputs...)
	})
	return snap
}

func (p *PSU) output(req *Request) (string, error) {
	if req.Query {
		return boolReply(p.state.Enabled), nil
	}
	on, err := onOff(req.Param(0))
	if err != nil {
		return "", err
	}
	p.state.Enabled = on
	return "", nil
}

func (p *PSU) lookup(s string) (int, error) {
	n, ok := psuAliases[strings.ToUpper(Unquote(s))]
	if !ok {
		return 0, errIllegalValue
	}
	return n, nil
}

func (p *PSU) selectOutput(numeric bool) HandlerFunc {
	return func(req *Request) (string, error) {
		if req.Query {
			if numeric {
				return strconv.Itoa(p.state.Selected), nil
			}
			return p.state.Outputs[p.state.Selected-1].Name, nil
		}
		n, err := p.lookup(req.Param(0))
		if err != nil {
			return "", err
		}
		p.state.Selected = n
		return "", nil
	}
}

func (p *PSU) apply(req *Request) (string, error) {
	n := p.state.Selected
	params := req.Params
	if len(params) > 0 {
		if _, err := strconv.ParseFloat(params[0], 64); err != nil || len(params) == 3 {
			var lerr error
			if n, lerr = p.lookup(params[0]); lerr != nil {
				return "", lerr
			}
			params = params[1:]
		}
	}
	out := &p.state.Outputs[n-1]
	if req.Query {
		return strconv.FormatFloat(out.Voltage, 'f', 6, 64) + "," + strconv.FormatFloat(out.Current, 'f', 6, 64), nil
	}
	if len(params) == 0 {
		return "", errMissingParam
	}
	v, err := number(params[0], 0, out.MaxVoltage)
	if err != nil {
		return "", err
	}
	c := out.Current
	if len(params) > 1 {
		if c, err = number(params[1], 0, out.MaxCurrent); err != nil {
			return "", err
		}
	}
	out.Voltage, out.Current = v, c
	return "", nil
}

func (p *PSU) level(field func(*PSUOutput) (*float64, float64)) HandlerFunc {
	return func(req *Request) (string, error) {
		out := &p.state.Outputs[p.state.Selected-1]
		val, max := field(out)
		if req.Query {
			switch strings.ToUpper(req.Param(0)) {
			case "MAX", "MAXIMUM":
				return formatNR3(max), nil
			case "MIN", "MINIMUM":
				return formatNR3(0), nil
			}
			return formatNR3(*val), nil
		}
		v, err := number(req.Param(0), 0, max)
		if err != nil {
			return "", err
		}
		*val = v
		return "", nil
	}
}

// measure reports the operating point of the selected output into the
// load, switching to constant current when the limit is reached.
func (p *PSU) measure(voltage bool) HandlerFunc {
	return func(req *Request) (string, error) {
		if !req.Query {
			return "", errUndefinedHeader
		}
		n := p.state.Selected
		if len(req.Params) > 0 {
			var err error
			if n, err = p.lookup(strings.Trim(req.Param(0), "(@)")); err != nil {
				return "", err
			}
		}
		out := p.state.Outputs[n-1]
		if !p.state.Enabled || p.state.Load <= 0 {
			return formatNR3(0), nil
		}
		amps := math.Min(out.Voltage/p.state.Load, out.Current)
		if voltage {
			return formatNR3(amps * p.state.Load), nil
		}
		return formatNR3(amps), nil
	}
}

func (p *PSU) displayText(req *Request) (string, error) {
	if req.Query {
		return `"` + p.state.Display + `"`, nil
	}
	p.state.Display = Unquote(strings.Join(req.Params, ","))
	return "", nil
}
