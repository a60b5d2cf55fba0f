package sim

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DAQSnapshot is the observable state of a simulated switch unit.
type DAQSnapshot struct {
	Slots       int     `json:"slots"`
	Channels    int     `json:"channels"`
	Closed      []int   `json:"closed"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

// DAQ simulates a switch/measure mainframe with plug-in multiplexer slots.
// Channels are addressed as slot*10^precision + channel.
type DAQ struct {
	*Device
	slots       int
	channels    int
	precision   int
	closed      map[int]bool
	temperature float64
	humidity    float64
}

// NewDAQ creates a simulated DAQ. precision is the number of channel digits
// in a route address (2 for 101, 3 for 1001).
func NewDAQ(name string, slots, channels, precision int) *DAQ {
	if slots <= 0 {
		slots = 3
	}
	if channels <= 0 {
		channels = 20
	}
	if precision <= 0 {
		precision = 2
	}
	d := &DAQ{
		Device:    newDevice(name, "daq", "Keysight Technologies,34980A,SIM000002,2.51-2.43-2.10-1.00"),
		slots:     slots,
		channels:  channels,
		precision: precision,
	}
	d.Device.reset = d.resetState
	d.resetState()

	r := &d.Device.router
	r.Handle("ROUTe:CLOSe", d.route(true))
	r.Handle("ROUTe:OPEN", d.route(false))
	r.Handle("ROUTe:DONE", func(req *Request) (string, error) { return "1", nil })
	r.Handle("MEASure:TEMPerature", d.measure(func() float64 { return d.temperature }))
	r.Handle("MEASure:RHumidity", d.measure(func() float64 { return d.humidity }))
	r.Handle("SYSTem:ERRor", func(req *Request) (string, error) { return `+0,"No error"`, nil })
	return d
}

func (d *DAQ) resetState() {
	d.closed = map[int]bool{}
	d.temperature = 23.5
	d.humidity = 41.0
}

// SetEnvironment sets the values returned by temperature and humidity
// measurements.
func (d *DAQ) SetEnvironment(temperature, humidity float64) {
	d.locked(func() {
		d.temperature = temperature
		d.humidity = humidity
	})
}

// Snapshot returns the closed channels and environment readings.
func (d *DAQ) Snapshot() interface{} {
	var snap DAQSnapshot
	d.locked(func() {
		snap = DAQSnapshot{
			Slots:       d.slots,
			Channels:    d.channels,
			Closed:      []int{},
			Temperature: d.temperature,
			Humidity:    d.humidity,
		}
		for ch, closed := range d.closed {
			if closed {
				snap.Closed = append(snap.Closed, ch)
			}
		}
		sort.Ints(snap.Closed)
	})
	return snap
}

func (d *DAQ) route(close bool) HandlerFunc {
	return func(req *Request) (string, error) {
		chans, err := d.parseChannelList(strings.Join(req.Params, ","))
		if err != nil {
			return "", err
		}
		if req.Query {
			replies := make([]string, len(chans))
			for i, ch := range chans {
				replies[i] = boolReply(d.closed[ch] == close)
			}
			return strings.Join(replies, ","), nil
		}
		for _, ch := range chans {
			d.closed[ch] = close
		}
		return "", nil
	}
}

func (d *DAQ) measure(value func() float64) HandlerFunc {
	return func(req *Request) (string, error) {
		if !req.Query {
			return "", errUndefinedHeader
		}
		return formatNR3(value()), nil
	}
}

// parseChannelList expands a "(@101,103:105)" scan list.
func (d *DAQ) parseChannelList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "(@") || !strings.HasSuffix(s, ")") {
		return nil, errMissingParam
	}
	var chans []int
	for _, item := range strings.Split(s[2:len(s)-1], ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		lo, hi := item, item
		if i := strings.Index(item, ":"); i >= 0 {
			lo, hi = item[:i], item[i+1:]
		}
		first, err := d.parseChannel(lo)
		if err != nil {
			return nil, err
		}
		last, err := d.parseChannel(hi)
		if err != nil {
			return nil, err
		}
		if last < first {
			first, last = last, first
		}
		for ch := first; ch <= last; ch++ {
			if ch%d.scale() == 0 || ch%d.scale() > d.channels {
				continue
			}
			chans = append(chans, ch)
		}
	}
	if len(chans) == 0 {
		return nil, errIllegalValue
	}
	return chans, nil
}

func (d *DAQ) scale() int {
	s := 1
	for i := 0; i < d.precision; i++ {
		s *= 10
	}
	return s
}

func (d *DAQ) parseChannel(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: channel %q", errIllegalValue, s)
	}
	slot, ch := n/d.scale(), n%d.scale()
	if slot < 1 || slot > d.slots || ch < 1 || ch > d.channels {
		return 0, fmt.Errorf("%w: channel %d", errDataOutOfRange, n)
	}
	return n, nil
}
