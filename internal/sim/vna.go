package sim

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/cmplx"
	"strconv"
	"strings"

	"github.com/Samtec-ASH/govisainstrument/internal/visa"
)

// VNA simulator limits.
const (
	vnaMinFrequency = 1e7
	vnaMaxFrequency = 6.7e10
	vnaMaxPoints    = 100001
	vnaMaxBandwidth = 1.5e7
)

type vnaChannel struct {
	Start       float64 `json:"start"`
	Stop        float64 `json:"stop"`
	CW          float64 `json:"cw"`
	Points      int     `json:"points"`
	SweepType   string  `json:"sweep_type"`
	SweepMode   string  `json:"sweep_mode"`
	Bandwidth   float64 `json:"bandwidth"`
	Interpolate bool    `json:"interpolate"`
	CalSet      string  `json:"cal_set,omitempty"`
	Sweeps      int     `json:"sweeps"`
}

// VNATrace is a measurement defined on a channel.
type VNATrace struct {
	Name      string `json:"name"`
	Parameter string `json:"parameter"`
	Channel   int    `json:"channel"`
}

type vnaECal struct {
	Connectors  map[int]string `json:"connectors"`
	Kits        map[int]string `json:"kits"`
	Orientation bool           `json:"orientation"`
	Thru        []int          `json:"thru,omitempty"`
	Initiated   bool           `json:"initiated"`
	Steps       []string       `json:"steps,omitempty"`
	Acquired    []int          `json:"acquired,omitempty"`
}

// VNASnapshot is the observable state of a simulated VNA.
type VNASnapshot struct {
	Ports         int                 `json:"ports"`
	Channels      map[int]*vnaChannel `json:"channels"`
	Traces        []VNATrace          `json:"traces"`
	Selected      map[int]string      `json:"selected"`
	Windows       map[int]bool        `json:"windows"`
	Feeds         map[int][]string    `json:"feeds"`
	TriggerSource string              `json:"trigger_source"`
	SNPFormat     string              `json:"snp_format"`
	DataFormat    string              `json:"data_format"`
	ByteOrder     string              `json:"byte_order"`
	CalSets       []string            `json:"cal_sets"`
	Balanced      string              `json:"balanced_device"`
	BalancedPorts []int               `json:"balanced_ports,omitempty"`
	ECal          vnaECal             `json:"ecal"`
}

// VNA simulates a multiport vector network analyzer.
type VNA struct {
	*Device
	state VNASnapshot
}

// NewVNA creates a simulated VNA with the given number of test ports.
func NewVNA(name string, ports int) *VNA {
	if ports <= 0 {
		ports = 4
	}
	v := &VNA{Device: newDevice(name, "vna", "Keysight Technologies,N5227B,SIM000001,A.13.95.09")}
	v.state.Ports = ports
	v.Device.reset = v.resetState
	v.resetState()
	v.routes()
	return v
}

func (v *VNA) resetState() {
	ports := v.state.Ports
	v.state = VNASnapshot{
		Ports:         ports,
		Channels:      map[int]*vnaChannel{},
		Selected:      map[int]string{},
		Windows:       map[int]bool{1: true},
		Feeds:         map[int][]string{},
		TriggerSource: "IMMEDIATE",
		SNPFormat:     "MA",
		DataFormat:    visa.FormatASCII.SCPI(),
		ByteOrder:     "NORM",
		CalSets:       []string{"CalSet_1"},
		ECal:          vnaECal{Connectors: map[int]string{}, Kits: map[int]string{}},
	}
}

// Snapshot returns a copy of the analyzer state.
func (v *VNA) Snapshot() interface{} {
	var snap VNASnapshot
	v.locked(func() {
		snap = v.state
		snap.Channels = make(map[int]*vnaChannel, len(v.state.Channels))
		for k, ch := range v.state.Channels {
			c := *ch
			snap.Channels[k] = &c
		}
		snap.Traces = append([]VNATrace(nil), v.state.Traces...)
	})
	return snap
}

func (v *VNA) channel(n int) *vnaChannel {
	ch, ok := v.state.Channels[n]
	if !ok {
		ch = &vnaChannel{
			Start:     vnaMinFrequency,
			Stop:      1e9,
			CW:        5e8,
			Points:    201,
			SweepType: "LINEAR",
			SweepMode: "CONTINUOUS",
			Bandwidth: 1e3,
		}
		v.state.Channels[n] = ch
	}
	return ch
}

func (v *VNA) routes() {
	r := &v.Device.router

	r.Handle("SENSe#:FREQuency:STARt", v.frequency(func(ch *vnaChannel) *float64 { return &ch.Start }))
	r.Handle("SENSe#:FREQuency:STOP", v.frequency(func(ch *vnaChannel) *float64 { return &ch.Stop }))
	r.Handle("SENSe#:FREQuency:CW", v.frequency(func(ch *vnaChannel) *float64 { return &ch.CW }))
	r.Handle("SENSe#:FREQuency:CENTer", v.center)
	r.Handle("SENSe#:FREQuency:SPAN", v.span)
	r.Handle("SENSe#:SWEep:POINts", v.points)
	r.Handle("SENSe#:SWEep:STEP", v.step)
	r.Handle("SENSe#:SWEep:TYPE", v.sweepType)
	r.Handle("SENSe#:SWEep:MODE", v.sweepMode)
	r.Handle("SENSe#:BWIDth", v.bandwidth)
	r.Handle("SENSe#:BANDwidth", v.bandwidth)
	r.Handle("SENSe#:CORRection:CSET:CATalog", v.calCatalog)
	r.Handle("SENSe#:CORRection:INTerpolate", v.interpolate)
	r.Handle("SENSe#:CORRection:CSET:ACTivate", v.activateCalSet)

	r.Handle("SENSe#:CORRection:COLLect:GUIDed:CONNector:PORT#", v.ecalPortSetting(func() map[int]string { return v.state.ECal.Connectors }))
	r.Handle("SENSe#:CORRection:COLLect:GUIDed:CKIT:PORT#", v.ecalPortSetting(func() map[int]string { return v.state.ECal.Kits }))
	r.Handle("SENSe#:CORRection:PREFerence:ECAL:ORIentation", v.ecalOrientation)
	r.Handle("SENSe#:CORRection:COLLect:GUIDed:INITiate", v.ecalInit)
	r.Handle("SENSe#:CORRection:COLLect:GUIDed:THRU:PORTs", v.ecalThru)
	r.Handle("SENSe#:CORRection:COLLect:GUIDed:STEPs", v.ecalSteps)
	r.Handle("SENSe#:CORRection:COLLect:GUIDed:DESCription", v.ecalDescription)
	r.Handle("SENSe#:CORRection:COLLect:GUIDed:ACQuire", v.ecalAcquire)
	r.Handle("SENSe#:CORRection:COLLect:GUIDed:SAVE", v.ecalSave)
	r.Handle("SENSe#:CORRection:COLLect:GUIDed:SAVE:CSET", v.ecalSave)

	r.Handle("CALCulate#:PARameter:DELete:ALL", v.deleteTraces)
	r.Handle("CALCulate#:PARameter:DEFine", v.defineTrace)
	r.Handle("CALCulate#:PARameter:SELect", v.selectTrace)
	r.Handle("CALCulate#:PARameter:CATalog", v.traceCatalog)
	r.Handle("CALCulate#:DATA", v.traceData)
	r.Handle("CALCulate#:DATA:SNP:PORTs", v.snpData)
	r.Handle("CALCulate#:FSIMulator:BALun:DEVice", v.balancedDevice)
	r.Handle("CALCulate#:FSIMulator:BALun:TOPology:BBALanced:PPORts", v.balancedPorts)
	r.Handle("CALCulate#:FSIMulator:BALun:PARameter:STATe", v.balancedState)
	r.Handle("CALCulate#:FSIMulator:BALun:PARameter:BBALanced:DEFine", v.balancedDefine)

	r.Handle("DISPlay:WINDow#:TRACe#:FEED", v.feed)
	r.Handle("DISPlay:WINDow#:STATe", v.window)
	r.Handle("TRIGger:SOURce", v.setting(&v.state.TriggerSource, "IMMEDIATE", "EXTERNAL", "MANUAL"))
	r.Handle("MMEMory:STORe:TRACe:FORMat:SNP", v.setting(&v.state.SNPFormat, "RI", "MA", "DB", "AUTO"))
	r.Handle("FORMat:DATA", v.dataFormat)
	r.Handle("FORMat:BORDer", v.setting(&v.state.ByteOrder, "NORMAL", "SWAPPED"))
	r.Handle("SYSTem:ERRor", func(req *Request) (string, error) { return `+0,"No error"`, nil })
}

func (v *VNA) frequency(field func(*vnaChannel) *float64) HandlerFunc {
	return func(req *Request) (string, error) {
		ch := v.channel(req.Suffix(0, 1))
		f := field(ch)
		if req.Query {
			return formatNR3(*f), nil
		}
		val, err := number(req.Param(0), vnaMinFrequency, vnaMaxFrequency)
		if err != nil {
			return "", err
		}
		*f = val
		if ch.Start > ch.Stop {
			ch.Start, ch.Stop = ch.Stop, ch.Start
		}
		return "", nil
	}
}

func (v *VNA) center(req *Request) (string, error) {
	ch := v.channel(req.Suffix(0, 1))
	span := ch.Stop - ch.Start
	if req.Query {
		return formatNR3(ch.Start + span/2), nil
	}
	c, err := number(req.Param(0), vnaMinFrequency, vnaMaxFrequency)
	if err != nil {
		return "", err
	}
	ch.Start = math.Max(vnaMinFrequency, c-span/2)
	ch.Stop = math.Min(vnaMaxFrequency, c+span/2)
	return "", nil
}

func (v *VNA) span(req *Request) (string, error) {
	ch := v.channel(req.Suffix(0, 1))
	if req.Query {
		return formatNR3(ch.Stop - ch.Start), nil
	}
	s, err := number(req.Param(0), 0, vnaMaxFrequency-vnaMinFrequency)
	if err != nil {
		return "", err
	}
	c := ch.Start + (ch.Stop-ch.Start)/2
	ch.Start = math.Max(vnaMinFrequency, c-s/2)
	ch.Stop = math.Min(vnaMaxFrequency, c+s/2)
	return "", nil
}

func (v *VNA) points(req *Request) (string, error) {
	ch := v.channel(req.Suffix(0, 1))
	if req.Query {
		return strconv.Itoa(ch.Points), nil
	}
	n, err := number(req.Param(0), 1, vnaMaxPoints)
	if err != nil {
		return "", err
	}
	ch.Points = int(n)
	return "", nil
}

func (v *VNA) step(req *Request) (string, error) {
	ch := v.channel(req.Suffix(0, 1))
	span := ch.Stop - ch.Start
	if req.Query {
		if ch.Points <= 1 {
			return formatNR3(0), nil
		}
		return formatNR3(span / float64(ch.Points-1)), nil
	}
	s, err := number(req.Param(0), 0, span)
	if err != nil {
		return "", err
	}
	if s == 0 {
		return "", errIllegalValue
	}
	ch.Points = int(math.Round(span/s)) + 1
	return "", nil
}

func (v *VNA) sweepType(req *Request) (string, error) {
	ch := v.channel(req.Suffix(0, 1))
	if req.Query {
		return ch.SweepType, nil
	}
	t, err := choice(req.Param(0), "LINEAR", "LOGARITHMIC", "POWER", "CW", "SEGMENT", "PHASE")
	if err != nil {
		return "", err
	}
	ch.SweepType = t
	return "", nil
}

func (v *VNA) sweepMode(req *Request) (string, error) {
	ch := v.channel(req.Suffix(0, 1))
	if req.Query {
		return ch.SweepMode, nil
	}
	m, err := choice(req.Param(0), "HOLD", "CONTINUOUS", "GROUPS", "SINGLE")
	if err != nil {
		return "", err
	}
	ch.SweepMode = m
	if m == "SINGLE" {
		ch.Sweeps++
		ch.SweepMode = "HOLD"
	}
	return "", nil
}

func (v *VNA) bandwidth(req *Request) (string, error) {
	ch := v.channel(req.Suffix(0, 1))
	if req.Query {
		return formatNR3(ch.Bandwidth), nil
	}
	bw, err := number(req.Param(0), 1, vnaMaxBandwidth)
	if err != nil {
		return "", err
	}
	ch.Bandwidth = bw
	return "", nil
}

func (v *VNA) calCatalog(req *Request) (string, error) {
	if !req.Query {
		return "", errUndefinedHeader
	}
	return `"` + strings.Join(v.state.CalSets, ",") + `"`, nil
}

func (v *VNA) interpolate(req *Request) (string, error) {
	ch := v.channel(req.Suffix(0, 1))
	if req.Query {
		return boolReply(ch.Interpolate), nil
	}
	on, err := onOff(req.Param(0))
	if err != nil {
		return "", err
	}
	ch.Interpolate = on
	return "", nil
}

func (v *VNA) activateCalSet(req *Request) (string, error) {
	ch := v.channel(req.Suffix(0, 1))
	if req.Query {
		return `"` + ch.CalSet + `"`, nil
	}
	name := Unquote(req.Param(0))
	for _, cs := range v.state.CalSets {
		if cs == name {
			ch.CalSet = name
			if len(req.Params) > 1 {
				if stim, err := onOff(req.Param(1)); err == nil && stim {
					ch.Interpolate = true
				}
			}
			return "", nil
		}
	}
	return "", errIllegalValue
}

func (v *VNA) ecalPortSetting(target func() map[int]string) HandlerFunc {
	return func(req *Request) (string, error) {
		port := req.Suffix(len(req.Suffixes)-1, 1)
		if port > v.state.Ports {
			return "", errDataOutOfRange
		}
		if req.Query {
			return `"` + target()[port] + `"`, nil
		}
		target()[port] = Unquote(req.Param(0))
		return "", nil
	}
}

func (v *VNA) ecalOrientation(req *Request) (string, error) {
	if req.Query {
		return boolReply(v.state.ECal.Orientation), nil
	}
	on, err := onOff(req.Param(0))
	if err != nil {
		return "", err
	}
	v.state.ECal.Orientation = on
	return "", nil
}

func (v *VNA) ecalPorts() []int {
	var ports []int
	for p := 1; p <= v.state.Ports; p++ {
		if c, ok := v.state.ECal.Connectors[p]; ok && c != "" && !strings.EqualFold(c, "Not used") {
			ports = append(ports, p)
		}
	}
	return ports
}

func (v *VNA) ecalInit(req *Request) (string, error) {
	ports := v.ecalPorts()
	if len(ports) == 0 {
		return "", errIllegalValue
	}
	strs := make([]string, len(ports))
	for i, p := range ports {
		strs[i] = strconv.Itoa(p)
	}
	steps := []string{fmt.Sprintf("Connect ECal module to port(s) %s", strings.Join(strs, ", "))}
	thru := v.state.ECal.Thru
	if len(thru) == 0 {
		for _, p := range ports[1:] {
			thru = append(thru, ports[0], p)
		}
	}
	for i := 0; i+1 < len(thru); i += 2 {
		steps = append(steps, fmt.Sprintf("Connect ECal module between port %d and port %d", thru[i], thru[i+1]))
	}
	v.state.ECal.Initiated = true
	v.state.ECal.Steps = steps
	v.state.ECal.Acquired = nil
	return "", nil
}

func (v *VNA) ecalThru(req *Request) (string, error) {
	if req.Query {
		return joinInts(v.state.ECal.Thru), nil
	}
	ports, err := parseInts(req.Params)
	if err != nil || len(ports)%2 != 0 {
		return "", errIllegalValue
	}
	for _, p := range ports {
		if p < 1 || p > v.state.Ports {
			return "", errDataOutOfRange
		}
	}
	v.state.ECal.Thru = ports
	return "", nil
}

func (v *VNA) ecalSteps(req *Request) (string, error) {
	if !req.Query {
		return "", errUndefinedHeader
	}
	if !v.state.ECal.Initiated {
		return "", errIllegalValue
	}
	return strconv.Itoa(len(v.state.ECal.Steps)), nil
}

func (v *VNA) ecalStep(p string) (int, error) {
	if !v.state.ECal.Initiated {
		return 0, errIllegalValue
	}
	p = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(p)), "STAN")
	n, err := strconv.Atoi(p)
	if err != nil {
		return 0, errIllegalValue
	}
	if n < 1 || n > len(v.state.ECal.Steps) {
		return 0, errDataOutOfRange
	}
	return n, nil
}

func (v *VNA) ecalDescription(req *Request) (string, error) {
	n, err := v.ecalStep(req.Param(0))
	if err != nil {
		return "", err
	}
	return `"` + v.state.ECal.Steps[n-1] + `"`, nil
}

func (v *VNA) ecalAcquire(req *Request) (string, error) {
	n, err := v.ecalStep(req.Param(0))
	if err != nil {
		return "", err
	}
	v.state.ECal.Acquired = append(v.state.ECal.Acquired, n)
	return "", nil
}

func (v *VNA) ecalSave(req *Request) (string, error) {
	e := &v.state.ECal
	if !e.Initiated || len(e.Acquired) < len(e.Steps) {
		return "", errIllegalValue
	}
	name := Unquote(req.Param(0))
	if name == "" {
		name = fmt.Sprintf("CalSet_%d", len(v.state.CalSets)+1)
	}
	v.state.CalSets = append(v.state.CalSets, name)
	v.channel(req.Suffix(0, 1)).CalSet = name
	e.Initiated = false
	e.Steps = nil
	e.Acquired = nil
	return "", nil
}

func (v *VNA) deleteTraces(req *Request) (string, error) {
	cnum := req.Suffix(0, 1)
	kept := v.state.Traces[:0]
	removed := map[string]bool{}
	for _, t := range v.state.Traces {
		if t.Channel == cnum {
			removed[t.Name] = true
			continue
		}
		kept = append(kept, t)
	}
	v.state.Traces = kept
	delete(v.state.Selected, cnum)
	for w, feeds := range v.state.Feeds {
		for i, name := range feeds {
			if removed[name] {
				feeds[i] = ""
			}
		}
		v.state.Feeds[w] = feeds
	}
	return "", nil
}

func (v *VNA) findTrace(cnum int, name string) (*VNATrace, bool) {
	for i := range v.state.Traces {
		t := &v.state.Traces[i]
		if t.Channel == cnum && t.Name == name {
			return t, true
		}
	}
	return nil, false
}

func (v *VNA) defineTrace(req *Request) (string, error) {
	cnum := req.Suffix(0, 1)
	if len(req.Params) < 2 {
		return "", errMissingParam
	}
	name := Unquote(req.Param(0))
	param := strings.ToUpper(Unquote(req.Param(1)))
	if _, _, err := v.portPair(param); err != nil {
		return "", err
	}
	if t, ok := v.findTrace(cnum, name); ok {
		t.Parameter = param
		return "", nil
	}
	v.state.Traces = append(v.state.Traces, VNATrace{Name: name, Parameter: param, Channel: cnum})
	return "", nil
}

func (v *VNA) selectTrace(req *Request) (string, error) {
	cnum := req.Suffix(0, 1)
	if req.Query {
		return `"` + v.state.Selected[cnum] + `"`, nil
	}
	name := Unquote(req.Param(0))
	if _, ok := v.findTrace(cnum, name); !ok {
		return "", errIllegalValue
	}
	v.state.Selected[cnum] = name
	return "", nil
}

func (v *VNA) traceCatalog(req *Request) (string, error) {
	cnum := req.Suffix(0, 1)
	var parts []string
	for _, t := range v.state.Traces {
		if t.Channel == cnum {
			parts = append(parts, t.Name, t.Parameter)
		}
	}
	if len(parts) == 0 {
		return `"NO CATALOG"`, nil
	}
	return `"` + strings.Join(parts, ",") + `"`, nil
}

// portPair parses S-parameter names like S21, SDD12 or S10_2.
func (v *VNA) portPair(param string) (int, int, error) {
	p := strings.TrimPrefix(param, "SDD")
	p = strings.TrimPrefix(p, "SCC")
	p = strings.TrimPrefix(p, "SDC")
	p = strings.TrimPrefix(p, "SCD")
	p = strings.TrimPrefix(p, "S")
	var a, b int
	var err error
	if i := strings.Index(p, "_"); i >= 0 {
		a, err = strconv.Atoi(p[:i])
		if err == nil {
			b, err = strconv.Atoi(p[i+1:])
		}
	} else if len(p) == 2 {
		a, b = int(p[0]-'0'), int(p[1]-'0')
	} else {
		err = errIllegalValue
	}
	if err != nil || a < 1 || b < 1 || a > v.state.Ports || b > v.state.Ports {
		return 0, 0, errIllegalValue
	}
	return a, b, nil
}

func (v *VNA) frequencies(ch *vnaChannel) []float64 {
	n := ch.Points
	freqs := make([]float64, n)
	for i := range freqs {
		switch {
		case ch.SweepType == "CW":
			freqs[i] = ch.CW
		case n == 1:
			freqs[i] = ch.Start
		case ch.SweepType == "LOGARITHMIC":
			freqs[i] = ch.Start * math.Pow(ch.Stop/ch.Start, float64(i)/float64(n-1))
		default:
			freqs[i] = ch.Start + float64(i)*(ch.Stop-ch.Start)/float64(n-1)
		}
	}
	return freqs
}

// response models a lossy, 1 ns long interconnect between every port pair.
func response(a, b int, f float64) complex128 {
	theta := -2 * math.Pi * f * 1e-9
	if a == b {
		return cmplx.Rect(0.1, theta*float64(a))
	}
	loss := 0.9 * math.Exp(-f/vnaMaxFrequency)
	return cmplx.Rect(loss, theta)
}

func (v *VNA) traceData(req *Request) (string, error) {
	if !req.Query {
		return "", errUndefinedHeader
	}
	cnum := req.Suffix(0, 1)
	t, ok := v.findTrace(cnum, v.state.Selected[cnum])
	if !ok {
		return "", errIllegalValue
	}
	a, b, err := v.portPair(t.Parameter)
	if err != nil {
		return "", err
	}
	ch := v.channel(cnum)
	var values []float64
	kind := strings.ToUpper(req.Param(0))
	for _, f := range v.frequencies(ch) {
		s := response(a, b, f)
		switch kind {
		case "FDATA":
			values = append(values, 20*math.Log10(cmplx.Abs(s)))
		case "SDATA", "RDATA", "":
			values = append(values, real(s), imag(s))
		default:
			return "", errIllegalValue
		}
	}
	return v.encode(values), nil
}

func (v *VNA) snpData(req *Request) (string, error) {
	if !req.Query {
		return "", errUndefinedHeader
	}
	var ports []int
	for _, p := range req.Params {
		ps, err := parseInts(strings.Split(Unquote(p), ","))
		if err != nil {
			return "", errIllegalValue
		}
		ports = append(ports, ps...)
	}
	if len(ports) == 0 {
		return "", errMissingParam
	}
	for _, p := range ports {
		if p < 1 || p > v.state.Ports {
			return "", errDataOutOfRange
		}
	}
	ch := v.channel(req.Suffix(0, 1))
	freqs := v.frequencies(ch)
	values := append([]float64(nil), freqs...)
	for _, a := range ports {
		for _, b := range ports {
			first := make([]float64, len(freqs))
			second := make([]float64, len(freqs))
			for i, f := range freqs {
				s := response(a, b, f)
				switch v.state.SNPFormat {
				case "RI":
					first[i], second[i] = real(s), imag(s)
				case "DB":
					first[i], second[i] = 20*math.Log10(cmplx.Abs(s)), cmplx.Phase(s)*180/math.Pi
				default:
					first[i], second[i] = cmplx.Abs(s), cmplx.Phase(s)*180/math.Pi
				}
			}
			values = append(values, first...)
			values = append(values, second...)
		}
	}
	return v.encode(values), nil
}

func (v *VNA) encode(values []float64) string {
	f, _ := visa.ParseDataFormat(v.state.DataFormat)
	if !f.Binary {
		parts := make([]string, len(values))
		for i, x := range values {
			parts[i] = fmt.Sprintf("%+.6E", x)
		}
		return strings.Join(parts, ",")
	}
	var order binary.ByteOrder = binary.BigEndian
	if v.state.ByteOrder == "SWAPPED" {
		order = binary.LittleEndian
	}
	return string(visa.EncodeFloats(values, f.Bits, order))
}

func (v *VNA) balancedDevice(req *Request) (string, error) {
	if req.Query {
		return v.state.Balanced, nil
	}
	d, err := choice(req.Param(0), "SBALANCED", "BBALANCED", "SSBALANCED", "BALANCED")
	if err != nil {
		return "", err
	}
	v.state.Balanced = d
	return "", nil
}

func (v *VNA) balancedPorts(req *Request) (string, error) {
	if req.Query {
		return joinInts(v.state.BalancedPorts), nil
	}
	ports, err := parseInts(req.Params)
	if err != nil || len(ports) != 4 {
		return "", errIllegalValue
	}
	v.state.BalancedPorts = ports
	return "", nil
}

func (v *VNA) balancedState(req *Request) (string, error) {
	if req.Query {
		return boolReply(v.state.Balanced != ""), nil
	}
	if _, err := onOff(req.Param(0)); err != nil {
		return "", err
	}
	return "", nil
}

func (v *VNA) balancedDefine(req *Request) (string, error) {
	cnum := req.Suffix(0, 1)
	t, ok := v.findTrace(cnum, v.state.Selected[cnum])
	if !ok {
		return "", errIllegalValue
	}
	if req.Query {
		return t.Parameter, nil
	}
	param := strings.ToUpper(Unquote(req.Param(0)))
	if !strings.HasPrefix(param, "SDD") {
		return "", errIllegalValue
	}
	if _, _, err := v.portPair(param); err != nil {
		return "", err
	}
	t.Parameter = param
	return "", nil
}

func (v *VNA) feed(req *Request) (string, error) {
	w, tnum := req.Suffix(1, 1), req.Suffix(2, 1)
	if req.Query {
		feeds := v.state.Feeds[w]
		if tnum <= len(feeds) {
			return `"` + feeds[tnum-1] + `"`, nil
		}
		return `""`, nil
	}
	name := Unquote(req.Param(0))
	found := false
	for _, t := range v.state.Traces {
		if t.Name == name {
			found = true
			break
		}
	}
	if !found {
		return "", errIllegalValue
	}
	feeds := v.state.Feeds[w]
	for len(feeds) < tnum {
		feeds = append(feeds, "")
	}
	feeds[tnum-1] = name
	v.state.Feeds[w] = feeds
	return "", nil
}

func (v *VNA) window(req *Request) (string, error) {
	w := req.Suffix(1, 1)
	if req.Query {
		return boolReply(v.state.Windows[w]), nil
	}
	on, err := onOff(req.Param(0))
	if err != nil {
		return "", err
	}
	v.state.Windows[w] = on
	return "", nil
}

func (v *VNA) dataFormat(req *Request) (string, error) {
	if req.Query {
		return v.state.DataFormat, nil
	}
	f, err := visa.ParseDataFormat(strings.Join(req.Params, ","))
	if err != nil {
		return "", errIllegalValue
	}
	v.state.DataFormat = f.SCPI()
	return "", nil
}

// setting handles an enumerated string setting with long or short values.
func (v *VNA) setting(field *string, values ...string) HandlerFunc {
	return func(req *Request) (string, error) {
		if req.Query {
			return *field, nil
		}
		val, err := choice(req.Param(0), values...)
		if err != nil {
			return "", err
		}
		*field = val
		return "", nil
	}
}

// choice matches p against long-form values, accepting any prefix of at
// least three letters.
func choice(p string, values ...string) (string, error) {
	p = strings.ToUpper(strings.TrimSpace(p))
	if p == "" {
		return "", errMissingParam
	}
	for _, v := range values {
		if p == v || (len(p) >= 3 && strings.HasPrefix(v, p)) {
			return v, nil
		}
	}
	return "", errIllegalValue
}

func parseInts(params []string) ([]int, error) {
	var out []int
	for _, p := range params {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}
