package vna

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/Samtec-ASH/govisainstrument/internal/visa"
)

// SMatrix holds complex sweep data indexed [point][row][col].
type SMatrix [][][]complex128

// FMatrix holds formatted sweep data indexed [point][row][col].
type FMatrix [][][]float64

// PortPairs selects the rows and columns of a single-ended measurement.
type PortPairs struct {
	Rows []int
	Cols []int
}

// CaptureOptions controls how trace data is transferred.
type CaptureOptions struct {
	Format       visa.DataFormat
	LittleEndian bool
}

func (o CaptureOptions) order() binary.ByteOrder {
	if o.LittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

func (v *VNA) allPorts() []int {
	ports := make([]int, v.cfg.Ports)
	for i := range ports {
		ports[i] = i + 1
	}
	return ports
}

func (v *VNA) pairs(p *PortPairs) (PortPairs, error) {
	if p == nil {
		return PortPairs{Rows: v.allPorts(), Cols: v.allPorts()}, nil
	}
	if len(p.Rows) == 0 || len(p.Cols) == 0 {
		return PortPairs{}, fmt.Errorf("port pairs need at least one row and one column")
	}
	for _, port := range append(append([]int(nil), p.Rows...), p.Cols...) {
		if port < 1 || port > v.cfg.Ports {
			return PortPairs{}, fmt.Errorf("port %d out of range [1, %d]", port, v.cfg.Ports)
		}
	}
	return *p, nil
}

// TraceName returns the single-ended trace name for a port pair.
func (v *VNA) TraceName(a, b int) string {
	return fmt.Sprintf("%s%d%d", v.cfg.TracePrefix, a, b)
}

// DeleteAllTraces deletes every measurement on channel cnum.
func (v *VNA) DeleteAllTraces(ctx context.Context, cnum int) error {
	return v.WriteAsync(ctx, fmt.Sprintf("CALC%d:PAR:DEL:ALL", cnum), visa.AsyncOptions{})
}

// CreateTrace defines measurement tname for parameter sname (e.g. S21) and
// selects it.
func (v *VNA) CreateTrace(ctx context.Context, cnum int, tname, sname string) error {
	if err := v.Writef(ctx, "CALC%d:PAR:DEF '%s',%s", cnum, tname, sname); err != nil {
		return err
	}
	if err := v.Writef(ctx, "CALC%d:PAR:SEL '%s'", cnum, tname); err != nil {
		return err
	}
	return v.SyncNonBlocking(ctx, 0)
}

// CreateWindowTrace feeds measurement tname to trace number trace of window.
func (v *VNA) CreateWindowTrace(ctx context.Context, window, trace int, tname string) error {
	return v.WriteAsync(ctx, fmt.Sprintf("DISP:WIND%d:TRAC%d:FEED '%s'", window, trace, tname), visa.AsyncOptions{})
}

// SetDisplayWindow turns a display window on or off.
func (v *VNA) SetDisplayWindow(ctx context.Context, window int, on bool) error {
	return v.WriteAsync(ctx, fmt.Sprintf("DISP:WIND%d:STATE %s", window, onOff(on)), visa.AsyncOptions{})
}

// SelectTrace selects measurement tname on channel 1.
func (v *VNA) SelectTrace(ctx context.Context, tname string) error {
	return v.Writef(ctx, "CALC1:PAR:SEL '%s'", tname)
}

// SetupSESTraces replaces all measurements with single-ended S-parameter
// traces for every row/column pair, one display window per row. A nil
// pairs selects every port. The trace names are returned in row-major
// order.
func (v *VNA) SetupSESTraces(ctx context.Context, pairs *PortPairs) ([]string, error) {
	pp, err := v.pairs(pairs)
	if err != nil {
		return nil, err
	}
	if err := v.DeleteAllTraces(ctx, 1); err != nil {
		return nil, err
	}
	for i := range pp.Rows {
		if err := v.SetDisplayWindow(ctx, i+1, true); err != nil {
			return nil, err
		}
	}
	var names []string
	for i, a := range pp.Rows {
		for j, b := range pp.Cols {
			tname := v.TraceName(a, b)
			names = append(names, tname)
			if err := v.CreateTrace(ctx, 1, tname, fmt.Sprintf("S%d%d", a, b)); err != nil {
				return nil, err
			}
			if err := v.CreateWindowTrace(ctx, i+1, j+1, tname); err != nil {
				return nil, err
			}
		}
	}
	if err := v.SetTriggerSource(ctx, "IMMediate"); err != nil {
		return nil, err
	}
	return names, nil
}

// startCapture triggers a single sweep, sets the transfer format and returns
// the number of sweep points.
func (v *VNA) startCapture(ctx context.Context, opts CaptureOptions) (int, error) {
	if err := v.SetSweepMode(ctx, 1, "SINGLE"); err != nil {
		return 0, err
	}
	if err := v.SetDataFormat(ctx, opts.Format); err != nil {
		return 0, err
	}
	if opts.Format.Binary {
		if err := v.SetByteOrder(ctx, opts.LittleEndian); err != nil {
			return 0, err
		}
	}
	return v.SweepPoints(ctx, 1)
}

// traceValues selects tname and reads its data. kind is FDATA or SDATA.
func (v *VNA) traceValues(ctx context.Context, tname, kind string, want int, opts CaptureOptions) ([]float64, error) {
	if err := v.SelectTrace(ctx, tname); err != nil {
		return nil, err
	}
	values, err := v.QueryValues(ctx, "CALC1:DATA? "+kind, opts.Format, opts.order())
	if err != nil {
		return nil, err
	}
	if len(values) != want {
		return nil, fmt.Errorf("trace %s: expected %d values, got %d", tname, want, len(values))
	}
	return values, nil
}

func toComplex(values []float64) []complex128 {
	out := make([]complex128, len(values)/2)
	for i := range out {
		out[i] = complex(values[2*i], values[2*i+1])
	}
	return out
}

// CaptureTraces sweeps once and returns formatted data for the named
// traces, indexed [point][trace].
func (v *VNA) CaptureTraces(ctx context.Context, names []string, opts CaptureOptions) ([][]float64, error) {
	points, err := v.startCapture(ctx, opts)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, points)
	for p := range out {
		out[p] = make([]float64, len(names))
	}
	for t, name := range names {
		values, err := v.traceValues(ctx, name, "FDATA", points, opts)
		if err != nil {
			return nil, err
		}
		for p, x := range values {
			out[p][t] = x
		}
	}
	return out, v.Write(ctx, "*CLS")
}

// CaptureComplexTraces sweeps once and returns complex data for the named
// traces, indexed [point][trace].
func (v *VNA) CaptureComplexTraces(ctx context.Context, names []string, opts CaptureOptions) ([][]complex128, error) {
	points, err := v.startCapture(ctx, opts)
	if err != nil {
		return nil, err
	}
	out := make([][]complex128, points)
	for p := range out {
		out[p] = make([]complex128, len(names))
	}
	for t, name := range names {
		values, err := v.traceValues(ctx, name, "SDATA", 2*points, opts)
		if err != nil {
			return nil, err
		}
		for p, x := range toComplex(values) {
			out[p][t] = x
		}
	}
	return out, v.Write(ctx, "*CLS")
}

// CaptureSESTraces sweeps once and returns formatted data for the traces
// created by SetupSESTraces with the same pairs.
func (v *VNA) CaptureSESTraces(ctx context.Context, pairs *PortPairs, opts CaptureOptions) (FMatrix, error) {
	pp, err := v.pairs(pairs)
	if err != nil {
		return nil, err
	}
	points, err := v.startCapture(ctx, opts)
	if err != nil {
		return nil, err
	}
	out := make(FMatrix, points)
	for p := range out {
		out[p] = newFloatGrid(len(pp.Rows), len(pp.Cols))
	}
	for i, a := range pp.Rows {
		for j, b := range pp.Cols {
			values, err := v.traceValues(ctx, v.TraceName(a, b), "FDATA", points, opts)
			if err != nil {
				return nil, err
			}
			for p, x := range values {
				out[p][i][j] = x
			}
		}
	}
	return out, v.Write(ctx, "*CLS")
}

// CaptureSESComplex sweeps once and returns complex S-parameters for the
// traces created by SetupSESTraces with the same pairs.
func (v *VNA) CaptureSESComplex(ctx context.Context, pairs *PortPairs, opts CaptureOptions) (SMatrix, error) {
	pp, err := v.pairs(pairs)
	if err != nil {
		return nil, err
	}
	points, err := v.startCapture(ctx, opts)
	if err != nil {
		return nil, err
	}
	out := make(SMatrix, points)
	for p := range out {
		out[p] = newComplexGrid(len(pp.Rows), len(pp.Cols))
	}
	for i, a := range pp.Rows {
		for j, b := range pp.Cols {
			values, err := v.traceValues(ctx, v.TraceName(a, b), "SDATA", 2*points, opts)
			if err != nil {
				return nil, err
			}
			for p, x := range toComplex(values) {
				out[p][i][j] = x
			}
		}
	}
	return out, v.Write(ctx, "*CLS")
}

// SetupSNPTraces creates single-ended traces between every pair of ports.
// A nil ports selects every port.
func (v *VNA) SetupSNPTraces(ctx context.Context, ports []int) ([]string, error) {
	if ports == nil {
		ports = v.allPorts()
	}
	return v.SetupSESTraces(ctx, &PortPairs{Rows: ports, Cols: ports})
}

// CaptureSNPData sweeps once and reads the real/imaginary SnP block for
// ports (nil for every port). It returns the frequency vector and the
// S-parameter matrix.
func (v *VNA) CaptureSNPData(ctx context.Context, ports []int, opts CaptureOptions) ([]float64, SMatrix, error) {
	if ports == nil {
		ports = v.allPorts()
	}
	if _, err := v.pairs(&PortPairs{Rows: ports, Cols: ports}); err != nil {
		return nil, nil, err
	}
	n := len(ports)
	if err := v.SetSweepMode(ctx, 1, "SINGLE"); err != nil {
		return nil, nil, err
	}
	if err := v.SetTraceFormat(ctx, "RI"); err != nil {
		return nil, nil, err
	}
	if err := v.SetDataFormat(ctx, opts.Format); err != nil {
		return nil, nil, err
	}
	if opts.Format.Binary {
		if err := v.SetByteOrder(ctx, opts.LittleEndian); err != nil {
			return nil, nil, err
		}
	}
	points, err := v.SweepPoints(ctx, 1)
	if err != nil {
		return nil, nil, err
	}

	portList := make([]string, n)
	for i, p := range ports {
		portList[i] = strconv.Itoa(p)
	}
	data, err := v.QueryValues(ctx, fmt.Sprintf(`CALC:DATA:SNP:PORTs? "%s"`, strings.Join(portList, ",")), opts.Format, opts.order())
	if err != nil {
		return nil, nil, err
	}
	if want := points + 2*points*n*n; len(data) != want {
		return nil, nil, fmt.Errorf("snp data: expected %d values, got %d", want, len(data))
	}

	freq := append([]float64(nil), data[:points]...)
	s := make(SMatrix, points)
	for p := range s {
		s[p] = newComplexGrid(n, n)
	}
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			re := points + 2*points*n*r + 2*points*c
			im := re + points
			for p := 0; p < points; p++ {
				s[p][r][c] = complex(data[re+p], data[im+p])
			}
		}
	}
	return freq, s, v.Write(ctx, "*CLS")
}

func newFloatGrid(rows, cols int) [][]float64 {
	g := make([][]float64, rows)
	for i := range g {
		g[i] = make([]float64, cols)
	}
	return g
}

func newComplexGrid(rows, cols int) [][]complex128 {
	g := make([][]complex128, rows)
	for i := range g {
		g[i] = make([]complex128, cols)
	}
	return g
}
