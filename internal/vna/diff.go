package vna

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// DiffPairs returns the number of balanced port pairs.
func (v *VNA) DiffPairs() int { return v.cfg.Ports / 2 }

// DiffTraceName returns the balanced trace name for a pair of balanced ports.
func DiffTraceName(i, j int) string {
	return fmt.Sprintf("sdd%d%d", i, j)
}

// SetupDiffTraces replaces all measurements with balanced SDD traces for
// every pair of balanced ports, each in its own window. Call it after the
// sweep has been configured.
func (v *VNA) SetupDiffTraces(ctx context.Context) ([]string, error) {
	n := v.DiffPairs()
	if n < 1 {
		return nil, fmt.Errorf("balanced measurements need at least 2 ports, have %d", v.cfg.Ports)
	}
	if err := v.DeleteAllTraces(ctx, 1); err != nil {
		return nil, err
	}
	if err := v.Write(ctx, "CALC1:FSIM:BAL:DEV BBALANCED"); err != nil {
		return nil, err
	}
	if err := v.DeleteAllTraces(ctx, 1); err != nil {
		return nil, err
	}
	for w := 1; w <= n*n; w++ {
		if err := v.SetDisplayWindow(ctx, w, true); err != nil {
			return nil, err
		}
	}

	var names []string
	for i := 1; i <= n; i++ {
		for j := 1; j <= n; j++ {
			tname := DiffTraceName(i, j)
			tidx := (i-1)*n + j
			names = append(names, tname)
			if err := v.CreateTrace(ctx, 1, tname, fmt.Sprintf("S%d%d", i, j)); err != nil {
				return nil, err
			}
			if err := v.Write(ctx, "CALC1:FSIM:BAL:PAR:STATE ON"); err != nil {
				return nil, err
			}
			if err := v.Writef(ctx, "CALC1:FSIM:BAL:PAR:BBAL:DEF '%s'", tname); err != nil {
				return nil, err
			}
			if err := v.CreateWindowTrace(ctx, tidx, tidx, tname); err != nil {
				return nil, err
			}
		}
	}

	if err := v.Write(ctx, "CALC1:FSIM:BAL:DEV BBALANCED"); err != nil {
		return nil, err
	}
	ports := make([]string, v.cfg.Ports)
	for i := range ports {
		ports[i] = strconv.Itoa(i + 1)
	}
	if err := v.Writef(ctx, "CALC1:FSIM:BAL:TOP:BBAL:PPORTS %s", strings.Join(ports, ",")); err != nil {
		return nil, err
	}
	if err := v.SetTriggerSource(ctx, "IMMediate"); err != nil {
		return nil, err
	}
	return names, nil
}

// CaptureDiffTraces sweeps once and returns formatted SDD data for the
// traces created by SetupDiffTraces.
func (v *VNA) CaptureDiffTraces(ctx context.Context, opts CaptureOptions) (FMatrix, error) {
	n := v.DiffPairs()
	points, err := v.startCapture(ctx, opts)
	if err != nil {
		return nil, err
	}
	out := make(FMatrix, points)
	for p := range out {
		out[p] = newFloatGrid(n, n)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			values, err := v.traceValues(ctx, DiffTraceName(i+1, j+1), "FDATA", points, opts)
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

// CaptureDiffComplex sweeps once and returns complex SDD parameters for the
// traces created by SetupDiffTraces.
func (v *VNA) CaptureDiffComplex(ctx context.Context, opts CaptureOptions) (SMatrix, error) {
	n := v.DiffPairs()
	points, err := v.startCapture(ctx, opts)
	if err != nil {
		return nil, err
	}
	out := make(SMatrix, points)
	for p := range out {
		out[p] = newComplexGrid(n, n)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			values, err := v.traceValues(ctx, DiffTraceName(i+1, j+1), "SDATA", 2*points, opts)
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
