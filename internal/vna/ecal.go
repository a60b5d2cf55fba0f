package vna

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Samtec-ASH/govisainstrument/internal/visa"
)

// ECalSetup describes a guided calibration with an electronic cal module.
// Connectors and Kits are indexed by port number - 1.
type ECalSetup struct {
	Connectors []string
	Kits       []string
	// ThruPairs lists port pairs to calibrate as a flat list, e.g.
	// [1 2 1 3 1 4]. Nil uses the analyzer's minimum set.
	ThruPairs  []int
	AutoOrient bool
}

// ECalStepOptions controls how a step is performed.
type ECalStepOptions struct {
	// Save stores the calibration once the last step is acquired.
	Save bool
	// SaveName names the cal set. Empty lets the analyzer pick a name.
	SaveName string
	// Settle is waited after each acquisition.
	Settle time.Duration
}

// SetupECalibration configures and initiates a guided e-cal.
func (v *VNA) SetupECalibration(ctx context.Context, setup ECalSetup) error {
	if len(setup.Connectors) != len(setup.Kits) {
		return fmt.Errorf("connectors and kits must have the same length, got %d and %d", len(setup.Connectors), len(setup.Kits))
	}
	if len(setup.ThruPairs)%2 != 0 {
		return fmt.Errorf("thru pairs must have even length, got %d", len(setup.ThruPairs))
	}
	for i, connector := range setup.Connectors {
		if err := v.Writef(ctx, `SENSE1:CORR:COLL:GUID:CONN:PORT%d "%s"`, i+1, connector); err != nil {
			return err
		}
	}
	for i, kit := range setup.Kits {
		if err := v.Writef(ctx, `SENSE1:CORR:COLL:GUID:CKIT:PORT%d "%s"`, i+1, kit); err != nil {
			return err
		}
	}
	if err := v.Writef(ctx, "SENSE1:CORR:PREF:ECAL:ORI %s", onOff(setup.AutoOrient)); err != nil {
		return err
	}
	if err := v.Write(ctx, "SENSE1:CORR:COLL:GUID:INIT"); err != nil {
		return err
	}
	if len(setup.ThruPairs) == 0 {
		return nil
	}
	pairs := make([]string, len(setup.ThruPairs))
	for i, p := range setup.ThruPairs {
		pairs[i] = strconv.Itoa(p)
	}
	if err := v.Writef(ctx, "SENSE1:CORR:COLL:GUID:THRU:PORTS %s", strings.Join(pairs, ",")); err != nil {
		return err
	}
	return v.Write(ctx, "SENSE1:CORR:COLL:GUID:INIT")
}

// NumberECalSteps returns the number of steps of the initiated e-cal.
func (v *VNA) NumberECalSteps(ctx context.Context) (int, error) {
	return v.QueryInt(ctx, "SENSE1:CORR:COLL:GUID:STEPS?")
}

// ECalStepInfo returns the operator instruction for step (0-based).
func (v *VNA) ECalStepInfo(ctx context.Context, step int) (string, error) {
	resp, err := v.Query(ctx, fmt.Sprintf("SENSE1:CORR:COLL:GUID:DESC? %d", step+1))
	if err != nil {
		return "", err
	}
	return strings.Trim(resp, `"`), nil
}

// PerformECalStep acquires step (0-based). Steps past the last are ignored.
// The calibration is saved after the last step when opts.Save is set.
func (v *VNA) PerformECalStep(ctx context.Context, step int, opts ECalStepOptions) error {
	steps, err := v.NumberECalSteps(ctx)
	if err != nil {
		return err
	}
	if step < 0 || step >= steps {
		return nil
	}
	cmd := fmt.Sprintf("SENSE1:CORR:COLL:GUID:ACQ STAN%d,ASYN", step+1)
	if err := v.WriteAsync(ctx, cmd, visa.AsyncOptions{Poll: v.cfg.ECalPoll}); err != nil {
		return err
	}
	if err := visa.Sleep(ctx, opts.Settle); err != nil {
		return err
	}
	if step != steps-1 || !opts.Save {
		return nil
	}
	if opts.SaveName != "" {
		return v.Writef(ctx, `SENSE1:CORR:COLL:GUID:SAVE:CSET "%s"`, opts.SaveName)
	}
	return v.Write(ctx, "SENSE1:CORR:COLL:GUID:SAVE")
}

// PerformECalSteps walks every step in order. Before each step, prompt is
// called with the step index and its instruction; a non-nil error from
// prompt aborts the calibration.
func (v *VNA) PerformECalSteps(ctx context.Context, opts ECalStepOptions, prompt func(step int, description string) error) error {
	steps, err := v.NumberECalSteps(ctx)
	if err != nil {
		return err
	}
	for i := 0; i < steps; i++ {
		desc, err := v.ECalStepInfo(ctx, i)
		if err != nil {
			return err
		}
		if prompt != nil {
			if err := prompt(i, desc); err != nil {
				return err
			}
		}
		if err := v.PerformECalStep(ctx, i, opts); err != nil {
			return fmt.Errorf("ecal step %d: %w", i+1, err)
		}
	}
	return nil
}
