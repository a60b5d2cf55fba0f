package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newPSUCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "psu",
		Short: "Power supply outputs and readback",
	}
	cmd.AddCommand(newPSUApplyCmd(a), newPSUOutputCmd(a), newPSUMeasureCmd(a), newPSUDisplayCmd(a))
	return cmd
}

func newPSUApplyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "apply NAME OUTPUT VOLTS AMPS",
		Short: "Set voltage and current limit of an output",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			p, err := a.bench.PSU(args[0])
			if err != nil {
				return err
			}
			volts, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("invalid voltage %q", args[2])
			}
			amps, err := strconv.ParseFloat(args[3], 64)
			if err != nil {
				return fmt.Errorf("invalid current %q", args[3])
			}
			ctx := cmd.Context()
			return withOpen(ctx, p, func() error {
				return p.Apply(ctx, args[1], volts, amps)
			})
		},
	}
}

func newPSUOutputCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "output NAME [on|off]",
		Short: "Switch the outputs on or off, or report their state",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			p, err := a.bench.PSU(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if len(args) == 2 {
				var on bool
				switch strings.ToLower(args[1]) {
				case "on", "1":
					on = true
				case "off", "0":
				default:
					return fmt.Errorf("output state must be on or off, got %q", args[1])
				}
				return withOpen(ctx, p, func() error {
					return p.SetOutputState(ctx, on)
				})
			}

			var on bool
			err = withOpen(ctx, p, func() error {
				var err error
				on, err = p.OutputState(ctx)
				return err
			})
			if err != nil {
				return err
			}
			return a.print(map[string]bool{"on": on}, func(w io.Writer) {
				fmt.Fprintln(w, onOffText(on))
			})
		},
	}
}

func onOffText(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func newPSUMeasureCmd(a *app) *cobra.Command {
	var channel string
	cmd := &cobra.Command{
		Use:   "measure NAME",
		Short: "Measure output voltage and current",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			p, err := a.bench.PSU(args[0])
			if err != nil {
				return err
			}

			type reading struct {
				Output  string  `json:"output"`
				Voltage float64 `json:"voltage"`
				Current float64 `json:"current"`
			}
			var r reading
			ctx := cmd.Context()
			err = withOpen(ctx, p, func() error {
				if channel != "" {
					if err := p.SetChannel(ctx, channel); err != nil {
						return err
					}
				}
				var err error
				if r.Output, err = p.Channel(ctx); err != nil {
					return err
				}
				if r.Voltage, err = p.MeasuredVoltage(ctx); err != nil {
					return err
				}
				r.Current, err = p.MeasuredCurrent(ctx)
				return err
			})
			if err != nil {
				return err
			}
			return a.print(r, func(w io.Writer) {
				fmt.Fprintf(w, "%s: %g V, %g A\n", r.Output, r.Voltage, r.Current)
			})
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "select this output first, e.g. P6V")
	return cmd
}

func newPSUDisplayCmd(a *app) *cobra.Command {
	var clear bool
	cmd := &cobra.Command{
		Use:   "display NAME [TEXT]",
		Short: "Show, clear or read the front panel message",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			p, err := a.bench.PSU(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			switch {
			case clear:
				return withOpen(ctx, p, func() error { return p.ClearDisplayText(ctx) })
			case len(args) == 2:
				return withOpen(ctx, p, func() error { return p.SetDisplayText(ctx, args[1]) })
			}

			var text string
			err = withOpen(ctx, p, func() error {
				var err error
				text, err = p.DisplayText(ctx)
				return err
			})
			if err != nil {
				return err
			}
			return a.print(map[string]string{"text": text}, func(w io.Writer) {
				fmt.Fprintln(w, text)
			})
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "clear the message")
	return cmd
}
