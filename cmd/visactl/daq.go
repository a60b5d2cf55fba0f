package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
)

// parseChannels parses route or relay channel numbers.
func parseChannels(args []string) ([]int, error) {
	chs := make([]int, 0, len(args))
	for _, arg := range args {
		ch, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid channel %q", arg)
		}
		chs = append(chs, ch)
	}
	return chs, nil
}

func newDAQCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daq",
		Short: "Switch routes and environment measurements",
	}
	cmd.AddCommand(
		newDAQRouteCmd(a, "open", "Open routes (disconnect)"),
		newDAQRouteCmd(a, "close", "Close routes (connect)"),
		newDAQStateCmd(a),
		newDAQMeasureCmd(a, "temperature", "Measure temperature"),
		newDAQMeasureCmd(a, "humidity", "Measure relative humidity"),
	)
	return cmd
}

func newDAQRouteCmd(a *app, action, short string) *cobra.Command {
	var slot int
	cmd := &cobra.Command{
		Use:   action + " NAME [CHANNEL...]",
		Short: short,
		Long:  short + ". Channels are full route addresses such as 101 or 2005; --slot acts on every channel of a slot.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			d, err := a.bench.DAQ(args[0])
			if err != nil {
				return err
			}
			chs, err := parseChannels(args[1:])
			if err != nil {
				return err
			}
			if slot == 0 && len(chs) == 0 {
				return fmt.Errorf("give channels or --slot")
			}

			ctx := cmd.Context()
			return withOpen(ctx, d, func() error {
				switch {
				case action == "open" && slot > 0:
					return d.OpenAllChannels(ctx, slot)
				case action == "open":
					return d.OpenChannels(ctx, chs)
				case slot > 0:
					return d.CloseAllChannels(ctx, slot)
				default:
					return d.CloseChannels(ctx, chs)
				}
			})
		},
	}
	cmd.Flags().IntVar(&slot, "slot", 0, "act on every channel of this slot")
	return cmd
}

func newDAQStateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "state NAME CHANNEL...",
		Short: "Report whether routes are closed",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			d, err := a.bench.DAQ(args[0])
			if err != nil {
				return err
			}
			chs, err := parseChannels(args[1:])
			if err != nil {
				return err
			}

			type state struct {
				Channel int  `json:"channel"`
				Closed  bool `json:"closed"`
			}
			ctx := cmd.Context()
			var states []state
			err = withOpen(ctx, d, func() error {
				for _, ch := range chs {
					closed, err := d.IsChannelClosed(ctx, ch)
					if err != nil {
						return err
					}
					states = append(states, state{ch, closed})
				}
				return nil
			})
			if err != nil {
				return err
			}
			return a.print(states, func(w io.Writer) {
				for _, s := range states {
					fmt.Fprintf(w, "%d\t%s\n", s.Channel, routeState(s.Closed))
				}
			})
		},
	}
}

func routeState(closed bool) string {
	if closed {
		return "closed"
	}
	return "open"
}

func newDAQMeasureCmd(a *app, quantity, short string) *cobra.Command {
	var sensor, sensorType string
	cmd := &cobra.Command{
		Use:   quantity + " NAME",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			d, err := a.bench.DAQ(args[0])
			if err != nil {
				return err
			}
			measure := d.MeasureTemperature
			unit := "C"
			if quantity == "humidity" {
				measure = d.MeasureRelativeHumidity
				unit = "%RH"
			}

			ctx := cmd.Context()
			var value float64
			err = withOpen(ctx, d, func() error {
				var err error
				value, err = measure(ctx, sensor, sensorType)
				return err
			})
			if err != nil {
				return err
			}
			return a.print(map[string]interface{}{quantity: value, "unit": unit}, func(w io.Writer) {
				fmt.Fprintf(w, "%g %s\n", value, unit)
			})
		},
	}
	cmd.Flags().StringVar(&sensor, "sensor", "FRTD", "sensor kind")
	cmd.Flags().StringVar(&sensorType, "type", "85", "sensor type")
	return cmd
}
