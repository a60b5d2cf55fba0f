package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newRelayCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Relay module channels",
	}
	cmd.AddCommand(
		newRelaySetCmd(a, true),
		newRelaySetCmd(a, false),
		newRelayStateCmd(a),
	)
	return cmd
}

func newRelaySetCmd(a *app, on bool) *cobra.Command {
	var all bool
	use, short := "off NAME [CHANNEL...]", "Switch relays off (open)"
	if on {
		use, short = "on NAME [CHANNEL...]", "Switch relays on (closed)"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			r, err := a.bench.Relay(args[0])
			if err != nil {
				return err
			}
			chs, err := parseChannels(args[1:])
			if err != nil {
				return err
			}
			if !all && len(chs) == 0 {
				return fmt.Errorf("give channels or --all")
			}

			ctx := cmd.Context()
			return withOpen(ctx, r, func() error {
				switch {
				case all && on:
					return r.CloseAllChannels(ctx)
				case all:
					return r.OpenAllChannels(ctx)
				case on:
					return r.CloseChannels(ctx, chs)
				default:
					return r.OpenChannels(ctx, chs)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "act on every channel")
	return cmd
}

func newRelayStateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "state NAME [CHANNEL...]",
		Short: "Report relay states (every channel when none given)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			r, err := a.bench.Relay(args[0])
			if err != nil {
				return err
			}
			chs, err := parseChannels(args[1:])
			if err != nil {
				return err
			}
			if len(chs) == 0 {
				for ch := 0; ch < r.Channels(); ch++ {
					chs = append(chs, ch)
				}
			}

			type state struct {
				Channel int  `json:"channel"`
				On      bool `json:"on"`
			}
			ctx := cmd.Context()
			var states []state
			var version string
			err = withOpen(ctx, r, func() error {
				var err error
				if version, err = r.Version(ctx); err != nil {
					return err
				}
				for _, ch := range chs {
					on, err := r.ChannelState(ctx, ch)
					if err != nil {
						return err
					}
					states = append(states, state{ch, on})
				}
				return nil
			})
			if err != nil {
				return err
			}
			return a.print(map[string]interface{}{"version": version, "channels": states}, func(w io.Writer) {
				fmt.Fprintf(w, "firmware %s\n", version)
				for _, s := range states {
					fmt.Fprintf(w, "%d\t%s\n", s.Channel, onOffText(s.On))
				}
			})
		},
	}
}
