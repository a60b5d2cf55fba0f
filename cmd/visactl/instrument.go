package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Samtec-ASH/govisainstrument/internal/bench"
	"github.com/Samtec-ASH/govisainstrument/internal/visa"
)

// withOpen opens inst for the duration of fn.
func withOpen(ctx context.Context, inst bench.Instrument, fn func() error) (err error) {
	if err := inst.Open(ctx); err != nil {
		return fmt.Errorf("failed to open %s: %w", inst.Name(), err)
	}
	defer func() {
		err = errors.Join(err, inst.Close(ctx))
	}()
	return fn()
}

func newListCmd(a *app) *cobra.Command {
	var drivers bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bench instruments or available drivers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if drivers {
				list := bench.Drivers()
				type row struct {
					Name        string `json:"name"`
					Kind        string `json:"kind"`
					Description string `json:"description"`
				}
				rows := make([]row, 0, len(list))
				for _, d := range list {
					rows = append(rows, row{d.Name, d.Kind, d.Description})
				}
				return a.print(rows, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "DRIVER\tKIND\tDESCRIPTION")
					for _, r := range rows {
						fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Name, r.Kind, r.Description)
					}
					tw.Flush()
				})
			}

			if err := a.load(); err != nil {
				return err
			}
			items := a.bench.List()
			return a.print(items, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tDRIVER\tKIND\tADDRESS")
				for _, info := range items {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", info.Name, info.Driver, info.Kind, info.Address)
				}
				tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&drivers, "drivers", false, "list registered drivers instead of instruments")
	return cmd
}

func newResolveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve ADDRESS",
		Short: "Resolve AUTO serial, mDNS and samba resource addresses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := visa.DefaultResolver.Resolve(cmd.Context(), args[0], visa.OpenOptions{})
			if err != nil {
				return err
			}
			return a.print(map[string]string{"address": args[0], "resolved": resolved}, func(w io.Writer) {
				fmt.Fprintln(w, resolved)
			})
		},
	}
}

func newIDNCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "idn INSTRUMENT|ADDRESS",
		Short: "Query *IDN?",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, err := a.instrument(args[0])
			if err != nil {
				return err
			}
			var idn string
			err = withOpen(cmd.Context(), inst, func() error {
				idn, err = inst.ID(cmd.Context())
				return err
			})
			if err != nil {
				return err
			}
			return a.print(map[string]string{"instrument": args[0], "idn": idn}, func(w io.Writer) {
				fmt.Fprintln(w, idn)
			})
		},
	}
}

func newWriteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "write INSTRUMENT|ADDRESS COMMAND...",
		Short: "Send commands without reading a reply",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, err := a.instrument(args[0])
			if err != nil {
				return err
			}
			return withOpen(cmd.Context(), inst, func() error {
				for _, c := range args[1:] {
					if err := inst.Write(cmd.Context(), c); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newQueryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "query INSTRUMENT|ADDRESS COMMAND...",
		Short: "Send queries and print each reply",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, err := a.instrument(args[0])
			if err != nil {
				return err
			}
			type reply struct {
				Command  string `json:"command"`
				Response string `json:"response"`
			}
			var replies []reply
			err = withOpen(cmd.Context(), inst, func() error {
				for _, c := range args[1:] {
					resp, err := inst.Query(cmd.Context(), c)
					if err != nil {
						return err
					}
					replies = append(replies, reply{c, resp})
				}
				return nil
			})
			if err != nil {
				return err
			}
			return a.print(replies, func(w io.Writer) {
				for _, r := range replies {
					fmt.Fprintln(w, r.Response)
				}
			})
		},
	}
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of visactl",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.out, "visactl version %s\n", strings.TrimSpace(Version))
		},
	}
}
