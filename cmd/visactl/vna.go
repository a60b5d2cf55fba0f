package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Samtec-ASH/govisainstrument/internal/visa"
	"github.com/Samtec-ASH/govisainstrument/internal/vna"
)

func newVNACmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vna",
		Short: "Network analyzer sweeps, captures and calibration",
	}
	cmd.AddCommand(newVNASweepCmd(a), newVNACaptureSNPCmd(a), newVNAECalCmd(a))
	return cmd
}

func newVNASweepCmd(a *app) *cobra.Command {
	var (
		channel   int
		start     float64
		stop      float64
		points    int
		sweepType string
		bandwidth float64
	)
	cmd := &cobra.Command{
		Use:   "sweep NAME",
		Short: "Configure a frequency sweep",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			v, err := a.bench.VNA(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			type sweep struct {
				Start     float64 `json:"startHz"`
				Stop      float64 `json:"stopHz"`
				Points    int     `json:"points"`
				Type      string  `json:"type"`
				Bandwidth int     `json:"bandwidthHz"`
			}
			var got sweep
			err = withOpen(ctx, v, func() error {
				if err := v.SetupSweep(ctx, channel, start, stop, points, sweepType); err != nil {
					return err
				}
				if bandwidth > 0 {
					if err := v.SetBandwidth(ctx, channel, bandwidth); err != nil {
						return err
					}
				}
				var err error
				if got.Start, err = v.StartFrequency(ctx, channel); err != nil {
					return err
				}
				if got.Stop, err = v.StopFrequency(ctx, channel); err != nil {
					return err
				}
				if got.Points, err = v.SweepPoints(ctx, channel); err != nil {
					return err
				}
				if got.Type, err = v.SweepType(ctx, channel); err != nil {
					return err
				}
				got.Bandwidth, err = v.Bandwidth(ctx, channel)
				return err
			})
			if err != nil {
				return err
			}
			return a.print(got, func(w io.Writer) {
				fmt.Fprintf(w, "%s sweep %.0f Hz to %.0f Hz, %d points, IF bandwidth %d Hz\n",
					got.Type, got.Start, got.Stop, got.Points, got.Bandwidth)
			})
		},
	}
	cmd.Flags().IntVar(&channel, "channel", 1, "measurement channel")
	cmd.Flags().Float64Var(&start, "start", 10e6, "start frequency in Hz")
	cmd.Flags().Float64Var(&stop, "stop", 20e9, "stop frequency in Hz")
	cmd.Flags().IntVar(&points, "points", 201, "number of sweep points")
	cmd.Flags().StringVar(&sweepType, "type", "LINEAR", "sweep type")
	cmd.Flags().Float64Var(&bandwidth, "bandwidth", 0, "IF bandwidth in Hz (0 keeps the current setting)")
	return cmd
}

func newVNACaptureSNPCmd(a *app) *cobra.Command {
	var (
		ports        []int
		format       string
		littleEndian bool
		touchstone   string
	)
	cmd := &cobra.Command{
		Use:   "capture-snp NAME",
		Short: "Sweep once and read S-parameters for a set of ports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			v, err := a.bench.VNA(args[0])
			if err != nil {
				return err
			}
			df, err := visa.ParseDataFormat(format)
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				ports = nil
			}

			ctx := cmd.Context()
			var freq []float64
			var s vna.SMatrix
			err = withOpen(ctx, v, func() error {
				var err error
				freq, s, err = v.CaptureSNPData(ctx, ports, vna.CaptureOptions{Format: df, LittleEndian: littleEndian})
				return err
			})
			if err != nil {
				return err
			}

			if touchstone != "" {
				f, err := os.Create(touchstone)
				if err != nil {
					return err
				}
				if err := vna.WriteTouchstone(f, freq, s); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
			}

			type capture struct {
				Frequencies []float64        `json:"frequencies"`
				S           [][][][2]float64 `json:"s"`
			}
			out := capture{Frequencies: freq, S: make([][][][2]float64, len(s))}
			for p, m := range s {
				out.S[p] = make([][][2]float64, len(m))
				for r, row := range m {
					out.S[p][r] = make([][2]float64, len(row))
					for c, val := range row {
						out.S[p][r][c] = [2]float64{real(val), imag(val)}
					}
				}
			}
			return a.print(out, func(w io.Writer) {
				fmt.Fprintf(w, "captured %d points", len(freq))
				if len(freq) > 0 {
					fmt.Fprintf(w, " from %.0f Hz to %.0f Hz", freq[0], freq[len(freq)-1])
				}
				if touchstone != "" {
					fmt.Fprintf(w, ", written to %s", touchstone)
				}
				fmt.Fprintln(w)
			})
		},
	}
	cmd.Flags().IntSliceVar(&ports, "ports", nil, "ports to capture (default all)")
	cmd.Flags().StringVar(&format, "format", "real,64", "transfer format: ascii, real,32 or real,64")
	cmd.Flags().BoolVar(&littleEndian, "little-endian", false, "transfer binary data little endian")
	cmd.Flags().StringVar(&touchstone, "touchstone", "", "also write a Touchstone file")
	return cmd
}

func newVNAECalCmd(a *app) *cobra.Command {
	var (
		setup   vna.ECalSetup
		opts    vna.ECalStepOptions
		confirm bool
	)
	cmd := &cobra.Command{
		Use:   "ecal NAME",
		Short: "Run a guided electronic calibration",
		Long: `Run a guided electronic calibration. Before each step the connection
instructions are printed; press Enter to acquire it, or pass --yes to acquire
every step without waiting.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			v, err := a.bench.VNA(args[0])
			if err != nil {
				return err
			}
			if len(setup.Connectors) == 0 {
				return fmt.Errorf("at least one --connector is required")
			}
			opts.Save = opts.Save || opts.SaveName != ""

			ctx := cmd.Context()
			in := bufio.NewReader(a.in)
			prompt := func(step int, description string) error {
				fmt.Fprintf(a.errOut, "Step %d: %s\n", step+1, description)
				if confirm {
					return nil
				}
				fmt.Fprint(a.errOut, "Press Enter to continue...")
				_, err := in.ReadString('\n')
				if err == io.EOF {
					return nil
				}
				return err
			}

			var steps int
			err = withOpen(ctx, v, func() error {
				if err := v.SetupECalibration(ctx, setup); err != nil {
					return err
				}
				var err error
				if steps, err = v.NumberECalSteps(ctx); err != nil {
					return err
				}
				return v.PerformECalSteps(ctx, opts, prompt)
			})
			if err != nil {
				return err
			}
			return a.print(map[string]interface{}{"steps": steps, "saved": opts.Save, "calSet": opts.SaveName}, func(w io.Writer) {
				fmt.Fprintf(w, "calibration complete after %d steps\n", steps)
			})
		},
	}
	cmd.Flags().StringArrayVar(&setup.Connectors, "connector", nil, "connector type of each port, in port order (repeatable)")
	cmd.Flags().StringArrayVar(&setup.Kits, "kit", nil, "cal kit of each port, in port order (repeatable)")
	cmd.Flags().IntSliceVar(&setup.ThruPairs, "thru", nil, "thru port pairs as a flat list, e.g. 1,2,1,3")
	cmd.Flags().BoolVar(&setup.AutoOrient, "auto-orient", true, "let the analyzer detect the e-cal module orientation")
	cmd.Flags().BoolVar(&opts.Save, "save", false, "save the calibration when done")
	cmd.Flags().StringVar(&opts.SaveName, "cal-set", "", "name of the cal set to save (implies --save)")
	cmd.Flags().DurationVar(&opts.Settle, "settle", 2*time.Second, "wait after each acquisition")
	cmd.Flags().BoolVarP(&confirm, "yes", "y", false, "do not wait for Enter between steps")
	return cmd
}
