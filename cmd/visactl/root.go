package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Samtec-ASH/govisainstrument/internal/audit"
	"github.com/Samtec-ASH/govisainstrument/internal/bench"
	"github.com/Samtec-ASH/govisainstrument/internal/config"
	"github.com/Samtec-ASH/govisainstrument/internal/visa"
)

// Version is set at build time.
var Version = "dev"

type globalFlags struct {
	config string
	output string
	audit  string
}

// app is the per-invocation state shared by subcommands.
type app struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	flags  *globalFlags

	cfg    *config.Bench
	bench  *bench.Bench
	audit  *audit.Logger
	logger *slog.Logger
	env    bench.Env
}

func newApp(in io.Reader, out, errOut io.Writer) *app {
	return &app{in: in, out: out, errOut: errOut, flags: &globalFlags{}}
}

// execute runs the command line args and releases the audit log whether or
// not the command succeeded.
func execute(ctx context.Context, a *app, args []string) error {
	root := newRootCmd(a)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return errors.Join(err, a.close())
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "visactl",
		Short:         "visactl drives VNA, DAQ, power supply and relay instruments",
		Long:          `visactl sends commands to the instruments of a bench configuration, or to any VISA resource address.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	root.PersistentFlags().StringVarP(&a.flags.config, "config", "c", "", "bench configuration file (default $GOVISA_CONFIG)")
	root.PersistentFlags().StringVarP(&a.flags.output, "output", "o", "auto", "output format: auto, text or json")
	root.PersistentFlags().StringVar(&a.flags.audit, "audit", "", "append a JSONL transaction log to this file")

	root.AddCommand(
		newListCmd(a),
		newResolveCmd(a),
		newIDNCmd(a),
		newWriteCmd(a),
		newQueryCmd(a),
		newVNACmd(a),
		newDAQCmd(a),
		newPSUCmd(a),
		newRelayCmd(a),
		newVersionCmd(a),
	)
	return root
}

// load reads the configuration and builds the bench. It is idempotent.
func (a *app) load() error {
	if a.bench != nil {
		return nil
	}

	cfg, err := config.LoadBench(a.flags.config)
	if err != nil {
		return err
	}
	if a.flags.audit != "" {
		cfg.Audit.Path = a.flags.audit
	}
	a.cfg = cfg
	a.logger = cfg.Logging.NewLogger(a.errOut)

	a.env = bench.Env{Timing: cfg.Timing, Logger: a.logger}
	if cfg.Audit.Path != "" {
		a.audit, err = audit.NewLogger(cfg.Audit)
		if err != nil {
			return fmt.Errorf("failed to initialize audit logger: %w", err)
		}
		a.env.Observer = a.audit
	}

	a.bench, err = bench.New(cfg, a.env)
	return err
}

func (a *app) close() error {
	if a.audit == nil {
		return nil
	}
	err := a.audit.Close()
	a.audit = nil
	return err
}

// scpiInstrument is an instrument that accepts raw SCPI commands.
type scpiInstrument interface {
	bench.Instrument
	Write(ctx context.Context, cmd string) error
	Query(ctx context.Context, cmd string) (string, error)
	ID(ctx context.Context) (string, error)
}

// instrument returns a bench instrument by name, or a generic session for a
// raw VISA address.
func (a *app) instrument(target string) (scpiInstrument, error) {
	if err := a.load(); err != nil {
		return nil, err
	}
	if inst, err := a.bench.Get(target); err == nil {
		s, ok := inst.(scpiInstrument)
		if !ok {
			return nil, fmt.Errorf("%s does not accept SCPI commands", target)
		}
		return s, nil
	}
	if _, err := visa.ParseAddress(target); err != nil {
		return nil, fmt.Errorf("%s is neither a bench instrument nor a VISA address: %w", target, err)
	}
	opts := []visa.Option{
		visa.WithDelay(a.cfg.Timing.Delay),
		visa.WithTimeout(a.cfg.Timing.Timeout),
		visa.WithQueryAttempts(a.cfg.Timing.QueryAttempts),
		visa.WithCompletion(a.cfg.Timing.CompletionPoll, a.cfg.Timing.CompletionTimeout),
		visa.WithLogger(a.logger),
	}
	if a.audit != nil {
		opts = append(opts, visa.WithObserver(a.audit))
	}
	opts = append(opts, a.env.VisaOptions...)
	return visa.NewResource(target, target, opts...), nil
}

// jsonOutput reports whether results are printed as JSON.
func (a *app) jsonOutput() bool {
	switch a.flags.output {
	case "json":
		return true
	case "text":
		return false
	}
	if f, ok := a.out.(*os.File); ok {
		return !term.IsTerminal(int(f.Fd()))
	}
	return false
}

// print writes v as JSON, or calls text for human readable output.
func (a *app) print(v interface{}, text func(w io.Writer)) error {
	if a.jsonOutput() {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(a.out)
	return nil
}
