// Package main runs simulated VNA, DAQ, power supply and relay instruments on
// TCP ports, with an HTTP API for inspecting and resetting them.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Samtec-ASH/govisainstrument/internal/config"
	"github.com/Samtec-ASH/govisainstrument/internal/sim"
)

// Version is set at build time.
var Version = "dev"

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(errOut io.Writer) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "visasim",
		Short:         "Serve simulated instruments",
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadSim(configPath)
			if err != nil {
				return err
			}
			logger := cfg.Logging.NewLogger(errOut)

			d, err := start(cfg, logger)
			if err != nil {
				return err
			}
			<-cmd.Context().Done()
			logger.Info("Shutting down")
			return d.shutdown()
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "simulator configuration file (default $VISASIM_CONFIG)")
	return cmd
}

// daemon is a running lab and its control API.
type daemon struct {
	lab    *sim.Lab
	http   *http.Server
	api    net.Listener
	logger *slog.Logger
}

// start brings up every configured instrument and the control API.
func start(cfg *config.Sim, logger *slog.Logger) (*daemon, error) {
	logger.Info("Starting instrument simulator", "version", Version, "instruments", len(cfg.Instruments))

	d := &daemon{lab: sim.NewLab(logger), logger: logger}
	for _, si := range cfg.Instruments {
		inst, err := sim.New(sim.Spec{
			Name:      si.Name,
			Kind:      si.Kind,
			IDN:       si.IDN,
			Ports:     si.Ports,
			Slots:     si.Slots,
			Channels:  si.Channels,
			Precision: si.Precision,
			Login:     si.Login,
			User:      si.User,
			Password:  si.Password,
		})
		if err != nil {
			d.lab.Close()
			return nil, fmt.Errorf("failed to create %s: %w", si.Name, err)
		}
		srv, err := d.lab.Start(inst, net.JoinHostPort(cfg.Host, strconv.Itoa(si.Port)))
		if err != nil {
			d.lab.Close()
			return nil, fmt.Errorf("failed to start %s: %w", si.Name, err)
		}
		logger.Info("Instrument listening", "instrument", si.Name, "kind", si.Kind, "addr", srv.Addr().String())
	}

	if cfg.HTTPAddr == "" {
		return d, nil
	}
	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		d.lab.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.HTTPAddr, err)
	}
	d.api = ln
	d.http = &http.Server{
		Handler:      sim.NewHandler(d.lab),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := d.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
		}
	}()
	logger.Info("Control API listening", "addr", ln.Addr().String())
	return d, nil
}

// shutdown stops the API and every instrument.
func (d *daemon) shutdown() error {
	var errs []error
	if d.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := d.http.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
		}
	}
	if err := d.lab.Close(); err != nil {
		errs = append(errs, err)
	}
	d.logger.Info("Simulator stopped")
	return errors.Join(errs...)
}
