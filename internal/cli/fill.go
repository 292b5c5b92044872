package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/mbfit/internal/archive"
	"github.com/roach88/mbfit/internal/fill"
)

// FillOptions holds flags for the fill command.
type FillOptions struct {
	*RootOptions
	Workers int
	Timeout time.Duration
	Metrics string
	model   modelFlags
}

type fillResult struct {
	Model string `json:"model"`
	fill.Report
}

func (r fillResult) String() string {
	return fmt.Sprintf("Filled %s: %d records computed, %d failed, %d subset energies written",
		r.Model, r.Computed, r.Failed, r.Subsets)
}

// NewFillCommand creates the fill command.
func NewFillCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FillOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fill",
		Short: "Compute missing subset energies with the calculator",
		Long: `Run the configured calculator for every missing subset energy of every
pending record of the model. Each energy is saved as soon as it is
computed, so an interrupted fill resumes where it stopped.

A failed calculation marks its record failed and the fill moves on; the
command then exits with status 1. Use "mbfit retry" to try again.

Example:
  mbfit fill
  mbfit fill --workers 4 --timeout 2h --metrics fill.prom`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFill(opts, cmd)
		},
	}

	addDatabaseFlag(cmd, rootOpts)
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "records computed in parallel (default from settings)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "limit per calculation (default from settings)")
	cmd.Flags().StringVar(&opts.Metrics, "metrics", "", "write Prometheus metrics to this file when done")
	opts.model.add(cmd)

	return cmd
}

func runFill(opts *FillOptions, cmd *cobra.Command) error {
	sess, closeStore, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	m, err := opts.model.resolve(sess.settings)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd, sess.logger)
	defer stop()

	logs, err := archive.Open(ctx, sess.settings.Archive)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open archive", err)
	}
	program, err := sess.settings.Program(logs)
	if err != nil {
		return WrapExitError(ExitCommandError, "calculator not configured", err)
	}
	program.Logger = sess.logger

	workers := sess.settings.Calculator.Workers
	if opts.Workers > 0 {
		workers = opts.Workers
	}
	timeout := sess.settings.Calculator.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	reg := prometheus.NewRegistry()
	runner, err := fill.New(sess.store, program, fill.Options{
		Workers:     workers,
		CallTimeout: timeout,
		Archive:     logs,
		Logger:      sess.logger,
		Registerer:  reg,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start fill", err)
	}

	report, err := runner.Run(ctx, m)
	writeMetrics(opts.Metrics, reg, sess.logger)
	result := fillResult{Model: m.String(), Report: report}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return WrapExitError(ExitFailure, fmt.Sprintf("fill interrupted after %d records; run fill again to resume", report.Jobs), err)
		}
		return WrapExitError(ExitFailure, "fill stopped", err)
	}
	if err := sess.out.Success(result); err != nil {
		return err
	}
	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d records failed; see their log_ref, then run retry", report.Failed))
	}
	return nil
}
