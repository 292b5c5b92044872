package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/mbfit/internal/archive"
	"github.com/roach88/mbfit/internal/refine"
)

// FitOptions holds flags for the fit command.
type FitOptions struct {
	*RootOptions
	Attempts int
	Target   float64
	Dir      string
	Publish  bool
	Metrics  string
}

type fitResult struct {
	refine.Result
}

func (r fitResult) String() string {
	var b strings.Builder
	for _, a := range r.Attempts {
		switch a.Outcome {
		case refine.OutcomeFailed:
			fmt.Fprintf(&b, "attempt %2d  failed     %s\n", a.Attempt, a.Error)
		default:
			fmt.Fprintf(&b, "attempt %2d  %-9s  rmsd %g\n", a.Attempt, a.Outcome, a.RMSD)
		}
	}
	fmt.Fprintf(&b, "Best fit: attempt %d, rmsd %g, kept in %s", r.Attempt, r.RMSD, r.Dir)
	return b.String()
}

// NewFitCommand creates the fit command.
func NewFitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fit <training-set>",
		Short: "Run the fit program repeatedly and keep the best result",
		Long: `Run the configured fit program on a training set up to --attempts times.
Each attempt runs in its own directory; the attempt with the lowest RMSD
is kept in <dir>/best and the rest are deleted. Attempts whose log has no
readable RMSD never become best.

Example:
  mbfit fit dimers.xyz
  mbfit fit dimers.xyz --attempts 20 --target 0.05 --publish`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFit(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Attempts, "attempts", 0, "maximum fit attempts (default from settings)")
	cmd.Flags().Float64Var(&opts.Target, "target", 0, "stop once the best rmsd is at or below this (default from settings)")
	cmd.Flags().StringVar(&opts.Dir, "dir", "", "directory for attempts and the best fit (default from settings)")
	cmd.Flags().BoolVar(&opts.Publish, "publish", false, "copy the best fit to the archive")
	cmd.Flags().StringVar(&opts.Metrics, "metrics", "", "write Prometheus metrics to this file when done")

	return cmd
}

func runFit(opts *FitOptions, trainingSet string, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd)
	formatter := newFormatter(opts.RootOptions, cmd)
	settings, err := loadSettings(opts.RootOptions)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd, logger)
	defer stop()

	var logs archive.Store
	if opts.Publish {
		if logs, err = archive.Open(ctx, settings.Archive); err != nil {
			return WrapExitError(ExitCommandError, "failed to open archive", err)
		}
	}
	r, err := settings.Refiner(logs)
	if err != nil {
		return WrapExitError(ExitCommandError, "fit not configured", err)
	}
	if opts.Attempts > 0 {
		r.Attempts = opts.Attempts
	}
	if opts.Target > 0 {
		r.Target = opts.Target
	}
	if opts.Dir != "" {
		r.Dir = opts.Dir
	}
	reg := prometheus.NewRegistry()
	r.Logger = logger
	r.Registerer = reg

	res, err := r.Run(ctx, trainingSet)
	writeMetrics(opts.Metrics, reg, logger)
	switch {
	case errors.Is(err, refine.ErrNoUsableFit):
		return WrapExitError(ExitFailure, fmt.Sprintf("all %d fit attempts failed", len(res.Attempts)), err)
	case errors.Is(err, context.Canceled):
		return WrapExitError(ExitFailure, "fit interrupted", err)
	case err != nil:
		return WrapExitError(ExitFailure, "fit failed", err)
	}
	return formatter.Success(fitResult{Result: res})
}
