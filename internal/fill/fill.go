package fill

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/mbfit/internal/archive"
	"github.com/roach88/mbfit/internal/calc"
	"github.com/roach88/mbfit/internal/ir"
)

// Request is what a Calculator is asked to compute.
type Request = calc.Request

// Result is a Calculator's answer: the energy and its log reference.
type Result = calc.Result

// Calculator computes the total energy of one fragment subset.
//
// The Result's LogRef is stored with the subset energy, and the one that
// completes a record becomes the record's log_ref. A returned
// *calc.CalculatorError carries the log reference recorded on the failed
// record. Any other error fails the record with no log.
type Calculator interface {
	Compute(ctx context.Context, req Request) (Result, error)
}

// Ledger is the part of the energy ledger the runner drives.
type Ledger interface {
	Missing(ctx context.Context, model ir.Model) iter.Seq2[ir.FillJob, error]
	SetSubsetEnergyWithLog(ctx context.Context, key ir.RecordKey, subset ir.Subset, value float64, logRef string) error
	SetFailed(ctx context.Context, key ir.RecordKey, logRef string) error
}

// Options configures a Runner.
type Options struct {
	// Workers is the number of jobs computed in parallel (default 1).
	// Each job belongs to one worker, so writes to a record are never
	// concurrent.
	Workers int

	// CallTimeout bounds each calculator call. A timeout fails the record.
	// Zero means no limit.
	CallTimeout time.Duration

	// Archive, when set, receives a failure report for every failure that
	// produced no calculator log; its URI becomes the record's log_ref.
	Archive archive.Store

	Logger *slog.Logger

	// Registerer receives the runner's metrics. Nil disables registration.
	Registerer prometheus.Registerer
}

// Report summarises one run.
type Report struct {
	Jobs     int `json:"jobs"`
	Computed int `json:"computed"`
	Failed   int `json:"failed"`
	Subsets  int `json:"subsets"`
}

// Runner fills missing subset energies for one model at a time.
type Runner struct {
	ledger  Ledger
	calc    Calculator
	opts    Options
	logger  *slog.Logger
	metrics *fillMetrics
}

// New creates a Runner.
func New(ledger Ledger, calculator Calculator, opts Options) (*Runner, error) {
	if ledger == nil || calculator == nil {
		return nil, fmt.Errorf("fill: ledger and calculator are required")
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m, err := newMetrics(opts.Registerer)
	if err != nil {
		return nil, err
	}
	return &Runner{ledger: ledger, calc: calculator, opts: opts, logger: logger, metrics: m}, nil
}

// outcome of one job.
type outcome int

const (
	jobComputed outcome = iota
	jobFailed
)

// Run computes every missing subset of every pending record of model.
//
// Each successful energy is written immediately. A failed calculation marks
// the record failed, abandons its remaining subsets and moves on. Ledger
// errors and cancellation of ctx end the run with an error; the Report
// still counts the work done until then.
func (r *Runner) Run(ctx context.Context, model ir.Model) (Report, error) {
	var (
		mu     sync.Mutex
		report Report
	)
	record := func(o outcome, subsets int) {
		mu.Lock()
		defer mu.Unlock()
		report.Jobs++
		report.Subsets += subsets
		if o == jobComputed {
			report.Computed++
		} else {
			report.Failed++
		}
	}

	r.logger.Info("fill started", "model", model.String(), "workers", r.opts.Workers)

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan ir.FillJob, r.opts.Workers)

	g.Go(func() error {
		defer close(jobs)
		for job, err := range r.ledger.Missing(gctx, model) {
			if err != nil {
				return fmt.Errorf("fill: enumerate missing: %w", err)
			}
			select {
			case jobs <- job:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for i := 0; i < r.opts.Workers; i++ {
		g.Go(func() error {
			for job := range jobs {
				o, subsets, err := r.runJob(gctx, job)
				if err != nil {
					return err
				}
				record(o, subsets)
			}
			return nil
		})
	}

	err := g.Wait()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		r.logger.Warn("fill stopped",
			"model", model.String(),
			"jobs", report.Jobs,
			"computed", report.Computed,
			"failed", report.Failed,
			"error", err,
		)
		return report, err
	}
	r.logger.Info("fill complete",
		"model", model.String(),
		"jobs", report.Jobs,
		"computed", report.Computed,
		"failed", report.Failed,
		"subsets", report.Subsets,
	)
	return report, nil
}

// runJob computes the missing subsets of one record in order. It returns a
// non-nil error only when the run must stop.
func (r *Runner) runJob(ctx context.Context, job ir.FillJob) (outcome, int, error) {
	log := r.logger.With(
		"configuration_id", job.Key.ConfigurationID,
		"model", job.Key.Model.String(),
	)

	written := 0
	for _, subset := range job.Missing {
		if err := ctx.Err(); err != nil {
			return 0, written, err
		}
		req := Request{Key: job.Key, Subset: subset, Geometry: job.Geometry, Model: job.Key.Model}

		res, calcErr := r.compute(ctx, req)
		if calcErr != nil {
			if ctx.Err() != nil {
				// The run was cancelled, not the calculation.
				return 0, written, ctx.Err()
			}
			logRef := calc.LogRef(calcErr)
			if logRef == "" {
				logRef = r.archiveFailure(ctx, req, calcErr)
			}
			log.Warn("calculation failed", "subset", subset.Label(), "log_ref", logRef, "error", calcErr)
			if err := r.ledger.SetFailed(ctx, job.Key, logRef); err != nil {
				return 0, written, fmt.Errorf("fill: mark failed: %w", err)
			}
			r.metrics.jobsFailed.Inc()
			return jobFailed, written, nil
		}

		if err := r.ledger.SetSubsetEnergyWithLog(ctx, job.Key, subset, res.Energy, res.LogRef); err != nil {
			return 0, written, fmt.Errorf("fill: write subset %s: %w", subset.Label(), err)
		}
		written++
		r.metrics.subsetsComputed.Inc()
		log.Debug("subset written", "subset", subset.Label(), "energy", res.Energy, "log_ref", res.LogRef)
	}

	r.metrics.jobsComputed.Inc()
	log.Info("record computed", "subsets", written)
	return jobComputed, written, nil
}

// compute calls the calculator under the per-call timeout.
func (r *Runner) compute(ctx context.Context, req Request) (Result, error) {
	callCtx := ctx
	if r.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.opts.CallTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := r.calc.Compute(callCtx, req)
	r.metrics.callSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return Result{}, fmt.Errorf("calculation exceeded %s: %w", r.opts.CallTimeout, err)
		}
		return Result{}, err
	}
	return res, nil
}

// archiveFailure stores a short failure report and returns its reference,
// or "" when there is no archive or archiving fails.
func (r *Runner) archiveFailure(ctx context.Context, req Request, cause error) string {
	if r.opts.Archive == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "configuration_id: %s\n", req.Key.ConfigurationID)
	fmt.Fprintf(&b, "model: %s\n", req.Model)
	fmt.Fprintf(&b, "subset: %s\n", req.Subset.Label())
	fmt.Fprintf(&b, "error: %v\n", cause)

	key := archive.JoinKey(req.Key.ConfigurationID, req.Model.String(), req.Subset.Label()+".failure")
	ref, err := r.opts.Archive.Put(ctx, key, strings.NewReader(b.String()))
	if err != nil {
		r.logger.Warn("archive failure report failed", "configuration_id", req.Key.ConfigurationID, "error", err)
		return ""
	}
	return ref
}
