package refine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/mbfit/internal/archive"
	"github.com/roach88/mbfit/internal/metrics"
)

// DefaultAttempts is the attempt cap when Refiner.Attempts is zero.
const DefaultAttempts = 10

// BestDirName is the directory under Refiner.Dir holding the best attempt.
const BestDirName = "best"

// LogName is the fit log written inside each attempt directory.
const LogName = "fit.log"

// ErrNoUsableFit is returned when no attempt produced a parseable RMSD.
var ErrNoUsableFit = errors.New("no fit attempt produced a usable rmsd")

// Attempt outcomes.
const (
	OutcomeBest      = "best"
	OutcomeDiscarded = "discarded"
	OutcomeFailed    = "failed"
)

// Refiner runs a fit executable up to Attempts times and keeps the
// artifacts of the attempt with the lowest RMSD.
type Refiner struct {
	Exec FitExecutable

	// Attempts caps the number of runs (default 10).
	Attempts int

	// Target stops the loop once the best RMSD is at or below it. Zero
	// disables early stopping.
	Target float64

	// Dir holds the attempt scratch directories and the best directory.
	Dir string

	// LineFromEnd and Field locate the RMSD in the fit log. A zero
	// LineFromEnd selects DefaultLineFromEnd and a nil Field selects
	// DefaultField; any 0-based field can be set with FieldIndex.
	LineFromEnd int
	Field       *int

	// Archive, when set, receives a copy of the best artifacts under
	// ArchivePrefix (default "fit").
	Archive       archive.Store
	ArchivePrefix string

	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

// AttemptResult records what happened to one attempt.
type AttemptResult struct {
	Attempt int     `json:"attempt"`
	RMSD    float64 `json:"rmsd,omitempty"`
	Outcome string  `json:"outcome"`
	Error   string  `json:"error,omitempty"`
}

// Result is the outcome of a refinement.
type Result struct {
	RMSD     float64         `json:"rmsd"`
	Attempt  int             `json:"attempt"`
	Dir      string          `json:"dir"`
	Attempts []AttemptResult `json:"attempts"`
	Archived []string        `json:"archived,omitempty"`
}

type refineMetrics struct {
	attempts *prometheus.CounterVec
	bestRMSD prometheus.Gauge
}

func newRefineMetrics(reg prometheus.Registerer) (*refineMetrics, error) {
	m := &refineMetrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "refine",
			Name:      "attempts_total",
			Help:      "Fit attempts by outcome.",
		}, []string{"outcome"}),
		bestRMSD: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "refine",
			Name:      "best_rmsd",
			Help:      "RMSD of the best fit attempt of the latest refinement.",
		}),
	}
	var err error
	if m.attempts, err = metrics.Register(reg, m.attempts); err != nil {
		return nil, err
	}
	if m.bestRMSD, err = metrics.Register(reg, m.bestRMSD); err != nil {
		return nil, err
	}
	return m, nil
}

// Run fits trainingSet repeatedly and returns the best attempt.
//
// Any best directory left by an earlier refinement in Dir is replaced.
// Cancelling ctx stops the loop and removes the running attempt's scratch
// directory; the best directory found so far is kept.
func (r *Refiner) Run(ctx context.Context, trainingSet string) (Result, error) {
	if r.Exec == nil {
		return Result{}, fmt.Errorf("refine: fit executable is required")
	}
	if r.Dir == "" {
		return Result{}, fmt.Errorf("refine: directory is required")
	}
	attempts := r.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	lineFromEnd := r.LineFromEnd
	if lineFromEnd <= 0 {
		lineFromEnd = DefaultLineFromEnd
	}
	field := DefaultField
	if r.Field != nil {
		field = *r.Field
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m, err := newRefineMetrics(r.Registerer)
	if err != nil {
		return Result{}, err
	}

	ts, err := filepath.Abs(trainingSet)
	if err != nil {
		return Result{}, fmt.Errorf("refine: resolve training set: %w", err)
	}
	if _, err := os.Stat(ts); err != nil {
		return Result{}, fmt.Errorf("refine: training set: %w", err)
	}
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("refine: create directory: %w", err)
	}
	bestDir := filepath.Join(r.Dir, BestDirName)
	if err := os.RemoveAll(bestDir); err != nil {
		return Result{}, fmt.Errorf("refine: clear best: %w", err)
	}

	res := Result{Dir: bestDir}
	haveBest := false

	for k := 1; k <= attempts; k++ {
		if err := ctx.Err(); err != nil {
			return r.finish(res, haveBest, err)
		}
		scratch := filepath.Join(r.Dir, "attempt-"+strconv.Itoa(k))
		if err := os.RemoveAll(scratch); err != nil {
			return res, fmt.Errorf("refine: clear attempt %d: %w", k, err)
		}
		if err := os.MkdirAll(scratch, 0o755); err != nil {
			return res, fmt.Errorf("refine: create attempt %d: %w", k, err)
		}

		rmsd, runErr := r.attempt(ctx, ts, scratch, lineFromEnd, field)
		if runErr != nil {
			_ = os.RemoveAll(scratch)
			if ctx.Err() != nil {
				return r.finish(res, haveBest, ctx.Err())
			}
			logger.Warn("fit attempt discarded", "attempt", k, "error", runErr)
			m.attempts.WithLabelValues(OutcomeFailed).Inc()
			res.Attempts = append(res.Attempts, AttemptResult{Attempt: k, Outcome: OutcomeFailed, Error: runErr.Error()})
			continue
		}

		if !haveBest || rmsd < res.RMSD {
			if err := os.RemoveAll(bestDir); err != nil {
				return res, fmt.Errorf("refine: remove previous best: %w", err)
			}
			if err := os.Rename(scratch, bestDir); err != nil {
				return res, fmt.Errorf("refine: keep attempt %d: %w", k, err)
			}
			haveBest = true
			res.RMSD = rmsd
			res.Attempt = k
			m.attempts.WithLabelValues(OutcomeBest).Inc()
			m.bestRMSD.Set(rmsd)
			res.Attempts = append(res.Attempts, AttemptResult{Attempt: k, RMSD: rmsd, Outcome: OutcomeBest})
			logger.Info("fit attempt improved", "attempt", k, "rmsd", rmsd)
		} else {
			if err := os.RemoveAll(scratch); err != nil {
				return res, fmt.Errorf("refine: remove attempt %d: %w", k, err)
			}
			m.attempts.WithLabelValues(OutcomeDiscarded).Inc()
			res.Attempts = append(res.Attempts, AttemptResult{Attempt: k, RMSD: rmsd, Outcome: OutcomeDiscarded})
			logger.Info("fit attempt discarded", "attempt", k, "rmsd", rmsd, "best_rmsd", res.RMSD)
		}

		if r.Target > 0 && res.RMSD <= r.Target {
			logger.Info("fit target reached", "attempt", k, "rmsd", res.RMSD, "target_rmsd", r.Target)
			break
		}
	}

	if !haveBest {
		return res, ErrNoUsableFit
	}
	if r.Archive != nil {
		refs, err := r.publish(ctx, bestDir)
		if err != nil {
			return res, fmt.Errorf("refine: archive best: %w", err)
		}
		res.Archived = refs
	}
	logger.Info("fit complete", "attempt", res.Attempt, "rmsd", res.RMSD, "dir", bestDir)
	return res, nil
}

// attempt runs the executable once and reads its RMSD.
func (r *Refiner) attempt(ctx context.Context, trainingSet, dir string, lineFromEnd, field int) (float64, error) {
	logPath := filepath.Join(dir, LogName)
	if err := r.Exec.Run(ctx, trainingSet, dir, logPath); err != nil {
		return 0, err
	}
	return ParseRMSD(logPath, lineFromEnd, field)
}

func (r *Refiner) finish(res Result, haveBest bool, cause error) (Result, error) {
	if !haveBest {
		return res, cause
	}
	return res, fmt.Errorf("refine: stopped after attempt %d (best rmsd %g): %w", len(res.Attempts), res.RMSD, cause)
}

// publish copies every file of the best directory to the archive.
func (r *Refiner) publish(ctx context.Context, bestDir string) ([]string, error) {
	prefix := r.ArchivePrefix
	if prefix == "" {
		prefix = "fit"
	}
	var refs []string
	err := filepath.WalkDir(bestDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(bestDir, path)
		if err != nil {
			return err
		}
		parts := append([]string{prefix}, strings.Split(filepath.ToSlash(rel), "/")...)
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		ref, err := r.Archive.Put(ctx, archive.JoinKey(parts...), f)
		if err != nil {
			return err
		}
		refs = append(refs, ref)
		return nil
	})
	return refs, err
}
