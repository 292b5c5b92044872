package testutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrScriptedFit is returned by ScriptedFit for attempts scripted to crash.
var ErrScriptedFit = errors.New("scripted fit crashed")

// FitAttempt scripts one fit run.
type FitAttempt struct {
	RMSD float64

	// Crash makes Run fail without writing a log.
	Crash bool

	// Garbage writes a log whose RMSD field does not parse.
	Garbage bool
}

// ScriptedFit plays back fit attempts in order. Each run writes a log with
// the RMSD on the fourth line from the end, field 2, and a params file in
// the work dir so callers can see which attempt's artifacts survived.
//
// Thread-safety: safe for concurrent use via internal mutex.
type ScriptedFit struct {
	mu       sync.Mutex
	attempts []FitAttempt
	runs     int
	inputs   []string
}

// NewScriptedFit creates a fit that reports the given RMSDs in order.
func NewScriptedFit(rmsds ...float64) *ScriptedFit {
	attempts := make([]FitAttempt, len(rmsds))
	for i, r := range rmsds {
		attempts[i] = FitAttempt{RMSD: r}
	}
	return &ScriptedFit{attempts: attempts}
}

// NewScriptedFitAttempts creates a fit from explicit attempts.
func NewScriptedFitAttempts(attempts ...FitAttempt) *ScriptedFit {
	return &ScriptedFit{attempts: attempts}
}

// Run implements the refiner's FitExecutable contract.
func (f *ScriptedFit) Run(ctx context.Context, trainingSet, workDir, logPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	if f.runs >= len(f.attempts) {
		f.mu.Unlock()
		return fmt.Errorf("scripted fit: only %d attempts scripted", len(f.attempts))
	}
	a := f.attempts[f.runs]
	f.runs++
	n := f.runs
	f.inputs = append(f.inputs, trainingSet)
	f.mu.Unlock()

	if a.Crash {
		return ErrScriptedFit
	}

	rmsd := fmt.Sprintf("%g", a.RMSD)
	if a.Garbage {
		rmsd = "n/a"
	}
	log := fmt.Sprintf("fitting %s\niterations 200\nrmsd = %s kcal/mol\nmax_error = 1.0\nparameters written\ndone\n", trainingSet, rmsd)
	if err := os.WriteFile(logPath, []byte(log), 0o644); err != nil {
		return err
	}
	params := fmt.Sprintf("attempt %d\n", n)
	return os.WriteFile(filepath.Join(workDir, "params.txt"), []byte(params), 0o644)
}

// Runs reports how many attempts have run.
func (f *ScriptedFit) Runs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

// Inputs returns the training-set path passed to each run.
func (f *ScriptedFit) Inputs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.inputs...)
}
