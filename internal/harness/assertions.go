package harness

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/roach88/mbfit/internal/ir"
	"github.com/roach88/mbfit/internal/store"
	"github.com/roach88/mbfit/internal/trainingset"
)

// defaultTolerance bounds energy comparisons when an assertion gives none.
const defaultTolerance = 1e-9

// AssertionContext provides what assertions query beyond the Result.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
	Model ir.Model
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("Assertion failed: %s\n  Expected: %s\n  Actual: %s", e.Type, e.Expected, e.Actual)
}

// EvaluateAssertions runs every assertion and returns the failure
// messages, in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertStatus:
		rec, err := record(result, a)
		if err != nil {
			return err
		}
		if rec.Status != a.Status {
			return &AssertionError{Type: a.Type, Expected: string(a.Status), Actual: string(rec.Status)}
		}
	case AssertNonAdditive:
		rec, err := record(result, a)
		if err != nil {
			return err
		}
		if rec.NonAdditive == nil {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprint(a.Value), Actual: fmt.Sprintf("no E_nb (status %s)", rec.Status)}
		}
		return near(a, *rec.NonAdditive)
	case AssertSubsetEnergy:
		rec, err := record(result, a)
		if err != nil {
			return err
		}
		subset, err := ir.ParseSubset(a.Subset)
		if err != nil {
			return err
		}
		v, ok := rec.Energy(subset)
		if !ok {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s = %v", a.Subset, a.Value), Actual: "not stored"}
		}
		return near(a, v)
	case AssertSummary:
		want := fmt.Sprintf("pending=%d computed=%d failed=%d", a.Pending, a.Computed, a.Failed)
		got := fmt.Sprintf("pending=%d computed=%d failed=%d",
			result.Summary[ir.StatusPending], result.Summary[ir.StatusComputed], result.Summary[ir.StatusFailed])
		if want != got {
			return &AssertionError{Type: a.Type, Expected: want, Actual: got}
		}
	case AssertFrames:
		f := ir.ForModel(actx.Model)
		if a.Tag != "" {
			f.Tag = ir.Exact(a.Tag)
		}
		n, err := trainingset.Extract(actx.Ctx, actx.Store, f, trainingset.AnyMolecule, io.Discard)
		if err != nil {
			return err
		}
		if n != a.Count {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%d frames", a.Count), Actual: fmt.Sprintf("%d frames", n)}
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

func record(result *Result, a Assertion) (ir.EnergyRecord, error) {
	rec, ok := result.Records[a.Configuration]
	if !ok {
		return ir.EnergyRecord{}, &AssertionError{Type: a.Type, Expected: "record for " + a.Configuration, Actual: "no such configuration"}
	}
	return rec, nil
}

func near(a Assertion, got float64) error {
	tol := a.Tolerance
	if tol == 0 {
		tol = defaultTolerance
	}
	if math.Abs(got-a.Value) > tol {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%v ± %g", a.Value, tol), Actual: fmt.Sprint(got)}
	}
	return nil
}
