// Package calc adapts external quantum-chemistry programs to the fill
// runner's Calculator contract.
package calc

import (
	"errors"
	"fmt"

	"github.com/roach88/mbfit/internal/ir"
)

// Request asks for the total energy of one fragment subset of a
// configuration under a model.
type Request struct {
	Key      ir.RecordKey
	Subset   ir.Subset
	Geometry ir.Geometry
	Model    ir.Model
}

// Fragments returns the fragments of the subset, in subset order.
func (r Request) Fragments() ir.Geometry {
	return r.Geometry.Select(r.Subset)
}

// Ghosts returns the atoms of every fragment outside the subset. With
// counterpoise correction they enter the calculation as basis functions
// without nuclei or electrons.
func (r Request) Ghosts() []ir.Atom {
	in := make(map[int]bool, len(r.Subset))
	for _, i := range r.Subset {
		in[i] = true
	}
	var out []ir.Atom
	for i, f := range r.Geometry {
		if !in[i] {
			out = append(out, f...)
		}
	}
	return out
}

// Result is a completed calculation.
type Result struct {
	Energy float64

	// LogRef locates the calculation's output log: an archive URI, a local
	// path, or "" when the calculator keeps no log.
	LogRef string
}

var (
	// ErrEnergyNotFound means the output holds no energy= line.
	ErrEnergyNotFound = errors.New("energy not found in output")

	// ErrOutputError means the output carries an ERROR marker.
	ErrOutputError = errors.New("output contains an error")
)

// CalculatorError is a failed calculation whose log has been kept.
// The fill runner records LogRef on the failed record.
type CalculatorError struct {
	LogRef string
	Err    error
}

func (e *CalculatorError) Error() string {
	if e.LogRef == "" {
		return fmt.Sprintf("calculation failed: %v", e.Err)
	}
	return fmt.Sprintf("calculation failed (log %s): %v", e.LogRef, e.Err)
}

func (e *CalculatorError) Unwrap() error { return e.Err }

// LogRef extracts the log reference from err when it wraps a
// *CalculatorError.
func LogRef(err error) string {
	var ce *CalculatorError
	if errors.As(err, &ce) {
		return ce.LogRef
	}
	return ""
}
