// Package trainingset extracts fitting training sets from the energy ledger.
//
// A training set is a stream of XYZ frames, one per computed record. The
// frame's comment line carries the fitted energy term in full precision:
// the monomer energy for one-fragment configurations and the non-additive
// many-body energy otherwise.
package trainingset

import (
	"context"
	"fmt"
	"io"
	"iter"
	"slices"
	"strconv"

	"github.com/roach88/mbfit/internal/ir"
	"github.com/roach88/mbfit/internal/xyz"
)

// Querier is the read side of the energy ledger.
type Querier interface {
	Query(ctx context.Context, f ir.Filter) iter.Seq2[ir.Entry, error]
}

// MoleculeFilter is a structural predicate on a configuration.
type MoleculeFilter func(ir.Configuration) bool

// AnyMolecule accepts every configuration.
func AnyMolecule(ir.Configuration) bool { return true }

// FragmentFormulas accepts configurations whose fragments have exactly the
// given Hill formulas, in order: FragmentFormulas("H2O", "H2O") selects
// water dimers.
func FragmentFormulas(formulas ...string) MoleculeFilter {
	want := slices.Clone(formulas)
	return func(c ir.Configuration) bool {
		if len(c.Geometry) != len(want) {
			return false
		}
		for i, f := range c.Geometry {
			if f.Formula() != want[i] {
				return false
			}
		}
		return true
	}
}

// FragmentCount accepts configurations with exactly n fragments.
func FragmentCount(n int) MoleculeFilter {
	return func(c ir.Configuration) bool { return c.NumFragments == n }
}

// Term returns the energy a training set records for an entry.
func Term(e ir.Entry) (float64, error) {
	rec := e.Record
	if rec.Status != ir.StatusComputed {
		return 0, fmt.Errorf("record %s is %s, not computed", rec.Key.ConfigurationID, rec.Status)
	}
	if rec.NumFragments == 1 {
		v, ok := rec.Energy(ir.Subset{0})
		if !ok {
			return 0, fmt.Errorf("record %s has no monomer energy", rec.Key.ConfigurationID)
		}
		return v, nil
	}
	if rec.NonAdditive == nil {
		return 0, fmt.Errorf("record %s has no non-additive energy", rec.Key.ConfigurationID)
	}
	return *rec.NonAdditive, nil
}

// Extract writes one frame per computed record matching f and m, in
// configuration insertion order, and returns how many frames were written.
// The ledger is only read.
func Extract(ctx context.Context, q Querier, f ir.Filter, m MoleculeFilter, w io.Writer) (int, error) {
	if m == nil {
		m = AnyMolecule
	}
	n := 0
	for entry, err := range q.Query(ctx, f) {
		if err != nil {
			return n, fmt.Errorf("extract: %w", err)
		}
		if !m(entry.Configuration) {
			continue
		}
		term, err := Term(entry)
		if err != nil {
			return n, fmt.Errorf("extract: %w", err)
		}
		comment := strconv.FormatFloat(term, 'f', -1, 64)
		if err := xyz.WriteFrame(w, comment, entry.Configuration.Geometry.Atoms()); err != nil {
			return n, fmt.Errorf("extract: write frame: %w", err)
		}
		n++
	}
	return n, nil
}
