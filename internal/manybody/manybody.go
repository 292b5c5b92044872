// Package manybody implements the many-body expansion bookkeeping used by the
// energy ledger: which fragment subsets a configuration needs and how the
// non-additive term is derived from their total energies.
//
// For a configuration with fragment set F the non-additive energy is the
// inclusion–exclusion sum over every non-empty subset S of F:
//
//	E_nb = Σ (-1)^(|F|-|S|) · E_S
//
// which reduces to E12 − (E1+E2) for dimers and
// E123 − (E12+E13+E23) + (E1+E2+E3) for trimers. Monomers have no
// non-additive term.
package manybody

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/combin"

	"github.com/roach88/mbfit/internal/ir"
)

// MaxBodies is the largest fragment count the ledger decomposes.
// 2^6-1 = 63 subset calculations per record is already far past what the
// fitting codes consume.
const MaxBodies = 6

// Subsets returns every non-empty subset of n fragments, ordered by size and
// then lexicographically: 1, 2, 3, 12, 13, 23, 123.
func Subsets(n int) ([]ir.Subset, error) {
	if n < 1 || n > MaxBodies {
		return nil, fmt.Errorf("fragment count %d outside 1..%d", n, MaxBodies)
	}
	var out []ir.Subset
	for k := 1; k <= n; k++ {
		for _, c := range combin.Combinations(n, k) {
			out = append(out, ir.Subset(c))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) < len(out[j])
		}
		return out[i].Label() < out[j].Label()
	})
	return out, nil
}

// Contains reports whether s is a well-formed subset of n fragments.
func Contains(n int, s ir.Subset) bool {
	if len(s) == 0 || len(s) > n {
		return false
	}
	prev := -1
	for _, i := range s {
		if i <= prev || i >= n {
			return false
		}
		prev = i
	}
	return true
}

// Missing returns the subsets of n fragments whose label is absent from
// present, in Subsets order.
func Missing(n int, present map[string]float64) ([]ir.Subset, error) {
	all, err := Subsets(n)
	if err != nil {
		return nil, err
	}
	var out []ir.Subset
	for _, s := range all {
		if _, ok := present[s.Label()]; !ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// Complete reports whether every subset of n fragments has an energy.
func Complete(n int, energies map[string]float64) bool {
	missing, err := Missing(n, energies)
	return err == nil && len(missing) == 0
}

// NonAdditive derives E_nb for n fragments from subset energies keyed by
// label. It returns ok=false for monomers, where the term is undefined.
func NonAdditive(n int, energies map[string]float64) (enb float64, ok bool, err error) {
	all, err := Subsets(n)
	if err != nil {
		return 0, false, err
	}
	if n == 1 {
		return 0, false, nil
	}
	terms := make([]float64, 0, len(all))
	for _, s := range all {
		e, present := energies[s.Label()]
		if !present {
			return 0, false, fmt.Errorf("subset %s has no energy", s.Label())
		}
		if (n-len(s))%2 == 1 {
			e = -e
		}
		terms = append(terms, e)
	}
	return floats.Sum(terms), true, nil
}
