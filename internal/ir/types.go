package ir

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Atom is a single atom in Cartesian coordinates (angstrom).
type Atom struct {
	Element string  `json:"element"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Z       float64 `json:"z"`
}

// Fragment is a chemically distinct sub-molecule: an ordered list of atoms.
type Fragment []Atom

// Geometry is an ordered sequence of fragments.
type Geometry []Fragment

// NumAtoms returns the total atom count across all fragments.
func (g Geometry) NumAtoms() int {
	n := 0
	for _, f := range g {
		n += len(f)
	}
	return n
}

// NumFragments returns the number of fragments.
func (g Geometry) NumFragments() int {
	return len(g)
}

// Atoms flattens the geometry in fragment order.
func (g Geometry) Atoms() []Atom {
	atoms := make([]Atom, 0, g.NumAtoms())
	for _, f := range g {
		atoms = append(atoms, f...)
	}
	return atoms
}

// Select returns the fragments named by subset, in subset order.
func (g Geometry) Select(s Subset) Geometry {
	out := make(Geometry, 0, len(s))
	for _, i := range s {
		out = append(out, g[i])
	}
	return out
}

// Validate checks the structural rules every stored geometry must satisfy:
// at least one fragment, at least one atom per fragment, a non-blank element
// symbol on every atom and finite coordinates.
func (g Geometry) Validate() error {
	if len(g) == 0 {
		return fmt.Errorf("geometry has no fragments")
	}
	for fi, f := range g {
		if len(f) == 0 {
			return fmt.Errorf("fragment %d has no atoms", fi)
		}
		for ai, a := range f {
			if strings.TrimSpace(a.Element) == "" {
				return fmt.Errorf("fragment %d atom %d: empty element symbol", fi, ai)
			}
			for _, c := range []float64{a.X, a.Y, a.Z} {
				if math.IsNaN(c) || math.IsInf(c, 0) {
					return fmt.Errorf("fragment %d atom %d: non-finite coordinate", fi, ai)
				}
			}
		}
	}
	return nil
}

// Formula returns the Hill-order formula of the fragment: C first, then H,
// then the remaining elements alphabetically. Without carbon every element
// is alphabetical. Counts of 1 are omitted ("H2O", "CH4", "ClNa").
func (f Fragment) Formula() string {
	counts := make(map[string]int)
	for _, a := range f {
		counts[strings.TrimSpace(a.Element)]++
	}
	var order []string
	_, hasCarbon := counts["C"]
	if hasCarbon {
		order = append(order, "C")
		if _, ok := counts["H"]; ok {
			order = append(order, "H")
		}
	}
	var rest []string
	for el := range counts {
		if hasCarbon && (el == "C" || el == "H") {
			continue
		}
		rest = append(rest, el)
	}
	sort.Strings(rest)
	order = append(order, rest...)

	var b strings.Builder
	for _, el := range order {
		b.WriteString(el)
		if n := counts[el]; n > 1 {
			b.WriteString(strconv.Itoa(n))
		}
	}
	return b.String()
}

// Configuration is one stored molecular geometry with its metadata.
type Configuration struct {
	ID           string   `json:"id"`
	Geometry     Geometry `json:"geometry"`
	NumAtoms     int      `json:"num_atoms"`
	NumFragments int      `json:"num_fragments"`
	Tag          string   `json:"tag"`
	Hash         string   `json:"geometry_hash"`
}

// Model identifies the level of theory an energy was computed with.
type Model struct {
	Method string `json:"method"`
	Basis  string `json:"basis"`
	CP     bool   `json:"cp"`
}

// String renders the model as method/basis plus a cp marker.
func (m Model) String() string {
	if m.CP {
		return m.Method + "/" + m.Basis + " (cp)"
	}
	return m.Method + "/" + m.Basis
}

// RecordKey is the unique key of an EnergyRecord.
type RecordKey struct {
	ConfigurationID string `json:"configuration_id"`
	Model           Model  `json:"model"`
}
