package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// Status is the lifecycle state of an EnergyRecord.
type Status string

const (
	StatusPending  Status = "pending"
	StatusComputed Status = "computed"
	StatusFailed   Status = "failed"
)

// Valid reports whether s is one of the three known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusComputed, StatusFailed:
		return true
	}
	return false
}

// Subset is a sorted set of 0-based fragment indices.
type Subset []int

// Label renders the subset with 1-based indices concatenated: {0,1,2} is "123".
// Labels are unambiguous for up to nine fragments.
func (s Subset) Label() string {
	var b strings.Builder
	for _, i := range s {
		b.WriteString(strconv.Itoa(i + 1))
	}
	return b.String()
}

// Size returns the number of fragments in the subset.
func (s Subset) Size() int { return len(s) }

// ParseSubset is the inverse of Subset.Label.
func ParseSubset(label string) (Subset, error) {
	if label == "" {
		return nil, fmt.Errorf("empty subset label")
	}
	out := make(Subset, 0, len(label))
	prev := -1
	for _, r := range label {
		if r < '1' || r > '9' {
			return nil, fmt.Errorf("subset label %q: invalid fragment digit %q", label, r)
		}
		i := int(r - '1')
		if i <= prev {
			return nil, fmt.Errorf("subset label %q: indices must be strictly increasing", label)
		}
		out = append(out, i)
		prev = i
	}
	return out, nil
}

// EnergyRecord is one per-configuration, per-model energy decomposition.
//
// Energies maps subset labels to total energies of that subset. NonAdditive
// is nil until the record is computed, and stays nil for monomers.
type EnergyRecord struct {
	Key          RecordKey          `json:"key"`
	Status       Status             `json:"status"`
	NumFragments int                `json:"num_fragments"`
	Energies     map[string]float64 `json:"energies"`
	NonAdditive  *float64           `json:"e_nb,omitempty"`
	LogRef       string             `json:"log_ref,omitempty"`
}

// Energy returns the stored total energy of a subset.
func (r EnergyRecord) Energy(s Subset) (float64, bool) {
	e, ok := r.Energies[s.Label()]
	return e, ok
}

// FillJob is a pending record joined with its geometry and the subsets that
// still lack an energy.
type FillJob struct {
	Key      RecordKey `json:"key"`
	Geometry Geometry  `json:"geometry"`
	Missing  []Subset  `json:"missing"`
}

// Entry pairs a configuration with one of its computed records.
type Entry struct {
	Configuration Configuration `json:"configuration"`
	Record        EnergyRecord  `json:"record"`
}
