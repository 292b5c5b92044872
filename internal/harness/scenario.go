package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/mbfit/internal/ir"
	"github.com/roach88/mbfit/internal/manybody"
)

// Scenario defines a ledger scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	Model ModelSpec `yaml:"model"`

	// Fragments lists the atom count of each fragment of every frame.
	Fragments []int `yaml:"fragments"`

	// Configurations are imported in order; ids are cfg-0001, cfg-0002, ...
	Configurations []ConfigurationStep `yaml:"configurations"`

	// Energies maps a subset label ("1", "12") or "<configuration>/<label>"
	// to the total energy the scripted calculator returns.
	Energies map[string]float64 `yaml:"energies"`

	// Failures lists calculations ("<configuration>/<label>" or a bare
	// label) that fail.
	Failures []string `yaml:"failures,omitempty"`

	// Workers is the fill worker count (default 1).
	Workers int `yaml:"workers,omitempty"`

	Assertions []Assertion `yaml:"assertions"`
}

// ModelSpec is the model registered for every configuration.
type ModelSpec struct {
	Method string `yaml:"method"`
	Basis  string `yaml:"basis"`
	CP     bool   `yaml:"cp"`
}

// Key returns the ledger model.
func (m ModelSpec) Key() ir.Model {
	return ir.Model{Method: m.Method, Basis: m.Basis, CP: m.CP}
}

// ConfigurationStep imports every frame of an inline xyz document.
type ConfigurationStep struct {
	Tag string `yaml:"tag"`
	XYZ string `yaml:"xyz"`
}

// Assertion validates the ledger after the fill.
type Assertion struct {
	// Type selects the check.
	Type string `yaml:"type"`

	// Configuration names the record (status, non_additive, subset_energy).
	Configuration string `yaml:"configuration,omitempty"`

	// Status is the expected status (status).
	Status ir.Status `yaml:"status,omitempty"`

	// Subset is a subset label (subset_energy).
	Subset string `yaml:"subset,omitempty"`

	// Value and Tolerance bound an energy (non_additive, subset_energy).
	Value     float64 `yaml:"value,omitempty"`
	Tolerance float64 `yaml:"tolerance,omitempty"`

	// Expected counts (summary).
	Pending  int `yaml:"pending,omitempty"`
	Computed int `yaml:"computed,omitempty"`
	Failed   int `yaml:"failed,omitempty"`

	// Tag filters the training set and Count is its frame count (frames).
	Tag   string `yaml:"tag,omitempty"`
	Count int    `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertStatus       = "status"
	AssertNonAdditive  = "non_additive"
	AssertSubsetEnergy = "subset_energy"
	AssertSummary      = "summary"
	AssertFrames       = "frames"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(s.Name, `/\ `) {
		return fmt.Errorf("name %q must be usable as a file name", s.Name)
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Model.Method == "" || s.Model.Basis == "" {
		return fmt.Errorf("model.method and model.basis are required")
	}
	if len(s.Fragments) == 0 || len(s.Fragments) > manybody.MaxBodies {
		return fmt.Errorf("fragments must list 1 to %d atom counts", manybody.MaxBodies)
	}
	if len(s.Configurations) == 0 {
		return fmt.Errorf("configurations list is required and must be non-empty")
	}
	for i, c := range s.Configurations {
		if c.Tag == "" {
			return fmt.Errorf("configurations[%d]: tag is required", i)
		}
		if strings.TrimSpace(c.XYZ) == "" {
			return fmt.Errorf("configurations[%d]: xyz is required", i)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertStatus:
		if a.Configuration == "" || !a.Status.Valid() {
			return fmt.Errorf("status requires configuration and a valid status")
		}
	case AssertNonAdditive:
		if a.Configuration == "" {
			return fmt.Errorf("non_additive requires configuration")
		}
	case AssertSubsetEnergy:
		if a.Configuration == "" || a.Subset == "" {
			return fmt.Errorf("subset_energy requires configuration and subset")
		}
		if _, err := ir.ParseSubset(a.Subset); err != nil {
			return err
		}
	case AssertSummary, AssertFrames:
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	if a.Tolerance < 0 {
		return fmt.Errorf("tolerance must not be negative")
	}
	return nil
}
