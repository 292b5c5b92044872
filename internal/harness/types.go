package harness

import (
	"github.com/roach88/mbfit/internal/fill"
	"github.com/roach88/mbfit/internal/ir"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// IDs are the imported configuration ids, in import order.
	IDs []string `json:"ids"`

	// Fill reports the fill run.
	Fill fill.Report `json:"fill"`

	// Records holds the final record of every configuration, keyed by id.
	Records map[string]ir.EnergyRecord `json:"records"`

	// Summary counts records per status.
	Summary map[ir.Status]int `json:"summary"`

	// TrainingSet is the extracted training set of every computed record.
	TrainingSet []byte `json:"-"`

	// Calls lists the calculations made, in "<configuration>/<label>" form.
	Calls []string `json:"calls"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Errors:  []string{},
		Records: make(map[string]ir.EnergyRecord),
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
