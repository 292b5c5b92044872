package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/roach88/mbfit/internal/fill"
	"github.com/roach88/mbfit/internal/ir"
	"github.com/roach88/mbfit/internal/store"
	"github.com/roach88/mbfit/internal/testutil"
	"github.com/roach88/mbfit/internal/trainingset"
	"github.com/roach88/mbfit/internal/xyz"
)

// errScriptedFailure is what the scripted calculator returns for a
// scenario's listed failures.
var errScriptedFailure = errors.New("scripted calculation failure")

// Run executes a scenario against a fresh ledger in dir and returns the
// result with its assertions evaluated.
//
// Execution flow:
// 1. Open a new SQLite ledger with sequential configuration ids
// 2. Import every configuration step
// 3. Register the scenario model for all configurations
// 4. Fill with a calculator scripted from energies and failures
// 5. Collect records, summary and training set, then evaluate assertions
func Run(ctx context.Context, scenario *Scenario, dir string) (*Result, error) {
	st, err := store.Open(filepath.Join(dir, scenario.Name+".db"),
		store.WithIDGenerator(testutil.NewSequentialIDs("cfg")))
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	result := NewResult()
	model := scenario.Model.Key()

	for i, step := range scenario.Configurations {
		report, err := xyz.Import(ctx, st, strings.NewReader(step.XYZ), xyz.ImportOptions{
			Fragments: scenario.Fragments,
			Tag:       step.Tag,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("configuration step %d: %w", i, err)
		}
		result.IDs = append(result.IDs, report.IDs...)
	}

	if _, err := st.RegisterTag(ctx, model, ir.Any[string]()); err != nil {
		return nil, fmt.Errorf("failed to register: %w", err)
	}

	calculator := testutil.NewScriptedCalculator(script(scenario))
	runner, err := fill.New(st, calculator, fill.Options{Workers: scenario.Workers, Logger: logger})
	if err != nil {
		return nil, err
	}
	if result.Fill, err = runner.Run(ctx, model); err != nil {
		return nil, fmt.Errorf("failed to fill: %w", err)
	}
	result.Calls = calculator.SortedCalls()

	for _, id := range result.IDs {
		rec, err := st.Record(ctx, ir.RecordKey{ConfigurationID: id, Model: model})
		if err != nil {
			return nil, err
		}
		result.Records[id] = rec
	}
	if result.Summary, err = st.Summary(ctx, ir.ForModel(model)); err != nil {
		return nil, err
	}
	var ts bytes.Buffer
	if _, err := trainingset.Extract(ctx, st, ir.ForModel(model), trainingset.AnyMolecule, &ts); err != nil {
		return nil, fmt.Errorf("failed to extract training set: %w", err)
	}
	result.TrainingSet = ts.Bytes()

	actx := &AssertionContext{Store: st, Ctx: ctx, Model: model}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	return result, nil
}

// script builds the calculator script. Failures override energies.
func script(s *Scenario) map[string]testutil.Outcome {
	out := testutil.Energies(s.Energies)
	for _, key := range s.Failures {
		out[key] = testutil.Outcome{Err: fmt.Errorf("%s: %w", key, errScriptedFailure)}
	}
	return out
}
