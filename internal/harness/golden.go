package harness

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// GoldenDir is the directory, next to the scenario files, holding each
// scenario's expected training set as <name>.golden.
const GoldenDir = "golden"

// RunWithGolden executes a scenario and compares its training set against
// {fixtureDir}/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, ctx context.Context, scenario *Scenario, fixtureDir string) (*Result, error) {
	t.Helper()

	result, err := Run(ctx, scenario, t.TempDir())
	if err != nil {
		return nil, err
	}
	AssertGolden(t, fixtureDir, scenario.Name, result)
	return result, nil
}

// AssertGolden compares a result's training set against a golden file.
func AssertGolden(t *testing.T, fixtureDir, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir(fixtureDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, result.TrainingSet)
}

// GoldenPath returns the golden file of a scenario file.
func GoldenPath(scenarioFile string) string {
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(scenarioFile), GoldenDir, name+".golden")
}

// CompareGolden reports whether the result's training set matches the
// golden file byte for byte.
func CompareGolden(path string, result *Result) (bool, error) {
	want, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read golden file: %w", err)
	}
	return bytes.Equal(want, result.TrainingSet), nil
}

// UpdateGolden writes the result's training set as the golden file.
func UpdateGolden(path string, result *Result) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(path, result.TrainingSet, 0644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}
