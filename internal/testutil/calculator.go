package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/roach88/mbfit/internal/calc"
)

// Outcome is the scripted result of one calculation.
type Outcome struct {
	Energy float64
	LogRef string
	Err    error

	// Delay holds the call this long before answering. A cancelled context
	// ends the wait early with ctx.Err().
	Delay time.Duration
}

// ScriptedCalculator answers calculations from a script keyed by subset
// label, optionally narrowed to one configuration ("cfg-0001/12").
//
// Lookup order: "<configuration_id>/<label>", then "<label>". A missing key
// fails the call, so tests notice an unexpected calculation.
//
// Thread-safety: safe for concurrent use; fill workers call it in parallel.
type ScriptedCalculator struct {
	mu     sync.Mutex
	script map[string]Outcome
	calls  []string
	active int
	peak   int
}

// NewScriptedCalculator creates a calculator answering from script.
func NewScriptedCalculator(script map[string]Outcome) *ScriptedCalculator {
	return &ScriptedCalculator{script: script}
}

// Energies is a shorthand script of successful outcomes.
func Energies(energies map[string]float64) map[string]Outcome {
	out := make(map[string]Outcome, len(energies))
	for k, e := range energies {
		out[k] = Outcome{Energy: e}
	}
	return out
}

// Compute implements the fill runner's Calculator contract.
func (c *ScriptedCalculator) Compute(ctx context.Context, req calc.Request) (calc.Result, error) {
	label := req.Subset.Label()
	key := req.Key.ConfigurationID + "/" + label

	c.mu.Lock()
	c.calls = append(c.calls, key)
	c.active++
	if c.active > c.peak {
		c.peak = c.active
	}
	out, ok := c.script[key]
	if !ok {
		out, ok = c.script[label]
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.active--
		c.mu.Unlock()
	}()

	if !ok {
		return calc.Result{}, fmt.Errorf("scripted calculator: no outcome for %s", key)
	}
	if out.Delay > 0 {
		select {
		case <-time.After(out.Delay):
		case <-ctx.Done():
			return calc.Result{}, ctx.Err()
		}
	}
	if out.Err != nil {
		return calc.Result{}, out.Err
	}
	return calc.Result{Energy: out.Energy, LogRef: out.LogRef}, nil
}

// Calls returns "<configuration_id>/<label>" for every call, in call order.
func (c *ScriptedCalculator) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// SortedCalls returns Calls sorted, for assertions on parallel runs.
func (c *ScriptedCalculator) SortedCalls() []string {
	calls := c.Calls()
	sort.Strings(calls)
	return calls
}

// PeakConcurrency reports the largest number of simultaneous calls seen.
func (c *ScriptedCalculator) PeakConcurrency() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peak
}
