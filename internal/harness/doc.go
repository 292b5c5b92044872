// Package harness runs ledger scenarios as executable contract tests.
//
// A scenario imports configurations, registers a model, fills the ledger
// with a scripted calculator and asserts on the resulting records and
// training set.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	model: { method: HF, basis: STO-3G, cp: false }
//	fragments: [3, 3]
//	configurations:
//	  - tag: dimerA
//	    xyz: |
//	      6
//	      ...
//	energies:
//	  "1": -76.0
//	  "cfg-0002/12": -152.25
//	failures: ["cfg-0003/2"]
//	assertions:
//	  - type: non_additive
//	    configuration: cfg-0001
//	    value: -0.25
//	  - type: summary
//	    computed: 2
//	    failed: 1
//
// # Assertion Types
//
//   - status: a record has the given status
//   - non_additive: a computed record's E_nb is within tolerance of value
//   - subset_energy: a stored subset energy is within tolerance of value
//   - summary: record counts per status
//   - frames: the extracted training set has count frames
//
// # Deterministic Testing
//
// Configuration ids come from testutil.SequentialIDs ("cfg-0001", ...) and
// every scenario runs against a fresh SQLite file, so the training set is
// byte-identical across runs and can be compared with golden files.
package harness
