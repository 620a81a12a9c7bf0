// Package harness provides conformance testing for KERN rule sets.
//
// The harness compiles a rule set, runs it through the engine against a
// fresh in-memory store, and validates the run as an executable contract.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	rules: ../rules/counter      # or an inline `cue: |` block
//	variables: { n: 0 }
//	config:
//	  guard: { recursion_limit: 10 }
//	cycles: 0                    # 0 runs to fixpoint or halt
//	run_id: scenario-counter
//	assertions:
//	  - type: fixpoint
//	  - type: trace_count
//	    rule: count
//	    count: 3
//	  - type: final_state
//	    expect: { n: 3 }
//
// # Assertion Types
//
//   - fixpoint: The run reached fixpoint
//   - halt: The run halted, optionally with reason, class and rule
//   - trace_contains: A rule fired, optionally in a given cycle
//   - trace_order: Rules first fired in the specified order
//   - trace_count: A rule fired exactly N times
//   - final_state: Final variables match (subset match)
//   - history: A conflict resolution entry matches
//   - graph_nodes: The graph holds N nodes, optionally of one kind
//   - replay: Re-executing the stored run reproduces its trace and hashes
//
// # Deterministic Testing
//
// The harness uses:
//   - Fixed run ids (from scenario.run_id or testutil.DefaultRunID)
//   - Configuration without environment overrides
//   - In-memory SQLite database (isolated per scenario)
//
// This ensures identical traces across runs for golden file comparison.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/counter.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, e := range result.Errors {
//	        fmt.Println(e)
//	    }
//	}
//
// In tests, RunWithGolden also compares the canonical trace against
// testdata/golden/<name>.golden.
package harness
