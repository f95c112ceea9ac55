// Package harness runs invariant scenarios end to end.
//
// A scenario names invariant documents, optionally pulls in the built-in
// library, and states which verdict each invariant must produce on each
// trial. The harness loads, screens and type checks the invariants, runs
// every trial, stores the run in an in-memory store and reads the trace
// back, checks mutation coverage against the document's program model and
// generates code for the requested chains. A security-class rejection
// stops the scenario after screening: nothing is evaluated or stored.
//
// # Scenario Format
//
//	name: vault_solvency
//	description: "Deposits sum to the vault total"
//	documents:
//	  - vault.yaml
//	library: false
//	defensive: false
//	strict: true
//	chains: [evm, move, solana]
//	expect:
//	  - trial: balanced
//	    invariant: vault_solvency
//	    status: PASS
//	assertions:
//	  - type: verdict_count
//	    status: FAIL
//	    count: 1
//
// # Assertion Types
//
//   - verdict_count: exactly count verdicts have status
//   - check_error: an invariant (or any check) was rejected with kind
//   - coverage_gap: the uncovered mutation facts are exactly facts
//   - risk_score: the run's risk score equals score
//   - snapshot_attached: a verdict carries its context export
//
// # Deterministic Testing
//
// Runs use a fixed run ID, a single worker and a fresh logical clock, so
// the same scenario always produces the same trace. Snapshot renders the
// trace as canonical JSON for golden comparison.
package harness
