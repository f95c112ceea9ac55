package harness

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/invar/internal/depgraph"
	"github.com/roach88/invar/internal/runner"
	"github.com/roach88/invar/internal/store"
)

func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.scenario.yaml")
	require.NoError(t, err)
	require.Len(t, paths, 5)

	for _, path := range paths {
		s, err := LoadScenario(path)
		require.NoError(t, err, path)
		t.Run(s.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
		})
	}
}

func TestScenario_VaultSolvency(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/vault_solvency.scenario.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("testdata", "scenarios", "vault.yaml"), s.Documents[0])

	result, err := Run(s)
	require.NoError(t, err)
	require.True(t, result.Pass, result.Errors)
	require.Len(t, result.Trace, 2)
	assert.False(t, result.Trace[0].Snapshot)
	assert.True(t, result.Trace[1].Snapshot)
	assert.Nil(t, result.Coverage)
	assert.Empty(t, result.TrialErrors)
}

func TestScenario_StrictCoverageGap(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/strict_coverage_gap.scenario.yaml")
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	require.NotNil(t, result.Coverage)
	assert.Len(t, result.Coverage.Facts, 2)
	require.Len(t, result.CheckErrors, 1)
	assert.Equal(t, []string{"validate_user_op → account::nonce"}, result.CheckErrors[0].Items)
	assert.Equal(t, 3, result.Generated)

	// Without strict mode the gap is still reported but not an error.
	s.Strict = false
	s.Assertions = s.Assertions[1:]
	result, err = Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Empty(t, result.CheckErrors)
}

func TestRun_FailedExpectation(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/balance_cross_phase.scenario.yaml")
	require.NoError(t, err)
	s.Expect[1].Status = "PASS"
	s.Expect = append(s.Expect, Expectation{Trial: "decreasing", Invariant: "missing", Status: "PASS"})

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "status PASS, got FAIL")
	assert.Contains(t, result.Errors[1], "no verdict")
}

func TestRun_TrialErrors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc.yaml"), []byte(`
vars:
  "account::balance": u64
invariants:
  - name: floor
    expr: {op: ">=", left: {layer: account, var: balance}, right: {lit: 1}}
trials:
  - name: undeclared
    steps:
      - set: {"paymaster::deposit": 1}
  - name: unset
    steps:
      - phase: execution
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "s.yaml"), []byte(`
name: unset_balance
description: an unset balance is an evaluation error
documents: [doc.yaml]
expect:
  - trial: unset
    invariant: floor
    status: ERROR
    kind: UNDECLARED_IDENTIFIER
assertions:
  - type: verdict_count
    status: ERROR
    count: 1
`), 0o644))

	s, err := LoadScenario(filepath.Join(dir, "s.yaml"))
	require.NoError(t, err)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Empty(t, result.CheckErrors)
	assert.Contains(t, result.TrialErrors["undeclared"], "paymaster::deposit")
	assert.Equal(t, 1, result.Summary.Error)
}

func TestRun_SecurityRejectionStopsRun(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc.yaml"), []byte(`
vars:
  "account::balance": u64
invariants:
  - name: capped
    expr: {op: "<=", left: {call: max, args: [{layer: account, var: balance}, {lit: 1}]}, right: {lit: 100}}
  - name: floor
    expr: {op: ">=", left: {layer: account, var: balance}, right: {lit: 1}}
trials:
  - name: funded
    steps:
      - set: {"account::balance": 5}
`), 0o644))
	s := &Scenario{
		Name:             "restricted",
		Description:      "max is not allowed",
		Documents:        []string{filepath.Join(dir, "doc.yaml")},
		AllowedFunctions: []string{"min"},
		Chains:           []string{"evm"},
	}

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()
	h := &Harness{scenario: s, store: st, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	result, err := h.run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.CheckErrors, 1)
	assert.Equal(t, "capped", result.CheckErrors[0].Invariant)
	assert.Equal(t, "FORBIDDEN_IDENTIFIER_PATTERN", result.CheckErrors[0].Kind)
	assert.Empty(t, result.Trace)
	assert.Empty(t, result.TrialErrors)
	assert.Zero(t, result.Summary.Total)
	assert.Zero(t, result.Generated)
	assert.Nil(t, result.Coverage)

	runs, err := st.ListRuns(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRun_MissingDocument(t *testing.T) {
	_, err := Run(&Scenario{Name: "x", Documents: []string{filepath.Join(t.TempDir(), "nope.yaml")}})
	assert.Error(t, err)
}

func TestParseScenario_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no name", "description: d\ndocuments: [a]\nexpect: [{trial: t, invariant: i, status: PASS}]", "name is required"},
		{"no description", "name: n\ndocuments: [a]", "description is required"},
		{"no documents", "name: n\ndescription: d\nexpect: [{trial: t, invariant: i, status: PASS}]", "documents list is required"},
		{"nothing to check", "name: n\ndescription: d\ndocuments: [a]", "expect or assertions"},
		{"bad status", "name: n\ndescription: d\ndocuments: [a]\nexpect: [{trial: t, invariant: i, status: OK}]", "unknown status"},
		{"kind without error", "name: n\ndescription: d\ndocuments: [a]\nexpect: [{trial: t, invariant: i, status: FAIL, kind: DIVISION_BY_ZERO}]", "kind is only valid"},
		{"bad chain", "name: n\ndescription: d\ndocuments: [a]\nchains: [wasm]\nassertions: [{type: risk_score}]", "wasm"},
		{"unknown assertion", "name: n\ndescription: d\ndocuments: [a]\nassertions: [{type: final_state}]", "unknown assertion type"},
		{"unknown kind", "name: n\ndescription: d\ndocuments: [a]\nassertions: [{type: check_error, kind: OOPS}]", "unknown error kind"},
		{"score range", "name: n\ndescription: d\ndocuments: [a]\nassertions: [{type: risk_score, score: 101}]", "within 0..100"},
		{"coverage facts", "name: n\ndescription: d\ndocuments: [a]\nassertions: [{type: coverage_gap}]", "facts list is required"},
		{"typo", "name: n\ndescription: d\ndocument: [a]", "document"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseScenario_LibraryOnly(t *testing.T) {
	s, err := ParseScenario([]byte("name: n\ndescription: d\nlibrary: true\nassertions: [{type: risk_score}]"))
	require.NoError(t, err)
	assert.True(t, s.Library)
}

func TestLoadScenario_KeepsAbsolutePaths(t *testing.T) {
	dir := t.TempDir()
	abs := filepath.Join(dir, "doc.yaml")
	path := filepath.Join(dir, "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: n\ndescription: d\ndocuments: ["+abs+"]\nassertions: [{type: risk_score}]\n"), 0o644))
	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, abs, s.Documents[0])

	_, err = LoadScenario(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestAssertions(t *testing.T) {
	r := NewResult()
	r.Trace = []TraceEvent{
		{Seq: 1, Trial: "t", Invariant: "a", Status: "PASS"},
		{Seq: 2, Trial: "t", Invariant: "b", Status: "FAIL", Snapshot: true},
	}
	r.CheckErrors = []CheckError{{Invariant: "c", Kind: "TYPE_MISMATCH"}}
	r.Coverage = &depgraph.Coverage{Uncovered: []depgraph.Fact{
		{Mutation: depgraph.Mutation{Operation: "op", Var: "account::nonce"}},
	}}
	r.Summary = runner.Summary{RiskScore: 15}

	pass := []Assertion{
		{Type: AssertVerdictCount, Status: "FAIL", Count: 1},
		{Type: AssertVerdictCount, Status: "ERROR", Count: 0},
		{Type: AssertCheckError, Invariant: "c", Kind: "TYPE_MISMATCH"},
		{Type: AssertCheckError, Kind: "TYPE_MISMATCH"},
		{Type: AssertCoverageGap, Facts: []string{"op → account::nonce"}},
		{Type: AssertRiskScore, Score: 15},
		{Type: AssertSnapshotAttached, Trial: "t", Invariant: "b"},
	}
	for _, a := range pass {
		assert.NoError(t, evaluateAssertion(r, a), a.Type)
	}

	fail := []Assertion{
		{Type: AssertVerdictCount, Status: "PASS", Count: 2},
		{Type: AssertCheckError, Invariant: "a", Kind: "TYPE_MISMATCH"},
		{Type: AssertCoverageGap, Facts: []string{"op → account::balance"}},
		{Type: AssertRiskScore, Score: 25},
		{Type: AssertSnapshotAttached, Trial: "t", Invariant: "a"},
		{Type: "bogus"},
	}
	for _, a := range fail {
		assert.Error(t, evaluateAssertion(r, a), a.Type)
	}
}

func TestAssertionError_Message(t *testing.T) {
	err := &AssertionError{
		Type:     AssertVerdictCount,
		Expected: "1 FAIL verdicts",
		Actual:   "0",
		Trace:    []TraceEvent{{Seq: 1, Trial: "t", Invariant: "a", Status: "PASS"}},
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: verdict_count")
	assert.Contains(t, msg, "[1] t a PASS")
}

func TestSnapshot_OmitsUncoveredWithoutModel(t *testing.T) {
	data, err := Snapshot("empty", NewResult())
	require.NoError(t, err)
	assert.Equal(t,
		`{"generated":0,"rejected":[],"scenario":"empty","summary":{"error":0,"fail":0,"pass":0,"risk_score":0,"skipped":0,"total":0},"trace":[]}`,
		string(data))
}
