package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent // full trace for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %s\n", ev.Seq, ev.Trial, ev.Invariant, ev.Status)
		}
	}
	return buf.String()
}

func evaluateAssertion(r *Result, a Assertion) error {
	switch a.Type {
	case AssertVerdictCount:
		return assertVerdictCount(r, a)
	case AssertCheckError:
		return assertCheckError(r, a)
	case AssertCoverageGap:
		return assertCoverageGap(r, a)
	case AssertRiskScore:
		if r.Summary.RiskScore != a.Score {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("risk score %d", a.Score),
				Actual:   fmt.Sprintf("risk score %d", r.Summary.RiskScore),
				Trace:    r.Trace,
			}
		}
		return nil
	case AssertSnapshotAttached:
		ev, ok := r.find(a.Trial, a.Invariant)
		if !ok || !ev.Snapshot {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s on %s carries a context snapshot", a.Invariant, a.Trial),
				Actual:   "no snapshot",
				Trace:    r.Trace,
			}
		}
		return nil
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// assertVerdictCount checks the number of verdicts with a status.
func assertVerdictCount(r *Result, a Assertion) error {
	n := 0
	for _, ev := range r.Trace {
		if ev.Status == a.Status {
			n++
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d %s verdicts", a.Count, a.Status),
			Actual:   fmt.Sprintf("%d", n),
			Trace:    r.Trace,
		}
	}
	return nil
}

// assertCheckError checks that an invariant (or, with no invariant, any
// check) was rejected with a kind.
func assertCheckError(r *Result, a Assertion) error {
	for _, ce := range r.CheckErrors {
		if ce.Kind == a.Kind && (a.Invariant == "" || ce.Invariant == a.Invariant) {
			return nil
		}
	}
	actual := make([]string, len(r.CheckErrors))
	for i, ce := range r.CheckErrors {
		actual[i] = ce.Invariant + ":" + ce.Kind
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%s rejected with %s", orAny(a.Invariant), a.Kind),
		Actual:   fmt.Sprintf("check errors %v", actual),
	}
}

// assertCoverageGap checks the exact set of uncovered mutation facts.
func assertCoverageGap(r *Result, a Assertion) error {
	var got []string
	if r.Coverage != nil {
		for _, f := range r.Coverage.Uncovered {
			got = append(got, f.String())
		}
	}
	want := slices.Clone(a.Facts)
	slices.Sort(want)
	slices.Sort(got)
	if !slices.Equal(want, got) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("uncovered %v", want),
			Actual:   fmt.Sprintf("uncovered %v", got),
		}
	}
	return nil
}

func orAny(s string) string {
	if s == "" {
		return "any check"
	}
	return s
}
