package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/invar/internal/ir"
)

// Snapshot renders the reproducible part of a result as canonical JSON:
// verdicts, rejections, uncovered facts and the summary. Hashes, digests
// and messages are left out so golden files survive wording changes.
func Snapshot(name string, r *Result) ([]byte, error) {
	trace := make(ir.DocList, len(r.Trace))
	for i, ev := range r.Trace {
		obj := ir.DocObject{
			"seq":       ir.DocInt(ev.Seq),
			"trial":     ir.DocString(ev.Trial),
			"invariant": ir.DocString(ev.Invariant),
			"status":    ir.DocString(ev.Status),
			"severity":  ir.DocString(ev.Severity),
		}
		if ev.Kind != "" {
			obj["kind"] = ir.DocString(ev.Kind)
		}
		if ev.Snapshot {
			obj["snapshot"] = ir.DocBool(true)
		}
		trace[i] = obj
	}

	rejected := ir.DocList{}
	for _, ce := range r.CheckErrors {
		obj := ir.DocObject{"kind": ir.DocString(ce.Kind)}
		if ce.Invariant != "" {
			obj["invariant"] = ir.DocString(ce.Invariant)
		}
		if len(ce.Items) > 0 {
			obj["items"] = docStrings(ce.Items)
		}
		rejected = append(rejected, obj)
	}

	s := r.Summary
	doc := ir.DocObject{
		"scenario": ir.DocString(name),
		"trace":    trace,
		"rejected": rejected,
		"summary": ir.DocObject{
			"total":      ir.DocInt(s.Total),
			"pass":       ir.DocInt(s.Pass),
			"fail":       ir.DocInt(s.Fail),
			"error":      ir.DocInt(s.Error),
			"skipped":    ir.DocInt(s.Skipped),
			"risk_score": ir.DocInt(s.RiskScore),
		},
		"generated": ir.DocInt(r.Generated),
	}
	if r.Coverage != nil {
		var uncovered []string
		for _, f := range r.Coverage.Uncovered {
			uncovered = append(uncovered, f.String())
		}
		doc["uncovered"] = docStrings(uncovered)
	}
	return ir.MarshalCanonical(doc)
}

func docStrings(items []string) ir.DocList {
	out := make(ir.DocList, len(items))
	for i, s := range items {
		out[i] = ir.DocString(s)
	}
	return out
}

// RunWithGolden runs a scenario and compares its snapshot with
// testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, s *Scenario) (*Result, error) {
	t.Helper()
	result, err := Run(s)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, s.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's snapshot with its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()
	data, err := Snapshot(name, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
