package eval

import (
	"fmt"

	"github.com/roach88/invar/internal/ir"
	"github.com/roach88/invar/internal/state"
	"github.com/roach88/invar/internal/typecheck"
)

// Status is the outcome of checking one invariant against one context.
type Status string

const (
	StatusPass    Status = "PASS"
	StatusFail    Status = "FAIL"
	StatusError   Status = "ERROR"
	StatusSkipped Status = "SKIPPED"
)

// Verdict is the result of EvaluateInvariant.
type Verdict struct {
	Invariant string
	Hash      string
	Severity  ir.Severity
	Category  string
	Status    Status
	Phase     ir.Phase // current phase of the context, zero if none

	// Err and Kind are set for StatusError. Err is also set on a
	// StatusFail whose context could not be exported.
	Err  error
	Kind ir.ErrorKind

	// Snapshot is the context export attached to StatusFail, so a
	// violation can be reproduced from the report alone.
	Snapshot ir.DocObject
}

// Violated reports whether the invariant evaluated to false.
func (v Verdict) Violated() bool { return v.Status == StatusFail }

// Message returns a one-line description of the verdict.
func (v Verdict) Message() string {
	switch v.Status {
	case StatusError:
		if v.Err != nil {
			return v.Err.Error()
		}
	case StatusSkipped:
		return "not checked in phase " + v.Phase.Text()
	case StatusFail:
		if v.Err != nil {
			return "invariant violated; " + v.Err.Error()
		}
		return "invariant violated"
	}
	return ""
}

// EvaluateInvariant checks inv against ctx.
//
// When the context has a current phase outside the invariant's phases the
// verdict is SKIPPED and nothing is evaluated. A false result is FAIL with
// the context export attached; any evaluation error is ERROR carrying the
// error kind.
func EvaluateInvariant(inv *typecheck.Invariant, ctx *state.Context) Verdict {
	v := Verdict{
		Invariant: inv.Name(),
		Hash:      inv.Hash,
		Severity:  inv.Decl.Severity,
		Category:  inv.Decl.Category,
		Phase:     ctx.CurrentPhase(),
	}
	if !v.Phase.IsZero() && !inv.AppliesTo(v.Phase) {
		v.Status = StatusSkipped
		return v
	}

	res, err := Evaluate(inv.Expr, ctx)
	if err == nil {
		if _, ok := res.(ir.Bool); !ok {
			err = ir.NewTypeMismatch(ir.RootPath, "invariant did not produce a bool", "bool", res.Type().String())
		}
	}
	if err != nil {
		v.Status = StatusError
		v.Err = err
		v.Kind, _ = ir.KindOf(err)
		return v
	}

	if res.(ir.Bool) {
		v.Status = StatusPass
		return v
	}
	v.Status = StatusFail
	attachSnapshot(&v, ctx)
	return v
}

// exporter is implemented by *state.Context.
type exporter interface {
	Export() (ir.DocObject, error)
}

// attachSnapshot sets v.Snapshot from ctx, or v.Err when the export
// fails.
func attachSnapshot(v *Verdict, ctx exporter) {
	snap, err := ctx.Export()
	if err != nil {
		v.Err = fmt.Errorf("snapshot unavailable: %w", err)
		return
	}
	v.Snapshot = snap
}
