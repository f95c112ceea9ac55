// Package eval evaluates type-checked invariant expressions against an
// execution context.
//
// Evaluation is pure and deterministic. It reads the context and never
// writes it; it performs no I/O and has no access to clocks, randomness
// or the host environment. All arithmetic is checked.
package eval

import (
	"fmt"
	"math/big"

	"github.com/roach88/invar/internal/ir"
	"github.com/roach88/invar/internal/state"
	"github.com/roach88/invar/internal/typecheck"
)

// Evaluate evaluates te against the current state of ctx.
func Evaluate(te *typecheck.TypedExpr, ctx *state.Context) (ir.Value, error) {
	if te == nil {
		return nil, ir.Errorf(ir.ErrMalformedAST, "nil typed expression").At(ir.RootPath)
	}
	e := evaluator{ctx: ctx}
	return e.eval(te, ctx)
}

type evaluator struct {
	ctx *state.Context
}

// eval evaluates one node with layer reads bound to r: the live context,
// or a snapshot inside a phase constraint.
func (e evaluator) eval(te *typecheck.TypedExpr, r state.Reader) (ir.Value, error) {
	if v, ok := te.Constant(); ok {
		return v, nil
	}

	switch n := te.Expr().(type) {
	case ir.Variable:
		return e.read(te, r, ir.LayerGlobal, n.Name)
	case ir.LayerVar:
		return e.read(te, r, n.Layer, n.Name)
	case ir.PhaseVar:
		snap, err := e.ctx.Snapshot(n.Phase)
		if err != nil {
			return nil, located(err, te.Path())
		}
		return e.read(te, snap, n.Layer, n.Name)
	case ir.Not:
		b, err := e.evalBool(te.Child(0), r)
		if err != nil {
			return nil, err
		}
		return !b, nil
	case ir.Logical:
		return e.logical(te, n, r)
	case ir.Binary:
		return e.binary(te, n.Op, te.Child(0), te.Child(1), r, r)
	case ir.Call:
		return e.call(te, r)
	case ir.Aggregate:
		return e.aggregate(te, n, r)
	case ir.PhaseConstraint:
		snap, err := e.ctx.Snapshot(n.Phase)
		if err != nil {
			return nil, located(err, te.Path())
		}
		b, err := e.evalBool(te.Child(0), snap)
		if err != nil {
			return nil, err
		}
		return b, nil
	case ir.CrossPhase:
		ls, err := e.ctx.Snapshot(n.LeftPhase)
		if err != nil {
			return nil, located(err, te.Path())
		}
		rs, err := e.ctx.Snapshot(n.RightPhase)
		if err != nil {
			return nil, located(err, te.Path())
		}
		return e.binary(te, n.Op, te.Child(0), te.Child(1), ls, rs)
	}
	return nil, ir.Errorf(ir.ErrMalformedAST, "cannot evaluate %T", te.Expr()).At(te.Path())
}

func (e evaluator) read(te *typecheck.TypedExpr, r state.Reader, layer ir.Layer, name string) (ir.Value, error) {
	v, err := r.Get(layer, name)
	if err != nil {
		return nil, located(err, te.Path())
	}
	if !v.Type().Equal(te.Type()) {
		return nil, ir.NewTypeMismatch(te.Path(),
			fmt.Sprintf("value bound to %s has the wrong type", ir.Qualify(layer, name)),
			te.Type().String(), v.Type().String())
	}
	return v, nil
}

func (e evaluator) evalBool(te *typecheck.TypedExpr, r state.Reader) (ir.Bool, error) {
	v, err := e.eval(te, r)
	if err != nil {
		return false, err
	}
	b, ok := v.(ir.Bool)
	if !ok {
		return false, ir.NewTypeMismatch(te.Path(), "expected a bool value", "bool", v.Type().String())
	}
	return b, nil
}

func (e evaluator) logical(te *typecheck.TypedExpr, n ir.Logical, r state.Reader) (ir.Value, error) {
	l, err := e.evalBool(te.Child(0), r)
	if err != nil {
		return nil, err
	}
	// Short circuit: the right operand is not evaluated, so its errors
	// cannot surface.
	if n.Op == ir.OpAnd && !l {
		return ir.Bool(false), nil
	}
	if n.Op == ir.OpOr && l {
		return ir.Bool(true), nil
	}
	return e.evalBool(te.Child(1), r)
}

func (e evaluator) binary(te *typecheck.TypedExpr, op ir.BinaryOp, lt, rt *typecheck.TypedExpr, lr, rr state.Reader) (ir.Value, error) {
	l, err := e.eval(lt, lr)
	if err != nil {
		return nil, err
	}
	r, err := e.eval(rt, rr)
	if err != nil {
		return nil, err
	}
	if op.IsArithmetic() {
		v, err := ir.ApplyArith(op, l, r)
		if err != nil {
			return nil, located(err, te.Path())
		}
		return v, nil
	}
	b, err := ir.ApplyComparison(op, l, r)
	if err != nil {
		return nil, located(err, te.Path())
	}
	return b, nil
}

func (e evaluator) call(te *typecheck.TypedExpr, r state.Reader) (ir.Value, error) {
	fn, ok := te.Func()
	if !ok {
		return nil, ir.Errorf(ir.ErrMalformedAST, "call has no resolved function").At(te.Path())
	}
	params := te.Params()
	args := make([]ir.Value, te.NumChildren())
	for i := range args {
		v, err := e.eval(te.Child(i), r)
		if err != nil {
			return nil, err
		}
		if i < len(params) && !v.Type().Equal(params[i]) {
			if v, err = ir.Convert(v, params[i]); err != nil {
				return nil, located(err, te.Child(i).Path())
			}
		}
		args[i] = v
	}
	v, err := fn.Apply(args)
	if err != nil {
		return nil, located(err, te.Path())
	}
	return v, nil
}

func (e evaluator) aggregate(te *typecheck.TypedExpr, n ir.Aggregate, r state.Reader) (ir.Value, error) {
	target, err := e.eval(te.Child(0), r)
	if err != nil {
		return nil, err
	}

	if n.Op == ir.AggLen {
		switch x := target.(type) {
		case ir.String:
			return ir.U64(uint64(len(x))), nil
		case ir.Bytes:
			return ir.U64(uint64(len(x))), nil
		}
	}

	items, err := elements(target)
	if err != nil {
		return nil, located(err, te.Path())
	}
	switch n.Op {
	case ir.AggCount, ir.AggLen:
		return ir.U64(uint64(len(items))), nil
	}

	if n.Field != "" {
		if items, err = project(items, n.Field); err != nil {
			return nil, located(err, te.Path())
		}
	}
	for i, item := range items {
		if !item.Type().Equal(te.Type()) {
			return nil, ir.NewTypeMismatch(te.Path(), fmt.Sprintf("element %d has the wrong type", i), te.Type().String(), item.Type().String())
		}
	}

	var v ir.Value
	switch n.Op {
	case ir.AggSum:
		v, err = ir.NewInteger(te.Type(), sum(items))
		if err != nil {
			err = ir.Errorf(ir.ErrOverflowOrUnderflow, "sum overflows %s", te.Type())
		}
	case ir.AggAvg:
		if len(items) == 0 {
			return nil, ir.Errorf(ir.ErrDivisionByZero, "avg over an empty collection").At(te.Path())
		}
		total := sum(items)
		v, err = ir.NewInteger(te.Type(), total.Quo(total, big.NewInt(int64(len(items)))))
	case ir.AggMin, ir.AggMax:
		v, err = extremum(n.Op, items)
	default:
		err = ir.Errorf(ir.ErrMalformedAST, "unknown aggregate %q", n.Op)
	}
	if err != nil {
		return nil, located(err, te.Path())
	}
	return v, nil
}

// elements returns array items in order or map values in key order.
func elements(v ir.Value) ([]ir.Value, error) {
	switch x := v.(type) {
	case ir.Array:
		return x.Items(), nil
	case ir.Map:
		return x.Values(), nil
	}
	return nil, &ir.Error{
		Kind:     ir.ErrUnsupportedAggregateTarget,
		Message:  "aggregate over a non-collection",
		Expected: "collection",
		Found:    v.Type().String(),
	}
}

// project replaces each record with its field.
func project(items []ir.Value, field string) ([]ir.Value, error) {
	out := make([]ir.Value, len(items))
	for i, item := range items {
		rec, ok := item.(ir.Map)
		if !ok {
			return nil, ir.NewTypeMismatch("", fmt.Sprintf("element %d is not a record", i), "map<string,_>", item.Type().String())
		}
		v, ok := rec.Get(ir.String(field))
		if !ok {
			return nil, ir.Errorf(ir.ErrUndeclaredIdentifier, "element %d has no field %q", i, field)
		}
		out[i] = v
	}
	return out, nil
}

// sum adds at arbitrary precision; the caller range-checks the total, so
// the result does not depend on element order.
func sum(items []ir.Value) *big.Int {
	total := new(big.Int)
	for _, item := range items {
		switch x := item.(type) {
		case ir.Uint:
			total.Add(total, x.Big())
		case ir.Int:
			total.Add(total, x.Big())
		}
	}
	return total
}

func extremum(op ir.AggregateOp, items []ir.Value) (ir.Value, error) {
	if len(items) == 0 {
		return nil, ir.Errorf(ir.ErrUnsupportedAggregateTarget, "%s of an empty collection is undefined", op)
	}
	best := items[0]
	for _, item := range items[1:] {
		c, err := ir.Compare(item, best)
		if err != nil {
			return nil, err
		}
		if (op == ir.AggMin && c < 0) || (op == ir.AggMax && c > 0) {
			best = item
		}
	}
	return best, nil
}

// located attaches path to unlocated evaluation errors.
func located(err error, path string) error {
	if e, ok := err.(*ir.Error); ok && e.Path == "" {
		return e.At(path)
	}
	return err
}
