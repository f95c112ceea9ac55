package loader

import (
	"fmt"
	"math/big"
	"slices"
	"strings"

	"github.com/roach88/invar/internal/ir"
)

// DecodeExpr converts a generic document tree into an expression.
//
// Every node is an object whose keys pick its form:
//
//	{lit: 60}                                 unsuffixed literal
//	{lit: "0xab..", type: address}            typed (suffixed) literal
//	{var: supply}                             global variable
//	{layer: account, var: nonce}              layer variable
//	{phase: validation, layer: account, var: nonce}
//	{not: <expr>}
//	{op: ">=", left: <expr>, right: <expr>}   arithmetic, comparison, && and ||
//	{call: max, args: [<expr>, ...]}
//	{agg: sum, target: <expr>, field: amount}
//	{at: validation, expr: <expr>}            phase constraint
//	{cross: "<=", left: {phase: settlement, expr: <expr>},
//	              right: {phase: validation, expr: <expr>}}
//
// Layer and phase names are the known names or "custom:<name>".
func DecodeExpr(raw any) (ir.Expression, error) {
	return decodeExpr(ir.RootPath, raw)
}

func malformed(path, format string, args ...any) error {
	return ir.Errorf(ir.ErrMalformedAST, format, args...).At(path)
}

func decodeExpr(path string, raw any) (ir.Expression, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, malformed(path, "expression must be an object, found %T", raw)
	}
	switch {
	case has(m, "lit"):
		if err := only(path, m, "lit", "type"); err != nil {
			return nil, err
		}
		return decodeLiteral(path, m)
	case has(m, "var"):
		if err := only(path, m, "var", "layer", "phase"); err != nil {
			return nil, err
		}
		return decodeRead(path, m)
	case has(m, "not"):
		if err := only(path, m, "not"); err != nil {
			return nil, err
		}
		operand, err := decodeExpr(path+".operand", m["not"])
		if err != nil {
			return nil, err
		}
		return ir.Not{Operand: operand}, nil
	case has(m, "op"):
		if err := only(path, m, "op", "left", "right"); err != nil {
			return nil, err
		}
		return decodeOp(path, m)
	case has(m, "call"):
		if err := only(path, m, "call", "args"); err != nil {
			return nil, err
		}
		return decodeCall(path, m)
	case has(m, "agg"):
		if err := only(path, m, "agg", "target", "field"); err != nil {
			return nil, err
		}
		return decodeAggregate(path, m)
	case has(m, "at"):
		if err := only(path, m, "at", "expr"); err != nil {
			return nil, err
		}
		phase, err := phaseField(path, m, "at")
		if err != nil {
			return nil, err
		}
		inner, err := decodeExpr(path+".inner", m["expr"])
		if err != nil {
			return nil, err
		}
		return ir.PhaseConstraint{Phase: phase, Inner: inner}, nil
	case has(m, "cross"):
		if err := only(path, m, "cross", "left", "right"); err != nil {
			return nil, err
		}
		return decodeCross(path, m)
	}
	return nil, malformed(path, "unrecognized expression with keys %s", strings.Join(sortedKeys(m), ", "))
}

func has(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

func only(path string, m map[string]any, allowed ...string) error {
	for _, k := range sortedKeys(m) {
		if !slices.Contains(allowed, k) {
			return malformed(path, "unexpected key %q", k)
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func stringField(path string, m map[string]any, key string) (string, error) {
	s, ok := m[key].(string)
	if !ok || s == "" {
		return "", malformed(path, "%q must be a non-empty string", key)
	}
	return s, nil
}

func phaseField(path string, m map[string]any, key string) (ir.Phase, error) {
	s, err := stringField(path, m, key)
	if err != nil {
		return ir.Phase{}, err
	}
	p, err := ir.ParsePhase(s)
	if err != nil {
		return ir.Phase{}, located(err, path)
	}
	return p, nil
}

func decodeLiteral(path string, m map[string]any) (ir.Expression, error) {
	raw := m["lit"]
	if has(m, "type") {
		ts, err := stringField(path, m, "type")
		if err != nil {
			return nil, err
		}
		t, err := ir.ParseType(ts)
		if err != nil {
			return nil, located(err, path)
		}
		v, err := ir.ParseValue(t, raw)
		if err != nil {
			return nil, located(err, path)
		}
		return ir.Literal{Value: v, Suffixed: true}, nil
	}

	switch x := raw.(type) {
	case bool:
		return ir.Literal{Value: ir.Bool(x)}, nil
	case string:
		return ir.Literal{Value: ir.String(x)}, nil
	}
	n, err := documentInteger(raw)
	if err != nil {
		return nil, located(err, path)
	}
	if n.Sign() < 0 {
		return nil, malformed(path, "negative literal %s needs a signed type", n)
	}
	u, err := ir.InferLiteral(n)
	if err != nil {
		return nil, located(err, path)
	}
	return ir.Literal{Value: u}, nil
}

// documentInteger accepts the integer representations produced by yaml.v3
// and CUE decoding.
func documentInteger(raw any) (*big.Int, error) {
	switch n := raw.(type) {
	case int:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case *big.Int:
		return new(big.Int).Set(n), nil
	case float32, float64:
		return nil, ir.Errorf(ir.ErrTypeMismatch, "floats are forbidden: %v", n)
	case nil:
		return nil, ir.Errorf(ir.ErrMalformedAST, "literal has no value")
	}
	return nil, ir.Errorf(ir.ErrMalformedAST, "literal of unsupported kind %T", raw)
}

func decodeRead(path string, m map[string]any) (ir.Expression, error) {
	name, err := stringField(path, m, "var")
	if err != nil {
		return nil, err
	}
	if !has(m, "layer") {
		if has(m, "phase") {
			return nil, malformed(path, "phase read of %q needs a layer", name)
		}
		return ir.Variable{Name: name}, nil
	}
	ls, err := stringField(path, m, "layer")
	if err != nil {
		return nil, err
	}
	layer, err := ir.ParseLayer(ls)
	if err != nil {
		return nil, located(err, path)
	}
	if !has(m, "phase") {
		return ir.LayerVar{Layer: layer, Name: name}, nil
	}
	phase, err := phaseField(path, m, "phase")
	if err != nil {
		return nil, err
	}
	return ir.PhaseVar{Phase: phase, Layer: layer, Name: name}, nil
}

func decodeOp(path string, m map[string]any) (ir.Expression, error) {
	op, err := stringField(path, m, "op")
	if err != nil {
		return nil, err
	}
	left, err := decodeExpr(path+".left", m["left"])
	if err != nil {
		return nil, err
	}
	right, err := decodeExpr(path+".right", m["right"])
	if err != nil {
		return nil, err
	}
	if lop, err := ir.ParseLogicalOp(op); err == nil {
		return ir.Logical{Op: lop, Left: left, Right: right}, nil
	}
	bop, err := ir.ParseBinaryOp(op)
	if err != nil {
		return nil, located(err, path)
	}
	return ir.Binary{Op: bop, Left: left, Right: right}, nil
}

func decodeCall(path string, m map[string]any) (ir.Expression, error) {
	name, err := stringField(path, m, "call")
	if err != nil {
		return nil, err
	}
	var list []any
	if has(m, "args") {
		var ok bool
		if list, ok = m["args"].([]any); !ok {
			return nil, malformed(path, "args must be a list")
		}
	}
	args := make([]ir.Expression, len(list))
	for i, a := range list {
		e, err := decodeExpr(fmt.Sprintf("%s.args[%d]", path, i), a)
		if err != nil {
			return nil, err
		}
		args[i] = e
	}
	return ir.Call{Func: name, Args: args}, nil
}

func decodeAggregate(path string, m map[string]any) (ir.Expression, error) {
	name, err := stringField(path, m, "agg")
	if err != nil {
		return nil, err
	}
	op, err := ir.ParseAggregateOp(name)
	if err != nil {
		return nil, located(err, path)
	}
	target, err := decodeExpr(path+".target", m["target"])
	if err != nil {
		return nil, err
	}
	agg := ir.Aggregate{Op: op, Target: target}
	if has(m, "field") {
		if agg.Field, err = stringField(path, m, "field"); err != nil {
			return nil, err
		}
	}
	return agg, nil
}

func decodeCross(path string, m map[string]any) (ir.Expression, error) {
	opName, err := stringField(path, m, "cross")
	if err != nil {
		return nil, err
	}
	op, err := ir.ParseBinaryOp(opName)
	if err != nil {
		return nil, located(err, path)
	}
	if !op.IsComparison() {
		return nil, malformed(path, "cross-phase operator %q is not a comparison", opName)
	}
	side := func(key string) (ir.Phase, ir.Expression, error) {
		p := path + "." + key
		sm, ok := m[key].(map[string]any)
		if !ok {
			return ir.Phase{}, nil, malformed(p, "must be {phase, expr}")
		}
		if err := only(p, sm, "phase", "expr"); err != nil {
			return ir.Phase{}, nil, err
		}
		phase, err := phaseField(p, sm, "phase")
		if err != nil {
			return ir.Phase{}, nil, err
		}
		e, err := decodeExpr(p, sm["expr"])
		return phase, e, err
	}
	lp, left, err := side("left")
	if err != nil {
		return nil, err
	}
	rp, right, err := side("right")
	if err != nil {
		return nil, err
	}
	return ir.CrossPhase{Op: op, LeftPhase: lp, Left: left, RightPhase: rp, Right: right}, nil
}

func located(err error, path string) error {
	if e, ok := err.(*ir.Error); ok && e.Path == "" {
		return e.At(path)
	}
	return err
}
