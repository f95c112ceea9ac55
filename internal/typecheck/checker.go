// Package typecheck assigns a type to every node of an invariant expression
// and rejects ill-typed trees before any evaluation happens.
//
// Typing is strict: no implicit conversion crosses signedness, numbers never
// mix with addresses, and comparisons require identical operand types. The
// one relaxation is for unsuffixed literals, which carry the narrowest
// unsigned type that holds them and adopt a wider unsigned type from the
// sibling operand they meet.
package typecheck

import (
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strconv"

	"github.com/roach88/invar/internal/builtin"
	"github.com/roach88/invar/internal/ir"
)

// Checker types expressions against an environment and a function table.
type Checker struct {
	env    *Env
	funcs  *builtin.Table
	phases []ir.Phase
}

// Option configures a Checker.
type Option func(*Checker)

// WithFunctions sets the function table calls resolve against.
// The default is builtin.Standard().
func WithFunctions(t *builtin.Table) Option {
	return func(c *Checker) {
		c.funcs = t
	}
}

// WithPhases sets the declared phases. Phase references outside this set
// are undeclared identifiers. The default is ir.KnownPhases().
func WithPhases(phases []ir.Phase) Option {
	return func(c *Checker) {
		c.phases = slices.Clone(phases)
	}
}

// New creates a Checker.
func New(env *Env, opts ...Option) *Checker {
	c := &Checker{
		env:    env,
		funcs:  builtin.Standard(),
		phases: ir.KnownPhases(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Phases returns the declared phases.
func (c *Checker) Phases() []ir.Phase { return slices.Clone(c.phases) }

// Functions returns the function table.
func (c *Checker) Functions() *builtin.Table { return c.funcs }

// Check types an expression with the standard function table and phases.
func Check(expr ir.Expression, env *Env) (*TypedExpr, error) {
	return New(env).Check(expr)
}

// Check types expr. The first error found in a depth-first, left-to-right
// walk is returned; it carries the path of the offending node.
func (c *Checker) Check(expr ir.Expression) (*TypedExpr, error) {
	return c.check(ir.RootPath, expr)
}

func (c *Checker) check(path string, e ir.Expression) (*TypedExpr, error) {
	switch n := e.(type) {
	case nil:
		return nil, ir.Errorf(ir.ErrMalformedAST, "missing expression").At(path)
	case ir.Literal:
		return c.checkLiteral(path, n)
	case ir.Variable:
		return c.checkRead(path, n, ir.LayerGlobal, n.Name)
	case ir.LayerVar:
		if n.Layer.IsZero() {
			return nil, ir.Errorf(ir.ErrMalformedAST, "layer variable %q has no layer", n.Name).At(path)
		}
		return c.checkRead(path, n, n.Layer, n.Name)
	case ir.PhaseVar:
		if err := c.checkPhase(path, n.Phase); err != nil {
			return nil, err
		}
		if n.Layer.IsZero() {
			return nil, ir.Errorf(ir.ErrMalformedAST, "phase variable %q has no layer", n.Name).At(path)
		}
		return c.checkRead(path, n, n.Layer, n.Name)
	case ir.Not:
		return c.checkNot(path, n)
	case ir.Logical:
		return c.checkLogical(path, n)
	case ir.Binary:
		return c.checkBinary(path, n)
	case ir.Call:
		return c.checkCall(path, n)
	case ir.Aggregate:
		return c.checkAggregate(path, n)
	case ir.PhaseConstraint:
		return c.checkPhaseConstraint(path, n)
	case ir.CrossPhase:
		return c.checkCrossPhase(path, n)
	}
	return nil, ir.Errorf(ir.ErrMalformedAST, "unknown expression node %T", e).At(path)
}

func (c *Checker) checkLiteral(path string, n ir.Literal) (*TypedExpr, error) {
	if n.Value == nil {
		return nil, ir.Errorf(ir.ErrMalformedAST, "literal has no value").At(path)
	}
	node := &TypedExpr{expr: n, path: path}
	if u, ok := n.Value.(ir.Uint); ok && !n.Suffixed {
		lit, err := ir.InferLiteral(u.Big())
		if err != nil {
			return nil, at(err, path)
		}
		node.typ = lit.Type()
		node.constant = lit
		node.flexible = true
		return node, nil
	}
	node.typ = n.Value.Type()
	node.constant = n.Value
	return node, nil
}

func (c *Checker) checkRead(path string, e ir.Expression, layer ir.Layer, name string) (*TypedExpr, error) {
	if !ir.IsIdentifier(name) {
		return nil, ir.Errorf(ir.ErrMalformedAST, "invalid identifier %q", name).At(path)
	}
	t, ok := c.env.Lookup(layer, name)
	if !ok {
		return nil, &ir.Error{
			Kind:    ir.ErrUndeclaredIdentifier,
			Message: "undeclared identifier " + ir.Qualify(layer, name),
			Path:    path,
		}
	}
	return &TypedExpr{expr: e, typ: t, path: path}, nil
}

func (c *Checker) checkPhase(path string, p ir.Phase) error {
	if p.IsZero() {
		return ir.Errorf(ir.ErrMalformedAST, "missing phase").At(path)
	}
	if !slices.Contains(c.phases, p) {
		return &ir.Error{
			Kind:    ir.ErrUndeclaredIdentifier,
			Message: fmt.Sprintf("phase %q is not declared", p.Text()),
			Path:    path,
		}
	}
	return nil
}

func (c *Checker) checkNot(path string, n ir.Not) (*TypedExpr, error) {
	operand, err := c.check(path+".operand", n.Operand)
	if err != nil {
		return nil, err
	}
	if err := expectBool(operand, "! requires a bool operand"); err != nil {
		return nil, err
	}
	node := &TypedExpr{expr: n, typ: ir.TBool, path: path, children: []*TypedExpr{operand}}
	if v, ok := operand.constant.(ir.Bool); ok {
		node.constant = !v
	}
	return node, nil
}

func (c *Checker) checkLogical(path string, n ir.Logical) (*TypedExpr, error) {
	if _, err := ir.ParseLogicalOp(string(n.Op)); err != nil {
		return nil, ir.Errorf(ir.ErrMalformedAST, "unknown logical operator %q", n.Op).At(path)
	}
	l, err := c.check(path+".left", n.Left)
	if err != nil {
		return nil, err
	}
	r, err := c.check(path+".right", n.Right)
	if err != nil {
		return nil, err
	}
	msg := fmt.Sprintf("%s requires bool operands", n.Op)
	if err := expectBool(l, msg); err != nil {
		return nil, err
	}
	if err := expectBool(r, msg); err != nil {
		return nil, err
	}
	node := &TypedExpr{expr: n, typ: ir.TBool, path: path, children: []*TypedExpr{l, r}}
	lv, lok := l.constant.(ir.Bool)
	rv, rok := r.constant.(ir.Bool)
	if lok && rok {
		if n.Op == ir.OpAnd {
			node.constant = lv && rv
		} else {
			node.constant = lv || rv
		}
	}
	return node, nil
}

func (c *Checker) checkBinary(path string, n ir.Binary) (*TypedExpr, error) {
	if !n.Op.IsArithmetic() && !n.Op.IsComparison() {
		return nil, ir.Errorf(ir.ErrMalformedAST, "unknown binary operator %q", n.Op).At(path)
	}
	l, err := c.check(path+".left", n.Left)
	if err != nil {
		return nil, err
	}
	r, err := c.check(path+".right", n.Right)
	if err != nil {
		return nil, err
	}
	node := &TypedExpr{expr: n, path: path}
	if n.Op.IsArithmetic() {
		return c.arith(node, n.Op, l, r)
	}
	return c.compare(node, n.Op, l, r)
}

// arith types an arithmetic node. Two flexible operands fold at arbitrary
// precision and stay flexible; otherwise the result widens within one
// signedness and constant operands fold with checked arithmetic, so an
// overflow or division by zero provable from literals fails here.
func (c *Checker) arith(node *TypedExpr, op ir.BinaryOp, l, r *TypedExpr) (*TypedExpr, error) {
	for _, side := range []*TypedExpr{l, r} {
		if side.typ.Kind() == ir.KindAddress {
			return nil, ir.NewTypeMismatch(node.path, "number/address confusion", "numeric", "address")
		}
		if !side.typ.IsNumeric() {
			return nil, ir.NewTypeMismatch(node.path, fmt.Sprintf("operator %s requires numeric operands", op), "numeric", side.typ.String())
		}
	}

	if l.flexible && r.flexible {
		v, err := foldLiteral(op, l.constant, r.constant)
		if err != nil {
			return nil, at(err, node.path)
		}
		node.children = []*TypedExpr{l, r}
		node.typ = v.Type()
		node.constant = v
		node.flexible = true
		return node, nil
	}

	rt, err := ir.Widen(l.typ, r.typ)
	if err != nil {
		return nil, at(err, node.path)
	}
	if l, err = adopt(l, rt); err != nil {
		return nil, at(err, node.path)
	}
	if r, err = adopt(r, rt); err != nil {
		return nil, at(err, node.path)
	}
	node.children = []*TypedExpr{l, r}
	node.typ = rt
	if l.constant != nil && r.constant != nil {
		v, err := ir.ApplyArith(op, l.constant, r.constant)
		if err != nil {
			return nil, at(err, node.path)
		}
		node.constant = v
	}
	return node, nil
}

// foldLiteral combines two unsuffixed literals and re-infers the narrowest
// type of the result.
func foldLiteral(op ir.BinaryOp, a, b ir.Value) (ir.Uint, error) {
	x := a.(ir.Uint).Big()
	y := b.(ir.Uint).Big()
	r := new(big.Int)
	switch op {
	case ir.OpAdd:
		r.Add(x, y)
	case ir.OpSub:
		r.Sub(x, y)
	case ir.OpMul:
		r.Mul(x, y)
	case ir.OpDiv, ir.OpRem:
		if y.Sign() == 0 {
			return ir.Uint{}, ir.Errorf(ir.ErrDivisionByZero, "division by zero")
		}
		if op == ir.OpDiv {
			r.Quo(x, y)
		} else {
			r.Rem(x, y)
		}
	}
	if r.Sign() < 0 {
		return ir.Uint{}, ir.Errorf(ir.ErrOverflowOrUnderflow, "%s %s %s underflows", x, op, y)
	}
	return ir.InferLiteral(r)
}

// compare types a comparison node. Flexible operands adopt the other
// side's unsigned type when they fit in it; after that both sides must have
// identical types.
func (c *Checker) compare(node *TypedExpr, op ir.BinaryOp, l, r *TypedExpr) (*TypedExpr, error) {
	l, r, err := unify(l, r)
	if err != nil {
		return nil, at(err, node.path)
	}
	if !l.typ.Equal(r.typ) {
		return nil, ir.NewTypeMismatch(node.path, "comparison requires identical types", l.typ.String(), r.typ.String())
	}
	if op.IsOrdering() && !l.typ.IsNumeric() {
		return nil, ir.NewTypeMismatch(node.path, fmt.Sprintf("operator %s requires numeric operands", op), "numeric", l.typ.String())
	}
	node.children = []*TypedExpr{l, r}
	node.typ = ir.TBool
	if l.constant != nil && r.constant != nil {
		v, err := ir.ApplyComparison(op, l.constant, r.constant)
		if err != nil {
			return nil, at(err, node.path)
		}
		node.constant = v
	}
	return node, nil
}

// unify applies literal adoption to a pair of comparison operands.
func unify(l, r *TypedExpr) (*TypedExpr, *TypedExpr, error) {
	var err error
	switch {
	case l.flexible && r.flexible:
		common, werr := ir.Widen(l.typ, r.typ)
		if werr != nil {
			return nil, nil, werr
		}
		if l, err = retype(l, common); err != nil {
			return nil, nil, err
		}
		if r, err = retype(r, common); err != nil {
			return nil, nil, err
		}
	case l.flexible:
		if l, err = adopt(l, r.typ); err != nil {
			return nil, nil, err
		}
	case r.flexible:
		if r, err = adopt(r, l.typ); err != nil {
			return nil, nil, err
		}
	}
	return l, r, nil
}

// adopt retypes a flexible subtree to t when t is an unsigned type at least
// as wide. Anything else is returned unchanged and left for the caller's
// type rule to reject.
func adopt(te *TypedExpr, t ir.Type) (*TypedExpr, error) {
	if !te.flexible || t.Kind() != ir.KindUint || te.typ.Width() > t.Width() {
		return te, nil
	}
	return retype(te, t)
}

// retype rewrites a flexible subtree to t, converting every folded constant.
func retype(te *TypedExpr, t ir.Type) (*TypedExpr, error) {
	cp := *te
	cp.typ = t
	cp.flexible = false
	if te.constant != nil {
		v, err := ir.Convert(te.constant, t)
		if err != nil {
			return nil, err
		}
		cp.constant = v
	}
	if len(te.children) > 0 {
		cp.children = make([]*TypedExpr, len(te.children))
		for i, child := range te.children {
			rc, err := retype(child, t)
			if err != nil {
				return nil, err
			}
			cp.children[i] = rc
		}
	}
	return &cp, nil
}

func (c *Checker) checkCall(path string, n ir.Call) (*TypedExpr, error) {
	f, ok := c.funcs.Lookup(n.Func)
	if !ok {
		return nil, &ir.Error{
			Kind:    ir.ErrUndeclaredIdentifier,
			Message: fmt.Sprintf("unknown function %q", n.Func),
			Path:    path,
		}
	}
	if len(n.Args) != f.Arity {
		return nil, &ir.Error{
			Kind:     ir.ErrWrongArity,
			Message:  fmt.Sprintf("%s takes %d argument(s)", f.Name, f.Arity),
			Path:     path,
			Expected: strconv.Itoa(f.Arity),
			Found:    strconv.Itoa(len(n.Args)),
		}
	}

	args := make([]*TypedExpr, len(n.Args))
	argTypes := make([]ir.Type, len(n.Args))
	for i, a := range n.Args {
		ta, err := c.check(fmt.Sprintf("%s.args[%d]", path, i), a)
		if err != nil {
			return nil, err
		}
		args[i] = ta
		argTypes[i] = ta.typ
	}

	sig, err := f.Check(argTypes)
	if err != nil {
		return nil, at(err, path)
	}
	if len(sig.Params) != len(args) {
		return nil, ir.Errorf(ir.ErrMalformedAST, "%s resolved %d parameters for %d arguments", f.Name, len(sig.Params), len(args)).At(path)
	}
	for i, a := range args {
		p := sig.Params[i]
		argPath := fmt.Sprintf("%s.args[%d]", path, i)
		if a.flexible {
			ra, err := adopt(a, p)
			if err != nil {
				return nil, at(err, argPath)
			}
			args[i] = ra
			a = ra
		}
		if a.typ.Equal(p) {
			continue
		}
		// Narrower operands of the same signedness are widened at evaluation.
		if a.typ.IsNumeric() && a.typ.Kind() == p.Kind() && a.typ.Width() <= p.Width() {
			continue
		}
		return nil, ir.NewTypeMismatch(argPath, fmt.Sprintf("argument %d of %s", i, f.Name), p.String(), a.typ.String())
	}

	return &TypedExpr{
		expr:     n,
		typ:      sig.Result,
		path:     path,
		children: args,
		params:   sig.Params,
		fn:       &f,
	}, nil
}

func (c *Checker) checkAggregate(path string, n ir.Aggregate) (*TypedExpr, error) {
	if _, err := ir.ParseAggregateOp(string(n.Op)); err != nil {
		return nil, ir.Errorf(ir.ErrMalformedAST, "unknown aggregate %q", n.Op).At(path)
	}
	if n.Field != "" && !ir.IsIdentifier(n.Field) {
		return nil, ir.Errorf(ir.ErrMalformedAST, "invalid field %q", n.Field).At(path)
	}
	if n.Field != "" && (n.Op == ir.AggCount || n.Op == ir.AggLen) {
		return nil, ir.Errorf(ir.ErrMalformedAST, "%s does not take a field projection", n.Op).At(path)
	}
	target, err := c.check(path+".target", n.Target)
	if err != nil {
		return nil, err
	}
	tt := target.typ
	node := &TypedExpr{expr: n, path: path, children: []*TypedExpr{target}}

	switch n.Op {
	case ir.AggLen:
		switch tt.Kind() {
		case ir.KindArray, ir.KindMap, ir.KindString, ir.KindBytes:
		default:
			return nil, unsupportedTarget(path, n.Op, "collection, string or bytes", tt)
		}
		node.typ = ir.TU64
	case ir.AggCount:
		if !tt.IsCollection() {
			return nil, unsupportedTarget(path, n.Op, "collection", tt)
		}
		node.typ = ir.TU64
	default:
		if !tt.IsCollection() {
			return nil, unsupportedTarget(path, n.Op, "collection", tt)
		}
		elem := tt.Elem()
		if n.Field != "" {
			if elem.Kind() != ir.KindMap || elem.Key().Kind() != ir.KindString {
				return nil, unsupportedTarget(path, n.Op, "collection of map<string,_> records", tt)
			}
			elem = elem.Elem()
		}
		if !elem.IsNumeric() {
			return nil, &ir.Error{
				Kind:     ir.ErrUnsupportedAggregateTarget,
				Message:  fmt.Sprintf("%s requires numeric elements", n.Op),
				Path:     path,
				Expected: "numeric",
				Found:    elem.String(),
			}
		}
		node.typ = elem
	}
	return node, nil
}

func unsupportedTarget(path string, op ir.AggregateOp, expected string, found ir.Type) *ir.Error {
	return &ir.Error{
		Kind:     ir.ErrUnsupportedAggregateTarget,
		Message:  fmt.Sprintf("%s over a non-collection", op),
		Path:     path,
		Expected: expected,
		Found:    found.String(),
	}
}

func (c *Checker) checkPhaseConstraint(path string, n ir.PhaseConstraint) (*TypedExpr, error) {
	if err := c.checkPhase(path, n.Phase); err != nil {
		return nil, err
	}
	inner, err := c.check(path+".inner", n.Inner)
	if err != nil {
		return nil, err
	}
	if err := expectBool(inner, "phase constraint requires a bool expression"); err != nil {
		return nil, err
	}
	return &TypedExpr{expr: n, typ: ir.TBool, path: path, children: []*TypedExpr{inner}}, nil
}

func (c *Checker) checkCrossPhase(path string, n ir.CrossPhase) (*TypedExpr, error) {
	if !n.Op.IsComparison() {
		return nil, ir.Errorf(ir.ErrMalformedAST, "cross-phase operator %q is not a comparison", n.Op).At(path)
	}
	if err := c.checkPhase(path, n.LeftPhase); err != nil {
		return nil, err
	}
	if err := c.checkPhase(path, n.RightPhase); err != nil {
		return nil, err
	}
	l, err := c.check(path+".left", n.Left)
	if err != nil {
		return nil, err
	}
	r, err := c.check(path+".right", n.Right)
	if err != nil {
		return nil, err
	}
	return c.compare(&TypedExpr{expr: n, path: path}, n.Op, l, r)
}

func expectBool(te *TypedExpr, msg string) error {
	if te.typ.Equal(ir.TBool) {
		return nil
	}
	return ir.NewTypeMismatch(te.path, msg, "bool", te.typ.String())
}

// at locates an unlocated *ir.Error at path.
func at(err error, path string) error {
	var e *ir.Error
	if errors.As(err, &e) && e.Path == "" {
		return e.At(path)
	}
	return err
}
