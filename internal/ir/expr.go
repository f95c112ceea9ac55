package ir

import (
	"fmt"
	"slices"
	"strings"
)

// Expression is a sealed interface over the invariant AST.
// Trees are produced by the document loader (or a DSL front end) and are
// never mutated after construction.
type Expression interface {
	exprNode() // Sealed - only the node types below implement it
}

// BinaryOp is an arithmetic or comparison operator.
type BinaryOp string

const (
	OpAdd BinaryOp = "+"
	OpSub BinaryOp = "-"
	OpMul BinaryOp = "*"
	OpDiv BinaryOp = "/"
	OpRem BinaryOp = "%"
	OpEq  BinaryOp = "=="
	OpNe  BinaryOp = "!="
	OpLt  BinaryOp = "<"
	OpLe  BinaryOp = "<="
	OpGt  BinaryOp = ">"
	OpGe  BinaryOp = ">="
)

// IsArithmetic reports whether op is + - * / %.
func (op BinaryOp) IsArithmetic() bool {
	switch op {
	case OpAdd, OpSub, OpMul, OpDiv, OpRem:
		return true
	}
	return false
}

// IsComparison reports whether op is one of the six comparison operators.
func (op BinaryOp) IsComparison() bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

// IsOrdering reports whether op is < <= > >=.
func (op BinaryOp) IsOrdering() bool {
	switch op {
	case OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

// ParseBinaryOp parses an operator symbol.
func ParseBinaryOp(s string) (BinaryOp, error) {
	op := BinaryOp(s)
	if op.IsArithmetic() || op.IsComparison() {
		return op, nil
	}
	return "", Errorf(ErrMalformedAST, "unknown operator %q", s)
}

// LogicalOp is a short-circuiting boolean connective.
type LogicalOp string

const (
	OpAnd LogicalOp = "&&"
	OpOr  LogicalOp = "||"
)

// ParseLogicalOp parses && or ||.
func ParseLogicalOp(s string) (LogicalOp, error) {
	switch LogicalOp(s) {
	case OpAnd, OpOr:
		return LogicalOp(s), nil
	}
	return "", Errorf(ErrMalformedAST, "unknown logical operator %q", s)
}

// AggregateOp reduces a collection to a single value.
type AggregateOp string

const (
	AggSum   AggregateOp = "sum"
	AggCount AggregateOp = "count"
	AggMin   AggregateOp = "min"
	AggMax   AggregateOp = "max"
	AggLen   AggregateOp = "len"
	AggAvg   AggregateOp = "avg"
)

// ParseAggregateOp parses an aggregate name.
func ParseAggregateOp(s string) (AggregateOp, error) {
	switch AggregateOp(s) {
	case AggSum, AggCount, AggMin, AggMax, AggLen, AggAvg:
		return AggregateOp(s), nil
	}
	return "", Errorf(ErrMalformedAST, "unknown aggregate %q", s)
}

// Literal is a constant. Unsuffixed numeric literals (Suffixed=false) carry
// the narrowest unsigned type and may adopt a wider unsigned type from the
// operand they are compared or combined with.
type Literal struct {
	Value    Value
	Suffixed bool
}

// Variable is an unqualified identifier, resolved in the global layer.
type Variable struct {
	Name string
}

// LayerVar reads a variable from a layer of the current state.
type LayerVar struct {
	Layer Layer
	Name  string
}

// PhaseVar reads a variable from a layer as it was snapshotted at Phase.
type PhaseVar struct {
	Phase Phase
	Layer Layer
	Name  string
}

// Not is logical negation.
type Not struct {
	Operand Expression
}

// Binary is an arithmetic or comparison expression.
type Binary struct {
	Op    BinaryOp
	Left  Expression
	Right Expression
}

// Logical is a short-circuiting && or ||.
type Logical struct {
	Op    LogicalOp
	Left  Expression
	Right Expression
}

// Call invokes a pure function from the function table.
type Call struct {
	Func string
	Args []Expression
}

// Aggregate reduces Target. When Field is set, each element of Target must
// be a map<string,T> and the reduction runs over element[Field].
type Aggregate struct {
	Op     AggregateOp
	Target Expression
	Field  string
}

// PhaseConstraint evaluates Inner with every state read bound to the
// snapshot taken at Phase.
type PhaseConstraint struct {
	Phase Phase
	Inner Expression
}

// CrossPhase compares Left evaluated at LeftPhase with Right evaluated at RightPhase.
type CrossPhase struct {
	Op         BinaryOp
	LeftPhase  Phase
	Left       Expression
	RightPhase Phase
	Right      Expression
}

func (Literal) exprNode()         {}
func (Variable) exprNode()        {}
func (LayerVar) exprNode()        {}
func (PhaseVar) exprNode()        {}
func (Not) exprNode()             {}
func (Binary) exprNode()          {}
func (Logical) exprNode()         {}
func (Call) exprNode()            {}
func (Aggregate) exprNode()       {}
func (PhaseConstraint) exprNode() {}
func (CrossPhase) exprNode()      {}

// Qualify returns the fully-qualified identifier "layer::name".
func Qualify(layer Layer, name string) string {
	return layer.String() + "::" + name
}

// Child is a sub-expression together with its path segment.
type Child struct {
	Segment string
	Expr    Expression
}

// Children returns the direct sub-expressions of e in evaluation order.
func Children(e Expression) []Child {
	switch n := e.(type) {
	case Not:
		return []Child{{".operand", n.Operand}}
	case Binary:
		return []Child{{".left", n.Left}, {".right", n.Right}}
	case Logical:
		return []Child{{".left", n.Left}, {".right", n.Right}}
	case Call:
		out := make([]Child, len(n.Args))
		for i, a := range n.Args {
			out[i] = Child{fmt.Sprintf(".args[%d]", i), a}
		}
		return out
	case Aggregate:
		return []Child{{".target", n.Target}}
	case PhaseConstraint:
		return []Child{{".inner", n.Inner}}
	case CrossPhase:
		return []Child{{".left", n.Left}, {".right", n.Right}}
	}
	return nil
}

// RootPath is the path of the root expression node.
const RootPath = "$"

// Walk visits e and its descendants depth-first, parents before children.
// Returning false from fn skips the node's children.
func Walk(e Expression, fn func(path string, e Expression) bool) {
	walk(RootPath, e, fn)
}

func walk(path string, e Expression, fn func(string, Expression) bool) {
	if e == nil || !fn(path, e) {
		return
	}
	for _, c := range Children(e) {
		walk(path+c.Segment, c.Expr, fn)
	}
}

// Ref is a state read found in an expression.
type Ref struct {
	Layer Layer
	Name  string
	Phase Phase // zero unless phase-qualified or inside a phase constraint
}

// Qualified returns the "layer::name" identifier of the reference.
func (r Ref) Qualified() string { return Qualify(r.Layer, r.Name) }

// References returns every state read of e, including reads inside phase
// constraints, sorted by qualified name then phase. Duplicates are removed.
func References(e Expression) []Ref {
	var refs []Ref
	collectRefs(e, Phase{}, &refs)
	slices.SortFunc(refs, func(a, b Ref) int {
		if c := strings.Compare(a.Qualified(), b.Qualified()); c != 0 {
			return c
		}
		return strings.Compare(a.Phase.String(), b.Phase.String())
	})
	return slices.Compact(refs)
}

func collectRefs(e Expression, phase Phase, refs *[]Ref) {
	switch n := e.(type) {
	case Variable:
		*refs = append(*refs, Ref{Layer: LayerGlobal, Name: n.Name, Phase: phase})
		return
	case LayerVar:
		*refs = append(*refs, Ref{Layer: n.Layer, Name: n.Name, Phase: phase})
		return
	case PhaseVar:
		*refs = append(*refs, Ref{Layer: n.Layer, Name: n.Name, Phase: n.Phase})
		return
	case PhaseConstraint:
		collectRefs(n.Inner, n.Phase, refs)
		return
	case CrossPhase:
		collectRefs(n.Left, n.LeftPhase, refs)
		collectRefs(n.Right, n.RightPhase, refs)
		return
	}
	for _, c := range Children(e) {
		collectRefs(c.Expr, phase, refs)
	}
}

// Identifiers returns the sorted, de-duplicated qualified identifiers read by e.
func Identifiers(e Expression) []string {
	var out []string
	for _, r := range References(e) {
		out = append(out, r.Qualified())
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Functions returns the sorted, de-duplicated function names called by e.
func Functions(e Expression) []string {
	var out []string
	Walk(e, func(_ string, n Expression) bool {
		if c, ok := n.(Call); ok {
			out = append(out, c.Func)
		}
		return true
	})
	slices.Sort(out)
	return slices.Compact(out)
}

// Clause is one top-level conjunct of an invariant expression.
type Clause struct {
	Path string
	Expr Expression
}

// Clauses splits e on top-level && into its conjuncts, left to right.
// An expression with no top-level && is a single clause.
func Clauses(e Expression) []Clause {
	var out []Clause
	var split func(path string, e Expression)
	split = func(path string, e Expression) {
		if l, ok := e.(Logical); ok && l.Op == OpAnd {
			split(path+".left", l.Left)
			split(path+".right", l.Right)
			return
		}
		out = append(out, Clause{Path: path, Expr: e})
	}
	split(RootPath, e)
	return out
}
