package typecheck

import (
	"slices"

	"github.com/roach88/invar/internal/builtin"
	"github.com/roach88/invar/internal/ir"
)

// TypedExpr is an expression node paired with its inferred type.
//
// The checker is the only constructor. A TypedExpr is immutable once
// returned: its type is computed exactly once and never re-inferred.
// Children mirror ir.Children of the underlying node.
type TypedExpr struct {
	expr     ir.Expression
	typ      ir.Type
	path     string
	children []*TypedExpr

	// params holds the operand types of calls after widening.
	params []ir.Type
	// fn is the resolved function of a call node.
	fn *builtin.Func
	// constant is set when the subtree folds to a value at check time.
	constant ir.Value
	// flexible marks unsuffixed literal subtrees that may still adopt a
	// wider unsigned type from a sibling operand.
	flexible bool
}

// Expr returns the underlying AST node.
func (t *TypedExpr) Expr() ir.Expression { return t.expr }

// Type returns the inferred type.
func (t *TypedExpr) Type() ir.Type { return t.typ }

// Path returns the node's location in the tree ("$", "$.left", ...).
func (t *TypedExpr) Path() string { return t.path }

// NumChildren returns the number of typed children.
func (t *TypedExpr) NumChildren() int { return len(t.children) }

// Child returns the i-th typed child.
func (t *TypedExpr) Child(i int) *TypedExpr { return t.children[i] }

// Params returns the widened argument types of a call node.
func (t *TypedExpr) Params() []ir.Type { return slices.Clone(t.params) }

// Func returns the resolved function of a call node.
func (t *TypedExpr) Func() (builtin.Func, bool) {
	if t.fn == nil {
		return builtin.Func{}, false
	}
	return *t.fn, true
}

// Constant returns the folded value of a constant subtree.
func (t *TypedExpr) Constant() (ir.Value, bool) {
	return t.constant, t.constant != nil
}
