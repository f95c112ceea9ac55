package typecheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/invar/internal/ir"
)

var vault = ir.MustCustomLayer("vault")

func testEnv(t *testing.T) *Env {
	t.Helper()
	env := NewEnv()
	require.NoError(t, env.DeclareGlobal("accounts", ir.ArrayType(ir.MapType(ir.TString, ir.TU64))))
	require.NoError(t, env.DeclareGlobal("balances", ir.MapType(ir.TAddress, ir.TU64)))
	require.NoError(t, env.DeclareGlobal("owner", ir.TAddress))
	require.NoError(t, env.DeclareGlobal("label", ir.TString))
	require.NoError(t, env.DeclareGlobal("delta", ir.TI64))
	require.NoError(t, env.DeclareGlobal("small", ir.TU8))
	require.NoError(t, env.Declare(vault, "total", ir.TU64))
	require.NoError(t, env.Declare(ir.LayerAccount, "nonce", ir.TU64))
	require.NoError(t, env.Declare(ir.LayerPaymaster, "deposit", ir.TU128))
	return env
}

func lit(n uint64) ir.Literal { return ir.Literal{Value: ir.U64(n)} }

func TestCheckConservation(t *testing.T) {
	expr := ir.Binary{
		Op:    ir.OpEq,
		Left:  ir.Aggregate{Op: ir.AggSum, Target: ir.Variable{Name: "accounts"}, Field: "balance"},
		Right: ir.LayerVar{Layer: vault, Name: "total"},
	}
	te, err := Check(expr, testEnv(t))
	require.NoError(t, err)
	assert.True(t, te.Type().Equal(ir.TBool))
	assert.Equal(t, "$", te.Path())
	require.Equal(t, 2, te.NumChildren())
	assert.True(t, te.Child(0).Type().Equal(ir.TU64))
	assert.Equal(t, "$.left", te.Child(0).Path())
	assert.Equal(t, "$.left.target", te.Child(0).Child(0).Path())
}

func TestLiteralAdoptsOperandType(t *testing.T) {
	expr := ir.Binary{Op: ir.OpGe, Left: ir.LayerVar{Layer: ir.LayerAccount, Name: "nonce"}, Right: lit(60)}
	te, err := Check(expr, testEnv(t))
	require.NoError(t, err)

	right := te.Child(1)
	assert.True(t, right.Type().Equal(ir.TU64), "literal should adopt u64, got %s", right.Type())
	v, ok := right.Constant()
	require.True(t, ok)
	assert.Equal(t, ir.U64(60), v)
}

func TestLiteralTooWideForOperand(t *testing.T) {
	expr := ir.Binary{Op: ir.OpEq, Left: ir.Variable{Name: "small"}, Right: lit(300)}
	_, err := Check(expr, testEnv(t))
	require.Error(t, err)
	assert.True(t, ir.IsKind(err, ir.ErrTypeMismatch))
}

func TestLiteralArithmeticFoldsAndAdopts(t *testing.T) {
	// 200 + 100 folds to 300 (u16) and then adopts u128 from the deposit.
	expr := ir.Binary{
		Op:    ir.OpLe,
		Left:  ir.Binary{Op: ir.OpAdd, Left: lit(200), Right: lit(100)},
		Right: ir.LayerVar{Layer: ir.LayerPaymaster, Name: "deposit"},
	}
	te, err := Check(expr, testEnv(t))
	require.NoError(t, err)
	sum := te.Child(0)
	assert.True(t, sum.Type().Equal(ir.TU128))
	v, ok := sum.Constant()
	require.True(t, ok)
	assert.Equal(t, "300", ir.Format(v))
	assert.True(t, sum.Child(0).Type().Equal(ir.TU128), "folded operands are retyped with their parent")
}

func TestArithmeticWidens(t *testing.T) {
	expr := ir.Binary{
		Op:    ir.OpLe,
		Left:  ir.Binary{Op: ir.OpAdd, Left: ir.Variable{Name: "small"}, Right: ir.LayerVar{Layer: vault, Name: "total"}},
		Right: ir.LayerVar{Layer: ir.LayerPaymaster, Name: "deposit"},
	}
	_, err := Check(expr, testEnv(t))
	require.Error(t, err, "u64 sum compared with u128 must not be coerced")
	assert.True(t, ir.IsKind(err, ir.ErrTypeMismatch))

	te, err := Check(ir.Binary{Op: ir.OpAdd, Left: ir.Variable{Name: "small"}, Right: ir.LayerVar{Layer: vault, Name: "total"}}, testEnv(t))
	require.NoError(t, err)
	assert.True(t, te.Type().Equal(ir.TU64))
}

func TestTypeErrors(t *testing.T) {
	tests := []struct {
		name string
		expr ir.Expression
		kind ir.ErrorKind
		path string
	}{
		{
			name: "signed unsigned",
			expr: ir.Binary{Op: ir.OpAdd, Left: ir.Variable{Name: "delta"}, Right: ir.LayerVar{Layer: vault, Name: "total"}},
			kind: ir.ErrTypeMismatch,
			path: "$",
		},
		{
			name: "signed with unsuffixed literal",
			expr: ir.Binary{Op: ir.OpGt, Left: ir.Variable{Name: "delta"}, Right: lit(0)},
			kind: ir.ErrTypeMismatch,
			path: "$",
		},
		{
			name: "string vs number",
			expr: ir.Binary{Op: ir.OpEq, Left: ir.Variable{Name: "label"}, Right: lit(1)},
			kind: ir.ErrTypeMismatch,
			path: "$",
		},
		{
			name: "address arithmetic",
			expr: ir.Binary{Op: ir.OpAdd, Left: ir.Variable{Name: "owner"}, Right: lit(1)},
			kind: ir.ErrTypeMismatch,
			path: "$",
		},
		{
			name: "ordering on addresses",
			expr: ir.Binary{Op: ir.OpLt, Left: ir.Variable{Name: "owner"}, Right: ir.Variable{Name: "owner"}},
			kind: ir.ErrTypeMismatch,
			path: "$",
		},
		{
			name: "undeclared",
			expr: ir.Binary{Op: ir.OpEq, Left: ir.Variable{Name: "ghost"}, Right: lit(1)},
			kind: ir.ErrUndeclaredIdentifier,
			path: "$.left",
		},
		{
			name: "undeclared layer",
			expr: ir.Binary{Op: ir.OpEq, Left: ir.LayerVar{Layer: ir.LayerBundler, Name: "total"}, Right: lit(1)},
			kind: ir.ErrUndeclaredIdentifier,
			path: "$.left",
		},
		{
			name: "unknown function",
			expr: ir.Call{Func: "exec", Args: []ir.Expression{lit(1)}},
			kind: ir.ErrUndeclaredIdentifier,
			path: "$",
		},
		{
			name: "wrong arity",
			expr: ir.Binary{Op: ir.OpEq, Left: ir.Call{Func: "min", Args: []ir.Expression{lit(1)}}, Right: lit(1)},
			kind: ir.ErrWrongArity,
			path: "$.left",
		},
		{
			name: "aggregate over scalar",
			expr: ir.Binary{Op: ir.OpEq, Left: ir.Aggregate{Op: ir.AggSum, Target: ir.LayerVar{Layer: vault, Name: "total"}}, Right: lit(1)},
			kind: ir.ErrUnsupportedAggregateTarget,
			path: "$.left",
		},
		{
			name: "aggregate over records without field",
			expr: ir.Binary{Op: ir.OpEq, Left: ir.Aggregate{Op: ir.AggMax, Target: ir.Variable{Name: "accounts"}}, Right: lit(1)},
			kind: ir.ErrUnsupportedAggregateTarget,
			path: "$.left",
		},
		{
			name: "count with field",
			expr: ir.Aggregate{Op: ir.AggCount, Target: ir.Variable{Name: "accounts"}, Field: "balance"},
			kind: ir.ErrMalformedAST,
			path: "$",
		},
		{
			name: "not on number",
			expr: ir.Not{Operand: lit(1)},
			kind: ir.ErrTypeMismatch,
			path: "$.operand",
		},
		{
			name: "nil child",
			expr: ir.Binary{Op: ir.OpEq, Left: lit(1)},
			kind: ir.ErrMalformedAST,
			path: "$.right",
		},
		{
			name: "unknown operator",
			expr: ir.Binary{Op: "**", Left: lit(1), Right: lit(1)},
			kind: ir.ErrMalformedAST,
			path: "$",
		},
		{
			name: "statically provable overflow",
			expr: ir.Binary{
				Op:    ir.OpEq,
				Left:  ir.Binary{Op: ir.OpAdd, Left: ir.Literal{Value: ir.U8(255), Suffixed: true}, Right: ir.Literal{Value: ir.U8(1), Suffixed: true}},
				Right: lit(0),
			},
			kind: ir.ErrOverflowOrUnderflow,
			path: "$.left",
		},
		{
			name: "literal underflow",
			expr: ir.Binary{Op: ir.OpEq, Left: ir.Binary{Op: ir.OpSub, Left: lit(1), Right: lit(2)}, Right: lit(0)},
			kind: ir.ErrOverflowOrUnderflow,
			path: "$.left",
		},
		{
			name: "constant division by zero",
			expr: ir.Binary{Op: ir.OpEq, Left: ir.Binary{Op: ir.OpDiv, Left: ir.Literal{Value: ir.U8(4), Suffixed: true}, Right: ir.Literal{Value: ir.U8(0), Suffixed: true}}, Right: lit(0)},
			kind: ir.ErrDivisionByZero,
			path: "$.left",
		},
		{
			name: "undeclared phase",
			expr: ir.PhaseConstraint{Phase: ir.MustCustomPhase("audit"), Inner: ir.Literal{Value: ir.Bool(true)}},
			kind: ir.ErrUndeclaredIdentifier,
			path: "$",
		},
		{
			name: "cross phase with arithmetic operator",
			expr: ir.CrossPhase{Op: ir.OpAdd, LeftPhase: ir.PhaseValidation, Left: lit(1), RightPhase: ir.PhaseSettlement, Right: lit(1)},
			kind: ir.ErrMalformedAST,
			path: "$",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Check(tt.expr, testEnv(t))
			require.Error(t, err)
			var e *ir.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tt.kind, e.Kind, err.Error())
			if tt.path != "" {
				assert.Equal(t, tt.path, e.Path)
			}
		})
	}
}

func TestCallWidensArguments(t *testing.T) {
	expr := ir.Binary{
		Op:    ir.OpEq,
		Left:  ir.Call{Func: "max", Args: []ir.Expression{ir.Variable{Name: "small"}, ir.LayerVar{Layer: vault, Name: "total"}}},
		Right: lit(7),
	}
	te, err := Check(expr, testEnv(t))
	require.NoError(t, err)
	call := te.Child(0)
	assert.True(t, call.Type().Equal(ir.TU64))
	params := call.Params()
	require.Len(t, params, 2)
	assert.True(t, params[0].Equal(ir.TU64))
	fn, ok := call.Func()
	require.True(t, ok)
	assert.Equal(t, "max", fn.Name)
}

func TestContainsAdoptsLiteralKey(t *testing.T) {
	env := testEnv(t)
	require.NoError(t, env.DeclareGlobal("ids", ir.ArrayType(ir.TU64)))
	te, err := Check(ir.Call{Func: "contains", Args: []ir.Expression{ir.Variable{Name: "ids"}, lit(5)}}, env)
	require.NoError(t, err)
	assert.True(t, te.Child(1).Type().Equal(ir.TU64))
}

func TestAggregateTypes(t *testing.T) {
	env := testEnv(t)
	tests := []struct {
		agg  ir.Aggregate
		want ir.Type
	}{
		{ir.Aggregate{Op: ir.AggCount, Target: ir.Variable{Name: "accounts"}}, ir.TU64},
		{ir.Aggregate{Op: ir.AggLen, Target: ir.Variable{Name: "label"}}, ir.TU64},
		{ir.Aggregate{Op: ir.AggSum, Target: ir.Variable{Name: "balances"}}, ir.TU64},
		{ir.Aggregate{Op: ir.AggAvg, Target: ir.Variable{Name: "accounts"}, Field: "balance"}, ir.TU64},
	}
	for _, tt := range tests {
		te, err := Check(tt.agg, env)
		require.NoError(t, err)
		assert.True(t, te.Type().Equal(tt.want), "%s: got %s", tt.agg.Op, te.Type())
	}
}

func TestPhaseReads(t *testing.T) {
	expr := ir.CrossPhase{
		Op:         ir.OpLe,
		LeftPhase:  ir.PhaseSettlement,
		Left:       ir.LayerVar{Layer: ir.LayerPaymaster, Name: "deposit"},
		RightPhase: ir.PhaseValidation,
		Right:      ir.PhaseVar{Phase: ir.PhaseValidation, Layer: ir.LayerPaymaster, Name: "deposit"},
	}
	te, err := Check(expr, testEnv(t))
	require.NoError(t, err)
	assert.True(t, te.Type().Equal(ir.TBool))
}

func TestCustomPhasesMustBeDeclared(t *testing.T) {
	audit := ir.MustCustomPhase("audit")
	expr := ir.PhaseConstraint{Phase: audit, Inner: ir.Literal{Value: ir.Bool(true)}}
	c := New(testEnv(t), WithPhases(append(ir.KnownPhases(), audit)))
	_, err := c.Check(expr)
	assert.NoError(t, err)
}

func TestConstantFolding(t *testing.T) {
	expr := ir.Logical{
		Op:    ir.OpAnd,
		Left:  ir.Binary{Op: ir.OpLt, Left: lit(1), Right: lit(1000)},
		Right: ir.Not{Operand: ir.Literal{Value: ir.Bool(false)}},
	}
	te, err := Check(expr, testEnv(t))
	require.NoError(t, err)
	v, ok := te.Constant()
	require.True(t, ok)
	assert.Equal(t, ir.Bool(true), v)
}

func TestCheckIsDeterministic(t *testing.T) {
	expr := ir.Binary{Op: ir.OpEq, Left: ir.Aggregate{Op: ir.AggSum, Target: ir.Variable{Name: "balances"}}, Right: lit(3)}
	a, err := Check(expr, testEnv(t))
	require.NoError(t, err)
	b, err := Check(expr, testEnv(t))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
