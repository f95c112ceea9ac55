package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/invar/internal/attack"
	"github.com/roach88/invar/internal/eval"
	"github.com/roach88/invar/internal/ir"
	"github.com/roach88/invar/internal/state"
	"github.com/roach88/invar/internal/typecheck"
)

func TestLibraryTypeChecks(t *testing.T) {
	lib, err := Library()
	require.NoError(t, err)

	env := typecheck.NewEnv()
	require.NoError(t, lib.Declare(env))

	invs, err := typecheck.New(env).CheckAll(lib.All())
	require.NoError(t, err)
	assert.Len(t, invs, lib.Len())
	for _, inv := range invs {
		assert.Equal(t, CategoryAccountAbstraction, inv.Decl.Category)
		assert.NotEmpty(t, inv.Phases)
	}
}

func TestRegistryListing(t *testing.T) {
	lib, err := Library()
	require.NoError(t, err)
	require.NoError(t, lib.Register(ir.InvariantDecl{
		Name: "supply_cap",
		Expr: ir.Binary{Op: ir.OpLe, Left: ir.Variable{Name: "supply"}, Right: ir.Literal{Value: ir.U32(1_000_000)}},
	}))

	names := lib.Names()
	assert.IsIncreasing(t, names)
	assert.Equal(t, "aa.balance_non_increase", names[0])
	assert.Equal(t, "supply_cap", names[len(names)-1])

	assert.Equal(t, []string{CategoryAccountAbstraction, DefaultCategory}, lib.Categories())
	general := lib.ByCategory(DefaultCategory)
	require.Len(t, general, 1)
	assert.Equal(t, "supply_cap", general[0].Name)
	assert.Len(t, lib.ByCategory(CategoryAccountAbstraction), len(AccountAbstraction()))

	d, ok := lib.Lookup("aa.signature_valid")
	require.True(t, ok)
	assert.Equal(t, ir.SeverityCritical, d.Severity)
	_, ok = lib.Lookup("missing")
	assert.False(t, ok)
}

func TestRegisterRejects(t *testing.T) {
	r := New()
	assert.True(t, ir.IsKind(r.Register(ir.InvariantDecl{}), ir.ErrMalformedAST))

	d := ir.InvariantDecl{Name: "x", Expr: ir.Literal{Value: ir.Bool(true)}}
	require.NoError(t, r.Register(d))
	assert.True(t, ir.IsKind(r.Register(d), ir.ErrMalformedAST))
}

func TestRequireConflicts(t *testing.T) {
	r := New()
	require.NoError(t, r.Require(ir.StateVar{Layer: ir.LayerAccount, Name: "nonce", Type: ir.TU64}))
	require.NoError(t, r.Require(ir.StateVar{Layer: ir.LayerAccount, Name: "nonce", Type: ir.TU64}))
	err := r.Require(ir.StateVar{Layer: ir.LayerAccount, Name: "nonce", Type: ir.TU128})
	assert.True(t, ir.IsKind(err, ir.ErrTypeMismatch))

	env := typecheck.NewEnv()
	require.NoError(t, env.Declare(ir.LayerAccount, "nonce", ir.TU32))
	assert.True(t, ir.IsKind(r.Declare(env), ir.ErrTypeMismatch))
}

func TestMerge(t *testing.T) {
	lib, err := Library()
	require.NoError(t, err)
	r := New()
	require.NoError(t, r.Merge(lib))
	assert.Equal(t, lib.Names(), r.Names())
	assert.Equal(t, lib.Vars(), r.Vars())

	assert.Error(t, r.Merge(lib), "merging twice registers duplicates")
}

func TestNonceMonotonicDetectsRollback(t *testing.T) {
	lib, err := Library()
	require.NoError(t, err)
	env := typecheck.NewEnv()
	require.NoError(t, lib.Declare(env))

	decl, ok := lib.Lookup("aa.nonce_monotonic")
	require.True(t, ok)
	inv, err := typecheck.New(env).CheckInvariant(decl)
	require.NoError(t, err)

	ctx := state.NewContext()
	require.NoError(t, ctx.SetLayerVar(ir.LayerAccount, "nonce", ir.U128(0, 7)))
	require.NoError(t, ctx.SetPhase(ir.PhaseValidation))
	require.NoError(t, ctx.SnapshotPhase(ir.PhaseValidation))

	require.NoError(t, ctx.SetLayerVar(ir.LayerAccount, "nonce", ir.U128(0, 6)))
	require.NoError(t, ctx.SetPhase(ir.PhaseSettlement))
	require.NoError(t, ctx.SnapshotPhase(ir.PhaseSettlement))

	v := eval.EvaluateInvariant(inv, ctx)
	assert.Equal(t, eval.StatusFail, v.Status)
	assert.Equal(t, ir.SeverityCritical, v.Severity)
	assert.NotNil(t, v.Snapshot)
}

func TestDefensesTypeCheck(t *testing.T) {
	defs, err := Defensive()
	require.NoError(t, err)
	assert.Equal(t, []string{CategoryDefensive}, defs.Categories())

	env := typecheck.NewEnv()
	require.NoError(t, defs.Declare(env))
	invs, err := typecheck.New(env).CheckAll(defs.All())
	require.NoError(t, err)
	assert.Len(t, invs, len(Defenses()))
}

func TestAttackPatternDefensesResolve(t *testing.T) {
	lib, err := Library()
	require.NoError(t, err)
	defs, err := Defensive()
	require.NoError(t, err)
	require.NoError(t, lib.Merge(defs), "the two libraries share no variable with a different type")

	for _, p := range attack.Default().All() {
		for _, name := range p.Defenses {
			_, ok := lib.Lookup(name)
			assert.True(t, ok, "%s names unknown defense %s", p.ID, name)
		}
	}
}

func TestReservesCoverBalances(t *testing.T) {
	defs, err := Defensive()
	require.NoError(t, err)
	env := typecheck.NewEnv()
	require.NoError(t, defs.Declare(env))
	decl, ok := defs.Lookup("defense.reserves_cover_balances")
	require.True(t, ok)
	inv, err := typecheck.New(env).CheckInvariant(decl)
	require.NoError(t, err)

	alice, err := ir.ParseAddress("0x00000000000000000000000000000000000000a1")
	require.NoError(t, err)
	bob, err := ir.ParseAddress("0x00000000000000000000000000000000000000b2")
	require.NoError(t, err)
	balances := ir.MustMap(ir.TAddress, ir.TU128,
		ir.MapEntry{Key: alice, Value: ir.U128(0, 40)},
		ir.MapEntry{Key: bob, Value: ir.U128(0, 70)},
	)

	ctx := state.NewContext()
	require.NoError(t, ctx.SetLayerVar(ir.LayerProtocol, "balances", balances))
	require.NoError(t, ctx.SetLayerVar(ir.LayerProtocol, "reserves", ir.U128(0, 110)))
	assert.Equal(t, eval.StatusPass, eval.EvaluateInvariant(inv, ctx).Status)

	require.NoError(t, ctx.SetLayerVar(ir.LayerProtocol, "reserves", ir.U128(0, 109)))
	v := eval.EvaluateInvariant(inv, ctx)
	assert.Equal(t, eval.StatusFail, v.Status)
	assert.Equal(t, ir.SeverityCritical, v.Severity)
}
