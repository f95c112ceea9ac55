package depgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/invar/internal/ir"
	"github.com/roach88/invar/internal/typecheck"
)

var vault = ir.MustCustomLayer("vault")

func ref(l ir.Layer, name string) ir.VarRef { return ir.VarRef{Layer: l, Name: name} }

func walletModel() ir.ProgramModel {
	return ir.ProgramModel{
		Name:  "wallet",
		Chain: "evm",
		State: []ir.StateVar{
			{Layer: ir.LayerAccount, Name: "nonce", Type: ir.TU64},
			{Layer: ir.LayerAccount, Name: "balance", Type: ir.TU64},
			{Layer: vault, Name: "total", Type: ir.TU64},
		},
		Operations: []ir.Operation{
			{Name: "deposit", Mutates: []ir.VarRef{ref(vault, "total"), ref(ir.LayerAccount, "balance")}},
			{Name: "execute", Mutates: []ir.VarRef{ref(ir.LayerAccount, "nonce")}, Calls: []string{"transfer"}},
			{Name: "transfer", Mutates: []ir.VarRef{ref(ir.LayerAccount, "balance")}, Reads: []ir.VarRef{ref(vault, "total")}},
		},
	}
}

func checked(t *testing.T, model ir.ProgramModel, decls ...ir.InvariantDecl) []*typecheck.Invariant {
	t.Helper()
	env := typecheck.NewEnv()
	require.NoError(t, env.DeclareModel(model))
	invs, err := typecheck.New(env).CheckAll(decls)
	require.NoError(t, err)
	return invs
}

func solvency() ir.InvariantDecl {
	return ir.InvariantDecl{
		Name: "solvency",
		Expr: ir.Binary{
			Op:    ir.OpGe,
			Left:  ir.LayerVar{Layer: vault, Name: "total"},
			Right: ir.PhaseVar{Phase: ir.PhaseValidation, Layer: ir.LayerAccount, Name: "balance"},
		},
	}
}

func TestDependencies(t *testing.T) {
	m := walletModel()
	g, err := Build(m, checked(t, m, solvency()))
	require.NoError(t, err)

	deps, err := g.Dependencies("solvency")
	require.NoError(t, err)
	assert.Equal(t, []string{"account::balance", "vault::total"}, deps)

	_, err = g.Dependencies("missing")
	assert.True(t, ir.IsKind(err, ir.ErrUndeclaredIdentifier))
}

func TestTransitiveMutations(t *testing.T) {
	m := walletModel()
	g, err := Build(m, nil)
	require.NoError(t, err)

	var execute []Mutation
	for _, mu := range g.Mutations() {
		if mu.Operation == "execute" {
			execute = append(execute, mu)
		}
	}
	require.Len(t, execute, 2)
	assert.Equal(t, "account::balance", execute[0].Var)
	assert.Equal(t, []string{"transfer"}, execute[0].Via)
	assert.False(t, execute[0].Direct())
	assert.Equal(t, "account::nonce", execute[1].Var)
	assert.True(t, execute[1].Direct())
}

func TestCoverageListsUncovered(t *testing.T) {
	m := walletModel()
	g, err := Build(m, checked(t, m, solvency()))
	require.NoError(t, err)

	cov := g.Coverage()
	assert.Len(t, cov.Facts, 5)
	require.Len(t, cov.Uncovered, 1)
	assert.Equal(t, "execute", cov.Uncovered[0].Operation)
	assert.Equal(t, "account::nonce", cov.Uncovered[0].Var)
	assert.Equal(t, "execute → account::nonce", cov.Uncovered[0].String())
	assert.InDelta(t, 0.8, cov.Ratio(), 1e-9)

	for _, f := range cov.Facts {
		if f.Var == "account::balance" {
			assert.Equal(t, []string{"solvency"}, f.CoveredBy)
		}
	}
}

func TestUndeclared(t *testing.T) {
	m := walletModel()
	env := typecheck.NewEnv()
	require.NoError(t, env.DeclareModel(m))
	require.NoError(t, env.Declare(ir.LayerPaymaster, "deposit", ir.TU128))

	inv, err := typecheck.New(env).CheckInvariant(ir.InvariantDecl{
		Name: "deposit_positive",
		Expr: ir.Binary{Op: ir.OpGt, Left: ir.LayerVar{Layer: ir.LayerPaymaster, Name: "deposit"}, Right: ir.Literal{Value: ir.U64(0)}},
	})
	require.NoError(t, err)

	g, err := Build(m, []*typecheck.Invariant{inv})
	require.NoError(t, err)
	assert.Equal(t, []string{"paymaster::deposit"}, g.Undeclared(nil))
	assert.Empty(t, g.Undeclared(env))
}

func TestBuildRejectsDuplicates(t *testing.T) {
	m := walletModel()
	m.Operations = append(m.Operations, ir.Operation{Name: "deposit"})
	_, err := Build(m, nil)
	assert.True(t, ir.IsKind(err, ir.ErrMalformedAST))
}

func TestNodesAndEdgesSorted(t *testing.T) {
	m := walletModel()
	g, err := Build(m, checked(t, m, solvency()))
	require.NoError(t, err)

	nodes := g.Nodes()
	assert.IsNonDecreasing(t, nodes)
	assert.Contains(t, nodes, "solvency")
	assert.Contains(t, nodes, "transfer")

	edges := g.Edges()
	assert.Contains(t, edges, Edge{From: "execute", To: "transfer", Kind: EdgeCalls})
	assert.Contains(t, edges, Edge{From: "solvency", To: "vault::total", Kind: EdgeReads})
	assert.Equal(t, "deposit", edges[0].From)
}

func TestCallCycles(t *testing.T) {
	m := ir.ProgramModel{
		Name: "loops",
		Operations: []ir.Operation{
			{Name: "c", Calls: []string{"a"}},
			{Name: "a", Calls: []string{"b"}},
			{Name: "b", Calls: []string{"c"}},
			{Name: "self", Calls: []string{"self"}},
			{Name: "leaf"},
		},
	}
	g, err := Build(m, nil)
	require.NoError(t, err)

	cycles := g.CallCycles()
	require.Len(t, cycles, 2)
	assert.Equal(t, []string{"a", "b", "c", "a"}, cycles[0].Path)
	assert.Equal(t, []string{"self", "self"}, cycles[1].Path)
	assert.Equal(t, "warning", cycles[0].Level)

	// Recursion must not stop mutation analysis from terminating.
	assert.NotPanics(t, func() { g.Mutations() })
}

func TestCallCyclesEmpty(t *testing.T) {
	g, err := Build(walletModel(), nil)
	require.NoError(t, err)
	assert.Empty(t, g.CallCycles())
	assert.Equal(t, "wallet", g.Model())
}
