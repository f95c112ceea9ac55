package codegen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/invar/internal/ir"
	"github.com/roach88/invar/internal/typecheck"
)

func balance() ir.Expression { return ir.LayerVar{Layer: ir.LayerAccount, Name: "balance"} }
func nonce() ir.Expression   { return ir.LayerVar{Layer: ir.LayerAccount, Name: "nonce"} }

func solvency(t *testing.T) *typecheck.Invariant {
	t.Helper()
	env := typecheck.NewEnv()
	require.NoError(t, env.Declare(ir.LayerAccount, "balance", ir.TU64))
	require.NoError(t, env.Declare(ir.LayerAccount, "nonce", ir.TU64))
	inv, err := typecheck.New(env).CheckInvariant(ir.InvariantDecl{
		Name: "solvency",
		Expr: ir.Logical{
			Op:    ir.OpAnd,
			Left:  ir.Binary{Op: ir.OpGe, Left: balance(), Right: ir.Literal{Value: ir.U8(60)}},
			Right: ir.Binary{Op: ir.OpGt, Left: nonce(), Right: ir.Literal{Value: ir.U64(0), Suffixed: true}},
		},
		Severity: ir.SeverityHigh,
	})
	require.NoError(t, err)
	return inv
}

func TestGenerateSolana(t *testing.T) {
	inv := solvency(t)
	g, err := New(ChainSolana)
	require.NoError(t, err)

	art, err := g.Generate(inv)
	require.NoError(t, err)

	want := "// INVAR_HASH: " + inv.Hash + "\n" +
		"// invariant: solvency severity=high\n" +
		"pub fn check_solvency(state: &State, snapshots: &Snapshots) -> Result<()> {\n" +
		"    invar_assert!(state.account.balance >= 60, \"check_solvency[0]\");\n" +
		"    invar_assert!(state.account.nonce > 0u64, \"check_solvency[1]\");\n" +
		"    Ok(())\n" +
		"}\n"
	assert.Equal(t, want, art.Source)
	assert.Equal(t, ChainSolana, art.Manifest.Chain)
	assert.Equal(t, "solvency", art.Manifest.Invariant)
	assert.Equal(t, inv.Hash, art.Manifest.InvariantHash)
}

func TestGenerateEVM(t *testing.T) {
	inv := solvency(t)
	g, err := New(ChainEVM)
	require.NoError(t, err)

	art, err := g.Generate(inv)
	require.NoError(t, err)
	assert.Contains(t, art.Source, "function check_solvency() internal view {\n")
	assert.Contains(t, art.Source, "    require(state.account.nonce > uint64(0), \"check_solvency[1]\");\n")
	assert.True(t, strings.HasSuffix(art.Source, "}\n"))
}

func TestGenerateMove(t *testing.T) {
	inv := solvency(t)
	g, err := New(ChainMove)
	require.NoError(t, err)

	art, err := g.Generate(inv)
	require.NoError(t, err)
	assert.Contains(t, art.Source, "const E_CHECK_SOLVENCY_0: u64 = 1;\n")
	assert.Contains(t, art.Source, "const E_CHECK_SOLVENCY_1: u64 = 2;\n")
	assert.Contains(t, art.Source, "public fun check_solvency(state: &State, snapshots: &Snapshots) {\n")
	assert.Contains(t, art.Source, "    assert!(state.account.balance >= 60, E_CHECK_SOLVENCY_0);\n")
}

func TestGenerateSpansAndMarker(t *testing.T) {
	inv := solvency(t)
	for _, chain := range Chains() {
		t.Run(string(chain), func(t *testing.T) {
			g, err := New(chain)
			require.NoError(t, err)
			art, err := g.Generate(inv)
			require.NoError(t, err)

			marker, err := HashMarker(art.Source)
			require.NoError(t, err)
			assert.Equal(t, inv.Hash, marker)

			stmts, err := ParseStatements(chain, art.Source)
			require.NoError(t, err)
			require.Len(t, stmts, 2)
			require.Len(t, art.Manifest.Spans, 2)

			for i, span := range art.Manifest.Spans {
				text := art.Source[span.Start:span.End]
				assert.Equal(t, stmts[i].Expr, text)
				assert.Equal(t, stmts[i].Start, span.Start)
				assert.Equal(t, ir.SpanDigest(text), span.Digest)
				assert.Equal(t, i, span.Clause)
			}
			assert.Equal(t, "$.left", art.Manifest.Spans[0].Path)
			assert.Equal(t, "$.right", art.Manifest.Spans[1].Path)

			out, err := OutOfScope(chain, art.Source)
			require.NoError(t, err)
			assert.Empty(t, out)
		})
	}
}

func TestOutOfScopeFlagsInjectedLines(t *testing.T) {
	inv := solvency(t)
	g, err := New(ChainSolana)
	require.NoError(t, err)
	art, err := g.Generate(inv)
	require.NoError(t, err)

	injected := strings.Replace(art.Source, "    Ok(())\n",
		"    unsafe { std::process::exit(0) };\n    Ok(())\n", 1)
	out, err := OutOfScope(ChainSolana, injected)
	require.NoError(t, err)
	assert.Equal(t, []string{"    unsafe { std::process::exit(0) };"}, out)
}

func TestRender(t *testing.T) {
	g, err := New(ChainEVM)
	require.NoError(t, err)

	tests := []struct {
		name string
		expr ir.Expression
		want string
	}{
		{
			name: "nested infix is parenthesized",
			expr: ir.Binary{
				Op:    ir.OpMul,
				Left:  ir.Binary{Op: ir.OpAdd, Left: ir.Variable{Name: "a"}, Right: ir.Variable{Name: "b"}},
				Right: ir.Literal{Value: ir.U8(2)},
			},
			want: "(state.global.a + state.global.b) * 2",
		},
		{
			name: "negation",
			expr: ir.Not{Operand: ir.Logical{Op: ir.OpOr, Left: ir.Variable{Name: "paused"}, Right: ir.Literal{Value: ir.Bool(false)}}},
			want: "!(state.global.paused || false)",
		},
		{
			name: "phase constraint reads the snapshot",
			expr: ir.PhaseConstraint{Phase: ir.PhaseValidation, Inner: nonce()},
			want: "snapshots.validation.account.nonce",
		},
		{
			name: "cross phase",
			expr: ir.CrossPhase{
				Op:         ir.OpLe,
				LeftPhase:  ir.PhaseSettlement,
				Left:       balance(),
				RightPhase: ir.PhaseValidation,
				Right:      balance(),
			},
			want: "snapshots.settlement.account.balance <= snapshots.validation.account.balance",
		},
		{
			name: "call",
			expr: ir.Call{Func: "max", Args: []ir.Expression{balance(), ir.Literal{Value: ir.U64(7), Suffixed: true}}},
			want: "Invar.max(state.account.balance, uint64(7))",
		},
		{
			name: "aggregate with field",
			expr: ir.Aggregate{Op: ir.AggSum, Target: ir.Variable{Name: "deposits"}, Field: "amount"},
			want: "InvarAgg.sumBy(state.global.deposits, \"amount\")",
		},
		{
			name: "checksummed address",
			expr: ir.Literal{Value: ir.MustAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"), Suffixed: true},
			want: "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.Render(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderSolanaAggregateAndAddress(t *testing.T) {
	g, err := New(ChainSolana)
	require.NoError(t, err)

	got, err := g.Render(ir.Aggregate{Op: ir.AggSum, Target: ir.Variable{Name: "deposits"}})
	require.NoError(t, err)
	assert.Equal(t, "invar::agg::sum(&state.global.deposits)", got)

	got, err = g.Render(ir.Literal{Value: ir.MustAddress("11111111111111111111111111111111"), Suffixed: true})
	require.NoError(t, err)
	assert.Equal(t, `pubkey!("11111111111111111111111111111111")`, got)
}

func TestRenderUnsupportedLiterals(t *testing.T) {
	mv, err := New(ChainMove)
	require.NoError(t, err)
	_, err = mv.Render(ir.Binary{Op: ir.OpGt, Left: ir.Variable{Name: "delta"}, Right: ir.Literal{Value: ir.I8(-5), Suffixed: true}})
	require.Error(t, err)
	assert.True(t, ir.IsKind(err, ir.ErrTypeMismatch))
	var ie *ir.Error
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "$.right", ie.Path)

	evm, err := New(ChainEVM)
	require.NoError(t, err)
	_, err = evm.Render(ir.Literal{Value: ir.MustAddress("11111111111111111111111111111111"), Suffixed: true})
	assert.True(t, ir.IsKind(err, ir.ErrTypeMismatch))
}

func TestHashMarker(t *testing.T) {
	h := strings.Repeat("ab", 32)
	_, err := HashMarker("pub fn x() {}\n")
	assert.Error(t, err)

	got, err := HashMarker("// INVAR_HASH: " + h + "\nbody\n")
	require.NoError(t, err)
	assert.Equal(t, h, got)

	_, err = HashMarker("// INVAR_HASH: " + h + "\n// INVAR_HASH: " + h + "\n")
	assert.Error(t, err)
}

func TestParseChain(t *testing.T) {
	c, err := ParseChain(" EVM ")
	require.NoError(t, err)
	assert.Equal(t, ChainEVM, c)

	_, err = ParseChain("cosmos")
	assert.Error(t, err)

	_, err = New(Chain("cosmos"))
	assert.Error(t, err)
}

func TestFuncName(t *testing.T) {
	assert.Equal(t, "check_aa_nonce_monotonic", FuncName("aa.nonce-monotonic"))
}
