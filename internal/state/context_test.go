package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/invar/internal/ir"
)

func TestSetAndGet(t *testing.T) {
	c := NewContext()
	require.NoError(t, c.SetLayerVar(ir.LayerAccount, "nonce", ir.U64(5)))

	v, err := c.GetLayerVar(ir.LayerAccount, "nonce")
	require.NoError(t, err)
	assert.Equal(t, ir.U64(5), v)

	_, err = c.GetLayerVar(ir.LayerAccount, "missing")
	assert.True(t, ir.IsKind(err, ir.ErrUndeclaredIdentifier))

	assert.Error(t, c.SetLayerVar(ir.Layer{}, "x", ir.U8(1)))
	assert.Error(t, c.SetLayerVar(ir.LayerAccount, "bad name", ir.U8(1)))
	assert.Error(t, c.SetLayerVar(ir.LayerAccount, "x", nil))
}

func TestSnapshotIsolation(t *testing.T) {
	c := NewContext()
	require.NoError(t, c.SetLayerVar(ir.LayerPaymaster, "deposit", ir.U128(0, 100)))
	require.NoError(t, c.SnapshotPhase(ir.PhaseValidation))
	require.NoError(t, c.SetLayerVar(ir.LayerPaymaster, "deposit", ir.U128(0, 40)))

	v, err := c.GetLayerVarAtPhase(ir.PhaseValidation, ir.LayerPaymaster, "deposit")
	require.NoError(t, err)
	assert.Equal(t, ir.U128(0, 100), v, "writes after a snapshot must not reach it")

	cur, err := c.GetLayerVar(ir.LayerPaymaster, "deposit")
	require.NoError(t, err)
	assert.Equal(t, ir.U128(0, 40), cur)
}

func TestSnapshotLastWriteWins(t *testing.T) {
	c := NewContext()
	require.NoError(t, c.SetLayerVar(ir.LayerGlobal, "x", ir.U8(1)))
	require.NoError(t, c.SnapshotPhase(ir.PhaseExecution))
	require.NoError(t, c.SetLayerVar(ir.LayerGlobal, "x", ir.U8(2)))
	require.NoError(t, c.SnapshotPhase(ir.PhaseExecution))

	v, err := c.GetLayerVarAtPhase(ir.PhaseExecution, ir.LayerGlobal, "x")
	require.NoError(t, err)
	assert.Equal(t, ir.U8(2), v)
}

func TestPhaseReadErrors(t *testing.T) {
	c := NewContext()
	require.NoError(t, c.SetLayerVar(ir.LayerGlobal, "x", ir.U8(1)))

	_, err := c.GetLayerVarAtPhase(ir.PhaseSettlement, ir.LayerGlobal, "x")
	assert.True(t, ir.IsKind(err, ir.ErrPhaseNotSnapshotted))

	require.NoError(t, c.SnapshotPhase(ir.PhaseSettlement))
	_, err = c.GetLayerVarAtPhase(ir.PhaseSettlement, ir.LayerGlobal, "y")
	assert.True(t, ir.IsKind(err, ir.ErrUndeclaredIdentifier))
}

func TestSortedIteration(t *testing.T) {
	c := NewContext()
	vault := ir.MustCustomLayer("vault")
	require.NoError(t, c.SetLayerVar(vault, "total", ir.U64(1)))
	require.NoError(t, c.SetLayerVar(ir.LayerPaymaster, "b", ir.U64(1)))
	require.NoError(t, c.SetLayerVar(ir.LayerPaymaster, "a", ir.U64(1)))
	require.NoError(t, c.SetLayerVar(ir.LayerAccount, "nonce", ir.U64(1)))
	require.NoError(t, c.SnapshotPhase(ir.PhaseValidation))
	require.NoError(t, c.SnapshotPhase(ir.PhaseExecution))

	assert.Equal(t, []ir.Layer{ir.LayerAccount, ir.LayerPaymaster, vault}, c.Layers())
	assert.Equal(t, []string{"a", "b"}, c.Vars(ir.LayerPaymaster))
	assert.Equal(t, []ir.Phase{ir.PhaseExecution, ir.PhaseValidation}, c.Phases())
	assert.Empty(t, c.Vars(ir.LayerBundler))
}

func TestExportIsOrderIndependent(t *testing.T) {
	a := NewContext()
	require.NoError(t, a.SetLayerVar(ir.LayerAccount, "nonce", ir.U64(1)))
	require.NoError(t, a.SetLayerVar(ir.LayerGlobal, "owner", ir.MustAddress("0x00000000000000000000000000000000000000aa")))
	require.NoError(t, a.SetPhase(ir.PhaseExecution))
	require.NoError(t, a.SnapshotPhase(ir.PhaseExecution))

	b := NewContext()
	require.NoError(t, b.SetPhase(ir.PhaseExecution))
	require.NoError(t, b.SetLayerVar(ir.LayerGlobal, "owner", ir.MustAddress("0x00000000000000000000000000000000000000AA")))
	require.NoError(t, b.SetLayerVar(ir.LayerAccount, "nonce", ir.U64(1)))
	require.NoError(t, b.SnapshotPhase(ir.PhaseExecution))

	da, err := a.Digest()
	require.NoError(t, err)
	db, err := b.Digest()
	require.NoError(t, err)
	assert.Equal(t, da, db)

	doc, err := a.Export()
	require.NoError(t, err)
	out, err := ir.MarshalCanonical(doc)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"phase":"execution"`)
	assert.Contains(t, string(out), `"nonce":{"type":"u64","value":"1"}`)
}

func TestCurrentPhase(t *testing.T) {
	c := NewContext()
	assert.True(t, c.CurrentPhase().IsZero())
	require.NoError(t, c.SetPhase(ir.PhaseSettlement))
	assert.Equal(t, ir.PhaseSettlement, c.CurrentPhase())
	assert.Error(t, c.SetPhase(ir.Phase{}))
}
