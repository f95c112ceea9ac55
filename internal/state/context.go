// Package state holds the execution context an invariant is evaluated
// against: the current value of every layer variable, the current phase,
// and frozen per-phase snapshots.
//
// A Context has a single writer. It performs no locking; concurrent trials
// each build their own Context.
package state

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/invar/internal/ir"
)

// Reader resolves layer variables. Both the live Context and a Snapshot
// implement it; the evaluator binds reads to one or the other.
type Reader interface {
	Get(layer ir.Layer, name string) (ir.Value, error)
}

type layerVars map[ir.Layer]map[string]ir.Value

// Context is the mutable execution state of one evaluation run.
type Context struct {
	phase     ir.Phase
	vars      layerVars
	snapshots map[ir.Phase]*Snapshot
}

// NewContext creates an empty context with no current phase.
func NewContext() *Context {
	return &Context{
		vars:      make(layerVars),
		snapshots: make(map[ir.Phase]*Snapshot),
	}
}

// SetLayerVar binds layer::name to v in the current state.
func (c *Context) SetLayerVar(layer ir.Layer, name string, v ir.Value) error {
	if layer.IsZero() {
		return ir.Errorf(ir.ErrMalformedAST, "variable %q has no layer", name)
	}
	if !ir.IsIdentifier(name) {
		return ir.Errorf(ir.ErrMalformedAST, "invalid variable name %q", name)
	}
	if v == nil {
		return ir.Errorf(ir.ErrMalformedAST, "nil value for %s", ir.Qualify(layer, name))
	}
	m, ok := c.vars[layer]
	if !ok {
		m = make(map[string]ir.Value)
		c.vars[layer] = m
	}
	m[name] = v
	return nil
}

// GetLayerVar returns the current value of layer::name.
func (c *Context) GetLayerVar(layer ir.Layer, name string) (ir.Value, error) {
	return lookup(c.vars, layer, name, "")
}

// Get implements Reader over the current state.
func (c *Context) Get(layer ir.Layer, name string) (ir.Value, error) {
	return c.GetLayerVar(layer, name)
}

// SetPhase sets the current phase.
func (c *Context) SetPhase(p ir.Phase) error {
	if p.IsZero() {
		return ir.Errorf(ir.ErrMalformedAST, "empty phase")
	}
	c.phase = p
	return nil
}

// CurrentPhase returns the current phase. The zero Phase means none was set.
func (c *Context) CurrentPhase() ir.Phase { return c.phase }

// SnapshotPhase freezes a copy of the full current state under phase p.
// Taking a snapshot of the same phase again replaces the previous one.
// Later writes to the context never reach a snapshot.
func (c *Context) SnapshotPhase(p ir.Phase) error {
	if p.IsZero() {
		return ir.Errorf(ir.ErrMalformedAST, "empty phase")
	}
	c.snapshots[p] = &Snapshot{phase: p, vars: cloneVars(c.vars)}
	return nil
}

// Snapshot returns the snapshot taken for phase p.
func (c *Context) Snapshot(p ir.Phase) (*Snapshot, error) {
	s, ok := c.snapshots[p]
	if !ok {
		return nil, ir.Errorf(ir.ErrPhaseNotSnapshotted, "phase %q has no snapshot", p.Text())
	}
	return s, nil
}

// GetLayerVarAtPhase returns layer::name as it was when phase p was
// snapshotted. A phase never snapshotted is PhaseNotSnapshotted; a variable
// absent from the snapshot is UndeclaredIdentifier. There is no default.
func (c *Context) GetLayerVarAtPhase(p ir.Phase, layer ir.Layer, name string) (ir.Value, error) {
	s, err := c.Snapshot(p)
	if err != nil {
		return nil, err
	}
	return s.Get(layer, name)
}

// Layers returns the layers with at least one variable, sorted by name.
func (c *Context) Layers() []ir.Layer { return sortedLayers(c.vars) }

// Vars returns the variable names bound in layer, sorted.
func (c *Context) Vars(layer ir.Layer) []string { return sortedNames(c.vars[layer]) }

// Phases returns the snapshotted phases, sorted by name.
func (c *Context) Phases() []ir.Phase {
	out := slices.Collect(maps.Keys(c.snapshots))
	ir.SortPhases(out)
	return out
}

// Export renders the current phase, current state and every snapshot as a
// canonical document. Two contexts holding the same state export to
// byte-identical canonical JSON regardless of write order.
func (c *Context) Export() (ir.DocObject, error) {
	state, err := exportVars(c.vars)
	if err != nil {
		return nil, err
	}
	snaps := ir.DocObject{}
	for p, s := range c.snapshots {
		d, err := exportVars(s.vars)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", p.Text(), err)
		}
		snaps[p.Text()] = d
	}
	doc := ir.DocObject{"state": state, "snapshots": snaps}
	if !c.phase.IsZero() {
		doc["phase"] = ir.DocString(c.phase.Text())
	}
	return doc, nil
}

// Digest returns the content hash of Export.
func (c *Context) Digest() (string, error) {
	doc, err := c.Export()
	if err != nil {
		return "", err
	}
	return ir.ContextDigest(doc)
}

// Snapshot is the frozen state of one phase. It is never modified after
// SnapshotPhase returns it.
type Snapshot struct {
	phase ir.Phase
	vars  layerVars
}

// Phase returns the phase the snapshot was taken for.
func (s *Snapshot) Phase() ir.Phase { return s.phase }

// Get implements Reader over the frozen state.
func (s *Snapshot) Get(layer ir.Layer, name string) (ir.Value, error) {
	return lookup(s.vars, layer, name, s.phase.Text())
}

// Layers returns the layers captured by the snapshot, sorted by name.
func (s *Snapshot) Layers() []ir.Layer { return sortedLayers(s.vars) }

// Vars returns the variable names captured for layer, sorted.
func (s *Snapshot) Vars(layer ir.Layer) []string { return sortedNames(s.vars[layer]) }

func lookup(vars layerVars, layer ir.Layer, name, phase string) (ir.Value, error) {
	if v, ok := vars[layer][name]; ok {
		return v, nil
	}
	msg := "no value bound for " + ir.Qualify(layer, name)
	if phase != "" {
		msg += " in snapshot " + phase
	}
	return nil, &ir.Error{Kind: ir.ErrUndeclaredIdentifier, Message: msg}
}

// cloneVars copies the layer and variable maps. Values are immutable and
// shared.
func cloneVars(src layerVars) layerVars {
	out := make(layerVars, len(src))
	for l, m := range src {
		out[l] = maps.Clone(m)
	}
	return out
}

func sortedLayers(vars layerVars) []ir.Layer {
	out := make([]ir.Layer, 0, len(vars))
	for l, m := range vars {
		if len(m) > 0 {
			out = append(out, l)
		}
	}
	ir.SortLayers(out)
	return out
}

func sortedNames(m map[string]ir.Value) []string {
	out := slices.Collect(maps.Keys(m))
	slices.Sort(out)
	return out
}

func exportVars(vars layerVars) (ir.DocObject, error) {
	out := ir.DocObject{}
	for l, m := range vars {
		if len(m) == 0 {
			continue
		}
		layer := ir.DocObject{}
		for name, v := range m {
			d, err := ir.LowerValue(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", ir.Qualify(l, name), err)
			}
			layer[name] = d
		}
		out[l.Text()] = layer
	}
	return out, nil
}

// String renders the current state for debugging, one variable per line.
func (c *Context) String() string {
	var b strings.Builder
	if !c.phase.IsZero() {
		fmt.Fprintf(&b, "phase %s\n", c.phase.Text())
	}
	for _, l := range c.Layers() {
		for _, name := range c.Vars(l) {
			fmt.Fprintf(&b, "%s = %s\n", ir.Qualify(l, name), ir.Format(c.vars[l][name]))
		}
	}
	return b.String()
}
