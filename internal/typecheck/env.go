package typecheck

import (
	"fmt"
	"slices"

	"github.com/roach88/invar/internal/ir"
)

// Env declares the type of every state variable an expression may read.
// Keys are fully-qualified identifiers ("layer::name").
type Env struct {
	vars map[string]ir.Type
}

// NewEnv creates an empty environment.
func NewEnv() *Env {
	return &Env{vars: make(map[string]ir.Type)}
}

// Declare adds layer::name with type t. Re-declaring with the same type is
// a no-op; re-declaring with a different type is a TypeMismatch.
func (e *Env) Declare(layer ir.Layer, name string, t ir.Type) error {
	if layer.IsZero() {
		return ir.Errorf(ir.ErrMalformedAST, "variable %q has no layer", name)
	}
	if !ir.IsIdentifier(name) {
		return ir.Errorf(ir.ErrMalformedAST, "invalid variable name %q", name)
	}
	if !t.IsValid() {
		return ir.Errorf(ir.ErrMalformedAST, "variable %q has no type", name)
	}
	key := ir.Qualify(layer, name)
	if prev, ok := e.vars[key]; ok {
		if !prev.Equal(t) {
			return ir.NewTypeMismatch("", fmt.Sprintf("%s redeclared with a different type", key), prev.String(), t.String())
		}
		return nil
	}
	e.vars[key] = t
	return nil
}

// DeclareGlobal declares an unqualified variable.
func (e *Env) DeclareGlobal(name string, t ir.Type) error {
	return e.Declare(ir.LayerGlobal, name, t)
}

// DeclareModel declares every state variable of a program model.
func (e *Env) DeclareModel(m ir.ProgramModel) error {
	for _, s := range m.State {
		if err := e.Declare(s.Layer, s.Name, s.Type); err != nil {
			return fmt.Errorf("model %s: %w", m.Name, err)
		}
	}
	return nil
}

// Lookup returns the declared type of layer::name.
func (e *Env) Lookup(layer ir.Layer, name string) (ir.Type, bool) {
	t, ok := e.vars[ir.Qualify(layer, name)]
	return t, ok
}

// Has reports whether a qualified identifier is declared.
func (e *Env) Has(qualified string) bool {
	_, ok := e.vars[qualified]
	return ok
}

// Identifiers returns every declared identifier in sorted order.
func (e *Env) Identifiers() []string {
	out := make([]string, 0, len(e.vars))
	for k := range e.vars {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
