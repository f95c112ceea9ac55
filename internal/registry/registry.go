// Package registry holds named invariant declarations grouped by category,
// including the built-in account-abstraction library.
//
// A Registry is constructed per invocation and passed explicitly; there is
// no process-wide registry.
package registry

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/invar/internal/ir"
	"github.com/roach88/invar/internal/typecheck"
)

// DefaultCategory is used for declarations that name none.
const DefaultCategory = "general"

// Registry maps invariant names to declarations.
type Registry struct {
	decls map[string]ir.InvariantDecl
	vars  map[string]ir.StateVar
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		decls: make(map[string]ir.InvariantDecl),
		vars:  make(map[string]ir.StateVar),
	}
}

// Register adds a declaration. Names are unique.
func (r *Registry) Register(d ir.InvariantDecl) error {
	if d.Name == "" {
		return ir.Errorf(ir.ErrMalformedAST, "registry: invariant with no name")
	}
	if _, dup := r.decls[d.Name]; dup {
		return ir.Errorf(ir.ErrMalformedAST, "registry: invariant %q already registered", d.Name)
	}
	if d.Category == "" {
		d.Category = DefaultCategory
	}
	r.decls[d.Name] = d
	return nil
}

// Require records a state variable the registered invariants read.
// Declaring the same variable twice with different types is an error.
func (r *Registry) Require(v ir.StateVar) error {
	id := ir.Qualify(v.Layer, v.Name)
	if prev, ok := r.vars[id]; ok && !prev.Type.Equal(v.Type) {
		return ir.Errorf(ir.ErrTypeMismatch, "registry: %s required as %s and %s", id, prev.Type, v.Type)
	}
	r.vars[id] = v
	return nil
}

// Lookup returns the named declaration.
func (r *Registry) Lookup(name string) (ir.InvariantDecl, bool) {
	d, ok := r.decls[name]
	return d, ok
}

// Len returns the number of registered invariants.
func (r *Registry) Len() int { return len(r.decls) }

// Names returns every invariant name, sorted.
func (r *Registry) Names() []string {
	return slices.Sorted(maps.Keys(r.decls))
}

// All returns every declaration sorted by name.
func (r *Registry) All() []ir.InvariantDecl {
	out := make([]ir.InvariantDecl, 0, len(r.decls))
	for _, name := range r.Names() {
		out = append(out, r.decls[name])
	}
	return out
}

// Categories returns the category names in use, sorted.
func (r *Registry) Categories() []string {
	set := make(map[string]bool)
	for _, d := range r.decls {
		set[d.Category] = true
	}
	return slices.Sorted(maps.Keys(set))
}

// ByCategory returns the declarations of one category sorted by name.
func (r *Registry) ByCategory(category string) []ir.InvariantDecl {
	var out []ir.InvariantDecl
	for _, d := range r.All() {
		if d.Category == category {
			out = append(out, d)
		}
	}
	return out
}

// Vars returns the required state variables sorted by qualified name.
func (r *Registry) Vars() []ir.StateVar {
	out := make([]ir.StateVar, 0, len(r.vars))
	for _, id := range slices.Sorted(maps.Keys(r.vars)) {
		out = append(out, r.vars[id])
	}
	return out
}

// Declare declares every required variable in env. A variable env already
// holds with another type is a TypeMismatch.
func (r *Registry) Declare(env *typecheck.Env) error {
	for _, v := range r.Vars() {
		if err := env.Declare(v.Layer, v.Name, v.Type); err != nil {
			return fmt.Errorf("registry: %w", err)
		}
	}
	return nil
}

// Merge copies every declaration and variable of other into r.
func (r *Registry) Merge(other *Registry) error {
	for _, v := range other.Vars() {
		if err := r.Require(v); err != nil {
			return err
		}
	}
	for _, d := range other.All() {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}
