package ir

import (
	"slices"
)

// InvariantDecl is an invariant as declared in a document, before type checking.
type InvariantDecl struct {
	Name        string
	Description string
	Expr        Expression
	Layers      []Layer
	Phases      []Phase // empty means every declared phase
	Severity    Severity
	Category    string
}

// ResolvePhases returns the phases the invariant applies to, sorted.
// An empty phase list lowers to every declared phase.
func (d InvariantDecl) ResolvePhases(declared []Phase) []Phase {
	src := d.Phases
	if len(src) == 0 {
		src = declared
	}
	out := slices.Clone(src)
	SortPhases(out)
	return slices.Compact(out)
}

// SortedLayers returns the invariant's layers sorted and de-duplicated.
func (d InvariantDecl) SortedLayers() []Layer {
	out := slices.Clone(d.Layers)
	SortLayers(out)
	return slices.Compact(out)
}

// VarRef names a state variable of a program model.
type VarRef struct {
	Layer Layer
	Name  string
}

// Qualified returns "layer::name".
func (v VarRef) Qualified() string { return Qualify(v.Layer, v.Name) }

// StateVar declares a state variable and its type.
type StateVar struct {
	Layer Layer
	Name  string
	Type  Type
}

// Operation is an entry point or internal function of the analyzed program,
// with the state it writes and reads and the operations it calls.
type Operation struct {
	Name    string
	Mutates []VarRef
	Reads   []VarRef
	Calls   []string
}

// ProgramModel is the analyzer's view of a contract: state plus operations.
// It is produced by chain-specific analyzers and consumed here as data.
type ProgramModel struct {
	Name       string
	Chain      string
	State      []StateVar
	Operations []Operation
}

// StateIdentifiers returns the sorted qualified names of the declared state.
func (m ProgramModel) StateIdentifiers() []string {
	out := make([]string, 0, len(m.State))
	for _, s := range m.State {
		out = append(out, Qualify(s.Layer, s.Name))
	}
	slices.Sort(out)
	return slices.Compact(out)
}
