// Package depgraph relates invariants to the program state they read and
// the operations that mutate it.
//
// Nodes are fully-qualified state identifiers ("layer::name"), invariant
// names and operation names. Edges are reads (invariant → state), mutates
// (operation → state) and calls (operation → operation). Every listing is
// sorted so reports are reproducible.
package depgraph

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/invar/internal/ir"
	"github.com/roach88/invar/internal/typecheck"
)

// EdgeKind labels a graph edge.
type EdgeKind string

const (
	EdgeReads   EdgeKind = "reads"
	EdgeMutates EdgeKind = "mutates"
	EdgeCalls   EdgeKind = "calls"
)

// Edge is one directed edge.
type Edge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Kind EdgeKind `json:"kind"`
}

// Graph is the dependency/mutation graph of one program model and its
// invariants. It is immutable after Build.
type Graph struct {
	model ir.ProgramModel

	// invariant name → sorted qualified identifiers it reads
	reads map[string][]string
	// operation name → sorted qualified identifiers it writes directly
	mutates map[string][]string
	// operation name → sorted callee names
	calls map[string][]string
	// qualified identifiers declared as model state
	state map[string]bool
}

// Build constructs the graph. Operation names must be unique, and so must
// invariant names. Calls to operations the model does not declare are kept
// as edges to external nodes; they contribute no mutations.
func Build(model ir.ProgramModel, invariants []*typecheck.Invariant) (*Graph, error) {
	g := &Graph{
		model:   model,
		reads:   make(map[string][]string, len(invariants)),
		mutates: make(map[string][]string, len(model.Operations)),
		calls:   make(map[string][]string, len(model.Operations)),
		state:   make(map[string]bool, len(model.State)),
	}
	for _, s := range model.State {
		g.state[ir.Qualify(s.Layer, s.Name)] = true
	}
	for _, op := range model.Operations {
		if op.Name == "" {
			return nil, ir.Errorf(ir.ErrMalformedAST, "model %s: operation with no name", model.Name)
		}
		if _, dup := g.mutates[op.Name]; dup {
			return nil, ir.Errorf(ir.ErrMalformedAST, "model %s: duplicate operation %q", model.Name, op.Name)
		}
		g.mutates[op.Name] = qualifiedSorted(op.Mutates)
		callees := slices.Clone(op.Calls)
		slices.Sort(callees)
		g.calls[op.Name] = slices.Compact(callees)
	}
	for _, inv := range invariants {
		if _, dup := g.reads[inv.Name()]; dup {
			return nil, ir.Errorf(ir.ErrMalformedAST, "duplicate invariant %q", inv.Name())
		}
		ids := ir.Identifiers(inv.Decl.Expr)
		if ids == nil {
			ids = []string{}
		}
		g.reads[inv.Name()] = ids
	}
	return g, nil
}

func qualifiedSorted(refs []ir.VarRef) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.Qualified())
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Invariants returns the invariant names in sorted order.
func (g *Graph) Invariants() []string {
	return slices.Sorted(maps.Keys(g.reads))
}

// Operations returns the operation names in sorted order.
func (g *Graph) Operations() []string {
	return slices.Sorted(maps.Keys(g.mutates))
}

// Dependencies returns the sorted set of state identifiers an invariant
// reads, including reads inside phase constraints and cross-phase
// comparisons.
func (g *Graph) Dependencies(invariant string) ([]string, error) {
	ids, ok := g.reads[invariant]
	if !ok {
		return nil, ir.Errorf(ir.ErrUndeclaredIdentifier, "unknown invariant %q", invariant)
	}
	return slices.Clone(ids), nil
}

// Undeclared returns the identifiers read by some invariant that are
// declared neither in env nor as model state. A nil env checks against
// model state only.
func (g *Graph) Undeclared(env *typecheck.Env) []string {
	var out []string
	for _, ids := range g.reads {
		for _, id := range ids {
			if g.state[id] || (env != nil && env.Has(id)) {
				continue
			}
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Nodes returns every node: state identifiers, invariants and operations,
// sorted.
func (g *Graph) Nodes() []string {
	set := make(map[string]bool)
	for id := range g.state {
		set[id] = true
	}
	for inv, ids := range g.reads {
		set[inv] = true
		for _, id := range ids {
			set[id] = true
		}
	}
	for op, ids := range g.mutates {
		set[op] = true
		for _, id := range ids {
			set[id] = true
		}
		for _, callee := range g.calls[op] {
			set[callee] = true
		}
	}
	return slices.Sorted(maps.Keys(set))
}

// Edges returns every edge sorted by source, kind, then target.
func (g *Graph) Edges() []Edge {
	var out []Edge
	for inv, ids := range g.reads {
		for _, id := range ids {
			out = append(out, Edge{From: inv, To: id, Kind: EdgeReads})
		}
	}
	for op, ids := range g.mutates {
		for _, id := range ids {
			out = append(out, Edge{From: op, To: id, Kind: EdgeMutates})
		}
		for _, callee := range g.calls[op] {
			out = append(out, Edge{From: op, To: callee, Kind: EdgeCalls})
		}
	}
	slices.SortFunc(out, func(a, b Edge) int {
		if a.From != b.From {
			return strings.Compare(a.From, b.From)
		}
		if a.Kind != b.Kind {
			return strings.Compare(string(a.Kind), string(b.Kind))
		}
		return strings.Compare(a.To, b.To)
	})
	return out
}

// Mutation is one "operation writes layer::var" fact. Via is the call
// chain from Operation to the operation that performs the write; it is
// empty for direct writes.
type Mutation struct {
	Operation string   `json:"operation"`
	Var       string   `json:"var"`
	Via       []string `json:"via,omitempty"`
}

// Direct reports whether the operation writes the variable itself.
func (m Mutation) Direct() bool { return len(m.Via) == 0 }

// String renders "operation → layer::var".
func (m Mutation) String() string {
	return fmt.Sprintf("%s → %s", m.Operation, m.Var)
}

// Mutations returns every mutation fact, transitive over the call graph,
// sorted by operation then variable. When a variable is reachable through
// several call chains the shortest (then lexicographically first) is
// reported. Recursive call chains terminate.
func (g *Graph) Mutations() []Mutation {
	var out []Mutation
	for _, op := range g.Operations() {
		out = append(out, g.reachableWrites(op)...)
	}
	return out
}

// reachableWrites walks the call graph breadth-first from op so the first
// chain found for each variable is the shortest.
func (g *Graph) reachableWrites(op string) []Mutation {
	type item struct {
		name string
		via  []string
	}
	seen := map[string]bool{op: true}
	found := make(map[string]Mutation)
	queue := []item{{name: op}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, v := range g.mutates[cur.name] {
			if _, ok := found[v]; !ok {
				found[v] = Mutation{Operation: op, Var: v, Via: cur.via}
			}
		}
		for _, callee := range g.calls[cur.name] {
			if seen[callee] {
				continue
			}
			seen[callee] = true
			via := append(slices.Clone(cur.via), callee)
			queue = append(queue, item{name: callee, via: via})
		}
	}
	out := make([]Mutation, 0, len(found))
	for _, v := range slices.Sorted(maps.Keys(found)) {
		out = append(out, found[v])
	}
	return out
}

// Fact is a mutation together with the invariants whose dependency set
// contains the mutated variable.
type Fact struct {
	Mutation
	CoveredBy []string `json:"covered_by"`
}

// Covered reports whether at least one invariant reads the variable.
func (f Fact) Covered() bool { return len(f.CoveredBy) > 0 }

// Coverage is the result of matching mutations against invariant reads.
type Coverage struct {
	Facts     []Fact `json:"facts"`
	Uncovered []Fact `json:"uncovered"`
}

// Ratio returns the covered fraction of facts in [0,1]; 1 when there are none.
func (c Coverage) Ratio() float64 {
	if len(c.Facts) == 0 {
		return 1
	}
	return float64(len(c.Facts)-len(c.Uncovered)) / float64(len(c.Facts))
}

// Coverage matches every mutation fact against the invariants that read
// the mutated variable. Uncovered facts are listed, never dropped.
func (g *Graph) Coverage() Coverage {
	readers := make(map[string][]string)
	for _, inv := range g.Invariants() {
		for _, id := range g.reads[inv] {
			readers[id] = append(readers[id], inv)
		}
	}
	c := Coverage{Facts: []Fact{}, Uncovered: []Fact{}}
	for _, m := range g.Mutations() {
		f := Fact{Mutation: m, CoveredBy: slices.Clone(readers[m.Var])}
		if f.CoveredBy == nil {
			f.CoveredBy = []string{}
		}
		c.Facts = append(c.Facts, f)
		if !f.Covered() {
			c.Uncovered = append(c.Uncovered, f)
		}
	}
	return c
}
