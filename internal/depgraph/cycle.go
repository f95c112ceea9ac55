package depgraph

import (
	"fmt"
	"slices"
	"strings"
)

// CycleWarning reports recursion in the program's call graph.
//
// Recursion is a warning, not an error: mutation facts are still computed
// (the walk terminates), but a recursive path can repeat writes an
// invariant only checks once.
type CycleWarning struct {
	Path    []string `json:"path"`    // ["a", "b", "a"]
	Message string   `json:"message"` // human-readable description
	Level   string   `json:"level"`   // "warning"
}

// Model returns the name of the program model the graph was built from.
func (g *Graph) Model() string { return g.model.Name }

// CallCycles finds recursive call chains with Tarjan's strongly connected
// components algorithm. Every component of more than one operation, and
// every operation that calls itself, yields one warning. Output is sorted
// by path; each path starts at the smallest operation name of its cycle.
func (g *Graph) CallCycles() []CycleWarning {
	warnings := []CycleWarning{}
	for _, scc := range tarjanSCC(g.calls) {
		if len(scc) > 1 || hasSelfLoop(scc[0], g.calls) {
			warnings = append(warnings, cycleWarning(scc, g.calls))
		}
	}
	slices.SortFunc(warnings, func(a, b CycleWarning) int {
		return slices.Compare(a.Path, b.Path)
	})
	return warnings
}

func hasSelfLoop(node string, graph map[string][]string) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC returns the strongly connected components of graph. Nodes and
// successors are visited in sorted order so the result is reproducible.
func tarjanSCC(graph map[string][]string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for n := range graph {
		nodes = append(nodes, n)
	}
	slices.Sort(nodes)
	for _, n := range nodes {
		if _, visited := indices[n]; !visited {
			strongConnect(n)
		}
	}
	return sccs
}

func cycleWarning(scc []string, graph map[string][]string) CycleWarning {
	if len(scc) == 1 {
		op := scc[0]
		return CycleWarning{
			Path:    []string{op, op},
			Message: fmt.Sprintf("operation calls itself: %s → %s", op, op),
			Level:   "warning",
		}
	}
	path := cyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: "recursive call chain: " + strings.Join(path, " → "),
		Level:   "warning",
	}
}

// cyclePath walks edges inside the component from its smallest member
// until it returns there.
func cyclePath(scc []string, graph map[string][]string) []string {
	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}
	start := slices.Min(scc)
	path := []string{start}
	visited := map[string]bool{}
	current := start
	for {
		visited[current] = true
		next := ""
		for _, w := range graph[current] {
			if members[w] && (!visited[w] || w == start) {
				next = w
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}
